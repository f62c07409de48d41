package routes

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/featurehub-ai/platform/pkg/common/logger"
	"github.com/featurehub-ai/platform/pkg/observability/metrics"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type MetricsHandler struct {
	db       *gorm.DB
	registry *metrics.Registry
}

type HealthStatus struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Checked  string `json:"checked"`
}

func NewMetricsHandler(db *gorm.DB, registry *metrics.Registry) *MetricsHandler {
	return &MetricsHandler{db: db, registry: registry}
}

// Register mounts the unauthenticated operational endpoints.
func (h *MetricsHandler) Register(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	if h.registry != nil {
		r.Handle("/metrics", h.registry.Handler()).Methods(http.MethodGet)
	}
}

func (h *MetricsHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{Status: "healthy", Database: "ok", Checked: time.Now().UTC().Format(time.RFC3339)}
	code := http.StatusOK
	if err := h.ping(r); err != nil {
		logger.Log.WithError(err).Warn("health check: database unreachable")
		status.Status, status.Database = "degraded", err.Error()
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, status)
}

func (h *MetricsHandler) ping(r *http.Request) error {
	if h.db == nil {
		return nil
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(r.Context())
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Log.WithError(err).Error("failed to write json response")
	}
}

func parseLimit(val string) (int, error) {
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, err
	}
	if n <= 0 || n > 500 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
