package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/featurehub-ai/platform/pkg/common/logger"
	"github.com/featurehub-ai/platform/pkg/evaluation"
	"github.com/featurehub-ai/platform/pkg/gateway/auth"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// statusRecorder captures the HTTP status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		// Ensure a request ID exists
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}

		r.Header.Set("X-Request-ID", reqID)
		w.Header().Set("X-Request-ID", reqID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.Log.WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"remote_addr": r.RemoteAddr,
			"request_id":  reqID,
			"status":      rec.status,
			"duration":    time.Since(start).Milliseconds(),
		}).Info("HTTP request")
	})
}

// Recovery turns a panic into a server_error response so clients always
// get a parseable body.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Log.WithField("error", err).Error("Panic recovered")
				WriteResponse(w, evaluation.Failure(evaluation.StatusServerError, ""))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// Authenticate resolves the caller and stores it on the request context.
// Unauthenticated requests get a bad_auth response with HTTP 200, which is
// how the evaluation protocol reports every outcome.
func Authenticate(a auth.Authenticator, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := auth.Authenticate(r, a, cookieName)
			if err != nil {
				if !errors.Is(err, auth.ErrUnauthenticated) {
					logger.Log.WithError(err).Warn("Authentication backend failed")
				}
				logger.Log.WithField("path", r.URL.Path).Info("User NOT authenticated")
				WriteResponse(w, evaluation.Failure(evaluation.StatusBadAuth, ""))
				return
			}
			logger.Log.WithField("user", user.Name).Debug("User authenticated")
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
		})
	}
}

// RateLimit is a per-process token bucket.
func RateLimit(rps int, burst int) func(http.Handler) http.Handler {
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rps > 0 && !limiter.Allow() {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORS middleware (allow basic dev flows)
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// WriteResponse writes an evaluation response in its canonical form with
// HTTP 200.
func WriteResponse(w http.ResponseWriter, resp evaluation.Response) {
	body, err := resp.Marshal()
	if err != nil {
		logger.Log.WithError(err).Error("Failed to encode evaluation response")
		body, _ = evaluation.Failure(evaluation.StatusServerError, "").Marshal()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
