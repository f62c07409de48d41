package metrics

import (
	"errors"
	"net/http"

	"github.com/featurehub-ai/platform/pkg/evaluation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every featurehub collector. It is separate from the
// default registry so tests can build their own.
type Registry struct {
	reg         *prometheus.Registry
	evaluations *prometheus.CounterVec
	stages      *prometheus.HistogramVec
	faults      *prometheus.CounterVec
	requests    *prometheus.CounterVec
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Registry{
		reg: reg,
		evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "featurehub",
			Subsystem: "evaluation",
			Name:      "finished_total",
			Help:      "Evaluations that reached a terminal stage, by mode and status.",
		}, []string{"mode", "status"}),
		stages: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "featurehub",
			Subsystem: "evaluation",
			Name:      "stage_duration_seconds",
			Help:      "Time spent reaching each evaluation stage.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 9),
		}, []string{"mode", "stage"}),
		faults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "featurehub",
			Subsystem: "executor",
			Name:      "faults_total",
			Help:      "Feature executions that ended in a fault, by kind.",
		}, []string{"kind"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "featurehub",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by route and protocol status.",
		}, []string{"route", "status"}),
	}
}

// Observe records one stage transition.
func (r *Registry) Observe(e evaluation.StageEvent) {
	r.stages.WithLabelValues(e.Mode, string(e.To)).Observe(e.Elapsed.Seconds())
	if !e.To.Terminal() {
		return
	}
	r.evaluations.WithLabelValues(e.Mode, string(e.Status)).Inc()
	var featureErr *evaluation.FeatureError
	if errors.As(e.Err, &featureErr) && featureErr.Fault != nil {
		r.faults.WithLabelValues(string(featureErr.Fault.Kind)).Inc()
	}
}

// ObserveRequest counts one protocol response.
func (r *Registry) ObserveRequest(route string, status evaluation.StatusCode) {
	r.requests.WithLabelValues(route, string(status)).Inc()
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
