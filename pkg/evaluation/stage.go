package evaluation

import (
	"time"

	"github.com/featurehub-ai/platform/pkg/common/logger"
	"github.com/sirupsen/logrus"
)

type Stage string

const (
	StageIdle              Stage = "idle"
	StageDatasetReady      Stage = "dataset_ready"
	StageFeaturesExtracted Stage = "features_extracted"
	StageIntegrityVerified Stage = "integrity_verified"
	StageValidated         Stage = "validated"
	StageMatrixBuilt       Stage = "matrix_built"
	StageMetricsComputed   Stage = "metrics_computed"
	StageDone              Stage = "done"
	StageRejected          Stage = "rejected"
)

// Terminal reports whether no transition leaves s.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageRejected
}

// StageEvent is emitted on every transition of an evaluation. Status is set
// only on the transition into a terminal stage.
type StageEvent struct {
	Evaluation string
	Problem    string
	User       string
	Mode       string
	From       Stage
	To         Stage
	Elapsed    time.Duration
	Status     StatusCode
	Err        error
}

type Observer interface {
	Observe(StageEvent)
}

type ObserverFunc func(StageEvent)

func (f ObserverFunc) Observe(e StageEvent) { f(e) }

// LogObserver writes each transition to the service logger.
type LogObserver struct{}

func (LogObserver) Observe(e StageEvent) {
	entry := logger.WithSubmission(e.Evaluation, e.Problem, e.User).WithFields(logrus.Fields{
		"mode":       e.Mode,
		"from":       e.From,
		"to":         e.To,
		"elapsed_ms": e.Elapsed.Milliseconds(),
	})
	if e.Status != "" {
		entry = entry.WithField("status", e.Status)
	}
	switch {
	case e.Status == StatusServerError || e.Status == StatusDBError:
		entry.WithError(e.Err).Error("evaluation failed")
	case e.Err != nil:
		entry.WithError(e.Err).Info("evaluation rejected")
	case e.To.Terminal():
		entry.Info("evaluation finished")
	default:
		entry.Debug("evaluation stage complete")
	}
}
