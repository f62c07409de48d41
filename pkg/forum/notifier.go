package forum

import (
	"context"

	"github.com/featurehub-ai/platform/pkg/common/kafka"
	"github.com/featurehub-ai/platform/pkg/common/logger"
	"github.com/featurehub-ai/platform/pkg/common/models"
)

type Poster interface {
	PostFeature(ctx context.Context, feature models.RegisteredFeature) (string, error)
}

// Notifier posts features announced on the event bus. It is the consumer
// side of asynchronous forum posting.
type Notifier struct {
	Poster      Poster
	DemoProblem string
}

// HandleEvent is a kafka.EventHandler. Events of other types and demo
// problem features are acknowledged without posting; a failed post is
// returned so the message is redelivered.
func (n *Notifier) HandleEvent(ctx context.Context, event models.Event) error {
	if event.Type != models.EventFeatureRegistered {
		return nil
	}
	feature, err := kafka.DecodeRegisteredFeature(event)
	if err != nil {
		logger.WithField("event_id", event.ID).WithError(err).Warn("Dropping malformed feature event")
		return nil
	}
	if feature.ProblemName == n.DemoProblem {
		return nil
	}
	_, err = n.Poster.PostFeature(ctx, feature)
	return err
}
