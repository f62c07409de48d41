package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/featurehub-ai/platform/pkg/common/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

type sliceReader struct {
	messages  []kafka.Message
	committed int
}

func (r *sliceReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.messages) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.messages[0]
	r.messages = r.messages[1:]
	return m, nil
}

func (r *sliceReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed += len(msgs)
	return nil
}

func (r *sliceReader) Close() error { return nil }

func sampleFeature() models.RegisteredFeature {
	v := 0.75
	return models.RegisteredFeature{
		FeatureID:   7,
		ProblemID:   2,
		ProblemName: "airbnb",
		UserName:    "ada_l",
		Description: "age bucket",
		Code:        "def f(dataset):\n    return [0]\n",
		MD5:         "abc",
		Metrics: []models.MetricEntry{
			{Name: "Accuracy", Scoring: "accuracy", Value: &v},
			{Name: "ROC AUC", Scoring: "roc_auc", Value: nil},
		},
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPublishFeatureRegisteredRoundTrip(t *testing.T) {
	w := &recordingWriter{}
	p := &Producer{writer: w, topic: "features"}

	require.NoError(t, p.PublishFeatureRegistered(context.Background(), sampleFeature()))
	require.Len(t, w.messages, 1)

	var event models.Event
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &event))
	assert.Equal(t, models.EventFeatureRegistered, event.Type)
	assert.Equal(t, event.ID, string(w.messages[0].Key))

	decoded, err := DecodeRegisteredFeature(event)
	require.NoError(t, err)
	assert.Equal(t, sampleFeature(), decoded)
}

func TestDecodeRejectsOtherEventTypes(t *testing.T) {
	_, err := DecodeRegisteredFeature(models.Event{Type: models.EventEvaluationAttempted})
	assert.Error(t, err)
}

func TestConsumerCommitsHandledAndMalformedMessages(t *testing.T) {
	good, err := encodeEvent(models.Event{ID: "1", Type: models.EventFeatureRegistered, Data: map[string]interface{}{}})
	require.NoError(t, err)
	reader := &sliceReader{messages: []kafka.Message{{Value: []byte("{not json")}, good}}
	c := &Consumer{reader: reader}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []string
	err = c.Consume(ctx, func(_ context.Context, event models.Event) error {
		seen = append(seen, event.ID)
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"1"}, seen)
	assert.Equal(t, 2, reader.committed)
}
