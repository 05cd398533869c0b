package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"floor-sync/internal/broker"
	"floor-sync/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct{ values []float64 }

func (o *recordingObserver) Observe(v float64) { o.values = append(o.values, v) }

type feed struct {
	messages []kafka.Message
	closed   bool
}

func (f *feed) StartConsuming(ctx context.Context, handler broker.MessageHandler) error {
	for _, msg := range f.messages {
		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (f *feed) Close() error {
	f.closed = true
	return nil
}

var created = time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)

func message(t *testing.T, eventType string, payload interface{}) kafka.Message {
	env, err := models.NewEnvelope(1, eventType, payload)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return kafka.Message{Key: []byte("restaurant-1"), Value: raw}
}

func newTestWorker(source MessageSource) (*AnalyticsWorker, *recordingObserver, *recordingObserver, *recordingObserver) {
	w := NewAnalyticsWorker(source)
	response, resolution, ready := &recordingObserver{}, &recordingObserver{}, &recordingObserver{}
	w.response, w.resolution, w.readyLatency = response, resolution, ready
	return w, response, resolution, ready
}

func TestAnalyticsWorker_RecordsLatencies(t *testing.T) {
	preparing := models.OrderStatusPreparing
	source := &feed{messages: []kafka.Message{
		message(t, models.EventTypeOrderUpdated, models.OrderUpdatedEvent{
			OrderID: 1, OldStatus: &preparing, Status: models.OrderStatusReady,
			Timestamp: created.Add(12 * time.Minute), CreatedAt: created,
		}),
		message(t, models.EventTypeOrderUpdated, models.OrderUpdatedEvent{
			OrderID: 1, Status: models.OrderStatusServed,
			Timestamp: created.Add(15 * time.Minute), CreatedAt: created,
		}),
		message(t, models.EventTypeWaiterCallAcknowledged, models.WaiterCallAcknowledgedEvent{
			CallID: 3, AcknowledgedAt: created.Add(40 * time.Second), CreatedAt: created,
		}),
		message(t, models.EventTypeWaiterCallResolved, models.WaiterCallResolvedEvent{
			CallID: 3, AcknowledgedAt: created.Add(40 * time.Second), ResolvedAt: created.Add(3 * time.Minute), CreatedAt: created,
		}),
		message(t, models.EventTypeOrderNew, models.OrderNewEvent{OrderID: 2}),
	}}
	w, response, resolution, ready := newTestWorker(source)

	require.NoError(t, w.Start(context.Background()))

	assert.Equal(t, []float64{720}, ready.values)
	assert.Equal(t, []float64{40}, response.values)
	assert.Equal(t, []float64{180}, resolution.values)

	require.NoError(t, w.Stop())
	assert.True(t, source.closed)
}

func TestAnalyticsWorker_ResolvedFromPending(t *testing.T) {
	at := created.Add(90 * time.Second)
	source := &feed{messages: []kafka.Message{
		message(t, models.EventTypeWaiterCallResolved, models.WaiterCallResolvedEvent{
			CallID: 4, AcknowledgedAt: at, ResolvedAt: at, CreatedAt: created,
		}),
	}}
	w, response, resolution, _ := newTestWorker(source)

	require.NoError(t, w.Start(context.Background()))

	assert.Equal(t, []float64{90}, response.values)
	assert.Equal(t, []float64{90}, resolution.values)
}

func TestAnalyticsWorker_MalformedMessage(t *testing.T) {
	source := &feed{messages: []kafka.Message{{Value: []byte("{not json")}}}
	w, _, _, ready := newTestWorker(source)

	assert.Error(t, w.Start(context.Background()))
	assert.Empty(t, ready.values)
}
