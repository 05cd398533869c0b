package worker

import (
	"context"

	"floor-sync/internal/broker"
	"floor-sync/internal/models"
	"floor-sync/internal/util"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// MessageSource is the feed the worker reads from
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// AnalyticsWorker consumes the floor event feed and records service latencies
type AnalyticsWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	response     prometheus.Observer
	resolution   prometheus.Observer
	readyLatency prometheus.Observer
	logger       *zap.Logger
}

// NewAnalyticsWorker creates a new analytics worker
func NewAnalyticsWorker(consumer MessageSource) *AnalyticsWorker {
	w := &AnalyticsWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		response:     util.WaiterResponseSeconds,
		resolution:   util.WaiterResolutionSeconds,
		readyLatency: util.OrderReadyLatencySeconds,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnOrderUpdated(w.handleOrderUpdated)
	w.eventHandler.OnCallAcknowledged(w.handleCallAcknowledged)
	w.eventHandler.OnCallResolved(w.handleCallResolved)

	return w
}

// Start starts the worker
func (w *AnalyticsWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting analytics worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *AnalyticsWorker) Stop() error {
	w.logger.Info("Stopping analytics worker")
	return w.consumer.Close()
}

func (w *AnalyticsWorker) handleOrderUpdated(_ context.Context, env *models.Envelope, event *models.OrderUpdatedEvent) error {
	if event.Status != models.OrderStatusReady || event.CreatedAt.IsZero() {
		return nil
	}

	latency := event.Timestamp.Sub(event.CreatedAt)
	if latency < 0 {
		w.logger.Warn("Order ready before creation, skipping",
			zap.Int64("order_id", event.OrderID),
			zap.String("event_id", env.EventID))
		return nil
	}
	w.readyLatency.Observe(latency.Seconds())
	return nil
}

func (w *AnalyticsWorker) handleCallAcknowledged(_ context.Context, _ *models.Envelope, event *models.WaiterCallAcknowledgedEvent) error {
	w.response.Observe(event.AcknowledgedAt.Sub(event.CreatedAt).Seconds())
	return nil
}

// handleCallResolved records resolution time. A call resolved straight from pending
// never produced an acknowledged event, so its response time is recorded here.
func (w *AnalyticsWorker) handleCallResolved(_ context.Context, _ *models.Envelope, event *models.WaiterCallResolvedEvent) error {
	if event.AcknowledgedAt.Equal(event.ResolvedAt) {
		w.response.Observe(event.AcknowledgedAt.Sub(event.CreatedAt).Seconds())
	}
	w.resolution.Observe(event.ResolvedAt.Sub(event.CreatedAt).Seconds())
	return nil
}
