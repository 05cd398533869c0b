package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TableTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "table_transitions_total",
		Help: "Total number of table status transitions",
	}, []string{"from", "to"})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of order status transitions",
	}, []string{"status"})

	WaiterCallsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waiter_calls_created_total",
		Help: "Total number of waiter calls raised",
	}, []string{"type"})

	TransitionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transitions_rejected_total",
		Help: "Total number of rejected state transitions",
	}, []string{"entity", "reason"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "floor_events_published_total",
		Help: "Total number of floor events published",
	}, []string{"event_type"})

	EventFanoutFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "floor_event_fanout_fallback_total",
		Help: "Events delivered to local sessions only because cross-instance fan-out failed",
	})

	ConnectedSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_connected_sessions",
		Help: "Number of terminal sessions currently connected",
	})

	WaiterResponseSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "waiter_call_response_seconds",
		Help:    "Time from a waiter call being raised to its acknowledgement",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
	})

	WaiterResolutionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "waiter_call_resolution_seconds",
		Help:    "Time from a waiter call being raised to its resolution",
		Buckets: []float64{15, 60, 120, 300, 600, 1200},
	})

	OrderReadyLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_ready_latency_seconds",
		Help:    "Time from an order being placed to it becoming ready",
		Buckets: []float64{60, 300, 600, 900, 1200, 1800, 3600},
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
