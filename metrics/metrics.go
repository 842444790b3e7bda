// Package metrics holds the Prometheus collectors shared by the price and alert services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "price_alert"

var (
	// TicksTotal counts stream messages by result: accepted, dropped, malformed.
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_ticks_total",
		Help:      "Trade stream messages by ingestion result.",
	}, []string{"result"})

	// StreamReconnects counts reconnect attempts of the trade stream.
	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_reconnects_total",
		Help:      "Trade stream reconnect attempts.",
	})

	// FallbackFetches counts REST fallback fetches by result: success, failure.
	FallbackFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fallback_fetches_total",
		Help:      "Cache-miss fallback fetches against the ticker endpoint.",
	}, []string{"result"})

	// Notifications counts outbound notifications by channel and result.
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Outbound notifications by channel and result.",
	}, []string{"channel", "result"})

	// Evaluations counts alert evaluation runs by outcome.
	Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alert_evaluations_total",
		Help:      "Alert evaluation runs by outcome.",
	}, []string{"outcome"})

	// ActiveAlerts is the number of alerts with a live schedule.
	ActiveAlerts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_alerts",
		Help:      "Alerts currently scheduled for evaluation.",
	})
)

// Result label values
const (
	ResultAccepted  = "accepted"
	ResultDropped   = "dropped"
	ResultMalformed = "malformed"
	ResultSuccess   = "success"
	ResultFailure   = "failure"
)
