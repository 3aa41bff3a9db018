// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChatStreams counts finished chat sends by outcome (ok, failed, canceled).
	ChatStreams = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tavern_chat_streams_total",
			Help: "Total number of chat streams by outcome.",
		},
		[]string{"outcome"},
	)

	StreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tavern_chat_stream_duration_seconds",
		Help:    "Time from upstream request to final assistant message.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	RPGEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tavern_rpg_events_total",
			Help: "Total number of RPG events applied by kind.",
		},
		[]string{"kind"},
	)

	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tavern_upstream_errors_total",
			Help: "Total number of failed upstream completion calls by category.",
		},
		[]string{"category"},
	)

	DiceRolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tavern_manual_dice_rolls_total",
		Help: "Total number of dice rolled manually by users.",
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
