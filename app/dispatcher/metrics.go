package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "peyk_messages_total",
		Help: "Send attempts by outcome",
	}, []string{"outcome"})

	sendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "peyk_send_duration_seconds",
		Help:    "Latency of single channel send calls",
		Buckets: prometheus.DefBuckets,
	})

	cooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "peyk_batch_cooldowns_total",
		Help: "Batch cooldown pauses taken",
	})

	quotaPausesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "peyk_quota_pauses_total",
		Help: "Campaigns auto-paused on daily quota exhaustion",
	})

	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "peyk_active_campaigns",
		Help: "Live dispatch runs",
	})
)
