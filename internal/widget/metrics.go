package widget

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sitechat",
			Name:      "chat_turns_total",
			Help:      "Total widget chat turns by outcome",
		},
		[]string{"outcome"},
	)

	turnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sitechat",
			Name:      "chat_turn_duration_seconds",
			Help:      "End-to-end duration of widget chat turns in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		},
	)

	turnRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sitechat",
			Name:      "chat_turn_rejections_total",
			Help:      "Widget chat turns rejected before retrieval",
		},
		[]string{"code"},
	)

	emailCapturesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sitechat",
			Name:      "email_captures_total",
			Help:      "Emails left on unanswered questions",
		},
	)
)
