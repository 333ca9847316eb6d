package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendsync_actions_total",
		Help: "Attendance actions by kind and settled outcome",
	}, []string{"action", "outcome"})

	ActionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "attendsync_action_duration_seconds",
		Help:    "Wall time from mutation start to settle",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	FlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendsync_flushes_total",
		Help: "Mirror write transactions by result",
	}, []string{"result"})

	MirrorConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendsync_mirror_conflicts_total",
		Help: "Optimistic transaction attempts that lost a version race",
	})

	PendingWrites = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "attendsync_pending_writes",
		Help: "Users with a buffered mirror write",
	})
)
