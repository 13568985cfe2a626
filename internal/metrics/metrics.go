package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "auction"

var (
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "transitions_total", Help: "Applied auction state changes by kind."},
		[]string{"kind"},
	)
	CloseConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "close_conflicts_total", Help: "Conditional writes that lost to a concurrent writer."},
	)
	SweepTicks = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "sweep_ticks_total", Help: "Completed sweeper ticks."},
	)
	SweepErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "sweep_errors_total", Help: "Per-auction evaluations that failed during a sweep."},
	)
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: namespace, Name: "sweep_duration_seconds", Help: "Wall time of one sweeper tick.", Buckets: prometheus.DefBuckets},
	)
	BidsPlaced = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "bids_placed_total", Help: "Bids accepted by ingestion."},
	)
	BidsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "bids_rejected_total", Help: "Bids rejected by ingestion by reason."},
		[]string{"reason"},
	)
	NotificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notification_failures_total", Help: "Events that could not be delivered by sink."},
		[]string{"sink"},
	)
	RateLimitRejected = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejected_total", Help: "Requests rejected by the bid rate limiter."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(Transitions)
	reg.MustRegister(CloseConflicts)
	reg.MustRegister(SweepTicks)
	reg.MustRegister(SweepErrors)
	reg.MustRegister(SweepDuration)
	reg.MustRegister(BidsPlaced)
	reg.MustRegister(BidsRejected)
	reg.MustRegister(NotificationFailures)
	reg.MustRegister(RateLimitRejected)
}
