// Package metrics exposes prometheus collectors for the signal workers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	VerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "structsig_verdicts_total", Help: "Structure verdicts by resulting state"},
		[]string{"instrument", "state"},
	)
	ProposalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "structsig_proposals_total", Help: "Producer outcomes per instrument"},
		[]string{"instrument", "outcome"},
	)
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "structsig_transitions_total", Help: "Applied lifecycle transitions by target state"},
		[]string{"to"},
	)
	RacesLostTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "structsig_races_lost_total", Help: "Conditional writes that found the row already moved"},
		[]string{"to"},
	)
	FeedErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "structsig_feed_errors_total", Help: "Feed failures by kind"},
		[]string{"instrument", "kind"},
	)
	NotifyErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "structsig_notify_errors_total", Help: "Notification failures by kind"},
		[]string{"kind"},
	)
	TickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "structsig_tick_duration_seconds",
			Help:    "Worker tick latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"worker"},
	)
)

// Proposal outcomes.
const (
	OutcomePublished      = "published"
	OutcomeAnnounceFailed = "announce_failed"
	OutcomeRaceLost       = "race_lost"
	OutcomeBelowGate      = "below_gate"
	OutcomeNonDirectional = "non_directional"
	OutcomeInvalidEntry   = "invalid_entry"
	OutcomePlanError      = "plan_error"
	OutcomeFeedError      = "feed_error"
)

func init() {
	prometheus.MustRegister(
		VerdictsTotal,
		ProposalsTotal,
		TransitionsTotal,
		RacesLostTotal,
		FeedErrorsTotal,
		NotifyErrorsTotal,
		TickDuration,
	)
}

// ObserveTick records the duration of a worker tick started at start.
func ObserveTick(worker string, start time.Time) {
	TickDuration.WithLabelValues(worker).Observe(time.Since(start).Seconds())
}

// Serve starts the /metrics endpoint in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
