package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestServeRegistersMetrics(t *testing.T) {
	srv := Serve(":0")
	defer srv.Close()

	ProposalsTotal.WithLabelValues("EUR/USD", OutcomePublished).Inc()
	ObserveTick("producer", time.Now())

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	want := map[string]bool{"structsig_proposals_total": false, "structsig_tick_duration_seconds": false}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("%s metric not found", name)
		}
	}
}

func TestTransitionsCounter(t *testing.T) {
	before := testutil.ToFloat64(TransitionsTotal.WithLabelValues("TP_HIT"))
	TransitionsTotal.WithLabelValues("TP_HIT").Inc()
	if got := testutil.ToFloat64(TransitionsTotal.WithLabelValues("TP_HIT")); got != before+1 {
		t.Fatalf("counter = %v, want %v", got, before+1)
	}
}
