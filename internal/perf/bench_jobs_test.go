package perf

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	jobmetrics "github.com/atelier-ops/atelier/internal/jobs"
)

func TestRecalculateJobReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	for i := 0; i < 40; i++ {
		if err := metrics.Track("quote.recalculate").End(nil); err != nil {
			t.Fatalf("unexpected error ending tracker: %v", err)
		}
	}
	conflict := errors.New("version conflict")
	for i := 0; i < 2; i++ {
		if err := metrics.Track("quote.recalculate").End(conflict); !errors.Is(err, conflict) {
			t.Fatalf("tracker must return the job error, got %v", err)
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var runs, failures float64
	for _, mf := range families {
		if mf.GetName() != "atelier_jobs_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			v := m.GetCounter().GetValue()
			runs += v
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "outcome" && lp.GetValue() != jobmetrics.OutcomeSuccess {
					failures += v
				}
			}
		}
	}
	if runs != 42 {
		t.Fatalf("expected 42 runs, got %v", runs)
	}
	if rate := failures / runs; rate > 0.05 {
		t.Fatalf("failure rate %.3f above 5%% budget", rate)
	}
}
