package priority

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func TestMetrics_Hooks(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := m.Hooks()

	h.OnFetch("mail", 3, 0.2, false)
	h.OnFetch("crm", 0, 1.5, true)
	h.OnNormalizationError(SourceTask)
	h.OnUpsert(UpsertCreated)
	h.OnUpsert(UpsertCreated)
	h.OnTransition(EventSurface, StatusSurfaced)
	h.OnRuleError(ReasonDeadlinePassed)
	h.OnEffect(VisibilityShown, true)
	h.OnCycle(&CycleReport{Duration: 2 * time.Second, Surfaced: 3}, nil)
	h.OnCycle(nil, errors.New("db down"))
	m.ServiceHooks().OnCreate(CreateExisting)

	tests := []struct {
		name string
		c    prometheus.Counter
		want float64
	}{
		{"fetch ok", m.AdapterFetchTotal.WithLabelValues("mail", "success"), 1},
		{"fetch error", m.AdapterFetchTotal.WithLabelValues("crm", "error"), 1},
		{"normalization", m.NormalizationErrors.WithLabelValues("task"), 1},
		{"upserts", m.UpsertsTotal.WithLabelValues("created"), 2},
		{"transitions", m.TransitionsTotal.WithLabelValues("surface", "surfaced"), 1},
		{"rule errors", m.RuleErrorsTotal.WithLabelValues("deadline_passed"), 1},
		{"effects", m.EffectsTotal.WithLabelValues("shown", "error"), 1},
		{"cycles ok", m.CyclesTotal.WithLabelValues("success"), 1},
		{"cycles failed", m.CyclesTotal.WithLabelValues("error"), 1},
		{"creates", m.CreatesTotal.WithLabelValues("existing"), 1},
	}
	for _, tt := range tests {
		if got := counterValue(t, tt.c); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != "surfacer_cycle_duration_seconds" {
			continue
		}
		if n := f.GetMetric()[0].GetHistogram().GetSampleCount(); n != 1 {
			t.Errorf("cycle duration samples = %d, want 1", n)
		}
	}
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewMetrics(reg)
}
