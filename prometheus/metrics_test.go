package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := New(reg)

	metrics.AddEnqueued(3)
	metrics.AddDuplicates(1)
	metrics.AddSealed(2)
	metrics.AddRendered(2)
	metrics.AddRenderFailures(1)
	metrics.AddPeeked(4)
	metrics.AddDequeued(4)
	metrics.SetOpenBundles(7)
	metrics.SetReadyBundles(5)
	metrics.ObservePassDuration(50 * time.Millisecond)

	cases := map[string]float64{
		"bundling_enqueued_total":        3,
		"bundling_duplicates_total":      1,
		"bundling_sealed_total":          2,
		"bundling_rendered_total":        2,
		"bundling_render_failures_total": 1,
		"bundling_peeked_total":          4,
		"bundling_dequeued_total":        4,
		"bundling_open_bundles":          7,
		"bundling_ready_bundles":         5,
	}
	for name, want := range cases {
		collector, ok := collectorFor(metrics, name)
		if !ok {
			t.Fatalf("no collector for %s", name)
		}
		if got := testutil.ToFloat64(collector); got != want {
			t.Fatalf("%s: expected %v, got %v", name, want, got)
		}
	}
}

func collectorFor(m *Metrics, name string) (prometheus.Collector, bool) {
	switch name {
	case "bundling_enqueued_total":
		return m.enqueuedTotal, true
	case "bundling_duplicates_total":
		return m.duplicatesTotal, true
	case "bundling_sealed_total":
		return m.sealedTotal, true
	case "bundling_rendered_total":
		return m.renderedTotal, true
	case "bundling_render_failures_total":
		return m.renderFailuresTotal, true
	case "bundling_peeked_total":
		return m.peekedTotal, true
	case "bundling_dequeued_total":
		return m.dequeuedTotal, true
	case "bundling_open_bundles":
		return m.openBundles, true
	case "bundling_ready_bundles":
		return m.readyBundles, true
	default:
		return nil, false
	}
}

func TestMetricsRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = New(reg)

	defer func() {
		if recover() == nil {
			t.Fatalf("double registration should panic")
		}
	}()
	_ = New(reg)
}
