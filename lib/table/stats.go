package table

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// stats holds the per-table counters
type stats struct {
	fetches        *metrics.Counter
	fetchErrors    *metrics.Counter
	fetchDuration  *metrics.Histogram
	patchesApplied *metrics.Counter
	patchesDropped *metrics.Counter
	evicted        *metrics.Counter
}

func newStats(set *metrics.Set, table string, size func() int) *stats {
	label := func(name, extra string) string {
		if extra != "" {
			return fmt.Sprintf(`%s{table=%q,%s}`, name, table, extra)
		}
		return fmt.Sprintf(`%s{table=%q}`, name, table)
	}

	set.GetOrCreateGauge(label("dfront_table_entries", ""), func() float64 {
		return float64(size())
	})

	return &stats{
		fetches:        set.GetOrCreateCounter(label("dfront_table_fetches_total", "")),
		fetchErrors:    set.GetOrCreateCounter(label("dfront_table_fetch_errors_total", "")),
		fetchDuration:  set.GetOrCreateHistogram(label("dfront_table_fetch_duration_seconds", "")),
		patchesApplied: set.GetOrCreateCounter(label("dfront_table_patches_total", `result="applied"`)),
		patchesDropped: set.GetOrCreateCounter(label("dfront_table_patches_total", `result="dropped"`)),
		evicted:        set.GetOrCreateCounter(label("dfront_table_evicted_total", "")),
	}
}
