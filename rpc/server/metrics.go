package server

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"
)

// logMetrics logs a snapshot of the server metrics every interval until the
// server is closed
func (s *RPCServer) logMetrics(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.eachMetric(func(name, kind string, value float64) {
				Logger.Infof("metric %s %s=%.3f", name, kind, value)
			})
		}
	}
}

// WriteMetrics writes the server metrics in Prometheus text format.
func (s *RPCServer) WriteMetrics(w io.Writer) {
	s.eachMetric(func(name, kind string, value float64) {
		metric := "dfront_server_" + strings.NewReplacer(".", "_", "-", "_").Replace(name) + "_" + kind
		fmt.Fprintf(w, "%s %g\n", metric, value)
	})
}

// eachMetric flattens the registry into (name, kind, value) triples, sorted by name
func (s *RPCServer) eachMetric(fn func(name, kind string, value float64)) {
	type entry struct {
		name   string
		metric interface{}
	}
	var entries []entry
	s.registry.Each(func(name string, m interface{}) {
		entries = append(entries, entry{name, m})
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	for _, e := range entries {
		switch m := e.metric.(type) {
		case metrics.Counter:
			fn(e.name, "count", float64(m.Count()))
		case metrics.Meter:
			snap := m.Snapshot()
			fn(e.name, "count", float64(snap.Count()))
			fn(e.name, "rate1", snap.Rate1())
		case metrics.Timer:
			snap := m.Snapshot()
			fn(e.name, "count", float64(snap.Count()))
			fn(e.name, "mean_seconds", snap.Mean()/float64(time.Second))
			fn(e.name, "p99_seconds", snap.Percentile(0.99)/float64(time.Second))
		}
	}
}
