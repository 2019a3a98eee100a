package mstore

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"
)

// WriteReport prints all timers and counters of the registry as a table, sorted by name.
func WriteReport(w io.Writer, registry metrics.Registry) {
	if registry == nil {
		registry = metrics.DefaultRegistry
	}

	var timers, counters []string
	all := map[string]interface{}{}
	registry.Each(func(name string, metric interface{}) {
		all[name] = metric
		switch metric.(type) {
		case metrics.Timer:
			timers = append(timers, name)
		case metrics.Counter:
			counters = append(counters, name)
		}
	})
	sort.Strings(timers)
	sort.Strings(counters)

	if len(timers) > 0 {
		fmt.Fprintf(w, "%-32s %10s %12s %12s %12s\n", "TIMER", "COUNT", "MEAN", "P99", "MAX")
		for _, name := range timers {
			snap := all[name].(metrics.Timer).Snapshot()
			fmt.Fprintf(w, "%-32s %10d %12s %12s %12s\n",
				name,
				snap.Count(),
				time.Duration(snap.Mean()).Round(time.Microsecond),
				time.Duration(snap.Percentile(0.99)).Round(time.Microsecond),
				time.Duration(snap.Max()).Round(time.Microsecond),
			)
		}
	}

	if len(counters) > 0 {
		if len(timers) > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%-32s %10s\n", "COUNTER", "VALUE")
		for _, name := range counters {
			fmt.Fprintf(w, "%-32s %10d\n", name, all[name].(metrics.Counter).Snapshot().Count())
		}
	}
}

// Summary returns a one line summary of all timers with the given prefix
func Summary(registry metrics.Registry, prefix string) string {
	if registry == nil {
		registry = metrics.DefaultRegistry
	}
	var parts []string
	registry.Each(func(name string, metric interface{}) {
		timer, ok := metric.(metrics.Timer)
		if !ok || !strings.HasPrefix(name, prefix) {
			return
		}
		parts = append(parts, fmt.Sprintf("%s=%d", strings.TrimPrefix(name, prefix+"."), timer.Count()))
	})
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
