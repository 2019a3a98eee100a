package hdal

import (
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics of the data access layer, registered in the default set of VictoriaMetrics.
//
//	hdal_list_cache_total{type,result}      cached query lookups (hit, miss, uncacheable, invalidated)
//	hdal_save_total{type}                   successful saves
//	hdal_save_retries_total{type}           saves and deletes repeated after losing a race
//	hdal_delete_total{type}                 successful deletes
//	hdal_scan_duration_seconds{type}        duration of full query scans
//	hdal_dynamic_cache_total{type,result}   dynamic property lookups (hit, miss)

func listCacheCounter(typeName, result string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`hdal_list_cache_total{type=%q,result=%q}`, typeName, result))
}

func saveCounter(typeName string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`hdal_save_total{type=%q}`, typeName))
}

func saveRetryCounter(typeName string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`hdal_save_retries_total{type=%q}`, typeName))
}

func deleteCounter(typeName string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`hdal_delete_total{type=%q}`, typeName))
}

func dynamicCacheCounter(typeName, result string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`hdal_dynamic_cache_total{type=%q,result=%q}`, typeName, result))
}

func observeScan(typeName string, start time.Time) {
	metrics.GetOrCreateHistogram(fmt.Sprintf(`hdal_scan_duration_seconds{type=%q}`, typeName)).UpdateDuration(start)
}

// WriteMetrics writes all metrics of the data access layer in the prometheus text format
func WriteMetrics(w io.Writer) {
	metrics.WritePrometheus(w, false)
}
