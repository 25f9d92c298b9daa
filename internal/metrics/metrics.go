// Package metrics holds the Prometheus counters of the processing pipeline.
// Counters live in a private registry that is written out as a text file
// when --metrics_file is given.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dfdewey"

var (
	volumesMapped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mapping",
			Name:      "volumes_total",
			Help:      "Volumes processed by the filesystem mapper. Broken down by status.",
		},
		[]string{"status"},
	)

	extentsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mapping",
			Name:      "extents_total",
			Help:      "Extents accepted into extent tables.",
		},
	)

	extentsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mapping",
			Name:      "extents_rejected_total",
			Help:      "Extents dropped because they overlapped an earlier extent.",
		},
	)

	documentsIndexed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "documents_total",
			Help:      "Documents written to the search index. Broken down by allocation.",
		},
		[]string{"allocation"},
	)

	recordsMalformed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "records_malformed_total",
			Help:      "Extraction records skipped because they could not be parsed.",
		},
	)

	batches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "batches_total",
			Help:      "Index batch submissions. Broken down by result.",
		},
		[]string{"result"},
	)

	stageDuration = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds_total",
			Help:      "Time spent in each processing stage.",
		},
		[]string{"stage"},
	)

	queries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "queries_total",
			Help:      "Queries sent to the search index. Broken down by mode.",
		},
		[]string{"mode"},
	)
)

// Registry holds every dfDewey collector.
var Registry = newRegistry()

func newRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		volumesMapped, extentsAccepted, extentsRejected,
		documentsIndexed, recordsMalformed, batches,
		stageDuration, queries,
	)
	return r
}

// Batch results.
const (
	BatchOK     = "ok"
	BatchRetry  = "retry"
	BatchFailed = "failed"
)

// VolumeMapped counts a volume by its final status.
func VolumeMapped(status string) {
	volumesMapped.WithLabelValues(status).Inc()
}

// ExtentsBuilt counts the outcome of one extent table build.
func ExtentsBuilt(accepted, rejected int) {
	extentsAccepted.Add(float64(accepted))
	extentsRejected.Add(float64(rejected))
}

// DocumentsIndexed counts documents of a written batch.
func DocumentsIndexed(allocated, unallocated int) {
	documentsIndexed.WithLabelValues("allocated").Add(float64(allocated))
	documentsIndexed.WithLabelValues("unallocated").Add(float64(unallocated))
}

// RecordMalformed counts one skipped extraction record.
func RecordMalformed() {
	recordsMalformed.Inc()
}

// Batch counts one batch submission attempt.
func Batch(result string) {
	batches.WithLabelValues(result).Inc()
}

// StageDuration adds the time since start to a stage.
func StageDuration(stage string, start time.Time) {
	stageDuration.WithLabelValues(stage).Add(time.Since(start).Seconds())
}

// Query counts one query.
func Query(mode string) {
	queries.WithLabelValues(mode).Inc()
}

// WriteFile writes every counter to path in the Prometheus text format.
func WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
