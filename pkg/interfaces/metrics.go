// Package interfaces holds the contracts for pluggable observability backends.
package interfaces

import "time"

// MetricsExporter exports metrics to a monitoring backend.
type MetricsExporter interface {
	// Counter increments a counter metric.
	Counter(name string, value int64, tags map[string]string)

	// Gauge sets a gauge metric to the specified value.
	Gauge(name string, value float64, tags map[string]string)

	// Histogram records a value in a histogram.
	Histogram(name string, value float64, tags map[string]string)

	// Timer records a duration.
	Timer(name string, duration time.Duration, tags map[string]string)

	// Flush sends any buffered metrics to the backend.
	Flush() error

	// Close releases resources.
	Close() error
}

// Metric names used throughout the service.
const (
	MetricSampleTotal    = "submitd.sample.total"
	MetricSampleErrors   = "submitd.sample.errors"
	MetricSampleRecords  = "submitd.sample.records"
	MetricSampleDuration = "submitd.sample.duration"

	MetricDownloadTotal  = "submitd.download.total"
	MetricDownloadErrors = "submitd.download.errors"
	MetricDownloadBytes  = "submitd.download.bytes"

	MetricHTTPRequests = "submitd.http.requests"
	MetricInFlight     = "submitd.http.in_flight"
)

// Common tag names.
const (
	TagFormat   = "format"
	TagProtocol = "protocol"
	TagKind     = "kind"
	TagRoute    = "route"
	TagStatus   = "status"
)
