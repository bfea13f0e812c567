// Package metrics provides the log-backed and no-op metrics exporters.
package metrics

import (
	"time"

	"github.com/openaddresses/submit-service-sub000/pkg/interfaces"
)

// NoopMetrics discards all metrics. It is the exporter used when none is
// configured and in tests.
type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics { return &NoopMetrics{} }

func (NoopMetrics) Counter(string, int64, map[string]string) {}
func (NoopMetrics) Gauge(string, float64, map[string]string) {}
func (NoopMetrics) Histogram(string, float64, map[string]string) {}
func (NoopMetrics) Timer(string, time.Duration, map[string]string) {}
func (NoopMetrics) Flush() error { return nil }
func (NoopMetrics) Close() error { return nil }

var _ interfaces.MetricsExporter = NoopMetrics{}
