package observability

import (
	"context"
	"math"
	runtimemetrics "runtime/metrics"

	"go.opentelemetry.io/otel/metric"
)

const (
	metricGoroutines = "fieldscope.runtime.goroutines"
	metricThreads    = "fieldscope.runtime.threads"

	sampleGoroutines = "/sched/goroutines:goroutines"
	sampleThreads    = "/sched/threads:threads"
)

// RegisterRuntimeMetrics exposes goroutine and OS-thread counts as OTel
// observable gauges, read from runtime/metrics on each collection cycle.
// The watch mode pool and watcher goroutines make these worth scraping.
func RegisterRuntimeMetrics(mt metric.Meter) error {
	b := newMetricBuilder(mt)

	goroutines := b.gauge(metricGoroutines, "Current number of live goroutines", "{goroutine}")
	threads := b.gauge(metricThreads, "Current number of OS threads created by the Go runtime", "{thread}")

	if b.err != nil {
		return b.err
	}

	samples := []runtimemetrics.Sample{
		{Name: sampleGoroutines},
		{Name: sampleThreads},
	}

	_, err := mt.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		runtimemetrics.Read(samples)

		if val, ok := sampleInt64Value(samples[0].Value); ok {
			obs.ObserveInt64(goroutines, val)
		}

		if val, ok := sampleInt64Value(samples[1].Value); ok {
			obs.ObserveInt64(threads, val)
		}

		return nil
	}, goroutines, threads)
	if err != nil {
		return err
	}

	return nil
}

// sampleInt64Value extracts an int64 from a runtime/metrics value,
// handling both Uint64 and Float64 kinds.
func sampleInt64Value(val runtimemetrics.Value) (int64, bool) {
	switch val.Kind() {
	case runtimemetrics.KindUint64:
		u := val.Uint64()
		if u > uint64(math.MaxInt64) {
			return math.MaxInt64, true
		}

		return int64(u), true
	case runtimemetrics.KindFloat64:
		return int64(val.Float64()), true
	default:
		return 0, false
	}
}
