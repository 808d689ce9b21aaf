package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricDecodesTotal   = "fieldscope.decode.total"
	metricDecodeDuration = "fieldscope.decode.duration.seconds"
	metricDecodeErrors   = "fieldscope.decode.errors.total"
	metricDecodedBytes   = "fieldscope.decode.bytes.total"
	metricDecodeInflight = "fieldscope.decode.inflight"
	metricQueueDepth     = "fieldscope.decode.queue.depth"

	attrOutcome = "outcome"
)

// OutcomeOK is the outcome attribute value for a successful decode. Any
// other value counts toward the error counter under that kind.
const OutcomeOK = "ok"

// decodeBucketBoundaries covers 1ms to 30s: small logs decode in
// milliseconds while multi-hundred-MB match logs can take tens of seconds.
var decodeBucketBoundaries = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// DecodeMetrics holds OTel instruments for the decode pipeline.
type DecodeMetrics struct {
	decodesTotal   metric.Int64Counter
	decodeDuration metric.Float64Histogram
	errorsTotal    metric.Int64Counter
	decodedBytes   metric.Int64Counter
	inflight       metric.Int64UpDownCounter
}

// NewDecodeMetrics creates decode metric instruments from the given meter.
func NewDecodeMetrics(mt metric.Meter) (*DecodeMetrics, error) {
	b := newMetricBuilder(mt)

	dm := &DecodeMetrics{
		decodesTotal:   b.counter(metricDecodesTotal, "Total decode requests completed", "{request}"),
		decodeDuration: b.histogram(metricDecodeDuration, "Decode duration in seconds", "s", decodeBucketBoundaries...),
		errorsTotal:    b.counter(metricDecodeErrors, "Decode failures by outcome kind", "{error}"),
		decodedBytes:   b.counter(metricDecodedBytes, "Total bytes submitted for decoding", "By"),
		inflight:       b.upDownCounter(metricDecodeInflight, "Decode requests currently in flight", "{request}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return dm, nil
}

// RecordDecode records a completed decode with its input size, duration, and
// outcome. Safe to call on a nil receiver (no-op).
func (dm *DecodeMetrics) RecordDecode(ctx context.Context, byteSize int64, duration time.Duration, outcome string) {
	if dm == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String(attrOutcome, outcome))

	dm.decodesTotal.Add(ctx, 1, attrs)
	dm.decodeDuration.Record(ctx, duration.Seconds(), attrs)
	dm.decodedBytes.Add(ctx, byteSize)

	if outcome != OutcomeOK {
		dm.errorsTotal.Add(ctx, 1, attrs)
	}
}

// TrackInflight increments the in-flight gauge and returns a function to
// decrement it. Safe to call on a nil receiver (the returned function is a
// no-op).
func (dm *DecodeMetrics) TrackInflight(ctx context.Context) func() {
	if dm == nil {
		return func() {}
	}

	dm.inflight.Add(ctx, 1)

	return func() {
		dm.inflight.Add(ctx, -1)
	}
}

// RegisterQueueDepth registers an observable gauge that samples the pending
// decode queue depth on each collection cycle.
func RegisterQueueDepth(mt metric.Meter, depth func() int64) error {
	b := newMetricBuilder(mt)
	g := b.gauge(metricQueueDepth, "Decode requests waiting for a worker", "{request}")

	if b.err != nil {
		return b.err
	}

	_, err := mt.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(g, depth())

		return nil
	}, g)
	if err != nil {
		return fmt.Errorf("register queue depth callback: %w", err)
	}

	return nil
}
