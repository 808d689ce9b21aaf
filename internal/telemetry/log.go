// Package telemetry defines the decoded log model: an ordered collection of
// keyed, typed time-series fields. A Log is built once by a decoder and is
// treated as immutable after it has been handed to a consumer.
package telemetry

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"reflect"
)

// Model validation errors.
var (
	ErrDuplicateField   = errors.New("duplicate field key")
	ErrInvalidKey       = errors.New("invalid field key")
	ErrInvalidKind      = errors.New("invalid field kind")
	ErrValueKind        = errors.New("value does not match field kind")
	ErrInvalidTimestamp = errors.New("timestamp is not a finite number")
	ErrTimestampOrder   = errors.New("timestamp precedes previous sample")
)

// Log is a decoded telemetry log: fields in definition order, each holding a
// monotonically non-decreasing sample sequence, plus free-form metadata.
type Log struct {
	// Metadata holds log-level annotations (origin, robot identifiers, and
	// similar). Merged from metadata records during decode.
	Metadata map[string]any

	fields []*Field
	index  map[string]*Field
}

// Field is a named, typed time-series within a log, identified by a unique
// path-style key such as "/drive/pose/x".
type Field struct {
	key     string
	kind    Kind
	samples []Sample
}

// Sample is one timestamped value. Timestamp is in seconds relative to the
// log start. Value holds bool, float64, string, []byte, or map[string]any
// according to the owning field's kind.
type Sample struct {
	Timestamp float64
	Value     any
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{
		Metadata: make(map[string]any),
		index:    make(map[string]*Field),
	}
}

// DefineField registers a new field under the given key. Keys are unique
// within a log; redefinition fails with ErrDuplicateField.
func (l *Log) DefineField(key string, kind Kind) (*Field, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKind, kind)
	}

	if _, exists := l.index[key]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateField, key)
	}

	field := &Field{key: key, kind: kind}
	l.fields = append(l.fields, field)
	l.index[key] = field

	return field, nil
}

// Field returns the field registered under key, if any.
func (l *Log) Field(key string) (*Field, bool) {
	field, ok := l.index[key]

	return field, ok
}

// Fields returns all fields in definition order. Callers must not mutate the
// returned slice.
func (l *Log) Fields() []*Field {
	return l.fields
}

// FieldCount returns the number of defined fields.
func (l *Log) FieldCount() int {
	return len(l.fields)
}

// SampleCount returns the total number of samples across all fields.
func (l *Log) SampleCount() int {
	total := 0
	for _, field := range l.fields {
		total += len(field.samples)
	}

	return total
}

// TimeRange returns the earliest and latest sample timestamps in the log.
// ok is false when the log holds no samples.
func (l *Log) TimeRange() (start, end float64, ok bool) {
	for _, field := range l.fields {
		if len(field.samples) == 0 {
			continue
		}

		first := field.samples[0].Timestamp
		last := field.samples[len(field.samples)-1].Timestamp

		if !ok {
			start, end, ok = first, last, true

			continue
		}

		start = math.Min(start, first)
		end = math.Max(end, last)
	}

	return start, end, ok
}

// Duration returns the time span covered by the log in seconds, zero for an
// empty log.
func (l *Log) Duration() float64 {
	start, end, ok := l.TimeRange()
	if !ok {
		return 0
	}

	return end - start
}

// Equal reports structural equality: same fields in the same order with
// equal sample sequences, and equal metadata.
func (l *Log) Equal(other *Log) bool {
	if other == nil {
		return l == nil
	}

	if len(l.fields) != len(other.fields) {
		return false
	}

	for i, field := range l.fields {
		if !field.Equal(other.fields[i]) {
			return false
		}
	}

	return metadataEqual(l.Metadata, other.Metadata)
}

// Key returns the field's unique path key.
func (f *Field) Key() string {
	return f.key
}

// Kind returns the field's value kind.
func (f *Field) Kind() Kind {
	return f.kind
}

// Samples returns the field's sample sequence in timestamp order. Callers
// must not mutate the returned slice.
func (f *Field) Samples() []Sample {
	return f.samples
}

// Len returns the number of samples in the field.
func (f *Field) Len() int {
	return len(f.samples)
}

// Append adds one sample. The timestamp must be finite and must not precede
// the previous sample's timestamp; the value must match the field kind.
func (f *Field) Append(timestamp float64, value any) error {
	if math.IsNaN(timestamp) || math.IsInf(timestamp, 0) {
		return fmt.Errorf("%w: field %q", ErrInvalidTimestamp, f.key)
	}

	if n := len(f.samples); n > 0 && timestamp < f.samples[n-1].Timestamp {
		return fmt.Errorf("%w: field %q: %v after %v",
			ErrTimestampOrder, f.key, timestamp, f.samples[n-1].Timestamp)
	}

	if !valueMatchesKind(value, f.kind) {
		return fmt.Errorf("%w: field %q expects %s, got %T", ErrValueKind, f.key, f.kind, value)
	}

	f.samples = append(f.samples, Sample{Timestamp: timestamp, Value: value})

	return nil
}

// Equal reports whether two fields have the same key, kind, and samples.
func (f *Field) Equal(other *Field) bool {
	if other == nil {
		return f == nil
	}

	if f.key != other.key || f.kind != other.kind || len(f.samples) != len(other.samples) {
		return false
	}

	for i, sample := range f.samples {
		if sample.Timestamp != other.samples[i].Timestamp {
			return false
		}

		if !valueEqual(sample.Value, other.samples[i].Value) {
			return false
		}
	}

	return true
}

func valueMatchesKind(value any, kind Kind) bool {
	switch kind {
	case KindBoolean:
		_, ok := value.(bool)

		return ok
	case KindNumber:
		_, ok := value.(float64)

		return ok
	case KindString:
		_, ok := value.(string)

		return ok
	case KindBytes:
		_, ok := value.([]byte)

		return ok
	case KindRecord:
		_, ok := value.(map[string]any)

		return ok
	default:
		return false
	}
}

func valueEqual(a, b any) bool {
	switch av := a.(type) {
	case []byte:
		bv, ok := b.([]byte)

		return ok && bytes.Equal(av, bv)
	case float64:
		// NaN round-trips through the wire format, so NaN compares equal to NaN here.
		bv, ok := b.(float64)

		return ok && (av == bv || (math.IsNaN(av) && math.IsNaN(bv)))
	default:
		return reflect.DeepEqual(a, b)
	}
}

func metadataEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}

	return len(a) == 0 || reflect.DeepEqual(a, b)
}
