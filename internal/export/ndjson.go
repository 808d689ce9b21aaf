package export

import (
	"fmt"
	"io"
	"math"

	json "github.com/goccy/go-json"

	"github.com/fieldscope-io/fieldscope/internal/telemetry"
)

// SampleRow is one NDJSON line: a single sample with its field identity.
// Byte-array values encode as base64 strings; structured record values
// inline as objects.
type SampleRow struct {
	Key       string  `json:"key"`
	Kind      string  `json:"kind"`
	Timestamp float64 `json:"ts"`
	Value     any     `json:"value"`
}

// WriteNDJSON streams the selected fields' samples as one JSON object per
// line, fields in definition order, samples in timestamp order. Non-finite
// numbers become the strings "NaN", "+Inf" and "-Inf", since JSON cannot
// carry them.
func WriteNDJSON(w io.Writer, log *telemetry.Log, filter Filter) error {
	enc := json.NewEncoder(w)

	for _, field := range filter.fields(log) {
		for _, sample := range field.Samples() {
			row := SampleRow{
				Key:       field.Key(),
				Kind:      field.Kind().String(),
				Timestamp: sample.Timestamp,
				Value:     jsonValue(sample.Value),
			}

			if err := enc.Encode(row); err != nil {
				return fmt.Errorf("encode sample for %s: %w", field.Key(), err)
			}
		}
	}

	return nil
}

// jsonValue rewrites values JSON cannot represent. Record values are
// walked recursively; everything else passes through (the encoder handles
// []byte as base64 itself).
func jsonValue(value any) any {
	switch v := value.(type) {
	case float64:
		switch {
		case math.IsNaN(v):
			return "NaN"
		case math.IsInf(v, 1):
			return "+Inf"
		case math.IsInf(v, -1):
			return "-Inf"
		default:
			return v
		}
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, entry := range v {
			out[key] = jsonValue(entry)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, entry := range v {
			out[i] = jsonValue(entry)
		}

		return out
	default:
		return value
	}
}
