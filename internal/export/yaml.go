package export

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/fieldscope-io/fieldscope/internal/telemetry"
)

// Document is the YAML export shape: log metadata plus the selected
// fields with their full sample sequences.
type Document struct {
	Metadata map[string]any `yaml:"metadata,omitempty"`
	Fields   []FieldDoc     `yaml:"fields"`
}

// FieldDoc is one field in a Document.
type FieldDoc struct {
	Key     string      `yaml:"key"`
	Kind    string      `yaml:"kind"`
	Samples []SampleDoc `yaml:"samples"`
}

// SampleDoc is one sample in a FieldDoc. YAML carries non-finite numbers
// (.nan, .inf) and byte arrays (!!binary) natively, so values pass
// through unmodified.
type SampleDoc struct {
	Timestamp float64 `yaml:"ts"`
	Value     any     `yaml:"value"`
}

// BuildDocument assembles the export document for the selected fields.
func BuildDocument(log *telemetry.Log, filter Filter) Document {
	doc := Document{Metadata: log.Metadata}

	for _, field := range filter.fields(log) {
		samples := field.Samples()
		fd := FieldDoc{
			Key:     field.Key(),
			Kind:    field.Kind().String(),
			Samples: make([]SampleDoc, 0, len(samples)),
		}

		for _, sample := range samples {
			fd.Samples = append(fd.Samples, SampleDoc{
				Timestamp: sample.Timestamp,
				Value:     sample.Value,
			})
		}

		doc.Fields = append(doc.Fields, fd)
	}

	return doc
}

// WriteYAML renders the selected fields as a single YAML document.
func WriteYAML(w io.Writer, log *telemetry.Log, filter Filter) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(BuildDocument(log, filter)); err != nil {
		return fmt.Errorf("encode yaml document: %w", err)
	}

	return enc.Close()
}
