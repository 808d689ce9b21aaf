// Package export serializes decoded logs for downstream tooling: an
// NDJSON sample stream, a YAML document, and a human summary table.
package export

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/fieldscope-io/fieldscope/internal/telemetry"
)

// ErrBadPattern indicates an unparseable field filter pattern.
var ErrBadPattern = errors.New("bad field pattern")

// Filter selects fields by key glob. Patterns use path.Match semantics
// (`*` does not cross `/`); a pattern ending in `/**` matches the whole
// subtree. An empty filter selects every field.
type Filter []string

// NewFilter validates the patterns and returns a filter.
func NewFilter(patterns []string) (Filter, error) {
	for _, pattern := range patterns {
		probe := strings.TrimSuffix(pattern, "/**")
		if _, err := path.Match(probe, "probe"); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrBadPattern, pattern)
		}
	}

	return Filter(patterns), nil
}

// Match reports whether the key is selected.
func (f Filter) Match(key string) bool {
	if len(f) == 0 {
		return true
	}

	for _, pattern := range f {
		if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
			if key == prefix || strings.HasPrefix(key, prefix+"/") {
				return true
			}

			continue
		}

		if matched, err := path.Match(pattern, key); err == nil && matched {
			return true
		}
	}

	return false
}

// fields returns the selected fields in definition order.
func (f Filter) fields(log *telemetry.Log) []*telemetry.Field {
	selected := make([]*telemetry.Field, 0, log.FieldCount())

	for _, field := range log.Fields() {
		if f.Match(field.Key()) {
			selected = append(selected, field)
		}
	}

	return selected
}
