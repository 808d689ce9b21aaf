package export_test

import (
	"bufio"
	"bytes"
	"math"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/fieldscope-io/fieldscope/internal/export"
	"github.com/fieldscope-io/fieldscope/internal/telemetry"
)

// buildLog assembles a log covering every value kind.
func buildLog(t *testing.T) *telemetry.Log {
	t.Helper()

	log := telemetry.NewLog()
	log.Metadata["origin"] = "export-test"

	enabled, err := log.DefineField("/robot/enabled", telemetry.KindBoolean)
	require.NoError(t, err)
	require.NoError(t, enabled.Append(0.0, true))
	require.NoError(t, enabled.Append(1.5, false))

	voltage, err := log.DefineField("/battery/voltage", telemetry.KindNumber)
	require.NoError(t, err)
	require.NoError(t, voltage.Append(0.0, 12.6))
	require.NoError(t, voltage.Append(0.02, math.NaN()))

	mode, err := log.DefineField("/robot/mode", telemetry.KindString)
	require.NoError(t, err)
	require.NoError(t, mode.Append(0.0, "teleop"))

	frame, err := log.DefineField("/camera/frame", telemetry.KindBytes)
	require.NoError(t, err)
	require.NoError(t, frame.Append(0.5, []byte{0xDE, 0xAD, 0xBE, 0xEF}))

	pose, err := log.DefineField("/drive/pose", telemetry.KindRecord)
	require.NoError(t, err)
	require.NoError(t, pose.Append(0.0, map[string]any{"x": 1.0, "y": 2.0}))

	return log
}

func TestFilter_Match(t *testing.T) {
	t.Parallel()

	cases := []struct {
		patterns []string
		key      string
		want     bool
	}{
		{nil, "/any/key", true},
		{[]string{"/robot/*"}, "/robot/enabled", true},
		{[]string{"/robot/*"}, "/battery/voltage", false},
		{[]string{"/robot/*"}, "/robot/arm/angle", false},
		{[]string{"/robot/**"}, "/robot/arm/angle", true},
		{[]string{"/robot/**"}, "/robot", true},
		{[]string{"/robot/**"}, "/robotics/arm", false},
		{[]string{"/a/*", "/b/*"}, "/b/c", true},
		{[]string{"/battery/voltage"}, "/battery/voltage", true},
	}

	for _, tc := range cases {
		f, err := export.NewFilter(tc.patterns)
		require.NoError(t, err)
		assert.Equal(t, tc.want, f.Match(tc.key), "patterns %v key %s", tc.patterns, tc.key)
	}
}

func TestNewFilter_BadPattern(t *testing.T) {
	t.Parallel()

	_, err := export.NewFilter([]string{"[unclosed"})
	require.ErrorIs(t, err, export.ErrBadPattern)
}

func TestWriteNDJSON_StreamsAllSamples(t *testing.T) {
	t.Parallel()

	log := buildLog(t)

	var buf bytes.Buffer

	require.NoError(t, export.WriteNDJSON(&buf, log, nil))

	var rows []export.SampleRow

	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var row export.SampleRow

		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))

		rows = append(rows, row)
	}

	require.NoError(t, scanner.Err())
	require.Len(t, rows, log.SampleCount())

	assert.Equal(t, "/robot/enabled", rows[0].Key)
	assert.Equal(t, "boolean", rows[0].Kind)
	assert.Equal(t, 0.0, rows[0].Timestamp)
	assert.Equal(t, true, rows[0].Value)
}

func TestWriteNDJSON_NonFiniteNumbersAsStrings(t *testing.T) {
	t.Parallel()

	log := buildLog(t)

	var buf bytes.Buffer

	filter, err := export.NewFilter([]string{"/battery/voltage"})
	require.NoError(t, err)
	require.NoError(t, export.WriteNDJSON(&buf, log, filter))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var row export.SampleRow

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &row))
	assert.Equal(t, "NaN", row.Value)
}

func TestWriteNDJSON_BytesAsBase64(t *testing.T) {
	t.Parallel()

	log := buildLog(t)

	var buf bytes.Buffer

	filter, err := export.NewFilter([]string{"/camera/frame"})
	require.NoError(t, err)
	require.NoError(t, export.WriteNDJSON(&buf, log, filter))

	var row export.SampleRow

	require.NoError(t, json.Unmarshal(buf.Bytes(), &row))

	// 0xDEADBEEF in standard base64.
	assert.Equal(t, "3q2+7w==", row.Value)
}

func TestWriteNDJSON_RecordInline(t *testing.T) {
	t.Parallel()

	log := buildLog(t)

	var buf bytes.Buffer

	filter, err := export.NewFilter([]string{"/drive/pose"})
	require.NoError(t, err)
	require.NoError(t, export.WriteNDJSON(&buf, log, filter))

	var row export.SampleRow

	require.NoError(t, json.Unmarshal(buf.Bytes(), &row))

	record, ok := row.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1.0, record["x"])
	assert.Equal(t, 2.0, record["y"])
}

func TestWriteYAML_RoundTripsDocument(t *testing.T) {
	t.Parallel()

	log := buildLog(t)

	var buf bytes.Buffer

	filter, err := export.NewFilter([]string{"/robot/**"})
	require.NoError(t, err)
	require.NoError(t, export.WriteYAML(&buf, log, filter))

	var doc export.Document

	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))

	require.Len(t, doc.Fields, 2)
	assert.Equal(t, "/robot/enabled", doc.Fields[0].Key)
	assert.Equal(t, "boolean", doc.Fields[0].Kind)
	require.Len(t, doc.Fields[0].Samples, 2)
	assert.Equal(t, true, doc.Fields[0].Samples[0].Value)
	assert.Equal(t, "export-test", doc.Metadata["origin"])
}

func TestBuildDocument_EmptyFilterTakesEverything(t *testing.T) {
	t.Parallel()

	log := buildLog(t)
	doc := export.BuildDocument(log, nil)

	assert.Len(t, doc.Fields, log.FieldCount())
}

func TestSummary_RendersSelectedFields(t *testing.T) {
	t.Parallel()

	log := buildLog(t)

	out := export.Summary(log, nil)

	assert.Contains(t, out, "/robot/enabled")
	assert.Contains(t, out, "/camera/frame")
	assert.Contains(t, out, "boolean")
	assert.Contains(t, out, "4 B", "bytes field payload is humanized")
	assert.Contains(t, out, "5 fields")
}

func TestSummary_FilterNarrowsRows(t *testing.T) {
	t.Parallel()

	log := buildLog(t)

	filter, err := export.NewFilter([]string{"/battery/*"})
	require.NoError(t, err)

	out := export.Summary(log, filter)

	assert.Contains(t, out, "/battery/voltage")
	assert.NotContains(t, out, "/robot/enabled")
}

func TestSummary_NoSelection(t *testing.T) {
	t.Parallel()

	log := buildLog(t)

	filter, err := export.NewFilter([]string{"/nothing/*"})
	require.NoError(t, err)

	assert.Equal(t, "No fields selected", export.Summary(log, filter))
}
