package plot_test

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldscope-io/fieldscope/internal/export"
	"github.com/fieldscope-io/fieldscope/internal/plot"
	"github.com/fieldscope-io/fieldscope/internal/telemetry"
)

func makeLog(t *testing.T) *telemetry.Log {
	t.Helper()

	log := telemetry.NewLog()

	voltage, err := log.DefineField("/battery/voltage", telemetry.KindNumber)
	require.NoError(t, err)
	require.NoError(t, voltage.Append(0.02, 12.5))
	require.NoError(t, voltage.Append(0.04, 12.1))

	enabled, err := log.DefineField("/robot/enabled", telemetry.KindBoolean)
	require.NoError(t, err)
	require.NoError(t, enabled.Append(0.02, false))
	require.NoError(t, enabled.Append(0.06, true))

	event, err := log.DefineField("/events/note", telemetry.KindString)
	require.NoError(t, err)
	require.NoError(t, event.Append(0.03, "auto started"))

	return log
}

func TestWriteHTML_RendersSelectedSeries(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	err := plot.WriteHTML(&buf, makeLog(t), nil, "Match Log")
	require.NoError(t, err)
	require.Positive(t, buf.Len())

	html := buf.String()
	assert.Contains(t, html, "Match Log")
	assert.Contains(t, html, "/battery/voltage")
	assert.Contains(t, html, "/robot/enabled")
	assert.NotContains(t, html, "/events/note", "string fields have no plottable value")
}

func TestWriteHTML_FilterNarrowsSeries(t *testing.T) {
	t.Parallel()

	filter, err := export.NewFilter([]string{"/battery/**"})
	require.NoError(t, err)

	var buf bytes.Buffer

	require.NoError(t, plot.WriteHTML(&buf, makeLog(t), filter, "Battery"))

	html := buf.String()
	assert.Contains(t, html, "/battery/voltage")
	assert.NotContains(t, html, "/robot/enabled")
}

func TestWriteHTML_BooleanSeriesStepped(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, plot.WriteHTML(&buf, makeLog(t), nil, "Steps"))
	assert.Contains(t, buf.String(), `"step":"end"`)
}

func TestWriteHTML_SharedAxisSpansAllSeries(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, plot.WriteHTML(&buf, makeLog(t), nil, "Axis"))

	// Labels from every selected field, including the boolean-only 0.060.
	html := buf.String()
	assert.Contains(t, html, "0.020")
	assert.Contains(t, html, "0.040")
	assert.Contains(t, html, "0.060")
}

func TestWriteHTML_NoPlottableFields(t *testing.T) {
	t.Parallel()

	log := telemetry.NewLog()
	note, err := log.DefineField("/events/note", telemetry.KindString)
	require.NoError(t, err)
	require.NoError(t, note.Append(0.01, "hello"))

	var buf bytes.Buffer

	err = plot.WriteHTML(&buf, log, nil, "Empty")
	require.ErrorIs(t, err, plot.ErrNoSeries)
	assert.Zero(t, buf.Len())
}

func TestWriteHTML_FilterExcludesEverything(t *testing.T) {
	t.Parallel()

	filter, err := export.NewFilter([]string{"/vision/**"})
	require.NoError(t, err)

	var buf bytes.Buffer

	err = plot.WriteHTML(&buf, makeLog(t), filter, "None")
	require.ErrorIs(t, err, plot.ErrNoSeries)
}

func TestWriteHTML_NonFiniteValuesRenderAsGaps(t *testing.T) {
	t.Parallel()

	log := telemetry.NewLog()
	field, err := log.DefineField("/imu/yaw", telemetry.KindNumber)
	require.NoError(t, err)
	require.NoError(t, field.Append(0.01, 1.5))
	require.NoError(t, field.Append(0.02, math.NaN()))
	require.NoError(t, field.Append(0.03, math.Inf(1)))

	var buf bytes.Buffer

	require.NoError(t, plot.WriteHTML(&buf, log, nil, "IMU"))
	assert.Positive(t, buf.Len())
}
