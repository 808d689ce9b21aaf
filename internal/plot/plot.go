// Package plot renders decoded telemetry fields as an interactive HTML line
// chart. Number fields plot as continuous series and boolean fields as
// stepped 0/1 series; string, bytes, and record fields carry no plottable
// value and are skipped.
package plot

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/fieldscope-io/fieldscope/internal/export"
	"github.com/fieldscope-io/fieldscope/internal/telemetry"
)

// ErrNoSeries reports that the selection matched no number or boolean field.
var ErrNoSeries = errors.New("no plottable fields selected")

const (
	chartWidth  = "100%"
	chartHeight = "560px"
	lineWidth   = 2
)

// seriesPalette cycles across series in field definition order.
var seriesPalette = []string{
	"#5470c6", "#91cc75", "#fac858", "#ee6666",
	"#73c0de", "#3ba272", "#fc8452", "#9a60b4",
}

// series is one chart line: a field key plus its values aligned to the
// shared timestamp axis.
type series struct {
	key  string
	kind telemetry.Kind
	data []opts.LineData
}

// WriteHTML renders the fields of log selected by filter as a standalone
// HTML page. It fails with ErrNoSeries when nothing plottable matches.
func WriteHTML(w io.Writer, log *telemetry.Log, filter export.Filter, title string) error {
	labels, seriesList := buildSeries(log, filter)
	if len(seriesList) == 0 {
		return ErrNoSeries
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: title,
			Width:     chartWidth,
			Height:    chartHeight,
		}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Value"}),
		charts.WithDataZoomOpts(
			opts.DataZoom{Type: "slider", Start: 0, End: 100},
			opts.DataZoom{Type: "inside", Start: 0, End: 100},
		),
	)
	line.SetXAxis(labels)

	for i, s := range seriesList {
		line.AddSeries(s.key, s.data, seriesOptions(s.kind, seriesPalette[i%len(seriesPalette)])...)
	}

	if err := line.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}

	return nil
}

func seriesOptions(kind telemetry.Kind, color string) []charts.SeriesOpts {
	lineOpts := opts.LineChart{Smooth: opts.Bool(false)}
	if kind == telemetry.KindBoolean {
		lineOpts = opts.LineChart{Step: "end"}
	}

	return []charts.SeriesOpts{
		charts.WithLineChartOpts(lineOpts),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: color}),
		charts.WithLineStyleOpts(opts.LineStyle{Width: lineWidth}),
	}
}

// buildSeries selects the plottable fields and aligns every series to one
// shared ascending timestamp axis.
func buildSeries(log *telemetry.Log, filter export.Filter) ([]string, []series) {
	selected := make([]*telemetry.Field, 0, log.FieldCount())

	for _, field := range log.Fields() {
		if filter.Match(field.Key()) && plottable(field.Kind()) {
			selected = append(selected, field)
		}
	}

	if len(selected) == 0 {
		return nil, nil
	}

	axis := sharedAxis(selected)

	labels := make([]string, len(axis))
	for i, ts := range axis {
		labels[i] = strconv.FormatFloat(ts, 'f', 3, 64)
	}

	out := make([]series, len(selected))
	for i, field := range selected {
		out[i] = series{key: field.Key(), kind: field.Kind(), data: alignSamples(field, axis)}
	}

	return labels, out
}

func plottable(kind telemetry.Kind) bool {
	return kind == telemetry.KindNumber || kind == telemetry.KindBoolean
}

func sharedAxis(fields []*telemetry.Field) []float64 {
	seen := make(map[float64]struct{})

	for _, field := range fields {
		for _, sample := range field.Samples() {
			seen[sample.Timestamp] = struct{}{}
		}
	}

	axis := make([]float64, 0, len(seen))
	for ts := range seen {
		axis = append(axis, ts)
	}

	slices.Sort(axis)

	return axis
}

// alignSamples places each sample at its axis position and marks the gaps so
// echarts breaks the line instead of interpolating across them.
func alignSamples(field *telemetry.Field, axis []float64) []opts.LineData {
	byTime := make(map[float64]any, field.Len())
	for _, sample := range field.Samples() {
		byTime[sample.Timestamp] = sample.Value
	}

	data := make([]opts.LineData, len(axis))

	for i, ts := range axis {
		value, ok := byTime[ts]
		if !ok {
			data[i] = opts.LineData{Value: "-"}

			continue
		}

		data[i] = opts.LineData{Value: plotValue(value)}
	}

	return data
}

// plotValue maps a sample value onto the chart's numeric scale. Booleans
// become 0/1; non-finite numbers cannot cross the JSON boundary of the
// rendered page, so they chart as gaps.
func plotValue(value any) any {
	switch v := value.(type) {
	case bool:
		if v {
			return 1
		}

		return 0
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "-"
		}

		return v
	default:
		return value
	}
}
