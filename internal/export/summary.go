package export

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/fieldscope-io/fieldscope/internal/telemetry"
)

const msgNoFieldsSelected = "No fields selected"

// Summary renders a per-field overview table: key, kind, sample count and
// the first/last timestamps, with payload size for byte-array fields.
func Summary(log *telemetry.Log, filter Filter) string {
	fields := filter.fields(log)
	if len(fields) == 0 {
		return msgNoFieldsSelected
	}

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false

	tbl.AppendHeader(table.Row{"Field", "Kind", "Samples", "First (s)", "Last (s)", "Payload"})

	totalSamples := 0

	for _, field := range fields {
		samples := field.Samples()
		totalSamples += len(samples)

		first, last := "-", "-"
		if len(samples) > 0 {
			first = fmt.Sprintf("%.3f", samples[0].Timestamp)
			last = fmt.Sprintf("%.3f", samples[len(samples)-1].Timestamp)
		}

		tbl.AppendRow(table.Row{
			field.Key(),
			field.Kind().String(),
			len(samples),
			first,
			last,
			payloadSize(field),
		})
	}

	tbl.AppendFooter(table.Row{
		fmt.Sprintf("%d fields", len(fields)), "", totalSamples, "", "", "",
	})

	return tbl.Render()
}

// payloadSize reports the accumulated byte-array payload for bytes
// fields; other kinds show a dash.
func payloadSize(field *telemetry.Field) string {
	if field.Kind() != telemetry.KindBytes {
		return "-"
	}

	total := 0

	for _, sample := range field.Samples() {
		if raw, ok := sample.Value.([]byte); ok {
			total += len(raw)
		}
	}

	return humanize.IBytes(uint64(total))
}
