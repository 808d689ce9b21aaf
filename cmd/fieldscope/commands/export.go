package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fieldscope-io/fieldscope/internal/export"
	"github.com/fieldscope-io/fieldscope/internal/telemetry"
)

// Export output formats.
const (
	formatNDJSON = "ndjson"
	formatYAML   = "yaml"
)

// exportFilePerm is the mode for files written by export, plot, and rewrite.
const exportFilePerm = 0o644

// ErrUnknownFormat is returned for an unrecognized --format value.
var ErrUnknownFormat = errors.New("unknown format (supported: ndjson, yaml)")

// ExportCommand holds the flags for the export command.
type ExportCommand struct {
	format  string
	outPath string
	fields  []string
}

// NewExportCommand creates the export command.
func NewExportCommand() *cobra.Command {
	ec := &ExportCommand{}

	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Convert a log file to NDJSON or YAML",
		Long: `Decode an rtlog file and write its samples as NDJSON (one JSON object per
sample) or as a single YAML document. Field globs select a subset of fields;
an empty selection exports everything.`,
		Args: cobra.ExactArgs(1),
		RunE: ec.run,
	}

	cmd.Flags().StringVarP(&ec.format, "format", "f", formatNDJSON, "Output format (ndjson, yaml)")
	cmd.Flags().StringVarP(&ec.outPath, "out", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringSliceVar(&ec.fields, "field", nil, "Field key globs to export (repeatable)")

	return cmd
}

func (ec *ExportCommand) run(cmd *cobra.Command, args []string) error {
	write, err := exportWriter(ec.format)
	if err != nil {
		return err
	}

	filter, err := export.NewFilter(ec.fields)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := buildLogger(cmd, cfg)

	pool, err := buildPool(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer pool.Close()

	log, err := decodeFile(cmd.Context(), cfg, logger, pool, args[0])
	if err != nil {
		return err
	}

	if ec.outPath == "" {
		return write(cmd.OutOrStdout(), log, filter)
	}

	out, err := os.OpenFile(ec.outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, exportFilePerm)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}

	if err := write(out, log, filter); err != nil {
		_ = out.Close()

		return err
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}

	return nil
}

// exportWriter maps the format name onto its writer.
func exportWriter(format string) (func(io.Writer, *telemetry.Log, export.Filter) error, error) {
	switch format {
	case formatNDJSON:
		return export.WriteNDJSON, nil
	case formatYAML:
		return export.WriteYAML, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}
