package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fieldscope-io/fieldscope/internal/export"
	"github.com/fieldscope-io/fieldscope/internal/plot"
)

// ErrNoOutputFile is returned when the plot --out flag is not set.
var ErrNoOutputFile = errors.New("output file is required (use --out)")

// PlotCommand holds the flags for the plot command.
type PlotCommand struct {
	outPath string
	title   string
	fields  []string
}

// NewPlotCommand creates the plot command.
func NewPlotCommand() *cobra.Command {
	pc := &PlotCommand{}

	cmd := &cobra.Command{
		Use:   "plot <file>",
		Short: "Render selected fields as an HTML chart",
		Long: `Decode an rtlog file and render its number and boolean fields as an
interactive HTML line chart. Field globs select which fields to plot;
booleans chart as stepped 0/1 series.`,
		Args: cobra.ExactArgs(1),
		RunE: pc.run,
	}

	cmd.Flags().StringVarP(&pc.outPath, "out", "o", "", "Output HTML file")
	cmd.Flags().StringVar(&pc.title, "title", "", "Chart title (default: input file name)")
	cmd.Flags().StringSliceVar(&pc.fields, "field", nil, "Field key globs to plot (repeatable)")

	return cmd
}

func (pc *PlotCommand) run(cmd *cobra.Command, args []string) error {
	if pc.outPath == "" {
		return ErrNoOutputFile
	}

	filter, err := export.NewFilter(pc.fields)
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

	path := args[0]

	log, err := decodeFile(cmd.Context(), cfg, logger, pool, path)
	if err != nil {
		return err
	}

	title := pc.title
	if title == "" {
		title = filepath.Base(path)
	}

	out, err := os.OpenFile(pc.outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, exportFilePerm)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}

	if err := plot.WriteHTML(out, log, filter, title); err != nil {
		_ = out.Close()

		return err
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", pc.outPath)

	return nil
}
