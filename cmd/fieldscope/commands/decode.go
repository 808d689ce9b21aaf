package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fieldscope-io/fieldscope/internal/config"
	"github.com/fieldscope-io/fieldscope/internal/export"
	"github.com/fieldscope-io/fieldscope/internal/telemetry"
	"github.com/fieldscope-io/fieldscope/internal/worker"
)

// ErrDecodeFailed reports that at least one file could not be decoded. The
// per-file detail is in the printed reports.
var ErrDecodeFailed = errors.New("decode failed")

// DecodeCommand holds the flags for the decode command.
type DecodeCommand struct {
	jsonOut bool
}

// NewDecodeCommand creates the decode command.
func NewDecodeCommand() *cobra.Command {
	dc := &DecodeCommand{}

	cmd := &cobra.Command{
		Use:   "decode <file>...",
		Short: "Decode log files and print a per-file summary",
		Long:  "Decode one or more rtlog files in parallel and print a field summary per file.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  dc.run,
	}

	cmd.Flags().BoolVar(&dc.jsonOut, "json", false, "Emit one JSON report per file instead of tables")

	return cmd
}

// fileReport is the outcome of decoding one file.
type fileReport struct {
	Path            string  `json:"file"`
	Fields          int     `json:"fields"`
	Samples         int     `json:"samples"`
	Bytes           int64   `json:"bytes"`
	DurationSeconds float64 `json:"duration_s"`
	Error           string  `json:"error,omitempty"`

	elapsed time.Duration
}

func (dc *DecodeCommand) run(cmd *cobra.Command, args []string) error {
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

	ctx := cmd.Context()
	reports := make([]fileReport, len(args))
	logs := make([]*telemetry.Log, len(args))

	var g errgroup.Group
	g.SetLimit(decodeParallelism(cfg))

	for i, path := range args {
		g.Go(func() error {
			reports[i], logs[i] = decodeOneFile(ctx, cfg, logger, pool, path)

			return nil
		})
	}

	// Outcomes are recorded per file; the group itself never fails.
	_ = g.Wait()

	if dc.jsonOut {
		err = writeReportsJSON(cmd.OutOrStdout(), reports)
	} else {
		err = printReports(cmd.OutOrStdout(), reports, logs)
	}

	if err != nil {
		return err
	}

	if failed := countFailures(reports); failed > 0 {
		return fmt.Errorf("%w: %d of %d files", ErrDecodeFailed, failed, len(args))
	}

	return nil
}

// decodeParallelism bounds concurrent file decodes so submissions cannot
// outrun the pool queue.
func decodeParallelism(cfg *config.Config) int {
	if cfg.Decode.Workers > 0 {
		return cfg.Decode.Workers
	}

	return runtime.GOMAXPROCS(0)
}

func decodeOneFile(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	pool *worker.Pool,
	path string,
) (fileReport, *telemetry.Log) {
	report := fileReport{Path: path}

	if info, err := os.Stat(path); err == nil {
		report.Bytes = info.Size()
	}

	started := time.Now()
	log, err := decodeFile(ctx, cfg, logger, pool, path)
	report.elapsed = time.Since(started)
	report.DurationSeconds = report.elapsed.Seconds()

	if err != nil {
		report.Error = err.Error()

		return report, nil
	}

	report.Fields = log.FieldCount()
	report.Samples = log.SampleCount()

	return report, log
}

func writeReportsJSON(w io.Writer, reports []fileReport) error {
	enc := json.NewEncoder(w)

	for _, report := range reports {
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encode report for %s: %w", report.Path, err)
		}
	}

	return nil
}

func printReports(w io.Writer, reports []fileReport, logs []*telemetry.Log) error {
	for i, report := range reports {
		if report.Error != "" {
			_, err := fmt.Fprintf(w, "%s %s: %s\n", color.RedString("fail"), report.Path, report.Error)
			if err != nil {
				return fmt.Errorf("print report: %w", err)
			}

			continue
		}

		_, err := fmt.Fprintf(w, "%s %s: %d fields, %d samples, %s in %s\n",
			color.GreenString("ok"), report.Path, report.Fields, report.Samples,
			humanize.IBytes(uint64(report.Bytes)), report.elapsed.Round(time.Millisecond))
		if err != nil {
			return fmt.Errorf("print report: %w", err)
		}

		if _, err := fmt.Fprintln(w, export.Summary(logs[i], nil)); err != nil {
			return fmt.Errorf("print summary: %w", err)
		}
	}

	return nil
}

func countFailures(reports []fileReport) int {
	failed := 0

	for _, report := range reports {
		if report.Error != "" {
			failed++
		}
	}

	return failed
}
