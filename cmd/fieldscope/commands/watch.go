package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"

	"github.com/fieldscope-io/fieldscope/internal/config"
	"github.com/fieldscope-io/fieldscope/internal/export"
	"github.com/fieldscope-io/fieldscope/internal/observability"
	"github.com/fieldscope-io/fieldscope/internal/source"
	"github.com/fieldscope-io/fieldscope/internal/telemetry"
	"github.com/fieldscope-io/fieldscope/internal/worker"
)

// WatchCommand holds the flags for the watch command.
type WatchCommand struct {
	listenAddr string
	forcePoll  bool
	noTable    bool
}

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	wc := &WatchCommand{}

	cmd := &cobra.Command{
		Use:   "watch <file>",
		Short: "Follow a live log file and decode on every change",
		Long: `Follow an rtlog file and re-decode it whenever its content changes,
printing a summary per reload. Changes are debounced and content-hash
deduplicated; a reload that lands mid-decode supersedes the stale decode.

With --listen, a diagnostics server exposes /healthz, /readyz, and
Prometheus decode metrics at /metrics for the duration of the watch.`,
		Args: cobra.ExactArgs(1),
		RunE: wc.run,
	}

	cmd.Flags().StringVar(&wc.listenAddr, "listen", "", "Diagnostics listen address (e.g. 127.0.0.1:9090; empty = disabled)")
	cmd.Flags().BoolVar(&wc.forcePoll, "force-poll", false, "Poll for changes instead of filesystem notifications")
	cmd.Flags().BoolVar(&wc.noTable, "no-table", false, "Print only the per-reload status line, no field table")

	return cmd
}

func (wc *WatchCommand) run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := buildLogger(cmd, cfg)
	level := logLevel(cmd, cfg)

	providers, err := observability.Init(observabilityConfig(cfg, observability.ModeWatch, level))
	if err != nil {
		return err
	}

	defer func() {
		if shutdownErr := providers.Shutdown(context.Background()); shutdownErr != nil {
			logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := wc.buildSession(cfg, logger, providers.Meter, args[0])
	if err != nil {
		return err
	}
	defer session.close(logger)

	if session.diag != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "diagnostics on http://%s/metrics\n", session.diag.Addr())
	}

	if err := session.watcher.Start(); err != nil {
		return err
	}

	mode := "notify"
	if session.watcher.IsPolling() {
		mode = "poll"
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s mode, Ctrl-C to stop)\n",
		color.CyanString("watching"), session.watcher.Path(), mode)

	wc.follow(ctx, cmd.OutOrStdout(), session.watcher)

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.CyanString("stopped"), session.watcher.Path())

	return nil
}

// watchSession bundles the live-follow resources so failure paths unwind in
// one place.
type watchSession struct {
	watcher *source.Watcher
	pool    *worker.Pool
	diag    *observability.DiagnosticsServer
}

// close releases the session in reverse construction order: watcher first so
// no reload submits to a closing pool.
func (s *watchSession) close(logger *slog.Logger) {
	if s.watcher != nil {
		s.watcher.Close()
	}

	if s.pool != nil {
		s.pool.Close()
	}

	if s.diag != nil {
		if err := s.diag.Close(); err != nil {
			logger.Warn("diagnostics close failed", "error", err)
		}
	}
}

// buildSession assembles the metrics, pool, optional diagnostics server, and
// watcher. Decode instruments are created from the diagnostics meter when
// --listen is set, so they appear in the scrape output, and from the OTLP
// meter otherwise.
func (wc *WatchCommand) buildSession(
	cfg *config.Config,
	logger *slog.Logger,
	otlpMeter metric.Meter,
	path string,
) (*watchSession, error) {
	session := &watchSession{}
	meter := otlpMeter

	if wc.listenAddr != "" {
		diag, err := observability.NewDiagnosticsServer(wc.listenAddr)
		if err != nil {
			return nil, err
		}

		session.diag = diag
		meter = diag.Meter()
	}

	metrics, err := observability.NewDecodeMetrics(meter)
	if err != nil {
		session.close(logger)

		return nil, err
	}

	pool, err := buildPool(cfg, logger, metrics)
	if err != nil {
		session.close(logger)

		return nil, err
	}

	session.pool = pool

	if err := observability.RegisterQueueDepth(meter, pool.Pending); err != nil {
		session.close(logger)

		return nil, err
	}

	maxBytes, err := cfg.Input.MaxFileSizeBytes()
	if err != nil {
		session.close(logger)

		return nil, err
	}

	watcher, err := source.NewWatcher(path, pool, source.WatcherConfig{
		Debounce:     cfg.Watch.Debounce,
		PollInterval: cfg.Watch.PollInterval,
		ForcePoll:    cfg.Watch.ForcePoll || wc.forcePoll,
		MaxFileSize:  maxBytes,
		Logger:       logger,
	})
	if err != nil {
		session.close(logger)

		return nil, err
	}

	session.watcher = watcher

	return session, nil
}

// follow prints a status line (and field table) per decoded reload until the
// context is cancelled or the watcher shuts down.
func (wc *WatchCommand) follow(ctx context.Context, out io.Writer, watcher *source.Watcher) {
	reloads := 0

	for {
		select {
		case <-ctx.Done():
			return
		case log, ok := <-watcher.Logs():
			if !ok {
				return
			}

			reloads++

			printReload(out, reloads, log)

			if !wc.noTable {
				fmt.Fprintln(out, export.Summary(log, nil))
			}
		}
	}
}

func printReload(w io.Writer, n int, log *telemetry.Log) {
	fmt.Fprintf(w, "%s #%d at %s: %d fields, %d samples, %.3fs span\n",
		color.GreenString("reload"), n, time.Now().Format("15:04:05"),
		log.FieldCount(), log.SampleCount(), log.Duration())
}
