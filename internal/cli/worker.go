package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/pricewatch/internal/metrics"
	"github.com/raphaelgruber/pricewatch/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process new scrape sessions as they are created",
	Long: `Run the scrape worker.

The worker subscribes to newly created scrape sessions, resumes sessions left
pending while it was offline and processes each one through fetch, extract,
interpret and persist. SIGINT or SIGTERM stops intake; sessions already
running are allowed to finish.

Examples:
  pricewatch worker
  PRICEWATCH_STORE=postgres DATABASE_URL=postgres://... pricewatch worker
  METRICS_ADDR=:9090 pricewatch worker`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctx := cmd.Context()

	collector := metrics.NewCollector()
	orch, closeOrch, err := newOrchestrator(ctx, cfg, backend, collector)
	if err != nil {
		return err
	}
	defer closeOrch()

	source, err := jobSource(backend)
	if err != nil {
		return err
	}
	defer func() {
		if err := source.Close(context.Background()); err != nil {
			slog.Warn("failed to close job source", "error", err)
		}
	}()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, collector, nil); err != nil {
				slog.Error("metrics endpoint stopped", "error", err)
			}
		}()
	}

	d := worker.NewDispatcher(orch, backend, cfg.WorkerMaxInFlight, cfg.WorkerQueueDepth, collector)
	d.Start(ctx)

	// Subscribe before resuming so sessions created in between are not missed.
	// A session seen twice, or by several workers, runs once: the processor
	// claims it in the store first and skips it when the claim is lost.
	jobs, err := source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to scrape sessions: %w", err)
	}
	if n, err := d.ResumePending(ctx, backend); err != nil {
		slog.Warn("failed to resume pending sessions", "error", err)
	} else if n > 0 {
		slog.Info("resumed pending sessions", "count", n)
	}

	slog.Info("worker started",
		"store", cfg.Store,
		"fetch_mode", cfg.FetchMode,
		"max_in_flight", cfg.WorkerMaxInFlight,
		"queue_depth", cfg.WorkerQueueDepth)

	runErr := d.Run(ctx, jobs)

	start := time.Now()
	slog.Info("shutting down, waiting for running sessions", "in_flight", d.InFlight(), "queued", d.Queued())
	d.Wait()
	slog.Info("worker stopped", "drain_ms", time.Since(start).Milliseconds())

	if runErr != nil && ctx.Err() == nil {
		return runErr
	}
	return nil
}
