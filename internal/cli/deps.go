package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/pricewatch/internal/config"
	"github.com/raphaelgruber/pricewatch/internal/db"
	"github.com/raphaelgruber/pricewatch/internal/extract"
	"github.com/raphaelgruber/pricewatch/internal/fetch"
	"github.com/raphaelgruber/pricewatch/internal/interpret"
	"github.com/raphaelgruber/pricewatch/internal/llm"
	"github.com/raphaelgruber/pricewatch/internal/lock"
	"github.com/raphaelgruber/pricewatch/internal/metrics"
	"github.com/raphaelgruber/pricewatch/internal/pgstore"
	"github.com/raphaelgruber/pricewatch/internal/pipeline"
	"github.com/raphaelgruber/pricewatch/internal/store"
)

// openBackend connects to the store selected by PRICEWATCH_STORE.
func openBackend(ctx context.Context, cfg config.Config) (store.Backend, error) {
	switch cfg.Store {
	case config.StorePostgres:
		s, err := pgstore.Open(ctx, cfg.DatabaseURL, cfg.PGMaxConns)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return s, nil
	case config.StoreSurrealDB, "":
		c, err := db.NewClient(ctx, db.ConfigFrom(cfg), slog.Default())
		if err != nil {
			return nil, fmt.Errorf("connect to surrealdb: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported PRICEWATCH_STORE: %q", cfg.Store)
	}
}

// jobSource returns the notification stream matching the backend.
func jobSource(b store.Backend) (store.JobSource, error) {
	switch b := b.(type) {
	case *db.Client:
		return b.LiveSessions(), nil
	case *pgstore.Store:
		return b.Listener(), nil
	case *store.Memory:
		return b, nil
	default:
		return nil, fmt.Errorf("store %T cannot deliver new sessions", b)
	}
}

// newLocker returns a Redis locker when REDIS_URL is set so several workers
// can share one database; otherwise locks are process-local.
func newLocker(ctx context.Context, cfg config.Config) (lock.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return lock.NewLocal(), func() {}, nil
	}
	client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	slog.Info("using redis competitor locks", "ttl", cfg.LockTTL)
	return lock.NewRedis(client, cfg.LockTTL), func() { _ = client.Close() }, nil
}

// newFetcher builds the fetch chain: browser or plain HTTP, retried, and
// optionally dumped to disk.
func newFetcher(ctx context.Context, cfg config.Config) (fetch.Fetcher, func()) {
	var (
		base    fetch.Fetcher
		closeFn = func() {}
	)
	switch cfg.FetchMode {
	case config.FetchHTTP:
		base = fetch.NewHTTPFetcher(cfg.FetchTimeout, cfg.FetchUserAgent)
	default:
		b := fetch.NewBrowserFetcher(ctx, cfg.FetchTimeout, cfg.FetchSettle, cfg.FetchUserAgent)
		base, closeFn = b, b.Close
	}

	var f fetch.Fetcher = &fetch.Retrying{
		Next:            base,
		MaxRetries:      uint64(max(cfg.FetchRetries, 0)),
		InitialInterval: 2 * time.Second,
	}
	if cfg.DumpDir != "" {
		f = &fetch.Dumper{Next: f, Dir: cfg.DumpDir}
	}
	return f, closeFn
}

// newOrchestrator wires every pipeline stage against s.
func newOrchestrator(ctx context.Context, cfg config.Config, s store.Store, c *metrics.Collector) (*pipeline.Orchestrator, func(), error) {
	model, err := llm.NewModel(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init model: %w", err)
	}
	model.WithMetrics(c)

	locker, closeLocker, err := newLocker(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	fetcher, closeFetcher := newFetcher(ctx, cfg)

	orch := pipeline.New(s, fetcher, extract.HTMLReducer{},
		interpret.NewLLMInterpreter(model, cfg.InterpretMaxChars),
		pipeline.WithLocker(locker),
		pipeline.WithMetrics(c),
		pipeline.WithLogger(slog.Default()),
	)
	return orch, func() {
		closeFetcher()
		closeLocker()
	}, nil
}
