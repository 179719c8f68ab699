package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raphaelgruber/pricewatch/internal/models"
	"github.com/raphaelgruber/pricewatch/internal/store"
)

var _ store.JobSource = (*Listener)(nil)

// Listener streams scrape sessions announced by the insert trigger.
// It holds one pooled connection per subscription.
type Listener struct {
	store *Store

	mu      sync.Mutex
	cancels []context.CancelFunc
}

// Listener returns a job source backed by LISTEN/NOTIFY.
func (s *Store) Listener() *Listener {
	return &Listener{store: s}
}

// Subscribe issues LISTEN and returns the notification stream. A dropped
// connection is re-established with backoff, after which pending sessions
// are replayed to cover notifications lost in between.
func (l *Listener) Subscribe(ctx context.Context) (<-chan models.ScrapeSession, error) {
	conn, err := l.listen(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancels = append(l.cancels, cancel)
	l.mu.Unlock()

	out := make(chan models.ScrapeSession, 16)
	go l.loop(ctx, conn, out)
	return out, nil
}

func (l *Listener) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := l.store.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
	}
	slog.Info("listening for scrape sessions", "channel", notifyChannel)
	return conn, nil
}

func (l *Listener) loop(ctx context.Context, conn *pgxpool.Conn, out chan<- models.ScrapeSession) {
	defer close(out)
	defer func() {
		if conn != nil {
			l.release(conn)
		}
	}()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("listen connection lost", "error", err)
			// Destroy rather than return a broken or still-listening conn.
			_ = conn.Conn().Close(context.Background())
			conn.Release()
			conn = nil

			conn, err = l.reconnect(ctx)
			if err != nil {
				return
			}
			if !l.replayPending(ctx, out) {
				return
			}
			continue
		}

		var session models.ScrapeSession
		if err := json.Unmarshal([]byte(n.Payload), &session); err != nil {
			slog.Warn("undecodable session notification", "error", err)
			continue
		}
		select {
		case out <- session:
		case <-ctx.Done():
			return
		}
	}
}

func (l *Listener) reconnect(ctx context.Context) (*pgxpool.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	var conn *pgxpool.Conn
	err := backoff.RetryNotify(func() error {
		c, err := l.listen(ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		slog.Warn("listen reconnect failed", "error", err, "retry_in", wait)
	})
	return conn, err
}

func (l *Listener) replayPending(ctx context.Context, out chan<- models.ScrapeSession) bool {
	pending, err := l.store.ListPendingSessions(ctx)
	if err != nil {
		slog.Warn("replay pending sessions failed", "error", err)
		return ctx.Err() == nil
	}
	for _, s := range pending {
		select {
		case out <- s:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// release unlistens before handing the connection back to the pool.
func (l *Listener) release(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		_ = conn.Conn().Close(ctx)
	}
	conn.Release()
}

// Close stops every subscription started by Subscribe.
func (l *Listener) Close(ctx context.Context) error {
	l.mu.Lock()
	cancels := l.cancels
	l.cancels = nil
	l.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	return nil
}
