package db

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/pricewatch/internal/models"
	"github.com/raphaelgruber/pricewatch/internal/store"
)

var _ store.JobSource = (*LiveSource)(nil)

// LiveSource streams newly created scrape sessions from a LIVE SELECT.
// Updates and deletes are ignored.
type LiveSource struct {
	client *Client

	mu      sync.Mutex
	queries []string
}

// LiveSessions returns a job source over this client's connection.
func (c *Client) LiveSessions() *LiveSource {
	return &LiveSource{client: c}
}

// Subscribe starts a live query. The channel closes when ctx is done or the
// notification stream ends.
func (s *LiveSource) Subscribe(ctx context.Context) (<-chan models.ScrapeSession, error) {
	db := s.client.db

	liveID, err := surrealdb.Live(ctx, db, surrealmodels.Table(tableSession), false)
	if err != nil {
		return nil, fmt.Errorf("live select: %w", wrapQueryError(err))
	}
	queryID := liveID.String()

	notifications, err := db.LiveNotifications(queryID)
	if err != nil {
		_ = surrealdb.Kill(ctx, db, queryID)
		return nil, fmt.Errorf("live notifications: %w", err)
	}

	s.mu.Lock()
	s.queries = append(s.queries, queryID)
	s.mu.Unlock()
	slog.Info("subscribed to scrape sessions", "live_query", queryID)

	out := make(chan models.ScrapeSession, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-notifications:
				if !ok {
					slog.Warn("live notification stream closed", "live_query", queryID)
					return
				}
				if n.Action != connection.CreateAction {
					continue
				}
				session, err := s.client.decodeSession(n.Result)
				if err != nil {
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
	}()
	return out, nil
}

// Close kills every live query started by Subscribe.
func (s *LiveSource) Close(ctx context.Context) error {
	s.mu.Lock()
	queries := s.queries
	s.queries = nil
	s.mu.Unlock()

	var firstErr error
	for _, id := range queries {
		if err := surrealdb.Kill(ctx, s.client.db, id); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("kill live query %s: %w", id, err)
		}
	}
	return firstErr
}

// decodeSession re-encodes a notification payload with the connection codec
// so SurrealDB record ids and datetimes decode like query results.
func (c *Client) decodeSession(result any) (models.ScrapeSession, error) {
	data, err := c.codec.Marshal(result)
	if err != nil {
		return models.ScrapeSession{}, fmt.Errorf("encode notification: %w", err)
	}
	var row sessionRow
	if err := c.codec.Unmarshal(data, &row); err != nil {
		return models.ScrapeSession{}, fmt.Errorf("decode notification: %w", err)
	}
	return row.model(), nil
}
