package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/raphaelgruber/pricewatch/internal/models"
	"github.com/raphaelgruber/pricewatch/internal/store"
)

const sessionColumns = `id, competitor_id, status, stage, scraped_at, error_message, finished_at`

func scanSession(row pgx.Row) (models.ScrapeSession, error) {
	var (
		s      models.ScrapeSession
		status string
		stage  string
	)
	err := row.Scan(&s.ID, &s.CompetitorID, &status, &stage, &s.ScrapedAt, &s.ErrorMessage, &s.FinishedAt)
	s.Status = models.SessionStatus(status)
	s.Stage = models.SessionStage(stage)
	return s, err
}

// notFound maps pgx.ErrNoRows onto store.ErrNotFound.
func notFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, store.ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

func (s *Store) GetCompetitor(ctx context.Context, id string) (*models.Competitor, error) {
	var c models.Competitor
	err := s.q.QueryRow(ctx, `
		SELECT id, name, pricing_page_url FROM competitors WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.PricingPageURL)
	if err != nil {
		return nil, notFound(err, "competitor", id)
	}
	return &c, nil
}

func (s *Store) GetCurrentPlanIDs(ctx context.Context, competitorID string) ([]string, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id FROM pricing_plans WHERE competitor_id = $1 AND is_current
	`, competitorID)
	if err != nil {
		return nil, fmt.Errorf("get current plan ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("get current plan ids: %w", err)
	}
	return ids, nil
}

func (s *Store) SetFeaturesNonCurrent(ctx context.Context, planIDs []string) error {
	if len(planIDs) == 0 {
		return nil
	}
	_, err := s.q.Exec(ctx, `
		UPDATE plan_features SET is_current = false
		WHERE plan_id = ANY($1) AND is_current
	`, planIDs)
	if err != nil {
		return fmt.Errorf("archive features: %w", err)
	}
	return nil
}

func (s *Store) SetPlansNonCurrent(ctx context.Context, planIDs []string) error {
	if len(planIDs) == 0 {
		return nil
	}
	_, err := s.q.Exec(ctx, `
		UPDATE pricing_plans SET is_current = false WHERE id = ANY($1)
	`, planIDs)
	if err != nil {
		return fmt.Errorf("archive plans: %w", err)
	}
	return nil
}

// InsertPlan creates a current plan and returns its id.
func (s *Store) InsertPlan(ctx context.Context, sessionID, competitorID string, fields store.PlanFields) (string, error) {
	var id string
	err := s.q.QueryRow(ctx, `
		INSERT INTO pricing_plans
			(scrape_session_id, competitor_id, plan_name, price, currency, billing_cycle, description, is_current)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true)
		RETURNING id
	`, sessionID, competitorID, fields.Name, fields.Price, fields.Currency,
		string(fields.BillingCycle), fields.Description).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert plan %q: %w", fields.Name, err)
	}
	return id, nil
}

// InsertFeatures writes all features in one batch round trip.
func (s *Store) InsertFeatures(ctx context.Context, planID string, features []string) error {
	if len(features) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, text := range features {
		batch.Queue(`
			INSERT INTO plan_features (plan_id, feature_text, position, is_current)
			VALUES ($1, $2, $3, true)
		`, planID, text, i)
	}
	if err := s.q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert features: %w", err)
	}
	return nil
}

// UpdateSessionStatus sets the status; terminal statuses also stamp finished_at.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus, errorMessage *string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE scrape_sessions
		SET status = $2,
		    error_message = $3,
		    finished_at = CASE WHEN $4 THEN now() ELSE finished_at END
		WHERE id = $1
	`, sessionID, string(status), errorMessage, status.Terminal())
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) UpdateSessionStage(ctx context.Context, sessionID string, stage models.SessionStage) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE scrape_sessions SET stage = $2 WHERE id = $1
	`, sessionID, string(stage))
	if err != nil {
		return fmt.Errorf("update session stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) ClaimSession(ctx context.Context, sessionID string) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE scrape_sessions SET stage = 'fetching'
		WHERE id = $1 AND status = 'pending' AND stage = 'queued'
	`, sessionID)
	if err != nil {
		return false, fmt.Errorf("claim session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*models.ScrapeSession, error) {
	sess, err := scanSession(s.q.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM scrape_sessions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "session", id)
	}
	return &sess, nil
}

// CreateSession inserts a pending session. The insert trigger notifies listeners.
func (s *Store) CreateSession(ctx context.Context, competitorID string) (*models.ScrapeSession, error) {
	sess, err := scanSession(s.q.QueryRow(ctx, `
		INSERT INTO scrape_sessions (competitor_id, status, stage)
		VALUES ($1, 'pending', 'queued')
		RETURNING `+sessionColumns, competitorID))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &sess, nil
}

func (s *Store) ListPendingSessions(ctx context.Context) ([]models.ScrapeSession, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+sessionColumns+` FROM scrape_sessions
		WHERE status = 'pending' ORDER BY scraped_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending sessions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ScrapeSession, error) {
		return scanSession(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list pending sessions: %w", err)
	}
	return out, nil
}

// CreateCompetitor upserts by id; an empty id lets the database assign one.
func (s *Store) CreateCompetitor(ctx context.Context, c models.Competitor) (*models.Competitor, error) {
	var out models.Competitor
	err := s.q.QueryRow(ctx, `
		INSERT INTO competitors (id, name, pricing_page_url)
		VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, $3)
		ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, pricing_page_url = EXCLUDED.pricing_page_url
		RETURNING id, name, pricing_page_url
	`, c.ID, c.Name, c.PricingPageURL).Scan(&out.ID, &out.Name, &out.PricingPageURL)
	if err != nil {
		return nil, fmt.Errorf("create competitor: %w", err)
	}
	return &out, nil
}

func (s *Store) ListCompetitors(ctx context.Context) ([]models.Competitor, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, name, pricing_page_url FROM competitors ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list competitors: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Competitor, error) {
		var c models.Competitor
		err := row.Scan(&c.ID, &c.Name, &c.PricingPageURL)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("list competitors: %w", err)
	}
	return out, nil
}

// ListCurrentPlans returns the current generation with features in order.
func (s *Store) ListCurrentPlans(ctx context.Context, competitorID string) ([]models.PricingPlan, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, scrape_session_id, competitor_id, plan_name, price, currency,
		       billing_cycle, description, is_current, created_at
		FROM pricing_plans
		WHERE competitor_id = $1 AND is_current
		ORDER BY created_at, id
	`, competitorID)
	if err != nil {
		return nil, fmt.Errorf("list current plans: %w", err)
	}
	plans, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PricingPlan, error) {
		var (
			p     models.PricingPlan
			cycle string
		)
		err := row.Scan(&p.ID, &p.SessionID, &p.CompetitorID, &p.Name, &p.Price, &p.Currency,
			&cycle, &p.Description, &p.IsCurrent, &p.CreatedAt)
		p.BillingCycle = models.BillingCycle(cycle)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("list current plans: %w", err)
	}
	if len(plans) == 0 {
		return []models.PricingPlan{}, nil
	}

	index := make(map[string]int, len(plans))
	ids := make([]string, len(plans))
	for i, p := range plans {
		index[p.ID] = i
		ids[i] = p.ID
	}

	frows, err := s.q.Query(ctx, `
		SELECT plan_id, feature_text FROM plan_features
		WHERE plan_id = ANY($1) AND is_current
		ORDER BY plan_id, position
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	var planID, text string
	_, err = pgx.ForEachRow(frows, []any{&planID, &text}, func() error {
		if i, ok := index[planID]; ok {
			plans[i].Features = append(plans[i].Features, text)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	return plans, nil
}
