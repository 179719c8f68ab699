package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/pricewatch/internal/models"
	"github.com/raphaelgruber/pricewatch/internal/store"
)

// rows returns the records of the first statement's result.
func rows[T any](results *[]surrealdb.QueryResult[[]T]) []T {
	if results == nil || len(*results) == 0 {
		return nil
	}
	return (*results)[0].Result
}

// GetCompetitor returns store.ErrNotFound for unknown ids.
func (c *Client) GetCompetitor(ctx context.Context, id string) (*models.Competitor, error) {
	results, err := surrealdb.Query[[]competitorRow](ctx, c.db, `
		SELECT * FROM type::record("competitor", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get competitor: %w", wrapQueryError(err))
	}
	found := rows(results)
	if len(found) == 0 {
		return nil, fmt.Errorf("competitor %s: %w", id, store.ErrNotFound)
	}
	comp := found[0].model()
	return &comp, nil
}

func (c *Client) GetCurrentPlanIDs(ctx context.Context, competitorID string) ([]string, error) {
	results, err := surrealdb.Query[[]string](ctx, c.db, `
		SELECT VALUE record::id(id) FROM pricing_plan
		WHERE competitor_id = $cid AND is_current = true
	`, map[string]any{"cid": competitorID})
	if err != nil {
		return nil, fmt.Errorf("get current plan ids: %w", wrapQueryError(err))
	}
	return rows(results), nil
}

func (c *Client) SetFeaturesNonCurrent(ctx context.Context, planIDs []string) error {
	if len(planIDs) == 0 {
		return nil
	}
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE plan_feature SET is_current = false
		WHERE plan_id IN $ids AND is_current = true
	`, map[string]any{"ids": planIDs})
	if err != nil {
		return fmt.Errorf("archive features: %w", wrapQueryError(err))
	}
	return nil
}

func (c *Client) SetPlansNonCurrent(ctx context.Context, planIDs []string) error {
	if len(planIDs) == 0 {
		return nil
	}
	ids := make([]surrealmodels.RecordID, len(planIDs))
	for i, id := range planIDs {
		ids[i] = surrealmodels.NewRecordID(tablePlan, id)
	}
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE $ids SET is_current = false
	`, map[string]any{"ids": ids})
	if err != nil {
		return fmt.Errorf("archive plans: %w", wrapQueryError(err))
	}
	return nil
}

// InsertPlan creates a current plan and returns its id.
func (c *Client) InsertPlan(ctx context.Context, sessionID, competitorID string, fields store.PlanFields) (string, error) {
	id := uuid.NewString()
	content := map[string]any{
		"scrape_session_id": sessionID,
		"competitor_id":     competitorID,
		"plan_name":         fields.Name,
		"currency":          fields.Currency,
		"billing_cycle":     string(fields.BillingCycle),
		"description":       fields.Description,
		"is_current":        true,
	}
	// A missing price stays NONE ("contact us").
	if fields.Price != nil {
		content["price"] = *fields.Price
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("pricing_plan", $id) CONTENT $content
	`, map[string]any{"id": id, "content": content})
	if err != nil {
		return "", fmt.Errorf("insert plan %q: %w", fields.Name, wrapQueryError(err))
	}
	return id, nil
}

func (c *Client) InsertFeatures(ctx context.Context, planID string, features []string) error {
	if len(features) == 0 {
		return nil
	}
	records := make([]map[string]any, len(features))
	for i, text := range features {
		records[i] = map[string]any{
			"plan_id":      planID,
			"feature_text": text,
			"position":     i,
			"is_current":   true,
		}
	}
	_, err := surrealdb.Query[any](ctx, c.db, `
		INSERT INTO plan_feature $records
	`, map[string]any{"records": records})
	if err != nil {
		return fmt.Errorf("insert features: %w", wrapQueryError(err))
	}
	return nil
}

// UpdateSessionStatus sets the status; terminal statuses also stamp finished_at.
func (c *Client) UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus, errorMessage *string) error {
	vars := map[string]any{"id": sessionID, "status": string(status)}
	set := "status = $status, error_message = NONE"
	if errorMessage != nil {
		set = "status = $status, error_message = $msg"
		vars["msg"] = *errorMessage
	}
	if status.Terminal() {
		set += ", finished_at = time::now()"
	}

	results, err := surrealdb.Query[[]sessionRow](ctx, c.db,
		"UPDATE type::record(\"scrape_session\", $id) SET "+set, vars)
	if err != nil {
		return fmt.Errorf("update session status: %w", wrapQueryError(err))
	}
	if len(rows(results)) == 0 {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	return nil
}

func (c *Client) UpdateSessionStage(ctx context.Context, sessionID string, stage models.SessionStage) error {
	results, err := surrealdb.Query[[]sessionRow](ctx, c.db, `
		UPDATE type::record("scrape_session", $id) SET stage = $stage
	`, map[string]any{"id": sessionID, "stage": string(stage)})
	if err != nil {
		return fmt.Errorf("update session stage: %w", wrapQueryError(err))
	}
	if len(rows(results)) == 0 {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	return nil
}

func (c *Client) ClaimSession(ctx context.Context, sessionID string) (bool, error) {
	results, err := surrealdb.Query[[]sessionRow](ctx, c.db, `
		UPDATE type::record("scrape_session", $id) SET stage = "fetching"
		WHERE status = "pending" AND stage = "queued"
	`, map[string]any{"id": sessionID})
	if err != nil {
		return false, fmt.Errorf("claim session: %w", wrapQueryError(err))
	}
	return len(rows(results)) > 0, nil
}

func (c *Client) GetSession(ctx context.Context, id string) (*models.ScrapeSession, error) {
	results, err := surrealdb.Query[[]sessionRow](ctx, c.db, `
		SELECT * FROM type::record("scrape_session", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get session: %w", wrapQueryError(err))
	}
	found := rows(results)
	if len(found) == 0 {
		return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	s := found[0].model()
	return &s, nil
}

// CreateSession inserts a pending session. Live subscribers see it as a CREATE.
func (c *Client) CreateSession(ctx context.Context, competitorID string) (*models.ScrapeSession, error) {
	results, err := surrealdb.Query[[]sessionRow](ctx, c.db, `
		CREATE type::record("scrape_session", $id) CONTENT {
			competitor_id: $cid,
			status: "pending",
			stage: "queued"
		}
	`, map[string]any{"id": uuid.NewString(), "cid": competitorID})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", wrapQueryError(err))
	}
	created := rows(results)
	if len(created) == 0 {
		return nil, fmt.Errorf("create session: no record returned")
	}
	s := created[0].model()
	return &s, nil
}

func (c *Client) ListPendingSessions(ctx context.Context) ([]models.ScrapeSession, error) {
	results, err := surrealdb.Query[[]sessionRow](ctx, c.db, `
		SELECT * FROM scrape_session WHERE status = "pending" ORDER BY scraped_at
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list pending sessions: %w", wrapQueryError(err))
	}
	found := rows(results)
	out := make([]models.ScrapeSession, len(found))
	for i, r := range found {
		out[i] = r.model()
	}
	return out, nil
}

// CreateCompetitor upserts by id; an empty id gets a fresh uuid.
func (c *Client) CreateCompetitor(ctx context.Context, comp models.Competitor) (*models.Competitor, error) {
	if comp.ID == "" {
		comp.ID = uuid.NewString()
	}
	results, err := surrealdb.Query[[]competitorRow](ctx, c.db, `
		UPSERT type::record("competitor", $id) CONTENT {
			name: $name,
			pricing_page_url: $url
		}
	`, map[string]any{"id": comp.ID, "name": comp.Name, "url": comp.PricingPageURL})
	if err != nil {
		return nil, fmt.Errorf("create competitor: %w", wrapQueryError(err))
	}
	saved := rows(results)
	if len(saved) == 0 {
		return nil, fmt.Errorf("create competitor: no record returned")
	}
	out := saved[0].model()
	return &out, nil
}

func (c *Client) ListCompetitors(ctx context.Context) ([]models.Competitor, error) {
	results, err := surrealdb.Query[[]competitorRow](ctx, c.db, `
		SELECT * FROM competitor ORDER BY name
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list competitors: %w", wrapQueryError(err))
	}
	found := rows(results)
	out := make([]models.Competitor, len(found))
	for i, r := range found {
		out[i] = r.model()
	}
	return out, nil
}

// ListCurrentPlans returns the current generation with features in order.
func (c *Client) ListCurrentPlans(ctx context.Context, competitorID string) ([]models.PricingPlan, error) {
	planResults, err := surrealdb.Query[[]planRow](ctx, c.db, `
		SELECT * FROM pricing_plan
		WHERE competitor_id = $cid AND is_current = true
		ORDER BY created_at
	`, map[string]any{"cid": competitorID})
	if err != nil {
		return nil, fmt.Errorf("list current plans: %w", wrapQueryError(err))
	}

	found := rows(planResults)
	if len(found) == 0 {
		return []models.PricingPlan{}, nil
	}

	plans := make([]models.PricingPlan, len(found))
	index := make(map[string]int, len(found))
	ids := make([]string, len(found))
	for i, r := range found {
		plans[i] = r.model()
		index[plans[i].ID] = i
		ids[i] = plans[i].ID
	}

	featureResults, err := surrealdb.Query[[]featureRow](ctx, c.db, `
		SELECT plan_id, feature_text, position FROM plan_feature
		WHERE plan_id IN $ids AND is_current = true
		ORDER BY plan_id, position
	`, map[string]any{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("list features: %w", wrapQueryError(err))
	}
	for _, f := range rows(featureResults) {
		if i, ok := index[f.PlanID]; ok {
			plans[i].Features = append(plans[i].Features, f.Text)
		}
	}
	return plans, nil
}
