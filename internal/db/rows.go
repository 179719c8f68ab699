package db

import (
	"fmt"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/pricewatch/internal/models"
)

type competitorRow struct {
	ID             surrealmodels.RecordID `json:"id"`
	Name           string                 `json:"name"`
	PricingPageURL string                 `json:"pricing_page_url"`
}

func (r competitorRow) model() models.Competitor {
	return models.Competitor{ID: recordKey(r.ID), Name: r.Name, PricingPageURL: r.PricingPageURL}
}

type sessionRow struct {
	ID           surrealmodels.RecordID `json:"id"`
	CompetitorID string                 `json:"competitor_id"`
	Status       string                 `json:"status"`
	Stage        string                 `json:"stage"`
	ScrapedAt    time.Time              `json:"scraped_at"`
	ErrorMessage *string                `json:"error_message,omitempty"`
	FinishedAt   *time.Time             `json:"finished_at,omitempty"`
}

func (r sessionRow) model() models.ScrapeSession {
	return models.ScrapeSession{
		ID:           recordKey(r.ID),
		CompetitorID: r.CompetitorID,
		Status:       models.SessionStatus(r.Status),
		Stage:        models.SessionStage(r.Stage),
		ScrapedAt:    r.ScrapedAt,
		ErrorMessage: r.ErrorMessage,
		FinishedAt:   r.FinishedAt,
	}
}

type planRow struct {
	ID           surrealmodels.RecordID `json:"id"`
	SessionID    string                 `json:"scrape_session_id"`
	CompetitorID string                 `json:"competitor_id"`
	Name         string                 `json:"plan_name"`
	Price        *float64               `json:"price,omitempty"`
	Currency     string                 `json:"currency"`
	BillingCycle string                 `json:"billing_cycle"`
	Description  string                 `json:"description"`
	IsCurrent    bool                   `json:"is_current"`
	CreatedAt    time.Time              `json:"created_at"`
}

func (r planRow) model() models.PricingPlan {
	return models.PricingPlan{
		ID:           recordKey(r.ID),
		SessionID:    r.SessionID,
		CompetitorID: r.CompetitorID,
		Name:         r.Name,
		Price:        r.Price,
		Currency:     r.Currency,
		BillingCycle: models.BillingCycle(r.BillingCycle),
		Description:  r.Description,
		Features:     []string{},
		IsCurrent:    r.IsCurrent,
		CreatedAt:    r.CreatedAt,
	}
}

type featureRow struct {
	PlanID   string `json:"plan_id"`
	Text     string `json:"feature_text"`
	Position int    `json:"position"`
}

// recordKey returns the id part of a record id. Records are created with
// uuid string keys, so other key types only appear in foreign data.
func recordKey(id surrealmodels.RecordID) string {
	if s, ok := id.ID.(string); ok {
		return s
	}
	return fmt.Sprint(id.ID)
}
