// Package store defines the persistence boundary consumed by the pipeline.
package store

import (
	"context"
	"errors"

	"github.com/raphaelgruber/pricewatch/internal/models"
)

// ErrNotFound indicates the requested competitor or session does not exist.
var ErrNotFound = errors.New("not found")

// PlanFields are the values written for one new plan row.
type PlanFields struct {
	Name         string
	Price        *float64
	Currency     string
	BillingCycle models.BillingCycle
	Description  string
}

// Store is the set of operations the pipeline needs from the relational store.
type Store interface {
	GetCompetitor(ctx context.Context, id string) (*models.Competitor, error)
	GetCurrentPlanIDs(ctx context.Context, competitorID string) ([]string, error)
	SetFeaturesNonCurrent(ctx context.Context, planIDs []string) error
	SetPlansNonCurrent(ctx context.Context, planIDs []string) error
	InsertPlan(ctx context.Context, sessionID, competitorID string, fields PlanFields) (string, error)
	InsertFeatures(ctx context.Context, planID string, features []string) error
	UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus, errorMessage *string) error
	UpdateSessionStage(ctx context.Context, sessionID string, stage models.SessionStage) error
	// ClaimSession moves a pending, queued session to the fetching stage and
	// reports whether this caller made that move. Unknown sessions and
	// sessions already claimed or finished report false.
	ClaimSession(ctx context.Context, sessionID string) (bool, error)
}

// Transactor is implemented by stores that can run several writes atomically.
// fn receives a Store bound to the transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// Admin covers the operations used by the worker and the CLI outside the pipeline.
type Admin interface {
	GetSession(ctx context.Context, id string) (*models.ScrapeSession, error)
	CreateSession(ctx context.Context, competitorID string) (*models.ScrapeSession, error)
	ListPendingSessions(ctx context.Context) ([]models.ScrapeSession, error)
	CreateCompetitor(ctx context.Context, c models.Competitor) (*models.Competitor, error)
	ListCompetitors(ctx context.Context) ([]models.Competitor, error)
	ListCurrentPlans(ctx context.Context, competitorID string) ([]models.PricingPlan, error)
}

// Backend is a full persistence implementation.
type Backend interface {
	Store
	Admin
	InitSchema(ctx context.Context) error
	Close(ctx context.Context) error
}

// JobSource delivers newly created scrape sessions.
// The channel is closed when ctx is cancelled or the source is closed.
type JobSource interface {
	Subscribe(ctx context.Context) (<-chan models.ScrapeSession, error)
	Close(ctx context.Context) error
}
