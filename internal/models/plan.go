package models

import (
	"strings"
	"time"
)

// BillingCycle is how often a plan is charged.
type BillingCycle string

const (
	BillingMonthly  BillingCycle = "monthly"
	BillingAnnually BillingCycle = "annually"
	BillingOneTime  BillingCycle = "one_time"
)

// DefaultCurrency is applied when a plan carries no currency code.
const DefaultCurrency = "USD"

// ParseBillingCycle maps s onto a known cycle.
// Anything unrecognised, including the empty string, becomes monthly.
func ParseBillingCycle(s string) BillingCycle {
	switch BillingCycle(strings.ToLower(strings.TrimSpace(s))) {
	case BillingAnnually:
		return BillingAnnually
	case BillingOneTime:
		return BillingOneTime
	default:
		return BillingMonthly
	}
}

// Valid reports whether c is one of the recognised cycles.
func (c BillingCycle) Valid() bool {
	return c == BillingMonthly || c == BillingAnnually || c == BillingOneTime
}

// PricingPlan is one interpreted plan from a pricing page.
// Price nil means "contact us" or custom pricing.
type PricingPlan struct {
	ID           string       `json:"id,omitempty"`
	SessionID    string       `json:"scrape_session_id,omitempty"`
	CompetitorID string       `json:"competitor_id,omitempty"`
	Name         string       `json:"planName"`
	Price        *float64     `json:"price"`
	Currency     string       `json:"currency"`
	BillingCycle BillingCycle `json:"billingCycle"`
	Description  string       `json:"description"`
	Features     []string     `json:"features"`
	IsCurrent    bool         `json:"is_current,omitempty"`
	CreatedAt    time.Time    `json:"created_at,omitzero"`
}

// PlanFeature is one feature line owned by a plan.
// Its IsCurrent flag always moves together with the parent plan.
type PlanFeature struct {
	ID        string `json:"id,omitempty"`
	PlanID    string `json:"plan_id"`
	Text      string `json:"feature_text"`
	IsCurrent bool   `json:"is_current"`
}
