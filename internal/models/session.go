// Package models defines data structures shared by the pricewatch pipeline.
package models

import "time"

// SessionStatus is the lifecycle state of a scrape session.
// A session is created pending and moves to exactly one terminal status.
type SessionStatus string

const (
	SessionPending SessionStatus = "pending"
	SessionSuccess SessionStatus = "success"
	SessionFailed  SessionStatus = "failed"
)

// Terminal reports whether the status is final.
func (s SessionStatus) Terminal() bool {
	return s == SessionSuccess || s == SessionFailed
}

// SessionStage marks how far a session has progressed through the pipeline.
// It is informational only; Status alone decides the outcome.
type SessionStage string

const (
	StageQueued       SessionStage = "queued"
	StageFetching     SessionStage = "fetching"
	StageExtracting   SessionStage = "extracting"
	StageInterpreting SessionStage = "interpreting"
	StagePersisting   SessionStage = "persisting"
	StageDone         SessionStage = "done"
)

// stageOrder is used to report progress as a fraction.
var stageOrder = []SessionStage{
	StageQueued,
	StageFetching,
	StageExtracting,
	StageInterpreting,
	StagePersisting,
	StageDone,
}

// Progress returns the stage position as a value in [0, 1].
func (s SessionStage) Progress() float64 {
	for i, st := range stageOrder {
		if st == s {
			return float64(i) / float64(len(stageOrder)-1)
		}
	}
	return 0
}

// ScrapeSession is one request to refresh one competitor's pricing data.
type ScrapeSession struct {
	ID           string        `json:"id"`
	CompetitorID string        `json:"competitor_id"`
	Status       SessionStatus `json:"status"`
	Stage        SessionStage  `json:"stage,omitempty"`
	ScrapedAt    time.Time     `json:"scraped_at"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// Competitor is a named entity with one pricing page.
type Competitor struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	PricingPageURL string `json:"pricing_page_url" yaml:"pricing_page_url"`
}
