package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/pricewatch/internal/models"
)

// Memory is an in-process Backend and JobSource.
// It backs dry runs and tests; failures can be injected per operation.
type Memory struct {
	mu          sync.Mutex
	competitors map[string]models.Competitor
	sessions    map[string]models.ScrapeSession
	plans       map[string]*models.PricingPlan
	planOrder   []string
	features    map[string][]*models.PlanFeature

	faults map[string]fault
	calls  []string
	subs   []chan models.ScrapeSession
}

type fault struct {
	after int
	err   error
}

var (
	_ Backend   = (*Memory)(nil)
	_ JobSource = (*Memory)(nil)
)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		competitors: make(map[string]models.Competitor),
		sessions:    make(map[string]models.ScrapeSession),
		plans:       make(map[string]*models.PricingPlan),
		features:    make(map[string][]*models.PlanFeature),
		faults:      make(map[string]fault),
	}
}

// FailOn makes op return err on every call.
func (m *Memory) FailOn(op string, err error) {
	m.FailAfter(op, 0, err)
}

// FailAfter lets op succeed n times, then return err.
func (m *Memory) FailAfter(op string, n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = fault{after: n, err: err}
}

// Calls returns the operations invoked so far, in order.
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// record logs op and returns an injected fault if one is due. Caller must hold mu.
func (m *Memory) record(op string) error {
	m.calls = append(m.calls, op)
	f, ok := m.faults[op]
	if !ok {
		return nil
	}
	if f.after > 0 {
		f.after--
		m.faults[op] = f
		return nil
	}
	return f.err
}

func (m *Memory) InitSchema(ctx context.Context) error { return nil }

// Close closes all subscriber channels.
func (m *Memory) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
	return nil
}

func (m *Memory) GetCompetitor(ctx context.Context, id string) (*models.Competitor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetCompetitor"); err != nil {
		return nil, err
	}
	c, ok := m.competitors[id]
	if !ok {
		return nil, fmt.Errorf("competitor %s: %w", id, ErrNotFound)
	}
	return &c, nil
}

func (m *Memory) GetCurrentPlanIDs(ctx context.Context, competitorID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetCurrentPlanIDs"); err != nil {
		return nil, err
	}
	var ids []string
	for _, id := range m.planOrder {
		p := m.plans[id]
		if p.CompetitorID == competitorID && p.IsCurrent {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *Memory) SetFeaturesNonCurrent(ctx context.Context, planIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("SetFeaturesNonCurrent"); err != nil {
		return err
	}
	for _, id := range planIDs {
		for _, f := range m.features[id] {
			f.IsCurrent = false
		}
	}
	return nil
}

func (m *Memory) SetPlansNonCurrent(ctx context.Context, planIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("SetPlansNonCurrent"); err != nil {
		return err
	}
	for _, id := range planIDs {
		if p, ok := m.plans[id]; ok {
			p.IsCurrent = false
		}
	}
	return nil
}

func (m *Memory) InsertPlan(ctx context.Context, sessionID, competitorID string, fields PlanFields) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("InsertPlan"); err != nil {
		return "", err
	}
	id := uuid.NewString()
	m.plans[id] = &models.PricingPlan{
		ID:           id,
		SessionID:    sessionID,
		CompetitorID: competitorID,
		Name:         fields.Name,
		Price:        fields.Price,
		Currency:     fields.Currency,
		BillingCycle: fields.BillingCycle,
		Description:  fields.Description,
		IsCurrent:    true,
		CreatedAt:    time.Now(),
	}
	m.planOrder = append(m.planOrder, id)
	return id, nil
}

func (m *Memory) InsertFeatures(ctx context.Context, planID string, features []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("InsertFeatures"); err != nil {
		return err
	}
	for _, text := range features {
		m.features[planID] = append(m.features[planID], &models.PlanFeature{
			ID:        uuid.NewString(),
			PlanID:    planID,
			Text:      text,
			IsCurrent: true,
		})
	}
	return nil
}

func (m *Memory) UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus, errorMessage *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("UpdateSessionStatus"); err != nil {
		return err
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	s.Status = status
	s.ErrorMessage = errorMessage
	if status.Terminal() {
		now := time.Now()
		s.FinishedAt = &now
	}
	m.sessions[sessionID] = s
	return nil
}

func (m *Memory) UpdateSessionStage(ctx context.Context, sessionID string, stage models.SessionStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("UpdateSessionStage"); err != nil {
		return err
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	s.Stage = stage
	m.sessions[sessionID] = s
	return nil
}

func (m *Memory) ClaimSession(ctx context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ClaimSession"); err != nil {
		return false, err
	}
	s, ok := m.sessions[sessionID]
	if !ok || s.Status != models.SessionPending || s.Stage != models.StageQueued {
		return false, nil
	}
	s.Stage = models.StageFetching
	m.sessions[sessionID] = s
	return true, nil
}

func (m *Memory) GetSession(ctx context.Context, id string) (*models.ScrapeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return &s, nil
}

// CreateSession inserts a pending session and notifies subscribers.
func (m *Memory) CreateSession(ctx context.Context, competitorID string) (*models.ScrapeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := models.ScrapeSession{
		ID:           uuid.NewString(),
		CompetitorID: competitorID,
		Status:       models.SessionPending,
		Stage:        models.StageQueued,
		ScrapedAt:    time.Now(),
	}
	m.sessions[s.ID] = s
	for _, ch := range m.subs {
		select {
		case ch <- s:
		default:
		}
	}
	return &s, nil
}

func (m *Memory) ListPendingSessions(ctx context.Context) ([]models.ScrapeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ScrapeSession
	for _, s := range m.sessions {
		if s.Status == models.SessionPending {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b models.ScrapeSession) int {
		return a.ScrapedAt.Compare(b.ScrapedAt)
	})
	return out, nil
}

func (m *Memory) CreateCompetitor(ctx context.Context, c models.Competitor) (*models.Competitor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	m.competitors[c.ID] = c
	return &c, nil
}

func (m *Memory) ListCompetitors(ctx context.Context) ([]models.Competitor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Competitor, 0, len(m.competitors))
	for _, c := range m.competitors {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b models.Competitor) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return out, nil
}

// ListCurrentPlans returns the current generation with features attached.
func (m *Memory) ListCurrentPlans(ctx context.Context, competitorID string) ([]models.PricingPlan, error) {
	return m.listPlans(competitorID, true), nil
}

// AllPlans returns every plan for a competitor, current or archived.
func (m *Memory) AllPlans(competitorID string) []models.PricingPlan {
	return m.listPlans(competitorID, false)
}

// Features returns the feature rows of a plan.
func (m *Memory) Features(planID string) []models.PlanFeature {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PlanFeature, 0, len(m.features[planID]))
	for _, f := range m.features[planID] {
		out = append(out, *f)
	}
	return out
}

func (m *Memory) listPlans(competitorID string, currentOnly bool) []models.PricingPlan {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PricingPlan
	for _, id := range m.planOrder {
		p := m.plans[id]
		if p.CompetitorID != competitorID || (currentOnly && !p.IsCurrent) {
			continue
		}
		plan := *p
		plan.Features = nil
		for _, f := range m.features[id] {
			plan.Features = append(plan.Features, f.Text)
		}
		out = append(out, plan)
	}
	return out
}

// Subscribe returns a channel receiving every session created after the call.
func (m *Memory) Subscribe(ctx context.Context) (<-chan models.ScrapeSession, error) {
	ch := make(chan models.ScrapeSession, 64)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, c := range m.subs {
			if c == ch {
				m.subs = slices.Delete(m.subs, i, i+1)
				close(ch)
				return
			}
		}
	}()
	return ch, nil
}
