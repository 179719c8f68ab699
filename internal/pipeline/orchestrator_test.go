package pipeline

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/pricewatch/internal/fetch"
	"github.com/raphaelgruber/pricewatch/internal/interpret"
	"github.com/raphaelgruber/pricewatch/internal/metrics"
	"github.com/raphaelgruber/pricewatch/internal/models"
	"github.com/raphaelgruber/pricewatch/internal/store"
)

type stubFetcher struct {
	html  string
	err   error
	calls atomic.Int32
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.calls.Add(1)
	return f.html, f.err
}

type stubReducer struct {
	text  string
	err   error
	calls atomic.Int32
}

func (r *stubReducer) Reduce(html string) (string, error) {
	r.calls.Add(1)
	return r.text, r.err
}

type stubInterpreter struct {
	fn    func(text string) ([]models.PricingPlan, error)
	calls atomic.Int32
}

func (i *stubInterpreter) Interpret(ctx context.Context, text string) ([]models.PricingPlan, error) {
	i.calls.Add(1)
	return i.fn(text)
}

// stubGenerator feeds a canned model response through the real interpreter.
type stubGenerator struct {
	mu       sync.Mutex
	response string
}

func (g *stubGenerator) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.response, nil
}

func (g *stubGenerator) set(response string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.response = response
}

const proResponse = `{"plans":[{"planName":"Pro","price":29,"currency":"USD","billingCycle":"monthly","description":"For teams","features":["A","B"]}]}`

type harness struct {
	store      *store.Memory
	fetcher    *stubFetcher
	reducer    *stubReducer
	generator  *stubGenerator
	metrics    *metrics.Collector
	orch       *Orchestrator
	competitor models.Competitor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	m := store.NewMemory()
	c, err := m.CreateCompetitor(context.Background(), models.Competitor{
		ID:             "c1",
		Name:           "Acme",
		PricingPageURL: "https://acme.test/pricing",
	})
	require.NoError(t, err)

	h := &harness{
		store:      m,
		fetcher:    &stubFetcher{html: strings.Repeat("x", 50000)},
		reducer:    &stubReducer{text: "Pricing\nPro Plan $29/month\nA\nB"},
		generator:  &stubGenerator{response: proResponse},
		metrics:    metrics.NewCollector(),
		competitor: *c,
	}
	h.orch = New(m, h.fetcher, h.reducer, interpret.NewLLMInterpreter(h.generator, 0), WithMetrics(h.metrics))
	return h
}

func (h *harness) session(t *testing.T) models.ScrapeSession {
	t.Helper()
	s, err := h.store.CreateSession(context.Background(), h.competitor.ID)
	require.NoError(t, err)
	return *s
}

func (h *harness) process(t *testing.T) (models.ScrapeSession, Outcome) {
	t.Helper()
	s := h.session(t)
	out := h.orch.Process(context.Background(), s)
	stored, err := h.store.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	return *stored, out
}

func TestProcess_EndToEnd(t *testing.T) {
	h := newHarness(t)

	sess, out := h.process(t)

	require.NoError(t, out.Err)
	assert.Equal(t, models.SessionSuccess, out.Status)
	assert.Equal(t, models.SessionSuccess, sess.Status)
	assert.Nil(t, sess.ErrorMessage)
	assert.NotNil(t, sess.FinishedAt)
	assert.Equal(t, models.StageDone, sess.Stage)
	assert.Zero(t, out.Archived)

	plans := h.store.AllPlans("c1")
	require.Len(t, plans, 1)
	p := plans[0]
	assert.Equal(t, "Pro", p.Name)
	require.NotNil(t, p.Price)
	assert.Equal(t, 29.0, *p.Price)
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, models.BillingMonthly, p.BillingCycle)
	assert.Equal(t, "For teams", p.Description)
	assert.Equal(t, sess.ID, p.SessionID)
	assert.True(t, p.IsCurrent)

	features := h.store.Features(p.ID)
	require.Len(t, features, 2)
	for _, f := range features {
		assert.True(t, f.IsCurrent)
	}

	require.Len(t, out.Plans, 1)
	assert.Equal(t, p.ID, out.Plans[0].ID)

	assert.Equal(t, int64(1), h.metrics.Op(metrics.OpJobSuccess).Count)
	assert.Equal(t, int64(1), h.metrics.Op(metrics.OpFetch).Count)
}

func TestProcess_StageMarkersInOrder(t *testing.T) {
	h := newHarness(t)
	h.process(t)

	calls := h.store.Calls()
	claimAt := slices.Index(calls, "ClaimSession")
	require.GreaterOrEqual(t, claimAt, 0)

	var statusAt, lastStage int
	var sawStage []string
	for i, c := range calls {
		switch c {
		case "UpdateSessionStage":
			sawStage = append(sawStage, c)
			lastStage = i
		case "UpdateSessionStatus":
			statusAt = i
		}
	}
	assert.Less(t, claimAt, slices.Index(calls, "GetCompetitor"), "the claim moves the session to fetching before any work")
	assert.Len(t, sawStage, 4, "extracting, interpreting, persisting, done")
	assert.Greater(t, lastStage, statusAt, "done is written after the terminal status")
}

func TestProcess_SkipsClaimedSession(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)

	first := h.orch.Process(context.Background(), s)
	require.NoError(t, first.Err)
	require.False(t, first.Skipped)

	second := h.orch.Process(context.Background(), s)
	assert.True(t, second.Skipped)
	assert.NoError(t, second.Err)
	assert.Equal(t, int32(1), h.fetcher.calls.Load())
	assert.Len(t, h.store.AllPlans("c1"), 1)

	stored, err := h.store.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionSuccess, stored.Status)
}

func TestProcess_ClaimError(t *testing.T) {
	h := newHarness(t)
	h.store.FailOn("ClaimSession", errors.New("connection refused"))

	sess, out := h.process(t)

	assert.True(t, out.Skipped)
	assert.ErrorIs(t, out.Err, ErrPersistence)
	assert.Equal(t, models.SessionPending, sess.Status)
	assert.Equal(t, models.StageQueued, sess.Stage, "left for a later attempt")
	assert.Zero(t, h.fetcher.calls.Load())
}

func TestProcess_CompetitorNotFound(t *testing.T) {
	h := newHarness(t)
	s, err := h.store.CreateSession(context.Background(), "missing")
	require.NoError(t, err)

	out := h.orch.Process(context.Background(), *s)

	assert.Equal(t, models.SessionFailed, out.Status)
	assert.ErrorIs(t, out.Err, ErrCompetitorNotFound)
	assert.ErrorIs(t, out.Err, store.ErrNotFound)

	stored, err := h.store.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "competitor not found")

	assert.Zero(t, h.fetcher.calls.Load())
	assert.Zero(t, h.reducer.calls.Load())
}

func TestProcess_CompetitorLookupError(t *testing.T) {
	h := newHarness(t)
	h.store.FailOn("GetCompetitor", errors.New("connection refused"))

	_, out := h.process(t)

	assert.Equal(t, models.SessionFailed, out.Status)
	assert.ErrorIs(t, out.Err, ErrCompetitorNotFound)
	assert.Zero(t, h.fetcher.calls.Load())
}

func TestProcess_StageFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		wantErr []error
	}{
		{
			name:    "fetch",
			setup:   func(h *harness) { h.fetcher.err = errors.New("navigation timeout") },
			wantErr: []error{ErrFetch},
		},
		{
			name:    "blocked page",
			setup:   func(h *harness) { h.fetcher.err = fetch.ErrBlocked },
			wantErr: []error{ErrFetch, fetch.ErrBlocked},
		},
		{
			name:    "extraction",
			setup:   func(h *harness) { h.reducer.err = errors.New("no body") },
			wantErr: []error{ErrExtraction},
		},
		{
			name:    "zero plans",
			setup:   func(h *harness) { h.generator.set(`{"plans": []}`) },
			wantErr: []error{ErrInterpretation, ErrNoPlans},
		},
		{
			name:    "unparseable",
			setup:   func(h *harness) { h.generator.set("I'm sorry, there is no pricing here.") },
			wantErr: []error{ErrInterpretation, interpret.ErrNoJSON},
		},
		{
			name:    "plans not a list",
			setup:   func(h *harness) { h.generator.set(`{"plans": "Pro"}`) },
			wantErr: []error{ErrInterpretation, interpret.ErrPlansNotList},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			first, _ := h.process(t)
			require.Equal(t, models.SessionSuccess, first.Status)
			before := h.store.AllPlans("c1")

			tt.setup(h)
			sess, out := h.process(t)

			assert.Equal(t, models.SessionFailed, out.Status)
			assert.Equal(t, models.SessionFailed, sess.Status)
			for _, want := range tt.wantErr {
				assert.ErrorIs(t, out.Err, want)
			}
			require.NotNil(t, sess.ErrorMessage)
			assert.Equal(t, models.TruncateMessage(out.Err.Error(), models.MaxErrorMessageLen), *sess.ErrorMessage)

			assert.Equal(t, before, h.store.AllPlans("c1"), "existing current data untouched")
			assert.Equal(t, int64(1), h.metrics.Op(metrics.OpJobFailed).Count)
		})
	}
}

func TestProcess_ZeroPlansMessage(t *testing.T) {
	h := newHarness(t)
	h.generator.set(`{"plans": []}`)

	sess, _ := h.process(t)

	require.NotNil(t, sess.ErrorMessage)
	assert.Contains(t, *sess.ErrorMessage, "did not return any plans")
	assert.Empty(t, h.store.AllPlans("c1"))
}

func TestProcess_ReplacesGeneration(t *testing.T) {
	h := newHarness(t)

	first, _ := h.process(t)
	require.Equal(t, models.SessionSuccess, first.Status)

	h.generator.set(`{"plans":[
		{"planName":"Starter","price":0,"features":["1 project"]},
		{"planName":"Business","price":99,"billingCycle":"annually","features":["SSO","Audit log"]}
	]}`)
	second, out := h.process(t)
	require.Equal(t, models.SessionSuccess, second.Status)
	assert.Equal(t, 1, out.Archived)

	all := h.store.AllPlans("c1")
	require.Len(t, all, 3)

	var ids []string
	current := map[string]int{}
	for _, p := range all {
		ids = append(ids, p.ID)
		if p.IsCurrent {
			current[p.SessionID]++
			assert.Equal(t, second.ID, p.SessionID)
		} else {
			assert.Equal(t, first.ID, p.SessionID)
			for _, f := range h.store.Features(p.ID) {
				assert.False(t, f.IsCurrent, "archived plan feature %q", f.Text)
			}
		}
	}
	assert.Len(t, current, 1, "exactly one current generation")
	assert.Equal(t, 2, current[second.ID])
	assertNoDanglingFeatures(t, h.store, "c1", ids)

	listed, err := h.store.ListCurrentPlans(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestProcess_ArchiveFailuresAbortBeforeInsert(t *testing.T) {
	boom := errors.New("write timeout")

	tests := []struct {
		name    string
		failOp  string
		wantErr error
	}{
		{"read", "GetCurrentPlanIDs", ErrArchiveRead},
		{"features", "SetFeaturesNonCurrent", ErrArchiveWrite},
		{"plans", "SetPlansNonCurrent", ErrArchiveWrite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			first, _ := h.process(t)
			require.Equal(t, models.SessionSuccess, first.Status)
			before := h.store.AllPlans("c1")

			h.store.FailOn(tt.failOp, boom)
			insertsBefore := countCalls(h.store.Calls(), "InsertPlan")

			sess, out := h.process(t)

			assert.Equal(t, models.SessionFailed, sess.Status)
			assert.ErrorIs(t, out.Err, ErrPersistence)
			assert.ErrorIs(t, out.Err, tt.wantErr)
			assert.ErrorIs(t, out.Err, boom)
			assert.Equal(t, insertsBefore, countCalls(h.store.Calls(), "InsertPlan"), "no insert after failed archival")
			if tt.failOp != "SetPlansNonCurrent" {
				assert.Equal(t, before, h.store.AllPlans("c1"))
			}
		})
	}
}

func TestProcess_InsertFailureLeavesNoPartialGeneration(t *testing.T) {
	boom := errors.New("constraint violation")

	tests := []struct {
		name   string
		failOp string
		after  int
	}{
		{"second plan", "InsertPlan", 1},
		{"features of first plan", "InsertFeatures", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			first, _ := h.process(t)
			require.Equal(t, models.SessionSuccess, first.Status)

			h.generator.set(`{"plans":[
				{"planName":"A","price":1,"features":["a1"]},
				{"planName":"B","price":2,"features":["b1"]}
			]}`)
			h.store.FailAfter(tt.failOp, tt.after, boom)

			sess, out := h.process(t)

			assert.Equal(t, models.SessionFailed, sess.Status)
			assert.ErrorIs(t, out.Err, ErrInsert)
			assert.ErrorIs(t, out.Err, boom)
			assert.Empty(t, out.Plans)

			current, err := h.store.ListCurrentPlans(context.Background(), "c1")
			require.NoError(t, err)
			assert.Empty(t, current, "old generation stays archived and the partial one is retracted")

			var ids []string
			for _, p := range h.store.AllPlans("c1") {
				ids = append(ids, p.ID)
			}
			assertNoDanglingFeatures(t, h.store, "c1", ids)
		})
	}
}

// panicOnFeatures panics while writing features once the first plan of a
// new generation exists.
type panicOnFeatures struct {
	*store.Memory
	armed atomic.Bool
}

func (p *panicOnFeatures) InsertFeatures(ctx context.Context, planID string, features []string) error {
	if p.armed.Load() {
		panic("features table missing")
	}
	return p.Memory.InsertFeatures(ctx, planID, features)
}

func TestProcess_PanicDuringInsertRetractsPartialGeneration(t *testing.T) {
	h := newHarness(t)
	ps := &panicOnFeatures{Memory: h.store}
	orch := New(ps, h.fetcher, h.reducer, interpret.NewLLMInterpreter(h.generator, 0))

	first := orch.Process(context.Background(), h.session(t))
	require.NoError(t, first.Err)

	ps.armed.Store(true)
	s := h.session(t)
	out := orch.Process(context.Background(), s)

	assert.Equal(t, models.SessionFailed, out.Status)
	assert.ErrorIs(t, out.Err, ErrInsert)
	assert.Contains(t, out.Err.Error(), "features table missing")

	for _, p := range h.store.AllPlans("c1") {
		if p.SessionID == s.ID {
			assert.False(t, p.IsCurrent, "plan %s of the failed session stays current", p.Name)
		}
	}
	current, err := h.store.ListCurrentPlans(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, current)
}

func TestProcess_ErrorMessageTruncated(t *testing.T) {
	h := newHarness(t)
	h.fetcher.err = errors.New(strings.Repeat("ü", 2000))

	sess, _ := h.process(t)

	require.NotNil(t, sess.ErrorMessage)
	assert.LessOrEqual(t, len(*sess.ErrorMessage), models.MaxErrorMessageLen)
	assert.True(t, strings.HasPrefix(*sess.ErrorMessage, "fetch failed: "))
}

func TestProcess_RecoversPanics(t *testing.T) {
	h := newHarness(t)
	interp := &stubInterpreter{fn: func(string) ([]models.PricingPlan, error) {
		panic("nil map write")
	}}
	orch := New(h.store, h.fetcher, h.reducer, interp)

	s := h.session(t)
	out := orch.Process(context.Background(), s)

	assert.Equal(t, models.SessionFailed, out.Status)
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "nil map write")

	stored, err := h.store.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, stored.Status)
}

func TestProcess_NormalizesInterpreterOutput(t *testing.T) {
	h := newHarness(t)
	interp := &stubInterpreter{fn: func(string) ([]models.PricingPlan, error) {
		return []models.PricingPlan{{Name: "", Price: models.Float(-3), BillingCycle: "weekly"}}, nil
	}}
	orch := New(h.store, h.fetcher, h.reducer, interp)

	out := orch.Process(context.Background(), h.session(t))
	require.NoError(t, out.Err)

	plans := h.store.AllPlans("c1")
	require.Len(t, plans, 1)
	assert.Equal(t, interpret.DefaultPlanName, plans[0].Name)
	assert.Equal(t, 0.0, *plans[0].Price)
	assert.Equal(t, "USD", plans[0].Currency)
	assert.Equal(t, models.BillingMonthly, plans[0].BillingCycle)
}

func TestProcess_StatusWriteSurvivesCancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.fetcher.err = context.Canceled
	cancel()

	s := h.session(t)
	out := h.orch.Process(ctx, s)
	assert.Equal(t, models.SessionFailed, out.Status)

	stored, err := h.store.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, stored.Status)
}

func TestProcess_ConcurrentSameCompetitor(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	for range 6 {
		s := h.session(t)
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.orch.Process(context.Background(), s)
		}()
	}
	wg.Wait()

	all := h.store.AllPlans("c1")
	require.Len(t, all, 6)

	generations := map[string]bool{}
	for _, p := range all {
		if p.IsCurrent {
			generations[p.SessionID] = true
		}
	}
	assert.Len(t, generations, 1, "exactly one current generation")
}

// txMemory runs transactional work directly against the memory store and
// records that the transactional path was taken.
type txMemory struct {
	*store.Memory
	txs atomic.Int32
}

func (m *txMemory) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	m.txs.Add(1)
	return fn(m.Memory)
}

func TestProcess_UsesTransactor(t *testing.T) {
	h := newHarness(t)
	tx := &txMemory{Memory: h.store}
	orch := New(tx, h.fetcher, h.reducer, interpret.NewLLMInterpreter(h.generator, 0))

	out := orch.Process(context.Background(), h.session(t))
	require.NoError(t, out.Err)
	assert.Equal(t, int32(1), tx.txs.Load())

	h.generator.set(`{"plans":[{"planName":"A"},{"planName":"B"}]}`)
	h.store.FailAfter("InsertPlan", 1, errors.New("boom"))
	out = orch.Process(context.Background(), h.session(t))

	assert.ErrorIs(t, out.Err, ErrInsert)
	assert.Equal(t, int32(2), tx.txs.Load())

	// Rollback belongs to the transaction, so no compensating writes follow the failed insert.
	calls := h.store.Calls()
	last := len(calls) - 1
	for calls[last] != "InsertPlan" {
		last--
	}
	for _, c := range calls[last+1:] {
		assert.NotEqual(t, "SetPlansNonCurrent", c)
	}
}

func countCalls(calls []string, op string) int {
	n := 0
	for _, c := range calls {
		if c == op {
			n++
		}
	}
	return n
}
