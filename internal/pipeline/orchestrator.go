package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/raphaelgruber/pricewatch/internal/extract"
	"github.com/raphaelgruber/pricewatch/internal/fetch"
	"github.com/raphaelgruber/pricewatch/internal/interpret"
	"github.com/raphaelgruber/pricewatch/internal/lock"
	"github.com/raphaelgruber/pricewatch/internal/metrics"
	"github.com/raphaelgruber/pricewatch/internal/models"
	"github.com/raphaelgruber/pricewatch/internal/store"
)

// statusWriteTimeout bounds the final status write, which runs even after
// the job context is cancelled so a session never stays pending silently.
const statusWriteTimeout = 10 * time.Second

// Outcome summarizes one processed session.
type Outcome struct {
	SessionID string
	Status    models.SessionStatus
	// Plans holds the persisted generation on success.
	Plans []models.PricingPlan
	// Archived counts the previously current plans flagged non-current.
	Archived int
	Err      error
	Duration time.Duration
	// Skipped is set when another worker already owns the session. Nothing
	// was written for it.
	Skipped bool
}

// Orchestrator runs sessions through fetch, extract, interpret and persist.
// It is safe for concurrent use; sessions for the same competitor are
// serialized around the archive and insert step.
type Orchestrator struct {
	store       store.Store
	fetcher     fetch.Fetcher
	reducer     extract.TextReducer
	interpreter interpret.Interpreter
	locker      lock.Locker
	metrics     *metrics.Collector
	logger      *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLocker replaces the default in-process competitor lock.
func WithLocker(l lock.Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

// WithMetrics records stage timings and job results.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator.
func New(s store.Store, f fetch.Fetcher, r extract.TextReducer, i interpret.Interpreter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       s,
		fetcher:     f,
		reducer:     r,
		interpreter: i,
		locker:      lock.NewLocal(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process drives one session to a terminal status. It first claims the
// session; a session claimed elsewhere is skipped untouched. Once claimed it
// never panics and never returns without attempting to record success or
// failure.
func (o *Orchestrator) Process(ctx context.Context, session models.ScrapeSession) (out Outcome) {
	start := time.Now()
	log := o.logger.With("session_id", session.ID, "competitor_id", session.CompetitorID)
	out.SessionID = session.ID
	out.Status = models.SessionPending

	claimed, err := o.store.ClaimSession(ctx, session.ID)
	if err != nil {
		log.Error("failed to claim session", "error", err)
		out.Skipped = true
		out.Err = fmt.Errorf("%w: claim session: %w", ErrPersistence, err)
		out.Duration = time.Since(start)
		return out
	}
	if !claimed {
		log.Debug("session already claimed")
		out.Skipped = true
		out.Duration = time.Since(start)
		return out
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panicked", "panic", r, "stack", string(debug.Stack()))
			out.Plans = nil
			out = o.finish(ctx, log, out, fmt.Errorf("internal error: %v", r), start)
		}
	}()

	log.Info("processing session")
	plans, archived, err := o.run(ctx, log, session)
	out.Plans = plans
	out.Archived = archived
	return o.finish(ctx, log, out, err, start)
}

func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, session models.ScrapeSession) ([]models.PricingPlan, int, error) {
	competitor, err := o.store.GetCompetitor(ctx, session.CompetitorID)
	if err != nil {
		return nil, 0, fail(ErrCompetitorNotFound, fmt.Errorf("session %s: %w", session.ID, err))
	}
	log = log.With("competitor", competitor.Name)

	var html string
	err = o.metrics.Time(metrics.OpFetch, func() error {
		var ferr error
		html, ferr = o.fetcher.Fetch(ctx, competitor.PricingPageURL)
		return ferr
	})
	if err != nil {
		return nil, 0, fail(ErrFetch, err)
	}
	log.Debug("page fetched", "bytes", len(html))

	o.mark(ctx, log, session.ID, models.StageExtracting)
	var text string
	err = o.metrics.Time(metrics.OpExtract, func() error {
		var rerr error
		text, rerr = o.reducer.Reduce(html)
		return rerr
	})
	if err != nil {
		return nil, 0, fail(ErrExtraction, err)
	}
	log.Debug("text extracted", "chars", len(text))

	o.mark(ctx, log, session.ID, models.StageInterpreting)
	plans, err := o.interpreter.Interpret(ctx, text)
	if err != nil {
		return nil, 0, fail(ErrInterpretation, err)
	}
	plans = interpret.Normalize(plans)
	if len(plans) == 0 {
		return nil, 0, fail(ErrInterpretation, ErrNoPlans)
	}
	log.Debug("plans interpreted", "count", len(plans))

	o.mark(ctx, log, session.ID, models.StagePersisting)
	var persisted []models.PricingPlan
	var archived int
	err = o.metrics.Time(metrics.OpPersist, func() error {
		var perr error
		persisted, archived, perr = o.persist(ctx, log, session.ID, competitor.ID, plans)
		return perr
	})
	if err != nil {
		return nil, archived, fail(ErrPersistence, err)
	}
	return persisted, archived, nil
}

// persist replaces the competitor's current generation with plans while
// holding the competitor lock.
func (o *Orchestrator) persist(ctx context.Context, log *slog.Logger, sessionID, competitorID string, plans []models.PricingPlan) ([]models.PricingPlan, int, error) {
	unlock, err := o.locker.Lock(ctx, competitorID)
	if err != nil {
		return nil, 0, fmt.Errorf("lock competitor: %w", err)
	}
	defer unlock()

	if tx, ok := o.store.(store.Transactor); ok {
		var inserted []models.PricingPlan
		var archived int
		err := tx.InTx(ctx, func(s store.Store) error {
			var werr error
			archived, inserted, werr = writeGeneration(ctx, s, sessionID, competitorID, plans)
			return werr
		})
		if err != nil {
			return nil, 0, err
		}
		log.Info("generation replaced", "archived", archived, "inserted", len(inserted))
		return inserted, archived, nil
	}

	archived, inserted, err := writeGeneration(ctx, o.store, sessionID, competitorID, plans)
	if err != nil {
		if len(inserted) > 0 {
			o.compensate(ctx, log, inserted)
		}
		return nil, archived, err
	}
	log.Info("generation replaced", "archived", archived, "inserted", len(inserted))
	return inserted, archived, nil
}

// writeGeneration archives the current generation and inserts plans as the
// new one. On failure, including a panic in the store, it returns the plans
// inserted so far.
func writeGeneration(ctx context.Context, s store.Store, sessionID, competitorID string, plans []models.PricingPlan) (archived int, inserted []models.PricingPlan, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: internal error: %v", ErrInsert, r)
		}
	}()

	archived, err = Archive(ctx, s, competitorID)
	if err != nil {
		return 0, nil, err
	}

	inserted = make([]models.PricingPlan, 0, len(plans))
	for _, p := range plans {
		id, err := s.InsertPlan(ctx, sessionID, competitorID, store.PlanFields{
			Name:         p.Name,
			Price:        p.Price,
			Currency:     p.Currency,
			BillingCycle: p.BillingCycle,
			Description:  p.Description,
		})
		if err != nil {
			return archived, inserted, fmt.Errorf("%w: plan %q: %w", ErrInsert, p.Name, err)
		}

		p.ID = id
		p.SessionID = sessionID
		p.CompetitorID = competitorID
		p.IsCurrent = true
		inserted = append(inserted, p)

		if len(p.Features) == 0 {
			continue
		}
		if err := s.InsertFeatures(ctx, id, p.Features); err != nil {
			return archived, inserted, fmt.Errorf("%w: features of plan %q: %w", ErrInsert, p.Name, err)
		}
	}
	return archived, inserted, nil
}

// compensate flags a partially inserted generation non-current. The
// archived generation stays archived.
func (o *Orchestrator) compensate(ctx context.Context, log *slog.Logger, inserted []models.PricingPlan) {
	ids := make([]string, len(inserted))
	for i, p := range inserted {
		ids[i] = p.ID
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	if err := o.store.SetFeaturesNonCurrent(cctx, ids); err != nil {
		log.Error("failed to retract partial generation", "stage", "features", "plans", len(ids), "error", err)
		return
	}
	if err := o.store.SetPlansNonCurrent(cctx, ids); err != nil {
		log.Error("failed to retract partial generation", "stage", "plans", "plans", len(ids), "error", err)
		return
	}
	log.Warn("retracted partial generation", "plans", len(ids))
}

// finish records the terminal status and completes the outcome.
func (o *Orchestrator) finish(ctx context.Context, log *slog.Logger, out Outcome, err error, start time.Time) Outcome {
	out.Duration = time.Since(start)
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	if err == nil {
		out.Status = models.SessionSuccess
		if werr := o.store.UpdateSessionStatus(wctx, out.SessionID, models.SessionSuccess, nil); werr != nil {
			log.Error("failed to record success", "error", werr)
			out.Err = fmt.Errorf("%w: record status: %w", ErrPersistence, werr)
		}
		o.mark(wctx, log, out.SessionID, models.StageDone)
		o.metrics.RecordTiming(metrics.OpJobSuccess, out.Duration)
		log.Info("session succeeded", "plans", len(out.Plans), "archived", out.Archived, "duration_ms", out.Duration.Milliseconds())
		return out
	}

	out.Status = models.SessionFailed
	out.Err = err
	msg := models.TruncateMessage(err.Error(), models.MaxErrorMessageLen)
	if werr := o.store.UpdateSessionStatus(wctx, out.SessionID, models.SessionFailed, &msg); werr != nil {
		log.Error("failed to record failure", "error", werr, "cause", err)
		out.Err = errors.Join(err, fmt.Errorf("record status: %w", werr))
	}
	o.mark(wctx, log, out.SessionID, models.StageDone)
	o.metrics.RecordTiming(metrics.OpJobFailed, out.Duration)
	log.Warn("session failed", "error", err, "duration_ms", out.Duration.Milliseconds())
	return out
}

// mark records progress. Failures are logged and otherwise ignored.
func (o *Orchestrator) mark(ctx context.Context, log *slog.Logger, sessionID string, stage models.SessionStage) {
	if err := o.store.UpdateSessionStage(ctx, sessionID, stage); err != nil {
		log.Debug("failed to record stage", "stage", stage, "error", err)
	}
}
