// Package worker feeds scrape sessions from a job source into the pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/raphaelgruber/pricewatch/internal/metrics"
	"github.com/raphaelgruber/pricewatch/internal/models"
	"github.com/raphaelgruber/pricewatch/internal/pipeline"
	"github.com/raphaelgruber/pricewatch/internal/store"
)

// ErrOverloaded is recorded on sessions rejected because the queue is full.
var ErrOverloaded = errors.New("worker overloaded: job queue is full, create a new session later")

// Processor runs one session to completion.
type Processor interface {
	Process(ctx context.Context, session models.ScrapeSession) pipeline.Outcome
}

// PendingLister lists sessions that are still waiting for processing.
type PendingLister interface {
	ListPendingSessions(ctx context.Context) ([]models.ScrapeSession, error)
}

// Job is a session the dispatcher has accepted.
type Job struct {
	SessionID    string
	CompetitorID string
	AcceptedAt   time.Time
	StartedAt    *time.Time
}

// Dispatcher accepts sessions without blocking the caller and runs at most
// maxInFlight of them concurrently. Sessions that do not fit in the queue
// are failed immediately.
type Dispatcher struct {
	proc    Processor
	store   store.Store
	metrics *metrics.Collector

	queue chan models.ScrapeSession
	sem   *semaphore.Weighted

	mu   sync.Mutex
	jobs map[string]*Job

	pumpWG sync.WaitGroup
	jobWG  sync.WaitGroup
}

// NewDispatcher creates a dispatcher. s records rejections.
func NewDispatcher(proc Processor, s store.Store, maxInFlight, queueDepth int, c *metrics.Collector) *Dispatcher {
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Dispatcher{
		proc:    proc,
		store:   s,
		metrics: c,
		queue:   make(chan models.ScrapeSession, queueDepth),
		sem:     semaphore.NewWeighted(int64(maxInFlight)),
		jobs:    make(map[string]*Job),
	}
}

// Start launches the loop that moves queued sessions into processing.
// It stops when ctx is done; sessions still queued then stay pending.
func (d *Dispatcher) Start(ctx context.Context) {
	d.pumpWG.Add(1)
	go func() {
		defer d.pumpWG.Done()
		d.pump(ctx)
	}()
}

// Run submits every session received from jobs until ctx is done or the
// channel closes.
func (d *Dispatcher) Run(ctx context.Context, jobs <-chan models.ScrapeSession) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-jobs:
			if !ok {
				return fmt.Errorf("job source closed")
			}
			slog.Info("new scrape session detected", "session_id", s.ID, "competitor_id", s.CompetitorID, "status", s.Status)
			if err := d.Submit(ctx, s); err != nil && !errors.Is(err, ErrOverloaded) {
				slog.Warn("failed to submit session", "session_id", s.ID, "error", err)
			}
		}
	}
}

// Submit queues a pending session. Non-pending and already accepted
// sessions are ignored. A full queue fails the session with ErrOverloaded.
// Several dispatchers may see the same session; the store claim in the
// processor lets exactly one of them run it.
func (d *Dispatcher) Submit(ctx context.Context, s models.ScrapeSession) error {
	if s.Status != models.SessionPending {
		slog.Debug("ignoring non-pending session", "session_id", s.ID, "status", s.Status)
		return nil
	}

	d.mu.Lock()
	if _, ok := d.jobs[s.ID]; ok {
		d.mu.Unlock()
		slog.Debug("session already accepted", "session_id", s.ID)
		return nil
	}
	select {
	case d.queue <- s:
		d.jobs[s.ID] = &Job{SessionID: s.ID, CompetitorID: s.CompetitorID, AcceptedAt: time.Now()}
		d.mu.Unlock()
		return nil
	default:
		d.mu.Unlock()
	}

	return d.reject(ctx, s)
}

// reject fails a session this dispatcher has no room for, unless another
// worker has already claimed it.
func (d *Dispatcher) reject(ctx context.Context, s models.ScrapeSession) error {
	wctx := context.WithoutCancel(ctx)
	claimed, err := d.store.ClaimSession(wctx, s.ID)
	if err != nil {
		return fmt.Errorf("record rejection: %w", errors.Join(ErrOverloaded, err))
	}
	if !claimed {
		slog.Debug("queue full, session owned elsewhere", "session_id", s.ID)
		return nil
	}

	d.metrics.RecordTiming(metrics.OpJobRejected, 0)
	slog.Warn("rejecting session", "session_id", s.ID, "competitor_id", s.CompetitorID, "queued", len(d.queue))

	msg := models.TruncateMessage(ErrOverloaded.Error(), models.MaxErrorMessageLen)
	if err := d.store.UpdateSessionStatus(wctx, s.ID, models.SessionFailed, &msg); err != nil {
		return fmt.Errorf("record rejection: %w", errors.Join(ErrOverloaded, err))
	}
	return ErrOverloaded
}

func (d *Dispatcher) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-d.queue:
			if err := d.sem.Acquire(ctx, 1); err != nil {
				d.forget(s.ID)
				return
			}
			d.jobWG.Add(1)
			go d.process(ctx, s)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, s models.ScrapeSession) {
	defer d.jobWG.Done()
	defer d.sem.Release(1)
	defer d.forget(s.ID)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job goroutine panicked", "session_id", s.ID, "panic", r)
		}
	}()

	d.mu.Lock()
	if j, ok := d.jobs[s.ID]; ok {
		now := time.Now()
		j.StartedAt = &now
	}
	d.mu.Unlock()

	// In-flight jobs run to completion on shutdown.
	d.proc.Process(context.WithoutCancel(ctx), s)
}

func (d *Dispatcher) forget(id string) {
	d.mu.Lock()
	delete(d.jobs, id)
	d.mu.Unlock()
}

// Wait blocks until the pump has stopped and every started job finished.
func (d *Dispatcher) Wait() {
	d.pumpWG.Wait()
	d.jobWG.Wait()
}

// InFlight reports how many sessions are currently processing.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, j := range d.jobs {
		if j.StartedAt != nil {
			n++
		}
	}
	return n
}

// Queued reports how many sessions wait for a processing slot.
func (d *Dispatcher) Queued() int {
	return len(d.queue)
}

// Jobs returns accepted sessions, oldest first.
func (d *Dispatcher) Jobs() []Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Job, 0, len(d.jobs))
	for _, j := range d.jobs {
		out = append(out, *j)
	}
	slices.SortFunc(out, func(a, b Job) int {
		return a.AcceptedAt.Compare(b.AcceptedAt)
	})
	return out
}

// ResumePending submits sessions left pending while no worker was listening.
func (d *Dispatcher) ResumePending(ctx context.Context, l PendingLister) (int, error) {
	sessions, err := l.ListPendingSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending sessions: %w", err)
	}
	if len(sessions) == 0 {
		slog.Info("no pending sessions to resume")
		return 0, nil
	}

	slog.Info("found pending sessions", "count", len(sessions))
	resumed := 0
	for _, s := range sessions {
		if err := d.Submit(ctx, s); err != nil {
			slog.Warn("failed to resume session", "session_id", s.ID, "error", err)
			continue
		}
		resumed++
	}
	return resumed, nil
}
