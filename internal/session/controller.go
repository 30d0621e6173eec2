// Package session owns the run registry. Every refinement run is driven
// through a Controller, which serializes events per run and expires runs
// that go quiet.
package session

// #region imports
import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/documind/targetopt/internal/config"
	"github.com/documind/targetopt/internal/engine"
	"github.com/documind/targetopt/internal/textsplit"
)

// #endregion

// #region errors

// ErrUnknownRun marks events addressed to an expired or never-created run.
var ErrUnknownRun = errors.New("unknown run")

// #endregion

// #region snapshot

// Snapshot is the externally visible state of a run at one moment. It is a
// value copy; mutating it never touches the run.
type Snapshot struct {
	RunID        string          `json:"run_id"`
	Status       engine.Status   `json:"status"`
	Phase        int             `json:"phase"`
	Attempt      int             `json:"attempt"`
	CurrentScore int             `json:"current_score"`
	Feedback     string          `json:"feedback,omitempty"`
	PendingDraft string          `json:"pending_draft,omitempty"`
	Violations   []string        `json:"violations,omitempty"`
	Result       *engine.Result  `json:"result,omitempty"`
	Profile      string          `json:"profile"`
}

// #endregion

// #region controller

// entry pairs a run with its own lock so events on different runs never
// contend. lastTouched is guarded by the entry lock, not the registry lock.
type entry struct {
	mu          sync.Mutex
	run         *engine.Run
	lastTouched time.Time
}

// Controller is the run registry. Safe for concurrent use; each event holds
// only the target run's lock while the engine works.
type Controller struct {
	cfg  config.Config
	deps engine.Deps

	mu   sync.Mutex
	runs map[string]*entry
}

// NewController creates an empty registry.
func NewController(cfg config.Config, deps engine.Deps) *Controller {
	return &Controller{cfg: cfg, deps: deps, runs: make(map[string]*entry)}
}

// #endregion

// #region lifecycle

// Start creates a run and returns its first snapshot. No attempt is made
// yet; the caller drives attempts via Step.
func (c *Controller) Start(source string, profile engine.Profile) (Snapshot, error) {
	run, err := engine.New(c.cfg, c.deps, source, profile)
	if err != nil {
		return Snapshot{}, err
	}

	e := &entry{run: run, lastTouched: time.Now()}
	c.mu.Lock()
	c.runs[run.ID()] = e
	c.mu.Unlock()

	log.Printf("[SESSION] run %s started (profile=%s)", run.ID(), profile.Name)
	return snapshotOf(run), nil
}

// Step advances the run by one attempt.
func (c *Controller) Step(ctx context.Context, runID string) (Snapshot, error) {
	return c.withRun(runID, func(run *engine.Run) error {
		_, err := run.Step(ctx)
		return err
	})
}

// Accept confirms the pending draft of a suspended run.
func (c *Controller) Accept(ctx context.Context, runID string) (Snapshot, error) {
	return c.withRun(runID, func(run *engine.Run) error {
		return run.Accept(ctx)
	})
}

// Retry rejects the pending draft and resumes refinement.
func (c *Controller) Retry(runID string) (Snapshot, error) {
	return c.withRun(runID, func(run *engine.Run) error {
		return run.Retry()
	})
}

// Cancel terminates the run. Idempotent on terminal runs.
func (c *Controller) Cancel(runID string) (Snapshot, error) {
	return c.withRun(runID, func(run *engine.Run) error {
		run.Cancel()
		return nil
	})
}

// Get returns the current snapshot without advancing anything.
func (c *Controller) Get(runID string) (Snapshot, error) {
	return c.withRun(runID, func(*engine.Run) error { return nil })
}

// withRun locates the entry, serializes on it, applies fn, and snapshots.
// The snapshot reflects the run even when fn returned an error, so callers
// see the state a fatal failure left behind.
func (c *Controller) withRun(runID string, fn func(*engine.Run) error) (Snapshot, error) {
	c.mu.Lock()
	e, ok := c.runs[runID]
	c.mu.Unlock()
	if !ok {
		return Snapshot{}, errors.Mark(errors.Newf("run %s not found", runID), ErrUnknownRun)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastTouched = time.Now()
	err := fn(e.run)
	return snapshotOf(e.run), err
}

func snapshotOf(run *engine.Run) Snapshot {
	snap := Snapshot{
		RunID:        run.ID(),
		Status:       run.Status(),
		Phase:        run.Phase(),
		Attempt:      run.AttemptCount(),
		CurrentScore: run.CurrentScore(),
		Feedback:     run.LastFeedback(),
		Result:       run.Result(),
		Profile:      run.Profile().Name,
	}
	if pending := run.Pending(); pending != nil {
		snap.PendingDraft = pending.Draft
		snap.Violations = pending.Violations
	}
	return snap
}

// #endregion

// #region sweep

// Sweep drops runs untouched for longer than the session TTL and returns
// how many were removed. Call it periodically; it never blocks on an entry
// that is mid-event.
func (c *Controller) Sweep() int {
	cutoff := time.Now().Add(-c.cfg.SessionTTL)

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, e := range c.runs {
		if !e.mu.TryLock() {
			continue
		}
		stale := e.lastTouched.Before(cutoff)
		if stale {
			e.run.Cancel()
		}
		e.mu.Unlock()
		if stale {
			delete(c.runs, id)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("[SESSION] swept %d expired run(s)", removed)
	}
	return removed
}

// #endregion

// #region batch

// Optimize runs the whole pipeline non-interactively over a document:
// chunk, refine each chunk to completion (auto-accepting confirm-band
// drafts), and merge. The lowest chunk score and any quality warning are
// surfaced on the merged result.
func (c *Controller) Optimize(ctx context.Context, source string, profile engine.Profile) (engine.Result, error) {
	chunks := textsplit.Split(source, c.cfg.ChunkSize)
	log.Printf("[SESSION] batch optimize: %d chunk(s), profile=%s", len(chunks), profile.Name)

	merged := engine.Result{Score: 101, Archived: true}
	outputs := make([]string, 0, len(chunks))

	for i, chunk := range chunks {
		res, err := c.optimizeChunk(ctx, chunk, profile)
		if err != nil {
			return engine.Result{}, errors.Wrapf(err, "chunk %d/%d", i+1, len(chunks))
		}
		outputs = append(outputs, res.Draft)
		merged.Keywords = textsplit.UnionKeywords(merged.Keywords, res.Keywords)
		if res.Score < merged.Score {
			merged.Score = res.Score
			merged.Feedback = res.Feedback
		}
		merged.AttemptNumber += res.AttemptNumber
		merged.QualityWarning = merged.QualityWarning || res.QualityWarning
		merged.Archived = merged.Archived && res.Archived
	}

	merged.Draft = textsplit.Merge(outputs)
	return merged, nil
}

// optimizeChunk drives one chunk's run to a terminal state.
func (c *Controller) optimizeChunk(ctx context.Context, chunk string, profile engine.Profile) (engine.Result, error) {
	run, err := engine.New(c.cfg, c.deps, chunk, profile)
	if err != nil {
		return engine.Result{}, err
	}

	for !run.Status().Terminal() {
		if err := ctx.Err(); err != nil {
			run.Cancel()
			return engine.Result{}, err
		}
		if run.Status() == engine.StatusWaitConfirm {
			if err := run.Accept(ctx); err != nil {
				return engine.Result{}, err
			}
			continue
		}
		if _, err := run.Step(ctx); err != nil {
			return engine.Result{}, err
		}
	}

	res := run.Result()
	if res == nil {
		return engine.Result{}, errors.Newf("run %s ended %s without a usable draft", run.ID(), run.Status())
	}
	if strings.TrimSpace(res.Draft) == "" {
		return engine.Result{}, errors.Newf("run %s produced an empty draft", run.ID())
	}
	return *res, nil
}

// #endregion
