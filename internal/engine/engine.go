// Package engine drives the actor/critic refinement loop: a cooperative
// state machine advanced by explicit Step/Accept/Retry/Cancel calls. A
// suspension is a plain return with StatusWaitConfirm; nothing blocks
// across a confirmation boundary.
package engine

// #region imports
import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/documind/targetopt/internal/archive"
	"github.com/documind/targetopt/internal/config"
	"github.com/documind/targetopt/internal/guardrail"
	"github.com/documind/targetopt/internal/llm"
	"github.com/documind/targetopt/internal/prompt"
)

// #endregion

// #region errors

// ErrFatal marks a non-retryable collaborator failure. The run terminates
// without archiving; the error carries run id, phase, and attempt number.
var ErrFatal = errors.New("fatal run failure")

// #endregion

// #region run-struct

// Run is the mutable state of one refinement session. A Run is owned by
// exactly one driving context and is not safe for concurrent use.
type Run struct {
	id      string
	cfg     config.Config
	deps    Deps
	source  string
	profile Profile
	anchors []string

	strategy         StrategyID
	instruction      string
	instructionReady bool

	status    Status
	phase     int
	attempts1 []Attempt
	attempts2 []Attempt
	pending   *Attempt
	feedback  string
	result    *Result
}

// New creates a run in StatusRunning. Source text must be non-empty.
func New(cfg config.Config, deps Deps, source string, profile Profile) (*Run, error) {
	if strings.TrimSpace(source) == "" {
		return nil, errors.New("engine: empty source text")
	}
	if deps.Generator == nil || deps.Critic == nil {
		return nil, errors.New("engine: generator and critic are required")
	}

	score := complexityScore(source)
	strategy := routeStrategy(score, profile, cfg.ComplexityCutoff)
	log.Printf("[ENGINE] route: profile=%s complexity=%.2f strategy=%s", profile.Name, score, strategy)

	return &Run{
		id:       uuid.New().String(),
		cfg:      cfg,
		deps:     deps,
		source:   source,
		profile:  profile,
		anchors:  guardrail.ExtractAnchors(source),
		strategy: strategy,
		status:   StatusRunning,
		phase:    1,
	}, nil
}

func isRetryableErr(err error) bool { return llm.IsRetryable(err) }

// #endregion

// #region accessors

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Status returns the current lifecycle state.
func (r *Run) Status() Status { return r.status }

// Phase returns 1 or 2.
func (r *Run) Phase() int { return r.phase }

// AttemptCount returns how many attempts have been consumed.
func (r *Run) AttemptCount() int { return len(r.attempts1) + len(r.attempts2) }

// CurrentScore reports the most recent attempt's score, or -1 before the
// first attempt.
func (r *Run) CurrentScore() int {
	if att := r.lastAttempt(); att != nil {
		return att.Score
	}
	return -1
}

// LastFeedback returns the most recent critic feedback.
func (r *Run) LastFeedback() string {
	if att := r.lastAttempt(); att != nil {
		return att.Feedback
	}
	return ""
}

// Pending returns a copy of the attempt awaiting confirmation, or nil.
func (r *Run) Pending() *Attempt {
	if r.pending == nil {
		return nil
	}
	att := *r.pending
	att.Violations = append([]string(nil), r.pending.Violations...)
	return &att
}

// Result returns a copy of the terminal result, or nil while the run is
// still in flight.
func (r *Run) Result() *Result {
	if r.result == nil {
		return nil
	}
	res := *r.result
	res.Keywords = append([]string(nil), r.result.Keywords...)
	return &res
}

// Profile returns the target profile of this run.
func (r *Run) Profile() Profile { return r.profile }

func (r *Run) lastAttempt() *Attempt {
	if n := len(r.attempts2); n > 0 {
		return &r.attempts2[n-1]
	}
	if n := len(r.attempts1); n > 0 {
		return &r.attempts1[n-1]
	}
	return nil
}

// #endregion

// #region step

// Step advances the run by exactly one attempt (or by one phase resolution
// when the current phase's budget is spent) and returns the new status.
// Calling Step on a suspended or terminal run is an error.
func (r *Run) Step(ctx context.Context) (Status, error) {
	if r.status == StatusWaitConfirm {
		return r.status, errors.Newf("run %s awaits accept/retry", r.id)
	}
	if r.status.Terminal() {
		return r.status, errors.Newf("run %s already %s", r.id, r.status)
	}

	if err := r.ensureInstruction(ctx); err != nil {
		return r.status, err
	}

	if r.phaseExhausted() {
		r.resolvePhase(ctx)
		return r.status, nil
	}

	att, err := r.attempt(ctx)
	if err != nil {
		return r.status, err
	}

	r.decide(ctx, att)
	return r.status, nil
}

func (r *Run) phaseExhausted() bool {
	if r.phase == 1 {
		return len(r.attempts1) >= r.cfg.Phase1Attempts
	}
	return len(r.attempts2) >= r.cfg.Phase2Attempts
}

// #endregion

// #region instruction

// ensureInstruction builds the editor instruction once per run. The
// plan-and-solve strategy spends one extra generation call on a plan; a
// retryable failure there degrades to the direct instruction instead of
// consuming an attempt slot.
func (r *Run) ensureInstruction(ctx context.Context) error {
	if r.instructionReady {
		return nil
	}

	if r.strategy == StrategyPlanAndSolve {
		planResp, err := r.deps.Generator.Generate(ctx, planInstruction(r.profile, r.source), "")
		switch {
		case err == nil:
			if planJSON, ok := extractJSONObject(planResp); ok {
				r.instruction = editorInstruction(r.profile, planJSON)
				r.instructionReady = true
				log.Printf("[ENGINE] run %s: plan-and-solve instruction ready", r.id)
				return nil
			}
			log.Printf("[ENGINE] run %s: plan was not valid JSON, using direct rewrite", r.id)
		case isRetryableErr(err):
			log.Printf("[ENGINE] run %s: planning failed, using direct rewrite: %v", r.id, err)
		default:
			return r.fatal(err, r.AttemptCount()+1)
		}
	}

	r.instruction = directInstruction(r.profile)
	r.instructionReady = true
	return nil
}

// #endregion

// #region attempt

// attempt runs one generate/score/validate cycle. A retryable collaborator
// failure is recorded as a failed attempt (consuming the slot); a
// non-retryable one terminates the run with ErrFatal.
func (r *Run) attempt(ctx context.Context) (*Attempt, error) {
	number := r.AttemptCount() + 1
	att := Attempt{Number: number, Phase: r.phase, CreatedAt: time.Now().UTC()}

	examples := r.retrieveExamples(ctx)
	bundle := r.deps.Assembler.Build(r.instruction, r.source, examples)

	log.Printf("[ENGINE] run %s: attempt %d/%d phase %d (examples=%d tokens=%d)",
		r.id, number, r.cfg.Phase1Attempts+r.cfg.Phase2Attempts, r.phase,
		len(bundle.Examples), bundle.EstimatedTokens)

	draft, err := r.deps.Generator.Generate(ctx, bundle.Render(), r.feedback)
	if err != nil {
		return r.attemptFailure(ctx, att, errors.Wrap(err, "generate"))
	}
	att.Draft = draft

	eval, err := r.deps.Critic.Score(ctx, draft, criteriaFor(r.profile))
	if err != nil {
		return r.attemptFailure(ctx, att, errors.Wrap(err, "score"))
	}
	att.Score = eval.Score
	att.Feedback = eval.Feedback

	if r.deps.Validator != nil {
		res := r.deps.Validator.Validate(ctx, r.source, draft, r.anchors)
		att.Violations = res.Violations
	}

	if prev := r.lastAttempt(); prev != nil && !prev.failed() && att.Score < prev.Score {
		log.Printf("[ENGINE] run %s: score dropped (%d -> %d)", r.id, prev.Score, att.Score)
	}

	r.record(att)
	return r.lastAttempt(), nil
}

// attemptFailure routes a collaborator error: retryable burns the slot,
// anything else is fatal.
func (r *Run) attemptFailure(ctx context.Context, att Attempt, err error) (*Attempt, error) {
	if !isRetryableErr(err) {
		att.Err = err.Error()
		r.logHistory(att, "fatal")
		return nil, r.fatal(err, att.Number)
	}
	att.Err = err.Error()
	r.record(att)
	log.Printf("[ENGINE] run %s: attempt %d failed, slot consumed: %v", r.id, att.Number, err)
	r.logHistory(att, "failed")
	r.advanceAfterMiss(ctx)
	return nil, nil
}

func (r *Run) record(att Attempt) {
	if r.phase == 1 {
		r.attempts1 = append(r.attempts1, att)
	} else {
		r.attempts2 = append(r.attempts2, att)
	}
}

func (r *Run) retrieveExamples(ctx context.Context) []prompt.Example {
	if r.deps.Store == nil {
		return nil
	}
	records, err := r.deps.Store.Retrieve(ctx, r.source, r.profile.Name, r.cfg.RetrieveN)
	if err != nil {
		// Retrieval degrades to "no examples"; it never blocks the run.
		log.Printf("[ENGINE] run %s: retrieval degraded: %v", r.id, err)
		return nil
	}
	examples := make([]prompt.Example, len(records))
	for i, rec := range records {
		examples[i] = prompt.Example{Original: rec.OriginalText, Rewritten: rec.RewrittenText}
	}
	return examples
}

// #endregion

// #region decide

// decide applies the per-attempt policy to a completed (non-failed)
// attempt. att is nil when the slot was consumed by a failure.
func (r *Run) decide(ctx context.Context, att *Attempt) {
	if att == nil || att.failed() {
		return
	}

	guardrailsPass := len(att.Violations) == 0

	switch {
	case guardrailsPass && att.Score >= r.cfg.PassThreshold:
		r.logHistory(*att, "pass")
		r.finalize(ctx, *att, false)

	case guardrailsPass && att.Score >= r.cfg.ConfirmThreshold:
		pending := *att
		r.pending = &pending
		r.status = StatusWaitConfirm
		r.logHistory(*att, "wait_confirm")
		log.Printf("[ENGINE] run %s: score %d in confirm band, suspending", r.id, att.Score)

	default:
		r.feedback = foldFeedback(att.Feedback, att.Violations)
		r.logHistory(*att, "retry")
		r.advanceAfterMiss(ctx)
	}
}

// foldFeedback merges critic feedback and guardrail violations into the
// next generation's revision notes.
func foldFeedback(feedback string, violations []string) string {
	if len(violations) == 0 {
		return feedback
	}
	folded := feedback
	if folded != "" {
		folded += "\n"
	}
	return folded + "Guardrail violations to fix:\n- " + strings.Join(violations, "\n- ")
}

// advanceAfterMiss resolves the phase when the miss spent its last slot.
func (r *Run) advanceAfterMiss(ctx context.Context) {
	if r.phaseExhausted() {
		r.resolvePhase(ctx)
	}
}

// #endregion

// #region phase-resolution

// resolvePhase runs the end-of-phase policy. Phase 1: select best-of-N at
// or above the selection floor (ties to the most recent), bypassing the
// confirm band; otherwise escalate to phase 2. Phase 2: always select the
// best across all attempts, flagging a quality warning below the floor.
func (r *Run) resolvePhase(ctx context.Context) {
	if r.phase == 1 {
		best := bestOf(r.attempts1)
		if best != nil && best.Score >= r.cfg.SelectionFloor {
			log.Printf("[ENGINE] run %s: phase 1 best-of-%d selected attempt %d (score %d)",
				r.id, len(r.attempts1), best.Number, best.Score)
			r.logHistory(*best, "selected")
			r.finalize(ctx, *best, false)
			return
		}
		r.phase = 2
		log.Printf("[ENGINE] run %s: phase 1 exhausted below floor, entering phase 2", r.id)
		if r.cfg.Phase2Attempts > 0 {
			return
		}
	}

	all := append(append([]Attempt(nil), r.attempts1...), r.attempts2...)
	best := bestOf(all)
	if best == nil {
		// Every slot was consumed by collaborator failures; there is no
		// draft to select.
		r.status = StatusFailedLowQuality
		log.Printf("[ENGINE] run %s: no usable draft after %d attempts", r.id, len(all))
		return
	}
	warning := best.Score < r.cfg.SelectionFloor
	log.Printf("[ENGINE] run %s: phase 2 best-of-%d selected attempt %d (score %d, warning=%v)",
		r.id, len(all), best.Number, best.Score, warning)
	r.logHistory(*best, "selected")
	r.finalize(ctx, *best, warning)
}

// bestOf returns the highest-scoring non-failed attempt, ties broken
// toward the most recent.
func bestOf(attempts []Attempt) *Attempt {
	var best *Attempt
	for i := range attempts {
		att := &attempts[i]
		if att.failed() {
			continue
		}
		if best == nil || att.Score >= best.Score {
			best = att
		}
	}
	return best
}

// #endregion

// #region finalize

// finalize moves the run to StatusPassed and archives the result when it
// qualifies. Archive failures never fail the run.
func (r *Run) finalize(ctx context.Context, att Attempt, warning bool) {
	r.status = StatusPassed
	r.pending = nil
	r.result = &Result{
		Draft:          att.Draft,
		Score:          att.Score,
		Feedback:       att.Feedback,
		Keywords:       append([]string(nil), r.anchors...),
		AttemptNumber:  att.Number,
		QualityWarning: warning,
	}

	if r.deps.Store == nil || att.Score < r.cfg.ArchiveThreshold {
		return
	}

	_, err := r.deps.Store.Archive(ctx, archive.Candidate{
		OriginalText:  r.source,
		RewrittenText: att.Draft,
		Score:         att.Score,
		TargetProfile: r.profile.Name,
		Keywords:      r.anchors,
		ModelVersion:  r.cfg.ModelVersion,
	})
	switch {
	case err == nil:
		r.result.Archived = true
		log.Printf("[ENGINE] run %s: result archived (score %d)", r.id, att.Score)
	case errors.Is(err, archive.ErrDuplicateSuppressed):
		log.Printf("[ENGINE] run %s: archive skipped, near-duplicate exists", r.id)
	default:
		log.Printf("[ENGINE] run %s: archive failed: %v", r.id, err)
	}
}

// #endregion

// #region confirm-events

// Accept finalizes the pending attempt as passed. No further generation
// happens; archiving eligibility is evaluated on its score as usual.
func (r *Run) Accept(ctx context.Context) error {
	if r.status != StatusWaitConfirm || r.pending == nil {
		return errors.Newf("run %s: accept requires wait_confirm, status is %s", r.id, r.status)
	}
	att := *r.pending
	r.logHistory(att, "accepted")
	r.finalize(ctx, att, false)
	return nil
}

// Retry discards the pending attempt's terminal prospect, folds its
// feedback into context, and resumes within the phase's remaining budget.
func (r *Run) Retry() error {
	if r.status != StatusWaitConfirm || r.pending == nil {
		return errors.Newf("run %s: retry requires wait_confirm, status is %s", r.id, r.status)
	}
	r.feedback = foldFeedback(r.pending.Feedback, r.pending.Violations)
	r.logHistory(*r.pending, "retried")
	r.pending = nil
	r.status = StatusRunning
	return nil
}

// Cancel terminates the run at any state. Cancelled runs never archive.
func (r *Run) Cancel() {
	if r.status.Terminal() {
		return
	}
	r.status = StatusCancelled
	r.pending = nil
	log.Printf("[ENGINE] run %s: cancelled at phase %d attempt %d", r.id, r.phase, r.AttemptCount())
}

// #endregion

// #region fatal

func (r *Run) fatal(err error, attempt int) error {
	r.status = StatusFailed
	r.pending = nil
	log.Printf("[ENGINE] run %s: fatal at phase %d attempt %d: %v", r.id, r.phase, attempt, err)
	return errors.Mark(
		errors.Wrapf(err, "run %s: fatal failure at phase %d attempt %d", r.id, r.phase, attempt),
		ErrFatal)
}

// #endregion

// #region history-logging

func (r *Run) logHistory(att Attempt, outcome string) {
	if r.deps.History == nil {
		return
	}
	if err := r.deps.History.LogAttempt(r.id, att, outcome); err != nil {
		log.Printf("[ENGINE] run %s: history log failed: %v", r.id, err)
	}
}

// #endregion
