package engine

// #region imports
import (
	"time"

	"github.com/documind/targetopt/internal/archive"
	"github.com/documind/targetopt/internal/guardrail"
	"github.com/documind/targetopt/internal/llm"
	"github.com/documind/targetopt/internal/prompt"
)

// #endregion

// #region status

// Status is the lifecycle state of a refinement run.
type Status string

const (
	// StatusRunning accepts further Step calls.
	StatusRunning Status = "running"
	// StatusWaitConfirm suspends the run until Accept or Retry.
	StatusWaitConfirm Status = "wait_confirm"
	// StatusPassed is terminal with a result.
	StatusPassed Status = "passed"
	// StatusFailedLowQuality is terminal without a usable result. The
	// shipped policy never reaches it (phase-2 exhaustion selects best-of-N
	// with a quality warning instead); it is kept for completeness.
	StatusFailedLowQuality Status = "failed_low_quality"
	// StatusFailed is terminal after a non-retryable collaborator failure.
	// Distinct from a caller-requested cancel; nothing archives.
	StatusFailed Status = "failed"
	// StatusCancelled is terminal; cancelled runs never archive.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the run accepts no further events.
func (s Status) Terminal() bool {
	switch s {
	case StatusPassed, StatusFailedLowQuality, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// #endregion

// #region profile

// Profile is the audience persona driving tone and complexity. The content
// of the guide fields is supplied by the caller; none ships here.
type Profile struct {
	Name       string `json:"name" yaml:"name"`
	Role       string `json:"role" yaml:"role"`
	Tone       string `json:"tone" yaml:"tone"`
	Vocabulary string `json:"vocabulary" yaml:"vocabulary"`
	Structure  string `json:"structure" yaml:"structure"`
}

// #endregion

// #region attempt

// Attempt records one generation/evaluation cycle. Immutable once created;
// owned by the run that produced it.
type Attempt struct {
	Number     int // monotonic across both phases
	Phase      int
	Draft      string
	Score      int
	Feedback   string
	Violations []string // guardrail violations, empty when clean
	Err        string   // collaborator failure consuming this slot
	CreatedAt  time.Time
}

// failed reports whether this attempt burned its slot without a draft.
func (a Attempt) failed() bool { return a.Err != "" }

// #endregion

// #region result

// Result is the terminal output of a passed run.
type Result struct {
	Draft          string   `json:"draft"`
	Score          int      `json:"score"`
	Feedback       string   `json:"feedback,omitempty"`
	Keywords       []string `json:"keywords,omitempty"` // source anchors carried through
	AttemptNumber  int      `json:"attempt_number"`
	QualityWarning bool     `json:"quality_warning,omitempty"` // best-of-N selected a sub-floor attempt
	Archived       bool     `json:"archived"`
}

// #endregion

// #region deps

// Deps are the engine's collaborators. Store and History may be nil; the
// run then skips archiving and observability logging.
type Deps struct {
	Generator llm.Generator
	Critic    llm.Critic
	Store     *archive.Store
	Assembler *prompt.Assembler
	Validator *guardrail.Validator
	History   *History
}

// #endregion
