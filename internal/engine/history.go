package engine

// #region imports
import (
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// #endregion

// #region schema

const historySchema = `
CREATE TABLE IF NOT EXISTS run_attempts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	phase        INTEGER NOT NULL,
	attempt_num  INTEGER NOT NULL,
	score        INTEGER NOT NULL,
	feedback     TEXT,
	violations   TEXT,
	failure      TEXT,
	outcome      TEXT NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_attempts_run ON run_attempts(run_id);
`

// #endregion

// #region history

// History is the append-only attempt log. Every attempt lands here,
// including failed ones, so a run's trajectory stays observable after the
// RunState is gone.
type History struct {
	db *sql.DB
}

// NewHistory initializes the run_attempts table and returns a History.
func NewHistory(db *sql.DB) (*History, error) {
	if _, err := db.Exec(historySchema); err != nil {
		return nil, errors.Wrap(err, "migrate history")
	}
	return &History{db: db}, nil
}

// #endregion

// #region log-attempt

// LogAttempt appends one attempt row. outcome is the engine decision for
// the attempt: pass, wait_confirm, retry, selected, accepted, retried,
// failed, fatal.
func (h *History) LogAttempt(runID string, att Attempt, outcome string) error {
	_, err := h.db.Exec(
		`INSERT INTO run_attempts
		 (run_id, phase, attempt_num, score, feedback, violations, failure, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		att.Phase,
		att.Number,
		att.Score,
		nullIfEmpty(att.Feedback),
		nullIfEmpty(strings.Join(att.Violations, "; ")),
		nullIfEmpty(att.Err),
		outcome,
		att.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrap(err, "log attempt")
	}
	return nil
}

// #endregion

// #region helpers

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion
