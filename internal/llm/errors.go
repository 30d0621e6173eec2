package llm

// #region imports
import "github.com/cockroachdb/errors"

// #endregion

// #region retryable

// errRetryable marks collaborator failures that should consume an attempt
// slot and continue, rather than abort the run.
var errRetryable = errors.New("retryable collaborator failure")

// MarkRetryable tags err so the engine treats it as a failed attempt.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, errRetryable)
}

// IsRetryable reports whether err was tagged by MarkRetryable.
func IsRetryable(err error) bool {
	return errors.Is(err, errRetryable)
}

// #endregion
