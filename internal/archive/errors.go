package archive

// #region imports
import "github.com/cockroachdb/errors"

// #endregion

// #region sentinels

// ErrValidation marks a malformed archive candidate. Rejected, not retried.
var ErrValidation = errors.New("archive candidate validation failed")

// ErrDuplicateSuppressed reports that an existing record is near-identical
// to the candidate, which is discarded. Informational, not a failure.
var ErrDuplicateSuppressed = errors.New("duplicate candidate suppressed")

// ErrRetrievalUnavailable marks a retrieval path failure. Callers degrade
// to "no examples" and never block a run on it.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// #endregion
