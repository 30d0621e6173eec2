package archive

// #region imports
import "time"

// #endregion

// #region record

// Record is an archived best practice. Records are immutable after
// creation; retrieval hands out copies.
type Record struct {
	ID            string
	OriginalText  string
	RewrittenText string
	Score         int
	TargetProfile string
	Keywords      []string
	ModelVersion  string
	CreatedAt     time.Time
}

// #endregion

// #region candidate

// Candidate is an archive submission. The store assigns the id and
// timestamp and masks personally identifying patterns before persisting.
type Candidate struct {
	OriginalText  string
	RewrittenText string
	Score         int
	TargetProfile string
	Keywords      []string
	ModelVersion  string
}

// #endregion
