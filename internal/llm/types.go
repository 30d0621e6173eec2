package llm

// #region imports
import "context"

// #endregion

// #region interfaces

// Generator produces a rewritten draft from an assembled prompt. Prior
// critic feedback, when non-empty, travels as an extra instruction block.
type Generator interface {
	Generate(ctx context.Context, prompt, feedback string) (string, error)
}

// Critic scores a draft against evaluation criteria and explains deductions.
type Critic interface {
	Score(ctx context.Context, draft, criteria string) (Evaluation, error)
}

// Embedder maps text to a fixed-length vector. Identical input must produce
// an identical vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// #endregion

// #region evaluation

// Evaluation is the critic's verdict on a single draft.
type Evaluation struct {
	Score    int    // 0-100
	Feedback string // 1-2 sentences explaining deductions
}

// #endregion
