// Package guardrail validates drafts against their source text: anchor
// preservation, numeric/date grounding, and semantic drift.
package guardrail

// #region imports
import (
	"context"
	"fmt"
	"log"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/documind/targetopt/internal/llm"
)

// #endregion

// #region patterns

var (
	numRE = regexp.MustCompile(`\d+(?:,\d{3})*(?:\.\d+)?%?`)
	// Numeric separators plus the 년/월/일 date form.
	dateRE = regexp.MustCompile(`\d{4}(?:[-./]\d{1,2}[-./]\d{1,2}|년\s?\d{1,2}월\s?\d{1,2}일?)`)
	nerRE  = regexp.MustCompile(`\b[A-Z][A-Za-z0-9_]+\b`)
)

// capStop filters sentence-initial capitalized function words out of anchor
// extraction.
var capStop = map[string]bool{
	"the": true, "a": true, "an": true, "this": true, "that": true,
	"these": true, "those": true, "it": true, "its": true, "in": true,
	"on": true, "at": true, "for": true, "and": true, "but": true,
	"or": true, "if": true, "when": true, "while": true, "after": true,
	"before": true, "we": true, "you": true, "they": true, "he": true,
	"she": true, "however": true, "therefore": true, "first": true,
	"second": true, "finally": true,
}

// #endregion

// #region result

// Result is the verdict for one draft. Violations are ordered: anchors
// first, then grounding, then drift.
type Result struct {
	Passed     bool
	Violations []string
}

// #endregion

// #region anchors

// ExtractAnchors pulls the literal tokens that must survive rewriting
// verbatim: proper nouns and numeric tokens from the source text.
func ExtractAnchors(source string) []string {
	seen := make(map[string]bool)
	var anchors []string
	add := func(tok string) {
		if tok == "" || seen[tok] {
			return
		}
		seen[tok] = true
		anchors = append(anchors, tok)
	}

	for _, tok := range nerRE.FindAllString(source, -1) {
		if capStop[strings.ToLower(tok)] {
			continue
		}
		add(tok)
	}
	for _, tok := range numRE.FindAllString(source, -1) {
		add(tok)
	}
	sort.Strings(anchors)
	return anchors
}

// #endregion

// #region validator

// SimilarityFn is the external semantic judgment the drift check delegates
// to. It returns a similarity in [0,1].
type SimilarityFn func(ctx context.Context, a, b string) (float64, error)

// Validator is a pure function of its inputs plus one collaborator call; it
// holds no persistent state.
type Validator struct {
	driftThreshold float64
	similarity     SimilarityFn // nil disables the drift check
}

// NewValidator creates a validator. similarity may be nil.
func NewValidator(driftThreshold float64, similarity SimilarityFn) *Validator {
	return &Validator{driftThreshold: driftThreshold, similarity: similarity}
}

// EmbedderSimilarity adapts an embedding collaborator into a SimilarityFn
// via cosine similarity.
func EmbedderSimilarity(embedder llm.Embedder) SimilarityFn {
	return func(ctx context.Context, a, b string) (float64, error) {
		va, err := embedder.Embed(ctx, a)
		if err != nil {
			return 0, err
		}
		vb, err := embedder.Embed(ctx, b)
		if err != nil {
			return 0, err
		}
		return cosine(va, vb), nil
	}
}

// #endregion

// #region validate

// Validate runs all checks independently; every one must pass. Missing
// anchors are reported by name, ungrounded numerics as possible
// hallucinations. An unreachable similarity collaborator skips the drift
// check rather than failing the draft.
func (v *Validator) Validate(ctx context.Context, source, draft string, anchors []string) Result {
	var violations []string

	for _, anchor := range anchors {
		if !strings.Contains(draft, anchor) {
			violations = append(violations, fmt.Sprintf("anchor missing: %s", anchor))
		}
	}

	violations = append(violations, groundingViolations(source, draft)...)

	if v.similarity != nil {
		sim, err := v.similarity(ctx, source, draft)
		switch {
		case err != nil:
			log.Printf("[GUARDRAIL] drift check unavailable, skipping: %v", err)
		case sim < v.driftThreshold:
			violations = append(violations,
				fmt.Sprintf("semantic drift: similarity %.2f below threshold %.2f", sim, v.driftThreshold))
		}
	}

	return Result{Passed: len(violations) == 0, Violations: violations}
}

// groundingViolations flags numbers and dates in the draft that never
// appear in the source.
func groundingViolations(source, draft string) []string {
	srcSet := make(map[string]bool)
	for _, tok := range numRE.FindAllString(source, -1) {
		srcSet[tok] = true
	}
	for _, tok := range dateRE.FindAllString(source, -1) {
		srcSet[tok] = true
	}

	seen := make(map[string]bool)
	var out []string
	flag := func(tok string) {
		if srcSet[tok] || seen[tok] {
			return
		}
		seen[tok] = true
		out = append(out, fmt.Sprintf("ungrounded value: %s", tok))
	}
	for _, tok := range dateRE.FindAllString(draft, -1) {
		flag(tok)
	}
	for _, tok := range numRE.FindAllString(draft, -1) {
		flag(tok)
	}
	return out
}

// #endregion

// #region cosine

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// #endregion
