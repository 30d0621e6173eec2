package engine

// #region imports
import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// #endregion

// #region strategy

// StrategyID selects the rewriting instruction shape for a run.
type StrategyID string

const (
	// StrategyDirect is a single-pass rewrite instruction.
	StrategyDirect StrategyID = "direct"
	// StrategyPlanAndSolve prefixes the rewrite with a planning pass whose
	// action list is folded into the editor instruction.
	StrategyPlanAndSolve StrategyID = "plan_and_solve"
)

// #endregion

// #region complexity

var jargonRE = regexp.MustCompile(`[A-Za-z]{2,}`)

// complexityScore estimates text complexity in [0,1] from length and
// jargon density.
func complexityScore(text string) float64 {
	tokens := len(strings.Fields(text))
	lenScore := float64(tokens) / 500.0
	if lenScore > 1.0 {
		lenScore = 1.0
	}

	jargonCount := len(jargonRE.FindAllString(text, -1))
	denom := tokens
	if denom < 1 {
		denom = 1
	}
	jargonRatio := float64(jargonCount) / float64(denom) * 0.5
	if jargonRatio > 1.0 {
		jargonRatio = 1.0
	}

	return 0.3*lenScore + 0.7*jargonRatio
}

// routeStrategy picks the instruction strategy. Expert audiences always get
// the direct rewrite; complex text for everyone else gets plan-and-solve.
func routeStrategy(score float64, profile Profile, cutoff float64) StrategyID {
	if strings.EqualFold(profile.Name, "expert") {
		return StrategyDirect
	}
	if score > cutoff {
		return StrategyPlanAndSolve
	}
	return StrategyDirect
}

// #endregion

// #region instructions

// directInstruction is the single-pass rewrite instruction.
func directInstruction(profile Profile) string {
	return fmt.Sprintf(`You are "%s".
Rewrite the source text for this audience:
- Tone: %s
- Vocabulary: %s
- Structure: %s

Maintain strict factual accuracy. Do NOT invent numbers, dates, or names.
Output ONLY the rewritten text, in the source language.`,
		orDefault(profile.Role, "an expert editor"),
		orDefault(profile.Tone, "neutral"),
		orDefault(profile.Vocabulary, "standard"),
		orDefault(profile.Structure, "clear paragraphs"))
}

// planInstruction asks the generator for a rewriting plan as JSON.
func planInstruction(profile Profile, source string) string {
	return fmt.Sprintf(`You are a content strategist. Analyze the text and produce a rewriting
plan for the audience "%s" (tone: %s, vocabulary: %s).

Output a JSON object only:
{"actions": [{"type": "define|split|analogy", "target": "...", "strategy": "..."}]}

[INPUT TEXT]
%s`,
		orDefault(profile.Role, "a general reader"),
		orDefault(profile.Tone, "neutral"),
		orDefault(profile.Vocabulary, "standard"),
		clipRunes(source, 2000))
}

// editorInstruction folds a plan into the direct instruction.
func editorInstruction(profile Profile, planJSON string) string {
	return fmt.Sprintf(`%s

Follow this rewriting plan strictly:
[REWRITE PLAN]
%s`, directInstruction(profile), planJSON)
}

// criteriaFor builds the critic's evaluation criteria for the profile.
func criteriaFor(profile Profile) string {
	return fmt.Sprintf(`1. Logical completeness and factual accuracy against the source.
2. Tone appropriateness for the audience (role: %s, tone: %s, vocabulary: %s).
3. Readability and structure (%s).`,
		orDefault(profile.Role, "general reader"),
		orDefault(profile.Tone, "neutral"),
		orDefault(profile.Vocabulary, "standard"),
		orDefault(profile.Structure, "clear paragraphs"))
}

// #endregion

// #region helpers

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func clipRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// extractJSONObject pulls the outermost JSON object from a model response
// that may wrap it in prose or code fences.
func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", false
	}
	return candidate, true
}

// #endregion
