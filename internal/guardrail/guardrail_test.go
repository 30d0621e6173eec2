package guardrail

import (
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestExtractAnchors(t *testing.T) {
	source := "The Curiosity rover landed on Mars in 2012. It traveled 23 km since then."
	anchors := ExtractAnchors(source)

	for _, want := range []string{"Curiosity", "Mars", "2012", "23"} {
		if !contains(anchors, want) {
			t.Fatalf("expected anchor %q in %v", want, anchors)
		}
	}
	// Sentence-initial function words are not anchors.
	if contains(anchors, "The") || contains(anchors, "It") {
		t.Fatalf("stopword leaked into anchors: %v", anchors)
	}
}

func TestValidateCleanDraft(t *testing.T) {
	v := NewValidator(0.35, nil)
	source := "Mercury orbits the sun every 88 days."
	draft := "Every 88 days, Mercury completes one orbit of the sun."

	res := v.Validate(context.Background(), source, draft, ExtractAnchors(source))
	if !res.Passed {
		t.Fatalf("expected pass, got violations %v", res.Violations)
	}
}

func TestValidateMissingAnchor(t *testing.T) {
	v := NewValidator(0.35, nil)
	source := "Mercury orbits the sun every 88 days."
	draft := "The innermost planet goes around quickly."

	res := v.Validate(context.Background(), source, draft, ExtractAnchors(source))
	if res.Passed {
		t.Fatal("expected failure for dropped anchors")
	}
	if !anyContains(res.Violations, "anchor missing: Mercury") {
		t.Fatalf("expected Mercury violation, got %v", res.Violations)
	}
}

func TestValidateUngroundedNumber(t *testing.T) {
	v := NewValidator(0.35, nil)
	source := "The reactor produces steady output."
	draft := "The reactor produces 450 megawatts of steady output."

	res := v.Validate(context.Background(), source, draft, nil)
	if res.Passed {
		t.Fatal("expected failure for invented number")
	}
	if !anyContains(res.Violations, "ungrounded value: 450") {
		t.Fatalf("expected ungrounded-value violation, got %v", res.Violations)
	}
}

func TestValidateHangulDateGrounding(t *testing.T) {
	v := NewValidator(0.35, nil)

	source := "발표회는 다음 달에 열린다."
	draft := "발표회는 2024년 3월 15일에 열린다."
	res := v.Validate(context.Background(), source, draft, nil)
	if res.Passed {
		t.Fatal("expected failure for invented date")
	}
	if !anyContains(res.Violations, "ungrounded value: 2024년 3월 15일") {
		t.Fatalf("expected the full date token flagged, got %v", res.Violations)
	}

	grounded := "발표회는 2024년 3월 15일에 열린다."
	res = v.Validate(context.Background(), grounded, draft, nil)
	if !res.Passed {
		t.Fatalf("matching dates must pass, got %v", res.Violations)
	}
}

func TestValidateSemanticDrift(t *testing.T) {
	low := func(context.Context, string, string) (float64, error) { return 0.1, nil }
	v := NewValidator(0.35, low)

	res := v.Validate(context.Background(), "about cooking", "about cooking too", nil)
	if res.Passed {
		t.Fatal("expected drift violation")
	}
	if !anyContains(res.Violations, "semantic drift") {
		t.Fatalf("expected drift violation, got %v", res.Violations)
	}
}

func TestValidateSkipsDriftWhenUnavailable(t *testing.T) {
	down := func(context.Context, string, string) (float64, error) { return 0, errors.New("embedder down") }
	v := NewValidator(0.35, down)

	res := v.Validate(context.Background(), "same topic here", "same topic here", nil)
	if !res.Passed {
		t.Fatalf("unavailable drift check must not fail the draft: %v", res.Violations)
	}
}

func TestViolationOrdering(t *testing.T) {
	low := func(context.Context, string, string) (float64, error) { return 0.1, nil }
	v := NewValidator(0.35, low)
	source := "Saturn has rings."
	draft := "The planet has 7 rings."

	res := v.Validate(context.Background(), source, draft, ExtractAnchors(source))
	if len(res.Violations) < 3 {
		t.Fatalf("expected anchor, grounding, and drift violations, got %v", res.Violations)
	}
	if !strings.Contains(res.Violations[0], "anchor missing") {
		t.Fatalf("anchors must come first, got %v", res.Violations)
	}
	if !strings.Contains(res.Violations[1], "ungrounded value") {
		t.Fatalf("grounding must come second, got %v", res.Violations)
	}
	if !strings.Contains(res.Violations[len(res.Violations)-1], "semantic drift") {
		t.Fatalf("drift must come last, got %v", res.Violations)
	}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func anyContains(list []string, sub string) bool {
	for _, s := range list {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
