package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/documind/targetopt/internal/archive"
	_ "modernc.org/sqlite"
)

func TestHistoryLogsAttempts(t *testing.T) {
	db, err := archive.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()

	h, err := NewHistory(db)
	if err != nil {
		t.Fatalf("NewHistory: %v", err)
	}

	now := time.Now().UTC()
	attempts := []struct {
		att     Attempt
		outcome string
	}{
		{Attempt{Number: 1, Phase: 1, Score: 60, Feedback: "too dense", CreatedAt: now}, "retry"},
		{Attempt{Number: 2, Phase: 1, Err: "503 from provider", CreatedAt: now}, "failed"},
		{Attempt{Number: 3, Phase: 2, Score: 92, Violations: []string{"anchor missing: X"}, CreatedAt: now}, "pass"},
	}
	for _, a := range attempts {
		if err := h.LogAttempt("run-1", a.att, a.outcome); err != nil {
			t.Fatalf("LogAttempt %d: %v", a.att.Number, err)
		}
	}

	rows, err := db.Query(`SELECT attempt_num, phase, score, outcome FROM run_attempts WHERE run_id = ? ORDER BY attempt_num`, "run-1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	var got []struct {
		num, phase, score int
		outcome           string
	}
	for rows.Next() {
		var r struct {
			num, phase, score int
			outcome           string
		}
		if err := rows.Scan(&r.num, &r.phase, &r.score, &r.outcome); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, r)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(got))
	}
	if got[1].outcome != "failed" || got[2].phase != 2 || got[2].outcome != "pass" {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func TestRunWritesHistory(t *testing.T) {
	db, err := archive.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()
	h, err := NewHistory(db)
	if err != nil {
		t.Fatalf("NewHistory: %v", err)
	}

	gen := &scriptGen{drafts: []string{"weak draft", "strong draft"}}
	critic := &scriptCritic{scores: []int{60, 95}, feedback: "sharpen it"}
	deps := testDeps(gen, critic)
	deps.History = h

	run, err := New(testConfig(), deps, testSource, Profile{Name: "beginner"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stepUntilDone(t, run, 2)
	if run.Status() != StatusPassed {
		t.Fatalf("expected passed, got %s", run.Status())
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM run_attempts WHERE run_id = ?`, run.ID()).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 history rows, got %d", count)
	}
	var outcome string
	if err := db.QueryRow(
		`SELECT outcome FROM run_attempts WHERE run_id = ? AND attempt_num = 2`, run.ID()).Scan(&outcome); err != nil {
		t.Fatalf("outcome: %v", err)
	}
	if outcome != "pass" {
		t.Fatalf("expected pass outcome, got %s", outcome)
	}
}
