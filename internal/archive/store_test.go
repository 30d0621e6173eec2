package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/documind/targetopt/internal/config"
	_ "modernc.org/sqlite"
)

// fakeEmbedder hands out a distinct one-hot vector per unique text, so the
// same text always embeds identically and different texts are orthogonal.
type fakeEmbedder struct {
	mu    sync.Mutex
	vecs  map[string][]float32
	next  int
	calls map[string]int
	fail  bool
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vecs: make(map[string][]float32), calls: make(map[string]int)}
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[text]++
	if f.fail {
		return nil, errors.New("embedder down")
	}
	v, ok := f.vecs[text]
	if !ok {
		v = make([]float32, 64)
		v[f.next%64] = 1
		f.next++
		f.vecs[text] = v
	}
	return v, nil
}

func (f *fakeEmbedder) callCount(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[text]
}

func tempStore(t *testing.T, cfg config.Config, emb *fakeEmbedder) *Store {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := NewStore(db, emb, cfg)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func cand(original, rewritten, profile string, score int) Candidate {
	return Candidate{
		OriginalText:  original,
		RewrittenText: rewritten,
		TargetProfile: profile,
		Score:         score,
		ModelVersion:  "test-v1",
	}
}

func TestArchiveAndRetrieveRoundtrip(t *testing.T) {
	s := tempStore(t, config.Default(), newFakeEmbedder())
	ctx := context.Background()

	rec, err := s.Archive(ctx, cand("quantum computing uses qubits", "computers that use quantum bits", "beginner", 96))
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected non-empty record ID")
	}

	got, err := s.Retrieve(ctx, "quantum computing uses qubits", "beginner", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0].ID != rec.ID {
		t.Fatalf("expected %s, got %s", rec.ID, got[0].ID)
	}
}

func TestArchiveRejectsBelowThreshold(t *testing.T) {
	s := tempStore(t, config.Default(), newFakeEmbedder())

	_, err := s.Archive(context.Background(), cand("original", "rewritten", "beginner", 94))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestArchiveRejectsMissingFields(t *testing.T) {
	s := tempStore(t, config.Default(), newFakeEmbedder())

	_, err := s.Archive(context.Background(), cand("", "rewritten", "", 96))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if !strings.Contains(err.Error(), "original_text") || !strings.Contains(err.Error(), "target_profile") {
		t.Fatalf("expected missing field names in error, got %v", err)
	}
}

func TestDuplicateSuppressed(t *testing.T) {
	s := tempStore(t, config.Default(), newFakeEmbedder())
	ctx := context.Background()

	if _, err := s.Archive(ctx, cand("first original", "the shared rewrite", "beginner", 96)); err != nil {
		t.Fatalf("first Archive: %v", err)
	}

	// Same rewritten text embeds identically: cosine 1.0 >= threshold.
	_, err := s.Archive(ctx, cand("second original", "the shared rewrite", "beginner", 97))
	if !errors.Is(err, ErrDuplicateSuppressed) {
		t.Fatalf("expected ErrDuplicateSuppressed, got %v", err)
	}

	recs, err := s.List("", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(recs))
	}
}

func TestArchiveIdempotentUnderRepeat(t *testing.T) {
	s := tempStore(t, config.Default(), newFakeEmbedder())
	ctx := context.Background()
	c := cand("same original", "same rewrite", "beginner", 96)

	if _, err := s.Archive(ctx, c); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Archive(ctx, c); !errors.Is(err, ErrDuplicateSuppressed) {
			t.Fatalf("repeat %d: expected ErrDuplicateSuppressed, got %v", i, err)
		}
	}
	recs, _ := s.List("", 10)
	if len(recs) != 1 {
		t.Fatalf("expected 1 record after repeats, got %d", len(recs))
	}
}

func TestPIIMaskedOnStore(t *testing.T) {
	s := tempStore(t, config.Default(), newFakeEmbedder())

	rec, err := s.Archive(context.Background(), cand(
		"contact bob@example.com for details",
		"reach us at 555-123-4567 anytime",
		"beginner", 96))
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if strings.Contains(rec.OriginalText, "bob@example.com") {
		t.Fatalf("email survived masking: %q", rec.OriginalText)
	}
	if strings.Contains(rec.RewrittenText, "555-123-4567") {
		t.Fatalf("phone survived masking: %q", rec.RewrittenText)
	}
	if !strings.Contains(rec.OriginalText, "***") {
		t.Fatalf("expected mask marker in %q", rec.OriginalText)
	}
}

func TestRetrieveProfileFallback(t *testing.T) {
	s := tempStore(t, config.Default(), newFakeEmbedder())
	ctx := context.Background()

	if _, err := s.Archive(ctx, cand("neural networks explained", "brains made of math", "beginner", 96)); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	// No expert records exist; the profile filter drops away.
	got, err := s.Retrieve(ctx, "neural networks explained", "expert", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected fallback to return 1 record, got %d", len(got))
	}
}

func TestRetrieveEmptyArchive(t *testing.T) {
	s := tempStore(t, config.Default(), newFakeEmbedder())

	got, err := s.Retrieve(context.Background(), "anything at all", "beginner", 2)
	if err != nil {
		t.Fatalf("empty archive must not error, got %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no records, got %d", len(got))
	}
}

func TestRetrieveRecallFilter(t *testing.T) {
	cfg := config.Default()
	cfg.ArchiveThreshold = 90 // let a sub-recall record in
	s := tempStore(t, cfg, newFakeEmbedder())
	ctx := context.Background()

	if _, err := s.Archive(ctx, cand("low scorer original", "low scorer rewrite", "beginner", 90)); err != nil {
		t.Fatalf("Archive low: %v", err)
	}
	if _, err := s.Archive(ctx, cand("high scorer original", "high scorer rewrite", "beginner", 95)); err != nil {
		t.Fatalf("Archive high: %v", err)
	}

	got, err := s.Retrieve(ctx, "scorer original", "beginner", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected recall filter to keep 1 record, got %d", len(got))
	}
	if got[0].Score != 95 {
		t.Fatalf("expected the high scorer, got score %d", got[0].Score)
	}
}

func TestRetrieveLexicalRanking(t *testing.T) {
	s := tempStore(t, config.Default(), newFakeEmbedder())
	ctx := context.Background()

	// One-hot embeddings make every cosine zero, so ranking is lexical.
	if _, err := s.Archive(ctx, cand("gravity bends spacetime around massive objects", "heavy things curve space", "beginner", 96)); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if _, err := s.Archive(ctx, cand("enzymes catalyze biochemical reactions", "proteins speed up chemistry", "beginner", 96)); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	got, err := s.Retrieve(ctx, "how gravity bends spacetime", "beginner", 1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if !strings.Contains(got[0].OriginalText, "gravity") {
		t.Fatalf("expected the gravity record first, got %q", got[0].OriginalText)
	}
}

func TestRetrieveDegradesWithoutEmbedder(t *testing.T) {
	emb := newFakeEmbedder()
	s := tempStore(t, config.Default(), emb)
	ctx := context.Background()

	if _, err := s.Archive(ctx, cand("solar panels convert sunlight", "panels turn sun into power", "beginner", 96)); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	emb.fail = true
	got, err := s.Retrieve(ctx, "how solar panels convert sunlight to power", "beginner", 2)
	if err != nil {
		t.Fatalf("retrieval must degrade, not fail: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected lexical-only retrieval to return 1 record, got %d", len(got))
	}
}

func TestEmbeddingMemoized(t *testing.T) {
	emb := newFakeEmbedder()
	s := tempStore(t, config.Default(), emb)
	ctx := context.Background()

	text := "memoized source text about photosynthesis"
	if _, err := s.Archive(ctx, cand(text, "plants eat light", "beginner", 96)); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Retrieve(ctx, text, "beginner", 1); err != nil {
			t.Fatalf("Retrieve %d: %v", i, err)
		}
	}
	if n := emb.callCount(text); n != 1 {
		t.Fatalf("expected exactly 1 embed call for repeated text, got %d", n)
	}
}

func TestConcurrentArchives(t *testing.T) {
	s := tempStore(t, config.Default(), newFakeEmbedder())
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Archive(ctx, cand(
				fmt.Sprintf("unique original number %d", i),
				fmt.Sprintf("unique rewrite number %d", i),
				"beginner", 96))
			errCh <- err
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("concurrent Archive: %v", err)
		}
	}
	recs, err := s.List("", 20)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != n {
		t.Fatalf("expected %d records, got %d", n, len(recs))
	}
}

func TestVectorRoundtrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3.75, 0}
	out := decodeVector(encodeVector(in))
	if len(out) != len(in) {
		t.Fatalf("length mismatch: %d vs %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("index %d: %f != %f", i, in[i], out[i])
		}
	}
}
