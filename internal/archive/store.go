// Package archive persists accepted high-quality rewrites and retrieves
// them as few-shot examples using hybrid embedding + lexical ranking.
package archive

// #region imports
import (
	"context"
	"database/sql"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/documind/targetopt/internal/config"
	"github.com/documind/targetopt/internal/llm"
)

// #endregion

// #region schema

// The table name carries a schema version suffix so old readers keep
// working across migrations.
const collection = "best_practices_v2"

const schema = `
CREATE TABLE IF NOT EXISTS ` + collection + ` (
	id                  TEXT PRIMARY KEY,
	original_text       TEXT NOT NULL,
	rewritten_text      TEXT NOT NULL,
	score               INTEGER NOT NULL,
	target_profile      TEXT NOT NULL,
	keywords            TEXT NOT NULL DEFAULT '',
	model_version       TEXT NOT NULL DEFAULT '',
	embedding           BLOB NOT NULL,
	rewritten_embedding BLOB NOT NULL,
	created_at          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_` + collection + `_profile
ON ` + collection + `(target_profile, score);
`

// #endregion

// #region open-db

// OpenDB opens a SQLite database with the pragmas the store expects.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, errors.Wrap(err, "pragma wal")
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, errors.Wrap(err, "pragma fk")
	}
	return db, nil
}

// #endregion

// #region store-struct

// Store owns the best-practice collection. It is safe for concurrent
// archive and retrieve calls from independent sessions: writes serialize on
// a single mutex, reads go straight to SQLite, so a successful Archive is
// visible to every subsequent Retrieve.
type Store struct {
	db       *sql.DB
	embedder llm.Embedder
	cache    *embedCache
	cfg      config.Config

	writeMu chan struct{} // single-writer token
}

// NewStore runs migrations and returns a Store sharing the given database.
func NewStore(db *sql.DB, embedder llm.Embedder, cfg config.Config) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, errors.Wrap(err, "migrate archive")
	}
	s := &Store{
		db:       db,
		embedder: embedder,
		cache:    newEmbedCache(512),
		cfg:      cfg,
		writeMu:  make(chan struct{}, 1),
	}
	s.writeMu <- struct{}{}
	return s, nil
}

// #endregion

// #region archive

// Archive validates, masks, dedups, and persists a candidate. It returns
// the stored record, ErrValidation for malformed candidates, or
// ErrDuplicateSuppressed when a near-identical record already exists.
func (s *Store) Archive(ctx context.Context, cand Candidate) (Record, error) {
	if err := validate(cand, s.cfg.ArchiveThreshold); err != nil {
		return Record{}, err
	}

	// Side effect on the stored value only: the caller's copy keeps its
	// original content.
	maskedOriginal := maskPII(strings.TrimSpace(cand.OriginalText))
	maskedRewritten := maskPII(strings.TrimSpace(cand.RewrittenText))

	origVec, err := s.cache.get(ctx, s.embedder, maskedOriginal)
	if err != nil {
		return Record{}, errors.Wrap(err, "archive: embed original")
	}
	rewVec, err := s.cache.get(ctx, s.embedder, maskedRewritten)
	if err != nil {
		return Record{}, errors.Wrap(err, "archive: embed rewritten")
	}

	select {
	case <-s.writeMu:
	case <-ctx.Done():
		return Record{}, errors.Wrap(ctx.Err(), "archive")
	}
	defer func() { s.writeMu <- struct{}{} }()

	dup, err := s.findDuplicate(rewVec)
	if err != nil {
		return Record{}, err
	}
	if dup {
		return Record{}, ErrDuplicateSuppressed
	}

	rec := Record{
		ID:            uuid.New().String(),
		OriginalText:  maskedOriginal,
		RewrittenText: maskedRewritten,
		Score:         cand.Score,
		TargetProfile: cand.TargetProfile,
		Keywords:      append([]string(nil), cand.Keywords...),
		ModelVersion:  cand.ModelVersion,
		CreatedAt:     time.Now().UTC(),
	}

	_, err = s.db.Exec(`
		INSERT INTO `+collection+`
		(id, original_text, rewritten_text, score, target_profile, keywords,
		 model_version, embedding, rewritten_embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.OriginalText,
		rec.RewrittenText,
		rec.Score,
		rec.TargetProfile,
		strings.Join(rec.Keywords, ","),
		rec.ModelVersion,
		encodeVector(origVec),
		encodeVector(rewVec),
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Record{}, errors.Wrap(err, "archive: insert")
	}

	log.Printf("[ARCHIVE] stored %s profile=%s score=%d", rec.ID, rec.TargetProfile, rec.Score)
	return rec, nil
}

func validate(cand Candidate, archiveThreshold int) error {
	var missing []string
	if strings.TrimSpace(cand.OriginalText) == "" {
		missing = append(missing, "original_text")
	}
	if strings.TrimSpace(cand.RewrittenText) == "" {
		missing = append(missing, "rewritten_text")
	}
	if strings.TrimSpace(cand.TargetProfile) == "" {
		missing = append(missing, "target_profile")
	}
	if len(missing) > 0 {
		return errors.Mark(
			errors.Newf("archive candidate missing %s", strings.Join(missing, ", ")),
			ErrValidation)
	}
	if cand.Score < archiveThreshold {
		return errors.Mark(
			errors.Newf("archive candidate score %d below threshold %d", cand.Score, archiveThreshold),
			ErrValidation)
	}
	return nil
}

// findDuplicate scans stored rewritten-text embeddings for a cosine match
// at or above the dedup threshold.
func (s *Store) findDuplicate(rewVec []float32) (bool, error) {
	rows, err := s.db.Query(`SELECT rewritten_embedding FROM ` + collection)
	if err != nil {
		return false, errors.Wrap(err, "archive: dedup scan")
	}
	defer rows.Close()

	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return false, errors.Wrap(err, "archive: scan embedding")
		}
		if cosine(rewVec, decodeVector(blob)) >= s.cfg.DedupThreshold {
			return true, nil
		}
	}
	return false, rows.Err()
}

// #endregion

// #region retrieve

// Retrieve returns up to n archived examples ranked by hybrid score:
// weighted cosine similarity of original-text embeddings plus lexical
// token overlap over the same field. Candidates are first restricted to
// the target profile and the recall score floor; when the profile filter
// yields nothing, it is dropped and only the score filter applies. An
// empty result is "no examples available", never an error.
func (s *Store) Retrieve(ctx context.Context, originalText, targetProfile string, n int) ([]Record, error) {
	if strings.TrimSpace(originalText) == "" || n <= 0 {
		return nil, nil
	}
	query := maskPII(strings.TrimSpace(originalText))

	cands, err := s.loadCandidates(targetProfile)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		// Fallback: score filter only.
		cands, err = s.loadCandidates("")
		if err != nil {
			return nil, err
		}
	}
	if len(cands) == 0 {
		return nil, nil
	}

	// Lexical relevance over archived original_text.
	queryTokens := tokenize(query)
	lexical := make([]float64, len(cands))
	for i, c := range cands {
		lexical[i] = overlapScore(queryTokens, tokenize(c.rec.OriginalText))
	}
	lexNorm := normalizeScores(lexical)

	// Embedding similarity. An unreachable embedder degrades to
	// lexical-only ranking rather than blocking the run.
	embNorm := make([]float64, len(cands))
	if queryVec, err := s.cache.get(ctx, s.embedder, query); err != nil {
		log.Printf("[ARCHIVE] embedding unavailable, lexical-only retrieval: %v", err)
	} else {
		embScores := make([]float64, len(cands))
		for i, c := range cands {
			embScores[i] = cosine(queryVec, c.embedding)
		}
		embNorm = normalizeScores(embScores)
	}

	type ranked struct {
		combined float64
		idx      int
	}
	scored := make([]ranked, len(cands))
	for i := range cands {
		scored[i] = ranked{
			combined: s.cfg.EmbedWeight*embNorm[i] + s.cfg.LexicalWeight*lexNorm[i],
			idx:      i,
		}
	}
	sort.SliceStable(scored, func(a, b int) bool {
		if scored[a].combined != scored[b].combined {
			return scored[a].combined > scored[b].combined
		}
		ca, cb := cands[scored[a].idx], cands[scored[b].idx]
		if !ca.rec.CreatedAt.Equal(cb.rec.CreatedAt) {
			return ca.rec.CreatedAt.After(cb.rec.CreatedAt)
		}
		return ca.rec.ID < cb.rec.ID
	})

	if n > len(scored) {
		n = len(scored)
	}
	out := make([]Record, 0, n)
	for _, r := range scored[:n] {
		out = append(out, copyRecord(cands[r.idx].rec))
	}
	return out, nil
}

type retrievalCandidate struct {
	rec       Record
	embedding []float32
}

// loadCandidates reads rows above the recall threshold, optionally filtered
// by profile. An empty profile means score-only filtering.
func (s *Store) loadCandidates(targetProfile string) ([]retrievalCandidate, error) {
	q := `SELECT id, original_text, rewritten_text, score, target_profile,
	             keywords, model_version, embedding, created_at
	      FROM ` + collection + ` WHERE score >= ?`
	args := []any{s.cfg.RecallThreshold}
	if targetProfile != "" {
		q += ` AND target_profile = ?`
		args = append(args, targetProfile)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "retrieve: query"), ErrRetrievalUnavailable)
	}
	defer rows.Close()

	var cands []retrievalCandidate
	for rows.Next() {
		var rec Record
		var keywords, createdStr string
		var blob []byte
		if err := rows.Scan(&rec.ID, &rec.OriginalText, &rec.RewrittenText, &rec.Score,
			&rec.TargetProfile, &keywords, &rec.ModelVersion, &blob, &createdStr); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "retrieve: scan"), ErrRetrievalUnavailable)
		}
		if keywords != "" {
			rec.Keywords = strings.Split(keywords, ",")
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		cands = append(cands, retrievalCandidate{rec: rec, embedding: decodeVector(blob)})
	}
	return cands, rows.Err()
}

func copyRecord(rec Record) Record {
	out := rec
	out.Keywords = append([]string(nil), rec.Keywords...)
	return out
}

// #endregion

// #region list

// List returns the most recent records, optionally filtered by profile.
// Used by the inspect CLI.
func (s *Store) List(targetProfile string, limit int) ([]Record, error) {
	q := `SELECT id, original_text, rewritten_text, score, target_profile,
	             keywords, model_version, created_at
	      FROM ` + collection
	var args []any
	if targetProfile != "" {
		q += ` WHERE target_profile = ?`
		args = append(args, targetProfile)
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var keywords, createdStr string
		if err := rows.Scan(&rec.ID, &rec.OriginalText, &rec.RewrittenText, &rec.Score,
			&rec.TargetProfile, &keywords, &rec.ModelVersion, &createdStr); err != nil {
			return nil, errors.Wrap(err, "list: scan")
		}
		if keywords != "" {
			rec.Keywords = strings.Split(keywords, ",")
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// #endregion
