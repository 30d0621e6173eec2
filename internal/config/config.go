package config

// #region imports
import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// #endregion

// #region config

// Config carries every tunable for the refinement pipeline. Sessions are
// independently configurable: each engine run receives its own copy, so
// nothing in this package is module-level mutable state.
type Config struct {
	// Score thresholds (0-100 critic scale).
	PassThreshold    int `yaml:"pass_threshold"`    // >= pass ends the run
	ConfirmThreshold int `yaml:"confirm_threshold"` // [confirm, pass) suspends for user confirmation
	ArchiveThreshold int `yaml:"archive_threshold"` // >= archive writes a best practice
	RecallThreshold  int `yaml:"recall_threshold"`  // retrieval ignores archived records below this
	SelectionFloor   int `yaml:"selection_floor"`   // best-of-N floor between phases

	// Attempt budgets.
	Phase1Attempts int `yaml:"phase1_attempts"`
	Phase2Attempts int `yaml:"phase2_attempts"`

	// Prompt assembly budgets.
	MaxExamples         int `yaml:"max_examples"`
	MaxSingleExampleLen int `yaml:"max_single_example_len"` // characters per injected example
	MaxExampleTokens    int `yaml:"max_example_tokens"`     // aggregate estimated tokens
	RetrieveN           int `yaml:"retrieve_n"`             // candidates requested from the archive

	// Similarity knobs.
	DedupThreshold float64 `yaml:"dedup_threshold"` // cosine at or above suppresses an archive candidate
	DriftThreshold float64 `yaml:"drift_threshold"` // cosine below fails the semantic drift guardrail
	EmbedWeight    float64 `yaml:"embed_weight"`    // hybrid retrieval weights
	LexicalWeight  float64 `yaml:"lexical_weight"`

	// Chunking and routing.
	ChunkSize        int     `yaml:"chunk_size"`
	ComplexityCutoff float64 `yaml:"complexity_cutoff"` // above routes to plan-and-solve

	// Session lifecycle.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// Recorded on archived examples.
	ModelVersion string `yaml:"model_version"`
}

// #endregion

// #region defaults

// Default returns the shipped configuration.
func Default() Config {
	return Config{
		PassThreshold:    90,
		ConfirmThreshold: 85,
		ArchiveThreshold: 95,
		RecallThreshold:  92,
		SelectionFloor:   75,

		Phase1Attempts: 5,
		Phase2Attempts: 3,

		MaxExamples:         2,
		MaxSingleExampleLen: 500,
		MaxExampleTokens:    1000,
		RetrieveN:           2,

		DedupThreshold: 0.95,
		DriftThreshold: 0.35,
		EmbedWeight:    0.6,
		LexicalWeight:  0.4,

		ChunkSize:        3000,
		ComplexityCutoff: 0.4,

		SessionTTL: 30 * time.Minute,
	}
}

// #endregion

// #region load

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// #endregion

// #region validate

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.PassThreshold <= c.ConfirmThreshold {
		return errors.Newf("config: pass_threshold %d must exceed confirm_threshold %d",
			c.PassThreshold, c.ConfirmThreshold)
	}
	if c.ArchiveThreshold < c.PassThreshold {
		return errors.Newf("config: archive_threshold %d below pass_threshold %d",
			c.ArchiveThreshold, c.PassThreshold)
	}
	if c.Phase1Attempts < 1 || c.Phase2Attempts < 0 {
		return errors.Newf("config: attempt budgets %d/%d out of range",
			c.Phase1Attempts, c.Phase2Attempts)
	}
	if c.DedupThreshold <= 0 || c.DedupThreshold > 1 {
		return errors.Newf("config: dedup_threshold %.2f outside (0,1]", c.DedupThreshold)
	}
	if c.EmbedWeight < 0 || c.LexicalWeight < 0 || c.EmbedWeight+c.LexicalWeight == 0 {
		return errors.New("config: retrieval weights must be non-negative and not both zero")
	}
	return nil
}

// #endregion
