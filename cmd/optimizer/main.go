package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/documind/targetopt/internal/archive"
	"github.com/documind/targetopt/internal/config"
	"github.com/documind/targetopt/internal/engine"
	"github.com/documind/targetopt/internal/guardrail"
	"github.com/documind/targetopt/internal/llm"
	"github.com/documind/targetopt/internal/prompt"
)

// #region main
func main() {
	cfgPath := envOr("TARGETOPT_CONFIG", "")
	dbPath := envOr("TARGETOPT_DB", "targetopt.db")
	baseURL := envOr("LLM_BASE_URL", "http://localhost:8080")
	apiKey := envOr("LLM_API_KEY", "")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	client := llm.NewClient(llm.Options{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Model:      envOr("LLM_MODEL", "gpt-4o-mini"),
		EmbedModel: envOr("LLM_EMBED_MODEL", "text-embedding-3-small"),
	})

	db, err := archive.OpenDB(dbPath)
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	defer db.Close()

	store, err := archive.NewStore(db, client, cfg)
	if err != nil {
		log.Fatalf("failed to init archive: %v", err)
	}
	history, err := engine.NewHistory(db)
	if err != nil {
		log.Fatalf("failed to init history: %v", err)
	}

	deps := engine.Deps{
		Generator: client,
		Critic:    client,
		Store:     store,
		Assembler: prompt.NewAssembler(cfg),
		Validator: guardrail.NewValidator(cfg.DriftThreshold, guardrail.EmbedderSimilarity(client)),
		History:   history,
	}

	profile := engine.Profile{
		Name:       envOr("TARGET_PROFILE", "beginner"),
		Role:       envOr("TARGET_ROLE", ""),
		Tone:       envOr("TARGET_TONE", ""),
		Vocabulary: envOr("TARGET_VOCABULARY", ""),
		Structure:  envOr("TARGET_STRUCTURE", ""),
	}

	fmt.Println("Target Optimizer ready.")
	fmt.Printf("  DB: %s | LLM: %s | Profile: %s\n", dbPath, baseURL, profile.Name)
	fmt.Println("Paste source text (or 'quit' to exit):")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		source := strings.TrimSpace(scanner.Text())
		if source == "" {
			continue
		}
		if source == "quit" || source == "exit" {
			break
		}

		if err := drive(cfg, deps, source, profile, scanner); err != nil {
			log.Printf("run failed: %v", err)
		}
	}
}

// #endregion main

// #region drive

// drive runs one refinement to completion, prompting at the confirmation
// boundary.
func drive(cfg config.Config, deps engine.Deps, source string, profile engine.Profile, scanner *bufio.Scanner) error {
	run, err := engine.New(cfg, deps, source, profile)
	if err != nil {
		return err
	}

	for !run.Status().Terminal() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

		if run.Status() == engine.StatusWaitConfirm {
			pending := run.Pending()
			fmt.Printf("\n--- draft (score %d) ---\n%s\n--- feedback ---\n%s\n",
				pending.Score, pending.Draft, pending.Feedback)
			fmt.Print("accept/retry/cancel? ")
			if !scanner.Scan() {
				run.Cancel()
				cancel()
				break
			}
			switch strings.TrimSpace(strings.ToLower(scanner.Text())) {
			case "accept", "a", "y":
				err = run.Accept(ctx)
			case "retry", "r":
				err = run.Retry()
			default:
				run.Cancel()
			}
			cancel()
			if err != nil {
				return err
			}
			continue
		}

		_, err = run.Step(ctx)
		cancel()
		if err != nil {
			return err
		}
	}

	res := run.Result()
	if res == nil {
		fmt.Printf("\nrun ended: %s\n", run.Status())
		return nil
	}

	fmt.Printf("\n%s\n\n", res.Draft)
	fmt.Printf("[%s] score=%d attempts=%d archived=%v", run.ID(), res.Score, res.AttemptNumber, res.Archived)
	if res.QualityWarning {
		fmt.Print(" QUALITY-WARNING")
	}
	fmt.Println()
	return nil
}

// #endregion drive

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
