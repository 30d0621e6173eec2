package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/documind/targetopt/internal/archive"
	"github.com/documind/targetopt/internal/config"
	"github.com/documind/targetopt/internal/engine"
	"github.com/documind/targetopt/internal/guardrail"
	"github.com/documind/targetopt/internal/llm"
	"github.com/documind/targetopt/internal/prompt"
	"github.com/documind/targetopt/internal/server"
	"github.com/documind/targetopt/internal/session"
)

// #region main
func main() {
	addr := envOr("TARGETOPT_ADDR", ":8090")
	cfgPath := envOr("TARGETOPT_CONFIG", "")
	dbPath := envOr("TARGETOPT_DB", "targetopt.db")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	client := llm.NewClient(llm.Options{
		BaseURL:    envOr("LLM_BASE_URL", "http://localhost:8080"),
		APIKey:     envOr("LLM_API_KEY", ""),
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

	controller := session.NewController(cfg, engine.Deps{
		Generator: client,
		Critic:    client,
		Store:     store,
		Assembler: prompt.NewAssembler(cfg),
		Validator: guardrail.NewValidator(cfg.DriftThreshold, guardrail.EmbedderSimilarity(client)),
		History:   history,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweepLoop(ctx, controller, cfg.SessionTTL)

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.New(controller).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[MAIN] listening on %s (db=%s)", addr, dbPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[MAIN] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[MAIN] shutdown error: %v", err)
	}
}

// #endregion main

// #region sweep

// sweepLoop expires idle runs at a quarter of the TTL.
func sweepLoop(ctx context.Context, controller *session.Controller, ttl time.Duration) {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			controller.Sweep()
		}
	}
}

// #endregion sweep

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
