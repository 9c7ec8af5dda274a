// governd serves the governance kernel: policy validation, HITL approval
// tokens, and the diff-audit gate that must clear before any autonomous
// action executes.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/satoshiflow/BRAiN-sub001/pkg/api"
	"github.com/satoshiflow/BRAiN-sub001/pkg/approval"
	"github.com/satoshiflow/BRAiN-sub001/pkg/audit"
	"github.com/satoshiflow/BRAiN-sub001/pkg/config"
	"github.com/satoshiflow/BRAiN-sub001/pkg/kernel"
	"github.com/satoshiflow/BRAiN-sub001/pkg/policy"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.Load()

	bundle := policy.DefaultBundle()
	if cfg.PolicyBundle != "" {
		loaded, err := policy.LoadBundle(cfg.PolicyBundle)
		if err != nil {
			log.Error("policy bundle load failed", "path", cfg.PolicyBundle, "error", err)
			os.Exit(1)
		}
		bundle = loaded
	}

	validator, err := policy.NewValidator(bundle)
	if err != nil {
		// A broken policy table must never reach request time.
		log.Error("policy table invalid", "bundle", bundle.Name, "error", err)
		os.Exit(1)
	}
	log.Info("policy bundle active", "bundle", bundle.Name, "version", bundle.Version,
		"actions", len(bundle.Actions), "providers", len(bundle.Providers))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := buildStore(ctx, cfg, log)
	if err != nil {
		log.Error("approval store init failed", "backend", cfg.ApprovalBackend, "error", err)
		os.Exit(1)
	}
	defer cleanup()

	k := kernel.New(validator, approval.NewService(store), audit.NewRecorder(), log)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewServer(k).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("governd listening", "addr", cfg.Addr, "approval_backend", cfg.ApprovalBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	if mem, ok := store.(*approval.MemoryStore); ok {
		go purgeLoop(ctx, mem, cfg.PurgeInterval, log)
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
}

func buildStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (approval.Store, func(), error) {
	switch cfg.ApprovalBackend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := approval.NewPostgresStore(db)
		if err := store.Init(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, func() { _ = db.Close() }, nil
	case "redis":
		store := approval.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := store.Ping(ctx); err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "memory":
		log.Warn("in-memory approval store selected; grants do not survive a restart")
		return approval.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, errors.New("unknown approval backend: " + cfg.ApprovalBackend)
	}
}

func purgeLoop(ctx context.Context, store *approval.MemoryStore, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := store.PurgeExpired(time.Now()); removed > 0 {
				log.Info("purged expired approvals", "count", removed)
			}
		}
	}
}
