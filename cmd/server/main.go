package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"agent-jury/backend/internal/agent"
	"agent-jury/backend/internal/api"
	"agent-jury/backend/internal/attest"
	"agent-jury/backend/internal/config"
	"agent-jury/backend/internal/engine"
	"agent-jury/backend/internal/llm"
	"agent-jury/backend/internal/metrics"
	"agent-jury/backend/internal/store"
	"agent-jury/backend/internal/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load configuration: %v", err)
	}
	cfg.ConfigureLogging()

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		logrus.Warn(w)
	}
	if err != nil {
		logrus.Fatalf("invalid configuration: %v", err)
	}

	if dir := filepath.Dir(cfg.Data.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logrus.Fatalf("create data directory: %v", err)
		}
	}
	db, err := store.Open(cfg.Data.DBPath, cfg.Data.SilentDB)
	if err != nil {
		logrus.Fatalf("open store: %v", err)
	}
	defer db.Close()

	recorder := metrics.Default()
	chain, err := llm.NewChain(cfg.ProviderChain(), llm.Options{
		Timeout: cfg.LLM.Timeout,
		Metrics: recorder,
	})
	if err != nil {
		logrus.Fatalf("build provider chain: %v", err)
	}

	engineCfg, err := cfg.EngineSettings()
	if err != nil {
		logrus.Fatalf("engine settings: %v", err)
	}
	eng := engine.New(agent.NewRunner(chain, recorder), engineCfg, util.RealSleeper{}, recorder)

	var signer *attest.Signer
	if s, err := attest.NewSigner(cfg.Attestation.PrivateKey); err == nil {
		signer = s
	} else if !errors.Is(err, attest.ErrDisabled) {
		logrus.WithError(err).Warn("attestation signing disabled")
	}

	server, err := api.NewServer(api.Config{
		DB:              db,
		Engine:          eng,
		Signer:          signer,
		Metrics:         recorder,
		AllowedOrigins:  cfg.CORSOrigins,
		StoreCaseText:   cfg.Data.StoreCaseText,
		RetentionDays:   cfg.Data.RetentionDays,
		AutoRedactPII:   cfg.Data.AutoRedactPII,
		TolerateAbsence: cfg.AI.TolerateAbsence,
		PurgeInterval:   cfg.Data.PurgeInterval,
	})
	if err != nil {
		logrus.Fatalf("create server: %v", err)
	}

	router, err := server.Router()
	if err != nil {
		logrus.Fatalf("configure router: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go server.RunRetentionPurge(ctx)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("graceful shutdown")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"port":           cfg.Port,
		"provider_chain": engineCfg.ProviderChain,
		"dual_pass":      engineCfg.DualPass,
		"prompt_version": agent.PromptVersion,
	}).Info("starting agent-jury backend")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.Fatalf("server exited: %v", err)
	}
}
