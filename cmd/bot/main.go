package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/probekit/mailprobe/internal/bot"
	"github.com/probekit/mailprobe/internal/config"
	"github.com/probekit/mailprobe/internal/dispatch"
	"github.com/probekit/mailprobe/internal/domains"
	"github.com/probekit/mailprobe/internal/logger"
	"github.com/probekit/mailprobe/internal/ops"
	"github.com/probekit/mailprobe/internal/ratelimit"
	"github.com/probekit/mailprobe/internal/session"
)

var version = "dev"

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	slogger := logger.New(cfg.Log)

	store := session.NewStore(cfg.Limits.SessionTimeout)
	defer store.Close()

	limiter := ratelimit.NewLimiter(cfg.Limits.RateLimitMax, cfg.Limits.RateLimitWindow)
	defer limiter.Close()

	dm := domains.NewManager(cfg.Domains.File, cfg.Telegram.AdminIDs)

	sender := dispatch.NewSMTPSender(cfg.SMTP.ConnectTimeout, cfg.SMTP.SendTimeout)
	sender.LocalName = cfg.SMTP.LocalName

	engine := dispatch.NewEngine(store, sender, cfg.Limits.BatchSize, cfg.Limits.MaxConcurrentBatches, slogger)

	machine := bot.NewMachine(store, limiter, engine, dm, cfg.Limits.MaxRecipients, slogger)

	opsHandler := ops.NewHandler(store, version)
	opsSrv := &http.Server{
		Addr:         cfg.Ops.Addr,
		Handler:      opsHandler.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slogger.Info("ops endpoint listening", "addr", cfg.Ops.Addr)
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogger.Error("ops server failed", "error", err.Error())
		}
	}()

	tg, err := bot.NewTelegram(cfg.Telegram.Token, machine, slogger)
	if err != nil {
		log.Fatalf("telegram auth failed: %v", err)
	}
	opsHandler.SetReady(true)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slogger.Info("starting", "version", version,
		"batch_size", cfg.Limits.BatchSize,
		"session_timeout", cfg.Limits.SessionTimeout,
		"domain_pool", len(dm.Pool()))
	tg.Run(ctx)

	// Drain: stop accepting ops traffic, give in-flight batches a moment.
	opsHandler.SetReady(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := opsSrv.Shutdown(shutdownCtx); err != nil {
		slogger.Error("ops shutdown failed", "error", err.Error())
	}
	slogger.Info("stopped")
}
