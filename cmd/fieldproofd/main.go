package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	slacklib "github.com/slack-go/slack"

	"github.com/fieldproof/fieldproof/internal/api/ws"
	"github.com/fieldproof/fieldproof/internal/auth"
	"github.com/fieldproof/fieldproof/internal/config"
	"github.com/fieldproof/fieldproof/internal/enterprise"
	"github.com/fieldproof/fieldproof/internal/export"
	"github.com/fieldproof/fieldproof/internal/ingest"
	"github.com/fieldproof/fieldproof/internal/ledger"
	"github.com/fieldproof/fieldproof/internal/notify"
	"github.com/fieldproof/fieldproof/internal/review"
	"github.com/fieldproof/fieldproof/internal/server"
	"github.com/fieldproof/fieldproof/internal/store/postgres"
	redisstore "github.com/fieldproof/fieldproof/internal/store/redis"
	"github.com/fieldproof/fieldproof/internal/verify"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("FIELDPROOF_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("FIELDPROOF_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
		return fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
	}

	// Self-hosted deployments run license checks at startup.
	license := enterprise.NewValidator(nil)
	if cfg.SelfHosted && cfg.LicenseFile != "" {
		lic, licErr := enterprise.LoadFile(cfg.LicenseFile)
		if licErr != nil {
			return licErr
		}
		license = enterprise.NewValidator(lic)
		if vErr := license.Validate(); vErr != nil {
			return vErr
		}
		log.Info().Str("org", lic.Org).Time("expires_at", lic.ExpiresAt).Msg("license loaded")
	}
	if cfg.SelfHosted && cfg.Verify.Provider == "anchor" && !license.HasFeature(enterprise.FeatureAnchoring) {
		return fmt.Errorf("anchoring provider requires a license with the %q feature", enterprise.FeatureAnchoring)
	}

	// Connect to PostgreSQL; migrations run inside New.
	store, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
	if err != nil {
		return err
	}
	defer store.Close()

	// Connect to Redis.
	pubsub, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	led := ledger.New(store.Ledger())

	// Alert sinks: always log, and post to Slack and/or a generic webhook
	// when configured.
	alerter := notify.Fanout{notify.LogAlerter{}}
	if cfg.Slack.BotToken != "" && cfg.Slack.OpsChannel != "" {
		alerter = append(alerter,
			notify.NewSlackAlerter(slacklib.New(cfg.Slack.BotToken), cfg.Slack.OpsChannel))
		log.Info().Str("channel", cfg.Slack.OpsChannel).Msg("Slack alerting enabled")
	}
	if cfg.Notify.WebhookURL != "" {
		alerter = append(alerter, notify.NewWebhookAlerter(cfg.Notify.WebhookURL, 10*time.Second))
		log.Info().Msg("webhook alerting enabled")
	}

	// Verification providers. All configured providers register so proofs
	// issued before a provider switch stay verifiable; the active one is
	// chosen by configuration.
	registry := verify.NewRegistry()
	if cfg.Verify.LocalSeed != "" {
		local, localErr := verify.NewLocalProvider(cfg.Verify.LocalSeed)
		if localErr != nil {
			return localErr
		}
		registry.Register(local)
	}
	if cfg.Verify.TimestampURL != "" {
		registry.Register(verify.NewTimestampProvider(cfg.Verify.TimestampURL, 30*time.Second))
	}
	var anchorProvider *verify.AnchorProvider
	if cfg.Verify.AnchorURL != "" {
		anchorProvider = verify.NewAnchorProvider(
			verify.NewHTTPAnchorer(cfg.Verify.AnchorURL, 30*time.Second),
			cfg.Verify.AnchorBatchSize)
		registry.Register(anchorProvider)
	}
	if err := registry.SetActive(cfg.Verify.Provider); err != nil {
		return err
	}

	proofSvc := verify.NewService(registry, store.Proofs(), led, alerter, cfg.Verify.SweepInterval)

	// Application services.
	authSvc := auth.NewService(store.Reviewers(), store.Devices(),
		cfg.JWT.Secret, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)
	if n := license.MaxDevices(); n > 0 {
		authSvc.SetDeviceLimit(n)
	}

	hub := ws.NewHub(pubsub)

	ingestSvc := ingest.NewService(store.Events(), led, proofSvc, hub, ingest.Options{
		SoftSkew: cfg.Ingest.SoftClockSkew,
		HardSkew: cfg.Ingest.HardClockSkew,
	})
	reviewSvc := review.NewService(store.Events(), store.Reviews(), store.Reviewers(), led)
	exportSvc := export.NewService(store.Events(), store.Reviews(), store.Proofs(), led, proofSvc)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Background workers: proof retry sweeper, and periodic anchor flushes
	// so partial batches don't stay pending forever.
	go proofSvc.Run(ctx)
	if anchorProvider != nil {
		go runAnchorFlusher(ctx, anchorProvider, cfg.Verify.SweepInterval)
	}

	// Create HTTP server with all routes wired.
	srv := server.New(ctx, cfg, store, pubsub, authSvc, hub, server.Services{
		Ingest: ingestSvc,
		Review: reviewSvc,
		Export: exportSvc,
	})

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}

// runAnchorFlusher periodically flushes partial anchor batches.
func runAnchorFlusher(ctx context.Context, provider *verify.AnchorProvider, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := provider.Flush(ctx); err != nil {
				log.Warn().Err(err).Msg("anchor flush failed, batch retained")
			}
		}
	}
}
