package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/merchfeed/merchfeed/ingest"
	"github.com/merchfeed/merchfeed/ingest/config"
	ingeststore "github.com/merchfeed/merchfeed/ingest/store/pgxstore"
	"github.com/merchfeed/merchfeed/normalize"
	normalizestore "github.com/merchfeed/merchfeed/normalize/store/pgxstore"
	"github.com/merchfeed/merchfeed/pkg/alert"
	"github.com/merchfeed/merchfeed/pkg/logger"
	"github.com/merchfeed/merchfeed/pkg/pgxdb"
	"github.com/merchfeed/merchfeed/pkg/shopify"
	"github.com/merchfeed/merchfeed/web/handler"
	webstore "github.com/merchfeed/merchfeed/web/store/pgxstore"
)

// These values are overridden at build time using -ldflags
var (
	version = "dev"
	date    = "unknown"
)

func main() {
	// Load configuration
	cfg := config.New()

	// Initialize logger and set as default
	log := logger.NewFromConfig(logger.Config{
		LogLevel:         cfg.LogLevel,
		LogHumanFriendly: cfg.LogHumanFriendly,
	})
	slog.SetDefault(log)

	// Prepare context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.InfoContext(ctx, "Merchfeed ingestion daemon starting",
		slog.String("version", version),
		slog.String("date", date),
	)

	// Tenant registry from environment
	stores, err := ingest.ParseStores(cfg.Stores)
	if err != nil {
		log.ErrorContext(ctx, "Failed to parse store configuration", slog.Any("error", err))
		os.Exit(1)
	}
	registry, err := ingest.NewRegistry(stores)
	if err != nil {
		log.ErrorContext(ctx, "Failed to build tenant registry", slog.Any("error", err))
		os.Exit(1)
	}

	// Database connection
	db, err := pgxdb.NewConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		log.ErrorContext(ctx, "Failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Stores share the pool; the deferred db.Close above owns its lifecycle.
	ingestStore, _ := ingeststore.New(db)
	normalizeStore, _ := normalizestore.New(db)
	countsStore, _ := webstore.New(db)

	// Upstream commerce client
	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout}
	apiClient := shopify.NewClient(httpClient,
		shopify.WithAPIVersion(cfg.APIVersion),
		shopify.WithRequestsPerSecond(cfg.RequestsPerSecond),
	)

	// Transform engine reuses the normalized store as source, sink and cost
	// resolver.
	transformer := normalize.NewEngine(normalizeStore, normalizeStore, normalizeStore)

	// Ingestion service
	service := ingest.NewService(
		registry,
		apiClient,
		ingestStore,
		ingestStore,
		ingestStore,
		ingestStore,
		ingest.WithPagesPerRun(cfg.PagesPerRun),
		ingest.WithPageSize(cfg.PageSize),
		ingest.WithWindowDays(cfg.WindowDays),
		ingest.WithTransformer(transformer),
	)

	// Scheduled runner with alerting
	runner := ingest.NewRunner(service,
		ingest.WithTickInterval(cfg.TickInterval),
		ingest.WithAlertSink(alertSink(cfg)),
	)

	log.InfoContext(ctx, "Starting scheduled ingestion",
		slog.Int("stores", registry.Len()),
		slog.Duration("tickInterval", cfg.TickInterval),
	)
	events, done := runner.Start(ctx)

	// Subscribe to events for logging
	subCloser := setupEventLogging(ctx, events, log)
	defer subCloser()

	// Control and health HTTP surface
	mux := http.NewServeMux()
	handler.NewIngestPostRun(service).AddRoutes(mux)
	handler.NewIngestPostBackfill(service, cfg.BackfillAuthToken).AddRoutes(mux)
	handler.NewIngestCursor(registry, ingestStore).AddRoutes(mux)
	handler.NewHealth(registry, ingestStore, ingestStore, countsStore).AddRoutes(mux)

	loggedMux := logger.NewMiddleware(log)(mux)

	addr := net.JoinHostPort(cfg.HTTPHost, cfg.HTTPPort)
	server := &http.Server{
		Addr:    addr,
		Handler: loggedMux,
	}

	go func() {
		log.InfoContext(ctx, "Control server started", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.ErrorContext(ctx, "Control server failed to start", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()

	log.InfoContext(ctx, "Shutting down...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.ErrorContext(ctx, "Control server forced to shutdown", slog.Any("error", err))
	}

	<-done
	log.InfoContext(ctx, "Ingestion daemon exited gracefully")
}

// alertSink builds the configured alert sink; no SMTP host means alerting is
// disabled.
func alertSink(cfg config.Config) alert.Sink {
	if cfg.SMTPHost == "" {
		return alert.Nop{}
	}
	return alert.NewSMTPSink(alert.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.AlertFrom,
		To:       splitRecipients(cfg.AlertTo),
	})
}

func splitRecipients(spec string) []string {
	var recipients []string
	for _, rcpt := range strings.Split(spec, ",") {
		if rcpt = strings.TrimSpace(rcpt); rcpt != "" {
			recipients = append(recipients, rcpt)
		}
	}
	return recipients
}

// setupEventLogging configures event handlers using slog directly
func setupEventLogging(ctx context.Context, events <-chan ingest.Event, log *slog.Logger) func() {
	return ingest.NewSubscriber(events,
		ingest.OnRunnerStarted(func(event ingest.RunnerStarted) {
			log.InfoContext(ctx, "Scheduled ingestion started",
				slog.Duration("interval", event.Interval),
				slog.Int("stores", event.Stores),
			)
		}),
		ingest.OnTickCompleted(func(event ingest.TickCompleted) {
			if event.Result.Records > 0 {
				log.InfoContext(ctx, "Tick completed",
					slog.String("store", event.Result.StoreDomain),
					slog.Int("pages", event.Result.Pages),
					slog.Int("records", event.Result.Records),
					slog.Bool("exhausted", event.Result.Exhausted),
					slog.Int("orders", event.Result.Transform.Orders),
					slog.Int("items", event.Result.Transform.Items),
					slog.Int("skipped", event.Result.Transform.Skipped),
				)
			} else {
				log.InfoContext(ctx, "Tick completed, no new records",
					slog.String("store", event.Result.StoreDomain),
				)
			}
		}),
		ingest.OnTickSkipped(func(event ingest.TickSkipped) {
			log.InfoContext(ctx, "Tick skipped, run already in progress",
				slog.String("store", event.StoreDomain),
			)
		}),
		ingest.OnTickFailed(func(event ingest.TickFailed) {
			log.ErrorContext(ctx, "Tick failed",
				slog.String("store", event.StoreDomain),
				slog.Any("error", event.Err),
			)
		}),
		ingest.OnAlertDropped(func(event ingest.AlertDropped) {
			log.WarnContext(ctx, "Failure alert could not be delivered",
				slog.String("store", event.StoreDomain),
				slog.Any("error", event.Err),
			)
		}),
		ingest.OnRunnerShutdown(func(event ingest.RunnerShutdown) {
			log.InfoContext(ctx, "Scheduled ingestion stopped",
				slog.String("reason", event.Reason.Error()),
			)
		}),
	)
}
