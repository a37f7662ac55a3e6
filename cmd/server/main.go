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

	"github.com/signato/signato/internal/adapter/events"
	httpadapter "github.com/signato/signato/internal/adapter/http"
	"github.com/signato/signato/internal/adapter/memory"
	"github.com/signato/signato/internal/adapter/pdf"
	"github.com/signato/signato/internal/adapter/persistence"
	"github.com/signato/signato/internal/adapter/storage"
	"github.com/signato/signato/internal/auth"
	"github.com/signato/signato/internal/compose"
	"github.com/signato/signato/internal/config"
	"github.com/signato/signato/internal/expiry"
	"github.com/signato/signato/internal/lock"
	"github.com/signato/signato/internal/logger"
	"github.com/signato/signato/internal/ports"
	"github.com/signato/signato/internal/ratelimit"
	"github.com/signato/signato/internal/token"
	"github.com/signato/signato/internal/usecase"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	appLog := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	appLog.WithField("environment", cfg.Server.Environment).Info("Application starting")

	db, err := persistence.Open(cfg.GetDatabaseURL(), cfg.Database.MaxConnections, cfg.Database.MaxIdleTime)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()
	appLog.Info("Database connection established")

	docs := persistence.NewPostgresDocumentRepository(db)
	recipients := persistence.NewPostgresRecipientRepository(db)
	fields := persistence.NewPostgresFieldRepository(db)
	auditLog := persistence.NewPostgresAuditRepository(db)

	store, err := buildArtifactStore(ctx, cfg)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize artifact store")
	}
	appLog.WithField("backend", cfg.Storage.Backend).Info("Artifact store initialized")

	limiter, err := ratelimit.NewLimiter(ratelimit.Config{
		Enabled:  cfg.Security.RateLimitEnabled,
		RedisURL: cfg.Redis.URL,
		Attempts: cfg.Security.RateLimitAttempts,
		Window:   cfg.Security.RateLimitWindow,
	}, appLog)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize rate limiter")
	}

	clock := ports.SystemClock{}
	locks := lock.NewKeyed()
	publisher := events.NewLogPublisher(appLog)
	inspector := pdf.NewInspector(cfg.Workflow.SourcePageLimit)
	renderer := pdf.NewRenderer()
	guard := token.NewGuard(recipients, clock)
	jwtService := auth.NewJWTService(cfg.Security.JWTSecret, time.Hour)

	composer := compose.NewComposer(docs, recipients, fields, auditLog, store, inspector, renderer, publisher, locks, clock, appLog)
	runner := compose.NewRunner(composer, docs, compose.RunnerConfig{
		Workers:     cfg.Workflow.ComposeWorkers,
		MaxAttempts: cfg.Workflow.ComposeAttempts,
		BaseBackoff: cfg.Workflow.ComposeBackoff,
		JobTimeout:  cfg.Workflow.ComposeTimeout,
	}, appLog)
	runner.Start()
	defer runner.Stop()

	// re-enqueue documents whose composition was interrupted by a crash
	if err := runner.Recover(ctx); err != nil {
		appLog.WithError(err).Error("Composition recovery failed")
	}

	issuerUseCase := usecase.NewIssuerUseCase(docs, recipients, fields, auditLog, store, inspector, publisher, runner, locks, clock, cfg.Workflow.TokenTTL, appLog)
	signingUseCase := usecase.NewSigningUseCase(docs, recipients, fields, auditLog, store, publisher, runner, guard, locks, clock, appLog)

	sweeper := expiry.NewSweeper(docs, recipients, auditLog, publisher, locks, clock, expiry.SweeperConfig{
		Interval:       cfg.Workflow.SweepInterval,
		ReminderWindow: cfg.Workflow.ReminderWindow,
	}, appLog)
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go sweeper.Run(sweepCtx)

	server := httpadapter.NewServer(httpadapter.ServerConfig{
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		CORSOrigin:     cfg.Security.CORSOrigin,
		MaxUploadBytes: cfg.Workflow.MaxUploadBytes,
	}, issuerUseCase, signingUseCase, jwtService, limiter, appLog)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.WithError(err).Error("HTTP server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.WithError(err).Error("Server forced to shutdown")
	}
	appLog.Info("Server exited")
}

func buildArtifactStore(ctx context.Context, cfg *config.Config) (ports.ArtifactStore, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:    cfg.Storage.S3Bucket,
			Region:    cfg.Storage.S3Region,
			KeyPrefix: cfg.Storage.S3KeyPrefix,
			Endpoint:  cfg.Storage.S3Endpoint,
		})
	case "memory":
		return memory.NewArtifactStore(), nil
	default:
		return storage.NewFSStore(cfg.Storage.FSRoot)
	}
}
