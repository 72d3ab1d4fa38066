package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/verifield/api/internal/di"
	"github.com/verifield/api/internal/handlers"
	"github.com/verifield/api/internal/platform/auth"
	"github.com/verifield/api/internal/platform/config"
	"github.com/verifield/api/internal/platform/jobs"
	"github.com/verifield/api/internal/platform/observability"
	"github.com/verifield/api/internal/platform/secrets"
	"github.com/verifield/api/internal/repositories"
	firestoreRepo "github.com/verifield/api/internal/repositories/firestore"
	"github.com/verifield/api/internal/repositories/localcsv"
	"github.com/verifield/api/internal/repositories/memory"
	sheetsRepo "github.com/verifield/api/internal/repositories/sheets"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	master, err := localcsv.NewMasterRepository(localcsv.MasterConfig{
		Path:        cfg.Master.Path,
		DateColumns: cfg.Master.DateColumns,
		TextColumns: cfg.Master.TextColumns,
	})
	if err != nil {
		logger.Fatal("failed to load master dataset", zap.Error(err))
	}
	schema, err := master.Schema(ctx)
	if err != nil {
		logger.Fatal("failed to read master schema", zap.Error(err))
	}

	fallbackLog, err := localcsv.NewFallbackLog(cfg.Fallback.Path, schema)
	if err != nil {
		logger.Fatal("failed to open fallback log", zap.Error(err))
	}

	var primary repositories.SubmissionLogRepository = fallbackLog
	if cfg.Sheets.SpreadsheetID != "" {
		sheetLog, err := sheetsRepo.NewSubmissionRepository(ctx, sheetsRepo.Config{
			SpreadsheetID:   cfg.Sheets.SpreadsheetID,
			SheetName:       cfg.Sheets.SheetName,
			CredentialsJSON: cfg.Sheets.CredentialsJSON,
		})
		if err != nil {
			logger.Fatal("failed to initialise sheets log", zap.Error(err))
		}
		primary = sheetLog
	} else {
		logger.Warn("no spreadsheet configured; submissions go to the fallback log only")
	}

	var closers []func(ctx context.Context) error
	var sessions repositories.SessionRepository
	if cfg.Firestore.ProjectID != "" {
		if cfg.Firestore.EmulatorHost != "" {
			if err := os.Setenv("FIRESTORE_EMULATOR_HOST", cfg.Firestore.EmulatorHost); err != nil {
				logger.Fatal("failed to point at firestore emulator", zap.Error(err))
			}
		}
		firestoreClient, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise firestore client", zap.Error(err))
		}
		closers = append(closers, func(context.Context) error { return firestoreClient.Close() })
		sessionRepo, err := firestoreRepo.NewSessionRepository(firestoreClient)
		if err != nil {
			logger.Fatal("failed to initialise session store", zap.Error(err))
		}
		sessions = sessionRepo
	} else {
		logger.Warn("no firestore project configured; sessions are held in memory")
		sessions = memory.NewSessionRepository(time.Now)
	}

	reg, err := repositories.NewRegistry(repositories.RegistryDeps{
		Master:   master,
		Primary:  primary,
		Fallback: fallbackLog,
		Sessions: sessions,
		Closers:  closers,
	})
	if err != nil {
		logger.Fatal("failed to assemble repositories", zap.Error(err))
	}

	containerOpts := []di.Option{
		di.WithWarnLogger(observability.NewWarnfAdapter(logger.Named("services"))),
	}
	if cfg.Pubsub.TopicID != "" && cfg.Pubsub.ProjectID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Pubsub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		topic := pubsubClient.Topic(cfg.Pubsub.TopicID)
		publisher, err := jobs.NewPubSubSubmissionPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise submission publisher", zap.Error(err))
		}
		containerOpts = append(containerOpts, di.WithSubmissionPublisher(publisher))
		defer func() {
			topic.Stop()
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
	}

	container, err := di.NewContainer(ctx, cfg, reg, containerOpts...)
	if err != nil {
		logger.Fatal("failed to build dependency container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	tokens, err := auth.NewTokenManager(auth.TokenManagerDeps{
		SigningSecret: cfg.Auth.SigningSecret,
		TTL:           cfg.Auth.TokenTTL,
		Clock:         time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise token manager", zap.Error(err))
	}

	sessionHandlers := handlers.NewSessionHandlers(container.Services.Controller, tokens, cfg.RateLimits.CodePerMinute)
	reviewHandlers := handlers.NewReviewHandlers(container.Services.Controller, tokens)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthVersion(buildVersion(envValues)),
		handlers.WithReadinessCheck("master", func(ctx context.Context) error {
			_, err := master.Schema(ctx)
			return err
		}),
		handlers.WithReadinessCheck("submission_log", func(ctx context.Context) error {
			_, err := primary.ListEmployeeIDs(ctx)
			return err
		}),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithSessionRoutes(sessionHandlers.Routes),
		handlers.WithReviewRoutes(reviewHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("verifield api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	return secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithDefaultProject(defaultProject),
		secrets.WithFallbackFile(fallbackPath),
	)
}

// requiredSecretNames lists the secret-backed config fields that must resolve
// for the process to start. The signing secret is always needed; the SMTP
// password and the spreadsheet credentials only when those integrations are
// configured.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"Auth.SigningSecret"}
	if env != nil {
		if strings.TrimSpace(env["API_SMTP_PASSWORD"]) != "" {
			required = append(required, "SMTP.Password")
		}
		if strings.TrimSpace(env["API_SHEETS_CREDENTIALS_JSON"]) != "" {
			required = append(required, "Sheets.CredentialsJSON")
		}
	}
	return required
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firestore.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Pubsub.ProjectID)
}

func buildVersion(env map[string]string) string {
	if env != nil {
		if v := strings.TrimSpace(env["API_BUILD_VERSION"]); v != "" {
			return v
		}
	}
	return "dev"
}
