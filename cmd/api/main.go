package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/tripletsrewards/server/internal/audit"
	"github.com/tripletsrewards/server/internal/auth"
	"github.com/tripletsrewards/server/internal/authz"
	"github.com/tripletsrewards/server/internal/bulkload"
	"github.com/tripletsrewards/server/internal/config"
	"github.com/tripletsrewards/server/internal/db"
	httphandler "github.com/tripletsrewards/server/internal/http"
	"github.com/tripletsrewards/server/internal/http/handlers"
	"github.com/tripletsrewards/server/internal/notify"
	"github.com/tripletsrewards/server/internal/repo"
	"github.com/tripletsrewards/server/internal/rewards"
	"github.com/tripletsrewards/server/internal/session"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "rewards-api").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.DevMode {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
	logger = logger.Level(cfg.Level())
	cfg.LogTarget(&logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DatabaseURL, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer database.Close()

	if err := db.Migrate(ctx, database, &logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	redisClient, err := session.Connect(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()

	var notifier notify.Notifier
	if cfg.DevMode && cfg.SMTP.Host == "" {
		logger.Warn().Msg("DEV_MODE without SMTP_HOST: emails are written to the log")
		notifier = notify.NewLogNotifier(&logger)
	} else {
		mailer, err := notify.NewMailer(cfg.SMTP, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure mailer")
		}
		notifier = mailer
	}

	// Initialize repositories
	accountRepo := repo.NewAccountRepo(database)
	codeRepo := repo.NewCodeRepo(database)
	auditRepo := repo.NewAuditRepo(database)
	sponsorRepo := repo.NewSponsorRepo(database)
	applicationRepo := repo.NewApplicationRepo(database)
	notificationRepo := repo.NewNotificationRepo(database)

	// Initialize services
	hasher := auth.NewPasswordHasher(cfg.BcryptCost)
	recorder := audit.NewRecorder(auditRepo, &logger)
	authService := auth.NewService(
		accountRepo,
		auth.NewCodeStore(codeRepo, cfg.CodeSalt),
		auth.NewJWTService(cfg.JWTSecret, cfg.SessionTTL, cfg.PendingTTL),
		hasher,
		session.NewRevocationStore(redisClient),
		notifier,
		recorder,
		&logger,
		auth.Options{
			TOTPIssuer:    cfg.TOTPIssuer,
			AppName:       cfg.AppName,
			PublicBaseURL: cfg.PublicBaseURL,
		},
	)
	rewardsService := rewards.NewService(accountRepo, sponsorRepo, applicationRepo, notificationRepo, auditRepo, hasher, recorder, &logger)
	bulk := bulkload.NewProcessor(accountRepo, sponsorRepo, hasher, recorder, cfg.BulkLogDir, &logger)

	enforcer, err := authz.NewEnforcer()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build access policy")
	}

	router := httphandler.NewRouter(ctx, httphandler.Handlers{
		Auth:    handlers.NewAuthHandler(authService, &logger),
		Account: handlers.NewAccountHandler(authService, rewardsService, &logger),
		Admin:   handlers.NewAdminHandler(authService, rewardsService, bulk, &logger),
		Sponsor: handlers.NewSponsorHandler(rewardsService, bulk, &logger),
		Driver:  handlers.NewDriverHandler(rewardsService, &logger),
		Health: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"postgres": database,
			"redis":    handlers.PingerFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
		}),
	}, httphandler.Deps{Authenticator: authService, Policy: enforcer, Logger: &logger})

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
		return
	}
	logger.Info().Msg("server exited")
}
