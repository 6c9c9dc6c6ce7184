package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Rrens/healthchat/internal/api"
	"github.com/Rrens/healthchat/internal/api/handler"
	"github.com/Rrens/healthchat/internal/chat"
	"github.com/Rrens/healthchat/internal/config"
	"github.com/Rrens/healthchat/internal/domain"
	"github.com/Rrens/healthchat/internal/metrics"
	"github.com/Rrens/healthchat/internal/repository/breaker"
	"github.com/Rrens/healthchat/internal/repository/postgres"
	"github.com/Rrens/healthchat/internal/repository/redis"
	"github.com/Rrens/healthchat/internal/repository/supabase"
	"github.com/Rrens/healthchat/internal/security"
	"github.com/Rrens/healthchat/internal/service"
	"github.com/joho/godotenv"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file - try multiple locations
	envPaths := []string{".env", "../.env", "../../.env"}
	envLoaded := false
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			fmt.Printf("Loaded .env from: %s\n", p)
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		fmt.Println("Warning: .env file not found in any standard location")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	closeLog, err := setupLogger(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}
	defer closeLog()

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("remote", cfg.Remote.Driver).
		Msg("Starting healthchat API server")

	ctx := context.Background()
	m := metrics.NewCollector("healthchat")
	checks := map[string]handler.Pinger{}

	var (
		conversations domain.ConversationRepository
		messages      domain.MessageRepository
		auth          service.Authenticator
	)

	// Initialize Redis
	redisClient, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()
	checks["redis"] = redisClient

	switch cfg.Remote.Driver {
	case config.DriverSupabase:
		client, err := supabase.NewClient(cfg.Supabase)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Supabase client")
		}
		conversations = supabase.NewConversationRepository(client)
		messages = supabase.NewMessageRepository(client)
		auth = supabase.NewAuthenticator(client)

	default:
		if err := postgres.RunMigrations(cfg.Database.DSN(), cfg.Database.MigrationsURL); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}

		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		checks["database"] = db

		conversations = postgres.NewConversationRepository(db)
		messages = postgres.NewMessageRepository(db)

		jwtManager := security.NewJWTManager(
			cfg.Auth.JWTSecret,
			cfg.Auth.AccessTokenTTL,
			cfg.Auth.RefreshTokenTTL,
			cfg.Auth.ResetTokenTTL,
		)
		auth = service.NewAuthService(
			postgres.NewUserRepository(db),
			jwtManager,
			redis.NewTokenRevocations(redisClient),
		)
	}

	guard := breaker.NewGuard(cfg.Remote.Driver, cfg.Remote.Breaker, cfg.Remote.Timeout, m)
	registry := chat.NewRegistry(
		breaker.NewConversationRepository(conversations, guard),
		breaker.NewMessageRepository(messages, guard),
		cfg.Chat,
		m,
	)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go registry.Run(sweepCtx)

	router := api.NewRouter(api.Dependencies{
		Config:   cfg,
		Auth:     auth,
		Registry: registry,
		Credits:  redis.NewCreditLedger(redisClient, cfg.Credits.TTL),
		Metrics:  m,
		Checks:   checks,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	stopSweep()
	// let scheduled assistant replies land before the stores go away
	registry.Wait()

	log.Info().Msg("Server stopped")
}

// setupLogger applies the configured level and, when logging.file is set,
// tees output into a rotated log file.
func setupLogger(cfg config.LoggingConfig) (func(), error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zerolog.SetGlobalLevel(level)

	if cfg.File == "" {
		return func() {}, nil
	}

	rotated, err := rotatelogs.New(
		cfg.File+".%Y%m%d",
		rotatelogs.WithLinkName(cfg.File),
		rotatelogs.WithMaxAge(cfg.MaxAge),
		rotatelogs.WithRotationTime(cfg.Rotation),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	var console io.Writer = os.Stderr
	if cfg.Format == "console" {
		console = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, rotated)).With().Timestamp().Logger()

	return func() { rotated.Close() }, nil
}
