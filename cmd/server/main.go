package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/walletbridge-go/internal/config"
	"github.com/openclaw/walletbridge-go/internal/database"
	"github.com/openclaw/walletbridge-go/internal/events"
	"github.com/openclaw/walletbridge-go/internal/handler"
	"github.com/openclaw/walletbridge-go/internal/middleware"
	"github.com/openclaw/walletbridge-go/internal/redis"
	"github.com/openclaw/walletbridge-go/internal/repository"
	"github.com/openclaw/walletbridge-go/internal/session"
	"github.com/openclaw/walletbridge-go/internal/walletconnect"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")
	}

	var txLogRepo repository.TransactionLogRepository
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		cancel()
		log.Info().Msg("database connected")

		txLogRepo = repository.NewTransactionLogRepository(db.DB)
	}

	broker := events.NewBroker(redisClient)
	defer broker.Close()

	registry := session.NewRegistry(config.SessionIdleWindow, config.SessionSweepInterval)
	registry.Start()
	defer registry.Shutdown()

	// The signing-protocol client is an injection point; this build ships
	// without one, so pairing uses the manual fallback URI.
	var wcClient walletconnect.Client
	log.Warn().Msg("no signing protocol client linked; pairing will use the manual fallback")

	negotiator := session.NewNegotiator(
		registry, wcClient, broker, cfg.ChainID, cfg.BridgeURL, config.ApprovalWindow,
	)
	relay := session.NewRelay(
		registry, negotiator, txLogRepo,
		cfg.ChainID, cfg.DefaultGasLimit, cfg.DefaultGasPrice, config.TransactionTimeout,
	)

	var rawRedis *goredis.Client
	if redisClient != nil {
		rawRedis = redisClient.Client
	}
	connectRateLimiter := middleware.NewConnectRateLimiter(rawRedis, cfg.ConnectLimitPerMin)

	walletHandler := handler.NewWalletHandler(negotiator, relay, connectRateLimiter.Handler)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"sessions":  registry.SessionCount(),
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Mount("/", walletHandler.Routes())
	})

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     r,
		ReadTimeout: config.ServerReadTimeout,
		IdleTimeout: config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Int64("chainId", cfg.ChainID).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
