package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/npezzotti/go-chatcore/internal/api"
	"github.com/npezzotti/go-chatcore/internal/bot"
	"github.com/npezzotti/go-chatcore/internal/config"
	"github.com/npezzotti/go-chatcore/internal/database"
	"github.com/npezzotti/go-chatcore/internal/logging"
	"github.com/npezzotti/go-chatcore/internal/presence"
	"github.com/npezzotti/go-chatcore/internal/server"
	"github.com/npezzotti/go-chatcore/internal/stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func main() {
	config.LoadEnv()

	var opts config.Options
	var allowedOrigins stringSliceFlag

	flag.StringVar(&opts.Env, "env", config.GetEnv("ENV", "development"), "runtime environment")
	flag.StringVar(&opts.ServerAddr, "addr", config.GetEnv("ADDR", "localhost:8000"), "server address")
	flag.StringVar(&opts.DatabaseDSN, "dsn", config.GetEnv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&opts.RedisURL, "redis-url", config.GetEnv("REDIS_URL", ""), "redis url, presence is kept in postgres when empty")
	flag.StringVar(&opts.SigningSecret, "signing-key", config.GetEnv("SIGNING_KEY", ""), "base64 encoded signing key, websocket auth is disabled when empty")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.DurationVar(&opts.StoreTimeout, "store-timeout", config.GetEnvDuration("STORE_TIMEOUT", config.DefaultStoreTimeout), "timeout for a single store call")
	flag.StringVar(&opts.BotMarker, "bot-marker", config.GetEnv("BOT_MARKER", config.DefaultBotMarker), "email suffix identifying bot members")
	flag.IntVar(&opts.BotRateLimit, "bot-rate-limit", config.GetEnvInt("BOT_RATE_LIMIT", config.DefaultBotRateLimit), "bot replies per sender per minute, 0 disables the limit")
	flag.StringVar(&opts.OpenAIKey, "openai-key", config.GetEnv("OPENAI_API_KEY", ""), "OpenAI API key, the bot never replies when empty")
	flag.StringVar(&opts.OpenAIBaseURL, "openai-base-url", config.GetEnv("OPENAI_BASE_URL", ""), "OpenAI compatible API base url")
	flag.StringVar(&opts.OpenAIModel, "openai-model", config.GetEnv("OPENAI_MODEL", config.DefaultOpenAIModel), "chat completion model")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if env := config.GetEnv("ALLOWED_ORIGINS", ""); env != "" {
			allowedOrigins.Set(env)
		}
	}
	opts.AllowedOrigins = allowedOrigins

	logger := logging.New(opts.Env)

	cfg, err := config.NewConfig(opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}
	if !cfg.IsDevelopment() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	dbConn, err := database.NewPgChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("db open")
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error().Err(err).Msg("db close")
		}
	}()

	if err := database.Migrate(dbConn.DB()); err != nil {
		logger.Fatal().Err(err).Msg("db migrate")
	}

	var (
		presenceStore presence.Store = presence.NewPgStore(dbConn)
		redisStore    *presence.RedisStore
	)
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
		redisStore, err = presence.NewRedisStore(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connect")
		}
		defer redisStore.Close()
		presenceStore = redisStore
	}

	var responder bot.Responder = &bot.StaticResponder{Store: dbConn}
	if cfg.Bot.OpenAIKey != "" {
		responder = bot.NewOpenAIResponder(bot.OpenAIConfig{
			APIKey:  cfg.Bot.OpenAIKey,
			BaseURL: cfg.Bot.OpenAIBaseURL,
			Model:   cfg.Bot.OpenAIModel,
		}, dbConn, logging.Component(logger, "bot"))
	} else {
		logger.Warn().Msg("no OpenAI key configured, bot members will not reply")
	}
	if redisStore != nil && cfg.Bot.RateLimit > 0 {
		responder = bot.NewRateLimitedResponder(responder, redisStore.Client(), cfg.Bot.RateLimit, time.Minute, logging.Component(logger, "ratelimit"))
	}

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logging.Component(logger, "hub"), dbConn, presenceStore, responder, statsUpdater, server.Config{
		BotMarker:    cfg.Bot.Marker,
		StoreTimeout: cfg.StoreTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("new chat server")
	}

	srv := api.NewChatApp(mux, logging.Component(logger, "http"), chatServer, dbConn, cfg)

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info().Str("signal", sig.String()).Msg("received signal")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server")
		}
	}

	shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown")
	}

	logger.Info().Msg("shutting down chat server")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Error().Err(err).Msg("chat server shutdown")
	}

	logger.Info().Msg("shutdown complete")
}
