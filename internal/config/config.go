package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultBotMarker    = "bot"
	DefaultStoreTimeout = 5 * time.Second
	DefaultBotRateLimit = 20
	DefaultOpenAIModel  = "gpt-4o-mini"
)

type Config struct {
	Env            string
	ServerAddr     string
	DatabaseDSN    string
	RedisURL       string
	SigningKey     []byte
	AllowedOrigins []string
	StoreTimeout   time.Duration
	Bot            BotConfig
}

type BotConfig struct {
	// Marker is the suffix of a member's email that identifies it as a bot.
	Marker string
	// RateLimit is the number of replies allowed per sender per minute, 0 disables limiting.
	RateLimit     int
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
}

// Options holds the raw, unvalidated configuration values.
type Options struct {
	Env            string
	ServerAddr     string
	DatabaseDSN    string
	RedisURL       string
	SigningSecret  string
	AllowedOrigins []string
	StoreTimeout   time.Duration
	BotMarker      string
	BotRateLimit   int
	OpenAIKey      string
	OpenAIBaseURL  string
	OpenAIModel    string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("signing secret is empty")
	}
	return key, nil
}

func NewConfig(opts Options) (*Config, error) {
	if opts.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if opts.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if opts.StoreTimeout < 0 {
		return nil, fmt.Errorf("store timeout cannot be negative")
	}
	if opts.BotRateLimit < 0 {
		return nil, fmt.Errorf("bot rate limit cannot be negative")
	}

	cfg := &Config{
		Env:            opts.Env,
		ServerAddr:     opts.ServerAddr,
		DatabaseDSN:    opts.DatabaseDSN,
		RedisURL:       opts.RedisURL,
		AllowedOrigins: opts.AllowedOrigins,
		StoreTimeout:   opts.StoreTimeout,
		Bot: BotConfig{
			Marker:        strings.TrimSpace(opts.BotMarker),
			RateLimit:     opts.BotRateLimit,
			OpenAIKey:     opts.OpenAIKey,
			OpenAIBaseURL: opts.OpenAIBaseURL,
			OpenAIModel:   opts.OpenAIModel,
		},
	}

	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.Bot.Marker == "" {
		cfg.Bot.Marker = DefaultBotMarker
	}
	if cfg.Bot.OpenAIModel == "" {
		cfg.Bot.OpenAIModel = DefaultOpenAIModel
	}

	// An empty secret disables token checks on the websocket endpoint.
	if opts.SigningSecret != "" {
		signingKey, err := decodeSigningSecret(opts.SigningSecret)
		if err != nil {
			return nil, fmt.Errorf("decode signing secret: %w", err)
		}
		cfg.SigningKey = signingKey
	}

	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// LoadEnv loads a .env file from the working directory if one exists.
func LoadEnv() {
	_ = godotenv.Load()
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
