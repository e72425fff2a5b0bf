// Package config loads and validates the application's environment
// configuration at startup: the task-processing knobs of spec.md §6, plus
// the ambient database, logging, Sentry, HTTP, and collaborator-credential
// settings every component needs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/taskbot/daily-digest/internal/budget"
)

// Config is the fully-loaded, validated application configuration.
type Config struct {
	// Task processing (spec.md §6).
	TaskBatchSize            int
	MaxRetryCount            int
	SubrequestLimit          int
	SubrequestBuffer         int
	CronInterval             time.Duration
	ProcessingTimeout        time.Duration
	HNStoryLimit             int
	HNTimeWindow             time.Duration

	// Ambient.
	DatabaseURL        string
	AppEnv             string
	LogLevel           string
	SentryDSN          string
	Port               string
	ControlAPITokenSecret string

	// Collaborator credentials.
	SlackBotToken   string
	SlackChannelID  string
	GitHubToken     string
	GitHubRepoOwner string
	GitHubRepoName  string
	LLMBaseURL      string
	LLMAPIKey       string
	LLMModel        string
}

// BudgetConfig returns the budget.Config view of this configuration's
// subrequest ceiling, as used by the Budget Guard.
func (c Config) BudgetConfig() budget.Config {
	return budget.Config{SubrequestLimit: c.SubrequestLimit, SubrequestBuffer: c.SubrequestBuffer}
}

// Load reads .env (if present) and the environment, applies defaults, and
// validates TASK_BATCH_SIZE against the Budget Guard before returning. This
// runs before any task is touched: a mis-configured batch size fails
// startup with the same BatchSizeExceedsBudget error a mid-tick check
// would produce.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	cfg := &Config{
		TaskBatchSize:     getEnvIntOr("TASK_BATCH_SIZE", 6),
		MaxRetryCount:     getEnvIntOr("MAX_RETRY_COUNT", 3),
		SubrequestLimit:   getEnvIntOr("SUBREQUEST_LIMIT", 50),
		SubrequestBuffer:  getEnvIntOr("SUBREQUEST_BUFFER", 20),
		CronInterval:      time.Duration(getEnvIntOr("CRON_INTERVAL_MINUTES", 10)) * time.Minute,
		ProcessingTimeout: time.Duration(getEnvIntOr("PROCESSING_TIMEOUT_SECONDS", 300)) * time.Second,
		HNStoryLimit:      getEnvIntOr("HN_STORY_LIMIT", 30),
		HNTimeWindow:      time.Duration(getEnvIntOr("HN_TIME_WINDOW_HOURS", 24)) * time.Hour,

		DatabaseURL:           os.Getenv("DATABASE_URL"),
		AppEnv:                getEnvOr("APP_ENV", "development"),
		LogLevel:              getEnvOr("LOG_LEVEL", "info"),
		SentryDSN:             os.Getenv("SENTRY_DSN"),
		Port:                  getEnvOr("PORT", "8080"),
		ControlAPITokenSecret: os.Getenv("CONTROL_API_TOKEN_SECRET"),

		SlackBotToken:   os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannelID:  os.Getenv("SLACK_CHANNEL_ID"),
		GitHubToken:     os.Getenv("GITHUB_TOKEN"),
		GitHubRepoOwner: os.Getenv("GITHUB_REPO_OWNER"),
		GitHubRepoName:  os.Getenv("GITHUB_REPO_NAME"),
		LLMBaseURL:      os.Getenv("LLM_BASE_URL"),
		LLMAPIKey:       os.Getenv("LLM_API_KEY"),
		LLMModel:        getEnvOr("LLM_MODEL", "default"),
	}

	if err := budget.ValidateBatchSize(cfg.BudgetConfig(), cfg.TaskBatchSize); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if cfg.TaskBatchSize < 1 || cfg.TaskBatchSize > 10 {
		return nil, fmt.Errorf("config: TASK_BATCH_SIZE must be 1..10, got %d", cfg.TaskBatchSize)
	}

	return cfg, nil
}

// ConfigureLogging sets the global zerolog level and output format, console
// in development and structured JSON in production, mirroring the pattern
// used across this codebase's entrypoints.
func (c *Config) ConfigureLogging() {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if c.AppEnv == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		return
	}

	log.Logger = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "daily-digest").
		Logger()
}

func getEnvOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvIntOr(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer env var, using default")
		return fallback
	}
	return parsed
}
