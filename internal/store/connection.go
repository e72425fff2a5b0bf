// Package store is the durable Task Store (C1): it owns DailyTask, Article,
// and BatchRecord rows in PostgreSQL and exposes the transactional claim and
// update primitives the phase handlers and driver build on. Nothing outside
// this package writes to those tables directly.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"

	"github.com/taskbot/daily-digest/internal/observability"
)

// DB wraps a PostgreSQL connection pool and the pool-saturation guard every
// Task Store transaction goes through.
type DB struct {
	client *sql.DB
	config *Config

	cleanupMutex        sync.Mutex
	poolWarnThreshold    float64
	poolRejectThreshold  float64
	lastWarnLog          time.Time
	lastRejectLog        time.Time
}

// ErrPoolSaturated is returned when the database connection pool is saturated
// and a transaction would only add to the backlog rather than relieve it.
var ErrPoolSaturated = fmt.Errorf("database connection pool saturated")

const (
	defaultPoolWarnThreshold   = 0.80
	defaultPoolRejectThreshold = 0.90
	poolLogCooldown            = 5 * time.Second
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	MaxLifetime     time.Duration
	DatabaseURL     string
	ApplicationName string
}

// GetConfig returns the connection's settings.
func (d *DB) GetConfig() *Config {
	return d.config
}

// GetDB exposes the underlying *sql.DB for callers outside this package that
// genuinely need a raw connection (migrations, health checks).
func (d *DB) GetDB() *sql.DB {
	return d.client
}

// Close releases the connection pool.
func (d *DB) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

func poolLimitsForEnv(appEnv string) (maxOpen, maxIdle int) {
	switch appEnv {
	case "production":
		return 12, 5
	case "staging":
		return 5, 2
	default:
		return 2, 1
	}
}

func sanitiseAppName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '-', r == '_', r == ':', r == '.':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func trimAppName(name string) string {
	const maxLen = 60 // postgres application_name limit is 64 bytes
	if len(name) <= maxLen {
		return name
	}
	return name[:maxLen]
}

func determineApplicationName() string {
	if override := sanitiseAppName(os.Getenv("DB_APP_NAME")); override != "" {
		return trimAppName(override)
	}

	base := "daily-digest"
	if env := sanitiseAppName(strings.ToLower(os.Getenv("APP_ENV"))); env != "" {
		base = fmt.Sprintf("daily-digest-%s", env)
	}

	if host, err := os.Hostname(); err == nil {
		if h := sanitiseAppName(host); h != "" {
			return trimAppName(fmt.Sprintf("%s:%s", base, h))
		}
	}
	return trimAppName(base)
}

func addConnSetting(connStr, key, value string) (string, bool) {
	if key == "" || value == "" {
		return connStr, false
	}

	trimmed := strings.TrimSpace(connStr)
	if trimmed == "" || strings.Contains(trimmed, key+"=") {
		return trimmed, false
	}

	isURL := strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://")
	if isURL {
		parsed, err := url.Parse(trimmed)
		if err == nil {
			q := parsed.Query()
			if q.Get(key) != "" {
				return trimmed, false
			}
			q.Set(key, value)
			parsed.RawQuery = q.Encode()
			return parsed.String(), true
		}
		sep := "?"
		if strings.Contains(trimmed, "?") {
			sep = "&"
		}
		return trimmed + sep + key + "=" + url.QueryEscape(value), true
	}

	escaped := strings.ReplaceAll(value, "'", "")
	if escaped == "" {
		return trimmed, false
	}
	return trimmed + fmt.Sprintf(" %s=%s", key, escaped), true
}

// ConnectionString returns the PostgreSQL connection string, applying the
// same statement/idle timeouts and pooler compatibility tweaks regardless of
// whether a DATABASE_URL or discrete fields were supplied.
func (c *Config) ConnectionString() string {
	connStr := strings.TrimSpace(c.DatabaseURL)
	if connStr == "" {
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "require"
		}
		connStr = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
	}

	connStr, _ = addConnSetting(connStr, "idle_in_transaction_session_timeout", "25000")
	connStr, _ = addConnSetting(connStr, "statement_timeout", "25000") // tick wall-time budget is 30s
	if strings.Contains(connStr, "pooler.supabase.com") {
		connStr, _ = addConnSetting(connStr, "default_query_exec_mode", "simple_protocol")
	}
	if c.ApplicationName != "" {
		connStr, _ = addConnSetting(connStr, "application_name", c.ApplicationName)
	}

	return connStr
}

// Validate checks that the configuration has enough information to connect.
func (c *Config) Validate() error {
	if c.DatabaseURL != "" {
		return nil
	}
	if c.Host == "" || c.Port == "" || c.User == "" || c.Database == "" {
		return fmt.Errorf("incomplete database configuration")
	}
	return nil
}

// New opens a PostgreSQL connection pool with the resource-constrained
// environment's defaults: a handful of connections, short idle lifetimes, and
// a ping before returning so startup fails fast rather than on the first tick.
func New(config *Config) (*DB, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	if config.MaxOpenConns == 0 || config.MaxIdleConns == 0 {
		maxOpen, maxIdle := poolLimitsForEnv(os.Getenv("APP_ENV"))
		if config.MaxOpenConns == 0 {
			config.MaxOpenConns = maxOpen
		}
		if config.MaxIdleConns == 0 {
			config.MaxIdleConns = maxIdle
		}
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 5 * time.Minute
	}
	if config.ApplicationName == "" {
		config.ApplicationName = determineApplicationName()
	}

	connStr := config.ConnectionString()

	log.Info().Str("application_name", config.ApplicationName).Msg("Opening PostgreSQL connection")

	client, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	client.SetMaxOpenConns(config.MaxOpenConns)
	client.SetMaxIdleConns(config.MaxIdleConns)
	client.SetConnMaxLifetime(config.MaxLifetime)
	client.SetConnMaxIdleTime(2 * time.Minute)

	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	warn := parseThresholdEnv("DB_POOL_WARN_THRESHOLD", defaultPoolWarnThreshold)
	reject := parseThresholdEnv("DB_POOL_REJECT_THRESHOLD", defaultPoolRejectThreshold)
	if reject <= 0 || reject > 1 {
		reject = defaultPoolRejectThreshold
	}
	if warn <= 0 || warn >= reject {
		warn = reject - 0.05
	}

	return &DB{
		client:              client,
		config:              config,
		poolWarnThreshold:   warn,
		poolRejectThreshold: reject,
	}, nil
}

// NewDBFromClient wraps an already-open *sql.DB as a DB, applying default
// pool-saturation thresholds. Used to inject a sqlmock-backed connection in
// tests of packages that depend on *store.Store without a live Postgres.
func NewDBFromClient(client *sql.DB, config *Config) *DB {
	if config == nil {
		config = &Config{}
	}
	return &DB{
		client:              client,
		config:              config,
		poolWarnThreshold:   defaultPoolWarnThreshold,
		poolRejectThreshold: defaultPoolRejectThreshold,
	}
}

func parseThresholdEnv(key string, fallback float64) float64 {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// InitFromEnv creates a PostgreSQL connection using DATABASE_URL, or discrete
// POSTGRES_* variables if DATABASE_URL is unset.
func InitFromEnv() (*DB, error) {
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		maxOpen, maxIdle := poolLimitsForEnv(os.Getenv("APP_ENV"))
		return New(&Config{
			DatabaseURL:     dsn,
			MaxOpenConns:    maxOpen,
			MaxIdleConns:    maxIdle,
			MaxLifetime:     5 * time.Minute,
			ApplicationName: determineApplicationName(),
		})
	}

	maxOpen, maxIdle := poolLimitsForEnv(os.Getenv("APP_ENV"))
	config := &Config{
		Host:            getEnvOr("POSTGRES_HOST", "localhost"),
		Port:            getEnvOr("POSTGRES_PORT", "5432"),
		User:            getEnvOr("POSTGRES_USER", "postgres"),
		Password:        os.Getenv("POSTGRES_PASSWORD"),
		Database:        getEnvOr("POSTGRES_DB", "daily_digest"),
		SSLMode:         os.Getenv("POSTGRES_SSL_MODE"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		MaxLifetime:     5 * time.Minute,
		ApplicationName: determineApplicationName(),
	}
	return New(config)
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ensurePoolCapacity rejects new transactions once the pool is saturated
// rather than let them queue behind the tick's wall-time budget.
func (d *DB) ensurePoolCapacity(ctx context.Context) error {
	if d == nil || d.client == nil {
		return nil
	}

	stats := d.client.Stats()
	maxOpen := stats.MaxOpenConnections
	if maxOpen == 0 && d.config != nil {
		maxOpen = d.config.MaxOpenConns
	}
	if maxOpen <= 0 {
		return nil
	}

	observability.RecordDBPoolStats(ctx, observability.DBPoolSnapshot{InUse: stats.InUse, MaxOpen: maxOpen})

	usage := float64(stats.InUse) / float64(maxOpen)

	if usage >= d.poolRejectThreshold {
		observability.RecordDBPoolRejection(ctx)
		if time.Since(d.lastRejectLog) > poolLogCooldown {
			log.Warn().Int("in_use", stats.InUse).Int("max_open", maxOpen).Float64("usage", usage).
				Msg("DB pool saturated: rejecting request")
			sentry.CaptureMessage("DB pool saturated")
			d.lastRejectLog = time.Now()
		}
		return ErrPoolSaturated
	}

	if usage >= d.poolWarnThreshold && time.Since(d.lastWarnLog) > poolLogCooldown {
		log.Warn().Int("in_use", stats.InUse).Int("max_open", maxOpen).Float64("usage", usage).
			Msg("DB pool nearing capacity")
		d.lastWarnLog = time.Now()
	}

	return nil
}
