package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig controls connection-retry behaviour at startup. It has nothing
// to do with Article.RetryCount — this is purely about the store reaching a
// database that may not be up yet.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryConfig returns sensible defaults for startup connection retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     10,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "timeout", "i/o timeout", "no such host", "eof", "connection reset"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// InitFromEnvWithRetry connects with exponential backoff, for callers that
// start before the database is guaranteed reachable (e.g. container startup
// racing a Postgres sidecar).
func InitFromEnvWithRetry(ctx context.Context) (*DB, error) {
	cfg := DefaultRetryConfig()
	var lastErr error
	backoff := cfg.InitialInterval

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		db, err := InitFromEnv()
		if err == nil {
			if attempt > 1 {
				log.Info().Int("attempts", attempt).Msg("Database connection established after retries")
			}
			return db, nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", backoff).Msg("Database connection failed, retrying")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connection retry cancelled: %w", ctx.Err())
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * cfg.Multiplier)
		if backoff > cfg.MaxInterval {
			backoff = cfg.MaxInterval
		}
	}

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
