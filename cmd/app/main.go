package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/taskbot/daily-digest/internal/collaborators"
	"github.com/taskbot/daily-digest/internal/collaborators/articlefetch"
	"github.com/taskbot/daily-digest/internal/collaborators/hnclient"
	"github.com/taskbot/daily-digest/internal/collaborators/llm"
	"github.com/taskbot/daily-digest/internal/collaborators/moderation"
	"github.com/taskbot/daily-digest/internal/collaborators/publish"
	"github.com/taskbot/daily-digest/internal/collaborators/render"
	"github.com/taskbot/daily-digest/internal/config"
	"github.com/taskbot/daily-digest/internal/control"
	"github.com/taskbot/daily-digest/internal/driver"
	"github.com/taskbot/daily-digest/internal/observability"
	"github.com/taskbot/daily-digest/internal/phases"
	"github.com/taskbot/daily-digest/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	cfg.ConfigureLogging()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.AppEnv}); err != nil {
			log.Error().Err(err).Msg("failed to initialise Sentry")
		}
		defer sentry.Flush(2 * time.Second)
	}

	obsProviders, err := observability.Init(context.Background(), observability.Config{
		Enabled:     true,
		ServiceName: "daily-digest",
		Environment: cfg.AppEnv,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to initialise observability")
	}

	db, err := store.InitFromEnvWithRetry(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
	}
	defer db.Close()
	log.Info().Msg("connected to PostgreSQL")

	if err := db.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	s := store.NewStore(db, cfg.ProcessingTimeout, cfg.MaxRetryCount)

	hc := &phases.HandlerContext{
		Store:        s,
		Budget:       cfg.BudgetConfig(),
		News:         hnclient.New(),
		ArticleFetch: articlefetch.New(articlefetch.Config{}),
		Translate:    llm.New(llm.Config{BaseURL: cfg.LLMBaseURL, APIKey: cfg.LLMAPIKey, Model: cfg.LLMModel}),
		Summarize:    llm.New(llm.Config{BaseURL: cfg.LLMBaseURL, APIKey: cfg.LLMAPIKey, Model: cfg.LLMModel}),
		Filter:       moderation.NoopFilter{},
		Publishers:   buildPublishers(cfg),
		Renderer:     render.New(),
		Config: phases.Config{
			BatchSize:    cfg.TaskBatchSize,
			MaxRetries:   cfg.MaxRetryCount,
			HNStoryLimit: cfg.HNStoryLimit,
			HNTimeWindow: cfg.HNTimeWindow,
		},
	}

	drv := driver.New(s, hc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go runScheduler(ctx, &wg, drv, cfg.CronInterval)

	mux := http.NewServeMux()
	registerHealth(mux)
	if obsProviders != nil && obsProviders.MetricsHandler != nil {
		mux.Handle("/metrics", obsProviders.MetricsHandler)
	}
	control.New(s, hc, drv).Routes(mux, cfg.ControlAPITokenSecret)

	limiter := newRateLimiter()
	handler := control.RequestIDMiddleware(control.LoggingMiddleware(mux))
	if obsProviders != nil {
		handler = observability.WrapHandler(handler, obsProviders)
	}

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := getClientIP(r)
			if !limiter.getLimiter(ip).Allow() {
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			handler.ServeHTTP(w, r)
		}),
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		<-stop
		log.Info().Msg("shutting down server")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
		}
		if obsProviders != nil && obsProviders.Shutdown != nil {
			_ = obsProviders.Shutdown(shutdownCtx)
		}
		close(done)
	}()

	log.Info().Str("port", cfg.Port).Msg("starting server")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}

	<-done
	wg.Wait()
	log.Info().Msg("server stopped")
}

// runScheduler drives the Driver on a fixed interval until ctx is cancelled,
// matching spec.md §5's externally-driven periodic-timer model.
func runScheduler(ctx context.Context, wg *sync.WaitGroup, d *driver.Driver, interval time.Duration) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := d.Tick(ctx, now); err != nil {
				log.Warn().Err(err).Msg("scheduled tick failed, next tick will retry")
			}
		}
	}
}

func buildPublishers(cfg *config.Config) []collaborators.Publisher {
	var pubs []collaborators.Publisher
	if cfg.SlackBotToken != "" && cfg.SlackChannelID != "" {
		pubs = append(pubs, publish.NewSlackPublisher(cfg.SlackBotToken, cfg.SlackChannelID))
	}
	if cfg.GitHubToken != "" && cfg.GitHubRepoOwner != "" && cfg.GitHubRepoName != "" {
		pubs = append(pubs, publish.NewRepoPublisher(publish.RepoConfig{
			Token: cfg.GitHubToken,
			Owner: cfg.GitHubRepoOwner,
			Repo:  cfg.GitHubRepoName,
		}))
	}
	return pubs
}

func registerHealth(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "OK",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
}

// RateLimiter throttles control API requests per client IP.
type RateLimiter struct {
	limits   map[string]*IPRateLimiter
	mu       sync.Mutex
	rate     rate.Limit
	capacity int
}

// IPRateLimiter wraps a token bucket rate limiter specific to an IP address.
type IPRateLimiter struct {
	limiter *rate.Limiter
}

func newRateLimiter() *RateLimiter {
	return &RateLimiter{
		limits:   make(map[string]*IPRateLimiter),
		rate:     rate.Limit(5),
		capacity: 10,
	}
}

func (rl *RateLimiter) getLimiter(ip string) *IPRateLimiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limits[ip]
	if !exists {
		limiter = &IPRateLimiter{limiter: rate.NewLimiter(rl.rate, rl.capacity)}
		rl.limits[ip] = limiter
	}
	return limiter
}

// Allow checks if a request from this IP should be allowed.
func (ipl *IPRateLimiter) Allow() bool {
	return ipl.limiter.Allow()
}

func getClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		ips := strings.Split(ip, ",")
		return strings.TrimSpace(ips[0])
	}
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	return ip
}
