package control

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/taskbot/daily-digest/internal/driver"
	"github.com/taskbot/daily-digest/internal/phases"
	"github.com/taskbot/daily-digest/internal/store"
)

// recentBatchLimit bounds how many BatchRecords the status endpoint returns.
const recentBatchLimit = 10

// Server wires the Task Store, the Phase Handlers, and the Driver into the
// four HTTP routes spec.md §4.5 defines. It holds no per-request state.
type Server struct {
	Store   *store.Store
	Handler *phases.HandlerContext
	Driver  *driver.Driver
}

// New builds a Server.
func New(s *store.Store, hc *phases.HandlerContext, d *driver.Driver) *Server {
	return &Server{Store: s, Handler: hc, Driver: d}
}

// Routes registers the control API on mux, applying BearerAuthMiddleware to
// every mutating endpoint. Status remains unauthenticated so operators can
// check progress without a token.
func (s *Server) Routes(mux *http.ServeMux, tokenSecret string) {
	auth := BearerAuthMiddleware(tokenSecret)

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("POST /retry", auth(http.HandlerFunc(s.handleRetry)))
	mux.Handle("POST /force-publish", auth(http.HandlerFunc(s.handleForcePublish)))
	mux.Handle("POST /trigger", auth(http.HandlerFunc(s.handleTrigger)))
}

type statusResponse struct {
	Task          store.DailyTask     `json:"task"`
	Pending       int                 `json:"pending"`
	Processing    int                 `json:"processing"`
	Completed     int                 `json:"completed"`
	Failed        int                 `json:"failed"`
	RecentBatches []store.BatchRecord `json:"recent_batches"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		badRequest(w, r, "date query parameter is required")
		return
	}

	progress, err := s.Store.GetProgress(r.Context(), date)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			notFound(w, r, "no task found for date "+date)
			return
		}
		storeUnavailable(w, r, err)
		return
	}

	batches, err := s.Store.RecentBatches(r.Context(), date, recentBatchLimit)
	if err != nil {
		storeUnavailable(w, r, err)
		return
	}

	WriteSuccess(w, r, statusResponse{
		Task:          progress.Task,
		Pending:       progress.PendingCount,
		Processing:    progress.ProcessingCount,
		Completed:     progress.CompletedCount,
		Failed:        progress.FailedCount,
		RecentBatches: batches,
	})
}

type retryResponse struct {
	Requeued int `json:"requeued"`
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		badRequest(w, r, "date query parameter is required")
		return
	}

	count, err := s.Store.RetryFailed(r.Context(), date)
	if err != nil {
		storeUnavailable(w, r, err)
		return
	}

	WriteSuccess(w, r, retryResponse{Requeued: count})
}

func (s *Server) handleForcePublish(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		badRequest(w, r, "date query parameter is required")
		return
	}

	progress, err := s.Store.GetProgress(r.Context(), date)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			notFound(w, r, "no task found for date "+date)
			return
		}
		storeUnavailable(w, r, err)
		return
	}
	if progress.CompletedCount == 0 {
		precondition(w, r, "force-publish requires at least one completed article")
		return
	}

	taskDate, err := time.Parse("2006-01-02", date)
	if err != nil {
		badRequest(w, r, "date must be in YYYY-MM-DD format")
		return
	}

	outcome, err := phases.Aggregate(r.Context(), s.Handler, taskDate)
	if err != nil {
		log.Error().Err(err).Str("task_date", date).Msg("control: force-publish failed")
		storeUnavailable(w, r, err)
		return
	}

	WriteSuccess(w, r, outcome)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	result, err := s.Driver.Tick(r.Context(), time.Now())
	if err != nil {
		log.Error().Err(err).Msg("control: manual trigger failed")
		storeUnavailable(w, r, err)
		return
	}

	WriteSuccess(w, r, result)
}
