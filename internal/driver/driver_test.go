package driver

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbot/daily-digest/internal/budget"
	"github.com/taskbot/daily-digest/internal/phases"
	"github.com/taskbot/daily-digest/internal/store"
)

func newTestDriver(t *testing.T) (*Driver, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	s := store.NewStore(store.NewDBFromClient(sqlDB, &store.Config{}), 5*time.Minute, 3)
	hc := &phases.HandlerContext{
		Store:  s,
		Budget: budget.Config{SubrequestLimit: 50, SubrequestBuffer: 20},
		Config: phases.Config{BatchSize: 6, MaxRetries: 3, HNStoryLimit: 30, HNTimeWindow: 24 * time.Hour},
	}
	return New(s, hc), mock
}

func TestTick_PublishedPhaseIsTerminalNoop(t *testing.T) {
	d, mock := newTestDriver(t)
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	today := "2026-07-31"
	yesterday := "2026-07-30"

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO daily_tasks`).
		WithArgs(today, store.PhaseInit, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT task_date, phase, total, completed, failed, created_at, updated_at, published_at`).
		WithArgs(today).
		WillReturnRows(sqlmock.NewRows([]string{
			"task_date", "phase", "total", "completed", "failed", "created_at", "updated_at", "published_at",
		}).AddRow(today, store.PhasePublished, 30, 30, 0, now, now, now))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT task_date, phase, total, completed, failed, created_at, updated_at, published_at`).
		WithArgs(yesterday).
		WillReturnRows(sqlmock.NewRows([]string{
			"task_date", "phase", "total", "completed", "failed", "created_at", "updated_at", "published_at",
		}).AddRow(yesterday, store.PhasePublished, 30, 30, 0, now, now, now))
	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM articles`).
		WithArgs(yesterday).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE daily_tasks SET phase`).
		WithArgs(store.PhaseArchived, sqlmock.AnyArg(), yesterday, store.PhasePublished).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := d.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, store.PhasePublished, result.Outcome.Phase)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTick_DispatchesProcessBatchWhenListFetched(t *testing.T) {
	d, mock := newTestDriver(t)
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	today := "2026-07-31"
	yesterday := "2026-07-30"

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO daily_tasks`).
		WithArgs(today, store.PhaseInit, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT task_date, phase, total, completed, failed, created_at, updated_at, published_at`).
		WithArgs(today).
		WillReturnRows(sqlmock.NewRows([]string{
			"task_date", "phase", "total", "completed", "failed", "created_at", "updated_at", "published_at",
		}).AddRow(today, store.PhaseListFetched, 6, 0, 0, now, now, nil))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT task_date, phase, total, completed, failed, created_at, updated_at, published_at`).
		WithArgs(yesterday).
		WillReturnRows(sqlmock.NewRows([]string{
			"task_date", "phase", "total", "completed", "failed", "created_at", "updated_at", "published_at",
		}).AddRow(yesterday, store.PhaseArchived, 6, 6, 0, now, now, now))
	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM articles`).
		WithArgs(yesterday).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}))

	// ProcessBatch: an empty claim advances ListFetched -> Aggregating.
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE articles`).WillReturnRows(sqlmock.NewRows([]string{
		"id", "task_date", "story_id", "rank", "url", "title_en", "title_zh", "score",
		"published_time", "content_summary_zh", "comment_summary_zh", "status",
		"error_message", "retry_count", "created_at", "updated_at",
	}))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE daily_tasks SET phase`).
		WithArgs(store.PhaseAggregating, sqlmock.AnyArg(), today, store.PhaseListFetched).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := d.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, store.PhaseListFetched, result.Phase)
	assert.Equal(t, store.PhaseAggregating, result.Outcome.NextPhase)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTick_StaleTaskWarningDoesNotBlockTick(t *testing.T) {
	d, mock := newTestDriver(t)
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	today := "2026-07-31"
	yesterday := "2026-07-30"

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO daily_tasks`).
		WithArgs(today, store.PhaseInit, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT task_date, phase, total, completed, failed, created_at, updated_at, published_at`).
		WithArgs(today).
		WillReturnRows(sqlmock.NewRows([]string{
			"task_date", "phase", "total", "completed", "failed", "created_at", "updated_at", "published_at",
		}).AddRow(today, store.PhasePublished, 30, 30, 0, now, now, now))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT task_date, phase, total, completed, failed, created_at, updated_at, published_at`).
		WithArgs(yesterday).
		WillReturnRows(sqlmock.NewRows([]string{
			"task_date", "phase", "total", "completed", "failed", "created_at", "updated_at", "published_at",
		}).AddRow(yesterday, store.PhaseProcessing, 30, 10, 0, now, now, nil))
	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM articles`).
		WithArgs(yesterday).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}))

	result, err := d.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, store.PhasePublished, result.Outcome.Phase)
	require.NoError(t, mock.ExpectationsWereMet())
}
