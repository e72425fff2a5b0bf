package phases

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbot/daily-digest/internal/budget"
	"github.com/taskbot/daily-digest/internal/collaborators"
	"github.com/taskbot/daily-digest/internal/store"
)

func newTestHandlerContext(t *testing.T) (*HandlerContext, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	s := store.NewStore(store.NewDBFromClient(sqlDB, &store.Config{}), 5*time.Minute, 3)

	return &HandlerContext{
		Store:  s,
		Budget: budget.Config{SubrequestLimit: 50, SubrequestBuffer: 20},
		Config: Config{BatchSize: 6, MaxRetries: 3, HNStoryLimit: 30, HNTimeWindow: 24 * time.Hour},
	}, mock
}

func TestFetchList_InsertsArticlesAndAdvancesPhase(t *testing.T) {
	hc, mock := newTestHandlerContext(t)
	hc.News = &fakeNews{stories: []collaborators.Story{
		{StoryID: 1, TitleEn: "A", Score: 10, URL: "https://a", PublishedTime: time.Now()},
		{StoryID: 2, TitleEn: "B", Score: 20, URL: "https://b", PublishedTime: time.Now()},
	}}
	hc.Translate = &fakeTranslator{}
	hc.Filter = fakeFilter{}

	taskDate := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM articles`).
		WithArgs("2026-07-31").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectPrepare(`INSERT INTO articles`)
	mock.ExpectExec(`INSERT INTO articles`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO articles`).WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(`UPDATE daily_tasks SET total`).
		WithArgs(2, sqlmock.AnyArg(), "2026-07-31").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE daily_tasks SET phase`).
		WithArgs(store.PhaseListFetched, sqlmock.AnyArg(), "2026-07-31", store.PhaseInit).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := FetchList(context.Background(), hc, taskDate)
	require.NoError(t, err)
	assert.Equal(t, store.PhaseListFetched, outcome.NextPhase)
	assert.Equal(t, 2, outcome.ArticlesClaimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessBatch_EmptyClaimAdvancesToAggregating(t *testing.T) {
	hc, mock := newTestHandlerContext(t)

	taskDate := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE articles`).WillReturnRows(sqlmock.NewRows([]string{
		"id", "task_date", "story_id", "rank", "url", "title_en", "title_zh", "score",
		"published_time", "content_summary_zh", "comment_summary_zh", "status",
		"error_message", "retry_count", "created_at", "updated_at",
	}))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE daily_tasks SET phase`).
		WithArgs(store.PhaseAggregating, sqlmock.AnyArg(), "2026-07-31", store.PhaseListFetched).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := ProcessBatch(context.Background(), hc, taskDate)
	require.NoError(t, err)
	assert.Equal(t, store.PhaseAggregating, outcome.NextPhase)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregate_AllPublishersSucceedMarksPublished(t *testing.T) {
	hc, mock := newTestHandlerContext(t)
	hc.Renderer = fakeRenderer{}
	slackPub := &fakePublisher{name: "slack"}
	githubPub := &fakePublisher{name: "github"}
	hc.Publishers = []collaborators.Publisher{slackPub, githubPub}

	taskDate := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	zh := "标题"

	mock.ExpectQuery(`SELECT id, task_date, story_id, rank, url, title_en, title_zh, score`).
		WithArgs("2026-07-31", store.StatusCompleted).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "task_date", "story_id", "rank", "url", "title_en", "title_zh", "score",
			"published_time", "content_summary_zh", "comment_summary_zh", "status",
			"error_message", "retry_count", "created_at", "updated_at",
		}).AddRow(1, "2026-07-31", 100, 1, "https://a", "A", zh, 10,
			time.Now(), nil, nil, store.StatusCompleted, nil, 0, time.Now(), time.Now()))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE daily_tasks SET phase`).
		WithArgs(store.PhasePublished, sqlmock.AnyArg(), "2026-07-31").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := Aggregate(context.Background(), hc, taskDate)
	require.NoError(t, err)
	assert.Equal(t, store.PhasePublished, outcome.NextPhase)
	assert.Equal(t, 1, slackPub.hits)
	assert.Equal(t, 1, githubPub.hits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregate_PublisherFailureStaysAggregating(t *testing.T) {
	hc, mock := newTestHandlerContext(t)
	hc.Renderer = fakeRenderer{}
	failing := &fakePublisher{name: "slack", err: errFakePublish}
	hc.Publishers = []collaborators.Publisher{failing}

	taskDate := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, task_date, story_id, rank, url, title_en, title_zh, score`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "task_date", "story_id", "rank", "url", "title_en", "title_zh", "score",
			"published_time", "content_summary_zh", "comment_summary_zh", "status",
			"error_message", "retry_count", "created_at", "updated_at",
		}))

	outcome, err := Aggregate(context.Background(), hc, taskDate)
	require.NoError(t, err)
	assert.Equal(t, store.PhaseAggregating, outcome.NextPhase)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTerminal_NoopReturnsSamePhase(t *testing.T) {
	hc, _ := newTestHandlerContext(t)
	outcome, err := Terminal(context.Background(), hc, time.Now(), store.PhasePublished)
	require.NoError(t, err)
	assert.Equal(t, store.PhasePublished, outcome.NextPhase)
}
