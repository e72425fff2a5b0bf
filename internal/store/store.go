package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lib/pq"
)

// Store is the Task Store (C1). Every mutation goes through one of its
// methods; phase handlers never hold a *sql.Tx or cached row across a tick.
type Store struct {
	db *DB

	// ProcessingTimeout is how long a row may sit in "processing" before
	// ClaimPendingBatch treats it as abandoned and reclaims it.
	ProcessingTimeout time.Duration
	// MaxRetryCount bounds RetryFailed — rows already at this ceiling are
	// left failed rather than requeued.
	MaxRetryCount int
}

// NewStore wraps an established DB connection as a Store.
func NewStore(db *DB, processingTimeout time.Duration, maxRetryCount int) *Store {
	return &Store{db: db, ProcessingTimeout: processingTimeout, MaxRetryCount: maxRetryCount}
}

// execute runs fn in one serializable transaction, applying the same
// pool-saturation guard and deadline defaulting as the rest of the store.
func (s *Store) execute(ctx context.Context, fn func(*sql.Tx) error) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 25*time.Second)
		defer cancel()
	}

	if err := s.db.ensurePoolCapacity(ctx); err != nil {
		return err
	}

	tx, err := s.db.client.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		sentry.CaptureException(err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		sentry.CaptureException(err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetOrCreateTask returns today's DailyTask, creating an Init row if none
// exists. Concurrent creators race on the insert but converge on the same
// row via ON CONFLICT DO NOTHING followed by a select.
func (s *Store) GetOrCreateTask(ctx context.Context, date string) (*DailyTask, error) {
	var task DailyTask

	err := s.execute(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO daily_tasks (task_date, phase, total, completed, failed, created_at, updated_at)
			VALUES ($1, $2, 0, 0, 0, $3, $3)
			ON CONFLICT (task_date) DO NOTHING
		`, date, PhaseInit, now)
		if err != nil {
			return fmt.Errorf("insert daily task: %w", err)
		}

		return scanTask(tx.QueryRowContext(ctx, selectTaskSQL, date), &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

const selectTaskSQL = `
	SELECT task_date, phase, total, completed, failed, created_at, updated_at, published_at
	FROM daily_tasks WHERE task_date = $1
`

func scanTask(row *sql.Row, task *DailyTask) error {
	var publishedAt sql.NullTime
	if err := row.Scan(&task.TaskDate, &task.Phase, &task.TotalArticles, &task.CompletedArticles,
		&task.FailedArticles, &task.CreatedAt, &task.UpdatedAt, &publishedAt); err != nil {
		if err == sql.ErrNoRows {
			return ErrTaskNotFound
		}
		return fmt.Errorf("scan daily task: %w", err)
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		task.PublishedAt = &t
	}
	return nil
}

// AdvancePhase moves a task from "from" to "to" iff its current phase still
// matches "from". Two concurrent callers racing on the same transition can't
// both succeed — the loser gets ErrPhaseMismatch and should exit cleanly.
func (s *Store) AdvancePhase(ctx context.Context, date string, from, to Phase) error {
	return s.execute(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE daily_tasks SET phase = $1, updated_at = $2
			WHERE task_date = $3 AND phase = $4
		`, to, time.Now().UTC(), date, from)
		if err != nil {
			return fmt.Errorf("advance phase: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("advance phase rows affected: %w", err)
		}
		if rows == 0 {
			return ErrPhaseMismatch
		}
		return nil
	})
}

// BulkInsertArticles writes the day's Article rows and sets total. Fails
// with ErrDuplicateTask if articles already exist for this date — a day's
// articles are only ever inserted once.
func (s *Store) BulkInsertArticles(ctx context.Context, date string, rows []Article) error {
	if len(rows) == 0 {
		return nil
	}

	return s.execute(ctx, func(tx *sql.Tx) error {
		var existing int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles WHERE task_date = $1`, date).Scan(&existing); err != nil {
			return fmt.Errorf("check existing articles: %w", err)
		}
		if existing > 0 {
			return ErrDuplicateTask
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO articles (
				task_date, story_id, rank, url, title_en, title_zh, score, published_time,
				status, retry_count, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $10)
			ON CONFLICT (task_date, story_id) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("prepare article insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, a := range rows {
			if _, err := stmt.ExecContext(ctx, date, a.StoryID, a.Rank, a.URL, a.TitleEn,
				a.TitleZh, a.Score, a.PublishedTime, StatusPending, now); err != nil {
				return fmt.Errorf("insert article %d: %w", a.StoryID, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE daily_tasks SET total = $1, updated_at = $2 WHERE task_date = $3
		`, len(rows), now, date); err != nil {
			return fmt.Errorf("update task total: %w", err)
		}

		return nil
	})
}

// ExistingStoryIDs returns which of the given story ids are already recorded
// for date. No phase handler calls it. Uses pq.Array to pass the whole
// candidate list as one bound parameter rather than one placeholder per id.
func (s *Store) ExistingStoryIDs(ctx context.Context, date string, storyIDs []int64) ([]int64, error) {
	if len(storyIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.client.QueryContext(ctx, `
		SELECT story_id FROM articles WHERE task_date = $1 AND story_id = ANY($2)
	`, date, pq.Array(storyIDs))
	if err != nil {
		return nil, fmt.Errorf("existing story ids: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan story id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ClaimPendingBatch atomically moves up to n rows from pending (or stuck
// processing past ProcessingTimeout) into processing, ordered by rank, and
// returns them. Two concurrent callers can never receive overlapping ids:
// FOR UPDATE SKIP LOCKED makes the second caller skip rows the first has
// locked, so it claims the next unlocked rows by rank, or gets an empty
// slice (not an error) when none are left.
func (s *Store) ClaimPendingBatch(ctx context.Context, date string, n int) ([]Article, error) {
	if n <= 0 {
		return nil, nil
	}

	var claimed []Article

	err := s.execute(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		reclaimCutoff := now.Add(-s.ProcessingTimeout)

		rows, err := tx.QueryContext(ctx, `
			UPDATE articles
			SET status = $1, updated_at = $2
			WHERE id IN (
				SELECT id FROM articles
				WHERE task_date = $3
				  AND (status = $4 OR (status = $1 AND updated_at < $5))
				ORDER BY rank ASC
				LIMIT $6
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, task_date, story_id, rank, url, title_en, title_zh, score,
				published_time, content_summary_zh, comment_summary_zh, status,
				error_message, retry_count, created_at, updated_at
		`, StatusProcessing, now, date, StatusPending, reclaimCutoff, n)
		if err != nil {
			return fmt.Errorf("claim pending batch: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var a Article
			if err := scanArticle(rows, &a); err != nil {
				return err
			}
			claimed = append(claimed, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func scanArticle(rows *sql.Rows, a *Article) error {
	var titleZh, contentSummary, commentSummary, errMsg sql.NullString
	if err := rows.Scan(&a.ID, &a.TaskDate, &a.StoryID, &a.Rank, &a.URL, &a.TitleEn, &titleZh,
		&a.Score, &a.PublishedTime, &contentSummary, &commentSummary, &a.Status, &errMsg,
		&a.RetryCount, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return fmt.Errorf("scan article: %w", err)
	}
	if titleZh.Valid {
		a.TitleZh = &titleZh.String
	}
	if contentSummary.Valid {
		a.ContentSummaryZh = &contentSummary.String
	}
	if commentSummary.Valid {
		a.CommentSummaryZh = &commentSummary.String
	}
	if errMsg.Valid {
		a.ErrorMessage = &errMsg.String
	}
	return nil
}

// CompleteArticles writes every claimed article's outcome (completed or
// failed) in one transaction and increments the task's counters atomically.
// A row not currently "processing" fails the whole write with
// ErrStatusMismatch — that should only happen if a reclaim raced the write,
// which the caller treats as a handler-level error for the next tick to
// retry.
func (s *Store) CompleteArticles(ctx context.Context, date string, updates []ArticleUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	return s.execute(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		var completedDelta, failedDelta int

		for _, u := range updates {
			var res sql.Result
			var err error
			switch u.Status {
			case StatusCompleted:
				res, err = tx.ExecContext(ctx, `
					UPDATE articles
					SET status = $1, title_zh = $2, content_summary_zh = $3, comment_summary_zh = $4,
						error_message = NULL, updated_at = $5
					WHERE id = $6 AND status = $7
				`, StatusCompleted, u.TitleZh, u.ContentSummaryZh, u.CommentSummaryZh, now, u.ID, StatusProcessing)
				completedDelta++
			case StatusFailed:
				res, err = tx.ExecContext(ctx, `
					UPDATE articles
					SET status = $1, error_message = $2, updated_at = $3
					WHERE id = $4 AND status = $5
				`, StatusFailed, u.ErrorMessage, now, u.ID, StatusProcessing)
				failedDelta++
			default:
				return fmt.Errorf("unsupported terminal status %q for article %d", u.Status, u.ID)
			}
			if err != nil {
				return fmt.Errorf("update article %d: %w", u.ID, err)
			}
			rows, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected for article %d: %w", u.ID, err)
			}
			if rows == 0 {
				return ErrStatusMismatch
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE daily_tasks
			SET completed = completed + $1, failed = failed + $2, updated_at = $3
			WHERE task_date = $4
		`, completedDelta, failedDelta, now, date); err != nil {
			return fmt.Errorf("update task counters: %w", err)
		}

		return nil
	})
}

// ListCompleted returns completed Articles in rank order, for Aggregate to
// render. No outbound calls are involved — this is a pure store read.
func (s *Store) ListCompleted(ctx context.Context, date string) ([]Article, error) {
	rows, err := s.db.client.QueryContext(ctx, `
		SELECT id, task_date, story_id, rank, url, title_en, title_zh, score,
			published_time, content_summary_zh, comment_summary_zh, status,
			error_message, retry_count, created_at, updated_at
		FROM articles
		WHERE task_date = $1 AND status = $2
		ORDER BY rank ASC
	`, date, StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("list completed articles: %w", err)
	}
	defer rows.Close()

	var out []Article
	for rows.Next() {
		var a Article
		if err := scanArticle(rows, &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecordBatch appends a BatchRecord. Append-only: callers must never update
// a previously recorded batch.
func (s *Store) RecordBatch(ctx context.Context, rec BatchRecord) error {
	return s.execute(ctx, func(tx *sql.Tx) error {
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO task_batches (
				task_date, batch_index, article_count, subrequest_count,
				duration_ms, status, error_message, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (task_date, batch_index) DO NOTHING
		`, rec.TaskDate, rec.BatchIndex, rec.ArticleCount, rec.EstimatedOutboundCalls,
			rec.DurationMs, rec.Status, rec.ErrorMessage, createdAt)
		if err != nil {
			return fmt.Errorf("record batch: %w", err)
		}
		return nil
	})
}

// NextBatchIndex returns the next unused batch_index for a date, so
// ProcessBatch callers can build a BatchRecord without racing each other on
// the index (ties are still resolved by the unique constraint).
func (s *Store) NextBatchIndex(ctx context.Context, date string) (int, error) {
	var max sql.NullInt64
	err := s.db.client.QueryRowContext(ctx, `
		SELECT MAX(batch_index) FROM task_batches WHERE task_date = $1
	`, date).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("next batch index: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64) + 1, nil
}

// RetryFailed resets failed rows below MaxRetryCount back to pending,
// incrementing retry_count. Rows already at the ceiling are left failed —
// they are poison and RetryFailed will not touch them again.
func (s *Store) RetryFailed(ctx context.Context, date string) (int, error) {
	var count int
	err := s.execute(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE articles
			SET status = $1, retry_count = retry_count + 1, error_message = NULL, updated_at = $2
			WHERE task_date = $3 AND status = $4 AND retry_count < $5
		`, StatusPending, time.Now().UTC(), date, StatusFailed, s.MaxRetryCount)
		if err != nil {
			return fmt.Errorf("retry failed articles: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("retry failed rows affected: %w", err)
		}
		count = int(rows)
		return nil
	})
	return count, err
}

// MarkPublished advances a task to Published and stamps published_at.
func (s *Store) MarkPublished(ctx context.Context, date string) error {
	return s.execute(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.ExecContext(ctx, `
			UPDATE daily_tasks SET phase = $1, published_at = $2, updated_at = $2 WHERE task_date = $3
		`, PhasePublished, now, date)
		if err != nil {
			return fmt.Errorf("mark published: %w", err)
		}
		return nil
	})
}

// ArchiveIfPublished transitions a Published task to Archived. Returns
// whether an archive actually happened — a no-op is not an error.
func (s *Store) ArchiveIfPublished(ctx context.Context, date string) (bool, error) {
	var archived bool
	err := s.execute(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE daily_tasks SET phase = $1, updated_at = $2 WHERE task_date = $3 AND phase = $4
		`, PhaseArchived, time.Now().UTC(), date, PhasePublished)
		if err != nil {
			return fmt.Errorf("archive task: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("archive rows affected: %w", err)
		}
		archived = rows > 0
		return nil
	})
	return archived, err
}

// GetProgress reads the task row plus per-status Article counts for the
// status endpoint.
func (s *Store) GetProgress(ctx context.Context, date string) (*Progress, error) {
	var p Progress
	if err := scanTask(s.db.client.QueryRowContext(ctx, selectTaskSQL, date), &p.Task); err != nil {
		return nil, err
	}

	rows, err := s.db.client.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM articles WHERE task_date = $1 GROUP BY status
	`, date)
	if err != nil {
		return nil, fmt.Errorf("count article statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status ArticleStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		switch status {
		case StatusPending:
			p.PendingCount = count
		case StatusProcessing:
			p.ProcessingCount = count
		case StatusCompleted:
			p.CompletedCount = count
		case StatusFailed:
			p.FailedCount = count
		}
	}

	return &p, rows.Err()
}

// RecentBatches returns the most recent BatchRecords for a date, newest
// first, for the status endpoint.
func (s *Store) RecentBatches(ctx context.Context, date string, limit int) ([]BatchRecord, error) {
	rows, err := s.db.client.QueryContext(ctx, `
		SELECT task_date, batch_index, article_count, subrequest_count, duration_ms,
			status, error_message, created_at
		FROM task_batches WHERE task_date = $1
		ORDER BY batch_index DESC LIMIT $2
	`, date, limit)
	if err != nil {
		return nil, fmt.Errorf("recent batches: %w", err)
	}
	defer rows.Close()

	var out []BatchRecord
	for rows.Next() {
		var r BatchRecord
		var errMsg sql.NullString
		if err := rows.Scan(&r.TaskDate, &r.BatchIndex, &r.ArticleCount, &r.EstimatedOutboundCalls,
			&r.DurationMs, &r.Status, &errMsg, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan batch record: %w", err)
		}
		if errMsg.Valid {
			r.ErrorMessage = &errMsg.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

