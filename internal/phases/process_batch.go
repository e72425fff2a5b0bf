package phases

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/taskbot/daily-digest/internal/budget"
	"github.com/taskbot/daily-digest/internal/observability"
	"github.com/taskbot/daily-digest/internal/store"
)

const (
	articleFetchTimeout = 10 * time.Second
	llmCallTimeout      = 30 * time.Second
)

// ProcessBatch is entered while the task is ListFetched or Processing. It
// claims up to BatchSize pending (or reclaimed stuck) articles, enriches
// each in parallel bounded by BatchSize, writes all outcomes in one
// CompleteArticles transaction, and records a BatchRecord. An empty claim
// is the termination condition: it advances the task to Aggregating.
func ProcessBatch(ctx context.Context, hc *HandlerContext, taskDate time.Time) (Outcome, error) {
	date := dateKey(taskDate.UTC())
	planned := budget.EstimateCalls(hc.Config.BatchSize)
	if err := budget.AssertWithinBudget(hc.Budget, planned); err != nil {
		return Outcome{}, fmt.Errorf("processbatch: %w", err)
	}

	start := time.Now()

	claimed, err := hc.Store.ClaimPendingBatch(ctx, date, hc.Config.BatchSize)
	if err != nil {
		return Outcome{}, fmt.Errorf("processbatch: claim pending batch: %w", err)
	}

	if len(claimed) == 0 {
		if err := hc.Store.AdvancePhase(ctx, date, store.PhaseListFetched, store.PhaseAggregating); err != nil {
			if err := hc.Store.AdvancePhase(ctx, date, store.PhaseProcessing, store.PhaseAggregating); err != nil {
				return Outcome{}, fmt.Errorf("processbatch: advance to aggregating: %w", err)
			}
		}
		return Outcome{
			Phase:     store.PhaseProcessing,
			NextPhase: store.PhaseAggregating,
			Message:   "no pending articles left, advancing to aggregating",
		}, nil
	}

	// On the first claimed batch, advance ListFetched -> Processing; once
	// already Processing this is a no-op phase mismatch we ignore.
	_ = hc.Store.AdvancePhase(ctx, date, store.PhaseListFetched, store.PhaseProcessing)

	var outboundCalls int64
	updates := make([]store.ArticleUpdate, len(claimed))
	limiter := budget.NewLimiter(hc.Budget, hc.Config.BatchSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hc.Config.BatchSize)

	for i, article := range claimed {
		i, article := i, article
		g.Go(func() error {
			update, calls := enrichArticle(gctx, hc, limiter, article)
			updates[i] = update
			atomic.AddInt64(&outboundCalls, int64(calls))
			return nil
		})
	}
	_ = g.Wait()

	if err := hc.Store.CompleteArticles(ctx, date, updates); err != nil {
		return Outcome{}, fmt.Errorf("processbatch: complete articles: %w", err)
	}

	completed, failed := 0, 0
	for _, u := range updates {
		if u.Status == store.StatusCompleted {
			completed++
		} else {
			failed++
		}
	}

	batchStatus := store.BatchSuccess
	switch {
	case completed == 0:
		batchStatus = store.BatchFailed
	case failed > 0:
		batchStatus = store.BatchPartial
	}

	batchIndex, err := hc.Store.NextBatchIndex(ctx, date)
	if err != nil {
		return Outcome{}, fmt.Errorf("processbatch: next batch index: %w", err)
	}

	record := store.BatchRecord{
		TaskDate:               date,
		BatchIndex:             batchIndex,
		ArticleCount:           len(claimed),
		EstimatedOutboundCalls: int(outboundCalls),
		DurationMs:             time.Since(start).Milliseconds(),
		Status:                 batchStatus,
	}
	if err := hc.Store.RecordBatch(ctx, record); err != nil {
		return Outcome{}, fmt.Errorf("processbatch: record batch: %w", err)
	}
	observability.RecordBatch(ctx, record.ArticleCount, string(batchStatus))

	log.Info().
		Str("task_date", date).
		Int("batch_index", batchIndex).
		Int("claimed", len(claimed)).
		Int("completed", completed).
		Int("failed", failed).
		Int("outbound_calls", int(outboundCalls)).
		Str("status", string(batchStatus)).
		Msg("processed batch")

	return Outcome{
		Phase:           store.PhaseProcessing,
		NextPhase:       store.PhaseProcessing,
		ArticlesClaimed: len(claimed),
		ArticlesDone:    completed,
		ArticlesFailed:  failed,
		OutboundCalls:   int(outboundCalls),
		Message:         fmt.Sprintf("batch %d: %d completed, %d failed", batchIndex, completed, failed),
	}, nil
}

// noCommentPlaceholder stands in for a story's top comment when it has none
// (the ordinary case for a meaningful fraction of HN stories, not an edge
// case), so SummarizeComment always runs and every completed article still
// satisfies store.Article.IsEnriched's non-empty-CommentSummaryZh invariant.
const noCommentPlaceholder = "No comments were available for this story."

// enrichArticle runs the enrichment calls for one article (an inline title
// translation when TitleZh is unset, then article fetch, top-comment fetch,
// content summary and comment summary) and returns
// its terminal ArticleUpdate plus the number of outbound calls it made.
// Any failed enrichment call marks the whole article failed rather than
// aborting the batch. limiter paces every outbound call against the tick's
// call budget.
func enrichArticle(ctx context.Context, hc *HandlerContext, limiter *rate.Limiter, article store.Article) (store.ArticleUpdate, int) {
	calls := 0

	titleZh := ""
	if article.TitleZh != nil {
		titleZh = *article.TitleZh
	} else {
		translated, err := waitAndCall(ctx, limiter, llmCallTimeout, func(ctx context.Context) (string, error) {
			return hc.Translate.TranslateTitle(ctx, article.TitleEn)
		})
		calls++
		if err != nil {
			return failedUpdate(article.ID, "translate title", err), calls
		}
		titleZh = translated
	}

	fetched, err := waitAndCall(ctx, limiter, articleFetchTimeout, func(ctx context.Context) (string, error) {
		art, err := hc.ArticleFetch.Fetch(ctx, article.URL)
		return art.Content, err
	})
	calls++
	if err != nil {
		return failedUpdate(article.ID, "fetch article", err), calls
	}

	comment, err := waitAndCall(ctx, limiter, articleFetchTimeout, func(ctx context.Context) (string, error) {
		return hc.News.TopComment(ctx, article.StoryID)
	})
	calls++
	if err != nil {
		return failedUpdate(article.ID, "fetch comment", err), calls
	}
	if comment == "" {
		comment = noCommentPlaceholder
	}

	contentSummary, err := waitAndCall(ctx, limiter, llmCallTimeout, func(ctx context.Context) (string, error) {
		return hc.Summarize.SummarizeContent(ctx, fetched)
	})
	calls++
	if err != nil {
		return failedUpdate(article.ID, "summarize content", err), calls
	}

	commentSummary, err := waitAndCall(ctx, limiter, llmCallTimeout, func(ctx context.Context) (string, error) {
		return hc.Summarize.SummarizeComment(ctx, comment)
	})
	calls++
	if err != nil {
		return failedUpdate(article.ID, "summarize comment", err), calls
	}

	update := store.ArticleUpdate{
		ID:               article.ID,
		Status:           store.StatusCompleted,
		TitleZh:          titleZh,
		ContentSummaryZh: contentSummary,
		CommentSummaryZh: commentSummary,
	}
	if !articleUpdateEnriched(update) {
		return failedUpdate(article.ID, "enrichment incomplete", fmt.Errorf("one or more enrichment outputs empty")), calls
	}
	return update, calls
}

// articleUpdateEnriched mirrors store.Article.IsEnriched for the
// not-yet-persisted ArticleUpdate shape enrichArticle builds, so a batch
// can never mark an article completed with a blank enrichment field.
func articleUpdateEnriched(u store.ArticleUpdate) bool {
	return u.TitleZh != "" && u.ContentSummaryZh != "" && u.CommentSummaryZh != ""
}

func failedUpdate(id int64, stage string, err error) store.ArticleUpdate {
	return store.ArticleUpdate{
		ID:           id,
		Status:       store.StatusFailed,
		ErrorMessage: fmt.Sprintf("%s: %v", stage, err),
	}
}

// waitAndCall blocks on limiter until a token is available, then runs fn
// under timeout. limiter.Wait's own ctx-cancellation check covers a tick
// whose deadline passes while a call is queued behind the rate limit.
func waitAndCall(ctx context.Context, limiter *rate.Limiter, timeout time.Duration, fn func(context.Context) (string, error)) (string, error) {
	if err := limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("budget limiter: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
