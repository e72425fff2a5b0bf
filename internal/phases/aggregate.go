package phases

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/taskbot/daily-digest/internal/budget"
	"github.com/taskbot/daily-digest/internal/collaborators"
	"github.com/taskbot/daily-digest/internal/store"
)

// publishGroup collapses concurrent Aggregate invocations for the same
// taskDate into a single publish attempt, so two overlapping ticks that
// both reach Aggregating don't double-post to the same publishers.
var publishGroup singleflight.Group

// Aggregate is entered while the task is Aggregating. It loads completed
// articles, renders the digest artifact, and hands it to every configured
// publisher. If all publishers succeed the task advances to Published; if
// any fails, the phase stays Aggregating so the next tick retries —
// publishers must be idempotent for the same digest date.
func Aggregate(ctx context.Context, hc *HandlerContext, taskDate time.Time) (Outcome, error) {
	if err := budget.AssertWithinBudget(hc.Budget, len(hc.Publishers)); err != nil {
		return Outcome{}, fmt.Errorf("aggregate: %w", err)
	}

	date := dateKey(taskDate.UTC())
	digestDate := taskDate.UTC().AddDate(0, 0, -1)

	result, err, _ := publishGroup.Do(date, func() (interface{}, error) {
		return runAggregate(ctx, hc, date, digestDate)
	})
	if err != nil {
		return Outcome{}, err
	}
	return result.(Outcome), nil
}

func runAggregate(ctx context.Context, hc *HandlerContext, date string, digestDate time.Time) (Outcome, error) {
	completed, err := hc.Store.ListCompleted(ctx, date)
	if err != nil {
		return Outcome{}, fmt.Errorf("aggregate: list completed: %w", err)
	}

	rendered := make([]collaborators.RenderedArticle, len(completed))
	for i, a := range completed {
		rendered[i] = collaborators.RenderedArticle{
			Rank:          a.Rank,
			TitleEn:       a.TitleEn,
			PublishedTime: a.PublishedTime,
			URL:           a.URL,
		}
		if a.TitleZh != nil {
			rendered[i].TitleZh = *a.TitleZh
		}
		if a.ContentSummaryZh != nil {
			rendered[i].ContentSummaryZh = *a.ContentSummaryZh
		}
		if a.CommentSummaryZh != nil {
			rendered[i].CommentSummaryZh = *a.CommentSummaryZh
		}
	}

	artifact, err := hc.Renderer.Render(digestDate, rendered)
	if err != nil {
		return Outcome{}, fmt.Errorf("aggregate: render artifact: %w", err)
	}

	var failures []string
	for _, pub := range hc.Publishers {
		if err := pub.Publish(ctx, digestDate, artifact); err != nil {
			log.Warn().Err(err).Str("publisher", pub.Name()).Str("task_date", date).
				Msg("aggregate: publisher failed, will retry next tick")
			failures = append(failures, pub.Name())
		}
	}

	if len(failures) > 0 {
		return Outcome{
			Phase:     store.PhaseAggregating,
			NextPhase: store.PhaseAggregating,
			Message:   fmt.Sprintf("publish failed for: %v, retrying next tick", failures),
		}, nil
	}

	if err := hc.Store.MarkPublished(ctx, date); err != nil {
		return Outcome{}, fmt.Errorf("aggregate: mark published: %w", err)
	}

	return Outcome{
		Phase:           store.PhaseAggregating,
		NextPhase:       store.PhasePublished,
		ArticlesDone:    len(completed),
		Message:         fmt.Sprintf("published digest for %s with %d articles", digestDate.Format("2006-01-02"), len(completed)),
	}, nil
}
