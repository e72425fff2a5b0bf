package phases

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/taskbot/daily-digest/internal/budget"
	"github.com/taskbot/daily-digest/internal/store"
)

// FetchList is entered when the task is in Init. It queries the news
// aggregator for the previous UTC day's top stories, applies the optional
// content filter, attempts a single-call batch pre-translation,
// bulk-inserts the resulting Article rows, and advances the task to
// ListFetched. If a previous tick inserted the rows but stopped before
// AdvancePhase, the existing rows are kept (ErrDuplicateTask is ignored)
// and only the phase is advanced.
func FetchList(ctx context.Context, hc *HandlerContext, taskDate time.Time) (Outcome, error) {
	if err := budget.AssertWithinBudget(hc.Budget, 3); err != nil {
		return Outcome{}, fmt.Errorf("fetchlist: %w", err)
	}

	date := taskDate.UTC()
	windowStart := time.Date(date.Year(), date.Month(), date.Day()-1, 0, 0, 0, 0, time.UTC)
	windowEnd := windowStart.Add(hc.Config.HNTimeWindow)

	stories, err := hc.News.TopStories(ctx, hc.Config.HNStoryLimit, windowStart, windowEnd)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetchlist: top stories: %w", err)
	}

	if hc.Filter != nil {
		stories, err = hc.Filter.Apply(ctx, stories)
		if err != nil {
			return Outcome{}, fmt.Errorf("fetchlist: content filter: %w", err)
		}
	}

	sort.SliceStable(stories, func(i, j int) bool { return stories[i].Score > stories[j].Score })

	titles := make([]string, len(stories))
	for i, s := range stories {
		titles[i] = s.TitleEn
	}

	var titlesZh []string
	if hc.Translate != nil && len(titles) > 0 {
		titlesZh, err = hc.Translate.TranslateTitles(ctx, titles)
		if err != nil || len(titlesZh) != len(titles) {
			log.Warn().Err(err).Str("task_date", dateKey(date)).
				Msg("fetchlist: batch pre-translation failed, titles will translate inline during processing")
			titlesZh = nil
		}
	}

	rows := make([]store.Article, len(stories))
	for i, s := range stories {
		a := store.Article{
			StoryID:       s.StoryID,
			Rank:          i + 1,
			URL:           s.URL,
			TitleEn:       s.TitleEn,
			Score:         s.Score,
			PublishedTime: s.PublishedTime,
			Status:        store.StatusPending,
		}
		if titlesZh != nil {
			zh := titlesZh[i]
			a.TitleZh = &zh
		}
		rows[i] = a
	}

	taskDateKey := dateKey(date)
	if err := hc.Store.BulkInsertArticles(ctx, taskDateKey, rows); err != nil && !errors.Is(err, store.ErrDuplicateTask) {
		return Outcome{}, fmt.Errorf("fetchlist: bulk insert articles: %w", err)
	}

	if err := hc.Store.AdvancePhase(ctx, taskDateKey, store.PhaseInit, store.PhaseListFetched); err != nil {
		return Outcome{}, fmt.Errorf("fetchlist: advance phase: %w", err)
	}

	return Outcome{
		Phase:           store.PhaseInit,
		NextPhase:       store.PhaseListFetched,
		ArticlesClaimed: len(rows),
		Message:         fmt.Sprintf("fetched %d candidate stories", len(rows)),
	}, nil
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
