// Package driver implements the State Machine Driver (C4): the entry point
// invoked on every scheduled tick (and every manual trigger), which
// resolves the current task, dispatches to the matching Phase Handler, and
// records the tick outcome.
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/taskbot/daily-digest/internal/observability"
	"github.com/taskbot/daily-digest/internal/phases"
	"github.com/taskbot/daily-digest/internal/store"
)

// Driver runs ticks against a single HandlerContext built once at startup.
type Driver struct {
	Store   *store.Store
	Handler *phases.HandlerContext
}

// New creates a Driver.
func New(s *store.Store, hc *phases.HandlerContext) *Driver {
	return &Driver{Store: s, Handler: hc}
}

// TickResult summarises one Tick invocation for the caller (scheduler loop
// or control API) and the structured per-tick log line spec.md §7 requires.
type TickResult struct {
	TaskDate string
	Phase    store.Phase
	Outcome  phases.Outcome
}

// Tick implements spec.md §4.4's five-step contract: resolve today's task,
// handle day rollover, dispatch by phase, run the matching handler, and
// record the outcome. Handler errors propagate to the caller without
// changing task phase beyond whatever the handler already committed.
func (d *Driver) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	today := now.UTC()
	start := time.Now()

	task, err := d.Store.GetOrCreateTask(ctx, dateKey(today))
	if err != nil {
		sentry.CaptureException(err)
		return TickResult{}, fmt.Errorf("driver: get or create task: %w", err)
	}

	if err := d.archiveStaleTasks(ctx, today); err != nil {
		log.Warn().Err(err).Msg("driver: archive stale tasks failed, continuing with today's task")
	}

	ctx, span := observability.StartTickSpan(ctx, observability.TickSpanInfo{
		TaskDate: task.TaskDate,
		Phase:    string(task.Phase),
	})
	defer span.End()

	outcome, handlerErr := d.dispatch(ctx, task)

	duration := time.Since(start)
	outcomeLabel := "success"
	if handlerErr != nil {
		outcomeLabel = "error"
	}

	observability.RecordTick(ctx, observability.TickMetrics{
		TaskDate:      task.TaskDate,
		Phase:         string(task.Phase),
		Outcome:       outcomeLabel,
		Duration:      duration,
		OutboundCalls: outcome.OutboundCalls,
	})

	logEvent := log.Info()
	if handlerErr != nil {
		logEvent = log.Warn().Err(handlerErr)
		sentry.CaptureException(handlerErr)
	}
	logEvent.
		Str("task_date", task.TaskDate).
		Str("phase", string(task.Phase)).
		Str("next_phase", string(outcome.NextPhase)).
		Int("articles_claimed", outcome.ArticlesClaimed).
		Int("articles_done", outcome.ArticlesDone).
		Int("articles_failed", outcome.ArticlesFailed).
		Str("outcome", outcomeLabel).
		Dur("duration", duration).
		Msg("tick complete")

	if handlerErr != nil {
		return TickResult{TaskDate: task.TaskDate, Phase: task.Phase, Outcome: outcome}, handlerErr
	}

	if outcome.NextPhase != "" && outcome.NextPhase != task.Phase {
		observability.RecordPhaseTransition(ctx, string(outcome.Phase), string(outcome.NextPhase))
	}

	return TickResult{TaskDate: task.TaskDate, Phase: task.Phase, Outcome: outcome}, nil
}

// dispatch runs the handler matching task's current phase.
func (d *Driver) dispatch(ctx context.Context, task *store.DailyTask) (phases.Outcome, error) {
	taskDate, err := time.Parse("2006-01-02", task.TaskDate)
	if err != nil {
		return phases.Outcome{}, fmt.Errorf("driver: parse task date %q: %w", task.TaskDate, err)
	}

	switch task.Phase {
	case store.PhaseInit:
		return phases.FetchList(ctx, d.Handler, taskDate)
	case store.PhaseListFetched, store.PhaseProcessing:
		return phases.ProcessBatch(ctx, d.Handler, taskDate)
	case store.PhaseAggregating:
		return phases.Aggregate(ctx, d.Handler, taskDate)
	case store.PhasePublished, store.PhaseArchived:
		return phases.Terminal(ctx, d.Handler, taskDate, task.Phase)
	default:
		return phases.Outcome{}, fmt.Errorf("driver: unknown phase %q", task.Phase)
	}
}

// archiveStaleTasks finds any previous-day task still live and either
// archives it (if Published) or emits a StaleTaskWarning (if still in
// progress). An in-progress task remains live; it can be completed via
// the manual retry/force-publish controls.
func (d *Driver) archiveStaleTasks(ctx context.Context, today time.Time) error {
	yesterday := today.AddDate(0, 0, -1)
	yesterdayKey := dateKey(yesterday)

	progress, err := d.Store.GetProgress(ctx, yesterdayKey)
	if err != nil {
		if err == store.ErrTaskNotFound {
			return nil
		}
		return err
	}

	if progress.Task.Phase == store.PhasePublished {
		if _, err := d.Store.ArchiveIfPublished(ctx, yesterdayKey); err != nil {
			return fmt.Errorf("archive %s: %w", yesterdayKey, err)
		}
		return nil
	}

	if progress.Task.Phase != store.PhaseArchived {
		log.Warn().Str("task_date", yesterdayKey).Str("phase", string(progress.Task.Phase)).
			Msg("StaleTaskWarning: previous day's task did not reach Published before rollover")
	}
	return nil
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
