package phases

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/taskbot/daily-digest/internal/store"
)

// Terminal handles the Published and Archived phases: the steady state
// between a day's completion and the next day's rollover. It is a no-op
// that logs and returns immediately.
func Terminal(ctx context.Context, hc *HandlerContext, taskDate time.Time, phase store.Phase) (Outcome, error) {
	date := dateKey(taskDate.UTC())
	log.Debug().Str("task_date", date).Str("phase", string(phase)).Msg("task already terminal, no-op")
	return Outcome{
		Phase:     phase,
		NextPhase: phase,
		Message:   "terminal phase, nothing to do",
	}, nil
}
