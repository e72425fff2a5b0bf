// Package phases implements the Phase Handlers (C3): one function per
// DailyTask phase, each entered only when the task is in the matching
// phase and each committing at most one phase transition per invocation.
package phases

import (
	"time"

	"github.com/taskbot/daily-digest/internal/budget"
	"github.com/taskbot/daily-digest/internal/collaborators"
	"github.com/taskbot/daily-digest/internal/store"
)

// Config holds the task-processing knobs a handler needs beyond the budget
// and collaborator bundle: batch size, retry ceiling, and news-source
// sizing.
type Config struct {
	BatchSize    int
	MaxRetries   int
	HNStoryLimit int
	HNTimeWindow time.Duration
}

// HandlerContext is the constructor-injected collaborator bundle every
// phase handler receives. It replaces a singleton-service pattern: the
// process entrypoint builds one HandlerContext at startup, and the Driver
// passes that same value on every tick to whichever handler the current
// phase dispatches to; it is not rebuilt per tick.
type HandlerContext struct {
	Store        *store.Store
	Budget       budget.Config
	News         collaborators.NewsClient
	ArticleFetch collaborators.ArticleFetcher
	Translate    collaborators.Translator
	Summarize    collaborators.Summarizer
	Filter       collaborators.Filter
	Publishers   []collaborators.Publisher
	Renderer     collaborators.Renderer
	Config       Config
}

// Outcome describes the visible result of a handler invocation, used by
// the Driver to build its per-tick structured log line.
type Outcome struct {
	Phase           store.Phase
	NextPhase       store.Phase
	ArticlesClaimed int
	ArticlesDone    int
	ArticlesFailed  int
	OutboundCalls   int
	Message         string
}
