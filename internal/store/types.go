package store

import "time"

// Phase is a DailyTask's position in its lifecycle. Transitions are
// monotonic except Aggregating -> Aggregating (publisher retry).
type Phase string

const (
	PhaseInit        Phase = "Init"
	PhaseListFetched Phase = "ListFetched"
	PhaseProcessing  Phase = "Processing"
	PhaseAggregating Phase = "Aggregating"
	PhasePublished   Phase = "Published"
	PhaseArchived    Phase = "Archived"
)

// ArticleStatus is an Article's position in its lifecycle. pending ->
// processing -> {completed, failed}; failed -> pending only via retry.
type ArticleStatus string

const (
	StatusPending    ArticleStatus = "pending"
	StatusProcessing ArticleStatus = "processing"
	StatusCompleted  ArticleStatus = "completed"
	StatusFailed     ArticleStatus = "failed"
)

// BatchStatus summarises the outcome of one executed ProcessBatch run.
type BatchStatus string

const (
	BatchSuccess BatchStatus = "success"
	BatchPartial BatchStatus = "partial"
	BatchFailed  BatchStatus = "failed"
)

// DailyTask is one row per calendar day (UTC).
type DailyTask struct {
	TaskDate         string // YYYY-MM-DD, UTC
	Phase            Phase
	TotalArticles    int
	CompletedArticles int
	FailedArticles   int
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PublishedAt      *time.Time
}

// Article is one row per story in a day's workload.
type Article struct {
	ID            int64
	TaskDate      string
	StoryID       int64
	Rank          int
	URL           string
	TitleEn       string
	TitleZh       *string
	Score         int
	PublishedTime time.Time

	ContentSummaryZh *string
	CommentSummaryZh *string

	Status       ArticleStatus
	ErrorMessage *string
	RetryCount   int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsEnriched reports whether all three enrichment outputs are populated, the
// precondition for transitioning an Article to completed.
func (a *Article) IsEnriched() bool {
	return a.TitleZh != nil && *a.TitleZh != "" &&
		a.ContentSummaryZh != nil && *a.ContentSummaryZh != "" &&
		a.CommentSummaryZh != nil && *a.CommentSummaryZh != ""
}

// BatchRecord is one append-only row per executed ProcessBatch run, kept for
// observability; it is never mutated after insert.
type BatchRecord struct {
	TaskDate               string
	BatchIndex             int
	ArticleCount           int
	EstimatedOutboundCalls int
	DurationMs             int64
	Status                 BatchStatus
	ErrorMessage           *string
	CreatedAt              time.Time
}

// ArticleUpdate is the per-article outcome CompleteArticles writes back in a
// single transaction after a batch finishes.
type ArticleUpdate struct {
	ID               int64
	Status           ArticleStatus // completed or failed
	TitleZh          string
	ContentSummaryZh string
	CommentSummaryZh string
	ErrorMessage     string
}

// Progress is the read model behind GetProgress and the status endpoint.
type Progress struct {
	Task           DailyTask
	PendingCount    int
	ProcessingCount int
	CompletedCount  int
	FailedCount     int
}
