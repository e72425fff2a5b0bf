// Package collaborators declares the interfaces Phase Handlers depend on.
// Each concrete implementation lives in its own subpackage and is wired into
// a HandlerContext by the Driver at startup; handlers never import a
// concrete collaborator package directly.
package collaborators

import (
	"context"
	"time"
)

// Story is one candidate entry returned by the news aggregator client,
// before it becomes a store.Article.
type Story struct {
	StoryID       int64
	Rank          int
	URL           string
	TitleEn       string
	Score         int
	PublishedTime time.Time
}

// NewsClient fetches candidate stories from the public news aggregator.
type NewsClient interface {
	// TopStories returns up to limit stories whose PublishedTime falls
	// within [since, until).
	TopStories(ctx context.Context, limit int, since, until time.Time) ([]Story, error)
	// TopComment returns the text of the story's top comment, or "" if the
	// story has no comments.
	TopComment(ctx context.Context, storyID int64) (string, error)
}

// FetchedArticle is the result of retrieving and extracting a story's
// linked page.
type FetchedArticle struct {
	Title   string
	Content string
}

// ArticleFetcher retrieves and extracts the readable content of a story's
// linked page.
type ArticleFetcher interface {
	Fetch(ctx context.Context, url string) (FetchedArticle, error)
}

// Translator translates English text to Chinese.
type Translator interface {
	// TranslateTitles translates a batch of English titles in one call.
	// Returns a slice parallel to titles; a shorter or mismatched
	// response is a caller-level batch failure.
	TranslateTitles(ctx context.Context, titles []string) ([]string, error)
	// TranslateTitle translates a single title, used for the inline
	// fallback when the batch pre-translation was skipped or failed.
	TranslateTitle(ctx context.Context, title string) (string, error)
}

// Summarizer produces Chinese-language summaries of fetched content.
type Summarizer interface {
	SummarizeContent(ctx context.Context, content string) (string, error)
	SummarizeComment(ctx context.Context, comment string) (string, error)
}

// Filter is the optional, pluggable content filter applied to candidate
// stories in FetchList. It MUST be deterministic for a given input set.
type Filter interface {
	Apply(ctx context.Context, stories []Story) ([]Story, error)
}

// RenderedArticle is one entry in the published digest, matching the
// Markdown artifact's per-article fields.
type RenderedArticle struct {
	Rank             int
	TitleZh          string
	TitleEn          string
	PublishedTime    time.Time
	URL              string
	ContentSummaryZh string
	CommentSummaryZh string
}

// Renderer produces the published Markdown artifact from rank-ordered
// completed articles.
type Renderer interface {
	Render(digestDate time.Time, articles []RenderedArticle) ([]byte, error)
}

// Publisher delivers the rendered artifact to one sink. Calls MUST be
// idempotent for the same digestDate.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, digestDate time.Time, artifact []byte) error
}
