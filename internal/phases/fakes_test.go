package phases

import (
	"context"
	"errors"
	"time"

	"github.com/taskbot/daily-digest/internal/collaborators"
)

type fakeNews struct {
	stories     []collaborators.Story
	comment     string
	commentErr  error
	storiesErr  error
}

func (f *fakeNews) TopStories(_ context.Context, limit int, _, _ time.Time) ([]collaborators.Story, error) {
	if f.storiesErr != nil {
		return nil, f.storiesErr
	}
	if limit < len(f.stories) {
		return f.stories[:limit], nil
	}
	return f.stories, nil
}

func (f *fakeNews) TopComment(_ context.Context, _ int64) (string, error) {
	return f.comment, f.commentErr
}

type fakeFetcher struct {
	content string
	err     error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string) (collaborators.FetchedArticle, error) {
	if f.err != nil {
		return collaborators.FetchedArticle{}, f.err
	}
	return collaborators.FetchedArticle{Title: "title", Content: f.content}, nil
}

type fakeTranslator struct {
	batchOut []string
	batchErr error
	single   string
}

func (f *fakeTranslator) TranslateTitles(_ context.Context, titles []string) ([]string, error) {
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	if f.batchOut != nil {
		return f.batchOut, nil
	}
	out := make([]string, len(titles))
	for i := range titles {
		out[i] = "译" + titles[i]
	}
	return out, nil
}

func (f *fakeTranslator) TranslateTitle(_ context.Context, title string) (string, error) {
	if f.single != "" {
		return f.single, nil
	}
	return "译" + title, nil
}

type fakeSummarizer struct{}

func (fakeSummarizer) SummarizeContent(_ context.Context, content string) (string, error) {
	return "摘要:" + content, nil
}

func (fakeSummarizer) SummarizeComment(_ context.Context, comment string) (string, error) {
	return "评论摘要:" + comment, nil
}

type fakeFilter struct {
	keep int
}

func (f fakeFilter) Apply(_ context.Context, stories []collaborators.Story) ([]collaborators.Story, error) {
	if f.keep <= 0 || f.keep >= len(stories) {
		return stories, nil
	}
	return stories[:f.keep], nil
}

type fakeRenderer struct{}

func (fakeRenderer) Render(_ time.Time, articles []collaborators.RenderedArticle) ([]byte, error) {
	return []byte("rendered"), nil
}

type fakePublisher struct {
	name string
	err  error
	hits int
}

func (f *fakePublisher) Name() string { return f.name }

func (f *fakePublisher) Publish(_ context.Context, _ time.Time, _ []byte) error {
	f.hits++
	return f.err
}

var errFakePublish = errors.New("publish failed")
