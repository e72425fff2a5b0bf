package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbot/daily-digest/internal/collaborators"
)

func TestRender_OrdersArticlesAndIncludesFrontMatter(t *testing.T) {
	digestDate := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	articles := []collaborators.RenderedArticle{
		{
			Rank:             1,
			TitleZh:          "第一条",
			TitleEn:          "First story",
			PublishedTime:    time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC),
			URL:              "https://example.com/1",
			ContentSummaryZh: "内容摘要",
			CommentSummaryZh: "评论摘要",
		},
		{
			Rank:          2,
			TitleZh:       "第二条",
			TitleEn:       "Second story",
			PublishedTime: time.Date(2026, 7, 30, 13, 0, 0, 0, time.UTC),
			URL:           "https://example.com/2",
		},
	}

	r := New()
	out, err := r.Render(digestDate, articles)
	require.NoError(t, err)

	body := string(out)
	assert.Contains(t, body, "layout: daily-digest")
	assert.Contains(t, body, "date: 2026-07-30")
	assert.Contains(t, body, "## 1. 第一条")
	assert.Contains(t, body, "## 2. 第二条")
	assert.Contains(t, body, "2026-07-30 12:00:00 UTC")
	assert.Contains(t, body, "内容摘要")
	assert.Contains(t, body, "> 评论摘要")
	assert.True(t, indexOf(body, "第一条") < indexOf(body, "第二条"))
}

func TestRender_OmitsOptionalCommentSummary(t *testing.T) {
	digestDate := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	articles := []collaborators.RenderedArticle{
		{Rank: 1, TitleZh: "标题", TitleEn: "Title", URL: "https://example.com"},
	}

	r := New()
	out, err := r.Render(digestDate, articles)
	require.NoError(t, err)
	assert.NotContains(t, string(out), ">")
}

func TestFilename_UsesDigestDate(t *testing.T) {
	digestDate := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-07-30-daily.md", Filename(digestDate))
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
