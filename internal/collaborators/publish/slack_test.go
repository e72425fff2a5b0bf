package publish

import (
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
)

func TestBuildDigestBlocks_TruncatesLongArtifact(t *testing.T) {
	date := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}

	blocks := buildDigestBlocks(date, long)
	assert.Len(t, blocks, 2)

	body := blocks[1].(*slack.SectionBlock).Text.Text
	assert.True(t, strings.HasSuffix(body, "…\n```"))
	assert.NotContains(t, body, string(long))
}

func TestBuildDigestBlocks_ShortArtifactNotTruncated(t *testing.T) {
	date := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	blocks := buildDigestBlocks(date, []byte("short digest"))
	assert.Len(t, blocks, 2)
	assert.Equal(t, "```\nshort digest\n```", blocks[1].(*slack.SectionBlock).Text.Text)
}
