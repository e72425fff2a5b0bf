package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskbot/daily-digest/internal/collaborators"
)

func stories(titles ...string) []collaborators.Story {
	out := make([]collaborators.Story, len(titles))
	for i, t := range titles {
		out[i] = collaborators.Story{TitleEn: t}
	}
	return out
}

func TestNoopFilter_PassesEverythingThrough(t *testing.T) {
	in := stories("Show HN: a thing", "Ask HN: another thing")
	out, err := NoopFilter{}.Apply(t.Context(), in)
	assert.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestKeywordFilter_DropsMatchingTitlesCaseInsensitively(t *testing.T) {
	f := NewKeywordFilter([]string{"casino"})
	in := stories("Online Casino Launches", "A New Database Engine", "CASINO Royale Review")

	out, err := f.Apply(t.Context(), in)
	assert.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, "A New Database Engine", out[0].TitleEn)
}

func TestKeywordFilter_EmptyDenylistKeepsEverything(t *testing.T) {
	f := NewKeywordFilter(nil)
	in := stories("Anything at all")

	out, err := f.Apply(t.Context(), in)
	assert.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestKeywordFilter_DeterministicForSameInput(t *testing.T) {
	f := NewKeywordFilter([]string{"spam"})
	in := stories("Spam detector", "Clean title", "more SPAM here")

	out1, err := f.Apply(t.Context(), in)
	assert.NoError(t, err)
	out2, err := f.Apply(t.Context(), in)
	assert.NoError(t, err)
	assert.Equal(t, out1, out2)
}
