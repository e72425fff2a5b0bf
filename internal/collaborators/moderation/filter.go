// Package moderation provides the optional, pluggable content filter
// applied to candidate stories during FetchList.
package moderation

import (
	"context"
	"strings"

	"github.com/taskbot/daily-digest/internal/collaborators"
)

// NoopFilter passes every story through unchanged. It is the default filter
// when no moderation policy is configured.
type NoopFilter struct{}

var _ collaborators.Filter = NoopFilter{}

// Apply returns stories unmodified.
func (NoopFilter) Apply(_ context.Context, stories []collaborators.Story) ([]collaborators.Story, error) {
	return stories, nil
}

// KeywordFilter drops stories whose title contains any of a configured set
// of deny-listed substrings, case-insensitively. Deterministic for a given
// input set, as required by spec: the same stories in the same order
// always produce the same subset.
type KeywordFilter struct {
	denylist []string
}

var _ collaborators.Filter = (*KeywordFilter)(nil)

// NewKeywordFilter builds a KeywordFilter from a deny-list of substrings.
// Entries are lower-cased once at construction time.
func NewKeywordFilter(denylist []string) *KeywordFilter {
	lowered := make([]string, len(denylist))
	for i, w := range denylist {
		lowered[i] = strings.ToLower(w)
	}
	return &KeywordFilter{denylist: lowered}
}

// Apply returns the subset of stories whose title does not match any
// deny-listed substring.
func (f *KeywordFilter) Apply(_ context.Context, stories []collaborators.Story) ([]collaborators.Story, error) {
	if len(f.denylist) == 0 {
		return stories, nil
	}

	kept := make([]collaborators.Story, 0, len(stories))
	for _, s := range stories {
		if !f.matchesDenylist(s.TitleEn) {
			kept = append(kept, s)
		}
	}
	return kept, nil
}

func (f *KeywordFilter) matchesDenylist(title string) bool {
	lowered := strings.ToLower(title)
	for _, w := range f.denylist {
		if strings.Contains(lowered, w) {
			return true
		}
	}
	return false
}
