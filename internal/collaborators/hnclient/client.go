// Package hnclient provides a client for the Hacker News Firebase API.
// See https://github.com/HackerNews/API for full documentation.
package hnclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/taskbot/daily-digest/internal/collaborators"
)

const (
	baseURL        = "https://hacker-news.firebaseio.com/v0"
	defaultTimeout = 10 * time.Second
)

// Client implements collaborators.NewsClient against the Hacker News API.
type Client struct {
	httpClient *http.Client
}

// New creates a new Hacker News client.
func New() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

var _ collaborators.NewsClient = (*Client)(nil)

type item struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Score int    `json:"score"`
	Time  int64  `json:"time"`
	Kids  []int64 `json:"kids"`
	Type  string `json:"type"`
	Text  string `json:"text"`
	Dead  bool   `json:"dead"`
	Deleted bool `json:"deleted"`
}

// TopStories fetches the id list for the "top stories" feed, then fetches
// each story's item record, filtering to those whose Time falls within
// [since, until) and truncating to limit after ranking by score.
func (c *Client) TopStories(ctx context.Context, limit int, since, until time.Time) ([]collaborators.Story, error) {
	var ids []int64
	if err := c.getJSON(ctx, baseURL+"/topstories.json", &ids); err != nil {
		return nil, fmt.Errorf("hnclient: fetch top story ids: %w", err)
	}

	var candidates []collaborators.Story
	for _, id := range ids {
		it, err := c.fetchItem(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("hnclient: fetch item %d: %w", id, err)
		}
		if it == nil || it.Dead || it.Deleted || it.Type != "story" || it.URL == "" {
			continue
		}

		published := time.Unix(it.Time, 0).UTC()
		if published.Before(since) || !published.Before(until) {
			continue
		}

		candidates = append(candidates, collaborators.Story{
			StoryID:       it.ID,
			URL:           it.URL,
			TitleEn:       it.Title,
			Score:         it.Score,
			PublishedTime: published,
		})

		if len(candidates) >= limit*3 {
			// topstories.json is already ranked; stop once we have a
			// healthy oversupply to rank and truncate from.
			break
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	for i := range candidates {
		candidates[i].Rank = i + 1
	}

	return candidates, nil
}

// TopComment returns the text of the first-listed top-level comment for a
// story, or "" if the story has none. HN comment items carry no score
// field in the public API, so "top" here means first-listed (the order the
// API itself already ranks kids in).
func (c *Client) TopComment(ctx context.Context, storyID int64) (string, error) {
	story, err := c.fetchItem(ctx, storyID)
	if err != nil {
		return "", fmt.Errorf("hnclient: fetch story %d: %w", storyID, err)
	}
	if story == nil || len(story.Kids) == 0 {
		return "", nil
	}

	comment, err := c.fetchItem(ctx, story.Kids[0])
	if err != nil {
		return "", fmt.Errorf("hnclient: fetch comment %d: %w", story.Kids[0], err)
	}
	if comment == nil || comment.Dead || comment.Deleted {
		return "", nil
	}
	return comment.Text, nil
}

func (c *Client) fetchItem(ctx context.Context, id int64) (*item, error) {
	var it item
	url := fmt.Sprintf("%s/item/%d.json", baseURL, id)
	if err := c.getJSON(ctx, url, &it); err != nil {
		return nil, err
	}
	if it.ID == 0 {
		return nil, nil
	}
	return &it, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("hnclient: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hnclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hnclient: unexpected status %d for %s", resp.StatusCode, url)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("hnclient: decode response: %w", err)
	}
	return nil
}
