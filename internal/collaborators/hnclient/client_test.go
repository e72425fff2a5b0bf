package hnclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRoundTripper redirects all requests to the test server, since baseURL
// is a package constant.
type testRoundTripper struct {
	serverURL string
	transport http.RoundTripper
}

func (t *testRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = t.serverURL
	return t.transport.RoundTrip(req)
}

func newClientWithServer(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := New()
	client.httpClient = &http.Client{
		Transport: &testRoundTripper{
			serverURL: server.Listener.Addr().String(),
			transport: http.DefaultTransport,
		},
	}
	return client, server
}

func TestTopStories_FiltersByWindowAndRanksByScore(t *testing.T) {
	now := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	since := now.Add(-24 * time.Hour)

	items := map[int64]item{
		1: {ID: 1, Title: "In window, low score", URL: "https://a.example", Score: 10, Time: since.Add(time.Hour).Unix(), Type: "story"},
		2: {ID: 2, Title: "In window, high score", URL: "https://b.example", Score: 90, Time: since.Add(2 * time.Hour).Unix(), Type: "story"},
		3: {ID: 3, Title: "Too old", URL: "https://c.example", Score: 100, Time: since.Add(-time.Hour).Unix(), Type: "story"},
		4: {ID: 4, Title: "No URL (Ask HN)", Score: 50, Time: since.Add(3 * time.Hour).Unix(), Type: "story"},
	}

	client, server := newClientWithServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v0/topstories.json":
			json.NewEncoder(w).Encode([]int64{1, 2, 3, 4})
		default:
			id, err := parseItemID(r.URL.Path)
			require.NoError(t, err)
			json.NewEncoder(w).Encode(items[id])
		}
	})
	defer server.Close()

	stories, err := client.TopStories(context.Background(), 10, since, now)
	require.NoError(t, err)
	require.Len(t, stories, 2)
	assert.Equal(t, int64(2), stories[0].StoryID)
	assert.Equal(t, 1, stories[0].Rank)
	assert.Equal(t, int64(1), stories[1].StoryID)
	assert.Equal(t, 2, stories[1].Rank)
}

func TestTopComment_ReturnsFirstKid(t *testing.T) {
	client, server := newClientWithServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v0/item/1.json":
			json.NewEncoder(w).Encode(item{ID: 1, Kids: []int64{2, 3}})
		case "/v0/item/2.json":
			json.NewEncoder(w).Encode(item{ID: 2, Text: "first comment"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	defer server.Close()

	text, err := client.TopComment(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "first comment", text)
}

func TestTopComment_NoKidsReturnsEmpty(t *testing.T) {
	client, server := newClientWithServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(item{ID: 1})
	})
	defer server.Close()

	text, err := client.TopComment(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, text)
}

// parseItemID extracts the numeric id from a "/v0/item/<id>.json" path.
func parseItemID(path string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(path, "/v0/item/%d.json", &id)
	return id, err
}
