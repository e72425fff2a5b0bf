package publish

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRepoPublisher points a RepoPublisher at an httptest server instead
// of api.github.com, following go-github's own test harness convention.
func newTestRepoPublisher(t *testing.T, mux *http.ServeMux) *RepoPublisher {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := github.NewClient(nil)
	base, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base
	client.UploadURL = base

	return &RepoPublisher{client: client, owner: "acme", repo: "digests", branch: ""}
}

func TestRepoPublisher_PublishCreatesFileWhenAbsent(t *testing.T) {
	date := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	path := "digests/2026-07-31-daily.md"

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("/repos/acme/digests/contents/%s", path), func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			http.Error(w, "not found", http.StatusNotFound)
		case http.MethodPut:
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"content": {"sha": "abc123"}}`)
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	})

	p := newTestRepoPublisher(t, mux)
	err := p.Publish(t.Context(), date, []byte("# Daily Digest"))
	assert.NoError(t, err)
}

func TestRepoPublisher_PublishUpdatesExistingFile(t *testing.T) {
	date := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	path := "digests/2026-07-31-daily.md"

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("/repos/acme/digests/contents/%s", path), func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			fmt.Fprint(w, `{"sha": "existing-sha", "content": ""}`)
		case http.MethodPut:
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"content": {"sha": "new-sha"}}`)
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	})

	p := newTestRepoPublisher(t, mux)
	err := p.Publish(t.Context(), date, []byte("# Daily Digest v2"))
	assert.NoError(t, err)
}

func TestRepoPublisher_Name(t *testing.T) {
	p := &RepoPublisher{}
	assert.Equal(t, "github", p.Name())
}
