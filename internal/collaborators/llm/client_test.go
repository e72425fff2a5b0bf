package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateTitles_ParallelLinesMatchInput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(completionResponse{Completion: "你好\n世界\n"})
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "test-key"})
	out, err := client.TranslateTitles(context.Background(), []string{"Hello", "World"})
	require.NoError(t, err)
	assert.Equal(t, []string{"你好", "世界"}, out)
}

func TestTranslateTitles_MismatchedLineCountIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completionResponse{Completion: "你好\n"})
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	_, err := client.TranslateTitles(context.Background(), []string{"Hello", "World"})
	require.Error(t, err)
}

func TestComplete_NonOKStatusReturnsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("rate limited"))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	_, err := client.SummarizeContent(context.Background(), "some content")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
}
