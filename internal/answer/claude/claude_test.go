package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateJoinsTextBlocks(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "k", r.Header.Get("X-Api-Key"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"First. "},{"type":"text","text":"Second."}],
			"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":2}
		}`))
	}))
	t.Cleanup(srv.Close)

	gen, err := New(Config{APIKey: "k", Model: "claude-test", BaseURL: srv.URL})
	require.NoError(t, err)
	text, err := gen.Generate(context.Background(), "Why Go?")
	require.NoError(t, err)
	require.Equal(t, "First. Second.", text)
	require.Equal(t, "claude-test", got["model"])
	require.EqualValues(t, DefaultMaxTokens, got["max_tokens"])
}

func TestGenerateSurfacesAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	t.Cleanup(srv.Close)

	gen, err := New(Config{APIKey: "k", Model: "claude-test", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = gen.Generate(context.Background(), "Why Go?")
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Model: "m"})
	require.Error(t, err)
	_, err = New(Config{APIKey: "k"})
	require.Error(t, err)
}
