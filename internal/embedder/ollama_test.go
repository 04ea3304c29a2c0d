package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bowerhall/mira/internal/apperr"
)

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write([]byte(`{"models":[]}`))
		case "/api/embeddings":
			var req ollamaRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "nomic-embed-text", req.Model)
			json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{0.1, 0.2, 0.3}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	svc, err := New(Config{Provider: "ollama", BaseURL: srv.URL, Dimension: 3})
	require.NoError(t, err)

	vec, err := svc.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestOllamaErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			return
		}
		http.Error(w, "model not found", http.StatusNotFound)
	}))

	svc, err := New(Config{Provider: "ollama", BaseURL: srv.URL, Dimension: 3})
	require.NoError(t, err)

	_, err = svc.Embed(context.Background(), "hello")
	assert.True(t, apperr.IsKind(err, apperr.KindExternalService))

	srv.Close()

	unreachable, err := New(Config{Provider: "ollama", BaseURL: srv.URL, Dimension: 3})
	require.NoError(t, err)
	_, err = unreachable.Embed(context.Background(), "hello")
	assert.True(t, apperr.IsKind(err, apperr.KindNetwork))
}
