package tts

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperwave/paperwave/pkg/environment"
)

func TestHuggingFaceSynthesize(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/nari-labs/Dia-1.6B", r.URL.Path)
		assert.Equal(t, "Bearer token123", r.Header.Get("Authorization"))
		assert.Equal(t, "audio/mpeg", r.Header.Get("Accept"))

		var payload map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Hello.", payload["inputs"])

		_, _ = w.Write([]byte("mp3bytes"))
	}))
	defer srv.Close()

	h := NewHuggingFace(staticEnv{"HUGGINGFACE_API_TOKEN": "token123"})
	h.client = srv.Client()
	h.baseURL = srv.URL + "/"

	audio, err := h.Synthesize(t.Context(), "Hello.", "")
	require.NoError(t, err)
	assert.Equal(t, "mp3bytes", string(audio))
}

func TestHuggingFaceModelLoading(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Model nari-labs/Dia-1.6B is currently loading"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := NewHuggingFace(staticEnv{"HF_TOKEN": "token123"})
	h.client = srv.Client()
	h.baseURL = srv.URL + "/"

	_, err := h.Synthesize(t.Context(), "Hello.", "")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindTransient, perr.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, perr.Status)
	assert.True(t, perr.Retryable())
}

func TestHuggingFaceMissingToken(t *testing.T) {
	t.Parallel()

	h := NewHuggingFace(staticEnv{})

	_, err := h.Synthesize(t.Context(), "Hello.", "")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindAuthFailure, perr.Kind)

	var envErr *environment.RequiredEnvError
	assert.ErrorAs(t, err, &envErr)
}
