package capability

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhisperHTTPTranscriber(t *testing.T) {
	t.Run("successful transcription", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/whisper/transcribe" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "ggml-small", r.FormValue("model"))
			assert.Equal(t, "en", r.FormValue("language"))
			assert.Equal(t, "json", r.FormValue("response_format"))
			f, _, err := r.FormFile("audio")
			require.NoError(t, err)
			data, _ := io.ReadAll(f)
			assert.Equal(t, "RIFF....WAVE", string(data))

			json.NewEncoder(w).Encode(map[string]any{
				"text":     " Hello world ",
				"language": "en",
				"duration": 2.8,
			})
		}))
		defer server.Close()

		tr := NewWhisperHTTPTranscriber(WhisperConfig{URL: server.URL, Model: "ggml-small", Language: "en"}, fastPolicy(1), nil)
		text, err := tr.Transcribe(context.Background(), []byte("RIFF....WAVE"))

		require.NoError(t, err)
		assert.Equal(t, "Hello world", text)
	})

	t.Run("falls back to segment text", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"segments": []map[string]any{
					{"text": " Hello", "start": 0.0, "end": 1.2},
					{"text": "world ", "start": 1.2, "end": 2.8},
				},
			})
		}))
		defer server.Close()

		tr := NewWhisperHTTPTranscriber(WhisperConfig{URL: server.URL}, fastPolicy(1), nil)
		text, err := tr.Transcribe(context.Background(), []byte("x"))

		require.NoError(t, err)
		assert.Equal(t, "Hello world", text)
	})

	t.Run("server error is retried then reported", func(t *testing.T) {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error": "internal server error"}`))
		}))
		defer server.Close()

		tr := NewWhisperHTTPTranscriber(WhisperConfig{URL: server.URL, Timeout: time.Second}, fastPolicy(2), nil)
		_, err := tr.Transcribe(context.Background(), []byte("x"))

		var terminal *TerminalError
		require.ErrorAs(t, err, &terminal)
		assert.Equal(t, 2, calls)
	})
}

func TestWhisperHTTPTranscriber_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/whisper/model" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	tr := NewWhisperHTTPTranscriber(WhisperConfig{URL: server.URL}, fastPolicy(1), nil)
	healthy, err := tr.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, healthy)
	assert.Equal(t, "go-whisper", tr.Name())

	server.Close()
	healthy, err = tr.HealthCheck(context.Background())
	assert.Error(t, err)
	assert.False(t, healthy)
}
