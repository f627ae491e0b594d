package capability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerClient_Run(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/runsync", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))

		var body struct {
			Input map[string]string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body.Input["text"])

		json.NewEncoder(w).Encode(WorkerResponse{ID: "job-1", Status: StatusCompleted, Output: json.RawMessage(`{"text":"Hello."}`)})
	}))
	defer server.Close()

	client := NewWorkerClient(WorkerConfig{Endpoint: server.URL + "/", Path: "runsync", Token: "secret-token"})
	var out textOutput
	err := client.Run(context.Background(), map[string]string{"text": "hello"}, &out)

	require.NoError(t, err)
	assert.Equal(t, "Hello.", out.Text)
}

func TestWorkerClient_PollsUntilCompleted(t *testing.T) {
	var polls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/run":
			json.NewEncoder(w).Encode(WorkerResponse{ID: "job-9", Status: StatusInQueue})
		case "/status/job-9":
			if atomic.AddInt32(&polls, 1) < 2 {
				json.NewEncoder(w).Encode(WorkerResponse{ID: "job-9", Status: StatusInProgress})
				return
			}
			json.NewEncoder(w).Encode(WorkerResponse{ID: "job-9", Status: StatusCompleted, Output: json.RawMessage(`{"text":"done"}`)})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewWorkerClient(WorkerConfig{Endpoint: server.URL, PollInterval: time.Millisecond})
	var out textOutput
	require.NoError(t, client.Run(context.Background(), map[string]string{}, &out))
	assert.Equal(t, "done", out.Text)
	assert.Equal(t, int32(2), polls)
}

func TestWorkerClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "rate limited with Retry-After",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "12")
				w.WriteHeader(http.StatusTooManyRequests)
			},
			check: func(t *testing.T, err error) {
				var remote *RemoteError
				require.ErrorAs(t, err, &remote)
				assert.True(t, remote.RateLimited())
				assert.Equal(t, 12*time.Second, remote.RetryAfter)
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "upstream exploded", http.StatusInternalServerError)
			},
			check: func(t *testing.T, err error) {
				var remote *RemoteError
				require.ErrorAs(t, err, &remote)
				assert.Equal(t, http.StatusInternalServerError, remote.StatusCode)
				assert.Contains(t, remote.Body, "upstream exploded")
			},
		},
		{
			name: "job failed",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(WorkerResponse{ID: "j", Status: StatusFailed, Error: "bad audio"})
			},
			check: func(t *testing.T, err error) {
				var jobErr *JobFailedError
				require.ErrorAs(t, err, &jobErr)
				assert.Equal(t, "bad audio", jobErr.Message)
			},
		},
		{
			name: "job timed out",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(WorkerResponse{ID: "j", Status: StatusTimedOut})
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrJobTimedOut)
			},
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html>gateway</html>"))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrMalformedResponse)
			},
		},
		{
			name: "output does not match",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(WorkerResponse{ID: "j", Status: StatusCompleted, Output: json.RawMessage(`[1,2]`)})
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrMalformedResponse)
			},
		},
		{
			name: "unknown status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(WorkerResponse{ID: "j", Status: "EXPLODED"})
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrMalformedResponse)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			var out textOutput
			err := NewWorkerClient(WorkerConfig{Endpoint: server.URL}).Run(context.Background(), map[string]string{}, &out)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestWorkerClient_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	ok, err := NewWorkerClient(WorkerConfig{Endpoint: server.URL}).HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = NewWorkerClient(WorkerConfig{Endpoint: server.URL + "/missing"}).HealthCheck(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}
