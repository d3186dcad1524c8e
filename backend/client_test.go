package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandflow/sandflow/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Timeout: timeout,
	}, zerolog.Nop())
}

func TestRequest_DecodesResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sandboxID":"sbx-1"}`))
	}, 0)

	var out struct {
		SandboxID string `json:"sandboxID"`
	}
	err := client.Request(context.Background(), http.MethodPost, "/sandboxes", map[string]string{"templateID": "base"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "sbx-1", out.SandboxID)
}

func TestRequest_CustomAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "k", AuthHeader: "X-API-Key"}, zerolog.Nop())
	err := client.Request(context.Background(), http.MethodGet, "/sandboxes", nil, nil)
	require.NoError(t, err)
}

func TestRequest_ClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantCategory  types.ErrorCategory
		wantRetryable bool
	}{
		{"503 connection retryable", http.StatusServiceUnavailable, types.CategoryConnection, true},
		{"401 authentication", http.StatusUnauthorized, types.CategoryAuthentication, false},
		{"403 authentication", http.StatusForbidden, types.CategoryAuthentication, false},
		{"429 quota retryable", http.StatusTooManyRequests, types.CategoryQuota, true},
		{"404 api", http.StatusNotFound, types.CategoryAPI, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}, 0)

			err := client.Request(context.Background(), http.MethodGet, "/sandboxes", nil, nil)
			require.Error(t, err)

			fe, ok := types.AsFlowError(err)
			require.True(t, ok, "error must be a FlowError")
			assert.Equal(t, tt.wantCategory, fe.Category)
			assert.Equal(t, tt.wantRetryable, fe.Retryable)
			assert.Equal(t, tt.status, fe.Details["status"])
			assert.Equal(t, "/sandboxes", fe.Details["endpoint"])
		})
	}
}

func TestRequest_TimeoutIsConnectionError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}, 50*time.Millisecond)

	err := client.Request(context.Background(), http.MethodGet, "/sandboxes", nil, nil)
	require.Error(t, err)

	fe, ok := types.AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, types.CategoryConnection, fe.Category)
	assert.True(t, fe.Retryable)
	assert.Equal(t, "request_timeout", fe.Code)
}

func TestRequest_TransportErrorIsConnection(t *testing.T) {
	// Point at a closed server to force a dial failure.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(Config{BaseURL: url}, zerolog.Nop())
	err := client.Request(context.Background(), http.MethodGet, "/health", nil, nil)
	require.Error(t, err)

	fe, ok := types.AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, types.CategoryConnection, fe.Category)
	assert.True(t, fe.Retryable)
}

func TestRequest_MalformedJSONIsAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}, 0)

	var out map[string]any
	err := client.Request(context.Background(), http.MethodGet, "/sandboxes", nil, &out)
	require.Error(t, err)

	fe, ok := types.AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, types.CategoryAPI, fe.Category)
	assert.False(t, fe.Retryable)
}
