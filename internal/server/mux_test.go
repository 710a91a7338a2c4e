package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexjbarnes/chat-sync/internal/auth"
	"github.com/alexjbarnes/chat-sync/internal/logging"
	"github.com/alexjbarnes/chat-sync/internal/metrics"
)

const testKey = "cs_0123456789abcdef0123456789abcdef"

func testMux(keys ...auth.APIKey) *http.ServeMux {
	mcpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mcp:" + auth.RequestUserID(r.Context())))
	})

	return NewMux(MuxConfig{
		Keys:       auth.NewStore(keys),
		MCPHandler: mcpHandler,
		Metrics:    metrics.New(func() int { return 2 }).Handler(),
		Health: func() Health {
			return Health{Status: "ok", UserID: "alice", Connected: true, ActiveControllers: 2}
		},
		Logger: logging.Discard(),
	})
}

func do(mux http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	return rec
}

// --- /healthz ---

func TestHealthz(t *testing.T) {
	rec := do(testMux(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var h Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "alice", h.UserID)
	assert.True(t, h.Connected)
	assert.Equal(t, 2, h.ActiveControllers)
}

func TestHealthz_Unhealthy(t *testing.T) {
	mux := NewMux(MuxConfig{
		Health: func() Health { return Health{Status: "logged_out"} },
		Logger: logging.Discard(),
	})

	rec := do(mux, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthz_WrongMethod(t *testing.T) {
	rec := do(testMux(), http.MethodPost, "/healthz", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// --- /metrics ---

func TestMetrics(t *testing.T) {
	rec := do(testMux(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatsync_active_channels 2")
}

// --- /mcp ---

func TestMCP_RequiresKey(t *testing.T) {
	mux := testMux(auth.APIKey{UserID: "alice", Key: testKey})

	rec := do(mux, http.MethodPost, "/mcp", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(mux, http.MethodPost, "/mcp", testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mcp:alice", rec.Body.String())
}

func TestMCP_NotMountedWithoutKeys(t *testing.T) {
	rec := do(testMux(), http.MethodPost, "/mcp", testKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
