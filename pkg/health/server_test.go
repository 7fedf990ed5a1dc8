package health

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHealth_ReportsStats(t *testing.T) {
	s := NewServer("127.0.0.1", 0, WithStats(func() interface{} {
		return map[string]int{"inbound_queued": 2}
	}))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	code, body := get(t, srv, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"status":"ok"`)
	assert.Contains(t, body, `"inbound_queued":2`)
}

func TestReady_FollowsFlagAndChecks(t *testing.T) {
	s := NewServer("127.0.0.1", 0)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	code, _ := get(t, srv, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	s.SetReady(true)
	s.RegisterCheck("store", func() error { return nil })
	code, body := get(t, srv, "/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"store":"ok"`)

	s.RegisterCheck("llm", func() error { return errors.New("no provider") })
	code, body = get(t, srv, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "no provider")
	assert.Contains(t, body, `"status":"degraded"`)
}

func TestMetrics_MountedWhenConfigured(t *testing.T) {
	s := NewServer("127.0.0.1", 0, WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "dotpersona_up 1\n")
	})))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	code, body := get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.HasPrefix(body, "dotpersona_up"))

	bare := httptest.NewServer(NewServer("127.0.0.1", 0).Handler())
	defer bare.Close()
	code, _ = get(t, bare, "/metrics")
	assert.Equal(t, http.StatusNotFound, code)
}
