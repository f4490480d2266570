package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestLive(t *testing.T) {
	h := NewHandler(time.Now().Add(-time.Minute), nil, func() uint64 { return 3 })
	rec := httptest.NewRecorder()
	h.Live(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp liveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.GreaterOrEqual(t, resp.UptimeSec, int64(59))
	assert.Equal(t, uint64(3), resp.DroppedEvents)
}

func TestReady(t *testing.T) {
	h := NewHandler(time.Now(), nil, nil)
	h.Check("redis", pingFunc(func(context.Context) error { return nil }))

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h.Check("postgres", pingFunc(func(context.Context) error { return errors.New("connection refused") }))
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp readyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_ready", resp.Status)
	require.Len(t, resp.Dependencies, 2)
	assert.Equal(t, "postgres", resp.Dependencies[0].Name)
	assert.False(t, resp.Dependencies[0].Reachable)
	assert.Equal(t, "connection refused", resp.Dependencies[0].Error)
	assert.True(t, resp.Dependencies[1].Reachable)
}
