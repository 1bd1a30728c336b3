package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rideflow/internal/config"
	"rideflow/internal/logging"
)

func TestNewRouter_RegistersRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter(RouterDeps{Log: logging.Discard()})

	registered := make(map[string]bool)
	for _, r := range router.Routes() {
		registered[r.Method+" "+r.Path] = true
	}

	for _, want := range []string{
		"GET /health",
		"POST /v1/rides",
		"GET /v1/rides/:id",
		"POST /v1/rides/:id/cancel",
		"POST /v1/rides/:id/events",
		"GET /v1/rides/:id/events",
		"POST /v1/rides/:id/settle",
		"GET /v1/rides/:id/receipt",
		"POST /v1/fares/quote",
		"POST /v1/drivers",
		"GET /v1/drivers/nearby",
		"POST /v1/drivers/:id/location",
		"PUT /v1/drivers/:id/availability",
		"GET /v1/payments/:id",
		"POST /v1/payments/:id/refund",
		"GET /v1/events/ws",
	} {
		assert.True(t, registered[want], "missing route %s", want)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestNewRedisClient(t *testing.T) {
	ctx := context.Background()

	client, err := NewRedisClient(ctx, config.RedisConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.Nil(t, client)

	mr := miniredis.RunT(t)
	client, err = NewRedisClient(ctx, config.RedisConfig{Enabled: true, Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Set(ctx, "k", "v", 0).Err())
	mr.CheckGet(t, "k", "v")

	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisClient(ctx, config.RedisConfig{Enabled: true, Addr: addr}, nil)
	assert.Error(t, err)
}

func TestDatastoreHook_WithoutTransaction(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	client, err := NewRedisClient(ctx, config.RedisConfig{Enabled: true, Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	client.AddHook(datastoreHook{})

	require.NoError(t, client.Set(ctx, "ride:1", "x", 0).Err())
	_, err = client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Get(ctx, "ride:1")
		return nil
	})
	require.NoError(t, err)
}
