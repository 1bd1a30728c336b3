package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func countingRouter(client *redis.Client, calls *atomic.Int32) *gin.Engine {
	log, _ := test.NewNullLogger()
	r := gin.New()
	r.Use(IdempotencyMiddleware(client, log))
	r.POST("/v1/rides", func(c *gin.Context) {
		n := calls.Add(1)
		c.JSON(http.StatusCreated, gin.H{"call": n})
	})
	r.POST("/v1/rides/:id/settle", func(c *gin.Context) {
		calls.Add(1)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "psp down"})
	})
	return r
}

func post(r http.Handler, path, key string) *httptest.ResponseRecorder {
	return postBody(r, path, key, `{}`)
}

func postBody(r http.Handler, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyMiddleware_ReplaysStoredResponse(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	var calls atomic.Int32
	r := countingRouter(client, &calls)

	first := post(r, "/v1/rides", "key-1")
	require.Equal(t, http.StatusCreated, first.Code)
	assert.JSONEq(t, `{"call":1}`, first.Body.String())

	second := post(r, "/v1/rides", "key-1")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, `{"call":1}`, second.Body.String())
	assert.Equal(t, "true", second.Header().Get(replayedHeader))
	assert.Contains(t, second.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, int32(1), calls.Load())

	third := post(r, "/v1/rides", "key-2")
	assert.JSONEq(t, `{"call":2}`, third.Body.String())
}

func TestIdempotencyMiddleware_KeyReusedWithDifferentBody(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	var calls atomic.Int32
	r := countingRouter(client, &calls)

	first := postBody(r, "/v1/rides", "key-1", `{"rider_id":"rider-1"}`)
	require.Equal(t, http.StatusCreated, first.Code)

	second := postBody(r, "/v1/rides", "key-1", `{"rider_id":"rider-2"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, second.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestIdempotencyMiddleware_DuplicateInFlight(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	var calls atomic.Int32
	r := countingRouter(client, &calls)

	require.NoError(t, mr.Set("idempotency:/v1/rides:key-1:inflight", "other"))

	w := post(r, "/v1/rides", "key-1")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Zero(t, calls.Load())

	mr.Del("idempotency:/v1/rides:key-1:inflight")
	w = post(r, "/v1/rides", "key-1")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.False(t, mr.Exists("idempotency:/v1/rides:key-1:inflight"))
}

func TestIdempotencyMiddleware_WithoutKeyAlwaysServes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	var calls atomic.Int32
	r := countingRouter(client, &calls)

	post(r, "/v1/rides", "")
	post(r, "/v1/rides", "")
	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotencyMiddleware_ServerErrorsNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	var calls atomic.Int32
	r := countingRouter(client, &calls)

	post(r, "/v1/rides/r-1/settle", "key-1")
	w := post(r, "/v1/rides/r-1/settle", "key-1")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, w.Header().Get(replayedHeader))
	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotencyMiddleware_RedisDownServesRequest(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	var calls atomic.Int32
	r := countingRouter(client, &calls)
	mr.Close()

	w := post(r, "/v1/rides", "key-1")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestIdempotencyMiddleware_NilClientIsNoop(t *testing.T) {
	var calls atomic.Int32
	r := countingRouter(nil, &calls)

	post(r, "/v1/rides", "key-1")
	post(r, "/v1/rides", "key-1")
	assert.Equal(t, int32(2), calls.Load())
}

func TestRequestLogger_LevelFollowsStatus(t *testing.T) {
	log, hook := test.NewNullLogger()
	r := gin.New()
	r.Use(RequestLogger(log))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/missing/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/boom", func(c *gin.Context) {
		_ = c.Error(assert.AnError)
		c.Status(http.StatusInternalServerError)
	})

	tests := []struct {
		path  string
		level logrus.Level
	}{
		{path: "/ok", level: logrus.InfoLevel},
		{path: "/missing/r-1", level: logrus.WarnLevel},
		{path: "/boom", level: logrus.ErrorLevel},
	}

	for _, tt := range tests {
		hook.Reset()
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))
		entry := hook.LastEntry()
		require.NotNil(t, entry, tt.path)
		assert.Equal(t, tt.level, entry.Level, tt.path)
		assert.Equal(t, tt.path, entry.Data["path"])
	}

	hook.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing/r-2", nil))
	assert.Equal(t, "/missing/:id", hook.LastEntry().Data["route"])

	hook.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, assert.AnError, hook.LastEntry().Data[logrus.ErrorKey])
}

func TestTransactionAttributes_NoTransaction(t *testing.T) {
	r := gin.New()
	r.Use(TransactionAttributes())
	r.GET("/v1/rides/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/rides/r-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
