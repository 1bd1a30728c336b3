package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
	inFlightTTL       = 30 * time.Second
	replayedHeader    = "Idempotent-Replayed"
)

// storedResponse is what a replay serves back.
type storedResponse struct {
	Fingerprint string          `json:"fingerprint"`
	StatusCode  int             `json:"status_code"`
	ContentType string          `json:"content_type,omitempty"`
	Body        []byte          `json:"body"`
}

// recorder tees the response body while it is written.
type recorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *recorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// IdempotencyMiddleware replays the stored response of a POST carrying an
// Idempotency-Key seen in the last 24 hours. A key reused with a different
// body is rejected with 422, and a duplicate arriving while the first request
// is still running gets 409. A nil client disables it; Redis errors fail open.
func IdempotencyMiddleware(redisClient *redis.Client, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if redisClient == nil || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		key := c.GetHeader(idempotencyHeader)
		if key == "" {
			c.Next()
			return
		}
		logger := log.WithFields(logrus.Fields{"idempotency_key": key, "route": c.FullPath()})

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		ctx := c.Request.Context()
		// Keys are scoped by route so one key cannot replay another endpoint.
		storeKey := "idempotency:" + c.FullPath() + ":" + key
		fingerprint := requestFingerprint(c.Request.Method, c.Request.URL.Path, body)

		stored, err := loadResponse(ctx, redisClient, storeKey)
		switch {
		case err != nil && !errors.Is(err, redis.Nil):
			logger.WithError(err).Warn("idempotency lookup failed, serving request")
			c.Next()
			return
		case stored != nil && stored.Fingerprint != fingerprint:
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "idempotency key reused with a different request"})
			return
		case stored != nil:
			c.Header(replayedHeader, "true")
			c.Data(stored.StatusCode, stored.ContentType, stored.Body)
			c.Abort()
			return
		}

		lockKey := storeKey + ":inflight"
		acquired, err := redisClient.SetNX(ctx, lockKey, fingerprint, inFlightTTL).Result()
		if err != nil {
			logger.WithError(err).Warn("idempotency reservation failed, serving request")
			c.Next()
			return
		}
		if !acquired {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "a request with this idempotency key is in progress"})
			return
		}
		// The request context may already be done when the handler returns.
		defer redisClient.Del(context.WithoutCancel(ctx), lockKey)

		w := &recorder{ResponseWriter: c.Writer}
		c.Writer = w

		c.Next()

		// Server errors are not stored so the client can retry.
		if status := w.Status(); status >= 200 && status < 500 {
			resp := storedResponse{
				Fingerprint: fingerprint,
				StatusCode:  status,
				ContentType: w.Header().Get("Content-Type"),
				Body:        w.body.Bytes(),
			}
			if err := saveResponse(context.WithoutCancel(ctx), redisClient, storeKey, &resp); err != nil {
				logger.WithError(err).Warn("failed to store idempotent response")
			}
		}
	}
}

func requestFingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func loadResponse(ctx context.Context, client *redis.Client, key string) (*storedResponse, error) {
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	var stored storedResponse
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

func saveResponse(ctx context.Context, client *redis.Client, key string, resp *storedResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, data, idempotencyTTL).Err()
}
