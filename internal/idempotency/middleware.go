package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	Header = "Idempotency-Key"

	CacheTTL    = 24 * time.Hour
	LockTimeout = 30 * time.Second

	keyPrefix  = "idempotency:"
	lockPrefix = "idempotency-lock:"

	maxKeyLength = 255
)

// bounds a single Redis round trip, never the wrapped handler
var redisTimeout = 2 * time.Second

type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rw *recorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recorder) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// Middleware replays the first 2xx response stored for an Idempotency-Key
// and rejects a concurrent request carrying the same key with 409. Requests
// without the header pass straight through. If Redis cannot be reached the
// request is served uncached.
func Middleware(rdb *redis.Client, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(Header)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				writeError(w, http.StatusBadRequest, "idempotency key too long")
				return
			}

			// keys are scoped per route so one key cannot replay another endpoint
			scope := r.Method + " " + r.URL.Path + ":" + key
			cacheKey := keyPrefix + scope
			lockKey := lockPrefix + scope

			// detached from the request so a client disconnect cannot leave the lock behind
			redisCtx := func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.WithoutCancel(r.Context()), redisTimeout)
			}

			ctx, cancel := redisCtx()
			raw, err := rdb.Get(ctx, cacheKey).Bytes()
			cancel()
			switch {
			case err == nil:
				var cached cachedResponse
				if err := json.Unmarshal(raw, &cached); err == nil {
					logger.Debugw("idempotency replay", "key", key, "path", r.URL.Path)
					if cached.ContentType != "" {
						w.Header().Set("Content-Type", cached.ContentType)
					}
					w.Header().Set("X-Idempotency-Hit", "true")
					w.WriteHeader(cached.Status)
					w.Write(cached.Body)
					return
				}
				logger.Warnw("discarding unreadable idempotency entry", "key", key)
			case !errors.Is(err, redis.Nil):
				logger.Warnw("idempotency cache unavailable, serving uncached", "key", key, "err", err)
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel = redisCtx()
			acquired, err := rdb.SetNX(ctx, lockKey, "processing", LockTimeout).Result()
			cancel()
			if err != nil {
				logger.Warnw("idempotency lock unavailable, serving uncached", "key", key, "err", err)
				next.ServeHTTP(w, r)
				return
			}
			if !acquired {
				writeError(w, http.StatusConflict, "a request with this idempotency key is already being processed")
				return
			}
			defer func() {
				ctx, cancel := redisCtx()
				defer cancel()
				if err := rdb.Del(ctx, lockKey).Err(); err != nil {
					logger.Warnw("release idempotency lock failed", "key", key, "err", err)
				}
			}()

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status < 200 || rec.status >= 300 {
				return
			}
			entry, err := json.Marshal(cachedResponse{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			})
			if err != nil {
				return
			}
			ctx, cancel = redisCtx()
			defer cancel()
			if err := rdb.Set(ctx, cacheKey, entry, CacheTTL).Err(); err != nil {
				logger.Warnw("store idempotent response failed", "key", key, "err", err)
			}
		})
	}
}

// same envelope as the API's own error responses
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": message,
		"status":  status,
	})
}
