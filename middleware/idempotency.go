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

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	// IdempotencyHeader carries the client-chosen key of a retryable request.
	IdempotencyHeader = "Idempotency-Key"

	// IdempotencyHitHeader is set on responses served from the cache.
	IdempotencyHitHeader = "X-Idempotency-Hit"

	// IdempotencyCacheTTL is how long a completed response can be replayed.
	IdempotencyCacheTTL = 24 * time.Hour

	// LockTimeout bounds how long a crashed request can hold its key.
	LockTimeout = 10 * time.Second

	RedisKeyPrefix = "idempotency:"
	LockKeyPrefix  = "lock:"
)

// storedResponse is the Redis value kept for a completed key.
type storedResponse struct {
	RequestHash string `json:"requestHash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
}

// Idempotency replays the stored response of a key that already completed a
// transfer. A key is bound to the SHA-256 of the first body sent with it: the
// same key with another body gets 422 and never reaches next.
//
// Only 2xx responses are stored. A rejected transfer wrote nothing, so the
// client may retry it under the same key.
func Idempotency(rdb *redis.Client, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			// Bookkeeping must survive a client disconnect.
			ctx := context.WithoutCancel(r.Context())
			log := logger.With(zap.String("idempotency_key", key), zap.String("request_id", GetRequestID(r.Context())))

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "unreadable_body", "Request body could not be read")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			hash := hashBody(body)

			stored, found, err := loadResponse(ctx, rdb, key)
			if err != nil {
				log.Error("idempotency lookup failed", zap.Error(err))
				writeJSONError(w, http.StatusInternalServerError, "internal", "Internal server error")
				return
			}
			if found {
				if stored.RequestHash != hash {
					log.Warn("idempotency key reused with a different body")
					writeJSONError(w, http.StatusUnprocessableEntity, "key_reused",
						"Idempotency-Key was already used for a different request")
					return
				}
				log.Info("idempotency cache hit")
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(IdempotencyHitHeader, "true")
				w.WriteHeader(stored.Status)
				w.Write(stored.Body)
				return
			}

			lockKey := LockKeyPrefix + key
			acquired, err := rdb.SetNX(ctx, lockKey, hash, LockTimeout).Result()
			if err != nil {
				log.Error("idempotency lock failed", zap.Error(err))
				writeJSONError(w, http.StatusInternalServerError, "internal", "Internal server error")
				return
			}
			if !acquired {
				log.Warn("idempotency key already in flight")
				writeJSONError(w, http.StatusConflict, "conflict", "A request with this idempotency key is currently being processed")
				return
			}
			defer func() {
				if err := rdb.Del(ctx, lockKey).Err(); err != nil {
					log.Error("idempotency unlock failed", zap.Error(err))
				}
			}()

			var captured bytes.Buffer
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&captured)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status < 200 || status >= 300 {
				return
			}
			resp := storedResponse{RequestHash: hash, Status: status, Body: captured.Bytes()}
			if err := saveResponse(ctx, rdb, key, resp); err != nil {
				log.Error("idempotency store failed", zap.Error(err))
			}
		})
	}
}

func hashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func loadResponse(ctx context.Context, rdb *redis.Client, key string) (storedResponse, bool, error) {
	raw, err := rdb.Get(ctx, RedisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return storedResponse{}, false, nil
	}
	if err != nil {
		return storedResponse{}, false, err
	}
	var resp storedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return storedResponse{}, false, err
	}
	return resp, true, nil
}

func saveResponse(ctx context.Context, rdb *redis.Client, key string, resp storedResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, RedisKeyPrefix+key, raw, IdempotencyCacheTTL).Err()
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
