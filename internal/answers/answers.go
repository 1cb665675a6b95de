// Package answers caches extracted answers in redis
package answers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"qa-api/internal/metrics"
	"qa-api/internal/qa"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "v1:qa:answer:"

// store is the part of *redis.Client the cache needs.
type store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type Cache struct {
	rdb store
	ttl time.Duration
	log *zap.SugaredLogger
}

func NewCache(rdb store, ttl time.Duration, log *zap.SugaredLogger) *Cache {
	return &Cache{rdb: rdb, ttl: ttl, log: log}
}

// Key identifies a normalized request together with every option that can
// change its answer.
func Key(req qa.InferenceRequest, opts qa.Options) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%s\x00%t\x00%t\x00%d\x00",
		req.ModelID, req.ModelPath, req.MaxLength,
		opts.Strategy, opts.PadToMaxLength, opts.AllowSingleToken, opts.Candidates,
	)
	fmt.Fprintf(h, "%d:%s\x00%s", len(req.Question), req.Question, req.Context)
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached answer for key. A nil cache always misses.
func (c *Cache) Get(ctx context.Context, key string) (qa.AnswerResult, bool) {
	if c == nil {
		return qa.AnswerResult{}, false
	}
	raw, err := c.rdb.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		metrics.AnswerCache.WithLabelValues("miss").Inc()
		return qa.AnswerResult{}, false
	case err != nil:
		c.log.Warnw("Answer cache read failed", "key", key, "error", err)
		metrics.AnswerCache.WithLabelValues("error").Inc()
		return qa.AnswerResult{}, false
	}

	var res qa.AnswerResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		c.log.Errorw("Error unmarshalling cached answer", "key", key, "error", err)
		metrics.AnswerCache.WithLabelValues("error").Inc()
		return qa.AnswerResult{}, false
	}
	metrics.AnswerCache.WithLabelValues("hit").Inc()
	return res, true
}

// Set stores res under key. Failures are logged and otherwise ignored.
func (c *Cache) Set(ctx context.Context, key string, res qa.AnswerResult) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		c.log.Errorw("Error marshalling answer", "error", err)
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warnw("Answer cache write failed", "key", key, "error", err)
	}
}
