package answers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"qa-api/internal/qa"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	readErr error
}

func newMemStore() *memStore {
	return &memStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memStore) Get(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return redis.NewStringResult("", m.readErr)
	}
	v, ok := m.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memStore) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		m.values[key] = string(v)
	case string:
		m.values[key] = v
	}
	m.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func request() qa.InferenceRequest {
	return qa.InferenceRequest{
		Question:  "When is the event?",
		Context:   "The event is on November 15, 2024.",
		MaxLength: 512,
		ModelID:   qa.DefaultModelName,
		ModelPath: qa.DefaultModelPath,
	}
}

func TestKeyIsStable(t *testing.T) {
	opts := qa.DefaultOptions()
	k := Key(request(), opts)
	assert.True(t, strings.HasPrefix(k, keyPrefix))
	assert.Len(t, strings.TrimPrefix(k, keyPrefix), 64)
	assert.Equal(t, k, Key(request(), opts))
}

func TestKeyChangesWithInputs(t *testing.T) {
	opts := qa.DefaultOptions()
	base := Key(request(), opts)

	mutations := map[string]func(*qa.InferenceRequest, *qa.Options){
		"question":     func(r *qa.InferenceRequest, _ *qa.Options) { r.Question += "?" },
		"context":      func(r *qa.InferenceRequest, _ *qa.Options) { r.Context += " Later." },
		"max length":   func(r *qa.InferenceRequest, _ *qa.Options) { r.MaxLength = 128 },
		"model id":     func(r *qa.InferenceRequest, _ *qa.Options) { r.ModelID = "other" },
		"model path":   func(r *qa.InferenceRequest, _ *qa.Options) { r.ModelPath = "other.onnx" },
		"single token": func(_ *qa.InferenceRequest, o *qa.Options) { o.AllowSingleToken = true },
		"strategy":     func(_ *qa.InferenceRequest, o *qa.Options) { o.Strategy = qa.OnlySecond },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			req, opts := request(), qa.DefaultOptions()
			mutate(&req, &opts)
			assert.NotEqual(t, base, Key(req, opts))
		})
	}
}

func TestKeySeparatesQuestionFromContext(t *testing.T) {
	opts := qa.DefaultOptions()
	a, b := request(), request()
	a.Question, a.Context = "ab", "c"
	b.Question, b.Context = "a", "bc"
	assert.NotEqual(t, Key(a, opts), Key(b, opts))
}

func TestCacheRoundTrip(t *testing.T) {
	s := newMemStore()
	c := NewCache(s, time.Minute, zap.NewNop().Sugar())
	ctx := context.Background()
	key := Key(request(), qa.DefaultOptions())

	_, ok := c.Get(ctx, key)
	assert.False(t, ok)

	c.Set(ctx, key, qa.AnswerResult{Answer: "November 15, 2024", Score: 6.875})
	res, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "November 15, 2024", res.Answer)
	assert.InDelta(t, 6.875, res.Score, 1e-9)
	assert.Equal(t, time.Minute, s.ttls[key])
}

func TestCacheTreatsFailuresAsMisses(t *testing.T) {
	s := newMemStore()
	c := NewCache(s, time.Minute, zap.NewNop().Sugar())
	ctx := context.Background()

	s.values["corrupt"] = "{not json"
	_, ok := c.Get(ctx, "corrupt")
	assert.False(t, ok)

	s.readErr = errors.New("connection refused")
	_, ok = c.Get(ctx, "anything")
	assert.False(t, ok)
}

func TestNilCache(t *testing.T) {
	var c *Cache
	c.Set(context.Background(), "k", qa.AnswerResult{Answer: "x"})
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
}
