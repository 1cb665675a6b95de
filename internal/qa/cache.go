package qa

import (
	"context"
	"sort"
	"sync"
)

type cacheEntry[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// resourceCache loads each key at most once. Concurrent callers for the same
// key wait on the same in-flight load. Successful loads stay resident for the
// life of the cache; failed loads are dropped so a later call can retry.
type resourceCache[V any] struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry[V]
}

func newResourceCache[V any]() *resourceCache[V] {
	return &resourceCache[V]{entries: map[string]*cacheEntry[V]{}}
}

// get returns the value for key, starting load if no caller has yet. The
// load runs detached from ctx; ctx only bounds how long this caller waits.
func (c *resourceCache[V]) get(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &cacheEntry[V]{done: make(chan struct{})}
		c.entries[key] = e
		go func() {
			e.val, e.err = load(context.WithoutCancel(ctx))
			if e.err != nil {
				c.mu.Lock()
				if c.entries[key] == e {
					delete(c.entries, key)
				}
				c.mu.Unlock()
			}
			close(e.done)
		}()
	}
	c.mu.Unlock()

	select {
	case <-e.done:
		return e.val, e.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// keys lists the keys whose load has completed successfully.
func (c *resourceCache[V]) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for k, e := range c.entries {
		select {
		case <-e.done:
			if e.err == nil {
				out = append(out, k)
			}
		default:
		}
	}
	sort.Strings(out)
	return out
}
