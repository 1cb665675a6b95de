// Package buckets batches request log records per model and flushes them to
// the database on a timer
package buckets

import (
	"context"
	"sync"
	"time"

	"qa-api/internal/metrics"
	"qa-api/internal/shared"

	"go.uber.org/zap"
)

type Saver interface {
	SaveRequests(ctx context.Context, records map[string]*shared.QARecord) error
}

type Config struct {
	FlushInterval time.Duration
	RetryDelay    time.Duration
	RetryBackoff  time.Duration
	MaxRecords    int
	MaxRetries    int
}

func DefaultConfig() Config {
	return Config{
		FlushInterval: shared.BucketFlushInterval,
		RetryDelay:    shared.BucketRetryDelay,
		RetryBackoff:  shared.FlushRetryBackoff,
		MaxRecords:    shared.BucketMaxRecords,
		MaxRetries:    shared.MaxFlushRetries,
	}
}

type RequestLog struct {
	buckets       map[string]*bucket
	killedBuckets map[string]*bucket
	mu            sync.Mutex
	log           *zap.SugaredLogger
	saver         Saver
	cfg           Config
}

type bucket struct {
	mu       sync.Mutex
	model    string
	records  map[string]*shared.QARecord
	inflight uint64
	timer    *time.Timer
}

func NewRequestLog(log *zap.SugaredLogger, saver Saver, cfg Config) *RequestLog {
	d := DefaultConfig()
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = d.FlushInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = d.RetryDelay
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = d.RetryBackoff
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = d.MaxRecords
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = d.MaxRetries
	}
	return &RequestLog{
		log:           log,
		saver:         saver,
		cfg:           cfg,
		buckets:       map[string]*bucket{},
		killedBuckets: map[string]*bucket{},
	}
}

// Shutdown waits for in-flight requests to finish, then flushes every bucket.
func (c *RequestLog) Shutdown() {
	if c == nil {
		return
	}
	c.log.Info("Shutting down request log")
	for {
		c.mu.Lock()
		total := uint64(0)
		for _, b := range c.buckets {
			b.mu.Lock()
			if b.timer != nil {
				b.timer.Stop()
			}
			total += b.inflight
			b.mu.Unlock()
		}
		c.mu.Unlock()
		if total == 0 {
			break
		}
		time.Sleep(shared.ShutdownPollInterval)
	}

	c.mu.Lock()
	models := make([]string, 0, len(c.buckets))
	for model := range c.buckets {
		models = append(models, model)
	}
	c.mu.Unlock()

	wg := sync.WaitGroup{}
	for _, model := range models {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.flushWithRetry(model)
		}()
	}
	wg.Wait()
}

func (c *RequestLog) AddInFlight(model string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.getBucket(model)
	b.mu.Lock()
	b.inflight++
	b.mu.Unlock()
}

func (c *RequestLog) RemoveInFlight(model string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.getBucket(model)
	b.mu.Lock()
	if b.inflight > 0 {
		b.inflight--
	}
	b.mu.Unlock()
}

// Add buffers one record. The first record of a bucket arms the flush timer;
// a full bucket is flushed right away.
func (c *RequestLog) Add(requestID string, rec *shared.QARecord) {
	if c == nil || rec == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.getBucket(rec.Model)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[requestID] = rec

	if b.timer == nil {
		b.timer = time.AfterFunc(c.cfg.FlushInterval, func() {
			c.flushWithRetry(b.model)
		})
	}
	if len(b.records) < c.cfg.MaxRecords {
		return
	}

	c.log.Infow("Flushing full bucket", "model", b.model, "records", len(b.records))
	if !b.timer.Stop() {
		c.log.Info("Flush is already executing")
		return
	}
	go c.flushWithRetry(b.model)
}

func (c *RequestLog) getBucket(model string) *bucket {
	b, ok := c.buckets[model]
	if !ok {
		b = &bucket{records: map[string]*shared.QARecord{}, model: model}
		c.buckets[model] = b
	}
	return b
}

func (c *RequestLog) flushWithRetry(model string) {
	retry := c.Flush(model)
	for retry != 0 {
		c.log.Warnw("Flush requested retry, waiting...", "model", model)
		time.Sleep(retry)
		retry = c.Flush(model)
	}
}

// Flush saves the bucket for model. A non-zero return asks the caller to
// retry after that long because another flush of the same model is running.
func (c *RequestLog) Flush(model string) time.Duration {
	c.mu.Lock()
	b, ok := c.buckets[model]
	if !ok {
		c.mu.Unlock()
		return 0
	}
	if _, ok := c.killedBuckets[model]; ok {
		c.mu.Unlock()
		return c.cfg.RetryDelay
	}
	c.killedBuckets[model] = b
	delete(c.buckets, model)

	b.mu.Lock()
	if b.inflight != 0 {
		c.buckets[model] = &bucket{
			model:    model,
			inflight: b.inflight,
			records:  map[string]*shared.QARecord{},
		}
	}
	records := b.records
	b.mu.Unlock()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.killedBuckets, model)
		c.mu.Unlock()
	}()

	if len(records) == 0 {
		return 0
	}

	var err error
	for attempt := range c.cfg.MaxRetries {
		if attempt > 0 {
			time.Sleep(c.cfg.RetryBackoff)
		}
		err = c.saver.SaveRequests(context.Background(), records)
		if err == nil {
			c.log.Infow("Flushed bucket", "model", model, "requests", len(records))
			return 0
		}
		c.log.Errorw("Failed to save request log", "model", model, "attempt", attempt+1, "error", err)
	}
	c.log.Errorw("Dropping request log batch", "model", model, "requests", len(records), "retries", c.cfg.MaxRetries, "error", err)
	metrics.ErrorCount.WithLabelValues(model, "unknown", shared.ErrSaveRequests.Code).Inc()
	return 0
}
