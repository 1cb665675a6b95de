// Package database defines the insertions and transactions to the database
package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"qa-api/internal/shared"

	"github.com/manifold-inc/manifold-sdk/lib/utils"
	"go.uber.org/zap"
)

type DailyStats struct {
	Date           string
	Model          string
	Endpoint       string
	RequestCount   uint64
	ExtractedCount uint64
	FallbackCount  uint64
	CachedCount    uint64
	InputTokens    uint64
	TotalTime      int64
}

// RequestStore persists request log batches to MySQL.
type RequestStore struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

func NewRequestStore(db *sql.DB, log *zap.SugaredLogger) *RequestStore {
	return &RequestStore{db: db, log: log}
}

// SaveRequests writes the request rows and folds them into daily_stats in
// one transaction.
func (s *RequestStore) SaveRequests(ctx context.Context, records map[string]*shared.QARecord) error {
	if len(records) == 0 {
		return nil
	}
	reqSQL, reqVals, statsSQL, statsVals := buildInserts(records, time.Now().Format("2006-01-02"))
	err := ExecuteTransaction(ctx, s.db, []func(*sql.Tx) error{
		func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, reqSQL, reqVals...); err != nil {
				return utils.Wrap("failed to save requests", err)
			}
			return nil
		},
		func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, statsSQL, statsVals...); err != nil {
				return utils.Wrap("failed to save daily stats", err)
			}
			return nil
		},
	})
	if err != nil {
		return err
	}
	s.log.Debugw("Saved request log batch", "requests", len(records))
	return nil
}

func buildInserts(records map[string]*shared.QARecord, today string) (string, []any, string, []any) {
	requestSQLStr := `INSERT INTO qa_request (
            request_id, endpoint, model, model_path,
            input_tokens, selection_path, extracted, cached,
            score, total_time, created_at
        ) VALUES`

	statsSQLStr := `INSERT INTO qa_daily_stats (
		date, model, endpoint, request_count, extracted_count, fallback_count, cached_count, input_tokens, total_time
	) VALUES`

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	aggregated := map[string]*DailyStats{}
	var keys []string
	requestVals := []any{}
	for _, id := range ids {
		r := records[id]
		requestSQLStr += "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?),"
		requestVals = append(requestVals,
			id, r.Endpoint, r.Model, r.ModelPath,
			r.InputTokens, r.Path, r.Extracted, r.Cached,
			r.Score, r.TotalTime.Milliseconds(), r.CreatedAt,
		)

		key := r.Model + "\x00" + r.Endpoint
		stats, ok := aggregated[key]
		if !ok {
			stats = &DailyStats{Date: today, Model: r.Model, Endpoint: r.Endpoint}
			aggregated[key] = stats
			keys = append(keys, key)
		}
		stats.RequestCount++
		stats.InputTokens += uint64(r.InputTokens)
		stats.TotalTime += r.TotalTime.Milliseconds()
		if r.Extracted {
			stats.ExtractedCount++
		}
		if r.Path == "fallback" {
			stats.FallbackCount++
		}
		if r.Cached {
			stats.CachedCount++
		}
	}

	statsVals := []any{}
	for _, key := range keys {
		v := aggregated[key]
		statsSQLStr += "(?, ?, ?, ?, ?, ?, ?, ?, ?),"
		statsVals = append(statsVals, v.Date, v.Model, v.Endpoint, v.RequestCount, v.ExtractedCount, v.FallbackCount, v.CachedCount, v.InputTokens, v.TotalTime)
	}

	requestSQLStr = strings.TrimSuffix(requestSQLStr, ",")
	statsSQLStr = strings.TrimSuffix(statsSQLStr, ",")
	statsSQLStr += ` ON DUPLICATE KEY UPDATE
		request_count = request_count + VALUES(request_count),
		extracted_count = extracted_count + VALUES(extracted_count),
		fallback_count = fallback_count + VALUES(fallback_count),
		cached_count = cached_count + VALUES(cached_count),
		input_tokens = input_tokens + VALUES(input_tokens),
		total_time = total_time + VALUES(total_time)`

	return requestSQLStr, requestVals, statsSQLStr, statsVals
}

// ExecuteTransaction executes one transaction with one or multiple database executions.
func ExecuteTransaction(ctx context.Context, writeDB *sql.DB, fns []func(*sql.Tx) error) error {
	tx, err := writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, fn := range fns {
		if err := fn(tx); err != nil {
			return fmt.Errorf("failed to execute transaction function: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
