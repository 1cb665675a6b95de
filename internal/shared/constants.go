package shared

import "time"

// Server Configuration
const (
	DefaultAddr            = ":80"
	DefaultRequestTimeout  = 120 * time.Second
	DefaultShutdownTimeout = 2 * time.Minute
)

// Cache Configuration
const (
	AnswerCacheTTL = 10 * time.Minute
)

// API Configuration
const (
	APIKeyLength         = 32
	TokenizeMaxLength    = 512
	DefaultTokenizeModel = "distilbert-base-uncased-distilled-squad"
	ModelListTimeout     = 5 * time.Second
)

// Bucket Configuration
const (
	BucketFlushInterval  = 1 * time.Minute
	BucketRetryDelay     = 30 * time.Second
	BucketMaxRecords     = 500
	ShutdownPollInterval = 250 * time.Millisecond
	MaxFlushRetries      = 3
	FlushRetryBackoff    = 5 * time.Second
)
