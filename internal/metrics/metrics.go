// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qa_api_request_duration_seconds",
			Help:    "Total time taken for requests in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"model", "endpoint"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qa_api_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"stage"},
	)

	InputTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qa_api_input_tokens",
			Help:    "Encoded sequence length per request",
			Buckets: []float64{8, 16, 32, 64, 128, 256, 384, 512, 1024},
		},
		[]string{"model"},
	)

	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qa_api_request_count_total",
			Help: "Total number of requests processed",
		},
		[]string{"model", "endpoint", "status"},
	)

	ExtractionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qa_api_extraction_outcomes_total",
			Help: "Span selection path per answered request",
		},
		[]string{"model", "path"},
	)

	ResourceLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qa_api_resource_loads_total",
			Help: "Tokenizer and model session loads",
		},
		[]string{"kind", "status"},
	)

	AnswerCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qa_api_answer_cache_total",
			Help: "Answer cache lookups",
		},
		[]string{"result"},
	)

	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qa_api_error_count",
			Help: "Error count",
		},
		[]string{"model", "endpoint", "from"},
	)

	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qa_api_status_code",
			Help: "Status Codes",
		},
		[]string{"path", "status_code"},
	)
)
