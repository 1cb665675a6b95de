// Package answer serves question answering requests on top of the qa
// pipeline, with the answer cache and request log around it.
package answer

import (
	"context"
	"errors"
	"time"

	"qa-api/internal/answers"
	"qa-api/internal/buckets"
	"qa-api/internal/metrics"
	"qa-api/internal/qa"
	"qa-api/internal/shared"

	"go.uber.org/zap"
)

// Pipeline is the part of *qa.Pipeline the handler drives.
type Pipeline interface {
	Normalize(req qa.InferenceRequest) qa.InferenceRequest
	Extract(ctx context.Context, req qa.InferenceRequest) (*qa.Extraction, error)
	Tokenize(ctx context.Context, modelID, question, passage string, maxLength int) (*qa.TokenizedInput, error)
	Options() qa.Options
	Resident() (tokenizers []string, sessions []string)
}

// Config lists what callers may ask for. The pipeline defaults and
// TokenizeModel are always allowed; Models and ModelPaths add to them.
type Config struct {
	TokenizeModel string
	Models        []string
	ModelPaths    []string
}

type Handler struct {
	pipeline      Pipeline
	answers       *answers.Cache
	requests      *buckets.RequestLog
	tokenizeModel string
	models        []string
	modelPaths    []string
	allowedModels map[string]bool
	allowedPaths  map[string]bool
	log           *zap.SugaredLogger
}

// NewHandler builds a handler. answers and requests may be nil, which
// disables caching and the request log.
func NewHandler(p Pipeline, cache *answers.Cache, requests *buckets.RequestLog, cfg Config, log *zap.SugaredLogger) *Handler {
	if cfg.TokenizeModel == "" {
		cfg.TokenizeModel = shared.DefaultTokenizeModel
	}
	opts := p.Options()
	h := &Handler{
		pipeline:      p,
		answers:       cache,
		requests:      requests,
		tokenizeModel: cfg.TokenizeModel,
		allowedModels: map[string]bool{},
		allowedPaths:  map[string]bool{},
		log:           log,
	}
	for _, id := range append([]string{opts.ModelID, cfg.TokenizeModel}, cfg.Models...) {
		if id != "" && !h.allowedModels[id] {
			h.allowedModels[id] = true
			h.models = append(h.models, id)
		}
	}
	for _, path := range append([]string{opts.ModelPath}, cfg.ModelPaths...) {
		if path != "" && !h.allowedPaths[path] {
			h.allowedPaths[path] = true
			h.modelPaths = append(h.modelPaths, path)
		}
	}
	return h
}

func (h *Handler) checkModel(id string) error {
	if !h.allowedModels[id] {
		return shared.ErrUnknownModel
	}
	return nil
}

func (h *Handler) checkModelPath(path string) error {
	if !h.allowedPaths[path] {
		return shared.ErrUnknownModelPath
	}
	return nil
}

type Output struct {
	Result    qa.AnswerResult
	Request   qa.InferenceRequest
	Path      qa.SelectionPath
	Tokens    int
	Cached    bool
	TotalTime time.Duration
}

// Answer runs one question against its context. Errors come straight from
// the pipeline; use Classify to map them.
func (h *Handler) Answer(ctx context.Context, requestID string, req qa.InferenceRequest) (*Output, error) {
	start := time.Now()
	req = h.pipeline.Normalize(req)
	if err := h.checkModel(req.ModelID); err != nil {
		return nil, err
	}
	if err := h.checkModelPath(req.ModelPath); err != nil {
		return nil, err
	}
	opts := h.pipeline.Options()
	key := answers.Key(req, opts)
	endpoint := shared.ENDPOINTS.QA

	if res, ok := h.answers.Get(ctx, key); ok {
		out := &Output{Result: res, Request: req, Path: "cached", Cached: true, TotalTime: time.Since(start)}
		h.record(requestID, endpoint, out)
		return out, nil
	}

	h.requests.AddInFlight(req.ModelID)
	defer h.requests.RemoveInFlight(req.ModelID)

	ex, err := h.pipeline.Extract(ctx, req)
	if err != nil {
		_, merr := Classify(err)
		metrics.ErrorCount.WithLabelValues(req.ModelID, endpoint, merr.Code).Inc()
		metrics.RequestCount.WithLabelValues(req.ModelID, endpoint, "error").Inc()
		return nil, err
	}

	h.answers.Set(ctx, key, ex.Result)
	out := &Output{
		Result:    ex.Result,
		Request:   req,
		Path:      ex.Path,
		Tokens:    ex.Tokens,
		TotalTime: time.Since(start),
	}
	h.record(requestID, endpoint, out)
	return out, nil
}

func (h *Handler) record(requestID, endpoint string, out *Output) {
	model := out.Request.ModelID
	metrics.RequestDuration.WithLabelValues(model, endpoint).Observe(out.TotalTime.Seconds())
	metrics.RequestCount.WithLabelValues(model, endpoint, "success").Inc()
	metrics.ExtractionOutcomes.WithLabelValues(model, string(out.Path)).Inc()

	h.requests.Add(requestID, &shared.QARecord{
		Endpoint:    endpoint,
		Model:       model,
		ModelPath:   out.Request.ModelPath,
		InputTokens: out.Tokens,
		Path:        string(out.Path),
		Extracted:   out.Result.Extracted(),
		Cached:      out.Cached,
		Score:       out.Result.Score,
		TotalTime:   out.TotalTime,
		CreatedAt:   time.Now(),
	})
}

// Tokenize encodes a pair with the tokenize model (or body.ModelName).
// Empty question or context is a request error.
func (h *Handler) Tokenize(ctx context.Context, body shared.TokenizeBody) (*shared.TokenizeResponse, error) {
	if body.Question == "" || body.Context == "" {
		return nil, shared.ErrMissingQuestion
	}
	model := body.ModelName
	if model == "" {
		model = h.tokenizeModel
	}
	if err := h.checkModel(model); err != nil {
		return nil, err
	}
	start := time.Now()
	in, err := h.pipeline.Tokenize(ctx, model, body.Question, body.Context, shared.TokenizeMaxLength)
	if err != nil {
		metrics.ErrorCount.WithLabelValues(model, shared.ENDPOINTS.TOKENIZE, shared.ErrTokenization.Code).Inc()
		metrics.RequestCount.WithLabelValues(model, shared.ENDPOINTS.TOKENIZE, "error").Inc()
		return nil, err
	}
	metrics.RequestDuration.WithLabelValues(model, shared.ENDPOINTS.TOKENIZE).Observe(time.Since(start).Seconds())
	metrics.RequestCount.WithLabelValues(model, shared.ENDPOINTS.TOKENIZE, "success").Inc()
	return &shared.TokenizeResponse{InputIDs: in.InputIDs, AttentionMask: in.AttentionMask}, nil
}

// ListModels reports the configured defaults and every resource the
// pipeline holds.
func (h *Handler) ListModels() shared.ModelList {
	opts := h.pipeline.Options()
	tokenizers, sessions := h.pipeline.Resident()

	list := shared.ModelList{Object: "list", Data: []shared.Model{}}
	seen := map[string]bool{}
	add := func(id, kind string, def, resident bool) {
		if seen[kind+id] {
			return
		}
		seen[kind+id] = true
		list.Data = append(list.Data, shared.Model{ID: id, Object: "model", Kind: kind, Default: def, Resident: resident})
	}
	contains := func(ids []string, id string) bool {
		for _, v := range ids {
			if v == id {
				return true
			}
		}
		return false
	}

	add(opts.ModelID, "tokenizer", true, contains(tokenizers, opts.ModelID))
	add(h.tokenizeModel, "tokenizer", false, contains(tokenizers, h.tokenizeModel))
	add(opts.ModelPath, "model", true, contains(sessions, opts.ModelPath))
	for _, id := range h.models {
		add(id, "tokenizer", false, contains(tokenizers, id))
	}
	for _, path := range h.modelPaths {
		add(path, "model", false, contains(sessions, path))
	}
	return list
}

// Classify maps a pipeline error onto the response the caller sees and the
// error_count label it is counted under.
func Classify(err error) (*shared.RequestError, *shared.MetricsError) {
	var rerr *shared.RequestError
	if errors.As(err, &rerr) {
		return rerr, shared.ErrMalformedBody
	}
	var terr *qa.TokenizationError
	if errors.As(err, &terr) {
		return shared.ErrInternalServerError, shared.ErrTokenization
	}
	var ierr *qa.InferenceError
	if errors.As(err, &ierr) {
		switch {
		case errors.Is(err, qa.ErrTimeout):
			return shared.ErrInferenceTimeout, shared.ErrModelTimeout
		case ierr.Op == "load":
			return shared.ErrInternalServerError, shared.ErrModelLoad
		case ierr.Op == "run":
			return shared.ErrInternalServerError, shared.ErrModelRun
		default:
			return shared.ErrInternalServerError, shared.ErrModelOutputs
		}
	}
	return shared.ErrInternalServerError, &shared.MetricsError{Msg: "unknown", Code: "unknown"}
}
