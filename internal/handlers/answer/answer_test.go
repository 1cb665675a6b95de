package answer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"qa-api/internal/answers"
	"qa-api/internal/qa"
	"qa-api/internal/shared"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePipeline struct {
	mu         sync.Mutex
	extraction *qa.Extraction
	err        error
	calls      int
	last       qa.InferenceRequest
	tokenized  *qa.TokenizedInput
	tokErr     error
	tokModel   string
	tokenizers []string
	sessions   []string
}

func (f *fakePipeline) Normalize(req qa.InferenceRequest) qa.InferenceRequest {
	if req.ModelID == "" {
		req.ModelID = qa.DefaultModelName
	}
	if req.ModelPath == "" {
		req.ModelPath = qa.DefaultModelPath
	}
	if req.MaxLength <= 0 {
		req.MaxLength = qa.DefaultMaxLength
	}
	return req
}

func (f *fakePipeline) Extract(_ context.Context, req qa.InferenceRequest) (*qa.Extraction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.extraction, nil
}

func (f *fakePipeline) Tokenize(_ context.Context, modelID, _, _ string, _ int) (*qa.TokenizedInput, error) {
	f.tokModel = modelID
	return f.tokenized, f.tokErr
}

func (f *fakePipeline) Options() qa.Options {
	return qa.DefaultOptions()
}

func (f *fakePipeline) Resident() ([]string, []string) {
	return f.tokenizers, f.sessions
}

func event() *qa.Extraction {
	return &qa.Extraction{
		Result: qa.AnswerResult{Answer: "November 15, 2024", Score: 6.875},
		Span:   qa.Span{Start: 12, End: 16},
		Path:   qa.PathPrimary,
		Tokens: 20,
	}
}

func TestAnswerNormalizesRequest(t *testing.T) {
	p := &fakePipeline{extraction: event()}
	h := NewHandler(p, nil, nil, Config{}, zap.NewNop().Sugar())

	out, err := h.Answer(context.Background(), "req_1", qa.InferenceRequest{Question: "When?", Context: "The event is on November 15, 2024."})
	require.NoError(t, err)
	assert.Equal(t, "November 15, 2024", out.Result.Answer)
	assert.Equal(t, qa.PathPrimary, out.Path)
	assert.Equal(t, 20, out.Tokens)
	assert.False(t, out.Cached)
	assert.Equal(t, qa.DefaultModelName, p.last.ModelID)
	assert.Equal(t, qa.DefaultModelPath, p.last.ModelPath)
	assert.Equal(t, qa.DefaultMaxLength, p.last.MaxLength)
}

func TestAnswerPassesSentinelThrough(t *testing.T) {
	p := &fakePipeline{extraction: &qa.Extraction{Result: qa.AnswerResult{Answer: qa.NoAnswer}, Path: qa.PathNone}}
	h := NewHandler(p, nil, nil, Config{}, zap.NewNop().Sugar())

	out, err := h.Answer(context.Background(), "req_1", qa.InferenceRequest{})
	require.NoError(t, err)
	assert.Equal(t, qa.NoAnswer, out.Result.Answer)
	assert.Zero(t, out.Result.Score)
}

func TestAnswerReturnsPipelineErrors(t *testing.T) {
	cause := &qa.InferenceError{Model: "m.onnx", Op: "run", Err: fmt.Errorf("%w: deadline", qa.ErrTimeout)}
	p := &fakePipeline{err: cause}
	h := NewHandler(p, nil, nil, Config{}, zap.NewNop().Sugar())

	_, err := h.Answer(context.Background(), "req_1", qa.InferenceRequest{Question: "q", Context: "c"})
	assert.ErrorIs(t, err, qa.ErrTimeout)
}

func TestTokenize(t *testing.T) {
	p := &fakePipeline{tokenized: &qa.TokenizedInput{InputIDs: []int64{101, 7, 102, 8, 102}, AttentionMask: []int64{1, 1, 1, 1, 1}}}
	h := NewHandler(p, nil, nil, Config{Models: []string{"bert"}}, zap.NewNop().Sugar())

	res, err := h.Tokenize(context.Background(), shared.TokenizeBody{Question: "q", Context: "c"})
	require.NoError(t, err)
	assert.Equal(t, []int64{101, 7, 102, 8, 102}, res.InputIDs)
	assert.Equal(t, shared.DefaultTokenizeModel, p.tokModel)

	_, err = h.Tokenize(context.Background(), shared.TokenizeBody{Question: "q", Context: "c", ModelName: "bert"})
	require.NoError(t, err)
	assert.Equal(t, "bert", p.tokModel)
}

func TestTokenizeRequiresBothFields(t *testing.T) {
	h := NewHandler(&fakePipeline{}, nil, nil, Config{}, zap.NewNop().Sugar())
	for _, body := range []shared.TokenizeBody{{Question: "q"}, {Context: "c"}, {}} {
		_, err := h.Tokenize(context.Background(), body)
		assert.ErrorIs(t, err, shared.ErrMissingQuestion)
	}
}

func TestListModels(t *testing.T) {
	p := &fakePipeline{
		tokenizers: []string{qa.DefaultModelName, "extra"},
		sessions:   []string{"other.onnx"},
	}
	h := NewHandler(p, nil, nil, Config{Models: []string{"extra"}, ModelPaths: []string{"other.onnx"}}, zap.NewNop().Sugar())

	list := h.ListModels()
	assert.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 5)
	assert.Equal(t, shared.Model{ID: qa.DefaultModelName, Object: "model", Kind: "tokenizer", Default: true, Resident: true}, list.Data[0])
	assert.Equal(t, shared.Model{ID: shared.DefaultTokenizeModel, Object: "model", Kind: "tokenizer"}, list.Data[1])
	assert.Equal(t, shared.Model{ID: qa.DefaultModelPath, Object: "model", Kind: "model", Default: true}, list.Data[2])
	assert.Equal(t, "extra", list.Data[3].ID)
	assert.Equal(t, "other.onnx", list.Data[4].ID)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"tokenization", &qa.TokenizationError{Model: "m", Err: errors.New("bad vocab")}, 500, shared.ErrTokenization.Code},
		{"load", &qa.InferenceError{Model: "m", Op: "load", Err: errors.New("no file")}, 500, shared.ErrModelLoad.Code},
		{"run", &qa.InferenceError{Model: "m", Op: "run", Err: errors.New("oom")}, 500, shared.ErrModelRun.Code},
		{"timeout", &qa.InferenceError{Model: "m", Op: "run", Err: qa.ErrTimeout}, 504, shared.ErrModelTimeout.Code},
		{"outputs", &qa.InferenceError{Model: "m", Op: "decode outputs", Err: errors.New("short")}, 500, shared.ErrModelOutputs.Code},
		{"request", shared.ErrMissingQuestion, 400, shared.ErrMalformedBody.Code},
		{"unknown", errors.New("boom"), 500, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rerr, merr := Classify(tt.err)
			assert.Equal(t, tt.status, rerr.StatusCode)
			assert.Equal(t, tt.code, merr.Code)
		})
	}
}

type memRedis struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memRedis) Get(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func TestAnswerUsesCache(t *testing.T) {
	p := &fakePipeline{extraction: event()}
	cache := answers.NewCache(&memRedis{values: map[string]string{}}, time.Minute, zap.NewNop().Sugar())
	h := NewHandler(p, cache, nil, Config{}, zap.NewNop().Sugar())
	req := qa.InferenceRequest{Question: "When?", Context: "The event is on November 15, 2024."}

	first, err := h.Answer(context.Background(), "req_1", req)
	require.NoError(t, err)
	second, err := h.Answer(context.Background(), "req_2", req)
	require.NoError(t, err)

	assert.Equal(t, 1, p.calls)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Result, second.Result)

	_, err = h.Answer(context.Background(), "req_3", qa.InferenceRequest{Question: "Where?", Context: req.Context})
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls)
}

func TestRejectsModelsOutsideAllowlist(t *testing.T) {
	p := &fakePipeline{extraction: event(), tokenized: &qa.TokenizedInput{InputIDs: []int64{1, 2}, AttentionMask: []int64{1, 1}}}
	h := NewHandler(p, nil, nil, Config{Models: []string{"deepset/roberta-base-squad2"}, ModelPaths: []string{"models/squad2.onnx"}}, zap.NewNop().Sugar())
	ctx := context.Background()

	_, err := h.Answer(ctx, "req_1", qa.InferenceRequest{Question: "q", Context: "c", ModelID: "/etc/passwd"})
	assert.ErrorIs(t, err, shared.ErrUnknownModel)
	_, err = h.Answer(ctx, "req_2", qa.InferenceRequest{Question: "q", Context: "c", ModelPath: "/etc/shadow"})
	assert.ErrorIs(t, err, shared.ErrUnknownModelPath)
	_, err = h.Tokenize(ctx, shared.TokenizeBody{Question: "q", Context: "c", ModelName: "acme/unlisted"})
	assert.ErrorIs(t, err, shared.ErrUnknownModel)
	assert.Zero(t, p.calls)

	_, err = h.Answer(ctx, "req_3", qa.InferenceRequest{Question: "q", Context: "c", ModelID: "deepset/roberta-base-squad2", ModelPath: "models/squad2.onnx"})
	require.NoError(t, err)
	_, err = h.Answer(ctx, "req_4", qa.InferenceRequest{Question: "q", Context: "c", ModelID: shared.DefaultTokenizeModel})
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls)

	rerr, _ := Classify(shared.ErrUnknownModel)
	assert.Equal(t, 400, rerr.StatusCode)
}
