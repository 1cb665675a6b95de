package qa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qa-api/internal/metrics"

	"go.uber.org/zap"
)

// Pipeline answers questions against a context passage. Tokenizers and
// model sessions are loaded once per key and shared by every request.
type Pipeline struct {
	tokenizers TokenizerService
	engine     Engine
	opts       Options
	selector   SpanSelector
	log        *zap.SugaredLogger

	tokenizerCache *resourceCache[Tokenizer]
	sessionCache   *resourceCache[Session]
}

func NewPipeline(tokenizers TokenizerService, engine Engine, log *zap.SugaredLogger, opts Options) *Pipeline {
	opts = opts.withDefaults()
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pipeline{
		tokenizers: tokenizers,
		engine:     engine,
		opts:       opts,
		selector:   SpanSelector{AllowSingleToken: opts.AllowSingleToken, Candidates: opts.Candidates},
		log:        log,

		tokenizerCache: newResourceCache[Tokenizer](),
		sessionCache:   newResourceCache[Session](),
	}
}

func (p *Pipeline) Options() Options {
	return p.opts
}

// Resident lists the tokenizers and sessions that finished loading.
func (p *Pipeline) Resident() (tokenizers []string, sessions []string) {
	return p.tokenizerCache.keys(), p.sessionCache.keys()
}

// Normalize fills unset request fields from the pipeline defaults. MaxLength
// never exceeds the configured maximum.
func (p *Pipeline) Normalize(req InferenceRequest) InferenceRequest {
	if req.ModelID == "" {
		req.ModelID = p.opts.ModelID
	}
	if req.ModelPath == "" {
		req.ModelPath = p.opts.ModelPath
	}
	if req.MaxLength <= 0 || req.MaxLength > p.opts.MaxLength {
		req.MaxLength = p.opts.MaxLength
	}
	return req
}

// PerformQAInference runs the whole pipeline. Errors are always
// *TokenizationError or *InferenceError; an unanswerable input returns the
// NoAnswer result with a nil error.
func (p *Pipeline) PerformQAInference(ctx context.Context, req InferenceRequest) (AnswerResult, error) {
	ex, err := p.Extract(ctx, req)
	if err != nil {
		return AnswerResult{}, err
	}
	return ex.Result, nil
}

func (p *Pipeline) Extract(ctx context.Context, req InferenceRequest) (*Extraction, error) {
	req = p.Normalize(req)

	tok, err := p.tokenizer(ctx, req.ModelID)
	if err != nil {
		return nil, &TokenizationError{Model: req.ModelID, Err: err}
	}

	t := time.Now()
	in, err := tok.Encode(req.Question, req.Context, p.opts.encodeOptions(req.MaxLength))
	if err == nil {
		err = checkEncoding(in, req.MaxLength)
	}
	if err != nil {
		return nil, &TokenizationError{Model: req.ModelID, Err: err}
	}
	metrics.StageDuration.WithLabelValues("tokenize").Observe(time.Since(t).Seconds())
	metrics.InputTokens.WithLabelValues(req.ModelID).Observe(float64(in.Len()))

	none := &Extraction{Result: noAnswer(), Path: PathNone, Tokens: in.Len()}
	if in.ContextTokens == 0 {
		p.log.Debugw("No context tokens after truncation", "model", req.ModelID, "max_length", req.MaxLength)
		return none, nil
	}

	startLogits, endLogits, err := p.infer(ctx, req.ModelPath, in)
	if err != nil {
		return nil, err
	}

	t = time.Now()
	sel := p.selector.Select(startLogits, endLogits, in.Len())
	metrics.StageDuration.WithLabelValues("select").Observe(time.Since(t).Seconds())
	if sel.Path != PathPrimary {
		p.log.Debugw("Argmax span rejected, used top candidates",
			"start_candidates", sel.StartCandidates,
			"end_candidates", sel.EndCandidates,
			"valid", sel.Valid,
			"span", sel.Span,
			"input_length", in.Len(),
		)
	}
	if !sel.Valid {
		return none, nil
	}

	t = time.Now()
	res, err := Materialize(tok, in.InputIDs, sel.Span, startLogits, endLogits)
	if err != nil {
		return nil, &TokenizationError{Model: req.ModelID, Err: err}
	}
	metrics.StageDuration.WithLabelValues("decode").Observe(time.Since(t).Seconds())
	if !res.Extracted() {
		return none, nil
	}
	return &Extraction{Result: res, Span: sel.Span, Path: sel.Path, Tokens: in.Len()}, nil
}

// Tokenize encodes the pair with the tokenizer for modelID.
func (p *Pipeline) Tokenize(ctx context.Context, modelID, question, passage string, maxLength int) (*TokenizedInput, error) {
	if modelID == "" {
		modelID = p.opts.ModelID
	}
	if maxLength <= 0 {
		maxLength = p.opts.MaxLength
	}
	tok, err := p.tokenizer(ctx, modelID)
	if err != nil {
		return nil, &TokenizationError{Model: modelID, Err: err}
	}
	in, err := tok.Encode(question, passage, p.opts.encodeOptions(maxLength))
	if err == nil {
		err = checkEncoding(in, maxLength)
	}
	if err != nil {
		return nil, &TokenizationError{Model: modelID, Err: err}
	}
	return in, nil
}

func checkEncoding(in *TokenizedInput, maxLength int) error {
	if in == nil {
		return errors.New("tokenizer returned no encoding")
	}
	if len(in.InputIDs) != len(in.AttentionMask) {
		return fmt.Errorf("input_ids length %d does not match attention_mask length %d", len(in.InputIDs), len(in.AttentionMask))
	}
	if len(in.InputIDs) > maxLength {
		return fmt.Errorf("encoded length %d exceeds max length %d", len(in.InputIDs), maxLength)
	}
	return nil
}

func (p *Pipeline) tokenizer(ctx context.Context, modelID string) (Tokenizer, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.LoadTimeout)
	defer cancel()
	tok, err := p.tokenizerCache.get(ctx, modelID, func(ctx context.Context) (Tokenizer, error) {
		ctx, cancel := context.WithTimeout(ctx, p.opts.LoadTimeout)
		defer cancel()
		t := time.Now()
		tok, err := p.tokenizers.Load(ctx, modelID)
		if err != nil {
			metrics.ResourceLoads.WithLabelValues("tokenizer", "error").Inc()
			p.log.Warnw("Failed to load tokenizer", "model", modelID, "error", err)
			return nil, err
		}
		metrics.ResourceLoads.WithLabelValues("tokenizer", "success").Inc()
		p.log.Infow("Loaded tokenizer", "model", modelID, "duration", time.Since(t).String())
		return tok, nil
	})
	return tok, timeoutErr(err)
}

func (p *Pipeline) session(ctx context.Context, modelPath string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.LoadTimeout)
	defer cancel()
	sess, err := p.sessionCache.get(ctx, modelPath, func(ctx context.Context) (Session, error) {
		ctx, cancel := context.WithTimeout(ctx, p.opts.LoadTimeout)
		defer cancel()
		t := time.Now()
		sess, err := p.engine.LoadSession(ctx, modelPath)
		if err != nil {
			metrics.ResourceLoads.WithLabelValues("session", "error").Inc()
			p.log.Warnw("Failed to load model session", "model_path", modelPath, "error", err)
			return nil, err
		}
		metrics.ResourceLoads.WithLabelValues("session", "success").Inc()
		p.log.Infow("Loaded model session", "model_path", modelPath, "duration", time.Since(t).String())
		return sess, nil
	})
	return sess, timeoutErr(err)
}

// infer packs the encoding as [1, L] int64 tensors and returns the start and
// end logits, each of length L.
func (p *Pipeline) infer(ctx context.Context, modelPath string, in *TokenizedInput) (LogitVector, LogitVector, error) {
	sess, err := p.session(ctx, modelPath)
	if err != nil {
		return nil, nil, &InferenceError{Model: modelPath, Op: "load", Err: err}
	}

	length := in.Len()
	shape := []int64{1, int64(length)}
	inputs := []NamedTensor{
		{Name: InputIDsName, Shape: shape, Data: in.InputIDs},
		{Name: AttentionMaskName, Shape: shape, Data: in.AttentionMask},
	}

	t := time.Now()
	outputs, err := runWithTimeout(ctx, p.opts.InferenceTimeout, sess, inputs)
	if err != nil {
		return nil, nil, &InferenceError{Model: modelPath, Op: "run", Err: timeoutErr(err)}
	}
	metrics.StageDuration.WithLabelValues("infer").Observe(time.Since(t).Seconds())

	startLogits, err := logitsByName(outputs, StartLogitsName, length)
	if err != nil {
		return nil, nil, &InferenceError{Model: modelPath, Op: "decode outputs", Err: err}
	}
	endLogits, err := logitsByName(outputs, EndLogitsName, length)
	if err != nil {
		return nil, nil, &InferenceError{Model: modelPath, Op: "decode outputs", Err: err}
	}
	return startLogits, endLogits, nil
}

func runWithTimeout(ctx context.Context, timeout time.Duration, sess Session, inputs []NamedTensor) ([]NamedTensor, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out []NamedTensor
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := sess.Run(ctx, inputs)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func logitsByName(outputs []NamedTensor, name string, length int) (LogitVector, error) {
	for _, o := range outputs {
		if o.Name != name {
			continue
		}
		data, ok := o.Data.([]float32)
		if !ok {
			return nil, fmt.Errorf("output %s has element type %T, want []float32", name, o.Data)
		}
		if len(data) != length {
			return nil, fmt.Errorf("output %s has %d values, want %d", name, len(data), length)
		}
		return LogitVector(data), nil
	}
	return nil, fmt.Errorf("output %s missing", name)
}

func timeoutErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
