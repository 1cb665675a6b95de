// Package engine runs question-answering ONNX graphs through ONNX Runtime.
package engine

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"qa-api/internal/qa"

	"github.com/amikos-tech/pure-onnx/ort"
	"go.uber.org/zap"
)

// DefaultMaxCachedSessions bounds how many sequence lengths keep a bound
// session resident per model.
const DefaultMaxCachedSessions = 8

var (
	initOnce sync.Once
	initErr  error
)

// Engine implements qa.Engine on ONNX Runtime. The runtime environment is
// initialized once per process on first use.
type Engine struct {
	libraryPath string
	maxCached   int
	log         *zap.SugaredLogger

	mu       sync.Mutex
	sessions []*Session
}

func New(libraryPath string, maxCached int, log *zap.SugaredLogger) *Engine {
	if maxCached <= 0 {
		maxCached = DefaultMaxCachedSessions
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{libraryPath: libraryPath, maxCached: maxCached, log: log}
}

func (e *Engine) initialize() error {
	initOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if e.libraryPath != "" {
			ort.SetSharedLibraryPath(e.libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = fmt.Errorf("initializing ONNX Runtime: %w", err)
		}
	})
	return initErr
}

func (e *Engine) LoadSession(ctx context.Context, path string) (qa.Session, error) {
	if path == "" {
		return nil, errors.New("model path cannot be empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model path %q is not usable: %w", path, err)
	}
	if err := e.initialize(); err != nil {
		return nil, err
	}
	s := &Session{
		modelPath: path,
		maxCached: e.maxCached,
		log:       e.log,
		bound:     map[int]*list.Element{},
		lru:       list.New(),
	}
	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()
	return s, nil
}

// Close destroys the bound sessions of every model loaded through e.
func (e *Engine) Close() error {
	e.mu.Lock()
	sessions := e.sessions
	e.sessions = nil
	e.mu.Unlock()

	var err error
	for _, s := range sessions {
		err = errors.Join(err, s.Close())
	}
	return err
}

// Session runs one model file. ONNX Runtime sessions are bound to fixed
// tensor shapes, so one bound session is kept per sequence length and the
// least recently used is destroyed past maxCached.
type Session struct {
	modelPath string
	maxCached int
	log       *zap.SugaredLogger

	mu    sync.Mutex
	bound map[int]*list.Element
	lru   *list.List
}

type boundSession struct {
	length        int
	ids           []int64
	mask          []int64
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	startLogits   *ort.Tensor[float32]
	endLogits     *ort.Tensor[float32]
	session       *ort.AdvancedSession
}

func (s *Session) Run(ctx context.Context, inputs []qa.NamedTensor) ([]qa.NamedTensor, error) {
	ids, mask, length, err := unpackInputs(inputs)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.sessionForLengthLocked(length)
	if err != nil {
		return nil, err
	}
	copy(b.ids, ids)
	copy(b.mask, mask)
	if err := b.session.Run(); err != nil {
		return nil, fmt.Errorf("running model: %w", err)
	}

	shape := []int64{1, int64(length)}
	start := append([]float32(nil), b.startLogits.GetData()...)
	end := append([]float32(nil), b.endLogits.GetData()...)
	return []qa.NamedTensor{
		{Name: qa.StartLogitsName, Shape: shape, Data: start},
		{Name: qa.EndLogitsName, Shape: shape, Data: end},
	}, nil
}

// Close destroys every bound session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	for e := s.lru.Front(); e != nil; e = e.Next() {
		err = errors.Join(err, e.Value.(*boundSession).destroy())
	}
	s.bound = map[int]*list.Element{}
	s.lru.Init()
	return err
}

func (s *Session) sessionForLengthLocked(length int) (*boundSession, error) {
	if el, ok := s.bound[length]; ok {
		s.lru.MoveToFront(el)
		return el.Value.(*boundSession), nil
	}
	for s.lru.Len() >= s.maxCached {
		oldest := s.lru.Back()
		b := s.lru.Remove(oldest).(*boundSession)
		delete(s.bound, b.length)
		if err := b.destroy(); err != nil {
			s.log.Warnw("Failed to destroy evicted session", "model_path", s.modelPath, "length", b.length, "error", err)
		}
	}
	b, err := newBoundSession(s.modelPath, length)
	if err != nil {
		return nil, err
	}
	s.bound[length] = s.lru.PushFront(b)
	s.log.Debugw("Bound model session", "model_path", s.modelPath, "length", length)
	return b, nil
}

func newBoundSession(modelPath string, length int) (_ *boundSession, err error) {
	shape := ort.Shape{1, int64(length)}
	b := &boundSession{length: length, ids: make([]int64, length), mask: make([]int64, length)}
	defer func() {
		if err != nil {
			err = errors.Join(err, b.destroy())
		}
	}()

	if b.inputIDs, err = ort.NewTensor[int64](shape, b.ids); err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	if b.attentionMask, err = ort.NewTensor[int64](shape, b.mask); err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	if b.startLogits, err = ort.NewEmptyTensor[float32](shape); err != nil {
		return nil, fmt.Errorf("failed to create start_logits tensor: %w", err)
	}
	if b.endLogits, err = ort.NewEmptyTensor[float32](shape); err != nil {
		return nil, fmt.Errorf("failed to create end_logits tensor: %w", err)
	}
	b.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{qa.InputIDsName, qa.AttentionMaskName},
		[]string{qa.StartLogitsName, qa.EndLogitsName},
		[]ort.Value{b.inputIDs, b.attentionMask},
		[]ort.Value{b.startLogits, b.endLogits},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create model session: %w", err)
	}
	return b, nil
}

type destroyer interface {
	Destroy() error
}

func (b *boundSession) destroy() error {
	var err error
	for _, d := range []destroyer{b.session, b.endLogits, b.startLogits, b.attentionMask, b.inputIDs} {
		if isNil(d) {
			continue
		}
		err = errors.Join(err, d.Destroy())
	}
	return err
}

func isNil(d destroyer) bool {
	switch v := d.(type) {
	case nil:
		return true
	case *ort.AdvancedSession:
		return v == nil
	case *ort.Tensor[int64]:
		return v == nil
	case *ort.Tensor[float32]:
		return v == nil
	}
	return false
}

// unpackInputs checks for int64 input_ids and attention_mask of shape [1, L].
func unpackInputs(inputs []qa.NamedTensor) (ids, mask []int64, length int, err error) {
	for _, in := range inputs {
		data, ok := in.Data.([]int64)
		if !ok {
			return nil, nil, 0, fmt.Errorf("input %s has element type %T, want []int64", in.Name, in.Data)
		}
		if len(in.Shape) != 2 || in.Shape[0] != 1 || in.Shape[1] != int64(len(data)) {
			return nil, nil, 0, fmt.Errorf("input %s has shape %v for %d values, want [1 %d]", in.Name, in.Shape, len(data), len(data))
		}
		switch in.Name {
		case qa.InputIDsName:
			ids = data
		case qa.AttentionMaskName:
			mask = data
		default:
			return nil, nil, 0, fmt.Errorf("unexpected input %s", in.Name)
		}
	}
	if ids == nil || mask == nil {
		return nil, nil, 0, fmt.Errorf("inputs %s and %s are required", qa.InputIDsName, qa.AttentionMaskName)
	}
	if len(ids) != len(mask) {
		return nil, nil, 0, fmt.Errorf("input_ids length %d does not match attention_mask length %d", len(ids), len(mask))
	}
	if len(ids) == 0 {
		return nil, nil, 0, errors.New("empty input sequence")
	}
	return ids, mask, len(ids), nil
}
