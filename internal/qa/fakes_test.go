package qa

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	fakePad int64 = 0
	fakeCLS int64 = 1
	fakeSEP int64 = 2
)

// wordTokenizer maps whitespace separated words to ids, assigning ids in
// order of first appearance.
type wordTokenizer struct {
	mu    sync.Mutex
	ids   map[string]int64
	words map[int64]string
}

func newWordTokenizer() *wordTokenizer {
	return &wordTokenizer{ids: map[string]int64{}, words: map[int64]string{}}
}

func (w *wordTokenizer) id(word string) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id, ok := w.ids[word]; ok {
		return id
	}
	id := int64(len(w.ids) + 3)
	w.ids[word] = id
	w.words[id] = word
	return id
}

func (w *wordTokenizer) lookup(id int64) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	word, ok := w.words[id]
	return word, ok
}

func (w *wordTokenizer) encodeWords(s string) []int64 {
	var out []int64
	for _, f := range strings.Fields(s) {
		out = append(out, w.id(f))
	}
	return out
}

func (w *wordTokenizer) Encode(question, passage string, opts EncodeOptions) (*TokenizedInput, error) {
	q := w.encodeWords(question)
	c := w.encodeWords(passage)
	budget := opts.MaxLength - 3
	for budget >= 0 && len(q)+len(c) > budget {
		if len(q) > len(c) {
			q = q[:len(q)-1]
		} else {
			c = c[:len(c)-1]
		}
	}
	ids := []int64{fakeCLS}
	ids = append(ids, q...)
	ids = append(ids, fakeSEP)
	ids = append(ids, c...)
	ids = append(ids, fakeSEP)
	if len(ids) > opts.MaxLength {
		ids = ids[:opts.MaxLength]
		c = nil
	}
	mask := make([]int64, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	return &TokenizedInput{InputIDs: ids, AttentionMask: mask, ContextTokens: len(c)}, nil
}

func (w *wordTokenizer) Decode(ids []int64, opts DecodeOptions) (string, error) {
	var words []string
	for _, id := range ids {
		if id == fakePad || id == fakeCLS || id == fakeSEP {
			if opts.SkipSpecialTokens {
				continue
			}
		}
		word, ok := w.lookup(id)
		if !ok {
			continue
		}
		words = append(words, word)
	}
	return strings.Join(words, " "), nil
}

type fakeTokenizers struct {
	tok   Tokenizer
	err   error
	loads atomic.Int32
	gate  chan struct{}
}

func (f *fakeTokenizers) Load(ctx context.Context, modelID string) (Tokenizer, error) {
	f.loads.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.tok, nil
}

type logitsFunc func(ids []int64) (LogitVector, LogitVector)

type fakeEngine struct {
	session *fakeSession
	err     error
	loads   atomic.Int32
}

func (f *fakeEngine) LoadSession(ctx context.Context, path string) (Session, error) {
	f.loads.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

type fakeSession struct {
	logits logitsFunc
	block  chan struct{}
	err    error
	runs   atomic.Int32

	// outputs overrides the computed logits when set.
	outputs []NamedTensor
}

func (s *fakeSession) Run(ctx context.Context, inputs []NamedTensor) ([]NamedTensor, error) {
	s.runs.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.outputs != nil {
		return s.outputs, nil
	}
	var ids []int64
	for _, in := range inputs {
		if in.Name == InputIDsName {
			ids = in.Data.([]int64)
		}
	}
	if ids == nil {
		return nil, errors.New("input_ids missing")
	}
	start, end := s.logits(ids)
	return []NamedTensor{
		{Name: StartLogitsName, Shape: []int64{1, int64(len(ids))}, Data: []float32(start)},
		{Name: EndLogitsName, Shape: []int64{1, int64(len(ids))}, Data: []float32(end)},
	}, nil
}

// peakAt returns logits that peak on the first occurrence of the start and
// end ids.
func peakAt(startID, endID int64) logitsFunc {
	return func(ids []int64) (LogitVector, LogitVector) {
		start := make(LogitVector, len(ids))
		end := make(LogitVector, len(ids))
		for i := range ids {
			start[i] = -2
			end[i] = -2
		}
		for i, id := range ids {
			if id == startID {
				start[i] = 7.5
				break
			}
		}
		for i, id := range ids {
			if id == endID {
				end[i] = 6.25
				break
			}
		}
		return start, end
	}
}
