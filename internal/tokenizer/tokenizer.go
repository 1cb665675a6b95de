// Package tokenizer encodes question/context pairs with HuggingFace
// tokenizer.json files.
package tokenizer

import (
	"context"
	"fmt"
	"os"

	"qa-api/internal/qa"

	tokenizers "github.com/amikos-tech/pure-tokenizers"
	"go.uber.org/zap"
)

// codec encodes a single text segment without special tokens and decodes ids
// back to text.
type codec interface {
	Encode(text string) ([]uint32, error)
	Decode(ids []uint32, skipSpecialTokens bool) (string, error)
}

type nativeCodec struct {
	tk *tokenizers.Tokenizer
}

func (n *nativeCodec) Encode(text string) ([]uint32, error) {
	res, err := n.tk.Encode(text)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("empty tokenizer result")
	}
	return res.IDs, nil
}

func (n *nativeCodec) Decode(ids []uint32, skipSpecialTokens bool) (string, error) {
	return n.tk.Decode(ids, skipSpecialTokens)
}

// Service loads tokenizers through a Resolver and the native tokenizers
// library.
type Service struct {
	resolver    *Resolver
	libraryPath string
	log         *zap.SugaredLogger
}

func NewService(resolver *Resolver, libraryPath string, log *zap.SugaredLogger) *Service {
	return &Service{resolver: resolver, libraryPath: libraryPath, log: log}
}

func (s *Service) Load(ctx context.Context, modelID string) (qa.Tokenizer, error) {
	path, err := s.resolver.Resolve(ctx, modelID)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	tmpl, err := parseTemplate(raw)
	if err != nil {
		return nil, err
	}

	var opts []tokenizers.TokenizerOption
	if s.libraryPath != "" {
		opts = append(opts, tokenizers.WithLibraryPath(s.libraryPath))
	}
	tk, err := tokenizers.FromFile(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	s.log.Debugw("Tokenizer template", "model", modelID, "prefix", tmpl.Prefix, "middle", tmpl.Middle, "suffix", tmpl.Suffix, "pad_id", tmpl.PadID)
	return &Tokenizer{codec: &nativeCodec{tk: tk}, tmpl: tmpl}, nil
}

// Tokenizer implements qa.Tokenizer for one loaded tokenizer.json.
type Tokenizer struct {
	codec codec
	tmpl  *pairTemplate
}

func (t *Tokenizer) Encode(question, passage string, opts qa.EncodeOptions) (*qa.TokenizedInput, error) {
	q, err := t.segment(question)
	if err != nil {
		return nil, fmt.Errorf("encoding question: %w", err)
	}
	c, err := t.segment(passage)
	if err != nil {
		return nil, fmt.Errorf("encoding context: %w", err)
	}
	return t.tmpl.assemble(q, c, opts)
}

func (t *Tokenizer) segment(text string) ([]int64, error) {
	if text == "" {
		return nil, nil
	}
	raw, err := t.codec.Encode(text)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(raw))
	for i, id := range raw {
		ids[i] = int64(id)
	}
	return t.tmpl.stripSpecial(ids), nil
}

func (t *Tokenizer) Decode(ids []int64, opts qa.DecodeOptions) (string, error) {
	raw := make([]uint32, 0, len(ids))
	for _, id := range ids {
		if id < 0 {
			return "", fmt.Errorf("negative token id %d", id)
		}
		if opts.SkipSpecialTokens && t.tmpl.Special[id] {
			continue
		}
		raw = append(raw, uint32(id))
	}
	if len(raw) == 0 {
		return "", nil
	}
	return t.codec.Decode(raw, opts.SkipSpecialTokens)
}
