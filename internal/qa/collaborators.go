package qa

import "context"

// TokenizerService loads tokenizers by model id.
type TokenizerService interface {
	Load(ctx context.Context, modelID string) (Tokenizer, error)
}

type Tokenizer interface {
	Encode(question, context string, opts EncodeOptions) (*TokenizedInput, error)
	Decode(ids []int64, opts DecodeOptions) (string, error)
}

// Engine loads model sessions by resource path.
type Engine interface {
	LoadSession(ctx context.Context, path string) (Session, error)
}

type Session interface {
	Run(ctx context.Context, inputs []NamedTensor) ([]NamedTensor, error)
}
