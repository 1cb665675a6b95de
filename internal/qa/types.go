// Package qa runs extractive question answering over a tokenizer and an
// execution engine: tokenize the (question, context) pair, run the model,
// pick an answer span from the start/end logits and decode it back to text.
package qa

// NoAnswer is returned in place of an answer when no usable span exists.
const NoAnswer = "no answer extracted"

const (
	DefaultMaxLength  = 512
	DefaultModelPath  = "qa-model.onnx"
	DefaultModelName  = "ybelkada/japanese-roberta-question-answering"
	DefaultCandidates = 5
)

// Tensor names exchanged with the execution engine.
const (
	InputIDsName      = "input_ids"
	AttentionMaskName = "attention_mask"
	StartLogitsName   = "start_logits"
	EndLogitsName     = "end_logits"
)

type InferenceRequest struct {
	Question  string `json:"question"`
	Context   string `json:"context"`
	MaxLength int    `json:"max_length,omitempty"`
	ModelID   string `json:"model_name,omitempty"`
	ModelPath string `json:"model_path,omitempty"`
}

// TokenizedInput is the encoded (question, context) pair. InputIDs and
// AttentionMask always have the same length; padding positions have mask 0.
type TokenizedInput struct {
	InputIDs      []int64 `json:"input_ids"`
	AttentionMask []int64 `json:"attention_mask"`

	// ContextTokens counts the context tokens that survived truncation.
	ContextTokens int `json:"-"`
}

func (t *TokenizedInput) Len() int {
	return len(t.InputIDs)
}

// LogitVector holds one unnormalized score per token position.
type LogitVector []float32

type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type AnswerResult struct {
	Answer string  `json:"answer"`
	Score  float64 `json:"score"`
}

// Extracted reports whether r carries a real answer rather than the sentinel.
func (r AnswerResult) Extracted() bool {
	return r.Answer != NoAnswer
}

func noAnswer() AnswerResult {
	return AnswerResult{Answer: NoAnswer, Score: 0}
}

// SelectionPath records which rule produced a span.
type SelectionPath string

const (
	PathPrimary  SelectionPath = "primary"
	PathFallback SelectionPath = "fallback"
	PathNone     SelectionPath = "none"
)

// Extraction is an AnswerResult plus the bookkeeping that produced it.
type Extraction struct {
	Result AnswerResult
	Span   Span
	Path   SelectionPath
	Tokens int
}

// NamedTensor is a model input or output. Data is []int64 for inputs and
// []float32 for logits.
type NamedTensor struct {
	Name  string
	Shape []int64
	Data  any
}
