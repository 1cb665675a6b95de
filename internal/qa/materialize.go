package qa

import (
	"fmt"
	"math"
	"strings"
)

// Score is the mean of the raw start logit at span.Start and the raw end
// logit at span.End. Probabilities from the fallback are never used here.
func Score(startLogits, endLogits LogitVector, span Span) float64 {
	return (float64(startLogits[span.Start]) + float64(endLogits[span.End])) / 2
}

// Materialize decodes the span back to text. An empty slice or a blank
// decode yields the sentinel result; only tokenizer failures are errors.
func Materialize(tok Tokenizer, inputIDs []int64, span Span, startLogits, endLogits LogitVector) (AnswerResult, error) {
	if span.Start < 0 || span.End >= len(inputIDs) || span.Start > span.End {
		return noAnswer(), nil
	}
	if span.Start >= len(startLogits) || span.End >= len(endLogits) {
		return noAnswer(), nil
	}
	ids := inputIDs[span.Start : span.End+1]
	if len(ids) == 0 {
		return noAnswer(), nil
	}

	text, err := tok.Decode(ids, DecodeOptions{SkipSpecialTokens: true})
	if err != nil {
		return AnswerResult{}, fmt.Errorf("decoding answer tokens: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return noAnswer(), nil
	}
	score := Score(startLogits, endLogits, span)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return noAnswer(), nil
	}
	return AnswerResult{Answer: text, Score: score}, nil
}
