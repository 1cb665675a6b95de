package tokenizer

import (
	"fmt"

	"qa-api/internal/qa"
)

// truncatePair shortens the question and context token lists until together
// they fit in budget.
func truncatePair(q, c []int64, budget int, strategy qa.TruncationStrategy) ([]int64, []int64) {
	if budget < 0 {
		budget = 0
	}
	switch strategy {
	case qa.OnlySecond:
		c = c[:clamp(budget-len(q), 0, len(c))]
		q = q[:clamp(budget, 0, len(q))]
	case qa.OnlyFirst:
		q = q[:clamp(budget-len(c), 0, len(q))]
		c = c[:clamp(budget, 0, len(c))]
	default:
		// One token at a time from the longer list; the context loses ties.
		for len(q)+len(c) > budget {
			if len(q) > len(c) {
				q = q[:len(q)-1]
			} else {
				c = c[:len(c)-1]
			}
		}
	}
	return q, c
}

// assemble lays out Prefix q Middle c Suffix, applies truncation and
// padding, and builds the attention mask.
func (t *pairTemplate) assemble(q, c []int64, opts qa.EncodeOptions) (*qa.TokenizedInput, error) {
	total := t.specialCount() + len(q) + len(c)
	limited := opts.MaxLength > 0
	if limited && total > opts.MaxLength {
		if !opts.Truncation {
			return nil, fmt.Errorf("encoded length %d exceeds max length %d and truncation is disabled", total, opts.MaxLength)
		}
		q, c = truncatePair(q, c, opts.MaxLength-t.specialCount(), opts.Strategy)
	}

	ids := make([]int64, 0, t.specialCount()+len(q)+len(c))
	ids = append(ids, t.Prefix...)
	ids = append(ids, q...)
	ids = append(ids, t.Middle...)
	contextStart := len(ids)
	ids = append(ids, c...)
	ids = append(ids, t.Suffix...)

	// Not even the special tokens fit.
	if limited && len(ids) > opts.MaxLength {
		ids = ids[:opts.MaxLength]
	}
	contextTokens := clamp(len(ids)-contextStart, 0, len(c))

	pad := limited && opts.Padding && opts.PadToMaxLength
	size := len(ids)
	if pad {
		size = max(size, opts.MaxLength)
	}
	mask := make([]int64, len(ids), size)
	for i := range mask {
		mask[i] = 1
	}
	if pad {
		for len(ids) < opts.MaxLength {
			ids = append(ids, t.PadID)
			mask = append(mask, 0)
		}
	}

	return &qa.TokenizedInput{InputIDs: ids, AttentionMask: mask, ContextTokens: contextTokens}, nil
}

func (t *pairTemplate) stripSpecial(ids []int64) []int64 {
	out := ids[:0]
	for _, id := range ids {
		if !t.Special[id] {
			out = append(out, id)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
