package qa

import (
	"math"
	"sort"
)

// Candidate is a token position with its softmax probability.
type Candidate struct {
	Index int
	Prob  float64
}

// SpanSelection is the outcome of SelectSpan. Valid is false when neither the
// argmax pair nor any fallback pair forms a usable span.
type SpanSelection struct {
	Span  Span
	Valid bool
	Path  SelectionPath

	// Populated only when the fallback ran.
	StartCandidates []Candidate
	EndCandidates   []Candidate
}

// SpanSelector turns start/end logits into a single answer span.
type SpanSelector struct {
	AllowSingleToken bool
	Candidates       int
}

// Argmax returns the index of the largest value, lowest index on ties, and -1
// for an empty vector.
func Argmax(v LogitVector) int {
	if len(v) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// Softmax normalizes logits into probabilities. The maximum is subtracted
// before exponentiation so large logits do not overflow.
func Softmax(v LogitVector) []float64 {
	out := make([]float64, len(v))
	if len(v) == 0 {
		return out
	}
	peak := float64(v[Argmax(v)])
	sum := 0.0
	for i, x := range v {
		out[i] = math.Exp(float64(x) - peak)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// TopK returns the k most probable positions, highest first. Equal
// probabilities keep index order.
func TopK(probs []float64, k int) []Candidate {
	cands := make([]Candidate, len(probs))
	for i, p := range probs {
		cands[i] = Candidate{Index: i, Prob: p}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Prob > cands[j].Prob
	})
	if k < len(cands) {
		cands = cands[:k]
	}
	return cands
}

func (s SpanSelector) primaryValid(start, end, length int) bool {
	if start < 0 || end < 0 || start >= length || end >= length {
		return false
	}
	if s.AllowSingleToken {
		return start <= end
	}
	return start < end
}

// Select picks the span for a sequence of the given length. The argmax pair
// is used when it is ordered; otherwise the most probable start among the top
// candidates is paired with the most probable end candidate after it.
func (s SpanSelector) Select(startLogits, endLogits LogitVector, length int) SpanSelection {
	start := Argmax(startLogits)
	end := Argmax(endLogits)
	if s.primaryValid(start, end, length) {
		return SpanSelection{Span: Span{Start: start, End: end}, Valid: true, Path: PathPrimary}
	}

	k := s.Candidates
	if k <= 0 {
		k = DefaultCandidates
	}
	sel := SpanSelection{
		Path:            PathNone,
		StartCandidates: TopK(Softmax(startLogits), k),
		EndCandidates:   TopK(Softmax(endLogits), k),
	}

	var starts []Candidate
	for _, c := range sel.StartCandidates {
		if c.Index < length {
			starts = append(starts, c)
		}
	}
	if len(starts) == 0 {
		return sel
	}
	chosen := starts[0]
	for _, c := range sel.EndCandidates {
		if c.Index < length && c.Index > chosen.Index {
			sel.Span = Span{Start: chosen.Index, End: c.Index}
			sel.Valid = true
			sel.Path = PathFallback
			return sel
		}
	}
	return sel
}

// SelectSpan applies the default selector: strict start < end and five
// fallback candidates per side.
func SelectSpan(startLogits, endLogits LogitVector, length int) SpanSelection {
	return SpanSelector{Candidates: DefaultCandidates}.Select(startLogits, endLogits, length)
}
