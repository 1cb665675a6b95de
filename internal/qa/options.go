package qa

import (
	"fmt"
	"time"
)

// TruncationStrategy picks which segment of the pair loses tokens when the
// encoded pair does not fit in MaxLength.
type TruncationStrategy string

const (
	LongestFirst TruncationStrategy = "longest_first"
	OnlyFirst    TruncationStrategy = "only_first"
	OnlySecond   TruncationStrategy = "only_second"
)

func ParseTruncationStrategy(s string) (TruncationStrategy, error) {
	switch TruncationStrategy(s) {
	case "", LongestFirst:
		return LongestFirst, nil
	case OnlyFirst, OnlySecond:
		return TruncationStrategy(s), nil
	}
	return "", fmt.Errorf("unknown truncation strategy %q", s)
}

type EncodeOptions struct {
	Padding    bool
	Truncation bool
	MaxLength  int
	Strategy   TruncationStrategy

	// PadToMaxLength pads every sequence to MaxLength instead of only to the
	// longest sequence in the call.
	PadToMaxLength bool
}

type DecodeOptions struct {
	SkipSpecialTokens bool
}

// Options configures a Pipeline. Zero values are replaced by defaults in
// NewPipeline.
type Options struct {
	ModelID   string
	ModelPath string
	MaxLength int

	Strategy       TruncationStrategy
	PadToMaxLength bool

	// AllowSingleToken relaxes the primary span check from start < end to
	// start <= end.
	AllowSingleToken bool

	// Candidates is how many top start and end positions the fallback
	// considers.
	Candidates int

	LoadTimeout      time.Duration
	InferenceTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		ModelID:          DefaultModelName,
		ModelPath:        DefaultModelPath,
		MaxLength:        DefaultMaxLength,
		Strategy:         LongestFirst,
		Candidates:       DefaultCandidates,
		LoadTimeout:      60 * time.Second,
		InferenceTimeout: 30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ModelID == "" {
		o.ModelID = d.ModelID
	}
	if o.ModelPath == "" {
		o.ModelPath = d.ModelPath
	}
	if o.MaxLength <= 0 {
		o.MaxLength = d.MaxLength
	}
	if o.Strategy == "" {
		o.Strategy = d.Strategy
	}
	if o.Candidates <= 0 {
		o.Candidates = d.Candidates
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = d.LoadTimeout
	}
	if o.InferenceTimeout <= 0 {
		o.InferenceTimeout = d.InferenceTimeout
	}
	return o
}

func (o Options) encodeOptions(maxLength int) EncodeOptions {
	return EncodeOptions{
		Padding:        true,
		Truncation:     true,
		MaxLength:      maxLength,
		Strategy:       o.Strategy,
		PadToMaxLength: o.PadToMaxLength,
	}
}
