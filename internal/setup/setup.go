// Package setup builds the qa pipeline and logger from command line flags
package setup

import (
	"flag"
	"fmt"
	"time"

	"qa-api/internal/engine"
	"qa-api/internal/qa"
	"qa-api/internal/tokenizer"

	"go.uber.org/zap"
)

// PipelineFlags are the flags shared by every binary that runs the pipeline.
type PipelineFlags struct {
	Debug             *bool
	ModelPath         *string
	ModelName         *string
	MaxLength         *int
	Truncation        *string
	PadToMaxLength    *bool
	AllowSingleToken  *bool
	LoadTimeout       *time.Duration
	InferenceTimeout  *time.Duration
	ORTLibrary        *string
	TokenizersLibrary *string
	TokenizerCacheDir *string
	HubURL            *string
	MaxSessions       *int
}

// RegisterPipelineFlags defines the pipeline flags on fs.
func RegisterPipelineFlags(fs *flag.FlagSet) *PipelineFlags {
	d := qa.DefaultOptions()
	return &PipelineFlags{
		Debug:             fs.Bool("debug", false, "Debug enabled"),
		ModelPath:         fs.String("model-path", d.ModelPath, "Path to the question answering ONNX model"),
		ModelName:         fs.String("model-name", d.ModelID, "Tokenizer model id, tokenizer.json path or directory"),
		MaxLength:         fs.Int("max-length", d.MaxLength, "Maximum encoded sequence length"),
		Truncation:        fs.String("truncation", string(d.Strategy), "Truncation strategy: longest_first, only_first or only_second"),
		PadToMaxLength:    fs.Bool("pad-to-max-length", false, "Pad encodings to max-length"),
		AllowSingleToken:  fs.Bool("allow-single-token", false, "Accept spans where start equals end"),
		LoadTimeout:       fs.Duration("load-timeout", d.LoadTimeout, "Timeout for loading a tokenizer or model"),
		InferenceTimeout:  fs.Duration("inference-timeout", d.InferenceTimeout, "Timeout for one model run"),
		ORTLibrary:        fs.String("ort-library", "", "Path to the ONNX Runtime shared library"),
		TokenizersLibrary: fs.String("tokenizers-library", "", "Path to the tokenizers shared library"),
		TokenizerCacheDir: fs.String("tokenizer-cache-dir", "", "Directory for downloaded tokenizer.json files"),
		HubURL:            fs.String("hub-url", tokenizer.DefaultHubURL, "Model hub base URL"),
		MaxSessions:       fs.Int("max-sessions", engine.DefaultMaxCachedSessions, "Bound sessions kept per model, one per sequence length"),
	}
}

func (f *PipelineFlags) Options() (qa.Options, error) {
	strategy, err := qa.ParseTruncationStrategy(*f.Truncation)
	if err != nil {
		return qa.Options{}, err
	}
	return qa.Options{
		ModelID:          *f.ModelName,
		ModelPath:        *f.ModelPath,
		MaxLength:        *f.MaxLength,
		Strategy:         strategy,
		PadToMaxLength:   *f.PadToMaxLength,
		AllowSingleToken: *f.AllowSingleToken,
		LoadTimeout:      *f.LoadTimeout,
		InferenceTimeout: *f.InferenceTimeout,
	}, nil
}

func NewLogger(debug bool) (*zap.SugaredLogger, error) {
	var logger *zap.Logger
	var err error
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed init logger: %w", err)
	}
	return logger.Sugar(), nil
}

// NewPipeline wires the tokenizer service and the ONNX engine into a
// pipeline. The returned engine must be closed on shutdown.
func NewPipeline(f *PipelineFlags, log *zap.SugaredLogger) (*qa.Pipeline, *engine.Engine, error) {
	opts, err := f.Options()
	if err != nil {
		return nil, nil, err
	}
	resolver := tokenizer.NewResolver(*f.HubURL, *f.TokenizerCacheDir, log)
	tokenizers := tokenizer.NewService(resolver, *f.TokenizersLibrary, log)
	eng := engine.New(*f.ORTLibrary, *f.MaxSessions, log)
	return qa.NewPipeline(tokenizers, eng, log, opts), eng, nil
}
