// Command qa answers one question against a context from the command line
// and prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"qa-api/internal/qa"
	"qa-api/internal/setup"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
)

func main() {
	question := flag.String("question", "", "Question to answer")
	passage := flag.String("context", "", "Context to search for the answer")
	verbose := flag.Bool("verbose", false, "Include the selected span and selection path")
	pf := setup.RegisterPipelineFlags(flag.CommandLine)

	if err := eflag.SetFlagsFromEnvironment(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading environment: %v\n", err)
		os.Exit(2)
	}
	flag.Parse()

	os.Exit(run(*question, *passage, *verbose, pf))
}

func run(question, passage string, verbose bool, pf *setup.PipelineFlags) int {
	log, err := setup.NewLogger(*pf.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() {
		_ = log.Sync()
	}()

	pipeline, eng, err := setup.NewPipeline(pf, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	defer func() {
		_ = eng.Close()
	}()

	ex, err := pipeline.Extract(context.Background(), qa.InferenceRequest{Question: question, Context: passage})
	if err != nil {
		var terr *qa.TokenizationError
		switch {
		case errors.As(err, &terr):
			fmt.Fprintf(os.Stderr, "Tokenization failed: %v\n", err)
		case errors.Is(err, qa.ErrTimeout):
			fmt.Fprintf(os.Stderr, "Inference timed out: %v\n", err)
		default:
			fmt.Fprintf(os.Stderr, "Inference failed: %v\n", err)
		}
		return 1
	}

	var out any = ex.Result
	if verbose {
		out = struct {
			qa.AnswerResult
			Span   qa.Span          `json:"span"`
			Path   qa.SelectionPath `json:"path"`
			Tokens int              `json:"tokens"`
		}{ex.Result, ex.Span, ex.Path, ex.Tokens}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
