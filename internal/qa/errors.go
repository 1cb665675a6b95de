package qa

import (
	"errors"
	"fmt"
)

var ErrTimeout = errors.New("timeout")

// TokenizationError means the tokenizer resource could not be loaded or the
// input could not be encoded.
type TokenizationError struct {
	Model string
	Err   error
}

func (e *TokenizationError) Error() string {
	return fmt.Sprintf("tokenization failed for %q: %v", e.Model, e.Err)
}

func (e *TokenizationError) Unwrap() error {
	return e.Err
}

// InferenceError means the model could not be loaded or the engine rejected
// the inputs or returned malformed outputs.
type InferenceError struct {
	Model string
	Op    string
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference %s failed for %q: %v", e.Op, e.Model, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
