package shared

import (
	"errors"
	"fmt"
)

// RequestError is used when we want a specific error message and StatusCode.
// The message inside Err is what the caller sees in the `error` field of the
// response body; anything more detailed belongs in the log values.
type RequestError struct {
	StatusCode int
	Err        error
}

func (r *RequestError) Error() string {
	return fmt.Sprintf("status %d: err %v", r.StatusCode, r.Err)
}

func (r *RequestError) Unwrap() error {
	return r.Err
}

var (
	ErrMissingAuth   = &RequestError{Err: errors.New("missing authorization header"), StatusCode: 401}
	ErrInvalidFormat = &RequestError{Err: errors.New("invalid authentication format"), StatusCode: 401}
	ErrInvalidKeyLen = &RequestError{Err: errors.New("invalid API key length"), StatusCode: 401}

	ErrInvalidRequest   = &RequestError{Err: errors.New("Invalid request body"), StatusCode: 400}
	ErrMissingQuestion  = &RequestError{Err: errors.New("Missing question or context"), StatusCode: 400}
	ErrUnknownModel     = &RequestError{Err: errors.New("Unknown model_name"), StatusCode: 400}
	ErrUnknownModelPath = &RequestError{Err: errors.New("Unknown model_path"), StatusCode: 400}

	ErrInternalServerError = &RequestError{Err: errors.New("Internal server error"), StatusCode: 500}
	ErrInferenceTimeout    = &RequestError{Err: errors.New("Inference timed out"), StatusCode: 504}

	ErrTokenization  = &MetricsError{Msg: "tokenization failed", Code: "tokenization_err"}
	ErrModelLoad     = &MetricsError{Msg: "failed to load model", Code: "model_load_err"}
	ErrModelRun      = &MetricsError{Msg: "model run failed", Code: "model_run_err"}
	ErrModelTimeout  = &MetricsError{Msg: "model run timed out", Code: "model_timeout"}
	ErrModelOutputs  = &MetricsError{Msg: "model outputs unusable", Code: "model_output_err"}
	ErrSaveRequests  = &MetricsError{Msg: "failed to save request log", Code: "save_requests"}
	ErrMalformedBody = &MetricsError{Msg: "malformed request body", Code: "bad_request"}
)

type MetricsError struct {
	Msg  string
	Code string
}

func (m *MetricsError) Error() string {
	return m.String()
}

func (m *MetricsError) String() string {
	return m.Msg
}
