package shared

import "time"

type TokenizeBody struct {
	Question  string `json:"question"`
	Context   string `json:"context"`
	ModelName string `json:"model_name,omitempty"`
}

type TokenizeResponse struct {
	InputIDs      []int64 `json:"input_ids"`
	AttentionMask []int64 `json:"attention_mask"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type Model struct {
	ID       string `json:"id"`
	Object   string `json:"object"`
	Kind     string `json:"kind"`
	Default  bool   `json:"default"`
	Resident bool   `json:"resident"`
}

type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// QARecord is one answered request as stored in the request log.
type QARecord struct {
	Endpoint    string
	Model       string
	ModelPath   string
	InputTokens int
	Path        string
	Extracted   bool
	Cached      bool
	Score       float64
	TotalTime   time.Duration
	CreatedAt   time.Time
}

var ENDPOINTS = struct {
	QA       string
	TOKENIZE string
}{
	QA:       "QA",
	TOKENIZE: "TOKENIZE",
}
