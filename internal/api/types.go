package api

import (
	"time"

	"prayukti-judge/internal/sandbox"
)

// RunRequest is the body of POST /experiments/{id}/run.
type RunRequest struct {
	Code    string   `json:"code"`
	Input   string   `json:"input,omitempty"`
	Timeout Duration `json:"timeout,omitempty"` // Zero means the judge default
}

// SubmitRequest is the body of POST /experiments/{id}/submit.
type SubmitRequest struct {
	UserID string `json:"user_id"`
	Code   string `json:"code"`
}

// Duration wraps time.Duration for JSON marshaling as a string like "2s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// ExecutionResponse is the API-level view of one ungraded run.
type ExecutionResponse struct {
	ID              string         `json:"id"`
	Success         bool           `json:"success"`
	Output          string         `json:"output"`
	Error           string         `json:"error,omitempty"`
	ExitCode        int            `json:"exit_code"`
	Status          sandbox.Status `json:"status"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
}

func newExecutionResponse(res *sandbox.ExecutionResult) ExecutionResponse {
	return ExecutionResponse{
		ID:              res.ID,
		Success:         res.Success,
		Output:          res.Output,
		Error:           res.Error,
		ExitCode:        res.ExitCode,
		Status:          res.Status,
		ExecutionTimeMS: res.ExecutionTime.Milliseconds(),
	}
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status           string `json:"status"`
	Database         bool   `json:"database"`
	ActiveExecutions int64  `json:"active_executions"`
	Uptime           string `json:"uptime"`
}
