package sandbox

import (
	"errors"
	"time"
)

// Status classifies how an execution ended.
type Status string

const (
	StatusCompleted    Status = "completed"
	StatusRuntimeError Status = "runtime_error"
	StatusTimeout      Status = "timeout"
	StatusCompileError Status = "compile_error"
	StatusRejected     Status = "security_rejected"
	StatusSystemError  Status = "system_error"
)

// ExecutionRequest is one ungraded run: build the source, feed it Stdin once.
type ExecutionRequest struct {
	Code    string        `json:"code"`
	Stdin   string        `json:"stdin,omitempty"`
	Timeout time.Duration `json:"timeout"` // Zero means the engine default
}

// ExecutionResult is owned by the caller that requested it.
type ExecutionResult struct {
	ID            string        `json:"id"`
	Success       bool          `json:"success"`
	Output        string        `json:"output"`
	Error         string        `json:"error,omitempty"`
	ExitCode      int           `json:"exit_code"`
	Status        Status        `json:"status"`
	ExecutionTime time.Duration `json:"execution_time"`
	CodeHash      string        `json:"code_hash,omitempty"`
}

// FailureResult converts a build-stage or system error into the result a
// student sees. Security rejections report zero elapsed time.
func FailureResult(err error) *ExecutionResult {
	res := &ExecutionResult{ExitCode: -1}

	var ce *CompilationError
	switch {
	case err == nil:
		res.Status = StatusSystemError
		res.Error = "execution failed"
	case IsSecurityRejection(err):
		res.Status = StatusRejected
		res.Error = err.Error()
	case errors.As(err, &ce):
		res.Status = StatusCompileError
		res.Error = ce.Diagnostics
	case IsTimeout(err):
		res.Status = StatusTimeout
		res.Error = TimeLimitMessage
	default:
		res.Status = StatusSystemError
		res.Error = err.Error()
	}
	return res
}
