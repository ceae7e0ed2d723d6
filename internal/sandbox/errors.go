package sandbox

import (
	"errors"
	"fmt"

	"prayukti-judge/internal/guard"
)

// TimeLimitMessage is the error text of every timed-out run.
const TimeLimitMessage = "Time Limit Exceeded"

// Sentinel errors for typed error checking.
var (
	ErrTimeout           = errors.New("execution timed out")
	ErrRuntime           = errors.New("program exited with non-zero status")
	ErrSecurityRejection = guard.ErrRejected
	ErrInvalidRequest    = errors.New("invalid execution request")
	ErrClosed            = errors.New("engine is closed")
)

// ExecutionError wraps system faults with execution context.
type ExecutionError struct {
	ExecID string
	Op     string // The operation that failed
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.ExecID != "" {
		return fmt.Sprintf("execution %s: %s: %s", e.ExecID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// CompilationError carries the compiler's diagnostics verbatim.
type CompilationError struct {
	Unit        string
	Diagnostics string
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("compilation of %s failed", e.Unit)
}

// IsTimeout returns true if the error is a time limit violation.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsSecurityRejection returns true if the static guard refused the source.
func IsSecurityRejection(err error) bool {
	return errors.Is(err, ErrSecurityRejection)
}

// IsCompilationError returns true if the build stage failed.
func IsCompilationError(err error) bool {
	var ce *CompilationError
	return errors.As(err, &ce)
}

// IsRuntimeError returns true if the program ran but exited non-zero.
func IsRuntimeError(err error) bool {
	return errors.Is(err, ErrRuntime)
}
