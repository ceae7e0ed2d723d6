package sandbox

import (
	"fmt"
	"time"
)

type Limits struct {
	Timeout        time.Duration // Wall-clock deadline per run
	MaxTimeout     time.Duration // Ceiling for caller-supplied timeouts
	CompileTimeout time.Duration
	MemoryMB       int64 // Passed to the run process as a launch flag
	StackMB        int64
	MaxCodeBytes   int
	MaxOutputBytes int // Per stream; excess is drained and discarded
}

func DefaultLimits() Limits {
	return Limits{
		Timeout:        2 * time.Second,
		MaxTimeout:     10 * time.Second,
		CompileTimeout: 10 * time.Second,
		MemoryMB:       256,
		StackMB:        64,
		MaxCodeBytes:   64 << 10, // 64KB
		MaxOutputBytes: 1 << 20,  // 1MB
	}
}

func (l Limits) Validate() error {
	if l.Timeout < 10*time.Millisecond {
		return fmt.Errorf("%w: timeout must be >= 10ms, got %s", ErrInvalidRequest, l.Timeout)
	}
	if l.MaxTimeout < l.Timeout {
		return fmt.Errorf("%w: max_timeout (%s) must be >= timeout (%s)", ErrInvalidRequest, l.MaxTimeout, l.Timeout)
	}
	if l.CompileTimeout < time.Second {
		return fmt.Errorf("%w: compile_timeout must be >= 1s, got %s", ErrInvalidRequest, l.CompileTimeout)
	}
	if l.MemoryMB < 16 || l.MemoryMB > 4096 {
		return fmt.Errorf("%w: memory_mb must be 16-4096, got %d", ErrInvalidRequest, l.MemoryMB)
	}
	if l.StackMB < 0 || l.StackMB > l.MemoryMB {
		return fmt.Errorf("%w: stack_mb must be 0-%d, got %d", ErrInvalidRequest, l.MemoryMB, l.StackMB)
	}
	if l.MaxCodeBytes < 1 {
		return fmt.Errorf("%w: max_code_bytes must be positive", ErrInvalidRequest)
	}
	if l.MaxOutputBytes < 1 {
		return fmt.Errorf("%w: max_output_bytes must be positive", ErrInvalidRequest)
	}
	return nil
}
