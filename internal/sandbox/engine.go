package sandbox

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"prayukti-judge/internal/guard"
	"prayukti-judge/internal/monitor"
	"prayukti-judge/internal/runtime"
)

// Program is a compiled unit. It can be run any number of times until
// Release is called.
type Program interface {
	Unit() string
	Run(ctx context.Context, stdin string, timeout time.Duration) (*ExecutionResult, error)
	Release()
}

type EngineConfig struct {
	Toolchain     runtime.Toolchain
	Namer         runtime.UnitNamer // Defaults to the Java public class namer
	Guard         *guard.Guard      // Defaults to guard.DefaultRules
	Tracer        *monitor.Tracer   // Defaults to the global provider
	Scratch       *Scratch
	Limits        Limits
	MaxConcurrent int
}

// Engine materializes, screens, compiles and runs submitted source as plain
// child processes.
type Engine struct {
	toolchain runtime.Toolchain
	namer     runtime.UnitNamer
	guard     *guard.Guard
	tracer    *monitor.Tracer
	scratch   *Scratch
	limits    Limits
	sem       chan struct{}  // Concurrency limiter
	active    atomic.Int64   // Active process count
	wg        sync.WaitGroup // Builds in progress and unreleased programs
	mu        sync.Mutex // Protects shutdown state
	closed    bool
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Toolchain == nil {
		return nil, errors.New("engine: toolchain is required")
	}
	if cfg.Scratch == nil {
		return nil, errors.New("engine: scratch area is required")
	}
	if cfg.Namer == nil {
		cfg.Namer = runtime.JavaNamer()
	}
	if cfg.Guard == nil {
		cfg.Guard = guard.New(guard.DefaultRules())
	}
	if cfg.Tracer == nil {
		cfg.Tracer = monitor.NewTracer()
	}
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}
	if err := cfg.Limits.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 32
	}

	return &Engine{
		toolchain: cfg.Toolchain,
		namer:     cfg.Namer,
		guard:     cfg.Guard,
		tracer:    cfg.Tracer,
		scratch:   cfg.Scratch,
		limits:    cfg.Limits,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

func (e *Engine) Limits() Limits {
	return e.limits
}

// ActiveCount returns the number of compiler or program processes running.
func (e *Engine) ActiveCount() int64 {
	return e.active.Load()
}

// Execute is the ungraded path: build, run once with req.Stdin, release.
// The result is never nil; the error classifies what went wrong.
func (e *Engine) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if err := e.validateTimeout(req.Timeout); err != nil {
		return FailureResult(err), err
	}

	prog, err := e.Build(ctx, req.Code)
	if err != nil {
		return FailureResult(err), err
	}
	defer prog.Release()

	return prog.Run(ctx, req.Stdin, req.Timeout)
}

// Build screens the source, writes it to a fresh workspace and compiles it.
// Nothing is spawned for source the guard rejects. The returned Program keeps
// Close waiting until it is released.
func (e *Engine) Build(ctx context.Context, code string) (prog Program, err error) {
	ctx, span := e.tracer.StartSpan(ctx, "build")
	defer func() { monitor.EndSpan(span, err) }()

	buildID := uuid.New().String()
	codeHash := fmt.Sprintf("%x", sha256.Sum256([]byte(code)))

	logger := log.With().
		Str("exec_id", buildID).
		Str("toolchain", e.toolchain.Name()).
		Str("code_hash", codeHash[:16]).
		Logger()

	if err := e.validateCode(code); err != nil {
		return nil, &ExecutionError{ExecID: buildID, Op: "validate", Err: err}
	}

	if err := e.guard.Check(code); err != nil {
		logger.Warn().Msg("source rejected before build")
		return nil, err
	}

	if err := e.enter(); err != nil {
		return nil, &ExecutionError{ExecID: buildID, Op: "acquire_slot", Err: err}
	}
	handedOff := false
	defer func() {
		if !handedOff {
			e.wg.Done()
		}
	}()

	release, err := e.slot(ctx)
	if err != nil {
		return nil, &ExecutionError{ExecID: buildID, Op: "acquire_slot", Err: err}
	}
	defer release()

	unit := e.namer.UnitName(code)
	span.SetAttributes(monitor.AttrUnit.String(unit))
	ws, err := e.scratch.Acquire(buildID)
	if err != nil {
		return nil, &ExecutionError{ExecID: buildID, Op: "acquire_workspace", Err: err}
	}

	srcPath, err := ws.WriteSource(unit+e.toolchain.FileExtension(), code)
	if err != nil {
		ws.Release()
		return nil, &ExecutionError{ExecID: buildID, Op: "write_source", Err: err}
	}

	outcome, err := runProcess(ctx, processSpec{
		Args:      e.toolchain.CompileCommand(srcPath, ws.Dir()),
		Dir:       ws.Dir(),
		Timeout:   e.limits.CompileTimeout,
		MaxOutput: e.limits.MaxOutputBytes,
	})
	if err != nil {
		ws.Release()
		return nil, &ExecutionError{ExecID: buildID, Op: "compile", Err: err}
	}

	if outcome.TimedOut {
		ws.Release()
		logger.Warn().Dur("limit", e.limits.CompileTimeout).Msg("compilation timed out")
		return nil, &CompilationError{
			Unit:        unit,
			Diagnostics: fmt.Sprintf("compilation exceeded %s", e.limits.CompileTimeout),
		}
	}

	if outcome.ExitCode != 0 {
		ws.Release()
		logger.Info().Int("exit_code", outcome.ExitCode).Str("unit", unit).Msg("compilation failed")
		return nil, &CompilationError{Unit: unit, Diagnostics: diagnostics(outcome)}
	}

	logger.Info().
		Str("unit", unit).
		Dur("duration", outcome.Elapsed).
		Msg("build completed")

	handedOff = true
	return &compiledProgram{
		engine:   e,
		ws:       ws,
		unit:     unit,
		codeHash: codeHash,
	}, nil
}

// Close stops accepting builds and waits up to 30s for running builds and
// for every built Program to be released. Programs keep running until then.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all executions drained")
	case <-time.After(30 * time.Second):
		log.Warn().Int64("active", e.active.Load()).Msg("timed out waiting for executions to drain")
	}

	if e.scratch.cleaner != nil {
		e.scratch.cleaner.Flush(10 * time.Second)
	}
	return nil
}

// enter registers a build with the drain group unless the engine is closed.
func (e *Engine) enter() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.wg.Add(1)
	return nil
}

// slot waits for a concurrency slot.
func (e *Engine) slot(ctx context.Context) (func(), error) {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	e.active.Add(1)
	return func() {
		e.active.Add(-1)
		<-e.sem
	}, nil
}

func (e *Engine) validateCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: code is empty", ErrInvalidRequest)
	}
	if len(code) > e.limits.MaxCodeBytes {
		return fmt.Errorf("%w: code exceeds %d byte limit", ErrInvalidRequest, e.limits.MaxCodeBytes)
	}
	return nil
}

func (e *Engine) validateTimeout(timeout time.Duration) error {
	if timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidRequest)
	}
	if timeout > e.limits.MaxTimeout {
		return fmt.Errorf("%w: timeout exceeds %s maximum", ErrInvalidRequest, e.limits.MaxTimeout)
	}
	return nil
}

func diagnostics(o *processOutcome) string {
	switch {
	case o.Stderr != "" && o.Stdout != "":
		return o.Stderr + "\n" + o.Stdout
	case o.Stderr != "":
		return o.Stderr
	default:
		return o.Stdout
	}
}

type compiledProgram struct {
	engine   *Engine
	ws       *Workspace
	unit     string
	codeHash string
	once     sync.Once
	released atomic.Bool
}

func (p *compiledProgram) Unit() string {
	return p.unit
}

// Run launches the compiled unit with stdin. A zero timeout uses the engine
// default. The result is never nil.
func (p *compiledProgram) Run(ctx context.Context, stdin string, timeout time.Duration) (*ExecutionResult, error) {
	runID := uuid.New().String()
	logger := log.With().
		Str("exec_id", runID).
		Str("unit", p.unit).
		Str("code_hash", p.codeHash[:16]).
		Logger()

	if timeout == 0 {
		timeout = p.engine.limits.Timeout
	}
	if err := p.engine.validateTimeout(timeout); err != nil {
		return p.failure(runID, err), err
	}
	if p.released.Load() {
		execErr := &ExecutionError{ExecID: runID, Op: "run", Err: fmt.Errorf("%w: program already released", ErrInvalidRequest)}
		return p.failure(runID, execErr), execErr
	}

	release, err := p.engine.slot(ctx)
	if err != nil {
		execErr := &ExecutionError{ExecID: runID, Op: "acquire_slot", Err: err}
		return p.failure(runID, execErr), execErr
	}
	defer release()

	limits := p.engine.limits
	outcome, err := runProcess(ctx, processSpec{
		Args: p.engine.toolchain.RunCommand(p.ws.Dir(), p.unit, runtime.RunOptions{
			MemoryMB: limits.MemoryMB,
			StackMB:  limits.StackMB,
		}),
		Dir:       p.ws.Dir(),
		Stdin:     stdin,
		Timeout:   timeout,
		MaxOutput: limits.MaxOutputBytes,
	})
	if err != nil {
		execErr := &ExecutionError{ExecID: runID, Op: "run", Err: err}
		logger.Error().Err(err).Msg("program could not be run")
		res := p.failure(runID, execErr)
		if outcome != nil {
			res.Output = outcome.Stdout
		}
		return res, execErr
	}

	res := &ExecutionResult{
		ID:            runID,
		Output:        outcome.Stdout,
		ExitCode:      outcome.ExitCode,
		ExecutionTime: outcome.Elapsed,
		CodeHash:      p.codeHash,
	}

	switch {
	case outcome.TimedOut:
		logger.Warn().Dur("limit", timeout).Msg("execution timed out, process group killed")
		res.Status = StatusTimeout
		res.Error = TimeLimitMessage
		return res, ErrTimeout

	case outcome.ExitCode != 0:
		logger.Info().Int("exit_code", outcome.ExitCode).Dur("duration", outcome.Elapsed).Msg("program exited with error")
		res.Status = StatusRuntimeError
		res.Error = outcome.Stderr
		return res, fmt.Errorf("%w: exit code %d", ErrRuntime, outcome.ExitCode)
	}

	logger.Info().
		Dur("duration", outcome.Elapsed).
		Msg("execution completed")

	res.Success = true
	res.Status = StatusCompleted
	res.Error = outcome.Stderr
	return res, nil
}

// Release schedules the workspace for asynchronous removal and lets a
// pending Close finish.
func (p *compiledProgram) Release() {
	p.once.Do(func() {
		p.released.Store(true)
		p.ws.Release()
		p.engine.wg.Done()
	})
}

func (p *compiledProgram) failure(runID string, err error) *ExecutionResult {
	res := FailureResult(err)
	res.ID = runID
	res.CodeHash = p.codeHash
	return res
}
