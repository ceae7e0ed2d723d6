package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"prayukti-judge/internal/guard"
	"prayukti-judge/internal/runtime"
)

// shToolchain stands in for a compiler: "compiling" is a syntax check and
// running executes the checked script.
type shToolchain struct{}

func (shToolchain) Name() string          { return "sh" }
func (shToolchain) FileExtension() string { return ".sh" }
func (shToolchain) Binaries() []string    { return []string{"/bin/sh"} }

func (shToolchain) CompileCommand(srcPath, outDir string) []string {
	return []string{"/bin/sh", "-n", srcPath}
}

func (shToolchain) RunCommand(outDir, unit string, opts runtime.RunOptions) []string {
	return []string{"/bin/sh", filepath.Join(outDir, unit+".sh")}
}

var shUnit = regexp.MustCompile(`#\s*unit:\s*(\w+)`)

func testLimits() Limits {
	return Limits{
		Timeout:        time.Second,
		MaxTimeout:     3 * time.Second,
		CompileTimeout: 2 * time.Second,
		MemoryMB:       64,
		MaxCodeBytes:   4096,
		MaxOutputBytes: 1 << 16,
	}
}

func newTestEngine(t *testing.T, limits Limits) (*Engine, *Scratch) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}

	scratch, err := NewScratch(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewScratch: %v", err)
	}
	engine, err := NewEngine(EngineConfig{
		Toolchain:     shToolchain{},
		Namer:         runtime.NewPatternNamer(shUnit, "Unit_"),
		Guard:         guard.New(guard.DefaultRules()),
		Scratch:       scratch,
		Limits:        limits,
		MaxConcurrent: 4,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine, scratch
}

func workspaceCount(t *testing.T, s *Scratch) int {
	t.Helper()
	entries, err := os.ReadDir(s.Root())
	if err != nil {
		t.Fatalf("reading scratch root: %v", err)
	}
	return len(entries)
}

func TestNewEngine_RequiresToolchainAndScratch(t *testing.T) {
	if _, err := NewEngine(EngineConfig{}); err == nil {
		t.Error("expected error without toolchain")
	}
	if _, err := NewEngine(EngineConfig{Toolchain: shToolchain{}}); err == nil {
		t.Error("expected error without scratch area")
	}
}

func TestExecute_Success(t *testing.T) {
	engine, scratch := newTestEngine(t, testLimits())

	res, err := engine.Execute(context.Background(), ExecutionRequest{
		Code: "# unit: Hello\necho 'Hello, Prayukti!'\n",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Status != StatusCompleted {
		t.Errorf("Success=%v Status=%s, want completed", res.Success, res.Status)
	}
	if res.Output != "Hello, Prayukti!\n" {
		t.Errorf("Output = %q", res.Output)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if res.ExecutionTime <= 0 {
		t.Error("ExecutionTime should be positive")
	}
	if n := workspaceCount(t, scratch); n != 0 {
		t.Errorf("%d workspaces left after Execute, want 0", n)
	}
}

func TestExecute_Stdin(t *testing.T) {
	engine, _ := newTestEngine(t, testLimits())

	res, err := engine.Execute(context.Background(), ExecutionRequest{
		Code:  "read line\necho \"got $line\"\n",
		Stdin: "hello\n",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "got hello\n" {
		t.Errorf("Output = %q, want %q", res.Output, "got hello\n")
	}
}

func TestExecute_RuntimeError(t *testing.T) {
	engine, _ := newTestEngine(t, testLimits())

	res, err := engine.Execute(context.Background(), ExecutionRequest{
		Code: "echo before\necho oops >&2\nexit 3\n",
	})
	if !IsRuntimeError(err) {
		t.Fatalf("err = %v, want runtime error", err)
	}
	if res.Success {
		t.Error("Success should be false")
	}
	if res.Status != StatusRuntimeError || res.ExitCode != 3 {
		t.Errorf("Status=%s ExitCode=%d, want runtime_error/3", res.Status, res.ExitCode)
	}
	if res.Output != "before\n" {
		t.Errorf("Output = %q, want stdout kept", res.Output)
	}
	if !strings.Contains(res.Error, "oops") {
		t.Errorf("Error = %q, want stderr", res.Error)
	}
}

func TestExecute_Timeout(t *testing.T) {
	limits := testLimits()
	limits.Timeout = 200 * time.Millisecond
	engine, _ := newTestEngine(t, limits)

	start := time.Now()
	res, err := engine.Execute(context.Background(), ExecutionRequest{
		Code: "echo partial\nsleep 5\necho never\n",
	})
	wall := time.Since(start)

	if !IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if res.Status != StatusTimeout || res.Error != TimeLimitMessage {
		t.Errorf("Status=%s Error=%q", res.Status, res.Error)
	}
	if res.ExecutionTime != 200*time.Millisecond {
		t.Errorf("ExecutionTime = %s, want the configured timeout", res.ExecutionTime)
	}
	if !strings.Contains(res.Output, "partial") || strings.Contains(res.Output, "never") {
		t.Errorf("Output = %q, want partial output only", res.Output)
	}
	if wall > 3*time.Second {
		t.Errorf("Execute took %s, process group was not killed", wall)
	}
}

func TestExecute_CompileError(t *testing.T) {
	engine, scratch := newTestEngine(t, testLimits())

	res, err := engine.Execute(context.Background(), ExecutionRequest{
		Code: "if then\n",
	})
	if !IsCompilationError(err) {
		t.Fatalf("err = %v, want compilation error", err)
	}
	if res.Status != StatusCompileError {
		t.Errorf("Status = %s, want compile_error", res.Status)
	}
	if res.Error == "" {
		t.Error("diagnostics should be reported")
	}
	if n := workspaceCount(t, scratch); n != 0 {
		t.Errorf("%d workspaces left after failed build", n)
	}
}

func TestExecute_SecurityRejection(t *testing.T) {
	engine, scratch := newTestEngine(t, testLimits())

	res, err := engine.Execute(context.Background(), ExecutionRequest{
		Code: "# java.net.Socket\necho hi\n",
	})
	if !IsSecurityRejection(err) {
		t.Fatalf("err = %v, want security rejection", err)
	}
	if res.Status != StatusRejected || res.Error != guard.SecurityMessage {
		t.Errorf("Status=%s Error=%q", res.Status, res.Error)
	}
	if res.ExecutionTime != 0 {
		t.Errorf("ExecutionTime = %s, want 0", res.ExecutionTime)
	}
	if n := workspaceCount(t, scratch); n != 0 {
		t.Errorf("rejected source touched the scratch area (%d entries)", n)
	}
}

func TestExecute_InvalidRequests(t *testing.T) {
	engine, _ := newTestEngine(t, testLimits())

	tests := []struct {
		name string
		req  ExecutionRequest
	}{
		{"empty code", ExecutionRequest{Code: "  \n"}},
		{"oversized code", ExecutionRequest{Code: strings.Repeat("#", 5000)}},
		{"timeout over max", ExecutionRequest{Code: "echo hi", Timeout: time.Minute}},
		{"negative timeout", ExecutionRequest{Code: "echo hi", Timeout: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := engine.Execute(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
			if res == nil || res.Success {
				t.Errorf("result = %+v, want a failed result", res)
			}
		})
	}
}

func TestExecute_OutputTruncated(t *testing.T) {
	limits := testLimits()
	limits.MaxOutputBytes = 16
	engine, _ := newTestEngine(t, limits)

	res, err := engine.Execute(context.Background(), ExecutionRequest{
		Code: "i=0\nwhile [ $i -lt 100 ]; do echo line$i; i=$((i+1)); done\n",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(res.Output, "line0\nline1\n") {
		t.Errorf("Output = %q, want head of stream", res.Output)
	}
	if !strings.HasSuffix(res.Output, "[output truncated]") {
		t.Errorf("Output = %q, want truncation marker", res.Output)
	}
}

func TestBuild_ProgramRunsManyTimes(t *testing.T) {
	engine, scratch := newTestEngine(t, testLimits())
	ctx := context.Background()

	prog, err := engine.Build(ctx, "# unit: Echo\nread x\necho $((x * 2))\n")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if prog.Unit() != "Echo" {
		t.Errorf("Unit() = %q, want Echo", prog.Unit())
	}

	for _, n := range []int{1, 21, 50} {
		res, err := prog.Run(ctx, fmt.Sprintf("%d\n", n), 0)
		if err != nil {
			t.Fatalf("Run(%d): %v", n, err)
		}
		if want := fmt.Sprintf("%d\n", n*2); res.Output != want {
			t.Errorf("Run(%d) output = %q, want %q", n, res.Output, want)
		}
	}

	prog.Release()
	prog.Release()
	if n := workspaceCount(t, scratch); n != 0 {
		t.Errorf("%d workspaces left after Release", n)
	}
}

func TestBuild_ConcurrentSameUnitName(t *testing.T) {
	engine, _ := newTestEngine(t, testLimits())
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := engine.Execute(ctx, ExecutionRequest{
				Code: fmt.Sprintf("# unit: Main\nsleep 0.05\necho %d\n", i),
			})
			if err != nil {
				errs <- err
				return
			}
			if want := fmt.Sprintf("%d\n", i); res.Output != want {
				errs <- fmt.Errorf("submission %d saw output %q", i, res.Output)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	if got := engine.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount = %d after all runs, want 0", got)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	engine, _ := newTestEngine(t, testLimits())

	prog, err := engine.Build(context.Background(), "sleep 5\n")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer prog.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res, err := prog.Run(ctx, "", 3*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if res == nil || res.Success {
		t.Errorf("result = %+v, want failure", res)
	}
}

func TestClose_RejectsNewWork(t *testing.T) {
	engine, _ := newTestEngine(t, testLimits())

	if err := engine.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err := engine.Execute(context.Background(), ExecutionRequest{Code: "echo hi\n"})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestExecute_StderrWithCleanExit(t *testing.T) {
	engine, _ := newTestEngine(t, testLimits())

	res, err := engine.Execute(context.Background(), ExecutionRequest{
		Code: "echo answer\necho 'warning: deprecated' >&2\n",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// The exit status decides success; stderr is passed through.
	if !res.Success || res.Status != StatusCompleted {
		t.Errorf("Success=%v Status=%s, want completed", res.Success, res.Status)
	}
	if res.Output != "answer\n" {
		t.Errorf("Output = %q, want %q", res.Output, "answer\n")
	}
	if !strings.Contains(res.Error, "deprecated") {
		t.Errorf("Error = %q, want stderr text", res.Error)
	}
}

func TestClose_WaitsForUnreleasedProgram(t *testing.T) {
	engine, scratch := newTestEngine(t, testLimits())
	ctx := context.Background()

	prog, err := engine.Build(ctx, "# unit: Greeter\necho 'Hello, Prayukti!'\n")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	closed := make(chan struct{})
	go func() {
		_ = engine.Close()
		close(closed)
	}()

	// New builds are refused as soon as Close starts.
	deadline := time.Now().Add(2 * time.Second)
	for {
		late, err := engine.Build(ctx, "echo late\n")
		if errors.Is(err, ErrClosed) {
			break
		}
		if late != nil {
			late.Release() // Built before Close took effect
		}
		if time.Now().After(deadline) {
			t.Fatalf("Build during Close = %v, want ErrClosed", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The program built before Close keeps working until released.
	for i := 0; i < 3; i++ {
		res, err := prog.Run(ctx, "", 0)
		if err != nil {
			t.Fatalf("Run %d during Close: %v", i, err)
		}
		if res.Output != "Hello, Prayukti!\n" {
			t.Errorf("Run %d output = %q", i, res.Output)
		}
	}

	select {
	case <-closed:
		t.Fatal("Close returned while a program was still held")
	case <-time.After(100 * time.Millisecond):
	}

	prog.Release()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after Release")
	}
	if n := workspaceCount(t, scratch); n != 0 {
		t.Errorf("%d workspaces left after Close", n)
	}
}

func TestRun_AfterRelease(t *testing.T) {
	engine, _ := newTestEngine(t, testLimits())

	prog, err := engine.Build(context.Background(), "echo hi\n")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	prog.Release()

	res, err := prog.Run(context.Background(), "", 0)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("err = %v, want ErrInvalidRequest", err)
	}
	if res == nil || res.Success {
		t.Errorf("result = %+v, want failure", res)
	}
}
