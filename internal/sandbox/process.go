package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"
)

// processSpec describes one external process launch.
type processSpec struct {
	Args      []string
	Dir       string
	Stdin     string
	Timeout   time.Duration
	MaxOutput int
}

// processOutcome is what came back from a launched process. TimedOut and a
// normal exit are mutually exclusive.
type processOutcome struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Elapsed  time.Duration
	TimedOut bool
}

// runProcess launches spec and waits for it. Stdout and stderr are drained
// continuously, so a chatty program never blocks on a full pipe. On the
// deadline the whole process group is killed and whatever was captured so
// far is kept. The error is non-nil only when the process could not be
// spawned or waited on.
func runProcess(ctx context.Context, spec processSpec) (*processOutcome, error) {
	if len(spec.Args) == 0 {
		return nil, errors.New("empty command")
	}

	runCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Args[0], spec.Args[1:]...) // #nosec G204 -- argv built by the toolchain, not from raw user input
	cmd.Dir = spec.Dir
	cmd.Env = processEnv(spec.Dir)
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}

	stdout := newCappedBuffer(spec.MaxOutput)
	stderr := newCappedBuffer(spec.MaxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 500 * time.Millisecond

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	err := cmd.Wait()
	elapsed := time.Since(start)

	out := &processOutcome{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Elapsed: elapsed,
	}

	if err == nil {
		return out, nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		out.TimedOut = true
		out.ExitCode = -1
		out.Elapsed = spec.Timeout
		return out, nil
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}

	return out, err
}

func processEnv(home string) []string {
	return []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + home,
		"LANG=C.UTF-8",
		"JUDGE=true",
	}
}

// cappedBuffer keeps the first limit bytes and silently drops the rest while
// still reporting full writes.
type cappedBuffer struct {
	buf     bytes.Buffer
	limit   int
	dropped int
}

func newCappedBuffer(limit int) *cappedBuffer {
	if limit < 1 {
		limit = 1 << 20
	}
	return &cappedBuffer{limit: limit}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	switch {
	case room <= 0:
		c.dropped += len(p)
	case len(p) > room:
		c.buf.Write(p[:room])
		c.dropped += len(p) - room
	default:
		c.buf.Write(p)
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	if c.dropped > 0 {
		return c.buf.String() + "\n... [output truncated]"
	}
	return c.buf.String()
}
