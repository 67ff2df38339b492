// Package probe discovers which environment an operation's target lives in
// by asking the wrapped CLIs (gh, git, sf, supabase) or by inspecting
// connection strings.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrCLINotFound is returned when the CLI a probe needs is not installed.
var ErrCLINotFound = errors.New("cli not found")

// ErrOutputTooLarge is returned when a probe command prints more than the
// executor keeps.
var ErrOutputTooLarge = errors.New("command output too large")

// DefaultMaxOutput caps the stdout an ExecExecutor keeps. Probe commands
// print a few kilobytes of JSON at most.
const DefaultMaxOutput = 1 << 20

const maxStderr = 64 << 10

// Executor runs an external command and returns its stdout.
type Executor interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecExecutor runs commands with os/exec.
type ExecExecutor struct {
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env, when non-nil, replaces the process environment.
	Env []string
	// MaxOutput caps stdout in bytes; zero means DefaultMaxOutput.
	MaxOutput int
}

// Run executes name with args, killing it when ctx is done. Stderr is
// folded into the error on failure. Output past MaxOutput is discarded and
// the run fails with ErrOutputTooLarge.
func (e ExecExecutor) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = e.Dir
	if e.Env != nil {
		cmd.Env = e.Env
	}

	limit := e.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	stdout := &cappedBuffer{max: limit}
	stderr := &cappedBuffer{max: maxStderr}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	err := cmd.Run()
	if stdout.dropped > 0 {
		return nil, fmt.Errorf("%w: %s %s printed more than %d bytes", ErrOutputTooLarge, name, firstArg(args), limit)
	}
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCLINotFound, name)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return stdout.Bytes(), fmt.Errorf("%s %s: %w", name, firstArg(args), err)
		}
		return stdout.Bytes(), fmt.Errorf("%s %s: %w: %s", name, firstArg(args), err, truncate(msg, 200))
	}
	return stdout.Bytes(), nil
}

// cappedBuffer keeps the first max bytes written and counts the rest. It
// never fails a write, so the command is not left blocked on a full pipe.
type cappedBuffer struct {
	buf     bytes.Buffer
	max     int
	dropped int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.max - b.buf.Len()
	if room < len(p) {
		b.buf.Write(p[:room])
		b.dropped += len(p) - room
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Bytes() []byte  { return b.buf.Bytes() }
func (b *cappedBuffer) String() string { return b.buf.String() }

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
