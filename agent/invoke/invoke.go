// Package invoke runs an external AI CLI as a child process: prompt in,
// captured output out, bounded by a timeout with progressive termination.
//
// Package invoke 将外部 AI CLI 作为子进程运行：传入提示词，捕获输出，
// 超时后按 SIGTERM → 宽限期 → SIGKILL 逐级终止。
package invoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTimeout bounds one CLI invocation end to end.
	DefaultTimeout = 180 * time.Second
	// DefaultGrace is how long a child gets between SIGTERM and SIGKILL.
	DefaultGrace = 3 * time.Second

	// stderrTailLimit caps how much stderr is retained for error reporting.
	stderrTailLimit = 8 * 1024
)

// TimeoutError is the exact error string produced when an invocation is
// cut off by its timeout. Callers key retry-with-backoff on it.
const TimeoutError = "Timeout"

// Options configures one invocation.
// Options 配置一次调用。
type Options struct {
	Binary     string
	Args       []string // prompt is appended as the final argument
	WorkingDir string
	Env        []string // nil → ScrubbedEnv()
	Timeout    time.Duration
	Grace      time.Duration
	Logger     *slog.Logger
}

// Result is the settled outcome of one invocation. Exactly one of the
// success and failure shapes is populated, exactly once, regardless of how
// the timeout and exit paths race.
type Result struct {
	OK       bool
	Output   string // stdout on success
	Error    string // TimeoutError, stderr tail, or "exit <code>"
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Run executes the binary with the prompt appended to its argument vector.
// The child's stdin reads from the null device; stdout and stderr are
// captured. Run blocks until the result settles but never leaves the child
// unreaped: timeout sends SIGTERM, waits the grace period, then SIGKILLs.
func Run(ctx context.Context, prompt string, opts Options) Result {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	grace := opts.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	// Correlates the spawn/settle log lines of one invocation.
	invocationID := uuid.NewString()[:8]
	start := time.Now()

	var stdout strings.Builder
	stderr := newTailBuffer(stderrTailLimit)

	cmd := exec.Command(opts.Binary, append(append([]string{}, opts.Args...), prompt)...)
	cmd.Dir = opts.WorkingDir
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	if opts.Env != nil {
		cmd.Env = opts.Env
	} else {
		cmd.Env = ScrubbedEnv()
	}
	// cmd.Stdin left nil: the child reads from the null device.
	// WaitDelay unblocks Wait when a grandchild inherits the output pipes
	// and outlives the child; without it a dead CLI could pin the caller.
	cmd.WaitDelay = grace

	if err := cmd.Start(); err != nil {
		return Result{
			OK:       false,
			Error:    fmt.Sprintf("start %s: %v", opts.Binary, err),
			ExitCode: -1,
			Duration: time.Since(start),
		}
	}

	logger.Debug("child process started",
		"invocation_id", invocationID,
		"binary", opts.Binary,
		"pid", cmd.Process.Pid,
		"workdir", opts.WorkingDir,
		"timeout", timeout)

	cmdDone := make(chan error, 1)
	go func() { cmdDone <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var (
		waitErr  error
		timedOut bool
		ctxErr   error
	)
	select {
	case waitErr = <-cmdDone:
	case <-timer.C:
		timedOut = true
		waitErr = terminate(cmd, cmdDone, grace, logger, invocationID)
	case <-ctx.Done():
		ctxErr = ctx.Err()
		waitErr = terminate(cmd, cmdDone, grace, logger, invocationID)
	}

	res := settle(cmd, waitErr, timedOut, ctxErr, stdout.String(), stderr.String())
	res.Duration = time.Since(start)

	logger.Debug("child process settled",
		"invocation_id", invocationID,
		"ok", res.OK,
		"exit_code", res.ExitCode,
		"timed_out", res.TimedOut,
		"duration", res.Duration.Round(time.Millisecond),
		"stdout_bytes", len(res.Output))
	return res
}

// terminate escalates SIGTERM → grace → SIGKILL and always reaps the child.
func terminate(cmd *exec.Cmd, cmdDone <-chan error, grace time.Duration, logger *slog.Logger, invocationID string) error {
	//nolint:errcheck // the grace timer below covers a child that ignores it
	signalProcess(cmd.Process, syscall.SIGTERM)

	select {
	case err := <-cmdDone:
		return err
	case <-time.After(grace):
		logger.Warn("child ignored SIGTERM, killing",
			"invocation_id", invocationID,
			"pid", cmd.Process.Pid,
			"grace", grace)
		//nolint:errcheck // process may have just exited
		signalProcess(cmd.Process, os.Kill)
		return <-cmdDone
	}
}

// settle maps the raw process outcome onto the invocation contract:
// timeout beats everything, then exit 0 + non-empty stdout is success,
// everything else fails with stderr or an exit-code message.
func settle(cmd *exec.Cmd, waitErr error, timedOut bool, ctxErr error, stdout, stderrTail string) Result {
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		// The child itself exited; only a pipe-holding grandchild lingered.
		waitErr = nil
	}

	switch {
	case timedOut:
		return Result{OK: false, Error: TimeoutError, ExitCode: exitCode, TimedOut: true}
	case ctxErr != nil:
		return Result{OK: false, Error: ctxErr.Error(), ExitCode: exitCode}
	case waitErr == nil:
		if strings.TrimSpace(stdout) != "" {
			return Result{OK: true, Output: stdout, ExitCode: exitCode}
		}
		// Exit 0 with nothing on stdout is a failure: the CLI produced no
		// response to validate.
		return Result{OK: false, Error: failureMessage(stderrTail, exitCode), ExitCode: exitCode}
	default:
		return Result{OK: false, Error: failureMessage(stderrTail, exitCode), ExitCode: exitCode}
	}
}

func failureMessage(stderrTail string, exitCode int) string {
	if s := strings.TrimSpace(stderrTail); s != "" {
		return s
	}
	return fmt.Sprintf("exit %d", exitCode)
}

// signalProcess sends sig, treating an already-exited process as success.
func signalProcess(p *os.Process, sig os.Signal) error {
	if p == nil {
		return nil
	}
	if err := p.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// ScrubbedEnv returns the minimal child environment. Only identity and
// tooling variables survive; everything else is dropped so the child cannot
// detect it runs nested inside another agent session.
func ScrubbedEnv() []string {
	keep := []string{"HOME", "PATH", "USER", "TERM"}
	env := make([]string, 0, len(keep))
	for _, k := range keep {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	return env
}

// tailBuffer keeps the last max bytes written to it. Stderr of a chatty
// CLI can be large; only the tail matters for error reporting.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
