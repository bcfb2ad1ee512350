package invoke

import (
	"context"
	"strings"
	"testing"
	"time"
)

// shellOpts builds Options running an inline shell script. The prompt Run
// appends lands in $0, which the scripts ignore.
func shellOpts(script string) Options {
	return Options{
		Binary:  "/bin/sh",
		Args:    []string{"-c", script},
		Timeout: 5 * time.Second,
		Grace:   time.Second,
	}
}

func TestRun_Success(t *testing.T) {
	res := Run(context.Background(), "ignored", shellOpts(`printf 'AGENT: claude\nhello'`))
	if !res.OK {
		t.Fatalf("OK = false, error = %q", res.Error)
	}
	if want := "AGENT: claude\nhello"; res.Output != want {
		t.Errorf("Output = %q, want %q", res.Output, want)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if res.TimedOut {
		t.Error("TimedOut = true on clean exit")
	}
}

func TestRun_PromptIsFinalArgument(t *testing.T) {
	res := Run(context.Background(), "the-prompt", shellOpts(`printf '%s' "$0"`))
	if !res.OK {
		t.Fatalf("OK = false, error = %q", res.Error)
	}
	if res.Output != "the-prompt" {
		t.Errorf("Output = %q, want the prompt as last argument", res.Output)
	}
}

func TestRun_NonzeroExitUsesStderr(t *testing.T) {
	res := Run(context.Background(), "p", shellOpts(`echo "boom happened" >&2; exit 3`))
	if res.OK {
		t.Fatal("OK = true for exit 3")
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Error, "boom happened") {
		t.Errorf("Error = %q, want stderr content", res.Error)
	}
}

func TestRun_NonzeroExitWithoutStderr(t *testing.T) {
	res := Run(context.Background(), "p", shellOpts(`exit 7`))
	if res.OK {
		t.Fatal("OK = true for exit 7")
	}
	if res.Error != "exit 7" {
		t.Errorf("Error = %q, want \"exit 7\"", res.Error)
	}
}

// Exit 0 with an empty stdout is a failure: there is no response to parse.
func TestRun_EmptyStdoutIsFailure(t *testing.T) {
	res := Run(context.Background(), "p", shellOpts(`exit 0`))
	if res.OK {
		t.Fatal("OK = true for empty stdout")
	}
	if res.Error != "exit 0" {
		t.Errorf("Error = %q, want \"exit 0\"", res.Error)
	}
}

func TestRun_TimeoutProducesTimeoutError(t *testing.T) {
	opts := shellOpts(`sleep 30`)
	opts.Timeout = 100 * time.Millisecond
	opts.Grace = 500 * time.Millisecond

	start := time.Now()
	res := Run(context.Background(), "p", opts)
	elapsed := time.Since(start)

	if res.OK {
		t.Fatal("OK = true for timed out child")
	}
	if !res.TimedOut {
		t.Error("TimedOut = false")
	}
	if res.Error != TimeoutError {
		t.Errorf("Error = %q, want %q", res.Error, TimeoutError)
	}
	if elapsed > 3*time.Second {
		t.Errorf("settled after %v; SIGTERM should end the child quickly", elapsed)
	}
}

// A child that traps SIGTERM must be SIGKILLed once the grace period ends.
func TestRun_SigkillAfterGrace(t *testing.T) {
	opts := shellOpts(`trap '' TERM; sleep 30`)
	opts.Timeout = 100 * time.Millisecond
	opts.Grace = 300 * time.Millisecond

	start := time.Now()
	res := Run(context.Background(), "p", opts)
	elapsed := time.Since(start)

	if !res.TimedOut || res.Error != TimeoutError {
		t.Fatalf("result = %+v, want timeout", res)
	}
	// timeout + grace + WaitDelay for the orphaned sleep's pipes, with slack.
	if elapsed > 2*time.Second {
		t.Errorf("settled after %v, SIGKILL escalation too slow", elapsed)
	}
}

func TestRun_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	opts := shellOpts(`sleep 30`)
	opts.Grace = 300 * time.Millisecond
	res := Run(ctx, "p", opts)
	if res.OK {
		t.Fatal("OK = true after cancel")
	}
	if res.TimedOut {
		t.Error("cancellation must not be reported as a timeout")
	}
	if !strings.Contains(res.Error, "context canceled") {
		t.Errorf("Error = %q, want context cancellation", res.Error)
	}
}

func TestRun_MissingBinary(t *testing.T) {
	res := Run(context.Background(), "p", Options{Binary: "/nonexistent/definitely-not-here"})
	if res.OK {
		t.Fatal("OK = true for missing binary")
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", res.ExitCode)
	}
	if !strings.Contains(res.Error, "start") {
		t.Errorf("Error = %q, want a start failure", res.Error)
	}
}

func TestRun_ExplicitEnv(t *testing.T) {
	opts := shellOpts(`printf '%s' "$FOO"`)
	opts.Env = []string{"FOO=bar", "PATH=/usr/bin:/bin"}
	res := Run(context.Background(), "p", opts)
	if !res.OK {
		t.Fatalf("OK = false, error = %q", res.Error)
	}
	if res.Output != "bar" {
		t.Errorf("Output = %q, want %q", res.Output, "bar")
	}
}

func TestScrubbedEnv(t *testing.T) {
	t.Setenv("SOME_SESSION_MARKER", "1")
	t.Setenv("HOME", "/home/tester")

	env := ScrubbedEnv()
	joined := strings.Join(env, "\n")
	if strings.Contains(joined, "SOME_SESSION_MARKER") {
		t.Error("scrubbed env leaked a non-allowlisted variable")
	}
	if !strings.Contains(joined, "HOME=/home/tester") {
		t.Error("scrubbed env dropped HOME")
	}
	for _, kv := range env {
		k := strings.SplitN(kv, "=", 2)[0]
		switch k {
		case "HOME", "PATH", "USER", "TERM":
		default:
			t.Errorf("unexpected variable %q in scrubbed env", k)
		}
	}
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(8)
	for _, chunk := range []string{"aaaa", "bbbb", "cccc"} {
		if _, err := b.Write([]byte(chunk)); err != nil {
			t.Fatal(err)
		}
	}
	if got := b.String(); got != "bbbbcccc" {
		t.Errorf("tail = %q, want last 8 bytes", got)
	}
}
