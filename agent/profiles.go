package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/7788ken/multi-agent-discussion/agent/invoke"
)

// Binary override variables. When set, the profile skips the PATH lookup
// and uses the given path directly.
const (
	EnvClaudeBin = "CLAUDE_BIN"
	EnvCodexBin  = "CODEX_BIN"
)

// Profile 绑定一个具体代理：讨论中的身份名、CLI 可执行文件与参数向量。
// 参数向量对运行时不透明，提示词总是追加为最后一个参数。
// Profile binds one concrete agent: its discussion identity, the CLI
// binary, and the argument vector. The prompt is always appended as the
// final argument by the invoker.
type Profile struct {
	Name    string
	Binary  string
	Args    []string
	Timeout time.Duration
}

// ClaudeProfile resolves the claude CLI binding. CLAUDE_BIN overrides the
// PATH lookup.
func ClaudeProfile() (Profile, error) {
	bin, err := resolveBinary(EnvClaudeBin, "claude")
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		Name:    "claude",
		Binary:  bin,
		Args:    []string{"-p"},
		Timeout: invoke.DefaultTimeout,
	}, nil
}

// CodexProfile resolves the codex CLI binding. CODEX_BIN overrides the
// PATH lookup.
func CodexProfile() (Profile, error) {
	bin, err := resolveBinary(EnvCodexBin, "codex")
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		Name:    "codex",
		Binary:  bin,
		Args:    []string{"exec"},
		Timeout: invoke.DefaultTimeout,
	}, nil
}

// ProfileFor returns the profile for a known agent name.
func ProfileFor(name string) (Profile, error) {
	switch strings.ToLower(name) {
	case "claude":
		return ClaudeProfile()
	case "codex":
		return CodexProfile()
	default:
		return Profile{}, fmt.Errorf("agent: unknown profile %q (want claude or codex)", name)
	}
}

// InvokeFunc adapts the profile into the runtime's invocation seam. The
// child always runs with the scrubbed environment so nested-session markers
// never leak into it.
func (p Profile) InvokeFunc(logger *slog.Logger) InvokeFunc {
	return func(ctx context.Context, prompt, workingDir string) invoke.Result {
		return invoke.Run(ctx, prompt, invoke.Options{
			Binary:     p.Binary,
			Args:       p.Args,
			WorkingDir: workingDir,
			Timeout:    p.Timeout,
			Logger:     logger,
		})
	}
}

func resolveBinary(envKey, fallback string) (string, error) {
	if v := os.Getenv(envKey); v != "" {
		if _, err := os.Stat(v); err != nil {
			return "", fmt.Errorf("agent: %s=%s: %w", envKey, v, err)
		}
		return v, nil
	}
	path, err := exec.LookPath(fallback)
	if err != nil {
		return "", fmt.Errorf("agent: %s CLI not found in PATH: %w", fallback, err)
	}
	return path, nil
}
