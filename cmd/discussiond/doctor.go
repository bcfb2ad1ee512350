package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/7788ken/multi-agent-discussion/agent"
	"github.com/7788ken/multi-agent-discussion/internal/version"
)

// Minimum CLI versions known to work with non-interactive invocation the
// way the runtime drives it (prompt as final argument, plain stdout).
var minCLIVersion = map[string]string{
	"claude": "1.0.0",
	"codex":  "0.20.0",
}

var semverPattern = regexp.MustCompile(`[0-9]+\.[0-9]+\.[0-9]+`)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check agent CLI binaries, their versions and the discussion directory",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		selected := viper.GetString("agent")
		found := 0
		var failed []string

		for _, name := range []string{"claude", "codex"} {
			p, err := agent.ProfileFor(name)
			if err != nil {
				fmt.Printf("✗ %s: not found (%v)\n", name, err)
				if name == selected {
					failed = append(failed, name)
				}
				continue
			}
			found++

			v, err := cliVersion(ctx, p.Binary)
			if err != nil {
				fmt.Printf("? %s: %s (version check failed: %v)\n", name, p.Binary, err)
				continue
			}
			if min := minCLIVersion[name]; !version.IsVersionGreaterOrEqualThan(v, min) {
				fmt.Printf("✗ %s: %s version %s is older than required %s\n", name, p.Binary, v, min)
				failed = append(failed, name)
				continue
			}
			fmt.Printf("✓ %s: %s (version %s)\n", name, p.Binary, v)
		}

		baseDir := resolveBaseDir()
		if err := checkWritable(baseDir); err != nil {
			fmt.Printf("✗ discussion directory %s: %v\n", baseDir, err)
			failed = append(failed, "base-dir")
		} else {
			fmt.Printf("✓ discussion directory %s is writable\n", baseDir)
		}

		if len(failed) > 0 {
			return fmt.Errorf("doctor found problems: %v", failed)
		}
		if found == 0 {
			return fmt.Errorf("no agent CLI found in PATH (need claude or codex)")
		}
		fmt.Println("All checks passed.")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the daemon version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(version.StringFull())
	},
}

// cliVersion runs `<binary> --version` and extracts the first semver-looking
// token from its output.
func cliVersion(ctx context.Context, binary string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, binary, "--version").CombinedOutput()
	if err != nil {
		return "", err
	}
	v := semverPattern.FindString(string(out))
	if v == "" {
		return "", fmt.Errorf("no version in output %q", string(out))
	}
	return v, nil
}

func resolveBaseDir() string {
	if dir := viper.GetString("base-dir"); dir != "" {
		return dir
	}
	if dir := os.Getenv("MULTI_AGENT_BASE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".discussions")
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}
