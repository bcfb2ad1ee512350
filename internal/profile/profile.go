package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the discussion daemon.
type Profile struct {
	// Agent is the identity this daemon speaks as ("claude" or "codex").
	Agent string

	// Data is the directory holding discussion logs, result files and the
	// archive database.
	Data string

	// Addr and Port bind the HTTP status server.
	Addr string
	Port int

	// Driver and DSN select the archive database. Only sqlite is wired.
	Driver string
	DSN    string

	// InvokeTimeout is the child-process timeout in seconds.
	InvokeTimeout int

	Mode    string
	Version string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables. Values already
// set (by flags) win over the environment.
func (p *Profile) FromEnv() {
	// MULTI_AGENT_BASE_DIR is shared with the other tools operating on the
	// same discussion directory.
	if p.Data == "" {
		p.Data = getEnvOrDefault("MULTI_AGENT_BASE_DIR", "")
	}
	if p.Agent == "" {
		p.Agent = getEnvOrDefault("DISCUSS_AGENT", "")
	}
	if p.InvokeTimeout == 0 {
		p.InvokeTimeout = getEnvOrDefaultInt("DISCUSS_INVOKE_TIMEOUT_SECONDS", 180)
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Agent != "claude" && p.Agent != "codex" {
		return errors.Errorf("unsupported agent %q (want claude or codex)", p.Agent)
	}

	if p.Data == "" {
		if p.Mode == "prod" {
			if runtime.GOOS == "windows" {
				p.Data = filepath.Join(os.Getenv("ProgramData"), "discussiond")
			} else {
				p.Data = "/var/opt/discussiond"
			}
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return errors.Wrap(err, "resolve home directory")
			}
			p.Data = filepath.Join(home, ".discussions")
		}
		if _, err := os.Stat(p.Data); os.IsNotExist(err) {
			if err := os.MkdirAll(p.Data, 0o770); err != nil {
				slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
				return err
			}
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("discussiond_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	if p.InvokeTimeout <= 0 {
		p.InvokeTimeout = 180
	}

	return nil
}
