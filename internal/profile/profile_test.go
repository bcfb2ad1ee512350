package profile

import (
	"os"
	"path/filepath"
	"testing"
)

// TestProfileDefaults 测试配置默认值。
func TestProfileDefaults(t *testing.T) {
	clearEnvVars()

	profile := &Profile{}
	profile.FromEnv()

	if profile.Data != "" {
		t.Errorf("Data: expected empty before Validate, got %q", profile.Data)
	}
	if profile.Agent != "" {
		t.Errorf("Agent: expected empty default, got %q", profile.Agent)
	}
	if profile.InvokeTimeout != 180 {
		t.Errorf("InvokeTimeout: expected 180, got %d", profile.InvokeTimeout)
	}
}

// TestProfileFromEnv 测试从环境变量读取配置。
func TestProfileFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		envValue string
		field    func(*Profile) string
		expected string
	}{
		{
			name:     "base dir override",
			envVar:   "MULTI_AGENT_BASE_DIR",
			envValue: "/tmp/shared-discussions",
			field:    func(p *Profile) string { return p.Data },
			expected: "/tmp/shared-discussions",
		},
		{
			name:     "agent identity",
			envVar:   "DISCUSS_AGENT",
			envValue: "codex",
			field:    func(p *Profile) string { return p.Agent },
			expected: "codex",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars()
			os.Setenv(tt.envVar, tt.envValue)
			defer clearEnvVars()

			profile := &Profile{}
			profile.FromEnv()

			actual := tt.field(profile)
			if actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, actual)
			}
		})
	}
}

// TestProfileFromEnvFlagWins 测试已设置的字段优先于环境变量。
func TestProfileFromEnvFlagWins(t *testing.T) {
	clearEnvVars()
	os.Setenv("DISCUSS_AGENT", "codex")
	defer clearEnvVars()

	profile := &Profile{Agent: "claude"}
	profile.FromEnv()

	if profile.Agent != "claude" {
		t.Errorf("Agent: flag value overridden by env, got %q", profile.Agent)
	}
}

func TestProfileValidate(t *testing.T) {
	dir := t.TempDir()

	t.Run("mode falls back to demo", func(t *testing.T) {
		p := &Profile{Agent: "claude", Data: dir, Mode: "bogus"}
		if err := p.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if p.Mode != "demo" {
			t.Errorf("Mode: expected demo, got %q", p.Mode)
		}
	})

	t.Run("unknown agent rejected", func(t *testing.T) {
		p := &Profile{Agent: "gemini", Data: dir, Mode: "dev"}
		if err := p.Validate(); err == nil {
			t.Error("Validate accepted unknown agent")
		}
	})

	t.Run("missing data dir rejected", func(t *testing.T) {
		p := &Profile{Agent: "claude", Data: filepath.Join(dir, "absent"), Mode: "dev"}
		if err := p.Validate(); err == nil {
			t.Error("Validate accepted missing data dir")
		}
	})

	t.Run("sqlite DSN defaults under data dir", func(t *testing.T) {
		p := &Profile{Agent: "claude", Data: dir, Mode: "dev"}
		if err := p.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if p.Driver != "sqlite" {
			t.Errorf("Driver: expected sqlite, got %q", p.Driver)
		}
		want := filepath.Join(dir, "discussiond_dev.db")
		if p.DSN != want {
			t.Errorf("DSN: expected %q, got %q", want, p.DSN)
		}
	})

	t.Run("custom DSN preserved", func(t *testing.T) {
		p := &Profile{Agent: "claude", Data: dir, Mode: "dev", DSN: "/elsewhere/archive.db"}
		if err := p.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if p.DSN != "/elsewhere/archive.db" {
			t.Errorf("DSN: expected custom value kept, got %q", p.DSN)
		}
	})

	t.Run("trailing slash trimmed", func(t *testing.T) {
		p := &Profile{Agent: "claude", Data: dir + string(os.PathSeparator), Mode: "dev"}
		if err := p.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if p.Data != dir {
			t.Errorf("Data: expected %q, got %q", dir, p.Data)
		}
	})
}

func TestIsDev(t *testing.T) {
	for mode, want := range map[string]bool{"dev": true, "demo": true, "prod": false} {
		p := &Profile{Mode: mode}
		if got := p.IsDev(); got != want {
			t.Errorf("IsDev() with mode %q = %v, want %v", mode, got, want)
		}
	}
}

// clearEnvVars 清除本包关心的环境变量。
func clearEnvVars() {
	for _, key := range []string{
		"MULTI_AGENT_BASE_DIR",
		"DISCUSS_AGENT",
		"DISCUSS_INVOKE_TIMEOUT_SECONDS",
	} {
		os.Unsetenv(key)
	}
}
