package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// TestDefaultConfig_PersonaDefaults verifies the persona workflow defaults
func TestDefaultConfig_PersonaDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Persona.MaxPromptLength != 800 {
		t.Errorf("MaxPromptLength = %d, want 800", cfg.Persona.MaxPromptLength)
	}
	if !cfg.Persona.ConfirmBeforeApply {
		t.Error("ConfirmBeforeApply should be enabled by default")
	}
	if cfg.Persona.BackupVersions != 5 {
		t.Errorf("BackupVersions = %d, want 5", cfg.Persona.BackupVersions)
	}
	if !cfg.Persona.AutoCompress {
		t.Error("AutoCompress should be enabled by default")
	}
	if cfg.GuidedReplyTimeout() != 120*time.Second {
		t.Errorf("GuidedReplyTimeout = %s, want 2m0s", cfg.GuidedReplyTimeout())
	}
}

// TestDefaultConfig_ProfileDefaults verifies profile collection is off by default
func TestDefaultConfig_ProfileDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Profile.Enabled {
		t.Error("Profile collection should be disabled by default")
	}
	if cfg.Profile.MinMessages != 10 {
		t.Errorf("MinMessages = %d, want 10", cfg.Profile.MinMessages)
	}
	if cfg.MaxBufferAge() != 300*time.Second {
		t.Errorf("MaxBufferAge = %s, want 5m0s", cfg.MaxBufferAge())
	}
	if cfg.Profile.TimeFloorMessages != 3 {
		t.Errorf("TimeFloorMessages = %d, want 3", cfg.Profile.TimeFloorMessages)
	}
}

// TestDefaultConfig_ArchitectDefaults verifies LLM call bounds
func TestDefaultConfig_ArchitectDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ArchitectTimeout() != 60*time.Second {
		t.Errorf("ArchitectTimeout = %s, want 1m0s", cfg.ArchitectTimeout())
	}
	if cfg.Architect.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", cfg.Architect.MaxRetries)
	}
	if cfg.ArchitectRetryDelay() != time.Second {
		t.Errorf("ArchitectRetryDelay = %s, want 1s", cfg.ArchitectRetryDelay())
	}
}

func TestDefaultConfig_Validates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown format", func(c *Config) { c.Persona.DefaultPromptFormat = "toml" }},
		{"zero backups", func(c *Config) { c.Persona.BackupVersions = 0 }},
		{"empty data dir", func(c *Config) { c.Storage.DataDir = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"zero min messages", func(c *Config) { c.Profile.MinMessages = 0 }},
		{"port out of range", func(c *Config) { c.Gateway.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestSaveConfig_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permission bits are not enforced on Windows")
	}

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}

	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("config file has permission %04o, want 0600", perm)
	}
}

func TestLoadConfig_RoundTripFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := DefaultConfig()
	cfg.Persona.MaxPromptLength = 1200
	cfg.Persona.IDPrefix = "pf_"
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Persona.MaxPromptLength != 1200 || loaded.Persona.IDPrefix != "pf_" {
		t.Fatalf("unexpected persona config after reload: %+v", loaded.Persona)
	}
}

func TestLoadConfig_EnvOverridesWithoutFile(t *testing.T) {
	t.Setenv("DOTPERSONA_AGENTS_DEFAULTS_MODEL", "env/model")
	t.Setenv("DOTPERSONA_PERSONA_CONFIRM_BEFORE_APPLY", "false")
	t.Setenv("DOTPERSONA_PROFILE_MIN_MESSAGES", "4")
	path := filepath.Join(t.TempDir(), "missing-config.json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := cfg.Agents.Defaults.Model; got != "env/model" {
		t.Fatalf("expected env override model, got %q", got)
	}
	if cfg.Persona.ConfirmBeforeApply {
		t.Fatalf("expected confirm_before_apply disabled from env")
	}
	if cfg.Profile.MinMessages != 4 {
		t.Fatalf("expected min_messages 4 from env, got %d", cfg.Profile.MinMessages)
	}
}

func TestLoadConfig_InvalidEnvFailsValidation(t *testing.T) {
	t.Setenv("DOTPERSONA_PERSONA_DEFAULT_PROMPT_FORMAT", "toml")
	path := filepath.Join(t.TempDir(), "missing-config.json")

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error for unknown prompt format")
	}
}

func TestLoadConfig_OpenAIEnvOverrides(t *testing.T) {
	t.Setenv("DOTPERSONA_AGENTS_DEFAULTS_PROVIDER", "openai")
	t.Setenv("DOTPERSONA_PROVIDERS_OPENAI_API_KEY", "sk-openai")
	t.Setenv("DOTPERSONA_PROVIDERS_OPENAI_PROJECT", "proj_test")
	path := filepath.Join(t.TempDir(), "missing-config.json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := cfg.Agents.Defaults.Provider; got != "openai" {
		t.Fatalf("expected provider openai, got %q", got)
	}
	if got := cfg.Providers.OpenAI.APIKey; got != "sk-openai" {
		t.Fatalf("expected openai api key from env, got %q", got)
	}
	if got := cfg.Providers.OpenAI.Project; got != "proj_test" {
		t.Fatalf("expected openai project from env, got %q", got)
	}
}

func TestNormalizeFormat(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"md", "markdown", true},
		{"YML", "yaml", true},
		{"txt", "natural", true},
		{"自然语言", "natural", true},
		{"xml", "xml", true},
		{"toml", "", false},
	}
	for _, c := range cases {
		got, ok := NormalizeFormat(c.in)
		if got != c.want || ok != c.ok {
			t.Fatalf("NormalizeFormat(%q) = (%q, %v), want (%q, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestFlexibleStringSlice_AcceptsNumbers(t *testing.T) {
	var f FlexibleStringSlice
	if err := f.UnmarshalJSON([]byte(`["abc", 12345]`)); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(f) != 2 || f[0] != "abc" || f[1] != "12345" {
		t.Fatalf("unexpected values: %v", f)
	}
}
