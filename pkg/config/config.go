package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	json "github.com/goccy/go-json"
	"github.com/gookit/validate"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Persona   PersonaConfig   `json:"persona"`
	Profile   ProfileConfig   `json:"profile"`
	Architect ArchitectConfig `json:"architect"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Storage   StorageConfig   `json:"storage"`
	Gateway   GatewayConfig   `json:"gateway"`
	Metrics   MetricsConfig   `json:"metrics"`
	Cache     CacheConfig     `json:"cache"`
	Logging   LoggingConfig   `json:"logging"`
	mu        sync.RWMutex
}

type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

type AgentDefaults struct {
	Provider string `json:"provider" env:"DOTPERSONA_AGENTS_DEFAULTS_PROVIDER"`
	Model    string `json:"model" env:"DOTPERSONA_AGENTS_DEFAULTS_MODEL"`
}

type PersonaConfig struct {
	MaxPromptLength        int    `json:"max_prompt_length" env:"DOTPERSONA_PERSONA_MAX_PROMPT_LENGTH" validate:"required|min:100"`
	ConfirmBeforeApply     bool   `json:"confirm_before_apply" env:"DOTPERSONA_PERSONA_CONFIRM_BEFORE_APPLY"`
	BackupVersions         int    `json:"backup_versions" env:"DOTPERSONA_PERSONA_BACKUP_VERSIONS" validate:"required|min:1|max:50"`
	AutoCompress           bool   `json:"auto_compress" env:"DOTPERSONA_PERSONA_AUTO_COMPRESS"`
	EnableGuidedGeneration bool   `json:"enable_guided_generation" env:"DOTPERSONA_PERSONA_ENABLE_GUIDED_GENERATION"`
	DefaultPromptFormat    string `json:"default_prompt_format" env:"DOTPERSONA_PERSONA_DEFAULT_PROMPT_FORMAT" validate:"required|in:natural,markdown,xml,json,yaml"`
	GuidedReplyTimeoutSecs int    `json:"guided_reply_timeout_seconds" env:"DOTPERSONA_PERSONA_GUIDED_REPLY_TIMEOUT_SECONDS" validate:"required|min:5"`
	IDPrefix               string `json:"id_prefix" env:"DOTPERSONA_PERSONA_ID_PREFIX" validate:"required"`
	GenTemplate            string `json:"gen_template,omitempty" env:"DOTPERSONA_PERSONA_GEN_TEMPLATE"`
	RefineTemplate         string `json:"refine_template,omitempty" env:"DOTPERSONA_PERSONA_REFINE_TEMPLATE"`
	ShrinkTemplate         string `json:"shrink_template,omitempty" env:"DOTPERSONA_PERSONA_SHRINK_TEMPLATE"`
}

type ProfileConfig struct {
	Enabled           bool   `json:"enabled" env:"DOTPERSONA_PROFILE_ENABLED"`
	MinMessages       int    `json:"min_messages" env:"DOTPERSONA_PROFILE_MIN_MESSAGES" validate:"required|min:1"`
	MaxBufferAgeSecs  int    `json:"max_buffer_age_seconds" env:"DOTPERSONA_PROFILE_MAX_BUFFER_AGE_SECONDS" validate:"required|min:1"`
	TimeFloorMessages int    `json:"time_floor_messages" env:"DOTPERSONA_PROFILE_TIME_FLOOR_MESSAGES" validate:"required|min:1"`
	ContextWindow     int    `json:"context_window" env:"DOTPERSONA_PROFILE_CONTEXT_WINDOW" validate:"min:0|max:200"`
	SweepCron         string `json:"sweep_cron" env:"DOTPERSONA_PROFILE_SWEEP_CRON"`
	SaveEvery         int    `json:"save_every" env:"DOTPERSONA_PROFILE_SAVE_EVERY" validate:"required|min:1"`
}

type ArchitectConfig struct {
	ProviderID     string  `json:"provider_id" env:"DOTPERSONA_ARCHITECT_PROVIDER_ID"`
	Model          string  `json:"model" env:"DOTPERSONA_ARCHITECT_MODEL"`
	TimeoutSeconds int     `json:"timeout_seconds" env:"DOTPERSONA_ARCHITECT_TIMEOUT_SECONDS" validate:"required|min:1"`
	MaxRetries     int     `json:"max_retries" env:"DOTPERSONA_ARCHITECT_MAX_RETRIES" validate:"min:0|max:10"`
	RetryDelayMS   int     `json:"retry_delay_ms" env:"DOTPERSONA_ARCHITECT_RETRY_DELAY_MS" validate:"min:0"`
	MaxTokens      int     `json:"max_tokens" env:"DOTPERSONA_ARCHITECT_MAX_TOKENS" validate:"required|min:1"`
	Temperature    float64 `json:"temperature" env:"DOTPERSONA_ARCHITECT_TEMPERATURE"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token     string              `json:"token" env:"DOTPERSONA_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"DOTPERSONA_CHANNELS_DISCORD_ALLOW_FROM"`
}

type ProvidersConfig struct {
	OpenRouter ProviderConfig       `json:"openrouter"`
	OpenAI     OpenAIProviderConfig `json:"openai"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"DOTPERSONA_PROVIDERS_OPENROUTER_API_KEY"`
	APIBase string `json:"api_base" env:"DOTPERSONA_PROVIDERS_OPENROUTER_API_BASE"`
	Proxy   string `json:"proxy,omitempty" env:"DOTPERSONA_PROVIDERS_OPENROUTER_PROXY"`
}

type OpenAIProviderConfig struct {
	APIKey       string `json:"api_key" env:"DOTPERSONA_PROVIDERS_OPENAI_API_KEY"`
	APIBase      string `json:"api_base" env:"DOTPERSONA_PROVIDERS_OPENAI_API_BASE"`
	Proxy        string `json:"proxy,omitempty" env:"DOTPERSONA_PROVIDERS_OPENAI_PROXY"`
	Organization string `json:"organization,omitempty" env:"DOTPERSONA_PROVIDERS_OPENAI_ORGANIZATION"`
	Project      string `json:"project,omitempty" env:"DOTPERSONA_PROVIDERS_OPENAI_PROJECT"`
}

type StorageConfig struct {
	DataDir string `json:"data_dir" env:"DOTPERSONA_STORAGE_DATA_DIR" validate:"required"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"DOTPERSONA_GATEWAY_HOST" validate:"required"`
	Port int    `json:"port" env:"DOTPERSONA_GATEWAY_PORT" validate:"required|min:1|max:65535"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled" env:"DOTPERSONA_METRICS_ENABLED"`
}

type CacheConfig struct {
	Enabled          bool `json:"enabled" env:"DOTPERSONA_CACHE_ENABLED"`
	SizeMB           int  `json:"size_mb" env:"DOTPERSONA_CACHE_SIZE_MB" validate:"min:0|max:1024"`
	IntentTTLSeconds int  `json:"intent_ttl_seconds" env:"DOTPERSONA_CACHE_INTENT_TTL_SECONDS" validate:"min:0"`
}

type LoggingConfig struct {
	Level string `json:"level" env:"DOTPERSONA_LOGGING_LEVEL" validate:"required|in:debug,info,warn,error"`
	JSON  bool   `json:"json" env:"DOTPERSONA_LOGGING_JSON"`
}

func DefaultConfig() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Provider: "openrouter",
				Model:    "openai/gpt-5.2",
			},
		},
		Persona: PersonaConfig{
			MaxPromptLength:        800,
			ConfirmBeforeApply:     true,
			BackupVersions:         5,
			AutoCompress:           true,
			EnableGuidedGeneration: true,
			DefaultPromptFormat:    "natural",
			GuidedReplyTimeoutSecs: 120,
			IDPrefix:               "qp_",
		},
		Profile: ProfileConfig{
			Enabled:           false,
			MinMessages:       10,
			MaxBufferAgeSecs:  300,
			TimeFloorMessages: 3,
			ContextWindow:     0,
			SweepCron:         "* * * * *",
			SaveEvery:         5,
		},
		Architect: ArchitectConfig{
			TimeoutSeconds: 60,
			MaxRetries:     2,
			RetryDelayMS:   1000,
			MaxTokens:      4096,
			Temperature:    0.7,
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Storage: StorageConfig{
			DataDir: "~/.dotpersona/data",
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18791,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Cache: CacheConfig{
			Enabled:          true,
			SizeMB:           8,
			IntentTTLSeconds: 120,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate checks every section against its validate tags.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sections := []struct {
		name  string
		value interface{}
	}{
		{"persona", &c.Persona},
		{"profile", &c.Profile},
		{"architect", &c.Architect},
		{"storage", &c.Storage},
		{"gateway", &c.Gateway},
		{"cache", &c.Cache},
		{"logging", &c.Logging},
	}
	for _, s := range sections {
		v := validate.Struct(s.value)
		if !v.Validate() {
			return fmt.Errorf("invalid %s config: %s", s.name, v.Errors.One())
		}
	}
	return nil
}

func (c *Config) DataDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Storage.DataDir)
}

func (c *Config) GuidedReplyTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Persona.GuidedReplyTimeoutSecs) * time.Second
}

func (c *Config) MaxBufferAge() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Profile.MaxBufferAgeSecs) * time.Second
}

func (c *Config) ArchitectTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Architect.TimeoutSeconds) * time.Second
}

func (c *Config) ArchitectRetryDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Architect.RetryDelayMS) * time.Millisecond
}

// NormalizeFormat maps user-facing format aliases onto the canonical names.
// The second return is false for unknown formats.
func NormalizeFormat(format string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "natural", "text", "txt", "自然语言":
		return "natural", true
	case "markdown", "md":
		return "markdown", true
	case "xml":
		return "xml", true
	case "json":
		return "json", true
	case "yaml", "yml":
		return "yaml", true
	default:
		return "", false
	}
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
