package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ProviderConfig configures one completion backend.
type ProviderConfig struct {
	Kind          string  `json:"kind"` // anthropic, openai, gemini, bedrock
	Model         string  `json:"model"`
	BaseURL       string  `json:"base_url,omitempty"`
	APIKey        string  `json:"api_key,omitempty"`
	Region        string  `json:"region,omitempty"`
	MaxTokens     int     `json:"max_tokens"`
	Temperature   float32 `json:"temperature"`
	ContextTokens int     `json:"context_tokens"`
}

// MCPServer is an external tool source launched over stdio.
type MCPServer struct {
	Name                    string            `json:"name"`
	Command                 string            `json:"command"`
	Args                    []string          `json:"args,omitempty"`
	Env                     map[string]string `json:"env,omitempty"`
	HandshakeTimeoutSeconds int               `json:"handshake_timeout_seconds,omitempty"`
}

type Config struct {
	DataDir         string                    `json:"data_dir"`
	LogLevel        string                    `json:"log_level"`
	LogFormat       string                    `json:"log_format"`
	DefaultProvider string                    `json:"default_provider"`
	Providers       map[string]ProviderConfig `json:"providers"`
	Main            struct {
		MaxToolRounds int    `json:"max_tool_rounds"`
		SystemPrompt  string `json:"system_prompt,omitempty"`
	} `json:"main"`
	Agents struct {
		MaxIterations         int    `json:"max_iterations"`
		MaxConcurrent         int    `json:"max_concurrent"`
		CreateCooldownSeconds int    `json:"create_cooldown_seconds"`
		RetentionMinutes      int    `json:"retention_minutes"`
		GCInterval            string `json:"gc_interval"`
		MinTaskLength         int    `json:"min_task_length"`
	} `json:"agents"`
	Tools struct {
		WorkDir               string   `json:"work_dir"`
		AllowedCommands       []string `json:"allowed_commands"`
		CommandTimeoutSeconds int      `json:"command_timeout_seconds"`
		FetchTimeoutSeconds   int      `json:"fetch_timeout_seconds"`
		Hidden                []string `json:"hidden,omitempty"`
		ReadOnly              []string `json:"read_only,omitempty"`
	} `json:"tools"`
	MCPServers []MCPServer `json:"mcp_servers,omitempty"`
	Storage    struct {
		Driver string `json:"driver"` // file or sqlite
	} `json:"storage"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
	Brave struct {
		APIKey string `json:"api_key"`
	} `json:"brave"`
	Telegram struct {
		Token        string  `json:"token"`
		AllowedUsers []int64 `json:"allowed_users,omitempty"`
	} `json:"telegram"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	home := os.Getenv("HOME")
	cfg := &Config{
		DataDir:         filepath.Join(home, ".burrow"),
		LogLevel:        "info",
		LogFormat:       "text",
		DefaultProvider: "openai",
		Providers: map[string]ProviderConfig{
			"openai": {
				Kind:          "openai",
				Model:         "gpt-4o-mini",
				BaseURL:       "https://api.openai.com/v1",
				MaxTokens:     4096,
				Temperature:   0.7,
				ContextTokens: 128000,
			},
			"anthropic": {
				Kind:          "anthropic",
				Model:         "claude-sonnet-4-5",
				MaxTokens:     4096,
				Temperature:   0.7,
				ContextTokens: 200000,
			},
		},
	}
	cfg.Main.MaxToolRounds = 10
	cfg.Agents.MaxIterations = 20
	cfg.Agents.MaxConcurrent = 4
	cfg.Agents.CreateCooldownSeconds = 2
	cfg.Agents.RetentionMinutes = 30
	cfg.Agents.GCInterval = "@every 1m"
	cfg.Agents.MinTaskLength = 10
	cfg.Tools.WorkDir = home
	cfg.Tools.AllowedCommands = []string{"ls", "cat", "git*", "grep", "find", "wc", "head", "tail"}
	cfg.Tools.CommandTimeoutSeconds = 60
	cfg.Tools.FetchTimeoutSeconds = 30
	cfg.Tools.Hidden = []string{"**/.env", "**/.git/**"}
	cfg.Storage.Driver = "file"
	cfg.HTTP.Listen = "127.0.0.1:8787"
	return cfg
}

// Load reads the config at path, writing defaults there if it does not exist.
// Files ending in .yaml or .yml are decoded as YAML; everything else as JSON
// with comments allowed. Environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		raw, err := readRaw(path)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("re-encode config: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if dir := os.Getenv("BURROW_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	for id, p := range cfg.Providers {
		switch p.Kind {
		case "openai":
			if key := os.Getenv("OPENAI_API_KEY"); key != "" {
				p.APIKey = key
			}
			if base := os.Getenv("OPENAI_BASE_URL"); base != "" && id == "openai" {
				p.BaseURL = base
			}
		case "anthropic":
			if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
				p.APIKey = key
			}
		case "gemini":
			if key := os.Getenv("GEMINI_API_KEY"); key != "" {
				p.APIKey = key
			}
		}
		cfg.Providers[id] = p
	}
	if braveKey := os.Getenv("BRAVE_API_KEY"); braveKey != "" {
		cfg.Brave.APIKey = braveKey
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if _, ok := c.Providers[c.DefaultProvider]; !ok {
		return fmt.Errorf("default_provider %q is not configured", c.DefaultProvider)
	}
	for id, p := range c.Providers {
		switch p.Kind {
		case "anthropic", "openai", "gemini", "bedrock":
		default:
			return fmt.Errorf("provider %q: unknown kind %q", id, p.Kind)
		}
		if p.ContextTokens <= 0 {
			return fmt.Errorf("provider %q: context_tokens must be positive", id)
		}
	}
	switch c.Storage.Driver {
	case "file", "sqlite":
	default:
		return fmt.Errorf("storage.driver must be file or sqlite, got %q", c.Storage.Driver)
	}
	if c.Agents.MaxIterations <= 0 {
		return fmt.Errorf("agents.max_iterations must be positive")
	}
	return nil
}

func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Tools.CommandTimeoutSeconds) * time.Second
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Tools.FetchTimeoutSeconds) * time.Second
}

func (c *Config) CreateCooldown() time.Duration {
	return time.Duration(c.Agents.CreateCooldownSeconds) * time.Second
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.Agents.RetentionMinutes) * time.Minute
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	m, err := ToMap(cfg)
	if err != nil {
		return err
	}
	return writeRaw(path, m)
}

// ToMap converts a Config into a generic nested map using its JSON field names.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config map: %w", err)
	}
	return m, nil
}

// ListValues returns the flattened config, optionally with secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue reads one dotted key from the file at path. Keys unknown to Config
// but present in the file are returned as well.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(raw)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue sets one dotted key in the existing file at path. The value is
// parsed as JSON when possible (numbers, booleans, arrays) and kept as a
// string otherwise.
func SetValue(path, key, value string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	raw, err := readRaw(path)
	if err != nil {
		return err
	}
	flat := Flatten(raw)

	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	flat[key] = parsed
	return writeRaw(path, Unflatten(flat))
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	m := make(map[string]any)
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
		return m, nil
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return m, nil
}

func writeRaw(path string, m map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(m)
	} else {
		data, err = json.MarshalIndent(m, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
