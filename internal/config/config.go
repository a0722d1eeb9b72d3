package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gohothothot/GohotBlenderAgent/internal/domain"
)

// Config is the root configuration for the Blender agent sidecar.
type Config struct {
	General    GeneralConfig             `json:"general"`
	Providers  map[string]ProviderConfig `json:"providers"`
	Agent      AgentConfig               `json:"agent"`
	Permission PermissionConfig          `json:"permission"`
	Memory     MemoryConfig              `json:"memory"`
	Meshy      MeshyConfig               `json:"meshy"`
	Panel      PanelConfig               `json:"panel"`
	Host       HostConfig                `json:"host"`
}

type GeneralConfig struct {
	LogLevel        string `json:"logLevel"`
	LogFile         string `json:"logFile,omitempty"`
	DefaultProvider string `json:"defaultProvider"`
	// ProjectDir sandboxes the file tools.
	ProjectDir string `json:"projectDir,omitempty"`
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
}

// AgentConfig tunes the orchestration loop.
type AgentConfig struct {
	Mode          string `json:"mode"`          // "native" | "structured" | "auto"
	AutoFallback  bool   `json:"autoFallback"`  // native → structured on NoToolCall
	MaxToolRounds int    `json:"maxToolRounds"` // bounded recursion depth
	HistoryLimit  int    `json:"historyLimit"`  // messages loaded per conversation
	MaxTokens     int     `json:"maxTokens"`
	Temperature   float64 `json:"temperature"`
}

// PermissionConfig controls the permission guard.
type PermissionConfig struct {
	Level                  string `json:"level"` // "high" | "balanced" | "conservative"
	ConfirmHighRisk        bool   `json:"confirmHighRisk"`
	AllowDestructiveTools  bool   `json:"allowDestructiveTools"`
	AllowFileWriteTools    bool   `json:"allowFileWriteTools"`
	AllowNetworkTools     bool   `json:"allowNetworkTools"`
	ConfirmTimeoutSeconds int    `json:"confirmTimeoutSeconds"`
	AuditLog              bool   `json:"auditLog"`
}

type MemoryConfig struct {
	DBPath string `json:"dbPath"`
}

type MeshyConfig struct {
	Enabled      bool   `json:"enabled"`
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	PollSeconds  int    `json:"pollSeconds,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
}

// PanelConfig configures the websocket endpoint the Blender add-on
// panel connects to.
type PanelConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Path string `json:"path"`
}

// HostConfig tunes the host-thread execution bridge.
type HostConfig struct {
	QueueSize      int `json:"queueSize"`
	TimeoutSeconds int `json:"timeoutSeconds"`
}

// PolicyLevel returns the configured permission level as a domain type.
func (p PermissionConfig) PolicyLevel() domain.PolicyLevel {
	switch p.Level {
	case "balanced":
		return domain.PolicyBalanced
	case "conservative":
		return domain.PolicyConservative
	default:
		return domain.PolicyHigh
	}
}

// DefaultConfigDir returns the default config directory (~/.gohot-agent).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gohot-agent"
	}
	return filepath.Join(home, ".gohot-agent")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Memory.DBPath = expandPath(cfg.Memory.DBPath)
	cfg.General.LogFile = expandPath(cfg.General.LogFile)
	cfg.General.ProjectDir = expandPath(cfg.General.ProjectDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate rejects configurations the agent cannot start with.
func Validate(cfg *Config) error {
	switch cfg.Agent.Mode {
	case "native", "structured", "auto":
	default:
		return fmt.Errorf("agent.mode must be native, structured, or auto, got %q", cfg.Agent.Mode)
	}
	switch cfg.Permission.Level {
	case "high", "balanced", "conservative":
	default:
		return fmt.Errorf("permission.level must be high, balanced, or conservative, got %q", cfg.Permission.Level)
	}
	if cfg.Agent.MaxToolRounds <= 0 {
		return fmt.Errorf("agent.maxToolRounds must be positive, got %d", cfg.Agent.MaxToolRounds)
	}
	if cfg.General.DefaultProvider != "" {
		if _, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
			return fmt.Errorf("defaultProvider %q has no provider entry", cfg.General.DefaultProvider)
		}
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
