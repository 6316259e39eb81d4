package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the root configuration for recruitbot.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Client    ClientConfig              `json:"client"`
	Gateway   GatewayConfig             `json:"gateway"`
	Providers map[string]ProviderConfig `json:"providers"`
	Metrics   MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

// ClientConfig configures the chat client: where the backend lives and who
// the session belongs to.
type ClientConfig struct {
	BaseURL               string `json:"baseURL"`
	Token                 string `json:"token,omitempty"`
	OwnerID               string `json:"ownerId"`
	Language              string `json:"language,omitempty"`
	HistoryWindow         int    `json:"historyWindow"`
	TitleLength           int    `json:"titleLength"`
	RequestTimeoutSeconds int    `json:"requestTimeoutSeconds"`
}

// GatewayConfig configures the development backend.
type GatewayConfig struct {
	Host               string   `json:"host"`
	Port               int      `json:"port"`
	DBPath             string   `json:"dbPath"`
	AttachmentDir      string   `json:"attachmentDir"`
	PublicURL          string   `json:"publicURL,omitempty"`
	Responder          string   `json:"responder"`          // "echo" | "ollama"
	Fallback           []string `json:"fallback,omitempty"` // tried in order when the responder fails before replying
	RateLimitPerMinute int      `json:"rateLimitPerMinute"`
	RateLimitBurst     int      `json:"rateLimitBurst"`
	MaxAttachmentBytes int64    `json:"maxAttachmentBytes"`
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// Addr returns the gateway listen address.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// DefaultConfigDir returns the default config directory (~/.recruitbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".recruitbot"
	}
	return filepath.Join(home, ".recruitbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadDotEnv loads KEY=value pairs from the given files (default ".env")
// into the process environment so ${VAR} references in the config resolve.
// Variables already set are not overridden; missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

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

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Gateway.DBPath = ExpandPath(cfg.Gateway.DBPath)
	cfg.Gateway.AttachmentDir = ExpandPath(cfg.Gateway.AttachmentDir)

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
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
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

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Client.HistoryWindow < 1 || cfg.Client.HistoryWindow > 100 {
		errs = append(errs, "client.historyWindow must be between 1 and 100")
	}
	if cfg.Client.TitleLength < 1 {
		errs = append(errs, "client.titleLength must be >= 1")
	}
	if cfg.Client.RequestTimeoutSeconds < 1 {
		errs = append(errs, "client.requestTimeoutSeconds must be >= 1")
	}
	if cfg.Client.BaseURL != "" && !strings.HasPrefix(cfg.Client.BaseURL, "http://") && !strings.HasPrefix(cfg.Client.BaseURL, "https://") {
		errs = append(errs, "client.baseURL must start with http:// or https://")
	}

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		errs = append(errs, "gateway.port must be between 0 and 65535")
	}
	switch cfg.Gateway.Responder {
	case "echo", "ollama":
		// valid
	default:
		errs = append(errs, "gateway.responder must be one of: echo, ollama")
	}
	for _, name := range cfg.Gateway.Fallback {
		if name != "echo" && name != "ollama" {
			errs = append(errs, fmt.Sprintf("gateway.fallback: unknown responder %q", name))
		}
	}
	if cfg.Gateway.Responder == "ollama" {
		if pc, ok := cfg.Providers["ollama"]; !ok || !pc.Enabled {
			errs = append(errs, "gateway.responder is ollama but providers.ollama is not enabled")
		}
	}
	if cfg.Gateway.RateLimitPerMinute < 0 {
		errs = append(errs, "gateway.rateLimitPerMinute must be >= 0")
	}
	if cfg.Gateway.RateLimitBurst < 0 {
		errs = append(errs, "gateway.rateLimitBurst must be >= 0")
	}
	if cfg.Gateway.MaxAttachmentBytes < 1 {
		errs = append(errs, "gateway.maxAttachmentBytes must be >= 1")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
