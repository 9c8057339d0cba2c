package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for insightbot.
type Config struct {
	General   GeneralConfig             `yaml:"general"`
	Server    ServerConfig              `yaml:"server"`
	Models    ModelsConfig              `yaml:"models"`
	LLM       LLMConfig                 `yaml:"llm"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Analytics AnalyticsConfig           `yaml:"analytics"`
	SEO       SEOConfig                 `yaml:"seo"`
	History   HistoryConfig             `yaml:"history"`
	Metrics   MetricsConfig             `yaml:"metrics"`
	Telegram  TelegramConfig            `yaml:"telegram"`
}

type GeneralConfig struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"` // "text" | "json"
}

type ServerConfig struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	RequestTimeoutSeconds int    `yaml:"requestTimeoutSeconds"`
}

// ModelsConfig names the two model tiers: a fast one for inference and
// classification, a stronger one for explanations and synthesis.
type ModelsConfig struct {
	Fast      string `yaml:"fast"`
	Reasoning string `yaml:"reasoning"`
}

type LLMConfig struct {
	DefaultProvider    string   `yaml:"defaultProvider"`
	FailoverChain      []string `yaml:"failoverChain,omitempty"`
	MaxRetries         int      `yaml:"maxRetries"`
	BaseDelayMs        int      `yaml:"baseDelayMs"`
	RateLimitPerMinute int      `yaml:"rateLimitPerMinute,omitempty"` // 0 = no client-side throttle
	TimeoutSeconds     int      `yaml:"timeoutSeconds"`
}

// BaseDelay returns the backoff unit for rate-limit retries.
func (c LLMConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

type ProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Kind    string `yaml:"kind"` // "openai" | "gemini"
	APIBase string `yaml:"apiBase,omitempty"`
	APIKey  string `yaml:"apiKey,omitempty"`
}

type AnalyticsConfig struct {
	CredentialsFile   string   `yaml:"credentialsFile"`
	DefaultPropertyID string   `yaml:"defaultPropertyId,omitempty"`
	AllowedMetrics    []string `yaml:"allowedMetrics"`
	AllowedDimensions []string `yaml:"allowedDimensions"`
	MaxLimit          int      `yaml:"maxLimit"`
}

type SEOConfig struct {
	SheetID             string `yaml:"sheetId"`
	GID                 string `yaml:"gid"`
	URL                 string `yaml:"url,omitempty"`  // overrides the sheet export URL
	File                string `yaml:"file,omitempty"` // local CSV, takes precedence over URL
	FetchTimeoutSeconds int    `yaml:"fetchTimeoutSeconds"`
}

// SourceURL returns the CSV export URL for the crawl spreadsheet.
func (c SEOConfig) SourceURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("https://docs.google.com/spreadsheets/d/%s/export?format=csv&gid=%s", c.SheetID, c.GID)
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"dbPath"`
}

type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

type TelegramConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Token             string   `yaml:"token,omitempty"`
	AllowFrom         []string `yaml:"allowFrom,omitempty"`
	DefaultPropertyID string   `yaml:"defaultPropertyId,omitempty"`
}

// DefaultConfigDir returns the default config directory (~/.insightbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".insightbot"
	}
	return filepath.Join(home, ".insightbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads the YAML config at path on top of Defaults. A .env file in the
// working directory is loaded first so ${VAR} references can resolve from it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	cfg, err := expandedDefaults()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal([]byte(ExpandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	cfg.expandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// FromEnv builds a config from Defaults with ${VAR} references resolved, for
// running without a config file.
func FromEnv() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := expandedDefaults()
	if err != nil {
		return nil, err
	}
	cfg.expandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// expandedDefaults returns Defaults with every ${VAR} placeholder resolved.
func expandedDefaults() (*Config, error) {
	data, err := yaml.Marshal(Defaults())
	if err != nil {
		return nil, fmt.Errorf("cannot marshal defaults: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(ExpandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("cannot parse defaults: %w", err)
	}
	return cfg, nil
}

func (c *Config) expandPaths() {
	c.History.DBPath = ExpandPath(c.History.DBPath)
	c.Analytics.CredentialsFile = ExpandPath(c.Analytics.CredentialsFile)
	c.SEO.File = ExpandPath(c.SEO.File)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty. Unset variables
// without a default expand to the empty string.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if val := os.Getenv(groups[1]); val != "" {
			return val
		}
		return groups[2]
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has usable values and reports every problem at once.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.RequestTimeoutSeconds < 1 {
		errs = append(errs, "server.requestTimeoutSeconds must be >= 1")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	if cfg.Models.Fast == "" || cfg.Models.Reasoning == "" {
		errs = append(errs, "models.fast and models.reasoning are required")
	}
	if cfg.LLM.MaxRetries < 1 || cfg.LLM.MaxRetries > 10 {
		errs = append(errs, "llm.maxRetries must be between 1 and 10")
	}
	if cfg.LLM.BaseDelayMs < 0 {
		errs = append(errs, "llm.baseDelayMs must be >= 0")
	}
	if cfg.LLM.TimeoutSeconds < 1 {
		errs = append(errs, "llm.timeoutSeconds must be >= 1")
	}

	chain := cfg.LLM.FailoverChain
	if len(chain) == 0 {
		chain = []string{cfg.LLM.DefaultProvider}
	}
	for _, name := range chain {
		pc, ok := cfg.Providers[name]
		if !ok {
			errs = append(errs, fmt.Sprintf("llm provider %q is not defined under providers", name))
			continue
		}
		if !pc.Enabled {
			errs = append(errs, fmt.Sprintf("providers.%s is referenced but disabled", name))
		}
	}
	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		switch pc.Kind {
		case "openai", "gemini":
		default:
			errs = append(errs, fmt.Sprintf("providers.%s: kind must be one of: openai, gemini", name))
		}
		if pc.APIKey == "" {
			errs = append(errs, fmt.Sprintf("providers.%s: apiKey is required (set it or export the referenced variable)", name))
		}
	}

	if len(cfg.Analytics.AllowedMetrics) == 0 {
		errs = append(errs, "analytics.allowedMetrics must not be empty")
	}
	if cfg.Analytics.MaxLimit < 1 {
		errs = append(errs, "analytics.maxLimit must be >= 1")
	}
	if cfg.SEO.File == "" && cfg.SEO.URL == "" && (cfg.SEO.SheetID == "" || cfg.SEO.GID == "") {
		errs = append(errs, "seo: one of file, url, or sheetId+gid is required")
	}
	if cfg.SEO.FetchTimeoutSeconds < 1 {
		errs = append(errs, "seo.fetchTimeoutSeconds must be >= 1")
	}
	if cfg.History.Enabled && cfg.History.DBPath == "" {
		errs = append(errs, "history.dbPath is required when history is enabled")
	}
	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required when telegram is enabled")
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
