package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHost         = "127.0.0.1"
	DefaultPort         = 3456
	DefaultAPITimeoutMS = 600000
	DefaultLogLevel     = "info"

	dirName     = ".claude-code-router"
	configFile  = "config.json"
	logFileName = "claude-code-router.log"
	pidFileName = ".claude-code-router.pid"
)

// Config is the process configuration. It is loaded once at startup and
// shared read-only by every request.
type Config struct {
	Host             string           `json:"HOST" yaml:"HOST"`
	Port             int              `json:"PORT" yaml:"PORT"`
	OpenAIAPIKey     string           `json:"OPENAI_API_KEY" yaml:"OPENAI_API_KEY"`
	OpenAIBaseURL    string           `json:"OPENAI_BASE_URL" yaml:"OPENAI_BASE_URL"`
	OpenAIModel      string           `json:"OPENAI_MODEL" yaml:"OPENAI_MODEL"`
	Providers        []ProviderConfig `json:"Providers" yaml:"Providers"`
	Router           RoutingConfig    `json:"Router" yaml:"Router"`
	CustomRouterPath string           `json:"CUSTOM_ROUTER_PATH" yaml:"CUSTOM_ROUTER_PATH"`
	APITimeoutMS     int              `json:"API_TIMEOUT_MS" yaml:"API_TIMEOUT_MS"`
	Log              bool             `json:"LOG" yaml:"LOG"`
	LogFile          string           `json:"LOG_FILE" yaml:"LOG_FILE"`
	LogLevel         string           `json:"LOG_LEVEL" yaml:"LOG_LEVEL"`
}

// ProviderConfig describes a named Responses API backend.
type ProviderConfig struct {
	Name       string   `json:"name" yaml:"name"`
	APIBaseURL string   `json:"api_base_url" yaml:"api_base_url"`
	APIKey     string   `json:"api_key" yaml:"api_key"`
	Models     []string `json:"models" yaml:"models"`
}

// RoutingConfig holds the model slots the router chooses among.
// Only Default is required.
type RoutingConfig struct {
	Default          string `json:"default" yaml:"default"`
	Background       string `json:"background" yaml:"background"`
	Think            string `json:"think" yaml:"think"`
	LongContext      string `json:"longContext" yaml:"longContext"`
	WebSearch        string `json:"webSearch" yaml:"webSearch"`
	CustomRouterPath string `json:"customRouterPath" yaml:"customRouterPath"`
}

// HomeDir returns the directory holding config, logs and the PID file.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return dirName
	}
	return filepath.Join(home, dirName)
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(HomeDir(), configFile)
}

// PIDPath returns the PID file location.
func PIDPath() string {
	return filepath.Join(HomeDir(), pidFileName)
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		APITimeoutMS: DefaultAPITimeoutMS,
		LogFile:      filepath.Join(HomeDir(), logFileName),
		LogLevel:     DefaultLogLevel,
	}
}

// Load reads .env files, the config file at path and environment overrides,
// then validates the result. A missing file is not an error; defaults and
// environment variables are used instead.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	loadDotEnv(filepath.Dir(path))

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a JSON or YAML config document over the defaults, applies
// environment overrides and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := decode([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode reads JSON documents with encoding/json, which tolerates tab
// indentation, and everything else as YAML.
func decode(data []byte, cfg *Config) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		return json.Unmarshal([]byte(trimmed), cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

func loadDotEnv(dir string) {
	// godotenv never overrides variables that are already set.
	_ = godotenv.Load()
	if dir != "" {
		_ = godotenv.Load(filepath.Join(dir, ".env"))
	}
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("SERVICE_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	c.OpenAIAPIKey = firstNonEmpty(c.OpenAIAPIKey, os.Getenv("OPENAI_API_KEY"))
	c.OpenAIBaseURL = firstNonEmpty(c.OpenAIBaseURL, os.Getenv("OPENAI_BASE_URL"))
	c.OpenAIModel = firstNonEmpty(c.OpenAIModel, os.Getenv("OPENAI_MODEL"))
	if envBool("LOG") {
		c.Log = true
	}
	c.LogLevel = envOrDefault("LOG_LEVEL", c.LogLevel)
}

func (c *Config) normalize() {
	c.Host = strings.TrimSpace(c.Host)
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(HomeDir(), logFileName)
	}
	if c.Router.CustomRouterPath == "" {
		c.Router.CustomRouterPath = strings.TrimSpace(c.CustomRouterPath)
	}
	if c.Router.Default == "" {
		c.Router.Default = strings.TrimSpace(c.OpenAIModel)
	}
}

// Validate reports the first structural problem in c.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Router.Default) == "" {
		return errors.New("config: Router.default (or OPENAI_MODEL) is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	}
	if c.APITimeoutMS < 0 {
		return fmt.Errorf("config: API_TIMEOUT_MS must not be negative, got %d", c.APITimeoutMS)
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("config: Providers[%d]: name is required", i)
		}
		if strings.TrimSpace(p.APIBaseURL) == "" {
			return fmt.Errorf("config: provider %q: api_base_url is required", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// APITimeout returns the per-response deadline.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.APITimeoutMS) * time.Millisecond
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return defaultVal
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}
