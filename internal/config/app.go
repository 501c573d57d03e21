// Package config holds the two configuration layers of the client: the
// bootstrap file read at startup (storage, endpoints, logging) and the
// user-facing selection state persisted next to the conversations.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cygnos/internal/db"

	"github.com/BurntSushi/toml"
)

const (
	DefaultGeminiBaseURL    = "https://generativelanguage.googleapis.com/v1beta/models"
	DefaultRequestyBaseURL  = "https://router.requesty.ai/v1"
	DefaultRequestyProxyURL = "http://localhost:3000/api/requesty"
	DefaultProxyAddr        = ":3000"
)

type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Gemini   GeminiConfig   `toml:"gemini"`
	Requesty RequestyConfig `toml:"requesty"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Log      LogConfig      `toml:"log"`
}

type StorageConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

type GeminiConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

type RequestyConfig struct {
	BaseURL  string `toml:"base_url"`
	ProxyURL string `toml:"proxy_url"`
	UseProxy bool   `toml:"use_proxy"`
	APIKey   string `toml:"api_key"`
}

type ProxyConfig struct {
	Addr     string `toml:"addr"`
	Upstream string `toml:"upstream"`
}

type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

func Default() *Config {
	return &Config{
		Storage: StorageConfig{Backend: db.BackendSQLite},
		Gemini:  GeminiConfig{BaseURL: DefaultGeminiBaseURL},
		Requesty: RequestyConfig{
			BaseURL:  DefaultRequestyBaseURL,
			ProxyURL: DefaultRequestyProxyURL,
			UseProxy: true,
		},
		Proxy: ProxyConfig{Addr: DefaultProxyAddr, Upstream: DefaultRequestyBaseURL},
		Log:   LogConfig{Level: "info"},
	}
}

// Path returns the location of config.toml.
func Path() (string, error) {
	dir, err := db.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the default config file if it exists and applies environment
// overrides. A missing file is not an error.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to decode TOML file: %w", err)
	}
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("CYGNOS_GEMINI_API_KEY"); key != "" {
		c.Gemini.APIKey = key
	}
	if key := os.Getenv("CYGNOS_REQUESTY_API_KEY"); key != "" {
		c.Requesty.APIKey = key
	}
	if url := os.Getenv("CYGNOS_PROXY_URL"); url != "" {
		c.Requesty.ProxyURL = url
	}
	if v := os.Getenv("CYGNOS_USE_PROXY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Requesty.UseProxy = b
		}
	}
	if backend := os.Getenv("CYGNOS_STORAGE_BACKEND"); backend != "" {
		c.Storage.Backend = backend
	}
	if level := os.Getenv("CYGNOS_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

// SetDefaults fills fields an explicit empty value in the file left blank.
func (c *Config) SetDefaults() {
	d := Default()
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Gemini.BaseURL == "" {
		c.Gemini.BaseURL = d.Gemini.BaseURL
	}
	if c.Requesty.BaseURL == "" {
		c.Requesty.BaseURL = d.Requesty.BaseURL
	}
	if c.Requesty.ProxyURL == "" {
		c.Requesty.ProxyURL = d.Requesty.ProxyURL
	}
	if c.Proxy.Addr == "" {
		c.Proxy.Addr = d.Proxy.Addr
	}
	if c.Proxy.Upstream == "" {
		c.Proxy.Upstream = d.Proxy.Upstream
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

func (c *Config) Validate() error {
	var problems []string
	switch c.Storage.Backend {
	case db.BackendSQLite, db.BackendBolt, db.BackendMemory:
	default:
		problems = append(problems, fmt.Sprintf("storage.backend: unknown backend %q", c.Storage.Backend))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log.level: unknown level %q", c.Log.Level))
	}
	urls := []struct{ name, url string }{
		{"gemini.base_url", c.Gemini.BaseURL},
		{"requesty.base_url", c.Requesty.BaseURL},
		{"requesty.proxy_url", c.Requesty.ProxyURL},
		{"proxy.upstream", c.Proxy.Upstream},
	}
	for _, u := range urls {
		if !strings.HasPrefix(u.url, "http://") && !strings.HasPrefix(u.url, "https://") {
			problems = append(problems, fmt.Sprintf("%s: must be an http(s) URL", u.name))
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// RequestyEndpoint is the base URL the Requesty provider talks to.
func (c *Config) RequestyEndpoint() string {
	if c.Requesty.UseProxy {
		return c.Requesty.ProxyURL
	}
	return c.Requesty.BaseURL
}
