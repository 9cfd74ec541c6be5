// Package config loads scaffolder settings from defaults, an optional YAML
// file, a .env file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/example/site-scaffolder/internal/logging"
	"github.com/example/site-scaffolder/internal/providers/llm"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	LLM        llm.Config       `yaml:"llm"`
	Completion CompletionConfig `yaml:"completion"`
	Store      StoreConfig      `yaml:"store"`
	Logging    logging.Config   `yaml:"logging"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Brief      BriefConfig      `yaml:"brief"`
}

type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
}

type CompletionConfig struct {
	MaxOutputTokens int    `yaml:"max_output_tokens"`
	RetryAttempts   int    `yaml:"retry_attempts"`
	RequestTimeout  string `yaml:"request_timeout"`
	// CompleteAllSteps marks every step completed after a reduction instead
	// of only the steps in the batch just applied.
	CompleteAllSteps bool `yaml:"complete_all_steps"`
}

type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

type SandboxConfig struct {
	Dir string `yaml:"dir"`
}

type BriefConfig struct {
	MaxBytes int    `yaml:"max_bytes"`
	MaxPages int    `yaml:"max_pages"`
	Timeout  string `yaml:"timeout"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: "10s",
		},
		Completion: CompletionConfig{
			MaxOutputTokens: 12000,
			RetryAttempts:   3,
			RequestTimeout:  "5m",
		},
		Store:   StoreConfig{DatabasePath: "scaffolder.db"},
		Logging: logging.Config{Level: "info"},
		Sandbox: SandboxConfig{Dir: filepath.Join(os.TempDir(), "scaffolder-sandbox")},
		Brief:   BriefConfig{MaxBytes: 20 * 1024 * 1024, MaxPages: 20, Timeout: "60s"},
	}
}

// Load builds the configuration. A missing YAML file or .env file is not an
// error; either path may be empty to skip it. Variables already present in
// the environment win over the .env file.
func Load(path, envFile string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnvOverrides() error {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.LLM.GoogleAPIKey, "GOOGLE_API_KEY", "GEMINI_API_KEY")
	setString(&c.LLM.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&c.LLM.OpenAIBaseURL, "OPENAI_API_BASE")
	setString(&c.Store.DatabasePath, "SCAFFOLDER_DB")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.File, "LOG_FILE")
	setString(&c.Sandbox.Dir, "SANDBOX_DIR")
	setString(&c.Completion.RequestTimeout, "LLM_REQUEST_TIMEOUT")

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		c.Server.Addr = ":" + port
	}
	if origins := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); origins != "" {
		c.Server.AllowedOrigins = splitList(origins)
	}

	for key, dst := range map[string]*int{
		"LLM_MAX_OUTPUT_TOKENS": &c.Completion.MaxOutputTokens,
		"LLM_RETRY_ATTEMPTS":    &c.Completion.RetryAttempts,
		"PDF_MAX_BYTES":         &c.Brief.MaxBytes,
		"PDF_MAX_PAGES":         &c.Brief.MaxPages,
	} {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
	}
	return nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Completion.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be at least 1, got %d", c.Completion.RetryAttempts)
	}
	if c.Completion.MaxOutputTokens < 1 {
		return fmt.Errorf("max_output_tokens must be positive, got %d", c.Completion.MaxOutputTokens)
	}
	for name, v := range map[string]string{
		"request_timeout":  c.Completion.RequestTimeout,
		"shutdown_timeout": c.Server.ShutdownTimeout,
		"brief timeout":    c.Brief.Timeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// GetRequestTimeout returns the per-request model deadline; zero disables it.
func (c *Config) GetRequestTimeout() time.Duration {
	return parseDuration(c.Completion.RequestTimeout, 5*time.Minute)
}

func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 10*time.Second)
}

func (c *Config) GetBriefTimeout() time.Duration {
	return parseDuration(c.Brief.Timeout, time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
