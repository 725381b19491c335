// Package config loads llm-council configuration from the environment, an
// optional YAML file and command-line flags, in that order of precedence
// from lowest to highest.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/johnayoung/llm-council/internal/council"
	"github.com/johnayoung/llm-council/internal/provider"
	"gopkg.in/yaml.v3"
)

// Config holds process configuration shared by the commands.
type Config struct {
	CouncilModels []string `env:"LLM_COUNCIL_COUNCIL_MODELS" envSeparator:"," envDefault:"gemma3:27b,gpt-oss:20b,medgemma:27b" yaml:"council_models"`
	ChairmanModel string   `env:"LLM_COUNCIL_CHAIRMAN_MODEL" envDefault:"gemma3:27b" yaml:"chairman_model"`
	// TitleModel names conversations. Empty means the chairman.
	TitleModel    string `env:"LLM_COUNCIL_TITLE_MODEL" yaml:"title_model"`
	ShuffleLabels bool   `env:"LLM_COUNCIL_SHUFFLE_LABELS" yaml:"shuffle_labels"`

	OllamaURL    string        `env:"LLM_COUNCIL_OLLAMA_URL" envDefault:"http://localhost:11434" yaml:"ollama_url"`
	ModelTimeout time.Duration `env:"LLM_COUNCIL_MODEL_TIMEOUT" envDefault:"300s" yaml:"model_timeout"`
	Concurrency  int           `env:"LLM_COUNCIL_CONCURRENCY" yaml:"concurrency"`
	MaxRetries   uint64        `env:"LLM_COUNCIL_MAX_RETRIES" envDefault:"2" yaml:"max_retries"`

	HTTPAddr     string   `env:"LLM_COUNCIL_HTTP_ADDR" envDefault:":8001" yaml:"http_addr"`
	CORSOrigins  []string `env:"LLM_COUNCIL_CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://localhost:3000" yaml:"cors_origins"`
	DatabasePath string   `env:"LLM_COUNCIL_DB_PATH" envDefault:"data/council.db" yaml:"database_path"`

	ConfigFile string `env:"LLM_COUNCIL_CONFIG" yaml:"-"`
}

// FromEnv returns defaults overridden by LLM_COUNCIL_* variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// LoadFile overlays the keys present in a YAML file onto cfg.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// RegisterFlags binds the council flags shared by every command to cfg.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.Var((*listFlag)(&c.CouncilModels), "models", "Comma-separated council models")
	fs.StringVar(&c.ChairmanModel, "chairman", c.ChairmanModel, "Chairman model for the final synthesis")
	fs.StringVar(&c.OllamaURL, "ollama-url", c.OllamaURL, "Ollama base URL")
	fs.DurationVar(&c.ModelTimeout, "timeout", c.ModelTimeout, "Timeout per model invocation")
	fs.IntVar(&c.Concurrency, "concurrency", c.Concurrency, "Max concurrent model calls per stage (0 = unlimited)")
	fs.BoolVar(&c.ShuffleLabels, "shuffle", c.ShuffleLabels, "Shuffle response order before anonymizing")
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "YAML config file")
}

// ParseConfig loads the environment, registers the shared flags plus any
// registered by extra, and parses args. When a config file is named, it is
// applied and the flags are parsed again so they keep precedence.
func ParseConfig(fs *flag.FlagSet, args []string, extra func(*Config, *flag.FlagSet)) (Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg.RegisterFlags(fs)
	if extra != nil {
		extra(&cfg, fs)
	}
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil {
			return Config{}, err
		}
		if err := fs.Parse(args); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields every command relies on.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ChairmanModel) == "" {
		return errors.New("chairman model is required")
	}
	if err := c.CouncilSettings().Validate(); err != nil {
		return err
	}
	if c.ModelTimeout <= 0 {
		return errors.New("model timeout must be positive")
	}
	return nil
}

// CouncilSettings returns the council composition the pipeline runs with.
func (c Config) CouncilSettings() council.Settings {
	return council.Settings{
		CouncilModels: append([]string(nil), c.CouncilModels...),
		ChairmanModel: c.ChairmanModel,
		ShuffleLabels: c.ShuffleLabels,
	}
}

// AllModels returns every model the configuration may invoke.
func (c Config) AllModels() []string {
	models := append([]string(nil), c.CouncilModels...)
	models = append(models, c.ChairmanModel)
	if c.TitleModel != "" {
		models = append(models, c.TitleModel)
	}
	return models
}


// listFlag is a comma-separated []string flag.
type listFlag []string

func (l *listFlag) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

func (l *listFlag) Set(s string) error {
	*l = SplitList(s)
	return nil
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// RegistryOptions returns the provider settings implied by c.
func (c Config) RegistryOptions() provider.RegistryOptions {
	return provider.RegistryOptions{
		OllamaURL:  c.OllamaURL,
		MaxRetries: c.MaxRetries,
	}
}

// PipelineOptions returns the pipeline settings implied by c.
func (c Config) PipelineOptions(logger *slog.Logger) []council.Option {
	opts := []council.Option{
		council.WithTimeout(c.ModelTimeout),
		council.WithConcurrency(c.Concurrency),
	}
	if logger != nil {
		opts = append(opts, council.WithLogger(logger))
	}
	return opts
}
