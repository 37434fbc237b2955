package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all metacog configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Lens      LensConfig      `yaml:"lens" mapstructure:"lens"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

type StoreConfig struct {
	// Path defaults to ~/.metacog/store.json. A .db suffix selects SQLite.
	Path string `yaml:"path" mapstructure:"path"`
	// MaxEntries of 0 disables eviction.
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries" validate:"gte=0"`
}

type EmbeddingConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Endpoint string        `yaml:"endpoint" mapstructure:"endpoint" validate:"required_if=Enabled true,omitempty,url"`
	Model    string        `yaml:"model" mapstructure:"model"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gt=0"`
	Workers  int           `yaml:"workers" mapstructure:"workers" validate:"gte=1,lte=64"`
}

type LensConfig struct {
	// Path defaults to ~/.metacog/lens.md.
	Path        string `yaml:"path" mapstructure:"path"`
	TokenBudget int    `yaml:"token_budget" mapstructure:"token_budget" validate:"gte=0"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Store: StoreConfig{
			MaxEntries: 500,
		},
		Embedding: EmbeddingConfig{
			Enabled:  false,
			Endpoint: "http://localhost:11434/v1/embeddings",
			Model:    "nomic-embed-text",
			Timeout:  3 * time.Second,
			Workers:  4,
		},
		Lens: LensConfig{
			TokenBudget: 1500,
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

var validate = validator.New()

// Load reads config.yaml from path (or the search directories when path is
// empty), applies METACOG_* environment overrides on top of Default, and
// validates the result. A missing config file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, dir := range searchDirs() {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix("METACOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// the config file does not mention.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("store.max_entries", cfg.Store.MaxEntries)
	v.SetDefault("embedding.enabled", cfg.Embedding.Enabled)
	v.SetDefault("embedding.endpoint", cfg.Embedding.Endpoint)
	v.SetDefault("embedding.model", cfg.Embedding.Model)
	v.SetDefault("embedding.timeout", cfg.Embedding.Timeout)
	v.SetDefault("embedding.workers", cfg.Embedding.Workers)
	v.SetDefault("lens.path", cfg.Lens.Path)
	v.SetDefault("lens.token_budget", cfg.Lens.TokenBudget)
	v.SetDefault("log.level", cfg.Log.Level)
}

func searchDirs() []string {
	var dirs []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, "metacog"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".metacog"))
	}
	return dirs
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}

func formatFieldError(fe validator.FieldError) string {
	field := strings.ToLower(strings.TrimPrefix(fe.Namespace(), "Config."))
	switch fe.Tag() {
	case "required_if":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
