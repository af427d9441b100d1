// Package config loads repomap settings with the hierarchy
// defaults < .repomap.yml < REPOMAP_* environment < explicit overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the configuration file looked up in the project root.
const FileName = ".repomap"

// EnvPrefix prefixes every environment override, e.g. REPOMAP_CONCURRENCY.
const EnvPrefix = "REPOMAP"

// Config holds all repomap settings.
type Config struct {
	Backend       string        `mapstructure:"backend"`
	Concurrency   int           `mapstructure:"concurrency"`
	ToolTimeout   time.Duration `mapstructure:"tool_timeout"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	GitTimeout    time.Duration `mapstructure:"git_timeout"`
	StateDir      string        `mapstructure:"state_dir"`
	Exclude       []string      `mapstructure:"exclude"`
	Languages     []string      `mapstructure:"languages"`
	ScanCacheSize int           `mapstructure:"scan_cache_size"`
	Log           Logging       `mapstructure:"log"`

	// File is the configuration file that was read, if any.
	File string `mapstructure:"-"`
}

// Logging configures the process logger.
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Backend:       "ast-grep",
		Concurrency:   8,
		ToolTimeout:   30 * time.Second,
		ProbeTimeout:  5 * time.Second,
		GitTimeout:    10 * time.Second,
		Exclude:       []string{},
		Languages:     []string{},
		ScanCacheSize: 4096,
		Log: Logging{
			Level:  "warn",
			Format: "text",
		},
	}
}

// LoadOptions selects where configuration comes from.
type LoadOptions struct {
	// ProjectDir is searched for .repomap.yml when File is empty.
	ProjectDir string
	// File is an explicit configuration file; it must exist.
	File string
	// Overrides are applied last, keyed like the YAML file ("log.level").
	Overrides map[string]any
}

// Load builds a validated Config.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	v.SetConfigType("yaml")
	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		dir := opts.ProjectDir
		if dir == "" {
			dir = "."
		}
		v.SetConfigName(FileName)
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("backend", d.Backend)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("tool_timeout", d.ToolTimeout)
	v.SetDefault("probe_timeout", d.ProbeTimeout)
	v.SetDefault("git_timeout", d.GitTimeout)
	v.SetDefault("state_dir", d.StateDir)
	v.SetDefault("exclude", d.Exclude)
	v.SetDefault("languages", d.Languages)
	v.SetDefault("scan_cache_size", d.ScanCacheSize)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Backend {
	case "ast-grep", "native":
	default:
		return fmt.Errorf("backend must be ast-grep or native, got %q", c.Backend)
	}
	if c.Concurrency < 1 {
		return errors.New("concurrency must be >= 1")
	}
	if c.ToolTimeout <= 0 {
		return errors.New("tool_timeout must be positive")
	}
	if c.ProbeTimeout <= 0 {
		return errors.New("probe_timeout must be positive")
	}
	if c.GitTimeout <= 0 {
		return errors.New("git_timeout must be positive")
	}
	if c.ScanCacheSize < 1 {
		return errors.New("scan_cache_size must be >= 1")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
