package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/yuya-takeyama/manifest-sync/pkg/fnmatch"
)

const (
	AppName   = "manifest-sync"
	EnvPrefix = "MANIFEST_SYNC"

	DefaultManifestName = "manifest"
	DefaultFetchTimeout = 30 * time.Second
	DefaultIdleTimeout  = 60 * time.Second
	DefaultMaxRetries   = 3
)

// Config represents the complete manifest-sync configuration
type Config struct {
	Origin       string       `mapstructure:"origin"`
	ManifestName string       `mapstructure:"manifest_name"`
	Paths        PathsConfig  `mapstructure:"paths"`
	Launch       LaunchConfig `mapstructure:"launch"`
	Sync         SyncConfig   `mapstructure:"sync"`
	AWS          AWSConfig    `mapstructure:"aws"`
	Log          LogConfig    `mapstructure:"log"`
}

// PathsConfig configures local filesystem paths. Staging and content
// directories are relative to InstallDir unless absolute.
type PathsConfig struct {
	InstallDir string `mapstructure:"install_dir"`
	StagingDir string `mapstructure:"staging_dir"`
	ContentDir string `mapstructure:"content_dir"`
}

// LaunchConfig is the command started again after a self-update.
type LaunchConfig struct {
	Executable string   `mapstructure:"executable"`
	Args       []string `mapstructure:"args"`
}

type SyncConfig struct {
	Excludes     []string      `mapstructure:"excludes"`
	Protect      []string      `mapstructure:"protect"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type AWSConfig struct {
	Profile string `mapstructure:"profile"`
	Region  string `mapstructure:"region"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// ConfigFilePath is used exclusively when set and must exist.
	ConfigFilePath string
	// ConfigDirPath overrides DefaultConfigDir.
	ConfigDirPath string
	// Flags are bound over file and environment values. Only flags listed in
	// FlagKeys are bound.
	Flags *pflag.FlagSet
}

// FlagKeys maps command line flags to configuration keys.
var FlagKeys = map[string]string{
	"origin":        "origin",
	"manifest":      "manifest_name",
	"install-dir":   "paths.install_dir",
	"exclude":       "sync.excludes",
	"protect":       "sync.protect",
	"idle-timeout":  "sync.idle_timeout",
	"fetch-timeout": "sync.fetch_timeout",
	"retries":       "sync.max_retries",
	"profile":       "aws.profile",
	"region":        "aws.region",
	"log-level":     "log.level",
	"log-format":    "log.format",
}

var ErrConfigNotFound = errors.New("config file not found")

// DefaultConfigDir returns $XDG_CONFIG_HOME/manifest-sync, falling back to
// ~/.config/manifest-sync.
func DefaultConfigDir() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, AppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", AppName), nil
}

// Load merges defaults, the config file, MANIFEST_SYNC_* environment
// variables and flags, in increasing precedence.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	v.SetDefault("manifest_name", DefaultManifestName)
	v.SetDefault("sync.idle_timeout", DefaultIdleTimeout)
	v.SetDefault("sync.fetch_timeout", DefaultFetchTimeout)
	v.SetDefault("sync.max_retries", DefaultMaxRetries)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{"origin", "paths.install_dir", "paths.staging_dir", "paths.content_dir", "launch.executable", "aws.profile", "aws.region"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if opts.ConfigFilePath != "" {
		if _, err := os.Stat(opts.ConfigFilePath); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, opts.ConfigFilePath)
		}
		v.SetConfigFile(opts.ConfigFilePath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		dir := opts.ConfigDirPath
		if dir == "" {
			var err error
			if dir, err = DefaultConfigDir(); err != nil {
				return nil, err
			}
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	if opts.Flags != nil {
		for name, key := range FlagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandEnv() {
	c.Origin = os.ExpandEnv(c.Origin)
	c.Paths.InstallDir = os.ExpandEnv(c.Paths.InstallDir)
	c.Paths.StagingDir = os.ExpandEnv(c.Paths.StagingDir)
	c.Paths.ContentDir = os.ExpandEnv(c.Paths.ContentDir)
	c.Launch.Executable = os.ExpandEnv(c.Launch.Executable)
}

// applyDefaults fills in zero-value fields and resolves relative paths.
func (c *Config) applyDefaults() {
	if c.ManifestName == "" {
		c.ManifestName = DefaultManifestName
	}
	if c.Paths.InstallDir == "" {
		if exe, err := os.Executable(); err == nil {
			c.Paths.InstallDir = filepath.Dir(exe)
		}
	}
	if c.Paths.InstallDir != "" {
		if abs, err := filepath.Abs(c.Paths.InstallDir); err == nil {
			c.Paths.InstallDir = abs
		}
	}
	c.Paths.StagingDir = c.resolve(c.Paths.StagingDir, "tmp")
	c.Paths.ContentDir = c.resolve(c.Paths.ContentDir, "game")

	if c.Launch.Executable == "" {
		if exe, err := os.Executable(); err == nil {
			c.Launch.Executable = exe
		}
	}
	if c.Sync.IdleTimeout == 0 {
		c.Sync.IdleTimeout = DefaultIdleTimeout
	}
	if c.Sync.FetchTimeout == 0 {
		c.Sync.FetchTimeout = DefaultFetchTimeout
	}
}

func (c *Config) resolve(p, fallback string) string {
	if p == "" {
		p = fallback
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.Paths.InstallDir, p)
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Origin == "" {
		return fmt.Errorf("origin is required")
	}
	if !strings.HasPrefix(c.Origin, "s3://") && !strings.HasPrefix(c.Origin, "http://") && !strings.HasPrefix(c.Origin, "https://") {
		return fmt.Errorf("origin must be an http(s) URL or an S3 URI: %s", c.Origin)
	}
	if c.Paths.InstallDir == "" {
		return fmt.Errorf("paths.install_dir is required")
	}
	if c.Paths.StagingDir == c.Paths.InstallDir {
		return fmt.Errorf("paths.staging_dir must differ from paths.install_dir")
	}

	if err := fnmatch.Validate(c.Sync.Excludes); err != nil {
		return fmt.Errorf("sync.excludes: %w", err)
	}
	for _, pattern := range c.Sync.Protect {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("sync.protect: invalid pattern %q", pattern)
		}
	}

	if c.Sync.IdleTimeout < 0 {
		return fmt.Errorf("sync.idle_timeout must not be negative")
	}
	if c.Sync.FetchTimeout < 0 {
		return fmt.Errorf("sync.fetch_timeout must not be negative")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must not be negative")
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log.format: %s (must be text or json)", c.Log.Format)
	}
	return nil
}

// IsS3 reports whether the origin is an S3 URI.
func (c *Config) IsS3() bool {
	return strings.HasPrefix(c.Origin, "s3://")
}
