// Package config provides configuration for the build service.
//
// Values come from, in increasing precedence: built-in defaults, an
// optional YAML file (CONFIG_FILE or an explicit path) and environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the build service.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Paths   PathsConfig   `yaml:"paths"`
	Build   BuildConfig   `yaml:"build"`
	Index   IndexConfig   `yaml:"index"`
	Cleanup CleanupConfig `yaml:"cleanup"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ShutdownTimeout bounds the graceful shutdown, including requests
	// waiting on a build.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PathsConfig holds the filesystem layout.
type PathsConfig struct {
	// SourceRoot holds source trees as <owner>/<repo>/<ref>/.
	SourceRoot string `yaml:"source_root"`

	// StagingDir holds per-build workspaces.
	StagingDir string `yaml:"staging_dir"`

	// CompiledDir holds published artifacts.
	CompiledDir string `yaml:"compiled_dir"`

	// CatalogFile is the module catalog served by /builder/deps.
	CatalogFile string `yaml:"catalog_file"`

	// PackageFile is the package manifest whose version stamps the catalog.
	PackageFile string `yaml:"package_file"`
}

// BuildConfig holds build configuration.
type BuildConfig struct {
	// Timeout bounds a single build, all variants included.
	Timeout time.Duration `yaml:"timeout"`

	// ExternalFirst places external modules before included ones.
	ExternalFirst bool `yaml:"external_first"`

	// Bundler is "esbuild" or "command".
	Bundler string `yaml:"bundler"`

	// Command runs the command bundler. The generated configuration path
	// is appended to Args.
	Command        string        `yaml:"command"`
	Args           []string      `yaml:"args"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// IndexConfig holds artifact index configuration.
type IndexConfig struct {
	// DatabaseDSN selects the PostgreSQL index. Empty keeps the index in memory.
	DatabaseDSN string `yaml:"database_url"`
}

// CleanupConfig holds garbage collection configuration.
type CleanupConfig struct {
	ArtifactRetention  time.Duration `yaml:"artifact_retention"`
	WorkspaceRetention time.Duration `yaml:"workspace_retention"`
	Interval           time.Duration `yaml:"interval"`

	// MaxCompiledBytes caps the compiled directory. Zero disables the cap.
	MaxCompiledBytes int64 `yaml:"max_compiled_bytes"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
		},
		Paths: PathsConfig{
			SourceRoot:  "data",
			StagingDir:  filepath.Join(os.TempDir(), "jsbuilder-staging"),
			CompiledDir: "compiled",
			CatalogFile: "catalog.json",
		},
		Build: BuildConfig{
			Timeout:        2 * time.Minute,
			ExternalFirst:  true,
			Bundler:        "esbuild",
			CommandTimeout: time.Minute,
		},
		Cleanup: CleanupConfig{
			ArtifactRetention:  7 * 24 * time.Hour,
			WorkspaceRetention: time.Hour,
			Interval:           time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration. path names a YAML file; when empty the
// CONFIG_FILE environment variable is used, and when that is empty too no
// file is read.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("API_HOST", c.Server.Host)
	c.Server.Port = getIntEnv("API_PORT", c.Server.Port)
	c.Server.ShutdownTimeout = getDurationEnv("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Paths.SourceRoot = getEnv("SOURCE_ROOT", c.Paths.SourceRoot)
	c.Paths.StagingDir = getEnv("STAGING_DIR", c.Paths.StagingDir)
	c.Paths.CompiledDir = getEnv("COMPILED_DIR", c.Paths.CompiledDir)
	c.Paths.CatalogFile = getEnv("CATALOG_FILE", c.Paths.CatalogFile)
	c.Paths.PackageFile = getEnv("PACKAGE_FILE", c.Paths.PackageFile)

	c.Build.Timeout = getDurationEnv("BUILD_TIMEOUT", c.Build.Timeout)
	c.Build.ExternalFirst = getBoolEnv("EXTERNAL_FIRST", c.Build.ExternalFirst)
	c.Build.Bundler = getEnv("BUNDLER", c.Build.Bundler)
	c.Build.Command = getEnv("BUNDLER_COMMAND", c.Build.Command)
	if args := os.Getenv("BUNDLER_ARGS"); args != "" {
		c.Build.Args = strings.Fields(args)
	}
	c.Build.CommandTimeout = getDurationEnv("BUNDLER_TIMEOUT", c.Build.CommandTimeout)

	c.Index.DatabaseDSN = getEnv("DATABASE_URL", c.Index.DatabaseDSN)

	c.Cleanup.ArtifactRetention = getDurationEnv("ARTIFACT_TTL", c.Cleanup.ArtifactRetention)
	c.Cleanup.WorkspaceRetention = getDurationEnv("WORKSPACE_TTL", c.Cleanup.WorkspaceRetention)
	c.Cleanup.Interval = getDurationEnv("GC_INTERVAL", c.Cleanup.Interval)
	c.Cleanup.MaxCompiledBytes = getInt64Env("MAX_COMPILED_BYTES", c.Cleanup.MaxCompiledBytes)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("API_PORT must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}
	if c.Paths.SourceRoot == "" {
		errs = append(errs, errors.New("SOURCE_ROOT is required"))
	}
	if c.Paths.StagingDir == "" {
		errs = append(errs, errors.New("STAGING_DIR is required"))
	}
	if c.Paths.CompiledDir == "" {
		errs = append(errs, errors.New("COMPILED_DIR is required"))
	}
	if c.Build.Timeout <= 0 {
		errs = append(errs, errors.New("BUILD_TIMEOUT must be positive"))
	}
	switch c.Build.Bundler {
	case "esbuild":
	case "command":
		if c.Build.Command == "" {
			errs = append(errs, errors.New("BUNDLER_COMMAND is required for the command bundler"))
		}
		if c.Build.CommandTimeout <= 0 {
			errs = append(errs, errors.New("BUNDLER_TIMEOUT must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("BUNDLER must be esbuild or command, got %q", c.Build.Bundler))
	}
	if c.Cleanup.ArtifactRetention <= 0 || c.Cleanup.WorkspaceRetention <= 0 || c.Cleanup.Interval <= 0 {
		errs = append(errs, errors.New("ARTIFACT_TTL, WORKSPACE_TTL and GC_INTERVAL must be positive"))
	}
	if c.Cleanup.MaxCompiledBytes < 0 {
		errs = append(errs, errors.New("MAX_COMPILED_BYTES must not be negative"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
