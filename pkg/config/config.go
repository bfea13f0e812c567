// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openaddresses/submit-service-sub000/pkg/errors"
)

// Config holds all submitd configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Sampling  SamplingConfig  `yaml:"sampling"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig for the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MetadataConfig locates the published run index.
type MetadataConfig struct {
	URL string `yaml:"url"`
}

// SamplingConfig bounds every sample.
type SamplingConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	DefaultSize int           `yaml:"default_size"`
	MaxSize     int           `yaml:"max_size"`
	TempDir     string        `yaml:"temp_dir"`
	UserAgent   string        `yaml:"user_agent"`
	RateLimit   float64       `yaml:"rate_limit"` // outbound requests/s, 0 = unlimited
	RateBurst   int           `yaml:"rate_burst"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// TelemetryConfig for optional OTLP tracing.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3103,
			ShutdownTimeout: 30 * time.Second,
		},
		Sampling: SamplingConfig{
			Timeout:     30 * time.Second,
			DefaultSize: 10,
			MaxSize:     1000,
			UserAgent:   "submitd",
			RateBurst:   1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "submitd",
		},
	}
}

// Feature names a capability whose settings are checked at startup.
type Feature string

const (
	FeatureSample   Feature = "sample"
	FeatureDownload Feature = "download"
)

// Require reports a ConfigurationError when the settings feature depends
// on are missing.
func (c *Config) Require(feature Feature) error {
	switch feature {
	case FeatureDownload:
		if strings.TrimSpace(c.Metadata.URL) == "" {
			return errors.Configuration("METADATA_URL is not configured").WithContext("feature", string(feature))
		}
		if u, err := url.Parse(c.Metadata.URL); err != nil || u.Host == "" {
			return errors.Configuration(fmt.Sprintf("metadata.url %q is not a valid URL", c.Metadata.URL)).
				WithContext("feature", string(feature))
		}
	}
	return nil
}

// Validate returns every problem with the configuration. Feature
// requirements are not included; see Require.
func (c *Config) Validate() []error {
	var problems []error
	add := func(format string, args ...interface{}) {
		problems = append(problems, errors.Configuration(fmt.Sprintf(format, args...)))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port %d is out of range", c.Server.Port)
	}
	if c.Server.ShutdownTimeout < 0 {
		add("server.shutdown_timeout must not be negative")
	}
	if c.Sampling.Timeout < 0 {
		add("sampling.timeout must not be negative")
	}
	if c.Sampling.DefaultSize < 0 {
		add("sampling.default_size must not be negative")
	}
	if c.Sampling.MaxSize < 0 {
		add("sampling.max_size must not be negative")
	}
	if c.Sampling.MaxSize > 0 && c.Sampling.DefaultSize > c.Sampling.MaxSize {
		add("sampling.default_size %d exceeds sampling.max_size %d", c.Sampling.DefaultSize, c.Sampling.MaxSize)
	}
	if c.Sampling.RateLimit < 0 {
		add("sampling.rate_limit must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format %q is not one of text, json", c.Log.Format)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		add("telemetry.endpoint is required when telemetry is enabled")
	}
	return problems
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu          sync.RWMutex
	config      *Config
	searchPaths []string
	paths       []string // Paths that were loaded
}

// NewManager creates a configuration manager. With no paths, the system,
// user and project locations are searched.
func NewManager(paths ...string) *Manager {
	return &Manager{
		config:      Default(),
		searchPaths: paths,
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	paths := m.searchPaths
	if len(paths) == 0 {
		paths = defaultPaths()
	}
	for _, path := range paths {
		if err := m.loadFile(path); err != nil {
			// Missing files are skipped; broken ones are not.
			if !os.IsNotExist(err) {
				return errors.Wrapf(err, errors.KindConfiguration, "failed to load %s", path)
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	return m.loadEnv()
}

// defaultPaths returns config file paths in priority order.
func defaultPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/submitd/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".submitd", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".submitd.yaml"))
	}
	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	// Server
	if src.Server.Host != "" {
		m.config.Server.Host = src.Server.Host
	}
	if src.Server.Port != 0 {
		m.config.Server.Port = src.Server.Port
	}
	if src.Server.ShutdownTimeout != 0 {
		m.config.Server.ShutdownTimeout = src.Server.ShutdownTimeout
	}

	// Metadata
	if src.Metadata.URL != "" {
		m.config.Metadata.URL = src.Metadata.URL
	}

	// Sampling
	if src.Sampling.Timeout != 0 {
		m.config.Sampling.Timeout = src.Sampling.Timeout
	}
	if src.Sampling.DefaultSize != 0 {
		m.config.Sampling.DefaultSize = src.Sampling.DefaultSize
	}
	if src.Sampling.MaxSize != 0 {
		m.config.Sampling.MaxSize = src.Sampling.MaxSize
	}
	if src.Sampling.TempDir != "" {
		m.config.Sampling.TempDir = src.Sampling.TempDir
	}
	if src.Sampling.UserAgent != "" {
		m.config.Sampling.UserAgent = src.Sampling.UserAgent
	}
	if src.Sampling.RateLimit != 0 {
		m.config.Sampling.RateLimit = src.Sampling.RateLimit
	}
	if src.Sampling.RateBurst != 0 {
		m.config.Sampling.RateBurst = src.Sampling.RateBurst
	}

	// Log
	if src.Log.Level != "" {
		m.config.Log.Level = src.Log.Level
	}
	if src.Log.Format != "" {
		m.config.Log.Format = src.Log.Format
	}

	// Telemetry
	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
	if src.Telemetry.ServiceName != "" {
		m.config.Telemetry.ServiceName = src.Telemetry.ServiceName
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() error {
	// PORT
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Configuration(fmt.Sprintf("invalid PORT %q", v))
		}
		m.config.Server.Port = port
	}

	// METADATA_URL
	if v := os.Getenv("METADATA_URL"); v != "" {
		m.config.Metadata.URL = v
	}

	// SAMPLE_TIMEOUT
	if v := os.Getenv("SAMPLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Configuration(fmt.Sprintf("invalid SAMPLE_TIMEOUT %q", v))
		}
		m.config.Sampling.Timeout = d
	}

	// SUBMITD_TEMP_DIR
	if v := os.Getenv("SUBMITD_TEMP_DIR"); v != "" {
		m.config.Sampling.TempDir = v
	}

	// SUBMITD_LOG_LEVEL, SUBMITD_LOG_FORMAT
	if v := os.Getenv("SUBMITD_LOG_LEVEL"); v != "" {
		m.config.Log.Level = v
	}
	if v := os.Getenv("SUBMITD_LOG_FORMAT"); v != "" {
		m.config.Log.Format = v
	}

	// OTEL_EXPORTER_OTLP_ENDPOINT
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		m.config.Telemetry.Endpoint = v
		m.config.Telemetry.Enabled = true
	}
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Marshal renders the current configuration as YAML.
func (m *Manager) Marshal() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return yaml.Marshal(m.config)
}
