/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"gopkg.in/yaml.v2"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/projectbeskar/drsctl/internal/drs"
	"github.com/projectbeskar/drsctl/internal/obs/logging"
	"github.com/projectbeskar/drsctl/internal/obs/tracing"
	"github.com/projectbeskar/drsctl/internal/resilience"
)

// Config holds all configuration for drsctl
type Config struct {
	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Tracing configuration
	Tracing TracingConfig `yaml:"tracing"`

	// Connection to the cluster manager shared by every rule
	Connection ConnectionConfig `yaml:"connection"`

	// Retry configuration for session establishment
	Retry RetryConfig `yaml:"retry"`

	// Circuit breaker configuration for watch mode logins
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`

	// Watch loop configuration
	Watch WatchConfig `yaml:"watch"`

	// Rules reconciled by watch mode, in order
	Rules []drs.Params `yaml:"rules"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	Sampling    bool   `yaml:"sampling"`
	Development bool   `yaml:"development"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Endpoint          string  `yaml:"endpoint"`
	SamplingRatio     float64 `yaml:"samplingRatio"`
	InsecureTransport bool    `yaml:"insecureTransport"`
}

// ConnectionConfig holds the endpoint and credentials. The password is read
// from DRSCTL_PASSWORD or PasswordFile and is never written back out.
type ConnectionConfig struct {
	Hostname      string `yaml:"hostname"`
	Port          int    `yaml:"port"`
	Username      string `yaml:"username"`
	Password      string `yaml:"-"`
	PasswordFile  string `yaml:"passwordFile"`
	ValidateCerts *bool  `yaml:"validateCerts"`
	Datacenter    string `yaml:"datacenter"`
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
	Multiplier  float64       `yaml:"multiplier"`
	Jitter      bool          `yaml:"jitter"`
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// WatchConfig holds watch loop configuration
type WatchConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MetricsAddr string        `yaml:"metricsAddr"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:       getEnvWithDefault("LOG_LEVEL", "info"),
			Format:      getEnvWithDefault("LOG_FORMAT", "json"),
			Sampling:    getEnvBoolWithDefault("LOG_SAMPLING", false),
			Development: getEnvBoolWithDefault("LOG_DEVELOPMENT", false),
		},
		Tracing: TracingConfig{
			Enabled:           getEnvBoolWithDefault("DRSCTL_TRACING_ENABLED", false),
			Endpoint:          getEnvWithDefault("DRSCTL_TRACING_ENDPOINT", ""),
			SamplingRatio:     getEnvFloatWithDefault("DRSCTL_TRACING_SAMPLING_RATIO", 1.0),
			InsecureTransport: getEnvBoolWithDefault("DRSCTL_TRACING_INSECURE", true),
		},
		Connection: ConnectionConfig{
			Hostname: getEnvWithDefault("DRSCTL_HOSTNAME", ""),
			Port:     getEnvIntWithDefault("DRSCTL_PORT", drs.DefaultPort),
			Username: getEnvWithDefault("DRSCTL_USERNAME", ""),
			Password: os.Getenv("DRSCTL_PASSWORD"),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvIntWithDefault("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:   getEnvDurationWithDefault("RETRY_BASE_DELAY", 500*time.Millisecond),
			MaxDelay:    getEnvDurationWithDefault("RETRY_MAX_DELAY", 30*time.Second),
			Multiplier:  getEnvFloatWithDefault("RETRY_MULTIPLIER", 2.0),
			Jitter:      getEnvBoolWithDefault("RETRY_JITTER", true),
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: getEnvIntWithDefault("CB_FAILURE_THRESHOLD", 3),
			ResetTimeout:     getEnvDurationWithDefault("CB_RESET_TIMEOUT", 5*time.Minute),
		},
		Watch: WatchConfig{
			Interval:    getEnvDurationWithDefault("DRSCTL_WATCH_INTERVAL", 5*time.Minute),
			MetricsAddr: getEnvWithDefault("DRSCTL_METRICS_ADDR", ":8080"),
		},
	}
}

// Validate checks the settings watch mode depends on
func (c *Config) Validate() error {
	var errs []error

	if c.Watch.Interval <= 0 {
		errs = append(errs, fmt.Errorf("watch.interval must be positive"))
	}
	if len(c.Rules) == 0 {
		errs = append(errs, fmt.Errorf("at least one rule is required"))
	}

	seen := sets.New[string]()
	for i, params := range c.RuleParams() {
		if err := params.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rules[%d]: %w", i, err))
			continue
		}
		key := params.Cluster + "/" + params.Name
		if seen.Has(key) {
			errs = append(errs, fmt.Errorf("rules[%d]: rule %q on cluster %q is declared twice", i, params.Name, params.Cluster))
		}
		seen.Insert(key)
	}

	return utilerrors.NewAggregate(errs)
}

// RuleParams returns the declared rules with connection settings filled in.
// Connection fields set on a rule take precedence, except the password which
// always comes from the connection.
func (c *Config) RuleParams() []drs.Params {
	out := make([]drs.Params, 0, len(c.Rules))
	for _, r := range c.Rules {
		if r.Hostname == "" {
			r.Hostname = c.Connection.Hostname
		}
		if r.Port == 0 {
			r.Port = c.Connection.Port
		}
		if r.Username == "" {
			r.Username = c.Connection.Username
		}
		if r.ValidateCerts == nil {
			r.ValidateCerts = c.Connection.ValidateCerts
		}
		if r.Datacenter == "" {
			r.Datacenter = c.Connection.Datacenter
		}
		r.Password = c.Connection.Password
		out = append(out, r)
	}
	return out
}

// RetryPolicy returns the session establishment retry policy
func (c *Config) RetryPolicy() *resilience.RetryConfig {
	return &resilience.RetryConfig{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
		Multiplier:  c.Retry.Multiplier,
		Jitter:      c.Retry.Jitter,
	}
}

// BreakerConfig returns the circuit breaker settings
func (c *Config) BreakerConfig() *resilience.BreakerConfig {
	return &resilience.BreakerConfig{
		FailureThreshold: c.CircuitBreaker.FailureThreshold,
		ResetTimeout:     c.CircuitBreaker.ResetTimeout,
	}
}

// LoggingConfig returns the logger settings
func (c *Config) LoggingConfig() *logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Format = c.Log.Format
	cfg.Sampling = c.Log.Sampling
	cfg.Development = c.Log.Development
	return cfg
}

// TracingConfig returns the tracer settings
func (c *Config) TracingConfig(version string) *tracing.Config {
	cfg := tracing.DefaultConfig(version)
	cfg.Enabled = c.Tracing.Enabled
	cfg.Endpoint = c.Tracing.Endpoint
	cfg.SamplingRatio = c.Tracing.SamplingRatio
	cfg.InsecureTransport = c.Tracing.InsecureTransport
	return cfg
}

// Manager manages configuration with hot-reload capability
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	watchers []chan *Config
	watcher  *fsnotify.Watcher
	file     string
	log      logr.Logger
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	config, err := Load(configFile)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		config:   config,
		watchers: make([]chan *Config, 0),
		file:     configFile,
		log:      ctrllog.Log.WithName("config"),
	}

	// Set up file watcher if config file is provided
	if configFile != "" {
		if err := manager.setupFileWatcher(); err != nil {
			// Configuration is still usable without reloads
			manager.log.Error(err, "Failed to setup config file watcher", "file", configFile)
		}
	}

	return manager, nil
}

// Load reads a configuration file over the environment defaults
func Load(configFile string) (*Config, error) {
	config := DefaultConfig()

	if configFile != "" {
		if err := loadFromFile(configFile, config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadPassword(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Get returns the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Watch returns a channel that receives configuration updates
func (m *Manager) Watch() <-chan *Config {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan *Config, 1)
	m.watchers = append(m.watchers, ch)

	// Send current config immediately
	ch <- m.config

	return ch
}

// Update updates the configuration and notifies watchers
func (m *Manager) Update(config *Config) {
	m.mu.Lock()
	m.config = config
	watchers := make([]chan *Config, len(m.watchers))
	copy(watchers, m.watchers)
	m.mu.Unlock()

	// Notify all watchers
	for _, watcher := range watchers {
		select {
		case watcher <- config:
		default:
			// Channel is full, skip this update
		}
	}
}

// Close closes the configuration manager and cleans up resources
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Close all watcher channels
	for _, watcher := range m.watchers {
		close(watcher)
	}
	m.watchers = nil

	// Close file watcher
	if m.watcher != nil {
		return m.watcher.Close()
	}

	return nil
}

// setupFileWatcher sets up file system notification for config changes
func (m *Manager) setupFileWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	m.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					m.reloadConfig()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.log.Error(err, "Config file watcher error")
			}
		}
	}()

	return watcher.Add(m.file)
}

// reloadConfig reloads configuration from file. An invalid file keeps the
// previous configuration in place.
func (m *Manager) reloadConfig() {
	config, err := Load(m.file)
	if err == nil {
		err = config.Validate()
	}
	if err != nil {
		m.log.Error(err, "Error reloading config, keeping previous configuration")
		return
	}

	m.log.Info("Configuration reloaded from file", "rules", len(config.Rules))
	m.Update(config)
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(filename string, config *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, config)
}

// loadPassword reads the password file when no password came from the environment
func loadPassword(config *Config) error {
	if config.Connection.Password != "" || config.Connection.PasswordFile == "" {
		return nil
	}

	data, err := os.ReadFile(config.Connection.PasswordFile)
	if err != nil {
		return fmt.Errorf("failed to read password file: %w", err)
	}
	config.Connection.Password = strings.TrimRight(string(data), "\r\n")
	return nil
}

// Helper functions for environment variable parsing

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloatWithDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
