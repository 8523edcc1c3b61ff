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

package logging

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/klog/v2"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"
)

// ContextKey represents the type for context keys
type ContextKey string

const (
	// ClusterKey is the context key for the cluster name
	ClusterKey ContextKey = "cluster"
	// RuleKey is the context key for the DRS rule name
	RuleKey ContextKey = "rule"
	// TaskRefKey is the context key for reconfiguration task references
	TaskRefKey ContextKey = "taskRef"
	// ReconcileKey is the context key for reconcile pass IDs
	ReconcileKey ContextKey = "reconcile"
)

// Redacted replaces sensitive values in logs and echoed parameters
const Redacted = "[REDACTED]"

// Config holds logging configuration
type Config struct {
	Level        string
	Format       string // json or console
	Sampling     bool
	Development  bool
	SamplingRate int
}

// DefaultConfig returns default logging configuration
func DefaultConfig() *Config {
	return &Config{
		Level:        getEnvWithDefault("LOG_LEVEL", "info"),
		Format:       getEnvWithDefault("LOG_FORMAT", "json"),
		Sampling:     getEnvBoolWithDefault("LOG_SAMPLING", false),
		Development:  getEnvBoolWithDefault("LOG_DEVELOPMENT", false),
		SamplingRate: getEnvIntWithDefault("LOG_SAMPLING_RATE", 100),
	}
}

// Setup initializes the global logger. Output goes to stderr so that stdout
// stays reserved for command results.
func Setup(config *Config) error {
	zapConfig := zap.NewProductionConfig()

	if config.Development {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.OutputPaths = []string{"stderr"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}

	if config.Format == "console" {
		zapConfig.Encoding = "console"
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig.Encoding = "json"
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapConfig.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	}

	zapConfig.Level = zap.NewAtomicLevelAt(ParseLevel(config.Level))

	if config.Sampling {
		zapConfig.Sampling = &zap.SamplingConfig{
			Initial:    100,
			Thereafter: config.SamplingRate,
		}
	} else {
		zapConfig.Sampling = nil
	}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	logger := zapr.NewLogger(zapLogger)
	ctrllog.SetLogger(logger)
	klog.SetLogger(logger)

	return nil
}

// ParseLevel maps a level name to a zap level, defaulting to info.
// Numeric values select logr verbosity (2 enables V(2) logs).
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "info", "":
		return zap.InfoLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	}
	if v, err := strconv.Atoi(level); err == nil && v > 0 {
		return zapcore.Level(-v)
	}
	return zap.InfoLevel
}

// FromContext returns a logger with correlation fields from context
func FromContext(ctx context.Context) logr.Logger {
	return enrichLogger(ctx, ctrllog.FromContext(ctx))
}

// IntoContext stores logger in ctx
func IntoContext(ctx context.Context, logger logr.Logger) context.Context {
	return ctrllog.IntoContext(ctx, logger)
}

// WithCluster adds cluster correlation to context
func WithCluster(ctx context.Context, cluster string) context.Context {
	return context.WithValue(ctx, ClusterKey, cluster)
}

// WithRule adds rule correlation to context
func WithRule(ctx context.Context, rule string) context.Context {
	return context.WithValue(ctx, RuleKey, rule)
}

// WithTaskRef adds task reference to context
func WithTaskRef(ctx context.Context, taskRef string) context.Context {
	return context.WithValue(ctx, TaskRefKey, taskRef)
}

// WithReconcile adds reconcile ID to context
func WithReconcile(ctx context.Context, reconcileID string) context.Context {
	return context.WithValue(ctx, ReconcileKey, reconcileID)
}

func enrichLogger(ctx context.Context, logger logr.Logger) logr.Logger {
	fields := make([]interface{}, 0, 10)

	for _, key := range []ContextKey{ReconcileKey, ClusterKey, RuleKey, TaskRefKey} {
		if val := ctx.Value(key); val != nil {
			fields = append(fields, string(key), val)
		}
	}

	if len(fields) > 0 {
		return logger.WithValues(fields...)
	}
	return logger
}

// Redactor provides secure logging by redacting sensitive information
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor with common sensitive patterns
func NewRedactor() *Redactor {
	patterns := []*regexp.Regexp{
		// Passwords in URLs
		regexp.MustCompile(`://[^:/@\s]*:([^@\s]*?)@`),
		// key=value and key: value pairs
		regexp.MustCompile(`(?i)(?:api[_-]?key|token|secret|password|passwd|pwd)\s*[:=]\s*["']?([^"'\s]+)["']?`),
		// SOAP session cookies
		regexp.MustCompile(`(?i)vmware_soap_session="?([^";\s]+)`),
	}

	return &Redactor{patterns: patterns}
}

// Redact removes sensitive information from strings
func (r *Redactor) Redact(input string) string {
	result := input
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			submatches := pattern.FindStringSubmatch(match)
			if len(submatches) > 1 && submatches[1] != "" {
				return strings.Replace(match, submatches[1], Redacted, 1)
			}
			return match
		})
	}
	return result
}

// RedactValues returns a copy of input with sensitive keys masked and string
// values scrubbed
func (r *Redactor) RedactValues(input map[string]interface{}) map[string]interface{} {
	if input == nil {
		return nil
	}

	result := make(map[string]interface{}, len(input))
	for k, v := range input {
		switch {
		case IsSensitiveKey(k):
			result[k] = Redacted
		default:
			if s, ok := v.(string); ok {
				result[k] = r.Redact(s)
			} else {
				result[k] = v
			}
		}
	}
	return result
}

var globalRedactor = NewRedactor()

// RedactString is a convenience function for global redaction
func RedactString(input string) string {
	return globalRedactor.Redact(input)
}

// RedactValues is a convenience function for global map redaction
func RedactValues(input map[string]interface{}) map[string]interface{} {
	return globalRedactor.RedactValues(input)
}

// IsSensitiveKey checks if a key name indicates sensitive data
func IsSensitiveKey(key string) bool {
	sensitiveKeys := []string{
		"password", "passwd", "pwd", "secret", "token", "credential",
		"api_key", "apikey", "private_key",
	}

	keyLower := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(keyLower, sensitive) {
			return true
		}
	}
	return false
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
