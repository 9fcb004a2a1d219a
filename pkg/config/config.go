// Package config is the pipeline's external configuration surface.
//
// Configuration is resolved once at startup (optional YAML file, then
// environment overrides with the historical fallback names), validated,
// and injected as an immutable struct. Nothing reads the environment
// after startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/theory-cloud/pipetheory/pkg/naming"
	"github.com/theory-cloud/pipetheory/pkg/observability"
)

// Topics holds the notification channel ARNs.
type Topics struct {
	LargeOrder         string `yaml:"large_order"`
	InvalidTransaction string `yaml:"invalid_transaction"`

	// General is the fallback channel for kinds without a specific topic
	// and the sink for operational error notifications.
	General string `yaml:"general"`
}

// Config is the immutable pipeline configuration.
type Config struct {
	AppName string `yaml:"app_name"`
	Stage   string `yaml:"stage"`

	QueueURL  string `yaml:"queue_url"`
	QueueName string `yaml:"queue_name"`
	TableName string `yaml:"table_name"`
	Topics    Topics `yaml:"topics"`

	// LargeOrderThreshold is inclusive: amount >= threshold alerts.
	LargeOrderThreshold float64 `yaml:"large_order_threshold"`

	BatchSize          int           `yaml:"batch_size"`
	WaitTime           time.Duration `yaml:"wait_time"`
	ProcessingTimeout  time.Duration `yaml:"processing_timeout"`
	Concurrency        int           `yaml:"concurrency"`
	GenerateMissingIDs bool          `yaml:"generate_missing_ids"`

	LogLevel         string `yaml:"log_level"`
	LogFormat        string `yaml:"log_format"`
	MetricsNamespace string `yaml:"metrics_namespace"`
}

var logLevels = map[string]bool{
	"DEBUG":    true,
	"INFO":     true,
	"WARNING":  true,
	"ERROR":    true,
	"CRITICAL": true,
}

// Default returns the configuration baseline before file and env overrides.
func Default() Config {
	return Config{
		AppName:             "pipetheory",
		Stage:               "dev",
		TableName:           "orders",
		LargeOrderThreshold: 1500,
		BatchSize:           10,
		WaitTime:            time.Second,
		ProcessingTimeout:   30 * time.Second,
		LogLevel:            "INFO",
		MetricsNamespace:    "Pipetheory/TransactionPipeline",
	}
}

// FromEnv loads configuration from CONFIG_FILE (if set) and the environment.
func FromEnv() (Config, error) {
	return Load(os.Getenv("CONFIG_FILE"))
}

// Load reads the optional YAML file at path, applies environment
// overrides, fills derived defaults, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.QueueName) == "" {
		cfg.QueueName = naming.ResourceName(cfg.AppName, "transactions", cfg.Stage)
	}
	cfg.LogLevel = strings.ToUpper(strings.TrimSpace(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.AppName, "APP_NAME")
	setString(&cfg.Stage, "STAGE")
	setString(&cfg.QueueURL, "QUEUE_URL")
	setString(&cfg.QueueName, "QUEUE_NAME")
	setString(&cfg.TableName, "TABLE_NAME", "ORDERS_TABLE_NAME")
	setString(&cfg.Topics.LargeOrder, "TOPIC_LARGE_ARN")
	setString(&cfg.Topics.InvalidTransaction, "TOPIC_INVALID_ARN")
	setString(&cfg.Topics.General, "TOPIC_ALERTS_ARN", "TOPIC_ARN")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.MetricsNamespace, "METRICS_NAMESPACE")

	if err := setFloat(&cfg.LargeOrderThreshold, "LARGE_ORDER_THRESHOLD", "LARGE_ORDER_AMOUNT"); err != nil {
		return err
	}
	if err := setInt(&cfg.BatchSize, "BATCH_SIZE"); err != nil {
		return err
	}
	if err := setInt(&cfg.Concurrency, "CONCURRENCY"); err != nil {
		return err
	}
	if err := setDuration(&cfg.WaitTime, "WAIT_TIME"); err != nil {
		return err
	}
	if err := setDuration(&cfg.ProcessingTimeout, "PROCESSING_TIMEOUT"); err != nil {
		return err
	}
	if err := setBool(&cfg.GenerateMissingIDs, "GENERATE_MISSING_IDS"); err != nil {
		return err
	}
	return nil
}

// Validate rejects configurations the pipeline cannot honor.
func (c Config) Validate() error {
	if strings.TrimSpace(c.AppName) == "" {
		return fmt.Errorf("config: app name is required")
	}
	if !logLevels[c.LogLevel] {
		return fmt.Errorf("config: log level %q is not one of DEBUG/INFO/WARNING/ERROR/CRITICAL", c.LogLevel)
	}
	if c.BatchSize < 1 || c.BatchSize > 10 {
		return fmt.Errorf("config: batch size %d must be between 1 and 10", c.BatchSize)
	}
	if c.WaitTime < 0 || c.WaitTime > 20*time.Second {
		return fmt.Errorf("config: wait time %s must be between 0s and 20s", c.WaitTime)
	}
	if c.LargeOrderThreshold < 0 {
		return fmt.Errorf("config: large order threshold must be non-negative")
	}
	if c.ProcessingTimeout <= 0 {
		return fmt.Errorf("config: processing timeout must be positive")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("config: concurrency must be non-negative")
	}
	return nil
}

// LoggerConfig maps the validated surface onto the logger's own config.
// CRITICAL has no zap equivalent and logs at error level.
func (c Config) LoggerConfig() observability.LoggerConfig {
	return observability.LoggerConfig{
		Format: c.LogFormat,
		Level:  strings.ToLower(c.LogLevel),
	}
}

func setString(dst *string, keys ...string) {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			*dst = value
			return
		}
	}
}

func setFloat(dst *float64, keys ...string) error {
	for _, key := range keys {
		value := strings.TrimSpace(os.Getenv(key))
		if value == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("config: %s=%q is not numeric", key, value)
		}
		*dst = parsed
		return nil
	}
	return nil
}

func setInt(dst *int, keys ...string) error {
	for _, key := range keys {
		value := strings.TrimSpace(os.Getenv(key))
		if value == "" {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: %s=%q is not an integer", key, value)
		}
		*dst = parsed
		return nil
	}
	return nil
}

// setDuration accepts Go duration strings and, for compatibility with the
// historical integer-seconds variables, bare integers.
func setDuration(dst *time.Duration, keys ...string) error {
	for _, key := range keys {
		value := strings.TrimSpace(os.Getenv(key))
		if value == "" {
			continue
		}
		if parsed, err := time.ParseDuration(value); err == nil {
			*dst = parsed
			return nil
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			*dst = time.Duration(seconds) * time.Second
			return nil
		}
		return fmt.Errorf("config: %s=%q is not a duration", key, value)
	}
	return nil
}

func setBool(dst *bool, keys ...string) error {
	for _, key := range keys {
		value := strings.TrimSpace(os.Getenv(key))
		if value == "" {
			continue
		}
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config: %s=%q is not a boolean", key, value)
		}
		*dst = parsed
		return nil
	}
	return nil
}
