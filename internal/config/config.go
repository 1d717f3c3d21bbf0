package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port                string `yaml:"port"`
	LogLevel            string `yaml:"log_level"`
	AWSRegion           string `yaml:"aws_region"`
	AzureSubscriptionID string `yaml:"azure_subscription_id"`
	AdminToken          string `yaml:"admin_token"`
	OtelEndpoint        string `yaml:"otel_endpoint"`

	// EnableMockProviders replaces aws and azure with simulated providers
	// for local runs and load tests.
	EnableMockProviders bool `yaml:"enable_mock_providers"`
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvBool(k string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(k))
	if err != nil {
		return def
	}
	return v
}

func defaults() Config {
	return Config{
		Port:      "8080",
		LogLevel:  "info",
		AWSRegion: "us-east-1", // Cost Explorer is served from us-east-1
	}
}

// Load reads configuration from the environment on top of the defaults.
func Load() Config {
	return overlayEnv(defaults())
}

// LoadFile reads a YAML file as the base configuration; environment
// variables still take precedence over values from the file.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	return overlayEnv(cfg), nil
}

func overlayEnv(cfg Config) Config {
	return Config{
		Port:                getenv("PORT", cfg.Port),
		LogLevel:            getenv("LOG_LEVEL", cfg.LogLevel),
		AWSRegion:           getenv("AWS_REGION", cfg.AWSRegion),
		AzureSubscriptionID: getenv("AZURE_SUBSCRIPTION_ID", cfg.AzureSubscriptionID),
		AdminToken:          getenv("ADMIN_TOKEN", cfg.AdminToken),
		OtelEndpoint:        getenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OtelEndpoint),
		EnableMockProviders: getenvBool("ENABLE_MOCK_PROVIDERS", cfg.EnableMockProviders),
	}
}

// ValidateConfig returns human readable warnings for settings that leave
// part of the service disabled. It never fails startup.
func ValidateConfig(cfg Config) []string {
	var warnings []string
	if cfg.EnableMockProviders {
		warnings = append(warnings, "mock providers enabled, costs are simulated")
	}
	if cfg.AzureSubscriptionID == "" && !cfg.EnableMockProviders {
		warnings = append(warnings, "AZURE_SUBSCRIPTION_ID not set, azure requests must carry subscriptionId or scope")
	}
	if cfg.AdminToken == "" {
		warnings = append(warnings, "ADMIN_TOKEN not set, admin API disabled")
	}
	if !IsValidLogLevel(cfg.LogLevel) {
		warnings = append(warnings, fmt.Sprintf("unknown log level %q, using info", cfg.LogLevel))
	}
	return warnings
}

func IsValidLogLevel(level string) bool {
	switch level {
	case "trace", "debug", "info", "warn", "error":
		return true
	}
	return false
}

// MaskSecrets returns a copy safe for logging.
func (c Config) MaskSecrets() Config {
	masked := c
	if masked.AdminToken != "" {
		masked.AdminToken = "***masked***"
	}
	return masked
}
