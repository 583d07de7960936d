// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// API variants served by the process.
const (
	// VariantML serves the inference service API: {"confidence","class","hasFire"} plus GET /.
	VariantML = "ml"
	// VariantBackend serves the backend API: {"fireDetected","confidence"}.
	VariantBackend = "backend"
)

const envPrefix = "FIREWATCH"

// Config holds all configuration for the service
type Config struct {
	// Server configuration
	Variant       string        `mapstructure:"variant"`
	Port          int           `mapstructure:"port"`
	MetricsPort   int           `mapstructure:"metrics_port"`
	GRPCPort      int           `mapstructure:"grpc_port"`
	MaxBodyBytes  int64         `mapstructure:"max_body_bytes"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`

	// Model configuration
	Model         string   `mapstructure:"model"`
	Backends      []string `mapstructure:"backends"`
	ORTLibrary    string   `mapstructure:"ort_library"`
	TFLiteThreads int      `mapstructure:"tflite_threads"`
	ImageSize     int      `mapstructure:"image_size"`
	Normalization string   `mapstructure:"normalization"`
	FireIndex     int      `mapstructure:"fire_index"`
	Activation    string   `mapstructure:"activation"`
	UseMock       bool     `mapstructure:"use_mock"`

	// Prediction cache
	Redis    string        `mapstructure:"redis"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// OpenTelemetry configuration
	OTELEnabled  bool   `mapstructure:"otel_enabled"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`
}

var (
	knownBackends       = []string{"ort", "gonnx", "tflite"}
	knownNormalizations = []string{"unit", "symmetric"}
	knownActivations    = []string{"none", "sigmoid", "softmax"}
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("variant", VariantML)
	v.SetDefault("port", 0)
	v.SetDefault("metrics_port", 9100)
	v.SetDefault("grpc_port", 0)
	v.SetDefault("max_body_bytes", 10<<20)
	v.SetDefault("shutdown_grace", 5*time.Second)

	v.SetDefault("model", "model.onnx")
	v.SetDefault("backends", []string{"ort", "gonnx"})
	v.SetDefault("ort_library", "")
	v.SetDefault("tflite_threads", 1)
	v.SetDefault("image_size", 224)
	v.SetDefault("normalization", "unit")
	v.SetDefault("fire_index", 1)
	v.SetDefault("activation", "none")
	v.SetDefault("use_mock", false)

	v.SetDefault("redis", "")
	v.SetDefault("cache_ttl", time.Hour)

	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_endpoint", "")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_file", "")
}

// Flags registers the command line flags understood by Load.
// Flag names use dashes; they map onto the underscore config keys.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to config file (optional)")
	fs.String("variant", VariantML, "API variant to serve: ml or backend")
	fs.Int("port", 0, "HTTP API port (default: 8000 for ml, 5001 for backend)")
	fs.Int("metrics-port", 9100, "Prometheus metrics and health port")
	fs.Int("grpc-port", 0, "gRPC health port (0 disables it)")
	fs.String("model", "model.onnx", "Path to the model artifact")
	fs.StringSlice("backends", []string{"ort", "gonnx"}, "Ordered inference backends to try")
	fs.String("ort-library", "", "Path to the onnxruntime shared library")
	fs.String("redis", "", "Redis address for the prediction cache (empty disables it)")
	fs.Bool("mock", false, "Skip model loading and serve mocked predictions")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
}

// Load loads configuration from flags, environment variables, and optional config file.
// Priority (highest to lowest): flags > env vars > config file > defaults
func Load(fs *pflag.FlagSet) (*Config, error) {
	loadDotEnv()

	v := viper.New()
	setDefaults(v)

	// Environment variable configuration
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Also read OTEL standard env vars
	if otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); otelEndpoint != "" {
		v.SetDefault("otel_endpoint", otelEndpoint)
		v.SetDefault("otel_enabled", true)
	}

	configFile := ""
	if fs != nil {
		if err := bindFlags(v, fs); err != nil {
			return nil, err
		}
		configFile, _ = fs.GetString("config")
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/firewatch/")
		v.AddConfigPath("$HOME/.firewatch")
	}

	// Read config file if present (ignore error if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyVariantDefaults()

	return &cfg, nil
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	bindings := map[string]string{
		"variant":      "variant",
		"port":         "port",
		"metrics_port": "metrics-port",
		"grpc_port":    "grpc-port",
		"model":        "model",
		"backends":     "backends",
		"ort_library":  "ort-library",
		"redis":        "redis",
		"use_mock":     "mock",
		"log_level":    "log-level",
	}
	for key, name := range bindings {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// loadDotEnv loads a .env file in development. A missing file is not an error.
func loadDotEnv() {
	env := os.Getenv("RUN_TIME_ENV")
	if env != "" && env != "dev" {
		return
	}
	_ = godotenv.Load()
}

func (c *Config) applyVariantDefaults() {
	if c.Port != 0 {
		return
	}
	switch c.Variant {
	case VariantBackend:
		c.Port = 5001
	default:
		c.Port = 8000
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Variant != VariantML && c.Variant != VariantBackend {
		return fmt.Errorf("invalid variant: %q", c.Variant)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}
	if c.Port == c.MetricsPort {
		return fmt.Errorf("port and metrics_port must be different")
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc port: %d", c.GRPCPort)
	}
	if c.GRPCPort != 0 && (c.GRPCPort == c.Port || c.GRPCPort == c.MetricsPort) {
		return fmt.Errorf("grpc_port must differ from port and metrics_port")
	}
	if c.Model == "" && !c.UseMock {
		return fmt.Errorf("model path is required when not using mock inference")
	}
	if len(c.Backends) == 0 && !c.UseMock {
		return fmt.Errorf("at least one inference backend is required")
	}
	for _, b := range c.Backends {
		if !slices.Contains(knownBackends, b) {
			return fmt.Errorf("unknown backend: %q", b)
		}
	}
	if !slices.Contains(knownNormalizations, c.Normalization) {
		return fmt.Errorf("unknown normalization: %q", c.Normalization)
	}
	if !slices.Contains(knownActivations, c.Activation) {
		return fmt.Errorf("unknown activation: %q", c.Activation)
	}
	if c.FireIndex < 0 {
		return fmt.Errorf("fire_index must not be negative: %d", c.FireIndex)
	}
	if c.ImageSize <= 0 {
		return fmt.Errorf("invalid image size: %d", c.ImageSize)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("invalid max body bytes: %d", c.MaxBodyBytes)
	}
	return nil
}

