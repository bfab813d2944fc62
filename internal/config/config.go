package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrNoProjectRoot is returned when no directory above the working directory
// carries the root marker and PROJECT_ROOT is unset.
var ErrNoProjectRoot = errors.New("project root not found")

// RootMarker is the entry whose presence identifies the project root.
const RootMarker = ".git"

// Data directories, relative to the project root.
const (
	RawDir    = "data_raw"
	CleanDir  = "data_clean"
	OutputDir = "output"
)

// Config holds all settings, populated from environment variables.
type Config struct {
	ProjectRoot string
	LogLevel    string
	LogFormat   string

	// Socrata API.
	HTTPTimeout time.Duration
	PageSize    int
	AppToken    string

	// Publishing of clean rows.
	KafkaBrokers   []string
	KafkaTopic     string
	PublishEnabled bool

	// MetricsAddr, when set, serves health and metrics endpoints while a
	// command runs.
	MetricsAddr     string
	PushgatewayURL  string
	ShutdownTimeout time.Duration
}

// RawPath returns the location of a raw download under the project root.
func (c *Config) RawPath(name string) string {
	return filepath.Join(c.ProjectRoot, RawDir, name)
}

// CleanPath returns the location of a clean cache file under the project root.
func (c *Config) CleanPath(name string) string {
	return filepath.Join(c.ProjectRoot, CleanDir, name)
}

// OutputPath returns the location of an analysis output under the project root.
func (c *Config) OutputPath(name string) string {
	return filepath.Join(c.ProjectRoot, OutputDir, name)
}

// SetDefaults registers the default of every setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("http_timeout", "60s")
	v.SetDefault("page_size", 1000)
	v.SetDefault("app_token", "")
	v.SetDefault("kafka_brokers", "localhost:9092")
	v.SetDefault("kafka_topic", "clean-crime-records")
	v.SetDefault("publish_enabled", false)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("pushgateway_url", "")
	v.SetDefault("shutdown_timeout", "10s")
	v.SetDefault("project_root", "")
}

// New returns a viper instance reading settings from the environment over
// the defaults. Command-line flags are bound onto it by the CLI.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	return FromViper(New())
}

// FromViper builds and validates a Config from v.
func FromViper(v *viper.Viper) (*Config, error) {
	httpTimeout, err := parseDuration(v, "http_timeout")
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := parseDuration(v, "shutdown_timeout")
	if err != nil {
		return nil, err
	}

	pageSize := v.GetInt("page_size")
	if pageSize <= 0 {
		return nil, fmt.Errorf("invalid PAGE_SIZE %q", v.GetString("page_size"))
	}

	root := v.GetString("project_root")
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("working directory: %w", err)
		}
		if root, err = FindProjectRoot(wd); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		ProjectRoot:     root,
		LogLevel:        v.GetString("log_level"),
		LogFormat:       v.GetString("log_format"),
		HTTPTimeout:     httpTimeout,
		PageSize:        pageSize,
		AppToken:        v.GetString("app_token"),
		KafkaBrokers:    parseBrokers(v.GetString("kafka_brokers")),
		KafkaTopic:      v.GetString("kafka_topic"),
		PublishEnabled:  v.GetBool("publish_enabled"),
		MetricsAddr:     v.GetString("metrics_addr"),
		PushgatewayURL:  v.GetString("pushgateway_url"),
		ShutdownTimeout: shutdownTimeout,
	}

	if cfg.PublishEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when PUBLISH_ENABLED is true")
		}
		if cfg.KafkaTopic == "" {
			return nil, errors.New("KAFKA_TOPIC is required when PUBLISH_ENABLED is true")
		}
	}

	return cfg, nil
}

// FindProjectRoot walks up from start to the first directory containing
// RootMarker.
func FindProjectRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", start, err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, RootMarker)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: no %s above %s", ErrNoProjectRoot, RootMarker, start)
		}
		dir = parent
	}
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	s := v.GetString(key)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", strings.ToUpper(key), s)
	}
	return d, nil
}

func parseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
