package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "TASKGARDEN_"

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "TASKGARDEN_CONFIG"

// defaultConfigPaths are searched in order; the first existing file wins.
var defaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/taskgarden/config.yaml",
}

// Load builds the configuration from defaults, an optional YAML file, and
// TASKGARDEN_* environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	cfg := Default()

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// TASKGARDEN_DATABASE_URL -> database.url, etc. Only the section
	// separator is a dot; key names keep their underscores.
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// envSections are the top-level and nested section prefixes recognized in
// environment variable names. Longest match wins.
var envSections = []string{
	"notifications_retry",
	"notifications_cleanup",
	"notifications_email",
	"notifications_webhook",
	"notifications_push",
	"notifications",
	"database",
	"server",
	"cors",
	"log",
}

// envTransform maps TASKGARDEN_DATABASE_MAX_OPEN_CONNS to
// database.max_open_conns. Key names may themselves contain underscores, so
// the split point is decided against the known section list rather than on
// every underscore.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))

	for _, section := range envSections {
		if strings.HasPrefix(key, section+"_") {
			path := strings.ReplaceAll(section, "_", ".")
			return path + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
