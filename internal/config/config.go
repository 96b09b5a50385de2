// ABOUTME: Configuration loading and parsing for the overwatch binaries.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults mirror the reference deployment: register on 10640, monitor on
// 10641, one report per second, five seconds between retries.
const (
	DefaultRegisterAddr   = ":10640"
	DefaultMonitorAddr    = ":10641"
	DefaultReportInterval = time.Second
	DefaultRetryDelay     = 5 * time.Second
)

// Config represents the complete overwatch configuration. A single file can
// configure all three binaries; each reads only its own section plus logging.
type Config struct {
	Register RegisterConfig `yaml:"register"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Agent    AgentConfig    `yaml:"agent"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RegisterConfig holds the register service configuration.
type RegisterConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// MonitorConfig holds the monitor server configuration.
type MonitorConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// RegisterURL is the register service websocket endpoint, e.g.
	// ws://127.0.0.1:10640/ws
	RegisterURL string `yaml:"register_url"`
	// AdvertiseAddr is the address handed to agents during discovery.
	AdvertiseAddr string         `yaml:"advertise_addr"`
	Database      DatabaseConfig `yaml:"database"`
}

// DatabaseConfig holds report store configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AgentConfig holds the client agent configuration.
type AgentConfig struct {
	RegisterURL string `yaml:"register_url"`
	// Address is the address reported in the agent's identity. Detected
	// from the host when empty.
	Address string `yaml:"address"`

	ReportInterval time.Duration `yaml:"-"`
	RetryDelay     time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ReportIntervalRaw string `yaml:"report_interval"`
	RetryDelayRaw     string `yaml:"retry_delay"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultPath returns the path to the overwatch config file.
// Priority: OVERWATCH_CONFIG env var > XDG_CONFIG_HOME/overwatch/overwatch.yaml
// > ~/.config/overwatch/overwatch.yaml
func DefaultPath() string {
	if envPath := os.Getenv("OVERWATCH_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "overwatch.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "overwatch", "overwatch.yaml")
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded and
// duration strings are parsed into time.Duration values. A missing file is
// not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Register: RegisterConfig{ListenAddr: DefaultRegisterAddr},
		Monitor: MonitorConfig{
			ListenAddr:    DefaultMonitorAddr,
			RegisterURL:   "ws://127.0.0.1:10640/ws",
			AdvertiseAddr: "127.0.0.1:10641",
			Database:      DatabaseConfig{Path: "data/overwatch.db"},
		},
		Agent: AgentConfig{
			RegisterURL:    "ws://127.0.0.1:10640/ws",
			ReportInterval: DefaultReportInterval,
			RetryDelay:     DefaultRetryDelay,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
func (c *Config) Validate() error {
	if c.Register.ListenAddr == "" {
		return fmt.Errorf("register.listen_addr is required")
	}
	if c.Monitor.ListenAddr == "" {
		return fmt.Errorf("monitor.listen_addr is required")
	}
	if c.Monitor.RegisterURL == "" {
		return fmt.Errorf("monitor.register_url is required")
	}
	if c.Monitor.AdvertiseAddr == "" {
		return fmt.Errorf("monitor.advertise_addr is required")
	}
	if c.Monitor.Database.Path == "" {
		return fmt.Errorf("monitor.database.path is required")
	}
	if c.Agent.RegisterURL == "" {
		return fmt.Errorf("agent.register_url is required")
	}
	if c.Agent.ReportInterval <= 0 {
		return fmt.Errorf("agent.report_interval must be positive")
	}
	if c.Agent.RetryDelay <= 0 {
		return fmt.Errorf("agent.retry_delay must be positive")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agent.ReportIntervalRaw != "" {
		cfg.Agent.ReportInterval, err = time.ParseDuration(cfg.Agent.ReportIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing report_interval %q: %w", cfg.Agent.ReportIntervalRaw, err)
		}
	}

	if cfg.Agent.RetryDelayRaw != "" {
		cfg.Agent.RetryDelay, err = time.ParseDuration(cfg.Agent.RetryDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing retry_delay %q: %w", cfg.Agent.RetryDelayRaw, err)
		}
	}

	return nil
}
