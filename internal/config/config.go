// Package config handles configuration parsing for adbwifi.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/acolita/adbwifi/internal/adapters/realfs"
	"github.com/acolita/adbwifi/internal/ports"
)

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/adbwifi/config.yaml or ~/.config/adbwifi/config.yaml
func DefaultConfigPath(fsys ...ports.FileSystem) string {
	f := pick(fsys)
	dir := f.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := f.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "adbwifi", "config.yaml")
}

// Config represents the top-level configuration.
type Config struct {
	ADB             ADBConfig       `yaml:"adb"`
	WiFi            WiFiConfig      `yaml:"wifi"`
	Timeouts        TimeoutsConfig  `yaml:"timeouts"`
	Process         ProcessConfig   `yaml:"process"`
	PromptDetection PromptConfig    `yaml:"prompt_detection"`
	Recording       RecordingConfig `yaml:"recording"`
	Logging         LoggingConfig   `yaml:"logging"`
}

// ADBConfig defines how the adb client is found and run.
type ADBConfig struct {
	Command     string   `yaml:"command"`      // name or path of the adb client
	SearchPaths []string `yaml:"search_paths"` // globs tried when command is not on PATH
	ShellArgs   []string `yaml:"shell_args"`   // arguments of the interactive shell
	TTY         bool     `yaml:"tty"`          // run the interactive shell on a pseudo-terminal
	MergeStderr bool     `yaml:"merge_stderr"` // read stderr together with stdout
}

// WiFiConfig holds defaults for the network to join.
type WiFiConfig struct {
	SSID        string `yaml:"ssid"`
	AuthType    string `yaml:"auth_type"`    // "WEP" or "WPA"
	PasswordEnv string `yaml:"password_env"` // env var containing the network key
	UseKeyring  bool   `yaml:"use_keyring"`  // look keys up in the OS keyring
}

// TimeoutsConfig bounds each step of a run.
type TimeoutsConfig struct {
	FirstPrompt  time.Duration `yaml:"first_prompt"`
	SecondPrompt time.Duration `yaml:"second_prompt"`
	Launch       time.Duration `yaml:"launch"`
	Logcat       time.Duration `yaml:"logcat"`
}

// ProcessConfig tunes child termination.
type ProcessConfig struct {
	ReapAttempts int           `yaml:"reap_attempts"`
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// PromptConfig defines prompt detection settings.
type PromptConfig struct {
	CustomPatterns []PatternConfig `yaml:"custom_patterns"`
}

// PatternConfig defines a custom prompt pattern.
type PatternConfig struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
	Type  string `yaml:"type"` // "shell" or "root"
}

// RecordingConfig enables asciicast recordings of the adb traffic.
type RecordingConfig struct {
	Dir string `yaml:"dir"` // empty disables recording
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Format   string `yaml:"format"`   // "text" or "json"
	Sanitize bool   `yaml:"sanitize"` // sanitize sensitive data from logs
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ADB: ADBConfig{
			Command:   "adb",
			ShellArgs: []string{"shell"},
			TTY:       true,
		},
		WiFi: WiFiConfig{
			AuthType:    "WPA",
			PasswordEnv: "ADBWIFI_KEY",
		},
		Timeouts: TimeoutsConfig{
			FirstPrompt:  10 * time.Second,
			SecondPrompt: 3 * time.Second,
			Launch:       10 * time.Second,
			Logcat:       30 * time.Second,
		},
		Process: ProcessConfig{
			ReapAttempts: 5,
			ReapInterval: 200 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Sanitize: true,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. An optional FileSystem can be passed for testing; if omitted, the
// real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := pick(fsys).ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration and fills unset numeric values with
// their defaults.
func (c *Config) Validate() error {
	def := DefaultConfig()

	if strings.TrimSpace(c.ADB.Command) == "" {
		c.ADB.Command = def.ADB.Command
	}
	if len(c.ADB.ShellArgs) == 0 {
		c.ADB.ShellArgs = def.ADB.ShellArgs
	}

	switch strings.ToUpper(c.WiFi.AuthType) {
	case "":
		c.WiFi.AuthType = def.WiFi.AuthType
	case "WEP", "WPA":
		c.WiFi.AuthType = strings.ToUpper(c.WiFi.AuthType)
	default:
		return fmt.Errorf("wifi.auth_type: unknown value %q", c.WiFi.AuthType)
	}

	for _, d := range []struct {
		name string
		v    *time.Duration
		def  time.Duration
	}{
		{"timeouts.first_prompt", &c.Timeouts.FirstPrompt, def.Timeouts.FirstPrompt},
		{"timeouts.second_prompt", &c.Timeouts.SecondPrompt, def.Timeouts.SecondPrompt},
		{"timeouts.launch", &c.Timeouts.Launch, def.Timeouts.Launch},
		{"timeouts.logcat", &c.Timeouts.Logcat, def.Timeouts.Logcat},
		{"process.reap_interval", &c.Process.ReapInterval, def.Process.ReapInterval},
	} {
		if *d.v < 0 {
			return fmt.Errorf("%s: negative duration %v", d.name, *d.v)
		}
		if *d.v == 0 {
			*d.v = d.def
		}
	}
	if c.Process.ReapAttempts <= 0 {
		c.Process.ReapAttempts = def.Process.ReapAttempts
	}

	for i, p := range c.PromptDetection.CustomPatterns {
		if _, err := regexp.Compile(p.Regex); err != nil {
			return fmt.Errorf("prompt_detection.custom_patterns[%d] %q: %w", i, p.Name, err)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown value %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "":
		c.Logging.Format = def.Logging.Format
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: unknown value %q", c.Logging.Format)
	}

	return nil
}

func pick(fsys []ports.FileSystem) ports.FileSystem {
	if len(fsys) > 0 && fsys[0] != nil {
		return fsys[0]
	}
	return realfs.New()
}
