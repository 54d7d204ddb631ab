package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPath overrides the config path of every binary.
const EnvPath = "WORLDLINK_CONFIG"

// Client holds all configuration for the game client connection.
type Client struct {
	// Server
	Server        string `yaml:"server"` // host or host:port
	Port          int    `yaml:"port"`   // 0 = protocol default
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	PublicKeyPath string `yaml:"public_key_path"`

	// Network
	BindAddress           string `yaml:"bind_address"`
	Encrypt               bool   `yaml:"encrypt"`
	TryToReconfigurePorts bool   `yaml:"try_to_reconfigure_ports"`

	// Session
	InactivityTimeout      time.Duration `yaml:"inactivity_timeout"`
	OverflowLimit          int           `yaml:"overflow_limit"` // unacked segments before disconnect
	DefaultUpdateFrequency float64       `yaml:"default_update_frequency"`
	SendInterval           time.Duration `yaml:"send_interval"`

	Login LoginPolicy `yaml:"login"`

	LogLevel string `yaml:"log_level"`
}

// LoginPolicy is the retry timing of the log-on handshake.
type LoginPolicy struct {
	RetryPeriod        time.Duration `yaml:"retry_period"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxAttempts        int           `yaml:"max_attempts"`
	MaxBaseAppAttempts int           `yaml:"max_baseapp_attempts"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// DefaultClient returns Client config with sensible defaults.
func DefaultClient() Client {
	return Client{
		Server:                 "127.0.0.1",
		PublicKeyPath:          "loginapp.pubkey",
		BindAddress:            "0.0.0.0:0",
		Encrypt:                true,
		InactivityTimeout:      60 * time.Second,
		OverflowLimit:          1024,
		DefaultUpdateFrequency: 10,
		SendInterval:           50 * time.Millisecond,
		Login: LoginPolicy{
			RetryPeriod:        time.Second,
			Timeout:            8 * time.Second,
			MaxAttempts:        10,
			MaxBaseAppAttempts: 10,
		},
		LogLevel: "info",
	}
}

// LoadClient loads client config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Path returns the value of WORLDLINK_CONFIG, or def.
func Path(def string) string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return def
}

// ParseLevel maps debug|info|warn|error to a slog level; anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func load(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}
