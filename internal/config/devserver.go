package config

import (
	"time"
)

// DevServer holds all configuration for the development LoginApp + BaseApp.
type DevServer struct {
	// Network
	LoginBind    string `yaml:"login_bind"`    // LoginApp UDP address
	BaseAppBind  string `yaml:"baseapp_bind"`  // BaseApp UDP address
	ExternalHost string `yaml:"external_host"` // advertised to clients in the login reply, empty = bind IP

	// Keys
	PrivateKeyPath string `yaml:"private_key_path"`
	PublicKeyPath  string `yaml:"public_key_path"` // written for clients on start
	KeyBits        int    `yaml:"key_bits"`

	// Accounts
	UseDatabase        bool           `yaml:"use_database"`
	Database           DatabaseConfig `yaml:"database"`
	AutoCreateAccounts bool           `yaml:"auto_create_accounts"`
	LoginsAllowed      bool           `yaml:"logins_allowed"`
	PendingLoginTTL    time.Duration  `yaml:"pending_login_ttl"`

	// World
	UpdateFrequency   uint8         `yaml:"update_frequency"` // ticks per second
	NPCCount          int           `yaml:"npc_count"`
	WelcomeResource   string        `yaml:"welcome_resource"` // sent as a resource download, empty = none
	FragmentSize      int           `yaml:"fragment_size"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`

	LogLevel string `yaml:"log_level"`
}

// DefaultDevServer returns DevServer config with sensible defaults.
func DefaultDevServer() DevServer {
	return DevServer{
		LoginBind:          "0.0.0.0:20013",
		BaseAppBind:        "0.0.0.0:20014",
		PrivateKeyPath:     "loginapp.privkey",
		PublicKeyPath:      "loginapp.pubkey",
		KeyBits:            2048,
		AutoCreateAccounts: true,
		LoginsAllowed:      true,
		PendingLoginTTL:    30 * time.Second,
		UpdateFrequency:    10,
		NPCCount:           3,
		WelcomeResource:    "Welcome to worldlink.",
		FragmentSize:       256,
		InactivityTimeout:  60 * time.Second,
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "worldlink",
			Password: "worldlink",
			DBName:   "worldlink",
			SSLMode:  "disable",
		},
		LogLevel: "info",
	}
}

// LoadDevServer loads dev server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadDevServer(path string) (DevServer, error) {
	cfg := DefaultDevServer()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
