package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Auth     AuthConfig     `yaml:"auth"`
	ESS      ESSConfig      `yaml:"ess"`
	Database DatabaseConfig `yaml:"database"`
	Store    StoreConfig    `yaml:"store"`
	Users    []User         `yaml:"users"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

// ESSConfig holds the credentials and tuning for the e-sign provider API.
type ESSConfig struct {
	SecretID         string      `yaml:"secret_id"`
	SecretKey        string      `yaml:"secret_key"`
	Host             string      `yaml:"host"`
	Endpoint         string      `yaml:"endpoint"` // overrides https://{host}, mainly for tests
	Service          string      `yaml:"service"`
	Version          string      `yaml:"version"`
	OperatorID       string      `yaml:"operator_id"`
	OrganizationName string      `yaml:"organization_name"`
	RateLimit        int         `yaml:"rate_limit"` // max calls per second
	Retry            RetryConfig `yaml:"retry"`
	JumpURL          string      `yaml:"jump_url"` // optional redirect after signing
}

type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms"`
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn"` // empty means in-memory store
	MigrationURL string `yaml:"migration_url"`
}

type StoreConfig struct {
	MaxContracts int `yaml:"max_contracts"` // in-memory store cap, 0 = unlimited
}

type User struct {
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	OperatorID string `yaml:"operator_id"`
}

var GlobalConfig *Config

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Auth.TokenExpireHours == 0 {
		cfg.Auth.TokenExpireHours = 24
	}
	if cfg.ESS.Host == "" {
		cfg.ESS.Host = "ess.tencentcloudapi.com"
	}
	if cfg.ESS.Service == "" {
		cfg.ESS.Service = "ess"
	}
	if cfg.ESS.Version == "" {
		cfg.ESS.Version = "2020-11-11"
	}
	if cfg.ESS.RateLimit == 0 {
		cfg.ESS.RateLimit = 20
	}
	if cfg.ESS.Retry.MaxAttempts == 0 {
		cfg.ESS.Retry.MaxAttempts = 3
	}
	if cfg.ESS.Retry.BaseDelayMs == 0 {
		cfg.ESS.Retry.BaseDelayMs = 500
	}
	if cfg.ESS.Retry.MaxDelayMs == 0 {
		cfg.ESS.Retry.MaxDelayMs = 10000
	}
	if cfg.Store.MaxContracts == 0 {
		cfg.Store.MaxContracts = 100
	}

	GlobalConfig = &cfg
	return &cfg, nil
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}
