// Package config provides configuration loading and defaults for the nut-mcp server.
package config

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/jamesprial/nut-mcp/internal/nut"
)

// ResourceFilter holds allowlist and denylist entries for a resource category.
type ResourceFilter struct {
	Allowlist []string `yaml:"allowlist"`
	Denylist  []string `yaml:"denylist"`
}

// SafetyConfig groups resource filters.
type SafetyConfig struct {
	UPS ResourceFilter `yaml:"ups"`
}

// AuditConfig controls audit logging behaviour.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	LogPath string `yaml:"log_path"`
}

// ServerConfig holds network and authentication settings.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// NUTConfig holds connection details for upsd.
type NUTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// TLS is "try", "require" or "disable".
	TLS string `yaml:"tls"`
	// CertVerify enables server certificate verification when STARTTLS
	// succeeds.
	CertVerify bool `yaml:"cert_verify"`
	// CAFile is a PEM bundle used instead of the system roots when
	// CertVerify is set.
	CAFile string `yaml:"ca_file"`
	// Timeout is the dial and per request timeout in seconds.
	Timeout       int    `yaml:"timeout"`
	RetryAttempts uint64 `yaml:"retry_attempts"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Config is the top-level configuration structure for the nut-mcp server.
type Config struct {
	Server ServerConfig `yaml:"server"`
	NUT    NUTConfig    `yaml:"nut"`
	Safety SafetyConfig `yaml:"safety"`
	Audit  AuditConfig  `yaml:"audit"`
	Log    LogConfig    `yaml:"log"`
}

// LoadConfig reads and parses a YAML configuration file from the given path.
// Keys absent from the file keep their DefaultConfig values. On error, nil is
// returned for the config pointer.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a new Config populated with sensible default values.
// Each call returns a distinct instance.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
		},
		NUT: NUTConfig{
			Host:          nut.DefaultHost,
			Port:          nut.DefaultPort,
			TLS:           nut.TLSTry.String(),
			Timeout:       10,
			RetryAttempts: 3,
		},
		Audit: AuditConfig{
			Enabled: true,
			LogPath: "/config/audit.log",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// envOverrides lists the environment variables ApplyEnvOverrides reads.
type envOverrides struct {
	AuthToken   string `env:"NUT_MCP_AUTH_TOKEN"`
	NUTHost     string `env:"NUT_HOST"`
	NUTPort     int    `env:"NUT_PORT"`
	NUTUsername string `env:"NUT_USERNAME"`
	NUTPassword string `env:"NUT_PASSWORD"`
	LogLevel    string `env:"NUT_MCP_LOG_LEVEL"`
}

// ApplyEnvOverrides updates cfg in place with values from environment variables.
// Recognized variables:
//   - NUT_MCP_AUTH_TOKEN overrides cfg.Server.AuthToken
//   - NUT_HOST and NUT_PORT override cfg.NUT.Host and cfg.NUT.Port
//   - NUT_USERNAME and NUT_PASSWORD override the upsd credentials
//   - NUT_MCP_LOG_LEVEL overrides cfg.Log.Level
//
// Unset or empty variables leave cfg unchanged. A malformed NUT_PORT is an
// error and leaves cfg unchanged.
func ApplyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	setString(&cfg.Server.AuthToken, o.AuthToken)
	setString(&cfg.NUT.Host, o.NUTHost)
	setString(&cfg.NUT.Username, o.NUTUsername)
	setString(&cfg.NUT.Password, o.NUTPassword)
	setString(&cfg.Log.Level, o.LogLevel)
	if o.NUTPort > 0 {
		cfg.NUT.Port = o.NUTPort
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// TLSMode parses the tls setting.
func (c NUTConfig) TLSMode() (nut.TLSMode, error) {
	return nut.ParseTLSMode(c.TLS)
}

// TimeoutDuration returns Timeout as a time.Duration.
func (c NUTConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// TLSConfig returns the tls.Config used after STARTTLS. It is nil, meaning
// certificates are not verified, unless CertVerify is set.
func (c NUTConfig) TLSConfig() (*tls.Config, error) {
	if !c.CertVerify {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.CAFile == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(c.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("ca file %q contains no certificates", c.CAFile)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// EnsureAuthToken generates a random auth token and sets it on cfg if
// cfg.Server.AuthToken is empty. It returns the token (existing or generated)
// and any error encountered during generation.
func EnsureAuthToken(cfg *Config) (string, error) {
	if cfg.Server.AuthToken != "" {
		return cfg.Server.AuthToken, nil
	}
	token, err := GenerateRandomToken()
	if err != nil {
		return "", fmt.Errorf("generate auth token: %w", err)
	}
	cfg.Server.AuthToken = token
	return token, nil
}

// GenerateRandomToken returns a 32-character hex-encoded cryptographically
// random token string.
func GenerateRandomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("rand.Read: %w", err)
	}
	return hex.EncodeToString(b), nil
}
