package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables recognized by the server. Values set here override
// the corresponding config file fields.
const (
	EnvConfigPath    = "CONFIG_PATH"
	EnvDBConnection  = "DB_CONNECTION"
	EnvSessionSecret = "SESSION_JWT_SECRET"
	EnvSessionExpiry = "SESSION_JWT_EXPIRY"
	EnvPrivateKey    = "PRIVATE_KEY"
	EnvPublicKey     = "PUBLIC_KEY"

	EnvZeptoMailURL         = "ZEPTOMAIL_URL"
	EnvZeptoMailToken       = "ZEPTOMAIL_TOKEN"
	EnvZeptoMailTemplateKey = "ZEPTOMAIL_TEMPLATE_KEY"
	EnvZeptoMailFromEmail   = "ZEPTOMAIL_FROM_EMAIL"
	EnvZeptoMailFromName    = "ZEPTOMAIL_FROM_NAME"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// ErrMissingPrivateKey indicates no server RSA private key is configured.
var ErrMissingPrivateKey = errors.New("missing server private key (set `keys.private-key` in config file or PRIVATE_KEY)")

// ErrMissingPublicKey indicates no server RSA public key is configured.
var ErrMissingPublicKey = errors.New("missing server public key (set `keys.public-key` in config file or PUBLIC_KEY)")

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// SessionConfig holds session JWT secret and expiry settings.
type SessionConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// defaultSessionExpiry is used when the config omits or invalidates session expiry.
const defaultSessionExpiry = 24 * time.Hour

// LoadSessionConfig loads session JWT settings from the YAML config file.
func LoadSessionConfig(configPath string) (SessionConfig, error) {
	// fileConfig maps the YAML fields needed for session settings.
	type fileConfig struct {
		Session SessionConfig `yaml:"session"`
	}

	result := SessionConfig{Expiry: defaultSessionExpiry}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.Session
		}
	}

	if secret := strings.TrimSpace(os.Getenv(EnvSessionSecret)); secret != "" {
		result.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvSessionExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			result.Expiry = expiry
		}
	}

	if result.Expiry <= 0 {
		result.Expiry = defaultSessionExpiry
	}
	return result, nil
}

// KeysConfig holds the server RSA key pair in PEM form.
type KeysConfig struct {
	PrivateKeyPEM string `yaml:"private-key"`
	PublicKeyPEM  string `yaml:"public-key"`
}

// LoadKeysConfig loads the RSA key pair from the YAML config file with env
// overrides. Values coming from the environment may carry literal `\n`
// escapes and are normalized to real newlines.
func LoadKeysConfig(configPath string) (KeysConfig, error) {
	// fileConfig maps the YAML fields needed for key settings.
	type fileConfig struct {
		Keys KeysConfig `yaml:"keys"`
	}

	var result KeysConfig

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.Keys
		}
	}

	if pem := strings.TrimSpace(os.Getenv(EnvPrivateKey)); pem != "" {
		result.PrivateKeyPEM = pem
	}
	if pem := strings.TrimSpace(os.Getenv(EnvPublicKey)); pem != "" {
		result.PublicKeyPEM = pem
	}

	result.PrivateKeyPEM = NormalizePEM(result.PrivateKeyPEM)
	result.PublicKeyPEM = NormalizePEM(result.PublicKeyPEM)

	if result.PrivateKeyPEM == "" {
		return result, ErrMissingPrivateKey
	}
	if result.PublicKeyPEM == "" {
		return result, ErrMissingPublicKey
	}
	return result, nil
}

// NormalizePEM replaces literal `\n` escape sequences with newlines and trims
// surrounding whitespace.
func NormalizePEM(pem string) string {
	return strings.TrimSpace(strings.ReplaceAll(pem, `\n`, "\n"))
}

// MailConfig holds ZeptoMail transport settings.
type MailConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	TemplateKey string `yaml:"template-key"`
	FromEmail   string `yaml:"from-email"`
	FromName    string `yaml:"from-name"`
}

// LoadMailConfig loads ZeptoMail settings from the YAML config file with env
// overrides.
func LoadMailConfig(configPath string) (MailConfig, error) {
	// fileConfig maps the YAML fields needed for mail settings.
	type fileConfig struct {
		Mail MailConfig `yaml:"mail"`
	}

	var result MailConfig

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.Mail
		}
	}

	if v := strings.TrimSpace(os.Getenv(EnvZeptoMailURL)); v != "" {
		result.URL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvZeptoMailToken)); v != "" {
		result.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvZeptoMailTemplateKey)); v != "" {
		result.TemplateKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvZeptoMailFromEmail)); v != "" {
		result.FromEmail = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvZeptoMailFromName)); v != "" {
		result.FromName = v
	}

	return result, nil
}
