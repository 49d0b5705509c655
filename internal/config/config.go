package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix                = "FAIRWAY"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "fairway.db"
	defaultCachePath         = "fairway-cache.db"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultCookieName        = "fairway_session"
	defaultIssuer            = "fairway"
	defaultTokenTTLMinutes   = 720
	defaultAllowedOriginsCSV = "*"
)

// AppConfig captures runtime configuration for the API server and the watch client.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	CachePath         string
	LogLevel          string
	LogFormat         string
	AuthSigningSecret string
	AuthCookieName    string
	AuthIssuer        string
	AuthTokenTTL      time.Duration
	AllowedOrigins    []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", defaultAllowedOriginsCSV)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("cache.path", defaultCachePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
}

// LoadDotEnv exports the variables of the given .env files into the process environment.
// Missing files are ignored; existing variables are never overridden.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		CachePath:         configViper.GetString("cache.path"),
		LogLevel:          configViper.GetString("log.level"),
		LogFormat:         configViper.GetString("log.format"),
		AuthSigningSecret: configViper.GetString("auth.signing_secret"),
		AuthCookieName:    configViper.GetString("auth.cookie_name"),
		AuthIssuer:        configViper.GetString("auth.issuer"),
		AuthTokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		AllowedOrigins:    splitList(configViper.GetString("http.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadClient parses the subset of configuration used by client commands, which need no
// signing secret.
func LoadClient(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		CachePath: configViper.GetString("cache.path"),
		LogLevel:  configViper.GetString("log.level"),
		LogFormat: configViper.GetString("log.format"),
	}
	if strings.TrimSpace(cfg.CachePath) == "" {
		return AppConfig{}, fmt.Errorf("cache.path is required")
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.AuthCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if strings.TrimSpace(c.AuthIssuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if c.AuthTokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
