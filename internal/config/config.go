package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "TASKBOARD"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "taskboard.db"
	defaultLogLevel          = "info"
	defaultAuthIssuer        = "taskboard-auth"
	defaultAuthAudience      = "taskboard-api"
	defaultCookieName        = "taskboard_session"
	defaultTokenTTLMinutes   = 60
	defaultSendBuffer        = 256
	defaultCursorIntervalMS  = 50
	defaultCollabURL         = "ws://localhost:8080/collab/ws"
	defaultDevelopmentLogger = false
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	LogDevelopment bool
	SigningSecret  string
	Issuer         string
	Audience       string
	CookieName     string
	TokenTTL       time.Duration
	AllowedOrigins []string
	SendBuffer     int
	CursorInterval time.Duration
	CollabURL      string
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.development", defaultDevelopmentLogger)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.audience", defaultAuthAudience)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("collab.allowed_origins", []string{})
	configViper.SetDefault("collab.send_buffer", defaultSendBuffer)
	configViper.SetDefault("collab.cursor_interval_ms", defaultCursorIntervalMS)
	configViper.SetDefault("collab.url", defaultCollabURL)
}

// Load parses runtime configuration for the API server.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := read(configViper)
	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadClient parses configuration for commands that only dial the
// collaboration endpoint; server secrets are not required.
func LoadClient(configViper *viper.Viper) (AppConfig, error) {
	cfg := read(configViper)
	if err := cfg.validateClient(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func read(configViper *viper.Viper) AppConfig {
	return AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		LogDevelopment: configViper.GetBool("log.development"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		Issuer:         configViper.GetString("auth.issuer"),
		Audience:       configViper.GetString("auth.audience"),
		CookieName:     configViper.GetString("auth.cookie_name"),
		TokenTTL:       time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		AllowedOrigins: splitList(configViper.GetStringSlice("collab.allowed_origins")),
		SendBuffer:     configViper.GetInt("collab.send_buffer"),
		CursorInterval: time.Duration(configViper.GetInt("collab.cursor_interval_ms")) * time.Millisecond,
		CollabURL:      configViper.GetString("collab.url"),
	}
}

func (c AppConfig) validateClient() error {
	if strings.TrimSpace(c.CollabURL) == "" {
		return fmt.Errorf("collab.url is required")
	}
	if c.CursorInterval < 0 {
		return fmt.Errorf("collab.cursor_interval_ms must not be negative")
	}
	return nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.Issuer) == "" || strings.TrimSpace(c.Audience) == "" {
		return fmt.Errorf("auth.issuer and auth.audience are required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("collab.send_buffer must be positive")
	}
	if c.CursorInterval < 0 {
		return fmt.Errorf("collab.cursor_interval_ms must not be negative")
	}
	return nil
}

// splitList accepts both repeated values and a single comma separated env value.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
