// Package config resolves runtime configuration: defaults, then
// configs/default.yaml, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the server looks for its config file.
const DefaultPath = "configs/default.yaml"

const (
	ProviderLocal    = "local"
	ProviderSupabase = "supabase"

	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendFile   = "file"
)

// Config is the resolved configuration.
type Config struct {
	Port         int
	DBPath       string
	TemplateDir  string
	StaticDir    string
	SecureCookie bool
	PublicURL    string
	LogLevel     string

	AuthProvider      string
	SupabaseURL       string
	SupabaseAnonKey   string
	JWTSecret         string
	DevSkipGuard      bool
	OAuthProviders    []string
	AdminUser         string
	AdminPassword     string
	JanitorInterval   time.Duration
	AccessTokenTTL    time.Duration
	RefreshSessionTTL time.Duration

	StorageBackend string
	RedisURL       string
	RedisPrefix    string
	StateFile      string

	CalendarSetupURL string
	CalendarTimeout  time.Duration
}

type configFile struct {
	Server struct {
		Port         int    `yaml:"port"`
		DBPath       string `yaml:"db_path"`
		TemplateDir  string `yaml:"template_dir"`
		StaticDir    string `yaml:"static_dir"`
		SecureCookie *bool  `yaml:"secure_cookie"`
		PublicURL    string `yaml:"public_url"`
		LogLevel     string `yaml:"log_level"`
	} `yaml:"server"`
	Auth struct {
		Provider        string   `yaml:"provider"`
		SupabaseURL     string   `yaml:"supabase_url"`
		SupabaseAnonKey string   `yaml:"supabase_anon_key"`
		JWTSecret       string   `yaml:"jwt_secret"`
		DevSkipGuard    *bool    `yaml:"dev_skip_guard"`
		OAuthProviders  []string `yaml:"oauth_providers"`
		JanitorSeconds  int      `yaml:"janitor_interval_seconds"`
		AccessMinutes   int      `yaml:"access_token_minutes"`
		RefreshDays     int      `yaml:"refresh_session_days"`
	} `yaml:"auth"`
	Storage struct {
		Backend     string `yaml:"backend"`
		RedisURL    string `yaml:"redis_url"`
		RedisPrefix string `yaml:"redis_prefix"`
		StateFile   string `yaml:"state_file"`
	} `yaml:"storage"`
	Integrations struct {
		CalendarSetupURL      string `yaml:"calendar_setup_url"`
		CalendarTimeoutSecond int    `yaml:"calendar_timeout_seconds"`
	} `yaml:"integrations"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Port:              8080,
		DBPath:            "dailypa.db",
		TemplateDir:       "web/templates",
		StaticDir:         "web/static",
		PublicURL:         "http://localhost:8080",
		LogLevel:          "info",
		AuthProvider:      ProviderLocal,
		JanitorInterval:   10 * time.Minute,
		AccessTokenTTL:    time.Hour,
		RefreshSessionTTL: 30 * 24 * time.Hour,
		StorageBackend:    BackendSQLite,
		RedisPrefix:       "dailypa",
		CalendarTimeout:   5 * time.Second,
	}
}

// Load resolves configuration in priority order: defaults -> file -> env.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.applyFile(raw); err != nil {
			return Config{}, err
		}
	case !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Server.Port > 0 {
		c.Port = f.Server.Port
	}
	setString(&c.DBPath, f.Server.DBPath)
	setString(&c.TemplateDir, f.Server.TemplateDir)
	setString(&c.StaticDir, f.Server.StaticDir)
	setString(&c.PublicURL, f.Server.PublicURL)
	setString(&c.LogLevel, f.Server.LogLevel)
	if f.Server.SecureCookie != nil {
		c.SecureCookie = *f.Server.SecureCookie
	}

	setString(&c.AuthProvider, f.Auth.Provider)
	setString(&c.SupabaseURL, f.Auth.SupabaseURL)
	setString(&c.SupabaseAnonKey, f.Auth.SupabaseAnonKey)
	setString(&c.JWTSecret, f.Auth.JWTSecret)
	if f.Auth.DevSkipGuard != nil {
		c.DevSkipGuard = *f.Auth.DevSkipGuard
	}
	if len(f.Auth.OAuthProviders) > 0 {
		c.OAuthProviders = f.Auth.OAuthProviders
	}
	if f.Auth.JanitorSeconds > 0 {
		c.JanitorInterval = time.Duration(f.Auth.JanitorSeconds) * time.Second
	}
	if f.Auth.AccessMinutes > 0 {
		c.AccessTokenTTL = time.Duration(f.Auth.AccessMinutes) * time.Minute
	}
	if f.Auth.RefreshDays > 0 {
		c.RefreshSessionTTL = time.Duration(f.Auth.RefreshDays) * 24 * time.Hour
	}

	setString(&c.StorageBackend, f.Storage.Backend)
	setString(&c.RedisURL, f.Storage.RedisURL)
	setString(&c.RedisPrefix, f.Storage.RedisPrefix)
	setString(&c.StateFile, f.Storage.StateFile)

	setString(&c.CalendarSetupURL, f.Integrations.CalendarSetupURL)
	if f.Integrations.CalendarTimeoutSecond > 0 {
		c.CalendarTimeout = time.Duration(f.Integrations.CalendarTimeoutSecond) * time.Second
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envInt("PORT", c.Port)
	c.DBPath = envOrDefault("DB_PATH", c.DBPath)
	c.TemplateDir = envOrDefault("TEMPLATE_DIR", c.TemplateDir)
	c.StaticDir = envOrDefault("STATIC_DIR", c.StaticDir)
	c.SecureCookie = envBool("SECURE_COOKIE", c.SecureCookie)
	c.PublicURL = envOrDefault("PUBLIC_URL", c.PublicURL)
	c.LogLevel = strings.ToLower(envOrDefault("LOG_LEVEL", c.LogLevel))

	c.AuthProvider = strings.ToLower(strings.TrimSpace(envOrDefault("AUTH_PROVIDER", c.AuthProvider)))
	c.SupabaseURL = envOrDefault("SUPABASE_URL", c.SupabaseURL)
	c.SupabaseAnonKey = envOrDefault("SUPABASE_ANON_KEY", c.SupabaseAnonKey)
	c.JWTSecret = envOrDefault("SUPABASE_JWT_SECRET", c.JWTSecret)
	c.DevSkipGuard = envBool("DEV_SKIP_AUTH", c.DevSkipGuard)
	c.OAuthProviders = envCSV("OAUTH_PROVIDERS", c.OAuthProviders)
	c.AdminUser = envOrDefault("ADMIN_USER", c.AdminUser)
	c.AdminPassword = envOrDefault("ADMIN_PASSWORD", c.AdminPassword)

	c.StorageBackend = strings.ToLower(strings.TrimSpace(envOrDefault("STORAGE_BACKEND", c.StorageBackend)))
	c.RedisURL = envOrDefault("REDIS_URL", c.RedisURL)
	c.StateFile = envOrDefault("STATE_FILE", c.StateFile)

	c.CalendarSetupURL = envOrDefault("CALENDAR_SETUP_URL", c.CalendarSetupURL)
}

// Validate checks that the selected provider and backend are usable.
func (c Config) Validate() error {
	switch c.AuthProvider {
	case ProviderLocal:
	case ProviderSupabase:
		if c.SupabaseURL == "" || c.SupabaseAnonKey == "" {
			return errors.New("supabase provider needs SUPABASE_URL and SUPABASE_ANON_KEY")
		}
	default:
		return fmt.Errorf("unknown auth provider %q", c.AuthProvider)
	}
	switch c.StorageBackend {
	case BackendSQLite, BackendFile:
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("redis storage backend needs REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envBool only flips on explicit values; anything else keeps fallback.
func envBool(name string, fallback bool) bool {
	switch os.Getenv(name) {
	case "1", "true", "TRUE", "True", "yes", "YES":
		return true
	case "0", "false", "FALSE", "False", "no", "NO":
		return false
	default:
		return fallback
	}
}

func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
