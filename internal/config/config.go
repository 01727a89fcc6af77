package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	} `yaml:"server"`

	Storage struct {
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxConns        int    `yaml:"max_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	Auth struct {
		// Issuer is the exact "iss" expected on session credentials.
		Issuer string `yaml:"issuer"`
		// ProjectID is the exact "aud" expected on session credentials.
		ProjectID string `yaml:"project_id"`
		// JWKSURL is the well-known endpoint publishing signing keys.
		JWKSURL string `yaml:"jwks_url"`

		SessionCookie string `yaml:"session_cookie"` // default "__session"
		CSRFCookie    string `yaml:"csrf_cookie"`    // default "csrf_token"
		LoginPath     string `yaml:"login_path"`     // default "/admin/login"

		KeyRefresh string `yaml:"key_refresh"` // JWKS freshness window, default "1h"
	} `yaml:"auth"`

	IDP struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
		Timeout string `yaml:"timeout"` // default "5s"
	} `yaml:"idp"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		Login   struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"login"`
		Session struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"session"`
	} `yaml:"rate"`

	Email struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
	} `yaml:"email"`
}

func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

// applyEnv overlays environment variables over YAML values.
// Env wins, matching the deploy story (secrets come from env).
func (c *Config) applyEnv() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = v
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvCSV("CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvStr("CACHE_REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
		if c.Cache.Kind == "" {
			c.Cache.Kind = "redis"
		}
	}
	if v, ok := getEnvStr("AUTH_ISSUER"); ok {
		c.Auth.Issuer = v
	}
	if v, ok := getEnvStr("AUTH_PROJECT_ID"); ok {
		c.Auth.ProjectID = v
	}
	if v, ok := getEnvStr("AUTH_JWKS_URL"); ok {
		c.Auth.JWKSURL = v
	}
	if v, ok := getEnvStr("IDP_BASE_URL"); ok {
		c.IDP.BaseURL = v
	}
	if v, ok := getEnvStr("IDP_API_KEY"); ok {
		c.IDP.APIKey = v
	}
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.Email.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.Email.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.Email.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.Email.Password = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "2m"
	}
	if c.Auth.SessionCookie == "" {
		c.Auth.SessionCookie = "__session"
	}
	if c.Auth.CSRFCookie == "" {
		c.Auth.CSRFCookie = "csrf_token"
	}
	if c.Auth.LoginPath == "" {
		c.Auth.LoginPath = "/admin/login"
	}
	if c.Auth.KeyRefresh == "" {
		c.Auth.KeyRefresh = "1h"
	}
	if c.IDP.Timeout == "" {
		c.IDP.Timeout = "5s"
	}
	if c.Rate.Login.Limit == 0 {
		c.Rate.Login.Limit = 10
	}
	if c.Rate.Login.Window == "" {
		c.Rate.Login.Window = "1m"
	}
	if c.Rate.Session.Limit == 0 {
		c.Rate.Session.Limit = 30
	}
	if c.Rate.Session.Window == "" {
		c.Rate.Session.Window = "1m"
	}
	if c.Storage.Postgres.MaxConns == 0 {
		c.Storage.Postgres.MaxConns = 10
	}
	if c.Storage.Postgres.ConnMaxLifetime == "" {
		c.Storage.Postgres.ConnMaxLifetime = "30m"
	}
}

// ParseDur parses a duration string with a fallback.
func ParseDur(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil && d > 0 {
		return d
	}
	return def
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, strings.TrimSpace(v) != ""
}

func getEnvInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func getEnvCSV(key string) ([]string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil, false
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out, len(out) > 0
}
