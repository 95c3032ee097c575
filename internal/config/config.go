package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda "dev".
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Server struct {
		Addr            string        `yaml:"addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Storage struct {
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			MaxIdleConns    int    `yaml:"max_idle_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	OIDC struct {
		// DiscoveryURL apunta al documento .well-known del provider.
		DiscoveryURL string   `yaml:"discovery_url"`
		ClientID     string   `yaml:"client_id"`
		ClientSecret string   `yaml:"client_secret"`
		RedirectURI  string   `yaml:"redirect_uri"`
		Scopes       []string `yaml:"scopes"`
	} `yaml:"oidc"`

	Auth struct {
		// UsernameMatchKeepsPassword controla si un match por username
		// conserva el password local de la cuenta al auto-vincular.
		UsernameMatchKeepsPassword bool `yaml:"username_match_keeps_password"`
	} `yaml:"auth"`

	Log struct {
		Level  string `yaml:"level"`  // debug | info | warn | error
		Format string `yaml:"format"` // json | console
	} `yaml:"log"`
}

// Load lee la configuración YAML, aplica defaults y overrides de entorno.
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

	// sane defaults
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Addr == "" {
		c.Cache.Redis.Addr = "localhost:6379"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "idlink"
	}
	if len(c.OIDC.Scopes) == 0 {
		c.OIDC.Scopes = []string{"openid", "profile", "email"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		if c.App.Env == "dev" {
			c.Log.Format = "console"
		} else {
			c.Log.Format = "json"
		}
	}

	c.applyEnvOverrides()
	return &c, nil
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func getEnvBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func getEnvCSV(key string) ([]string, bool) {
	v := os.Getenv(key)
	if v == "" {
		return nil, false
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, len(out) > 0
}

func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_OPEN_CONNS"); ok {
		c.Storage.Postgres.MaxOpenConns = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_IDLE_CONNS"); ok {
		c.Storage.Postgres.MaxIdleConns = v
	}
	if v, ok := getEnvStr("POSTGRES_CONN_MAX_LIFETIME"); ok {
		c.Storage.Postgres.ConnMaxLifetime = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}

	// OIDC
	if v, ok := getEnvStr("OIDC_DISCOVERY_URL"); ok {
		c.OIDC.DiscoveryURL = v
	}
	if v, ok := getEnvStr("OIDC_CLIENT_ID"); ok {
		c.OIDC.ClientID = v
	}
	if v, ok := getEnvStr("OIDC_CLIENT_SECRET"); ok {
		c.OIDC.ClientSecret = v
	}
	if v, ok := getEnvStr("OIDC_REDIRECT_URI"); ok {
		c.OIDC.RedirectURI = v
	}
	if v, ok := getEnvCSV("OIDC_SCOPES"); ok {
		c.OIDC.Scopes = v
	}

	// AUTH
	if v, ok := getEnvBool("AUTH_USERNAME_MATCH_KEEPS_PASSWORD"); ok {
		c.Auth.UsernameMatchKeepsPassword = v
	}

	// LOG
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvStr("LOG_FORMAT"); ok {
		c.Log.Format = v
	}
}

// Validate rechaza configuraciones incompletas antes de arrancar.
func (c *Config) Validate() error {
	if c.OIDC.DiscoveryURL == "" {
		return fmt.Errorf("config: oidc.discovery_url is required")
	}
	if c.OIDC.ClientID == "" {
		return fmt.Errorf("config: oidc.client_id is required")
	}
	if c.OIDC.ClientSecret == "" {
		return fmt.Errorf("config: oidc.client_secret is required")
	}
	if c.OIDC.RedirectURI == "" {
		return fmt.Errorf("config: oidc.redirect_uri is required")
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("config: storage.dsn is required")
	}
	switch c.Cache.Kind {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: cache.kind must be memory or redis, got %q", c.Cache.Kind)
	}
	return nil
}

// PgConnMaxLifetime parsea storage.postgres.conn_max_lifetime ("" = 0).
func (c *Config) PgConnMaxLifetime() time.Duration {
	if c.Storage.Postgres.ConnMaxLifetime == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Storage.Postgres.ConnMaxLifetime)
	if err != nil {
		return 0
	}
	return d
}
