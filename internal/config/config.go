package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultJWTSecret is only accepted outside of production.
const DefaultJWTSecret = "supersecretkey"

type Config struct {
	Port string

	// WebPort and APIURL are used by the web UI binary: it listens on WebPort
	// and talks to the API at APIURL.
	WebPort string
	APIURL  string

	DBHost    string
	DBPort    string
	DBName    string
	DBUser    string
	DBPass    string
	DBSSLMode string

	// DBMaxOpenConns is the maximum number of open connections to the database (default 25).
	DBMaxOpenConns int
	// DBMaxIdleConns is the maximum number of idle connections (default 5).
	DBMaxIdleConns int
	DBConnMaxLifetime time.Duration
	// DBQueryTimeout bounds every repository call made from an HTTP handler.
	DBQueryTimeout time.Duration
	// MigrateOnStart applies embedded migrations before the API starts serving.
	MigrateOnStart bool

	JWTSecret string

	// Env is "dev" (default) or "prod". When "prod", JWT_SECRET must be set and not the default.
	Env string

	// JWTExpireHours is the token lifetime in hours (default 24). Set via JWT_EXPIRE_HOURS.
	JWTExpireHours int

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string
	TLSKeyFile  string

	LogLevel string
	// LogFormat is "console" (default) or "json".
	LogFormat string
	LogOutput string

	// CORSAllowedOrigins is set via CORS_ALLOWED_ORIGINS (comma-separated). When empty, no CORS headers are sent.
	CORSAllowedOrigins []string

	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For header the API
	// believes when rate limiting, such as the web UI's host. Set via TRUSTED_PROXIES
	// (comma-separated, default loopback).
	TrustedProxies []string

	// SessionStore is "memory" (default) or "redis".
	SessionStore  string
	SessionTTL    time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GraphMaxEquipment int
	FuzzyThreshold    float64
	ImportMaxBytes    int64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("WEB_PORT", "3000")
	v.SetDefault("API_URL", "http://localhost:8080")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "equipmentdb")
	v.SetDefault("DB_USER", "equipment")
	v.SetDefault("DB_PASS", "equipment")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("DB_QUERY_TIMEOUT", "15s")
	v.SetDefault("MIGRATE_ON_START", true)

	v.SetDefault("JWT_SECRET", DefaultJWTSecret)
	v.SetDefault("ENV", "dev")
	v.SetDefault("JWT_EXPIRE_HOURS", 24)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("LOG_OUTPUT", "stdout")

	v.SetDefault("TRUSTED_PROXIES", "127.0.0.1,::1")
	v.SetDefault("SESSION_STORE", "memory")
	v.SetDefault("SESSION_TTL", "30m")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("GRAPH_MAX_EQUIPMENT", 50)
	v.SetDefault("FUZZY_THRESHOLD", 0.3)
	v.SetDefault("IMPORT_MAX_BYTES", 10<<20)
}

// Load reads configuration from defaults, an optional file named by CONFIG_FILE
// (any format viper understands) and the environment, in increasing priority.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := Config{
		Port:    v.GetString("PORT"),
		WebPort: v.GetString("WEB_PORT"),
		APIURL:  strings.TrimRight(v.GetString("API_URL"), "/"),

		DBHost:    v.GetString("DB_HOST"),
		DBPort:    v.GetString("DB_PORT"),
		DBName:    v.GetString("DB_NAME"),
		DBUser:    v.GetString("DB_USER"),
		DBPass:    v.GetString("DB_PASS"),
		DBSSLMode: v.GetString("DB_SSLMODE"),

		DBMaxOpenConns:    positive(v.GetInt("DB_MAX_OPEN_CONNS"), 25),
		DBMaxIdleConns:    positive(v.GetInt("DB_MAX_IDLE_CONNS"), 5),
		DBConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		DBQueryTimeout:    v.GetDuration("DB_QUERY_TIMEOUT"),
		MigrateOnStart:    v.GetBool("MIGRATE_ON_START"),

		JWTSecret:      v.GetString("JWT_SECRET"),
		Env:            v.GetString("ENV"),
		JWTExpireHours: positive(v.GetInt("JWT_EXPIRE_HOURS"), 24),

		TLSCertFile: v.GetString("TLS_CERT_FILE"),
		TLSKeyFile:  v.GetString("TLS_KEY_FILE"),

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),
		LogOutput: v.GetString("LOG_OUTPUT"),

		CORSAllowedOrigins: parseCORSOrigins(v.GetString("CORS_ALLOWED_ORIGINS")),
		TrustedProxies:     parseCORSOrigins(v.GetString("TRUSTED_PROXIES")),

		SessionStore:  strings.ToLower(v.GetString("SESSION_STORE")),
		SessionTTL:    v.GetDuration("SESSION_TTL"),
		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		GraphMaxEquipment: positive(v.GetInt("GRAPH_MAX_EQUIPMENT"), 50),
		FuzzyThreshold:    v.GetFloat64("FUZZY_THRESHOLD"),
		ImportMaxBytes:    v.GetInt64("IMPORT_MAX_BYTES"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c Config) Validate() error {
	if c.Env == "prod" && (c.JWTSecret == "" || c.JWTSecret == DefaultJWTSecret) {
		return errors.New("JWT_SECRET must be set to a non-default value when ENV=prod")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	switch c.SessionStore {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("unknown SESSION_STORE %q (want memory or redis)", c.SessionStore)
	}
	if c.FuzzyThreshold < 0 || c.FuzzyThreshold > 1 {
		return fmt.Errorf("FUZZY_THRESHOLD must be between 0 and 1, got %v", c.FuzzyThreshold)
	}
	for _, p := range c.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("TRUSTED_PROXIES: %q is neither an IP nor a CIDR", p)
			}
		}
	}
	return nil
}

// DSN returns a lib/pq keyword/value connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPass, c.sslMode(),
	)
}

// DatabaseURL returns the postgres:// form expected by golang-migrate.
func (c Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPass),
		Host:     net.JoinHostPort(c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.sslMode()),
	}
	return u.String()
}

func (c Config) sslMode() string {
	if c.DBSSLMode == "" {
		return "disable"
	}
	return c.DBSSLMode
}

// TLSEnabled reports whether both certificate and key are configured.
func (c Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// parseCORSOrigins splits a comma-separated list and trims spaces. Empty strings are omitted.
func parseCORSOrigins(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if o := strings.TrimSpace(p); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func positive(n, fallback int) int {
	if n > 0 {
		return n
	}
	return fallback
}
