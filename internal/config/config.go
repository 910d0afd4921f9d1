package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr             string
	DatabaseURL          string
	DBMaxOpenConns       int
	DBMaxIdleConns       int
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	LogLevel        string
	PrettyLog       bool
	ShutdownTimeout time.Duration

	CascadeMaxAttempts int
	RateLimitRPS       float64
	RateLimitBurst     int
}

var ErrMissingDatabaseURL = errors.New("missing env: DATABASE_URL")

// Load reads the process environment, after loading a .env file from the
// working directory when one exists.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:          getenv("DATABASE_URL", ""),
		DBMaxOpenConns:       getenvInt("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:       getenvInt("DB_MAX_IDLE_CONNS", 5),
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", "false") == "true",

		LogLevel:        getenv("LOG_LEVEL", "info"),
		PrettyLog:       getenvBool("PRETTY_LOG", false),
		ShutdownTimeout: getenvDuration("SHUTDOWN_TIMEOUT", 5*time.Second),

		CascadeMaxAttempts: getenvInt("CASCADE_MAX_ATTEMPTS", 3),
		RateLimitRPS:       getenvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getenvInt("RATE_LIMIT_BURST", 40),
	}

	for _, o := range strings.Split(getenv("CORS_ALLOWED_ORIGINS", ""), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	if cfg.DatabaseURL == "" {
		return cfg, ErrMissingDatabaseURL
	}
	if cfg.CascadeMaxAttempts < 1 {
		return cfg, fmt.Errorf("CASCADE_MAX_ATTEMPTS must be at least 1, got %d", cfg.CascadeMaxAttempts)
	}
	return cfg, nil
}

// Driver reports which store DatabaseURL selects: "postgres" or "sqlite".
func (c Config) Driver() string {
	u := strings.ToLower(c.DatabaseURL)
	if strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

// SQLiteDSN turns DATABASE_URL into a modernc.org/sqlite data source.
// "sqlite:path", "sqlite://path", "file:path" and bare paths are accepted.
func (c Config) SQLiteDSN() string {
	u := c.DatabaseURL
	switch {
	case strings.HasPrefix(u, "sqlite://"):
		u = strings.TrimPrefix(u, "sqlite://")
	case strings.HasPrefix(u, "sqlite:"):
		u = strings.TrimPrefix(u, "sqlite:")
	}
	if strings.HasPrefix(u, "file:") {
		return u
	}
	return "file:" + u
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	if v := getenv(key, ""); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := getenv(key, ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := getenv(key, ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := getenv(key, ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
