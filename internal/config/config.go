package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported values for DATABASE_DRIVER.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config captures process level configuration.
type Config struct {
	Server   Server
	Database Database
	Log      Log
}

// Server configures the HTTP listener.
type Server struct {
	Port            string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	// AllowedOrigins for CORS; empty allows any origin.
	AllowedOrigins []string
}

// Addr is the listen address derived from Port.
func (s Server) Addr() string {
	return ":" + s.Port
}

// Database configures the contact store.
type Database struct {
	Driver     string
	URL        string
	MaxRetries int
	TxTimeout  time.Duration
}

// Log configures the slog handler.
type Log struct {
	Level  string
	Format string
}

// Load reads an optional .env file and then builds the config from the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var cfg Config
	var err error

	cfg.Server.Port = getEnv("PORT", "8080")
	if cfg.Server.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Server.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}

	cfg.Server.AllowedOrigins = getList("CORS_ALLOWED_ORIGINS")

	cfg.Database.URL = getEnv("DATABASE_URL", "./bitespeed.db")
	cfg.Database.Driver = os.Getenv("DATABASE_DRIVER")
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = inferDriver(cfg.Database.URL)
	}
	switch cfg.Database.Driver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		return Config{}, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.Database.Driver)
	}
	if cfg.Database.MaxRetries, err = getInt("TX_MAX_RETRIES", 3); err != nil {
		return Config{}, err
	}
	if cfg.Database.MaxRetries < 0 {
		return Config{}, fmt.Errorf("TX_MAX_RETRIES must not be negative")
	}
	if cfg.Database.TxTimeout, err = getDuration("TX_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func inferDriver(url string) string {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DriverPostgres
	case url == DriverMemory:
		return DriverMemory
	default:
		return DriverSQLite
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getList splits a comma separated variable, dropping blank entries.
func getList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
