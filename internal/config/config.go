package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// HTTP
	HTTPPort        string
	ShutdownTimeout time.Duration

	// Storage backend: timescale | memory
	StoreBackend string

	// TimescaleDB
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Redis. When disabled, auth falls back to static keys, thresholds
	// to defaults, and HIGH severity anomalies are only logged.
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Pipeline channels
	NotifyChannelSize int
	StateChannelSize  int

	// Worker counts
	NotifyWorkers int

	// Server-side classification
	ClassifierEnabled bool
	ClassifierDedup   time.Duration

	// Auth
	AuthCacheTTLSeconds int
	// ValidAPIKeys maps static API keys to the device they identify,
	// parsed from VALID_API_KEYS="key:device,key:device".
	ValidAPIKeys map[string]string

	LogLevel string
}

var defaults = map[string]any{
	"HTTP_PORT":                "8001",
	"SHUTDOWN_TIMEOUT_SECONDS": 10,
	"STORE_BACKEND":            "timescale",
	"DB_HOST":                  "localhost",
	"DB_PORT":                  "5432",
	"DB_USER":                  "fleet_user",
	"DB_PASSWORD":              "fleet_password",
	"DB_NAME":                  "fleet_monitor",
	"DB_MAX_CONNS":             15,
	"REDIS_ENABLED":            true,
	"REDIS_ADDR":               "localhost:6379",
	"REDIS_PASSWORD":           "",
	"REDIS_DB":                 0,
	"NOTIFY_CHANNEL_SIZE":      1000,
	"STATE_CHANNEL_SIZE":       10000,
	"NOTIFY_WORKERS":           2,
	"CLASSIFIER_ENABLED":       false,
	"CLASSIFIER_DEDUP_SECONDS": 300,
	"AUTH_CACHE_TTL_SECONDS":   300,
	"VALID_API_KEYS":           "",
	"LOG_LEVEL":                "info",
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		HTTPPort:            v.GetString("HTTP_PORT"),
		ShutdownTimeout:     time.Duration(v.GetInt("SHUTDOWN_TIMEOUT_SECONDS")) * time.Second,
		StoreBackend:        strings.ToLower(v.GetString("STORE_BACKEND")),
		DBHost:              v.GetString("DB_HOST"),
		DBPort:              v.GetString("DB_PORT"),
		DBUser:              v.GetString("DB_USER"),
		DBPassword:          v.GetString("DB_PASSWORD"),
		DBName:              v.GetString("DB_NAME"),
		DBMaxConns:          v.GetInt32("DB_MAX_CONNS"),
		RedisEnabled:        v.GetBool("REDIS_ENABLED"),
		RedisAddr:           v.GetString("REDIS_ADDR"),
		RedisPassword:       v.GetString("REDIS_PASSWORD"),
		RedisDB:             v.GetInt("REDIS_DB"),
		NotifyChannelSize:   v.GetInt("NOTIFY_CHANNEL_SIZE"),
		StateChannelSize:    v.GetInt("STATE_CHANNEL_SIZE"),
		NotifyWorkers:       v.GetInt("NOTIFY_WORKERS"),
		ClassifierEnabled:   v.GetBool("CLASSIFIER_ENABLED"),
		ClassifierDedup:     time.Duration(v.GetInt("CLASSIFIER_DEDUP_SECONDS")) * time.Second,
		AuthCacheTTLSeconds: v.GetInt("AUTH_CACHE_TTL_SECONDS"),
		ValidAPIKeys:        parseAPIKeys(v.GetString("VALID_API_KEYS")),
		LogLevel:            v.GetString("LOG_LEVEL"),
	}
	return cfg, cfg.Validate()
}

func parseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, device, ok := strings.Cut(pair, ":")
		if !ok || key == "" || device == "" {
			continue
		}
		keys[key] = device
	}
	return keys
}

func (c *Config) Validate() error {
	if c.StoreBackend != "timescale" && c.StoreBackend != "memory" {
		return fmt.Errorf("STORE_BACKEND must be timescale or memory, got %q", c.StoreBackend)
	}
	if c.StoreBackend == "timescale" && !c.RedisEnabled {
		return fmt.Errorf("STORE_BACKEND=timescale requires REDIS_ENABLED")
	}
	if c.NotifyWorkers < 1 {
		return fmt.Errorf("NOTIFY_WORKERS must be at least 1")
	}
	if c.NotifyChannelSize < 1 || c.StateChannelSize < 1 {
		return fmt.Errorf("channel sizes must be positive")
	}
	return nil
}
