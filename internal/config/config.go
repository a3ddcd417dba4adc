package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
)

const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config holds the server and view-counter settings.
type Config struct {
	Port      string
	GinMode   string
	LogLevel  string
	LogFormat string

	Store         string
	DataFile      string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	PostgresURL   string

	IdentityHeaders []string
	HashSalt        string
	RespectDNT      bool

	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment. A .env file, if present, is
// already in the environment through godotenv/autoload.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("VIEWS_LOG_LEVEL", "info")
	v.SetDefault("VIEWS_LOG_FORMAT", "text")
	v.SetDefault("VIEWS_STORE", StoreFile)
	v.SetDefault("VIEWS_DATA_FILE", "data/views.json")
	v.SetDefault("VIEWS_SQLITE_PATH", "data/views.db")
	v.SetDefault("VIEWS_REDIS_ADDR", "localhost:6379")
	v.SetDefault("VIEWS_REDIS_PASSWORD", "")
	v.SetDefault("VIEWS_REDIS_DB", 0)
	v.SetDefault("VIEWS_REDIS_PREFIX", "views:")
	v.SetDefault("VIEWS_POSTGRES_URL", "")
	v.SetDefault("VIEWS_IDENTITY_HEADERS", "X-Forwarded-For,X-Real-IP")
	v.SetDefault("VIEWS_HASH_SALT", "")
	v.SetDefault("VIEWS_RESPECT_DNT", false)
	v.SetDefault("VIEWS_SHUTDOWN_TIMEOUT", "10s")

	cfg := &Config{
		Port:            v.GetString("PORT"),
		GinMode:         v.GetString("GIN_MODE"),
		LogLevel:        v.GetString("VIEWS_LOG_LEVEL"),
		LogFormat:       strings.ToLower(v.GetString("VIEWS_LOG_FORMAT")),
		Store:           strings.ToLower(strings.TrimSpace(v.GetString("VIEWS_STORE"))),
		DataFile:        v.GetString("VIEWS_DATA_FILE"),
		SQLitePath:      v.GetString("VIEWS_SQLITE_PATH"),
		RedisAddr:       v.GetString("VIEWS_REDIS_ADDR"),
		RedisPassword:   v.GetString("VIEWS_REDIS_PASSWORD"),
		RedisDB:         v.GetInt("VIEWS_REDIS_DB"),
		RedisPrefix:     v.GetString("VIEWS_REDIS_PREFIX"),
		PostgresURL:     v.GetString("VIEWS_POSTGRES_URL"),
		IdentityHeaders: splitList(v.GetString("VIEWS_IDENTITY_HEADERS")),
		HashSalt:        v.GetString("VIEWS_HASH_SALT"),
		RespectDNT:      v.GetBool("VIEWS_RESPECT_DNT"),
		ShutdownTimeout: v.GetDuration("VIEWS_SHUTDOWN_TIMEOUT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreFile:
		if c.DataFile == "" {
			return fmt.Errorf("VIEWS_DATA_FILE must be set for the file store")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("VIEWS_SQLITE_PATH must be set for the sqlite store")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("VIEWS_REDIS_ADDR must be set for the redis store")
		}
	case StorePostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("VIEWS_POSTGRES_URL must be set for the postgres store")
		}
	default:
		return fmt.Errorf("unknown VIEWS_STORE: %q", c.Store)
	}

	switch c.GinMode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
	default:
		return fmt.Errorf("unknown GIN_MODE: %q", c.GinMode)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown VIEWS_LOG_FORMAT: %q", c.LogFormat)
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
