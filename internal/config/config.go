// Package config loads settings from an optional YAML file and CALMTODO_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Web       WebConfig       `mapstructure:"web"`
	Reminder  ReminderConfig  `mapstructure:"reminder"`
	Decompose DecomposeConfig `mapstructure:"decompose"`
	User      UserConfig      `mapstructure:"user"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	// URL is where clients (the desktop UI) reach the API.
	URL string `mapstructure:"url"`
	// SessionIdle closes server-side sessions unused for this long.
	SessionIdle time.Duration `mapstructure:"session_idle"`
}

// StoreConfig selects the document backend: postgres, sqlite or memory.
// PollInterval is how often long-running processes re-read subscribed
// collections to see writes made by other processes.
type StoreConfig struct {
	Driver       string        `mapstructure:"driver"`
	DSN          string        `mapstructure:"dsn"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// CacheConfig backs the offline cache and the reminder ledger: memory or redis.
type CacheConfig struct {
	Driver        string `mapstructure:"driver"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Version       string `mapstructure:"version"`
}

type WebConfig struct {
	Dir string `mapstructure:"dir"`
}

type ReminderConfig struct {
	Window         time.Duration `mapstructure:"window"`
	Interval       time.Duration `mapstructure:"interval"`
	Overdue        bool          `mapstructure:"overdue"`
	DiscordWebhook string        `mapstructure:"discord_webhook"`
}

// DecomposeConfig selects the task splitting backend: claude or openai.
type DecomposeConfig struct {
	Provider      string `mapstructure:"provider"`
	ClaudeDir     string `mapstructure:"claude_dir"`
	OpenAIKey     string `mapstructure:"openai_key"`
	OpenAIBaseURL string `mapstructure:"openai_base_url"`
	OpenAIModel   string `mapstructure:"openai_model"`
}

// UserConfig is the identity the CLI and reminder daemon sign in as.
// Password is only sent to a remote server. Timezone is an IANA name that
// decides "today"; empty means the machine's zone.
type UserConfig struct {
	Name     string `mapstructure:"name"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
	Timezone string `mapstructure:"timezone"`
}

// Location resolves Timezone, nil when unset.
func (u UserConfig) Location() (*time.Location, error) {
	if u.Timezone == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return nil, fmt.Errorf("user.timezone %q: %w", u.Timezone, err)
	}
	return loc, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.url", "http://localhost:8080")
	v.SetDefault("server.session_idle", 30*time.Minute)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "calm-todo.db")
	v.SetDefault("store.poll_interval", 5*time.Second)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 30*24*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.version", "1")
	v.SetDefault("web.dir", "./web")
	v.SetDefault("reminder.window", 30*time.Minute)
	v.SetDefault("reminder.interval", time.Minute)
	v.SetDefault("reminder.overdue", true)
	v.SetDefault("reminder.discord_webhook", "")
	v.SetDefault("decompose.provider", "claude")
	v.SetDefault("decompose.claude_dir", ".")
	v.SetDefault("decompose.openai_key", "")
	v.SetDefault("decompose.openai_base_url", "")
	v.SetDefault("decompose.openai_model", "gpt-4o-mini")
	v.SetDefault("user.name", "")
	v.SetDefault("user.email", "")
	v.SetDefault("user.password", "")
	v.SetDefault("user.timezone", "")
}

// Load reads path, or calm-todo.yaml from the working directory when path
// is empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CALMTODO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("calm-todo")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("store.driver %q: want postgres, sqlite or memory", c.Store.Driver)
	}
	switch c.Cache.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.driver %q: want memory or redis", c.Cache.Driver)
	}
	switch c.Decompose.Provider {
	case "claude", "openai", "":
	default:
		return fmt.Errorf("decompose.provider %q: want claude or openai", c.Decompose.Provider)
	}
	if _, err := c.User.Location(); err != nil {
		return err
	}
	return nil
}
