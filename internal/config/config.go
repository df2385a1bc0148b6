// Package config provides configuration management using viper.
// It supports loading from YAML files, a .env file and environment variable
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	Cache  CacheConfig  `mapstructure:"cache"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	Signal SignalConfig `mapstructure:"signal"`
	Rooms  RoomsConfig  `mapstructure:"rooms"`
	Invite InviteConfig `mapstructure:"invite"`
	Admin  AdminConfig  `mapstructure:"admin"`
	Bot    BotConfig    `mapstructure:"bot"`
	Log    LogConfig    `mapstructure:"log"`
}

// StoreConfig holds the relational backend connection. Both URL and Key
// must be set; otherwise the store runs unconfigured.
type StoreConfig struct {
	URL             string        `mapstructure:"url"`
	Key             string        `mapstructure:"key"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	Migrate         bool          `mapstructure:"migrate"`
	SkipProcedures  bool          `mapstructure:"skip_procedures"`
	NotifyChannel   string        `mapstructure:"notify_channel"`
}

// CacheConfig selects the local key-value cache.
type CacheConfig struct {
	Driver string      `mapstructure:"driver"` // memory, file or redis
	Path   string      `mapstructure:"path"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings for the redis cache driver.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Prefix      string        `mapstructure:"prefix"`
}

// HTTPConfig holds the API listener settings.
type HTTPConfig struct {
	Addr           string `mapstructure:"addr"`
	AllowedOrigins string `mapstructure:"allowed_origins"`
}

// SignalConfig holds signaling broker and client settings.
type SignalConfig struct {
	Addr         string        `mapstructure:"addr"`
	URL          string        `mapstructure:"url"`
	ICEServers   []string      `mapstructure:"ice_servers"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// RoomsConfig holds room liveness settings.
type RoomsConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	ReapInterval      time.Duration `mapstructure:"reap_interval"`
	// Timezone buckets monthly statistics, e.g. "Asia/Seoul".
	Timezone string `mapstructure:"timezone"`
}

// InviteConfig holds private room invite signing settings.
type InviteConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// AdminConfig holds bcrypt hashes of accepted admin API keys.
type AdminConfig struct {
	KeyHashes []string `mapstructure:"key_hashes"`
}

// BotConfig holds the optional Telegram lobby announcer settings.
type BotConfig struct {
	Token         string  `mapstructure:"token"`
	AnnounceChats []int64 `mapstructure:"announce_chats"`
	Whitelist     []int64 `mapstructure:"whitelist"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Configured reports whether both URL and key are present.
func (s *StoreConfig) Configured() bool {
	return strings.TrimSpace(s.URL) != "" && strings.TrimSpace(s.Key) != ""
}

// DSN returns the connection string with the key injected as the password.
func (s *StoreConfig) DSN() (string, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse store url: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported store url scheme %q", u.Scheme)
	}
	user := "postgres"
	if u.User != nil && u.User.Username() != "" {
		user = u.User.Username()
	}
	u.User = url.UserPassword(user, s.Key)
	return u.String(), nil
}

// Host returns the store host for logging, without credentials.
func (s *StoreConfig) Host() string {
	u, err := url.Parse(s.URL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Location loads the statistics timezone, falling back to UTC.
func (r *RoomsConfig) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", r.Timezone).Msg("Unknown timezone, using UTC")
		return time.UTC
	}
	return loc
}

// Enabled reports whether the Telegram announcer should run.
func (b *BotConfig) Enabled() bool {
	return b.Token != ""
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory. A .env file in the
// working directory, if present, is loaded into the environment first.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g., STORE_URL, STORE_KEY, CACHE_DRIVER
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional - env vars can provide all config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values. Every key needs a default
// so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("store.url", "")
	v.SetDefault("store.key", "")
	v.SetDefault("store.pool_size", 10)
	v.SetDefault("store.connect_timeout", "10s")
	v.SetDefault("store.max_conn_lifetime", "1h")
	v.SetDefault("store.max_conn_idle_time", "30m")
	v.SetDefault("store.migrate", true)
	v.SetDefault("store.skip_procedures", false)
	v.SetDefault("store.notify_channel", "row_changes")

	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.path", "./data/cache")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.pool_size", 10)
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.prefix", "gamehub:")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", "*")

	v.SetDefault("signal.addr", ":9000")
	v.SetDefault("signal.url", "ws://localhost:9000/peerjs")
	v.SetDefault("signal.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("signal.ping_interval", "20s")

	v.SetDefault("rooms.heartbeat_interval", "30s")
	v.SetDefault("rooms.stale_after", "5m")
	v.SetDefault("rooms.reap_interval", "1m")
	v.SetDefault("rooms.timezone", "UTC")

	v.SetDefault("invite.secret", "")
	v.SetDefault("invite.ttl", "24h")

	v.SetDefault("admin.key_hashes", []string{})

	v.SetDefault("bot.token", "")
	v.SetDefault("bot.announce_chats", []int64{})
	v.SetDefault("bot.whitelist", []int64{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

// IsChatAllowed checks if a chat ID is in the bot whitelist.
func (c *Config) IsChatAllowed(chatID int64) bool {
	// Empty whitelist means all chats are allowed
	if len(c.Bot.Whitelist) == 0 {
		return true
	}
	for _, id := range c.Bot.Whitelist {
		if id == chatID {
			return true
		}
	}
	return false
}

// SetupLogging configures the global zerolog logger.
func SetupLogging(cfg LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
