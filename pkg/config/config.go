package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppConfig holds the complete configuration shared by the pushbot binaries.
type AppConfig struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	ServiceName string         `mapstructure:"service_name"`
	Postgres    PostgresConfig `mapstructure:"postgres"`
	Kafka       KafkaConfig    `mapstructure:"kafka"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Discord     DiscordConfig  `mapstructure:"discord"`
	Clash       ClashConfig    `mapstructure:"clash"`
	Bot         BotConfig      `mapstructure:"bot"`
	Feeder      FeederConfig   `mapstructure:"feeder"`
}

type PostgresConfig struct {
	URI             string        `mapstructure:"uri"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type DiscordConfig struct {
	Token string `mapstructure:"token"`
}

// ClashConfig configures the game statistics API client.
type ClashConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Token       string        `mapstructure:"token"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MinInterval time.Duration `mapstructure:"min_interval"`
}

// BotConfig holds the timing and sizing of the bot's background tasks.
type BotConfig struct {
	FlushInterval       time.Duration `mapstructure:"flush_interval"`
	BufferWarnThreshold int           `mapstructure:"buffer_warn_threshold"`
	RefreshInterval     time.Duration `mapstructure:"refresh_interval"`
	FullRefreshInterval time.Duration `mapstructure:"full_refresh_interval"`
	ReportInterval      time.Duration `mapstructure:"report_interval"`
	ShortDelayThreshold time.Duration `mapstructure:"short_delay_threshold"`
	PageSize            int           `mapstructure:"page_size"`
	LeaderboardLimit    int           `mapstructure:"leaderboard_limit"`
	ObservabilityAddr   string        `mapstructure:"observability_addr"`
}

type FeederConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	SnapshotBackend   string        `mapstructure:"snapshot_backend"`
	SnapshotPath      string        `mapstructure:"snapshot_path"`
	SnapshotKey       string        `mapstructure:"snapshot_key"`
	ObservabilityAddr string        `mapstructure:"observability_addr"`
}

// Load loads configuration from an optional file, a .env file and environment variables.
func Load(path string) (*AppConfig, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", time.Hour)
	v.SetDefault("kafka.group_id", "pushbot")
	v.SetDefault("clash.base_url", "https://api.clashofclans.com/v1")
	v.SetDefault("clash.timeout", 10*time.Second)
	v.SetDefault("clash.min_interval", 50*time.Millisecond)
	v.SetDefault("bot.flush_interval", 30*time.Second)
	v.SetDefault("bot.buffer_warn_threshold", 10000)
	v.SetDefault("bot.refresh_interval", 60*time.Second)
	v.SetDefault("bot.full_refresh_interval", 10*time.Minute)
	v.SetDefault("bot.report_interval", 30*time.Second)
	v.SetDefault("bot.short_delay_threshold", 600*time.Second)
	v.SetDefault("bot.page_size", 20)
	v.SetDefault("bot.leaderboard_limit", 100)
	v.SetDefault("bot.observability_addr", ":8081")
	v.SetDefault("feeder.poll_interval", 60*time.Second)
	v.SetDefault("feeder.snapshot_backend", "file")
	v.SetDefault("feeder.snapshot_path", "trophy_snapshot.json")
	v.SetDefault("feeder.snapshot_key", "pushbot:feeder:snapshot")
	v.SetDefault("feeder.observability_addr", ":8080")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	// Nested keys must be bound explicitly for Unmarshal to see them.
	for key, env := range map[string]string{
		"service_name":                "SERVICE_NAME",
		"environment":                 "ENVIRONMENT",
		"log_level":                   "LOG_LEVEL",
		"postgres.uri":                "POSTGRES_URI",
		"postgres.max_conns":          "POSTGRES_MAX_CONNS",
		"postgres.min_conns":          "POSTGRES_MIN_CONNS",
		"postgres.max_conn_lifetime":  "POSTGRES_MAX_CONN_LIFETIME",
		"kafka.brokers":               "KAFKA_BROKERS",
		"kafka.topic":                 "KAFKA_TOPIC",
		"kafka.group_id":              "KAFKA_GROUP_ID",
		"redis.url":                   "REDIS_URL",
		"discord.token":               "DISCORD_TOKEN",
		"clash.base_url":              "CLASH_BASE_URL",
		"clash.token":                 "CLASH_TOKEN",
		"clash.timeout":               "CLASH_TIMEOUT",
		"clash.min_interval":          "CLASH_MIN_INTERVAL",
		"bot.flush_interval":          "BOT_FLUSH_INTERVAL",
		"bot.buffer_warn_threshold":   "BOT_BUFFER_WARN_THRESHOLD",
		"bot.refresh_interval":        "BOT_REFRESH_INTERVAL",
		"bot.full_refresh_interval":   "BOT_FULL_REFRESH_INTERVAL",
		"bot.report_interval":         "BOT_REPORT_INTERVAL",
		"bot.short_delay_threshold":   "BOT_SHORT_DELAY_THRESHOLD",
		"bot.page_size":               "BOT_PAGE_SIZE",
		"bot.leaderboard_limit":       "BOT_LEADERBOARD_LIMIT",
		"bot.observability_addr":      "BOT_OBSERVABILITY_ADDR",
		"feeder.poll_interval":        "FEEDER_POLL_INTERVAL",
		"feeder.snapshot_backend":     "FEEDER_SNAPSHOT_BACKEND",
		"feeder.snapshot_path":        "FEEDER_SNAPSHOT_PATH",
		"feeder.snapshot_key":         "FEEDER_SNAPSHOT_KEY",
		"feeder.observability_addr":   "FEEDER_OBSERVABILITY_ADDR",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Brokers arrive as one comma separated string from the environment.
	brokers := v.GetString("kafka.brokers")
	if brokers != "" && (len(config.Kafka.Brokers) == 0 || strings.Contains(brokers, ",")) {
		config.Kafka.Brokers = strings.Split(brokers, ",")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the settings every pushbot process needs.
func (c *AppConfig) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service_name is required")
	}
	if c.Postgres.URI == "" {
		return errors.New("postgres.uri is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required")
	}
	if c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required")
	}
	if c.Bot.FlushInterval <= 0 || c.Bot.RefreshInterval <= 0 || c.Bot.ReportInterval <= 0 {
		return errors.New("bot intervals must be positive")
	}
	if c.Bot.PageSize < 1 || c.Bot.PageSize > 25 {
		return errors.New("bot.page_size must be between 1 and 25")
	}
	if c.Bot.LeaderboardLimit < 1 {
		return errors.New("bot.leaderboard_limit must be positive")
	}
	if c.Feeder.PollInterval <= 0 {
		return errors.New("feeder.poll_interval must be positive")
	}
	return nil
}

// RequireDiscord checks the settings only the bot process needs.
func (c *AppConfig) RequireDiscord() error {
	if c.Discord.Token == "" {
		return errors.New("discord.token is required")
	}
	return nil
}

// RequireClash checks the game API credentials.
func (c *AppConfig) RequireClash() error {
	if c.Clash.Token == "" {
		return errors.New("clash.token is required")
	}
	if c.Clash.BaseURL == "" {
		return errors.New("clash.base_url is required")
	}
	return nil
}

// RequireSnapshot checks the feeder's snapshot backend settings.
func (c *AppConfig) RequireSnapshot() error {
	switch c.Feeder.SnapshotBackend {
	case "file", "redis":
	default:
		return fmt.Errorf("feeder.snapshot_backend %q is not supported", c.Feeder.SnapshotBackend)
	}
	if c.Feeder.SnapshotBackend == "redis" && c.Redis.URL == "" {
		return errors.New("redis.url is required for the redis snapshot backend")
	}
	return nil
}
