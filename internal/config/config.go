// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Bot      BotConfig      `mapstructure:"bot"`
	Chats    ChatsConfig    `mapstructure:"chats"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Database DatabaseConfig `mapstructure:"database"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Rewards  RewardsConfig  `mapstructure:"rewards"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
}

// BotConfig holds Telegram bot configuration.
type BotConfig struct {
	Token string `mapstructure:"token"`
}

// ChatsConfig holds the community chats members must join.
// Values are either @usernames or numeric chat IDs.
type ChatsConfig struct {
	Channel string `mapstructure:"channel"`
	Group   string `mapstructure:"group"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// OracleConfig holds the token balance lookup configuration.
type OracleConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	Mint        string        `mapstructure:"mint"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Concurrency int           `mapstructure:"concurrency"`
}

// RewardsConfig holds the reward amounts, caps and settlement gates.
// Amounts are in GGRD ledger units; nothing is paid on-chain.
type RewardsConfig struct {
	Task1Reward         int64   `mapstructure:"task1_reward"`
	Task2Reward         int64   `mapstructure:"task2_reward"`
	Task2MaxUsers       int64   `mapstructure:"task2_max_users"`
	Top100Reward        int64   `mapstructure:"top100_reward"`
	Top100Limit         int64   `mapstructure:"top100_limit"`
	HolderThreshold     float64 `mapstructure:"holder_threshold"`
	BiggestHolderReward int64   `mapstructure:"biggest_holder_reward"`
	ReferralReward      int64   `mapstructure:"referral_reward"`
	ReferralPoolCap     int64   `mapstructure:"referral_pool_cap"`
	ReferralPayoutDay   int     `mapstructure:"referral_payout_day"`
	ContestDays         int     `mapstructure:"contest_days"`
}

// SnapshotConfig controls the automatic daily snapshot job.
type SnapshotConfig struct {
	AutoDaily     bool          `mapstructure:"auto_daily"`
	DailyInterval time.Duration `mapstructure:"daily_interval"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase,
	// e.g. BOT_TOKEN, CHATS_CHANNEL, DATABASE_HOST
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "ggrdbot")
	v.SetDefault("database.name", "ggrdbot")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Community chats
	v.SetDefault("chats.channel", "@GGRDofficial")
	v.SetDefault("chats.group", "@GGRDchat")

	// Oracle defaults
	v.SetDefault("oracle.endpoint", "https://api.mainnet-beta.solana.com")
	v.SetDefault("oracle.timeout", "15s")
	v.SetDefault("oracle.concurrency", 4)

	// Reward defaults
	v.SetDefault("rewards.task1_reward", 10)
	v.SetDefault("rewards.task2_reward", 20)
	v.SetDefault("rewards.task2_max_users", 500)
	v.SetDefault("rewards.top100_reward", 50)
	v.SetDefault("rewards.top100_limit", 100)
	v.SetDefault("rewards.holder_threshold", 2500)
	v.SetDefault("rewards.biggest_holder_reward", 20000)
	v.SetDefault("rewards.referral_reward", 5)
	v.SetDefault("rewards.referral_pool_cap", 10000)
	v.SetDefault("rewards.referral_payout_day", 10)
	v.SetDefault("rewards.contest_days", 30)

	// Snapshot job defaults
	v.SetDefault("snapshot.auto_daily", false)
	v.SetDefault("snapshot.daily_interval", "24h")
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}
