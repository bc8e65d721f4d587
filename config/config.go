package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Quest    QuestConfig    `mapstructure:"quest"`
	QuestLog QuestLogConfig `mapstructure:"questlog"`
	Security SecurityConfig `mapstructure:"security"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
	Name     string `mapstructure:"name"` // recorded in every quest log row
}

type LogConfig struct {
	File       string `mapstructure:"file"` // empty disables file output
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // memory | sqlite | mysql | postgres
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	PostgresDSN  string        `mapstructure:"postgres_dsn"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	ConnMaxLife  time.Duration `mapstructure:"conn_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type QuestConfig struct {
	DefinitionsPath string `mapstructure:"definitions_path"`
	// LoadRetries is the number of extra load attempts after the first one fails.
	LoadRetries  int           `mapstructure:"load_retries"`
	LoadTimeout  time.Duration `mapstructure:"load_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	SaveInterval time.Duration `mapstructure:"save_interval"`
	LoopBuffer   int           `mapstructure:"loop_buffer"`

	StageEndRewardsMessage bool `mapstructure:"stage_end_rewards_message"`
	QuestUpdateMessage     bool `mapstructure:"quest_update_message"`
}

type QuestLogConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Buffer        int           `mapstructure:"buffer"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type SecurityConfig struct {
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	// AdminNetworks restricts the admin endpoints to these addresses or CIDR prefixes.
	AdminNetworks []string `mapstructure:"admin_networks"`
}

// Attempts returns how many times an account load is tried before giving up.
func (c QuestConfig) Attempts() int {
	if c.LoadRetries < 0 {
		return 1
	}
	return c.LoadRetries + 1
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration produced when no file overrides anything.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.name", "questkeeper")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/quests.db")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("quest.definitions_path", "./config/quests.yaml")
	v.SetDefault("quest.load_retries", 1)
	v.SetDefault("quest.load_timeout", "5s")
	v.SetDefault("quest.write_timeout", "10s")
	v.SetDefault("quest.save_interval", "5m")
	v.SetDefault("quest.loop_buffer", 1024)
	v.SetDefault("quest.stage_end_rewards_message", true)
	v.SetDefault("quest.quest_update_message", true)
	v.SetDefault("questlog.enabled", true)
	v.SetDefault("questlog.buffer", 1024)
	v.SetDefault("questlog.batch_size", 100)
	v.SetDefault("questlog.flush_interval", "2s")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
}
