package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Security SecurityConfig `mapstructure:"security"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Presence PresenceConfig `mapstructure:"presence"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Push     PushConfig     `mapstructure:"push"`
	Quests   QuestsConfig   `mapstructure:"quests"`
}

type ServerConfig struct {
	Port  int  `mapstructure:"port"`
	Debug bool `mapstructure:"debug"`
	// AdminIPs may call /api/admin/*. Empty allows every IP.
	AdminIPs []string `mapstructure:"admin_ips"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // memory | sqlite | mysql | postgres
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	PostgresDSN  string        `mapstructure:"postgres_dsn"`
	MaxOpen      int           `mapstructure:"max_open"`
	MaxIdle      int           `mapstructure:"max_idle"`
	MaxLife      time.Duration `mapstructure:"max_life"`
	LocalSQLPath string        `mapstructure:"local_sql_path"` // device-side friend cache
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// SyncConfig tunes friend-list reconciliation and mutations.
type SyncConfig struct {
	// FailPolicy decides what reconcile does when the remote dirty bit
	// cannot be fetched: "fail-closed" keeps the cached lists,
	// "fail-open" treats the cache as stale and reloads.
	FailPolicy      string        `mapstructure:"fail_policy"`
	MutationTimeout time.Duration `mapstructure:"mutation_timeout"`
	MutationRetries int           `mapstructure:"mutation_retries"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	RefreshDelay    time.Duration `mapstructure:"refresh_delay"`
	SearchLimit     int           `mapstructure:"search_limit"`
	LocalCache      string        `mapstructure:"local_cache"` // kv | sql
}

type PresenceConfig struct {
	IdleAfter     time.Duration `mapstructure:"idle_after"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// StorageConfig points at the S3-compatible bucket holding avatars.
type StorageConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

type PushConfig struct {
	KeyPath    string `mapstructure:"key_path"` // .p8 token signing key; empty disables push
	KeyID      string `mapstructure:"key_id"`
	TeamID     string `mapstructure:"team_id"`
	Topic      string `mapstructure:"topic"`
	Production bool   `mapstructure:"production"`
}

type QuestsConfig struct {
	CatalogPath            string        `mapstructure:"catalog_path"` // empty uses the built-in catalog
	RankingRefreshInterval time.Duration `mapstructure:"ranking_refresh_interval"`
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SQUEST")
	v.AutomaticEnv()

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

// Default returns the configuration used when no file is given.
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
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/squest.db")
	v.SetDefault("database.max_open", 50)
	v.SetDefault("database.max_idle", 10)
	v.SetDefault("database.max_life", "1h")
	v.SetDefault("database.local_sql_path", "./data/device_cache.db")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("sync.fail_policy", "fail-closed")
	v.SetDefault("sync.mutation_timeout", "5s")
	v.SetDefault("sync.mutation_retries", 2)
	v.SetDefault("sync.query_timeout", "10s")
	v.SetDefault("sync.refresh_delay", "300ms")
	v.SetDefault("sync.search_limit", 10)
	v.SetDefault("sync.local_cache", "kv")
	v.SetDefault("presence.idle_after", "5m")
	v.SetDefault("presence.sweep_interval", "1m")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("quests.ranking_refresh_interval", "5m")
}
