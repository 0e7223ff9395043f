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
	Location LocationConfig `mapstructure:"location"`
	Calls    CallsConfig    `mapstructure:"calls"`
	WS       WSConfig       `mapstructure:"ws"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	Mode          string        `mapstructure:"mode"` // sqlite | mysql | postgres
	SQLitePath    string        `mapstructure:"sqlite_path"`
	MySQLDSN      string        `mapstructure:"mysql_dsn"`
	MySQLReplicas []string      `mapstructure:"mysql_replicas"`
	PostgresDSN   string        `mapstructure:"postgres_dsn"`
	MaxOpen       int           `mapstructure:"max_open"`
	MaxIdle       int           `mapstructure:"max_idle"`
	MaxLife       time.Duration `mapstructure:"max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
	NameTTL         time.Duration `mapstructure:"name_ttl"` // speaker display-name cache
}

type SecurityConfig struct {
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the WebSocket/SSE origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AdminIPs       []string `mapstructure:"admin_ips"`
}

type LocationConfig struct {
	SearchRadiusKm     float64 `mapstructure:"search_radius_km"`
	MaxChannelRadiusKm float64 `mapstructure:"max_channel_radius_km"`
}

type CallsConfig struct {
	RequireFriendship   bool          `mapstructure:"require_friendship"`
	GroupStartLockTTL   time.Duration `mapstructure:"group_start_lock_ttl"`
	StaleAfter          time.Duration `mapstructure:"stale_after"`
	StaleReportInterval time.Duration `mapstructure:"stale_report_interval"`
}

type WSConfig struct {
	SendBuffer   int           `mapstructure:"send_buffer"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
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
	cfg.fillDurations(Default())
	return cfg, nil
}

// fillDurations replaces zero or negative durations with def's. Tickers and
// timeouts built from them would otherwise panic or fire immediately.
func (c *Config) fillDurations(def *Config) {
	for _, d := range []struct{ dst, src *time.Duration }{
		{&c.Database.MaxLife, &def.Database.MaxLife},
		{&c.Cache.LocalGCInterval, &def.Cache.LocalGCInterval},
		{&c.Cache.NameTTL, &def.Cache.NameTTL},
		{&c.Calls.GroupStartLockTTL, &def.Calls.GroupStartLockTTL},
		{&c.Calls.StaleAfter, &def.Calls.StaleAfter},
		{&c.Calls.StaleReportInterval, &def.Calls.StaleReportInterval},
		{&c.WS.PingInterval, &def.WS.PingInterval},
		{&c.WS.ReadTimeout, &def.WS.ReadTimeout},
	} {
		if *d.dst <= 0 {
			*d.dst = *d.src
		}
	}
}

// Default returns the configuration produced by the defaults alone.
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
	v.SetDefault("database.sqlite_path", "./data/walkietalkie.db")
	v.SetDefault("database.max_open", 50)
	v.SetDefault("database.max_idle", 10)
	v.SetDefault("database.max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("cache.name_ttl", "5m")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("location.search_radius_km", 1.0)
	v.SetDefault("location.max_channel_radius_km", 10.0)
	v.SetDefault("calls.require_friendship", false)
	v.SetDefault("calls.group_start_lock_ttl", "5s")
	v.SetDefault("calls.stale_after", "2h")
	v.SetDefault("calls.stale_report_interval", "10m")
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.ping_interval", "30s")
	v.SetDefault("ws.read_timeout", "60s")
}
