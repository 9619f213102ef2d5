package conf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lk2023060901/vidgrab-bot/internal/pkg/database"
	"github.com/lk2023060901/vidgrab-bot/internal/pkg/logger"
	"github.com/lk2023060901/vidgrab-bot/internal/pkg/redis"
	"github.com/lk2023060901/vidgrab-bot/internal/pkg/workerpool"
	"github.com/spf13/viper"
)

const envPrefix = "VIDGRAB"

type Config struct {
	Bot        BotConfig         `mapstructure:"bot"`
	Download   DownloadConfig    `mapstructure:"download"`
	Limits     LimitsConfig      `mapstructure:"limits"`
	Retention  RetentionConfig   `mapstructure:"retention"`
	Server     ServerConfig      `mapstructure:"server"`
	Database   database.Config   `mapstructure:"database"`
	Redis      RedisConfig       `mapstructure:"redis"`
	Log        logger.Config     `mapstructure:"log"`
	WorkerPool workerpool.Config `mapstructure:"workerpool"`
}

type BotConfig struct {
	Token       string  `mapstructure:"token"`
	AppID       int     `mapstructure:"app_id"`
	AppHash     string  `mapstructure:"app_hash"`
	SessionFile string  `mapstructure:"session_file"`
	AdminIDs    []int64 `mapstructure:"admin_ids"`
}

type DownloadConfig struct {
	Dir       string            `mapstructure:"dir"`
	Binary    string            `mapstructure:"binary"`
	Timeout   time.Duration     `mapstructure:"timeout"`
	Domains   []string          `mapstructure:"domains"`
	Cookies   map[string]string `mapstructure:"cookies"` // platform -> cookie file
	MaxMB     int64             `mapstructure:"max_mb"`
	PremiumMB int64             `mapstructure:"premium_mb"`
}

type LimitsConfig struct {
	Backend       string        `mapstructure:"backend"` // memory, redis
	MaxRequests   int           `mapstructure:"max_requests"`
	Period        time.Duration `mapstructure:"period"`
	MaxConcurrent int64         `mapstructure:"max_concurrent"`
}

type RetentionConfig struct {
	Days          int           `mapstructure:"days"`
	Interval      time.Duration `mapstructure:"interval"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

type ServerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Mode       string `mapstructure:"mode"` // gin mode: debug, release, test
	AdminToken string `mapstructure:"admin_token"`
}

type RedisConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	redis.Config `mapstructure:",squash"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoadConfig reads path (if non-empty) and VIDGRAB_* environment overrides,
// e.g. VIDGRAB_BOT_TOKEN for bot.token.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.token", "")
	v.SetDefault("bot.app_id", 0)
	v.SetDefault("bot.app_hash", "")
	v.SetDefault("bot.session_file", "data/session.json")
	v.SetDefault("bot.admin_ids", []int64{})

	v.SetDefault("download.dir", "downloads")
	v.SetDefault("download.binary", "yt-dlp")
	v.SetDefault("download.timeout", 30*time.Minute)
	v.SetDefault("download.domains", []string{"youtube", "youtu", "tiktok", "instagram"})
	v.SetDefault("download.cookies", map[string]string{})
	v.SetDefault("download.max_mb", 50)
	v.SetDefault("download.premium_mb", 4000)

	v.SetDefault("limits.backend", "memory")
	v.SetDefault("limits.max_requests", 5)
	v.SetDefault("limits.period", time.Minute)
	v.SetDefault("limits.max_concurrent", 3)

	v.SetDefault("retention.days", 30)
	v.SetDefault("retention.interval", 24*time.Hour)
	v.SetDefault("retention.retry_interval", time.Hour)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.admin_token", "")

	db := database.DefaultConfig()
	v.SetDefault("database.driver", db.Driver)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", db.Host)
	v.SetDefault("database.port", db.Port)
	v.SetDefault("database.user", db.User)
	v.SetDefault("database.password", db.Password)
	v.SetDefault("database.dbname", db.DBName)
	v.SetDefault("database.sslmode", db.SSLMode)
	v.SetDefault("database.timezone", db.Timezone)
	v.SetDefault("database.maxidleconns", db.MaxIdleConns)
	v.SetDefault("database.maxopenconns", db.MaxOpenConns)
	v.SetDefault("database.connmaxlifetime", db.ConnMaxLifetime)
	v.SetDefault("database.connmaxidletime", db.ConnMaxIdleTime)
	v.SetDefault("database.loglevel", db.LogLevel)
	v.SetDefault("database.slowthreshold", db.SlowThreshold)
	v.SetDefault("database.preparestmt", db.PrepareStmt)
	v.SetDefault("database.automigrate", db.AutoMigrate)

	rd := redis.DefaultConfig()
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.mode", string(rd.Mode))
	v.SetDefault("redis.master_addr", rd.MasterAddr)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", rd.DB)
	v.SetDefault("redis.pool_size", rd.PoolSize)
	v.SetDefault("redis.min_idle_conns", rd.MinIdleConns)
	v.SetDefault("redis.dial_timeout", rd.DialTimeout)
	v.SetDefault("redis.read_timeout", rd.ReadTimeout)
	v.SetDefault("redis.write_timeout", rd.WriteTimeout)
	v.SetDefault("redis.pool_timeout", rd.PoolTimeout)
	v.SetDefault("redis.max_retries", rd.MaxRetries)

	lg := logger.DefaultConfig()
	v.SetDefault("log.level", lg.Level)
	v.SetDefault("log.format", lg.Format)
	v.SetDefault("log.output", lg.Output)
	v.SetDefault("log.enablecaller", lg.EnableCaller)
	v.SetDefault("log.enablestacktrace", lg.EnableStacktrace)
	v.SetDefault("log.file.filename", lg.File.Filename)
	v.SetDefault("log.file.maxsize", lg.File.MaxSize)
	v.SetDefault("log.file.maxage", lg.File.MaxAge)
	v.SetDefault("log.file.maxbackups", lg.File.MaxBackups)
	v.SetDefault("log.file.compress", lg.File.Compress)

	wp := workerpool.DefaultConfig()
	v.SetDefault("workerpool.workers", wp.Workers)
	v.SetDefault("workerpool.non_blocking", wp.NonBlocking)
	v.SetDefault("workerpool.expiry_duration", wp.ExpiryDuration)
	v.SetDefault("workerpool.shutdown_timeout", wp.ShutdownTimeout)
}

// Validate checks the settings the bot cannot start without.
func (c *Config) Validate() error {
	if c.Bot.Token == "" {
		return errors.New("bot.token is required")
	}
	if c.Bot.AppID == 0 || c.Bot.AppHash == "" {
		return errors.New("bot.app_id and bot.app_hash are required")
	}
	if c.Database.DSN == "" && c.Database.Host == "" {
		return errors.New("database.dsn or database.host is required")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if len(c.Download.Domains) == 0 {
		return errors.New("download.domains must not be empty")
	}
	if c.Download.MaxMB <= 0 || c.Download.PremiumMB <= 0 {
		return errors.New("download size ceilings must be > 0")
	}
	if c.Limits.MaxRequests <= 0 || c.Limits.Period <= 0 {
		return errors.New("limits.max_requests and limits.period must be > 0")
	}
	if c.Limits.MaxConcurrent <= 0 {
		return errors.New("limits.max_concurrent must be > 0")
	}
	switch c.Limits.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return errors.New("limits.backend redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("unknown limits.backend %q", c.Limits.Backend)
	}
	if c.Redis.Enabled {
		if err := c.Redis.Config.Validate(); err != nil {
			return err
		}
	}
	if c.Retention.Days <= 0 || c.Retention.Interval <= 0 || c.Retention.RetryInterval <= 0 {
		return errors.New("retention settings must be > 0")
	}
	if c.Server.Enabled && c.Server.AdminToken == "" {
		return errors.New("server.admin_token is required when server is enabled")
	}
	return nil
}

