// Package config provides configuration management for vodarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort        = 8080
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxOpenConns      = 25
	defaultMaxIdleConns      = 10
	defaultConnMaxIdleTime   = 30 * time.Minute
	defaultDownloaderTimeout = 10 * time.Second
	defaultRPCRetryAttempts  = 3
	defaultMonitorInterval   = 10 * time.Second
	defaultQueuePopTimeout   = 10 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultSegmentSeconds    = 10
	defaultMaxParallel       = 2
	defaultCRF               = 28
	defaultPreset            = "veryfast"
	defaultProgressInterval  = 5 * time.Second
	defaultMinCompleteFrac   = 0.05
	defaultProgressiveBytes  = 100 * 1024 * 1024 // 100 MiB
	defaultMinVideoBytes     = 10 * 1024 * 1024  // 10 MiB
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Downloader DownloaderConfig `mapstructure:"downloader"`
	Media      MediaConfig      `mapstructure:"media"`
	Transcode  TranscodeConfig  `mapstructure:"transcode"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// RedisConfig holds the connection settings for the shared key-value store
// backing the job queue, live status keys, and the worker heartbeat.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DownloaderConfig holds settings for the external downloader's JSON-RPC
// endpoint (aria2-compatible).
type DownloaderConfig struct {
	URL           string        `mapstructure:"url"`
	Secret        string        `mapstructure:"secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	DownloadDir   string        `mapstructure:"download_dir"`
}

// MediaConfig holds the media root layout and the download monitor tuning.
type MediaConfig struct {
	// Root is the directory under which per-item HLS output directories live.
	Root string `mapstructure:"root"`
	// MonitorInterval is the download monitor tick interval.
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	// ProgressiveThreshold is the absolute downloaded-bytes threshold beyond
	// which a partially downloaded file becomes eligible for transcoding.
	// Supports human-readable values like "100MB".
	ProgressiveThreshold ByteSize `mapstructure:"progressive_threshold"`
	// MinCompleteFraction is the fractional alternative to the absolute
	// threshold; whichever is larger wins.
	MinCompleteFraction float64 `mapstructure:"min_complete_fraction"`
	// MinVideoSize is the minimum size for a file to be considered the
	// item's video during discovery.
	MinVideoSize ByteSize `mapstructure:"min_video_size"`
}

// Transcode output modes.
const (
	// OutputModeHLS produces a multi-rung HLS ladder per item.
	OutputModeHLS = "hls"
	// OutputModeMP4 produces one progressive MP4 per item instead.
	OutputModeMP4 = "mp4"
)

// TranscodeConfig holds transcode worker configuration.
type TranscodeConfig struct {
	FFmpegPath        string        `mapstructure:"ffmpeg_path"`  // empty = auto-detect
	FFprobePath       string        `mapstructure:"ffprobe_path"` // empty = auto-detect
	OutputMode        string        `mapstructure:"output_mode"`  // hls, mp4
	SegmentSeconds    int           `mapstructure:"segment_seconds"`
	Preset            string        `mapstructure:"preset"`
	CRF               int           `mapstructure:"crf"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	EnableThumbnails  bool          `mapstructure:"enable_thumbnails"`
	QueuePopTimeout   time.Duration `mapstructure:"queue_pop_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ProgressInterval  time.Duration `mapstructure:"progress_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with VODARR_ and use underscores for
// nesting. Example: VODARR_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/vodarr")
		v.AddConfigPath("$HOME/.vodarr")
	}

	v.SetEnvPrefix("VODARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	// The text-unmarshaller hook lets ByteSize fields parse "100MB" style
	// values from files and environment variables.
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "vodarr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Downloader defaults
	v.SetDefault("downloader.url", "http://localhost:6800/jsonrpc")
	v.SetDefault("downloader.secret", "")
	v.SetDefault("downloader.timeout", defaultDownloaderTimeout)
	v.SetDefault("downloader.retry_attempts", defaultRPCRetryAttempts)
	v.SetDefault("downloader.download_dir", "./downloads")

	// Media defaults
	v.SetDefault("media.root", "./media")
	v.SetDefault("media.monitor_interval", defaultMonitorInterval)
	v.SetDefault("media.progressive_threshold", defaultProgressiveBytes)
	v.SetDefault("media.min_complete_fraction", defaultMinCompleteFrac)
	v.SetDefault("media.min_video_size", defaultMinVideoBytes)

	// Transcode defaults
	v.SetDefault("transcode.ffmpeg_path", "")
	v.SetDefault("transcode.ffprobe_path", "")
	v.SetDefault("transcode.output_mode", OutputModeHLS)
	v.SetDefault("transcode.segment_seconds", defaultSegmentSeconds)
	v.SetDefault("transcode.preset", defaultPreset)
	v.SetDefault("transcode.crf", defaultCRF)
	v.SetDefault("transcode.max_parallel", defaultMaxParallel)
	v.SetDefault("transcode.enable_thumbnails", true)
	v.SetDefault("transcode.queue_pop_timeout", defaultQueuePopTimeout)
	v.SetDefault("transcode.heartbeat_interval", defaultHeartbeatInterval)
	v.SetDefault("transcode.progress_interval", defaultProgressInterval)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Redis.Addr == "" {
		return errors.New("redis.addr must be set")
	}
	if c.Downloader.URL == "" {
		return errors.New("downloader.url must be set")
	}
	if c.Media.Root == "" {
		return errors.New("media.root must be set")
	}
	if c.Media.MonitorInterval <= 0 {
		return fmt.Errorf("invalid monitor interval: %s", c.Media.MonitorInterval)
	}
	if c.Media.MinCompleteFraction < 0 || c.Media.MinCompleteFraction > 1 {
		return fmt.Errorf("min_complete_fraction must be in [0,1]: %f", c.Media.MinCompleteFraction)
	}
	switch c.Transcode.OutputMode {
	case "", OutputModeHLS, OutputModeMP4:
	default:
		return fmt.Errorf("unsupported transcode output mode: %s", c.Transcode.OutputMode)
	}
	if c.Transcode.SegmentSeconds <= 0 {
		return fmt.Errorf("invalid segment duration: %d", c.Transcode.SegmentSeconds)
	}
	if c.Transcode.MaxParallel < 1 {
		return fmt.Errorf("max_parallel must be >= 1: %d", c.Transcode.MaxParallel)
	}
	if c.Transcode.CRF < 0 || c.Transcode.CRF > 51 {
		return fmt.Errorf("crf must be in [0,51]: %d", c.Transcode.CRF)
	}

	return nil
}
