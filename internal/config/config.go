package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Download DownloadConfig `mapstructure:"download"`
	Muxer    MuxerConfig    `mapstructure:"muxer"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Governor GovernorConfig `mapstructure:"governor"`
	Search   SearchConfig   `mapstructure:"search"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug or release
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"` // 为空则只输出到 stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type TelegramConfig struct {
	Token       string        `mapstructure:"token"`
	Username    string        `mapstructure:"username"`
	APIBase     string        `mapstructure:"api_base"`
	ChannelID   int64         `mapstructure:"channel_id"`
	AdminIDs    []int64       `mapstructure:"admin_ids"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
	EditRate    float64       `mapstructure:"edit_rate"` // requests per second
	EditBurst   int           `mapstructure:"edit_burst"`
}

// EngineConfig selects and addresses the fetch daemon.
type EngineConfig struct {
	Kind     string `mapstructure:"kind"` // aria2, qbittorrent, transmission
	URL      string `mapstructure:"url"`
	Secret   string `mapstructure:"secret"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Managed  bool   `mapstructure:"managed"`
	BinPath  string `mapstructure:"bin_path"`
}

type DownloadConfig struct {
	Root            string        `mapstructure:"root"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ProgressStep    float64       `mapstructure:"progress_step"`
	MediaExtensions []string      `mapstructure:"media_extensions"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
}

type MuxerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	FFmpegPath string `mapstructure:"ffmpeg_path"`
	Language   string `mapstructure:"language"`
}

type UploadConfig struct {
	Destination string        `mapstructure:"destination"` // telegram or s3
	Attempts    int           `mapstructure:"attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	S3          S3Config      `mapstructure:"s3"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
}

// WorkerConfig controls worker recycling. TTL counts completed jobs; 0 disables.
type WorkerConfig struct {
	TTL          int           `mapstructure:"ttl"`
	RestartDelay time.Duration `mapstructure:"restart_delay"`
}

type GovernorConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	MemoryThresholdMB   uint64        `mapstructure:"memory_threshold_mb"`
	CriticalThresholdMB uint64        `mapstructure:"critical_threshold_mb"`
	HelperNames         []string      `mapstructure:"helper_names"`
	MaxHelperAge        time.Duration `mapstructure:"max_helper_age"`
	StaleTTL            time.Duration `mapstructure:"stale_ttl"`
}

type SearchConfig struct {
	FeedURL string `mapstructure:"feed_url"`
	Limit   int    `mapstructure:"limit"`
}

var AppConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.path", "data/leech.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 20)
	v.SetDefault("log.max_backups", 3)

	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.username", "LeechBot")
	v.SetDefault("telegram.poll_timeout", 30*time.Second)
	v.SetDefault("telegram.edit_rate", 1.0)
	v.SetDefault("telegram.edit_burst", 3)

	v.SetDefault("engine.kind", "aria2")
	v.SetDefault("engine.url", "http://localhost:6800/jsonrpc")
	v.SetDefault("engine.managed", false)
	v.SetDefault("engine.bin_path", "aria2c")

	v.SetDefault("download.root", "./downloads")
	v.SetDefault("download.poll_interval", 5*time.Second)
	v.SetDefault("download.progress_step", 5.0)
	v.SetDefault("download.media_extensions", []string{".mkv", ".mp4", ".avi", ".webm"})
	v.SetDefault("download.max_concurrent", 2)

	v.SetDefault("muxer.enabled", true)
	v.SetDefault("muxer.ffmpeg_path", "ffmpeg")
	v.SetDefault("muxer.language", "eng")

	v.SetDefault("upload.destination", "telegram")
	v.SetDefault("upload.attempts", 3)
	v.SetDefault("upload.backoff", 2*time.Second)
	v.SetDefault("upload.s3.region", "auto")
	v.SetDefault("upload.s3.prefix", "uploads/")

	// 512MB 实例上 20 个任务左右重启一次比较稳
	v.SetDefault("worker.ttl", 20)
	v.SetDefault("worker.restart_delay", 5*time.Second)

	v.SetDefault("governor.interval", 60*time.Second)
	v.SetDefault("governor.memory_threshold_mb", 400)
	v.SetDefault("governor.critical_threshold_mb", 480)
	v.SetDefault("governor.helper_names", []string{"chrome", "chromium", "headless_shell", "ffmpeg"})
	v.SetDefault("governor.max_helper_age", 10*time.Minute)
	v.SetDefault("governor.stale_ttl", 2*time.Hour)

	v.SetDefault("search.feed_url", "https://nyaa.si/?page=rss&c=1_2&f=0&q=%s")
	v.SetDefault("search.limit", 10)
}

// LoadConfig reads config.yaml from the working directory (and configPath, if
// given), applies LEECH_* environment overrides and stores the result in
// AppConfig.
func LoadConfig(configPath string) error {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}

	// 环境变量替换 (使用 LEECH_ 前缀)
	// 比如 LEECH_TELEGRAM_TOKEN=xxx
	v.SetEnvPrefix("LEECH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay, use defaults
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	AppConfig = cfg
	return nil
}

// Validate rejects values the rest of the program cannot work with.
func (c *Config) Validate() error {
	switch c.Engine.Kind {
	case "aria2", "qbittorrent", "transmission":
	default:
		return fmt.Errorf("unsupported engine.kind %q", c.Engine.Kind)
	}
	switch c.Upload.Destination {
	case "telegram", "s3":
	default:
		return fmt.Errorf("unsupported upload.destination %q", c.Upload.Destination)
	}
	if c.Download.Root == "" {
		return fmt.Errorf("download.root must not be empty")
	}
	if c.Download.PollInterval <= 0 {
		return fmt.Errorf("download.poll_interval must be positive")
	}
	if c.Upload.Attempts < 1 {
		c.Upload.Attempts = 1
	}
	if c.Download.MaxConcurrent < 1 {
		c.Download.MaxConcurrent = 1
	}
	return nil
}

// IsAdmin reports whether userID is listed in telegram.admin_ids.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Telegram.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}
