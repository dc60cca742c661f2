// SPDX-License-Identifier: MIT

// Package config loads the daemon configuration from an optional YAML file
// overlaid by environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every runtime setting of the daemon.
type Config struct {
	// Chat identity.
	TelegramToken string `yaml:"telegram_token"`
	APIID         int    `yaml:"api_id"`
	APIHash       string `yaml:"api_hash"`
	BotUsername   string `yaml:"bot_username"`

	// Authorization.
	OwnerID  int64   `yaml:"owner_id"`
	OwnerIDs []int64 `yaml:"owner_ids"`

	// Channels. MainChannel is the public announcement feed, DBChannel the
	// durable storage channel behind share tokens.
	MainChannel int64 `yaml:"main_channel"`
	DBChannel   int64 `yaml:"db_channel"`
	LogChannel  int64 `yaml:"log_channel"`

	BotWorkers int `yaml:"bot_workers"`

	// Download daemon (aria2 JSON-RPC).
	Aria2Host    string        `yaml:"aria2_host"`
	Aria2Port    int           `yaml:"aria2_port"`
	Aria2Secret  string        `yaml:"aria2_secret"`
	Aria2Poll    time.Duration `yaml:"aria2_poll"`
	DownloadDir  string        `yaml:"download_dir"`

	// Read-only assets.
	Thumbnail   string `yaml:"thumbnail"`
	FontPath    string `yaml:"font_path"`
	DisplayFont string `yaml:"display_font"`
	TrackTitle  string `yaml:"track_title"`
	StickerID   string `yaml:"sticker_id"`

	// Operational.
	Port        string `yaml:"port"`
	LogFileName string `yaml:"log_file_name"`
	WorkDir     string `yaml:"work_dir"`

	// Pipeline limits.
	MuxPermits    int64         `yaml:"mux_permits"`
	MuxTimeout    time.Duration `yaml:"mux_timeout"`
	UploadTimeout time.Duration `yaml:"upload_timeout"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	ReapInterval  time.Duration `yaml:"reap_interval"`

	// Feed watcher.
	RSSURL        string        `yaml:"rss_url"`
	CheckInterval time.Duration `yaml:"check_interval"`
	FeedChannels  []int64       `yaml:"feed_channels"`
	FeedDelay     time.Duration `yaml:"feed_delay"`
	FeedEnabled   bool          `yaml:"feed_enabled"`

	// Feed dedup store.
	DedupBackend string `yaml:"dedup_backend"`
	DedupPath    string `yaml:"dedup_path"`
	RedisAddr    string `yaml:"redis_addr"`
}

func defaults() Config {
	return Config{
		TelegramToken: "0",
		BotUsername:   "HeavenlySubsBot",
		BotWorkers:    1,
		Aria2Host:     "http://localhost",
		Aria2Port:     6800,
		Aria2Poll:     time.Second,
		DownloadDir:   "downloads",
		Thumbnail:     "assets/thumbnail.jpg",
		FontPath:      "assets/OathBold.otf",
		DisplayFont:   "Oath-Bold",
		TrackTitle:    "HeavenlySubs",
		Port:          "8080",
		LogFileName:   "submux.log",
		WorkDir:       os.TempDir(),
		MuxPermits:    1,
		MuxTimeout:    30 * time.Minute,
		UploadTimeout: 30 * time.Minute,
		SessionTTL:    30 * time.Minute,
		ReapInterval:  60 * time.Second,
		CheckInterval: 60 * time.Second,
		FeedDelay:     5 * time.Second,
		FeedEnabled:   true,
		DedupBackend:  "badger",
		DedupPath:     "data/dedup",
	}
}

// Load builds the configuration: hard defaults, then the optional YAML file
// named by SUBMUX_CONFIG, then environment variables on top.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("SUBMUX_CONFIG"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-chosen path
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config) {
	cfg.TelegramToken = ParseString("TELEGRAM_TOKEN", cfg.TelegramToken)
	cfg.APIID = ParseInt("API_ID", cfg.APIID)
	cfg.APIHash = ParseString("API_HASH", cfg.APIHash)
	cfg.BotUsername = ParseString("BOT_USERNAME", cfg.BotUsername)

	cfg.OwnerID = ParseInt64("OWNER_ID", cfg.OwnerID)
	cfg.OwnerIDs = ParseInt64List("OWNER_IDS", cfg.OwnerIDs)

	cfg.MainChannel = ParseInt64("MAIN_CHANNEL", cfg.MainChannel)
	cfg.DBChannel = ParseInt64("DB_CHANNEL", cfg.DBChannel)
	cfg.LogChannel = ParseInt64("LOG_CHANNEL", cfg.LogChannel)

	cfg.BotWorkers = ParseInt("TG_BOT_WORKERS", cfg.BotWorkers)

	cfg.Aria2Host = ParseString("ARIA2_HOST", cfg.Aria2Host)
	cfg.Aria2Port = ParseInt("ARIA2_PORT", cfg.Aria2Port)
	cfg.Aria2Secret = ParseString("ARIA2_SECRET", cfg.Aria2Secret)
	cfg.DownloadDir = ParseString("DOWNLOAD_DIR", cfg.DownloadDir)

	cfg.Thumbnail = ParseString("THUMBNAIL", cfg.Thumbnail)
	cfg.FontPath = ParseString("FONT_PATH", cfg.FontPath)
	cfg.DisplayFont = ParseString("DISPLAY_FONT", cfg.DisplayFont)
	cfg.StickerID = ParseString("STICKER_ID", cfg.StickerID)

	cfg.Port = ParseString("PORT", cfg.Port)
	cfg.LogFileName = ParseString("LOG_FILE_NAME", cfg.LogFileName)
	cfg.WorkDir = ParseString("WORK_DIR", cfg.WorkDir)

	cfg.RSSURL = ParseString("RSS_URL", cfg.RSSURL)
	cfg.CheckInterval = ParseDuration("CHECK_INTERVAL", cfg.CheckInterval)
	cfg.FeedChannels = ParseInt64List("FEED_CHANNELS", cfg.FeedChannels)
	cfg.FeedEnabled = ParseBool("FEED_ENABLED", cfg.FeedEnabled)

	cfg.DedupBackend = ParseString("DEDUP_BACKEND", cfg.DedupBackend)
	cfg.DedupPath = ParseString("DEDUP_PATH", cfg.DedupPath)
	cfg.RedisAddr = ParseString("REDIS_ADDR", cfg.RedisAddr)
}

// Owners returns the full authorized set: OWNER_IDS plus OWNER_ID.
func (c Config) Owners() map[int64]struct{} {
	set := make(map[int64]struct{}, len(c.OwnerIDs)+1)
	for _, id := range c.OwnerIDs {
		set[id] = struct{}{}
	}
	if c.OwnerID != 0 {
		set[c.OwnerID] = struct{}{}
	}
	return set
}

// Aria2Endpoint returns the JSON-RPC endpoint URL of the download daemon.
func (c Config) Aria2Endpoint() string {
	return fmt.Sprintf("%s:%d/jsonrpc", c.Aria2Host, c.Aria2Port)
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if len(c.Owners()) == 0 {
		return fmt.Errorf("no owners configured: set OWNER_ID or OWNER_IDS")
	}
	if c.DBChannel >= 0 {
		return fmt.Errorf("DB_CHANNEL must be a negative channel identifier, got %d", c.DBChannel)
	}
	if c.MainChannel > 0 {
		return fmt.Errorf("MAIN_CHANNEL must be a negative channel identifier or 0, got %d", c.MainChannel)
	}
	if _, err := url.Parse(c.Aria2Host); err != nil {
		return fmt.Errorf("ARIA2_HOST: %w", err)
	}
	if c.MuxPermits < 1 {
		return fmt.Errorf("mux_permits must be >= 1, got %d", c.MuxPermits)
	}
	switch c.DedupBackend {
	case "memory", "badger", "redis":
	default:
		return fmt.Errorf("unknown dedup backend: %s", c.DedupBackend)
	}
	return nil
}
