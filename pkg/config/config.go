package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the static configuration of the application. Mutable operator
// settings (Telegram credentials, destination, pending login state) live in
// the settings store instead, so they survive edits made at runtime.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Media  MediaConfig  `yaml:"media"`
}

// ServerConfig configures the HTTP console.
type ServerConfig struct {
	Address     string `yaml:"address"`
	AppPassword string `yaml:"app_password"`
	JWTSecret   string `yaml:"jwt_secret"`
}

// DataConfig configures durable storage locations and the ledger cap.
type DataConfig struct {
	Dir         string `yaml:"dir"`
	MaxMessages int    `yaml:"max_messages"`
}

// MediaConfig configures redaction and the external transcoder.
// TranscodeTimeout is a time.ParseDuration string, e.g. "2m".
type MediaConfig struct {
	BlurRadius       float64 `yaml:"blur_radius"`
	WatermarkScale   float64 `yaml:"watermark_scale"`
	WatermarkMargin  float64 `yaml:"watermark_margin"`
	FFmpegBin        string  `yaml:"ffmpeg_bin"`
	TranscodeTimeout string  `yaml:"transcode_timeout"`
}

const (
	defaultAddress          = ":5000"
	defaultDataDir          = "data"
	defaultMaxMessages      = 120
	defaultBlurRadius       = 24
	defaultWatermarkScale   = 0.25
	defaultWatermarkMargin  = 0.03
	defaultFFmpegBin        = "ffmpeg"
	defaultTranscodeTimeout = "2m"
)

// Load reads the configuration from the given path and applies defaults for
// anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if _, err := time.ParseDuration(cfg.Media.TranscodeTimeout); err != nil {
		return nil, fmt.Errorf("parse config: transcode_timeout: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = defaultAddress
	}
	if c.Data.Dir == "" {
		c.Data.Dir = defaultDataDir
	}
	if c.Data.MaxMessages <= 0 {
		c.Data.MaxMessages = defaultMaxMessages
	}
	if c.Media.BlurRadius <= 0 {
		c.Media.BlurRadius = defaultBlurRadius
	}
	if c.Media.WatermarkScale <= 0 || c.Media.WatermarkScale > 1 {
		c.Media.WatermarkScale = defaultWatermarkScale
	}
	if c.Media.WatermarkMargin <= 0 {
		c.Media.WatermarkMargin = defaultWatermarkMargin
	}
	if c.Media.FFmpegBin == "" {
		c.Media.FFmpegBin = defaultFFmpegBin
	}
	if c.Media.TranscodeTimeout == "" {
		c.Media.TranscodeTimeout = defaultTranscodeTimeout
	}
}

// MediaDir is where uploaded and processed media files live.
func (c *Config) MediaDir() string {
	return filepath.Join(c.Data.Dir, "media")
}

// SettingsPath is the operator settings document.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.Data.Dir, "settings.json")
}

// MessagesPath is the message ledger document.
func (c *Config) MessagesPath() string {
	return filepath.Join(c.Data.Dir, "messages.json")
}

// SessionPath is the persisted Telegram session.
func (c *Config) SessionPath() string {
	return filepath.Join(c.Data.Dir, "telegram_session.json")
}

// WatermarkPath is the watermark overlay asset uploaded by the operator.
func (c *Config) WatermarkPath() string {
	return filepath.Join(c.Data.Dir, "watermark.png")
}
