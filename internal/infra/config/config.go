// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server      ServerConfig            `yaml:"server"`
	Admin       AdminConfig             `yaml:"admin"`
	Stream      StreamConfig            `yaml:"stream"`
	Playback    PlaybackConfig          `yaml:"playback"`
	Transcoder  TranscoderConfig        `yaml:"transcoder"`
	Storage     StorageConfig           `yaml:"storage"`
	Acquisition AcquisitionConfig       `yaml:"acquisition"`
	Fallback    FallbackConfig          `yaml:"fallback"`
	Filters     map[string]FilterConfig `yaml:"filters"`
	Spotify     SpotifyConfig           `yaml:"spotify"`
	Metrics     MetricsConfig           `yaml:"metrics"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:":9126"`
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// AdminConfig represents admin-related configuration.
type AdminConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// StreamConfig represents listener-facing stream configuration.
type StreamConfig struct {
	Name           string `yaml:"name" default:"19radio"`
	Bitrate        int    `yaml:"bitrate" default:"128000" validate:"gt=0"`
	SinkBuffer     int    `yaml:"sink_buffer" default:"64" validate:"gte=1,lte=4096"`
	IcyMetaInt     int    `yaml:"icy_metaint" default:"16000" validate:"gte=0"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms" default:"10000" validate:"gte=0"`
}

// PlaybackConfig represents playback control configuration.
type PlaybackConfig struct {
	MinQueueDepth   int `yaml:"min_queue_depth" default:"2" validate:"gte=1,lte=20"`
	DefaultBitrate  int `yaml:"default_bitrate" default:"128000" validate:"gt=0"`
	SkipWaitMs      int `yaml:"skip_wait_ms" default:"2000" validate:"gte=0,lte=60000"`
	TrackEndWaitMs  int `yaml:"track_end_wait_ms" default:"5000" validate:"gte=0,lte=60000"`
	ArchiveSettleMs int `yaml:"archive_settle_ms" default:"100" validate:"gte=0,lte=10000"`
	PaceBitrate     int `yaml:"pace_bitrate" validate:"gte=0"`
}

// TranscoderConfig represents ffmpeg/ffprobe configuration.
type TranscoderConfig struct {
	FFmpegPath     string `yaml:"ffmpeg_path" default:"ffmpeg"`
	FFprobePath    string `yaml:"ffprobe_path" default:"ffprobe"`
	Codec          string `yaml:"codec" default:"libmp3lame"`
	Bitrate        string `yaml:"bitrate" default:"128k"`
	Channels       int    `yaml:"channels" default:"2" validate:"gte=1,lte=8"`
	SampleRate     int    `yaml:"sample_rate" default:"44100" validate:"gt=0"`
	Format         string `yaml:"format" default:"mp3"`
	ProbeTimeoutMs int    `yaml:"probe_timeout_ms" default:"5000" validate:"gte=0"`
}

// StorageConfig represents on-disk locations.
type StorageConfig struct {
	WorkDir     string `yaml:"work_dir" default:"tracks"`
	CacheDir    string `yaml:"cache_dir" default:"cache"`
	FallbackDir string `yaml:"fallback_dir" default:"fallback"`
	RequestFile string `yaml:"request_file" default:"config/queue.json"`
	IndexFile   string `yaml:"index_file"`
}

// AcquisitionConfig represents yt-dlp download configuration.
type AcquisitionConfig struct {
	YtdlpPath    string `yaml:"ytdlp_path" default:"yt-dlp"`
	AudioFormat  string `yaml:"audio_format" default:"mp3"`
	AudioQuality string `yaml:"audio_quality" default:"6"`
	TimeoutSec   int    `yaml:"timeout_sec" default:"300" validate:"gt=0"`
}

// FallbackConfig represents the providers used when no request is pending.
type FallbackConfig struct {
	Providers []ProviderConfig `yaml:"providers" validate:"dive"`
}

// ProviderConfig represents a single fallback provider configuration.
type ProviderConfig struct {
	Type        string         `yaml:"type" validate:"required,oneof=directory playlist lastfm"`
	DisplayName string         `yaml:"display_name" validate:"required"`
	Settings    map[string]any `yaml:"settings"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
}

// Configured reports whether Spotify credentials are present.
func (s SpotifyConfig) Configured() bool {
	return s.ClientID != "" && s.ClientSecret != "" && s.RefreshToken != ""
}

// MetricsConfig represents Prometheus exposition configuration.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

// IsEnabled reports whether metrics are exposed.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses YAML configuration, applies env overrides and defaults, and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if cfg.Storage.IndexFile == "" {
		cfg.Storage.IndexFile = filepath.Join(cfg.Storage.CacheDir, "index.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("RADIO_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
	if v := os.Getenv("LASTFM_API_KEY"); v != "" {
		for i := range c.Fallback.Providers {
			if c.Fallback.Providers[i].Type != "lastfm" {
				continue
			}
			if c.Fallback.Providers[i].Settings == nil {
				c.Fallback.Providers[i].Settings = make(map[string]any)
			}
			c.Fallback.Providers[i].Settings["api_key"] = v
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if err := c.validateSpotifyUsage(); err != nil {
		return err
	}
	if c.Storage.WorkDir == c.Storage.CacheDir {
		return errors.Newf("work_dir and cache_dir must differ (both %q)", c.Storage.WorkDir)
	}

	return nil
}

// validateSpotifyUsage requires credentials when a playlist provider is configured.
func (c *Config) validateSpotifyUsage() error {
	for _, p := range c.Fallback.Providers {
		if p.Type == "playlist" && !c.Spotify.Configured() {
			return errors.Newf("provider %q needs spotify client_id, client_secret and refresh_token", p.DisplayName)
		}
	}
	return nil
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// FilterSettings returns the settings for a filter.
func (c *Config) FilterSettings(filterName string) map[string]any {
	if f, ok := c.Filters[filterName]; ok {
		return f.Settings
	}
	return nil
}

// Millis converts a millisecond setting to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
