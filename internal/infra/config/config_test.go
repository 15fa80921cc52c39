package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv isolates a test from overrides set in the environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"RADIO_ADDR", "ADMIN_TOKEN", "SPOTIFY_CLIENT_ID", "SPOTIFY_CLIENT_SECRET", "SPOTIFY_REFRESH_TOKEN", "LASTFM_API_KEY"} {
		t.Setenv(k, "")
	}
}

func TestParse_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte("admin:\n  token: secret\n"))
	require.NoError(t, err)

	assert.Equal(t, ":9126", cfg.Server.Addr)
	assert.Equal(t, "19radio", cfg.Stream.Name)
	assert.Equal(t, 128000, cfg.Stream.Bitrate)
	assert.Equal(t, 64, cfg.Stream.SinkBuffer)
	assert.Equal(t, 16000, cfg.Stream.IcyMetaInt)
	assert.Equal(t, 2, cfg.Playback.MinQueueDepth)
	assert.Equal(t, 128000, cfg.Playback.DefaultBitrate)
	assert.Equal(t, 2000, cfg.Playback.SkipWaitMs)
	assert.Equal(t, 5000, cfg.Playback.TrackEndWaitMs)
	assert.Equal(t, 100, cfg.Playback.ArchiveSettleMs)
	assert.Equal(t, "libmp3lame", cfg.Transcoder.Codec)
	assert.Equal(t, "128k", cfg.Transcoder.Bitrate)
	assert.Equal(t, 2, cfg.Transcoder.Channels)
	assert.Equal(t, 44100, cfg.Transcoder.SampleRate)
	assert.Equal(t, "tracks", cfg.Storage.WorkDir)
	assert.Equal(t, "cache", cfg.Storage.CacheDir)
	assert.Equal(t, "config/queue.json", cfg.Storage.RequestFile)
	assert.Equal(t, filepath.Join("cache", "index.db"), cfg.Storage.IndexFile)
	assert.Equal(t, "JP", cfg.Spotify.Market)
	assert.True(t, cfg.Metrics.IsEnabled())
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestParse_ExplicitValues(t *testing.T) {
	clearEnv(t)
	data := []byte(`
server:
  addr: ":8000"
admin:
  token: secret
playback:
  min_queue_depth: 4
storage:
  cache_dir: archive
metrics:
  enabled: false
filters:
  duration_limit_filter:
    enabled: true
    settings:
      max_minutes: 10
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, 4, cfg.Playback.MinQueueDepth)
	assert.Equal(t, filepath.Join("archive", "index.db"), cfg.Storage.IndexFile)
	assert.False(t, cfg.Metrics.IsEnabled())
	assert.True(t, cfg.IsFilterEnabled("duration_limit_filter"))
	assert.False(t, cfg.IsFilterEnabled("blocklist_filter"))
	assert.Equal(t, 10, cfg.FilterSettings("duration_limit_filter")["max_minutes"])
	assert.Nil(t, cfg.FilterSettings("blocklist_filter"))
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		errMsg  string
	}{
		{
			name:    "missing admin token",
			yaml:    "server:\n  addr: \":9126\"\n",
			wantErr: true,
			errMsg:  "Token",
		},
		{
			name:    "invalid market length",
			yaml:    "admin:\n  token: x\nspotify:\n  market: JAPAN\n",
			wantErr: true,
			errMsg:  "Market",
		},
		{
			name:    "queue depth out of range",
			yaml:    "admin:\n  token: x\nplayback:\n  min_queue_depth: 100\n",
			wantErr: true,
			errMsg:  "MinQueueDepth",
		},
		{
			name:    "unknown provider type",
			yaml:    "admin:\n  token: x\nfallback:\n  providers:\n    - type: radio\n      display_name: R\n",
			wantErr: true,
			errMsg:  "Type",
		},
		{
			name:    "playlist provider without spotify credentials",
			yaml:    "admin:\n  token: x\nfallback:\n  providers:\n    - type: playlist\n      display_name: Hits\n",
			wantErr: true,
			errMsg:  "spotify",
		},
		{
			name:    "work and cache dir equal",
			yaml:    "admin:\n  token: x\nstorage:\n  work_dir: data\n  cache_dir: data\n",
			wantErr: true,
			errMsg:  "must differ",
		},
		{
			name: "directory provider",
			yaml: "admin:\n  token: x\nfallback:\n  providers:\n    - type: directory\n      display_name: Local\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Parse([]byte(tt.yaml))
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "from-env")
	t.Setenv("RADIO_ADDR", ":7000")
	t.Setenv("SPOTIFY_CLIENT_ID", "id")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "secret")
	t.Setenv("SPOTIFY_REFRESH_TOKEN", "refresh")
	t.Setenv("LASTFM_API_KEY", "lfm")

	data := []byte(`
admin:
  token: from-file
fallback:
  providers:
    - type: playlist
      display_name: Hits
      settings:
        playlist_url: spotify:playlist:abc
    - type: lastfm
      display_name: Last.fm
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Admin.Token)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.True(t, cfg.Spotify.Configured())
	assert.Equal(t, "lfm", cfg.Fallback.Providers[1].Settings["api_key"])
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("admin:\n  token: abc\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.Admin.Token)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMillis(t *testing.T) {
	assert.Equal(t, 2*time.Second, Millis(2000))
	assert.Equal(t, time.Duration(0), Millis(0))
}
