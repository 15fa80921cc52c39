// Package source decides which track plays next: pending listener requests
// first, then the configured fallback providers.
package source

import (
	"context"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/19radio/internal/domain/track"
	"github.com/osa030/19radio/internal/infra/cache"
	"github.com/osa030/19radio/internal/infra/lastfm"
	"github.com/osa030/19radio/internal/infra/spotify"
	"github.com/osa030/19radio/internal/infra/ytdlp"
)

// Errors
var (
	ErrNoCandidates = errors.New("no fallback candidates available")
)

// Provider supplies fallback tracks when no request is pending.
type Provider interface {
	// Next returns a playable track.
	Next(ctx context.Context) (track.Track, error)

	// Name returns the provider type (used in config).
	Name() string
}

// Cache is the part of the archive the sources consult before downloading.
type Cache interface {
	Lookup(title string) (string, bool)
	WorkDir() string
}

// Acquirer downloads audio into the work dir.
type Acquirer interface {
	Download(ctx context.Context, target, output string) (ytdlp.Info, error)
	Search(ctx context.Context, query, output string) (ytdlp.Info, error)
}

// SpotifyClient defines the Spotify operations the sources need.
type SpotifyClient interface {
	GetTrack(ctx context.Context, idOrURL string) (spotify.Entry, error)
	RandomPlaylistEntries(ctx context.Context, playlistURL string, count int) ([]spotify.Entry, error)
}

// LastFmClient defines the Last.fm operations the sources need.
type LastFmClient interface {
	GetTopTracks(ctx context.Context, tagName string, limit int) ([]lastfm.TopTrack, error)
	GetChartTopTracks(ctx context.Context, limit int) ([]lastfm.TopTrack, error)
}

// decodeSettings fills out from a provider's settings map, applies defaults and validates it.
func decodeSettings(settings map[string]any, out any) error {
	if err := mapstructure.Decode(settings, out); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(out); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}

// outputTemplate is the yt-dlp output template for title in the work dir.
func outputTemplate(c Cache, title string) string {
	return filepath.Join(c.WorkDir(), cache.Sanitize(title)+".%(ext)s")
}

// searchDownload returns the archived copy of title when there is one,
// otherwise downloads the first search hit for query.
func searchDownload(ctx context.Context, c Cache, acq Acquirer, title, query string) (string, error) {
	if path, ok := c.Lookup(title); ok {
		return path, nil
	}
	info, err := acq.Search(ctx, query, outputTemplate(c, title))
	if err != nil {
		return "", errors.Wrapf(err, "failed to download %q", query)
	}
	return info.Path, nil
}
