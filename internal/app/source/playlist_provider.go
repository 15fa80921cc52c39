package source

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19radio/internal/domain/track"
	"github.com/osa030/19radio/internal/infra/spotify"
)

type PlaylistProviderConfig struct {
	PlaylistURL    string `yaml:"playlist_url" mapstructure:"playlist_url" validate:"required"`
	CandidateCount int    `yaml:"candidate_count" mapstructure:"candidate_count" default:"10" validate:"gte=1,lte=100"`
	RecentWindow   int    `yaml:"recent_window" mapstructure:"recent_window" default:"20" validate:"gte=0"`
}

// PlaylistProvider plays random entries of a Spotify playlist, downloaded by search.
// It keeps a small candidate cache to limit Spotify API calls.
type PlaylistProvider struct {
	spotify SpotifyClient
	cache   Cache
	acq     Acquirer
	config  *PlaylistProviderConfig

	mu         sync.Mutex
	candidates []spotify.Entry
	recent     []string
}

// NewPlaylistProvider creates a new PlaylistProvider.
func NewPlaylistProvider(sp SpotifyClient, c Cache, acq Acquirer, settings map[string]any) (*PlaylistProvider, error) {
	if sp == nil {
		return nil, errors.New("spotify client is required")
	}
	var config PlaylistProviderConfig
	if err := decodeSettings(settings, &config); err != nil {
		return nil, err
	}
	zlog.Debug().Msgf("playlist provider config: %+v", config)
	return &PlaylistProvider{
		spotify: sp,
		cache:   c,
		acq:     acq,
		config:  &config,
	}, nil
}

// Next downloads the next candidate entry.
func (p *PlaylistProvider) Next(ctx context.Context) (track.Track, error) {
	entry, err := p.nextEntry(ctx)
	if err != nil {
		return track.Track{}, err
	}

	path, err := searchDownload(ctx, p.cache, p.acq, entry.Title(), entry.Query())
	if err != nil {
		return track.Track{}, err
	}
	return track.Track{
		Location: path,
		Title:    entry.Title(),
		Duration: entry.DisplayDuration(),
	}, nil
}

func (p *PlaylistProvider) nextEntry(ctx context.Context) (spotify.Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.candidates) == 0 {
		entries, err := p.spotify.RandomPlaylistEntries(ctx, p.config.PlaylistURL, p.config.CandidateCount)
		if err != nil {
			return spotify.Entry{}, errors.Wrap(err, "failed to get random tracks from playlist")
		}
		for _, e := range entries {
			if !containsString(p.recent, e.ID) {
				p.candidates = append(p.candidates, e)
			}
		}
		// Everything was played recently; repeat rather than go silent.
		if len(p.candidates) == 0 {
			p.candidates = entries
		}
	}
	if len(p.candidates) == 0 {
		return spotify.Entry{}, errors.New("playlist returned no tracks")
	}

	e := p.candidates[0]
	p.candidates = p.candidates[1:]
	p.remember(e.ID)
	return e, nil
}

func (p *PlaylistProvider) remember(id string) {
	if p.config.RecentWindow == 0 {
		return
	}
	p.recent = append(p.recent, id)
	if len(p.recent) > p.config.RecentWindow {
		p.recent = p.recent[len(p.recent)-p.config.RecentWindow:]
	}
}

// Name returns the provider name.
func (p *PlaylistProvider) Name() string {
	return "playlist"
}
