package source

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osa030/19radio/internal/domain/track"
	"github.com/osa030/19radio/internal/infra/lastfm"
)

type LastFmProviderConfig struct {
	APIKey       string   `yaml:"api_key" mapstructure:"api_key" validate:"required"`
	Tags         []string `yaml:"tags" mapstructure:"tags"`
	Limit        int      `yaml:"limit" mapstructure:"limit" default:"50" validate:"gte=1,lte=100"`
	RecentWindow int      `yaml:"recent_window" mapstructure:"recent_window" default:"20" validate:"gte=0"`
}

// LastFmProvider plays a random top track for one of the configured tags,
// or from the global chart when no tags are set.
type LastFmProvider struct {
	lastfm LastFmClient
	cache  Cache
	acq    Acquirer
	config *LastFmProviderConfig

	mu     sync.Mutex
	recent []string
}

// NewLastFmProvider creates a new LastFmProvider. A nil client is built from the api_key setting.
func NewLastFmProvider(client LastFmClient, c Cache, acq Acquirer, settings map[string]any) (*LastFmProvider, error) {
	if len(settings) == 0 {
		return nil, errors.New("settings are required")
	}

	var config LastFmProviderConfig
	if err := decodeSettings(settings, &config); err != nil {
		return nil, err
	}

	if client == nil {
		lc, err := lastfm.New(lastfm.Config{APIKey: config.APIKey})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create last.fm client")
		}
		client = lc
	}

	return &LastFmProvider{
		lastfm: client,
		cache:  c,
		acq:    acq,
		config: &config,
	}, nil
}

// Next downloads a random charted track.
func (p *LastFmProvider) Next(ctx context.Context) (track.Track, error) {
	tracks, err := p.candidates(ctx)
	if err != nil {
		return track.Track{}, err
	}
	if len(tracks) == 0 {
		return track.Track{}, errors.New("last.fm returned no tracks")
	}

	pick := p.pick(tracks)
	path, err := searchDownload(ctx, p.cache, p.acq, pick.Query(), pick.Query())
	if err != nil {
		return track.Track{}, err
	}
	return track.Track{
		Location: path,
		Title:    pick.Query(),
	}, nil
}

func (p *LastFmProvider) candidates(ctx context.Context) ([]lastfm.TopTrack, error) {
	if len(p.config.Tags) == 0 {
		tracks, err := p.lastfm.GetChartTopTracks(ctx, p.config.Limit)
		return tracks, errors.Wrap(err, "failed to get chart top tracks")
	}
	tag := p.config.Tags[rand.IntN(len(p.config.Tags))]
	tracks, err := p.lastfm.GetTopTracks(ctx, tag, p.config.Limit)
	return tracks, errors.Wrapf(err, "failed to get top tracks for tag %q", tag)
}

// pick chooses a random track not played recently, if any.
func (p *LastFmProvider) pick(tracks []lastfm.TopTrack) lastfm.TopTrack {
	p.mu.Lock()
	defer p.mu.Unlock()

	fresh := make([]lastfm.TopTrack, 0, len(tracks))
	for _, t := range tracks {
		if !containsString(p.recent, t.Query()) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) == 0 {
		fresh = tracks
	}

	t := fresh[rand.IntN(len(fresh))]
	if p.config.RecentWindow > 0 {
		p.recent = append(p.recent, t.Query())
		if len(p.recent) > p.config.RecentWindow {
			p.recent = p.recent[len(p.recent)-p.config.RecentWindow:]
		}
	}
	return t
}

// Name returns the provider name.
func (p *LastFmProvider) Name() string {
	return "lastfm"
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
