package source

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19radio/internal/app/prefetch"
	"github.com/osa030/19radio/internal/domain/track"
	"github.com/osa030/19radio/internal/infra/cache"
)

// Requests is the part of the request store the library source consumes.
type Requests interface {
	Front() (track.Request, bool)
	Remove(id string) error
}

// LibraryConfig holds the optional collaborators of a LibrarySource.
type LibraryConfig struct {
	Spotify    SpotifyClient // Required for spotify requests
	Fallback   Provider      // Consulted when no request is pending
	HTTPClient *http.Client  // Used for direct downloads
}

// LibrarySource serves listener requests in order and falls back to the
// provider chain when none are pending.
type LibrarySource struct {
	requests Requests
	cache    Cache
	acq      Acquirer
	cfg      LibraryConfig
}

// NewLibrarySource creates a new LibrarySource.
func NewLibrarySource(requests Requests, c Cache, acq Acquirer, cfg LibraryConfig) *LibrarySource {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &LibrarySource{
		requests: requests,
		cache:    c,
		acq:      acq,
		cfg:      cfg,
	}
}

// FetchNext returns the next track to enqueue. The front request is removed
// whether or not it could be acquired.
func (s *LibrarySource) FetchNext(ctx context.Context) (track.Track, error) {
	req, ok := s.requests.Front()
	if !ok {
		if s.cfg.Fallback == nil {
			return track.Track{}, errors.Mark(ErrNoCandidates, prefetch.ErrAcquisition)
		}
		return s.cfg.Fallback.Next(ctx)
	}

	t, err := s.acquire(ctx, req)
	if rmErr := s.requests.Remove(req.ID); rmErr != nil {
		zlog.Warn().Err(rmErr).Msgf("source: failed to remove request: id=%s", req.ID)
	}
	if err != nil {
		return track.Track{}, errors.Wrapf(errors.Mark(err, prefetch.ErrAcquisition),
			"failed to acquire request %q (%s)", req.Title, req.Kind)
	}

	zlog.Info().Msgf("source: acquired request: title=%q kind=%s location=%s", req.Title, req.Kind, t.Location)
	return t, nil
}

func (s *LibrarySource) acquire(ctx context.Context, req track.Request) (track.Track, error) {
	if req.Kind == track.KindStream {
		return req.Track(req.URL), nil
	}

	if p, ok := s.cache.Lookup(req.Title); ok {
		zlog.Debug().Msgf("source: cache hit: title=%q path=%s", req.Title, p)
		return req.Track(p), nil
	}

	switch req.Kind {
	case track.KindYouTube:
		info, err := s.acq.Download(ctx, req.URL, outputTemplate(s.cache, req.Title))
		if err != nil {
			return track.Track{}, err
		}
		return withDuration(req, info.Duration).Track(info.Path), nil

	case track.KindSpotify:
		if s.cfg.Spotify == nil {
			return track.Track{}, errors.New("spotify is not configured")
		}
		entry, err := s.cfg.Spotify.GetTrack(ctx, req.URL)
		if err != nil {
			return track.Track{}, err
		}
		info, err := s.acq.Search(ctx, entry.Query(), outputTemplate(s.cache, req.Title))
		if err != nil {
			return track.Track{}, err
		}
		return withDuration(req, entry.DisplayDuration()).Track(info.Path), nil

	case track.KindDirect:
		p, err := s.download(ctx, req)
		if err != nil {
			return track.Track{}, err
		}
		return req.Track(p), nil

	default:
		return track.Track{}, errors.Newf("unsupported request kind: %q", req.Kind)
	}
}

// download fetches a plain HTTP URL into the work dir.
func (s *LibrarySource) download(ctx context.Context, req track.Request) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to create request")
	}
	resp, err := s.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return "", errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.Newf("download returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(s.cache.WorkDir(), 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create work dir")
	}
	tmp, err := os.CreateTemp(s.cache.WorkDir(), ".download-*")
	if err != nil {
		return "", errors.Wrap(err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", errors.Wrap(err, "failed to write download")
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "failed to close download")
	}

	dest := filepath.Join(s.cache.WorkDir(), cache.Sanitize(req.Title)+extensionOf(req.URL))
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", errors.Wrap(err, "failed to move download into place")
	}
	return dest, nil
}

// extensionOf returns the audio extension of a URL path, defaulting to .mp3.
func extensionOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".mp3"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if !cache.IsAudio("x" + ext) {
		return ".mp3"
	}
	return ext
}

// withDuration fills an unknown request duration from the acquired metadata.
func withDuration(req track.Request, d string) track.Request {
	if (req.Duration == "" || req.Duration == track.DefaultDuration) && d != "" {
		req.Duration = d
	}
	return req
}
