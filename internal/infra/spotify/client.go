// Package spotify resolves Spotify tracks and playlists into searchable entries.
package spotify

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/osa030/19radio/internal/domain/track"
)

const pageLimit = 100

// Entry is a Spotify track reduced to what acquisition needs.
type Entry struct {
	ID       string
	Name     string
	Artists  []string
	Duration time.Duration
	URL      string
}

// Query returns the text used to find the entry on a video site.
func (e Entry) Query() string {
	if len(e.Artists) == 0 {
		return e.Name
	}
	return strings.Join(e.Artists, ", ") + " - " + e.Name
}

// Title returns a display title for the entry.
func (e Entry) Title() string {
	return e.Query()
}

// DisplayDuration returns the duration formatted for listeners.
func (e Entry) DisplayDuration() string {
	return track.FormatDuration(e.Duration)
}

// Client is a Spotify API client.
type Client struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Market       string
}

// New creates a new Spotify client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.New("spotify credentials are required")
	}

	auth := spotifyauth.New(
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
		spotifyauth.WithScopes(spotifyauth.ScopePlaylistReadPrivate),
	)

	// Refreshed on first use.
	httpClient := auth.Client(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	market := cfg.Market
	if market == "" {
		market = "JP"
	}

	return &Client{
		client:     spotify.New(httpClient),
		market:     market,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// GetTrack resolves a track ID, URL, or URI.
func (c *Client) GetTrack(ctx context.Context, idOrURL string) (Entry, error) {
	id := extractTrackID(idOrURL)
	if id == "" {
		return Entry{}, errors.New("invalid track URL")
	}

	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return Entry{}, errors.Wrap(err, "failed to get track")
	}

	return toEntry(result), nil
}

// CheckPlaylistExists checks if a playlist exists without fetching all tracks.
func (c *Client) CheckPlaylistExists(ctx context.Context, playlistURL string) error {
	playlistID := extractPlaylistID(playlistURL)
	if playlistID == "" {
		return errors.New("invalid playlist URL")
	}

	_, err := c.playlistPage(ctx, playlistID, 0, 1)
	if err != nil {
		return errors.Wrap(err, "playlist does not exist or is not accessible")
	}
	return nil
}

// RandomPlaylistEntries returns up to count entries sampled from a random page of a playlist.
func (c *Client) RandomPlaylistEntries(ctx context.Context, playlistURL string, count int) ([]Entry, error) {
	playlistID := extractPlaylistID(playlistURL)
	if playlistID == "" {
		return nil, errors.New("invalid playlist URL")
	}
	if count <= 0 {
		count = 1
	}

	first, err := c.playlistPage(ctx, playlistID, 0, 1)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get playlist info")
	}
	total := int(first.Total)
	if total == 0 {
		return nil, nil
	}

	page, err := c.playlistPage(ctx, playlistID, randomOffset(total, pageLimit), pageLimit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get playlist items")
	}

	var entries []Entry
	for _, item := range page.Items {
		// Episodes carry no Track.
		if item.Track.Track != nil && item.Track.Track.ID != "" {
			entries = append(entries, toEntry(item.Track.Track))
		}
	}

	rand.Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
	if len(entries) > count {
		entries = entries[:count]
	}
	return entries, nil
}

func (c *Client) playlistPage(ctx context.Context, playlistID string, offset, limit int) (*spotify.PlaylistItemPage, error) {
	var page *spotify.PlaylistItemPage
	err := c.retry(ctx, func() error {
		p, err := c.client.GetPlaylistItems(ctx, spotify.ID(playlistID),
			spotify.Limit(limit),
			spotify.Offset(offset),
			spotify.Market(c.market),
		)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	return page, err
}

// randomOffset picks a page start so that a full page fits when the playlist allows it.
func randomOffset(total, limit int) int {
	maxOffset := total - limit
	if maxOffset <= 0 {
		return 0
	}
	return rand.IntN(maxOffset + 1)
}

func toEntry(t *spotify.FullTrack) Entry {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}
	return Entry{
		ID:       string(t.ID),
		Name:     t.Name,
		Artists:  artists,
		Duration: time.Duration(t.Duration) * time.Millisecond,
		URL:      TrackURL(string(t.ID)),
	}
}

// TrackURL returns the Spotify URL for a track.
func TrackURL(trackID string) string {
	return "https://open.spotify.com/track/" + trackID
}

// IsTrackURL reports whether s names a Spotify track.
func IsTrackURL(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "spotify:track:") ||
		(strings.Contains(s, "open.spotify.com") && strings.Contains(s, "/track/"))
}

// retry retries an operation with linear backoff.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "retry aborted")
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// extractPlaylistID extracts the playlist ID from a Spotify playlist URL or URI.
func extractPlaylistID(input string) string {
	return extractID(input, "playlist")
}

// extractTrackID extracts the track ID from a Spotify track URL or URI.
func extractTrackID(input string) string {
	return extractID(input, "track")
}

// extractID handles spotify:<kind>:ID, open.spotify.com/<kind>/ID (with or
// without an intl-XX segment) and bare IDs.
func extractID(input, kind string) string {
	input = strings.TrimSpace(input)
	if uri := "spotify:" + kind + ":"; strings.HasPrefix(input, uri) {
		return strings.TrimPrefix(input, uri)
	}

	sep := "/" + kind + "/"
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, sep) {
		parts := strings.Split(input, sep)
		id := strings.Split(parts[len(parts)-1], "?")[0]
		return strings.TrimRight(id, "/")
	}

	return input
}
