package track

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Kind represents where a requested track comes from.
type Kind string

const (
	KindYouTube Kind = "youtube" // Downloaded with yt-dlp
	KindSpotify Kind = "spotify" // Resolved through Spotify, then searched with yt-dlp
	KindDirect  Kind = "direct"  // Plain HTTP download
	KindStream  Kind = "stream"  // Played straight from the URL
)

// Kinds returns all supported request kinds.
func Kinds() []Kind {
	return []Kind{KindYouTube, KindSpotify, KindDirect, KindStream}
}

// Request represents a listener request waiting to be acquired.
type Request struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Kind        Kind      `json:"kind"`
	RequestedBy string    `json:"requested_by"`
	Duration    string    `json:"duration"`
	AddedAt     time.Time `json:"added_at"`
}

// Normalize trims fields and fills defaults.
func (r Request) Normalize() Request {
	r.Title = strings.TrimSpace(r.Title)
	r.URL = strings.TrimSpace(r.URL)
	r.Kind = Kind(strings.ToLower(strings.TrimSpace(string(r.Kind))))
	if r.Kind == "" {
		r.Kind = guessKind(r.URL)
	}
	if r.RequestedBy == "" {
		r.RequestedBy = DefaultRequestedBy
	}
	if r.Duration == "" {
		r.Duration = DefaultDuration
	}
	return r
}

// Validate checks the required fields.
func (r Request) Validate() error {
	if r.Title == "" || r.URL == "" {
		return errors.New("title and url are required")
	}
	return nil
}

// Track converts the request into a track located at loc.
func (r Request) Track(loc string) Track {
	return Track{
		Location:    loc,
		Title:       r.Title,
		Duration:    r.Duration,
		RequestedBy: r.RequestedBy,
	}.Normalize()
}

func guessKind(u string) Kind {
	lower := strings.ToLower(u)
	switch {
	case strings.Contains(lower, "youtube.com"), strings.Contains(lower, "youtu.be"):
		return KindYouTube
	case strings.Contains(lower, "open.spotify.com"), strings.HasPrefix(lower, "spotify:"):
		return KindSpotify
	default:
		return KindDirect
	}
}
