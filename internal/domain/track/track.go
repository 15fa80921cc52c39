// Package track provides the Track and Request domain entities.
package track

import (
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	DefaultBitrate     = 128000
	DefaultDuration    = "00:00"
	DefaultRequestedBy = "anonymous"
)

// Track represents one queued or playing audio item.
// Values are treated as immutable once they enter the queue.
type Track struct {
	Location    string `json:"location"`    // File path or stream URL
	Bitrate     int    `json:"bitrate"`     // Source bitrate (bits/sec)
	Title       string `json:"title"`       // Display title
	Duration    string `json:"duration"`    // Display duration ("mm:ss")
	RequestedBy string `json:"requestedBy"` // Requester identity
}

// Normalize fills unset fields with their defaults.
func (t Track) Normalize() Track {
	t.Location = strings.TrimSpace(t.Location)
	t.Title = strings.TrimSpace(t.Title)
	if t.Bitrate <= 0 {
		t.Bitrate = DefaultBitrate
	}
	if t.Duration == "" {
		t.Duration = DefaultDuration
	}
	if t.RequestedBy == "" {
		t.RequestedBy = DefaultRequestedBy
	}
	return t
}

// Validate checks that the track carries the fields the engine relies on.
func (t Track) Validate() error {
	if t.Location == "" {
		return errors.New("track location is required")
	}
	if t.Title == "" {
		return errors.New("track title is required")
	}
	if t.Bitrate <= 0 {
		return errors.Newf("invalid bitrate: %d", t.Bitrate)
	}
	return nil
}

// ID returns the filename-derived identifier used in metadata announcements.
func (t Track) ID() string {
	if u, err := url.Parse(t.Location); err == nil && u.Scheme != "" && u.Host != "" {
		if base := path.Base(u.Path); base != "/" && base != "." {
			return base
		}
		return u.Host
	}
	return filepath.Base(t.Location)
}

// Same reports whether two tracks refer to the same source.
func (t Track) Same(other Track) bool {
	return t.Location == other.Location
}

// ParseDuration parses a display duration ("ss", "mm:ss" or "hh:mm:ss").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, errors.Newf("invalid duration: %q", s)
	}

	var total time.Duration
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, errors.Newf("invalid duration: %q", s)
		}
		total = total*60 + time.Duration(n)
	}
	return total * time.Second, nil
}

// FormatDuration formats a duration as a display string.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return DefaultDuration
	}
	secs := int(d.Round(time.Second) / time.Second)
	h, m, s := secs/3600, (secs/60)%60, secs%60
	if h > 0 {
		return strconv.Itoa(h) + ":" + pad2(m) + ":" + pad2(s)
	}
	return pad2(m) + ":" + pad2(s)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
