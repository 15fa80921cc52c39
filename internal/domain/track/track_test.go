package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrack_Normalize(t *testing.T) {
	tests := []struct {
		name     string
		track    Track
		expected Track
	}{
		{
			name:  "fills defaults",
			track: Track{Location: "tracks/a.mp3", Title: "A"},
			expected: Track{
				Location:    "tracks/a.mp3",
				Title:       "A",
				Bitrate:     DefaultBitrate,
				Duration:    "00:00",
				RequestedBy: "anonymous",
			},
		},
		{
			name: "keeps provided values",
			track: Track{
				Location:    " tracks/b.mp3 ",
				Title:       "B",
				Bitrate:     320000,
				Duration:    "03:12",
				RequestedBy: "alice",
			},
			expected: Track{
				Location:    "tracks/b.mp3",
				Title:       "B",
				Bitrate:     320000,
				Duration:    "03:12",
				RequestedBy: "alice",
			},
		},
		{
			name:  "negative bitrate falls back",
			track: Track{Location: "x", Title: "X", Bitrate: -1},
			expected: Track{
				Location:    "x",
				Title:       "X",
				Bitrate:     DefaultBitrate,
				Duration:    "00:00",
				RequestedBy: "anonymous",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.track.Normalize())
		})
	}
}

func TestTrack_Validate(t *testing.T) {
	tests := []struct {
		name    string
		track   Track
		wantErr bool
	}{
		{name: "valid", track: Track{Location: "a.mp3", Title: "A", Bitrate: 128000}},
		{name: "missing location", track: Track{Title: "A", Bitrate: 128000}, wantErr: true},
		{name: "missing title", track: Track{Location: "a.mp3", Bitrate: 128000}, wantErr: true},
		{name: "zero bitrate", track: Track{Location: "a.mp3", Title: "A"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.track.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTrack_ID(t *testing.T) {
	tests := []struct {
		location string
		expected string
	}{
		{"A", "A"},
		{"tracks/Song A.mp3", "Song A.mp3"},
		{"/srv/cache/b.mp3", "b.mp3"},
		{"https://example.com/radio/live.mp3?x=1", "live.mp3"},
		{"http://stream.example.com", "stream.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			assert.Equal(t, tt.expected, Track{Location: tt.location}.ID())
		})
	}
}

func TestTrack_Same(t *testing.T) {
	a := Track{Location: "a.mp3", Title: "A"}
	assert.True(t, a.Same(Track{Location: "a.mp3", Title: "other title"}))
	assert.False(t, a.Same(Track{Location: "b.mp3", Title: "A"}))
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{input: "", expected: 0},
		{input: "00:00", expected: 0},
		{input: "45", expected: 45 * time.Second},
		{input: "03:30", expected: 3*time.Minute + 30*time.Second},
		{input: "1:02:03", expected: time.Hour + 2*time.Minute + 3*time.Second},
		{input: "ab:cd", wantErr: true},
		{input: "1:2:3:4", wantErr: true},
		{input: "-1:00", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, err := ParseDuration(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d)
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00", FormatDuration(0))
	assert.Equal(t, "03:05", FormatDuration(3*time.Minute+5*time.Second))
	assert.Equal(t, "1:00:09", FormatDuration(time.Hour+9*time.Second))
}

func TestRequest_Normalize(t *testing.T) {
	tests := []struct {
		name     string
		req      Request
		wantKind Kind
	}{
		{name: "youtube url", req: Request{Title: "x", URL: "https://www.youtube.com/watch?v=abc"}, wantKind: KindYouTube},
		{name: "short youtube url", req: Request{Title: "x", URL: "https://youtu.be/abc"}, wantKind: KindYouTube},
		{name: "spotify url", req: Request{Title: "x", URL: "https://open.spotify.com/track/123"}, wantKind: KindSpotify},
		{name: "plain url", req: Request{Title: "x", URL: "https://cdn.example.com/a.mp3"}, wantKind: KindDirect},
		{name: "explicit kind wins", req: Request{Title: "x", URL: "https://youtu.be/abc", Kind: "STREAM"}, wantKind: KindStream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.req.Normalize()
			assert.Equal(t, tt.wantKind, r.Kind)
			assert.Equal(t, "anonymous", r.RequestedBy)
			assert.Equal(t, "00:00", r.Duration)
		})
	}
}

func TestRequest_Track(t *testing.T) {
	r := Request{Title: "Song", URL: "u", RequestedBy: "bob", Duration: "02:00"}
	tr := r.Track("tracks/Song.mp3")
	assert.Equal(t, "tracks/Song.mp3", tr.Location)
	assert.Equal(t, "Song", tr.Title)
	assert.Equal(t, "bob", tr.RequestedBy)
	assert.Equal(t, "02:00", tr.Duration)
	assert.Equal(t, DefaultBitrate, tr.Bitrate)
	assert.Error(t, Request{Title: "only title"}.Validate())
}
