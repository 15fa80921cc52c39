// Package ytdlp downloads audio with yt-dlp.
package ytdlp

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lrstanley/go-ytdlp"
	zlog "github.com/rs/zerolog/log"
)

// ErrNoOutput is returned when yt-dlp succeeded but reported no file.
var ErrNoOutput = errors.New("yt-dlp reported no output file")

// printTemplate is emitted once the final audio file is in place.
const printTemplate = "after_move:%(filepath)s\t%(title)s\t%(duration_string)s"

// Config represents downloader configuration.
type Config struct {
	Executable   string
	AudioFormat  string // e.g. "mp3"
	AudioQuality string // yt-dlp VBR quality, "0" (best) to "10"
	Timeout      time.Duration
	Proxy        string
}

// Info describes a finished download.
type Info struct {
	Path     string
	Title    string
	Duration string
}

// Downloader runs yt-dlp to fetch a single track as audio.
type Downloader struct {
	cfg Config
}

// New creates a new downloader.
func New(cfg Config) *Downloader {
	if cfg.AudioFormat == "" {
		cfg.AudioFormat = "mp3"
	}
	if cfg.AudioQuality == "" {
		cfg.AudioQuality = "6"
	}
	return &Downloader{cfg: cfg}
}

// Download fetches target (a URL or a yt-dlp search expression) into the
// output template, e.g. "tracks/Title.%(ext)s".
func (d *Downloader) Download(ctx context.Context, target, output string) (Info, error) {
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		NoPlaylist().
		ExtractAudio().
		AudioFormat(d.cfg.AudioFormat).
		AudioQuality(d.cfg.AudioQuality).
		Output(output).
		Print(printTemplate)
	if d.cfg.Executable != "" {
		cmd.SetExecutable(d.cfg.Executable)
	}
	if d.cfg.Proxy != "" {
		cmd.Proxy(d.cfg.Proxy)
	}

	zlog.Info().Msgf("ytdlp: downloading: target=%s", target)
	started := time.Now()

	res, err := cmd.Run(ctx, target)
	if err != nil {
		return Info{}, errors.Wrapf(err, "yt-dlp failed for %s", target)
	}

	info, err := parseInfo(res.Stdout)
	if err != nil {
		return Info{}, errors.Wrapf(err, "yt-dlp output for %s", target)
	}
	zlog.Info().Msgf("ytdlp: downloaded: path=%s title=%q elapsed=%v", info.Path, info.Title, time.Since(started).Round(time.Millisecond))
	return info, nil
}

// Search downloads the first search result for query.
func (d *Downloader) Search(ctx context.Context, query, output string) (Info, error) {
	return d.Download(ctx, "ytsearch1:"+query, output)
}

// parseInfo reads the last printed line.
func parseInfo(stdout string) (Info, error) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		info := Info{Path: parts[0]}
		if len(parts) > 1 {
			info.Title = parts[1]
		}
		if len(parts) > 2 && parts[2] != "NA" {
			info.Duration = parts[2]
		}
		return info, nil
	}
	return Info{}, ErrNoOutput
}
