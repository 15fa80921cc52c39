package transcode

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Prober reads the source bitrate of a track with ffprobe.
type Prober struct {
	path    string
	timeout time.Duration
	command func(ctx context.Context, location string) *exec.Cmd
}

// NewProber creates a new prober.
func NewProber(ffprobePath string, timeout time.Duration) *Prober {
	p := &Prober{path: ffprobePath, timeout: timeout}
	p.command = func(ctx context.Context, location string) *exec.Cmd {
		return exec.CommandContext(ctx, p.path,
			"-v", "error",
			"-show_entries", "format=bit_rate",
			"-of", "default=noprint_wrappers=1:nokey=1",
			location,
		)
	}
	return p
}

// Probe returns the bitrate of location in bits per second.
func (p *Prober) Probe(ctx context.Context, location string) (int, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	out, err := p.command(ctx, location).Output()
	if err != nil {
		return 0, errors.Wrapf(err, "ffprobe failed for %s", location)
	}

	return parseBitrate(string(out))
}

func parseBitrate(out string) (int, error) {
	s := strings.TrimSpace(out)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errors.Newf("no bitrate in ffprobe output: %q", s)
	}
	return n, nil
}
