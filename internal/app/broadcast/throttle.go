// Package broadcast paces the transcoded stream and fans it out to listeners.
package broadcast

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// ErrThrottleClosed is returned by Read after Close.
var ErrThrottleClosed = errors.New("throttle closed")

const (
	minChunk = 512
	// Chunks per second at the configured rate.
	chunksPerSecond = 10
)

// Throttle re-emits a reader at a fixed number of bytes per second.
type Throttle struct {
	r       io.Reader
	limiter *rate.Limiter
	chunk   int
	rate    int

	ctx    context.Context
	cancel context.CancelFunc
}

// NewThrottle creates a throttle emitting bytesPerSec bytes per second.
func NewThrottle(r io.Reader, bytesPerSec int) *Throttle {
	if bytesPerSec <= 0 {
		bytesPerSec = 16000
	}
	chunk := bytesPerSec / chunksPerSecond
	if chunk < minChunk {
		chunk = minChunk
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Throttle{
		r:       r,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), chunk),
		chunk:   chunk,
		rate:    bytesPerSec,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ChunkSize returns the largest slice a single Read fills.
func (t *Throttle) ChunkSize() int {
	return t.chunk
}

// Rate returns the pace in bytes per second.
func (t *Throttle) Rate() int {
	return t.rate
}

// Read reads at most one chunk and waits until the rate allows it to be released.
func (t *Throttle) Read(p []byte) (int, error) {
	if t.ctx.Err() != nil {
		return 0, ErrThrottleClosed
	}
	if len(p) > t.chunk {
		p = p[:t.chunk]
	}

	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return 0, ErrThrottleClosed
		}
	}
	return n, err
}

// Close cancels any pending wait. It is safe to call more than once.
func (t *Throttle) Close() error {
	t.cancel()
	return nil
}
