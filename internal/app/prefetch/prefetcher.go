// Package prefetch keeps the track queue filled ahead of playback.
package prefetch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19radio/internal/domain/track"
)

// Errors
var (
	ErrAcquisition    = errors.New("track acquisition failed")
	ErrAlreadyRunning = errors.New("prefetch already running")
	ErrClosed         = errors.New("prefetcher closed")
)

// Source supplies the next track to enqueue.
type Source interface {
	FetchNext(ctx context.Context) (track.Track, error)
}

// Prober reads the source bitrate of a location.
type Prober interface {
	Probe(ctx context.Context, location string) (int, error)
}

// Queue is the part of the track queue the prefetcher fills.
type Queue interface {
	Len() int
	PushBack(t track.Track)
}

// Observer receives fetch outcomes. Implementations must not block.
type Observer interface {
	FetchSucceeded()
	FetchFailed()
}

// Config holds prefetcher configuration.
type Config struct {
	MinDepth       int
	DefaultBitrate int
	Observer       Observer // Optional
}

// Prefetcher runs at most one fill loop at a time.
type Prefetcher struct {
	source Source
	prober Prober
	queue  Queue
	cfg    Config

	downloading atomic.Bool
	wg          sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new prefetcher. prober may be nil, in which case every
// track gets the default bitrate.
func New(source Source, prober Prober, queue Queue, cfg Config) *Prefetcher {
	if cfg.MinDepth <= 0 {
		cfg.MinDepth = 2
	}
	if cfg.DefaultBitrate <= 0 {
		cfg.DefaultBitrate = track.DefaultBitrate
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Prefetcher{
		source: source,
		prober: prober,
		queue:  queue,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// EnsureQueueSize starts a detached fill loop when the queue is below the
// minimum depth. It returns immediately if a loop is already running.
func (p *Prefetcher) EnsureQueueSize() {
	if p.ctx.Err() != nil || p.queue.Len() >= p.cfg.MinDepth {
		return
	}
	if !p.downloading.CompareAndSwap(false, true) {
		zlog.Debug().Msg("prefetch: fill already in flight")
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.downloading.Store(false)
		defer func() {
			if r := recover(); r != nil {
				zlog.Error().Msgf("prefetch: fill loop panicked: %v", r)
			}
		}()
		p.fill()
	}()
}

// FetchOnce synchronously fetches and enqueues one track.
func (p *Prefetcher) FetchOnce(ctx context.Context) error {
	if p.ctx.Err() != nil {
		return ErrClosed
	}
	if !p.downloading.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer p.downloading.Store(false)

	t, err := p.fetch(ctx)
	if err != nil {
		return err
	}
	p.queue.PushBack(t)
	return nil
}

// InFlight reports whether a fill loop is running.
func (p *Prefetcher) InFlight() bool {
	return p.downloading.Load()
}

// Wait blocks until the running fill loop, if any, has finished.
func (p *Prefetcher) Wait() {
	p.wg.Wait()
}

// Close cancels any in-flight fetch and waits for the loop to stop.
func (p *Prefetcher) Close() {
	p.cancel()
	p.wg.Wait()
}

func (p *Prefetcher) fill() {
	for p.queue.Len() < p.cfg.MinDepth {
		if p.ctx.Err() != nil {
			return
		}
		t, err := p.fetch(p.ctx)
		if err != nil {
			zlog.Error().Err(err).Msg("prefetch: acquisition failed, stopping until next request")
			return
		}
		p.queue.PushBack(t)
		zlog.Info().Msgf("prefetch: enqueued: track=%s title=%q depth=%d", t.ID(), t.Title, p.queue.Len())
	}
}

func (p *Prefetcher) fetch(ctx context.Context) (track.Track, error) {
	t, err := p.source.FetchNext(ctx)
	if err == nil {
		t = t.Normalize()
		err = t.Validate()
	}
	if err != nil {
		p.observeFailure()
		if errors.Is(err, ErrAcquisition) {
			return track.Track{}, err
		}
		return track.Track{}, errors.Wrap(errors.Mark(err, ErrAcquisition), "failed to fetch next track")
	}

	t.Bitrate = p.probe(ctx, t.Location)
	if p.cfg.Observer != nil {
		p.cfg.Observer.FetchSucceeded()
	}
	return t, nil
}

func (p *Prefetcher) probe(ctx context.Context, location string) int {
	if p.prober == nil {
		return p.cfg.DefaultBitrate
	}
	br, err := p.prober.Probe(ctx, location)
	if err != nil {
		zlog.Warn().Err(err).Msgf("prefetch: bitrate probe failed, using default: location=%s default=%d", location, p.cfg.DefaultBitrate)
		return p.cfg.DefaultBitrate
	}
	return br
}

func (p *Prefetcher) observeFailure() {
	if p.cfg.Observer != nil {
		p.cfg.Observer.FetchFailed()
	}
}
