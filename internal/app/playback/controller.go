package playback

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19radio/internal/app/broadcast"
	"github.com/osa030/19radio/internal/app/queue"
	"github.com/osa030/19radio/internal/domain/track"
)

// Errors
var (
	ErrQueueEmpty          = errors.New("queue is empty")
	ErrTransitionInFlight  = errors.New("transition in flight")
	ErrPreviousUnavailable = errors.New("previous track is no longer available")
	ErrClosed              = errors.New("controller closed")
)

// Stream is one running transcoder process and its output.
type Stream interface {
	io.Reader
	Kill() error
	Close() error
	Wait() (int, error)
}

// Transcoder starts a stream for a track.
type Transcoder interface {
	Start(t track.Track) (Stream, error)
}

// TranscoderFunc adapts a function to Transcoder.
type TranscoderFunc func(t track.Track) (Stream, error)

// Start calls f(t).
func (f TranscoderFunc) Start(t track.Track) (Stream, error) {
	return f(t)
}

// Cache resolves and archives downloaded tracks.
type Cache interface {
	Lookup(title string) (string, bool)
	Archive(path, title string) (string, error)
	IsEphemeral(location string) bool
}

// Broadcaster fans paced audio and metadata out to listeners.
type Broadcaster interface {
	Broadcast(chunk []byte)
	Announce(m broadcast.Metadata)
}

// Prefetcher refills the queue in the background.
type Prefetcher interface {
	EnsureQueueSize()
}

// Config holds controller configuration.
type Config struct {
	SkipWait      time.Duration // Wait for the prefetcher after a skip
	TrackEndWait  time.Duration // Wait for the prefetcher after a track ends
	ArchiveSettle time.Duration // Delay before archiving a track that left the air
	PaceBitrate   int           // Throttle rate in bits/sec; the encoder's output bitrate
}

// Controller drives playback of the queue.
type Controller struct {
	mu     sync.RWMutex
	state  State
	index  int // Metadata index of the next selection
	closed bool

	queue       *queue.TrackQueue
	transcoder  Transcoder
	cache       Cache
	broadcaster Broadcaster
	prefetcher  Prefetcher
	config      Config

	// Single-flight guards
	transitioning atomic.Bool
	recovering    atomic.Bool

	// Current stream triple, replaced only after teardown.
	streamMu sync.RWMutex
	gen      uint64
	stream   Stream
	throttle *broadcast.Throttle

	eventCh chan Event
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewController creates a new playback controller.
func NewController(q *queue.TrackQueue, tc Transcoder, cache Cache, b Broadcaster, p Prefetcher, config Config) *Controller {
	if config.SkipWait <= 0 {
		config.SkipWait = 2 * time.Second
	}
	if config.TrackEndWait <= 0 {
		config.TrackEndWait = 5 * time.Second
	}
	if config.ArchiveSettle < 0 {
		config.ArchiveSettle = 0
	}
	if config.PaceBitrate <= 0 {
		config.PaceBitrate = track.DefaultBitrate
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		state:       StateIdle,
		queue:       q,
		transcoder:  tc,
		cache:       cache,
		broadcaster: b,
		prefetcher:  p,
		config:      config,
		eventCh:     make(chan Event, 10),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Events returns the event channel.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// Queue returns the queue being played.
func (c *Controller) Queue() *queue.TrackQueue {
	return c.queue
}

// State returns the current playback state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// TracksStarted returns how many tracks have been selected so far.
func (c *Controller) TracksStarted() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index
}

// Transitioning reports whether a control operation is in flight.
func (c *Controller) Transitioning() bool {
	return c.transitioning.Load()
}

// Play starts playback. With useNew, or when nothing is current, the queue
// front is selected; otherwise the current track restarts.
func (c *Controller) Play(useNew bool) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if !c.transitioning.CompareAndSwap(false, true) {
		return ErrTransitionInFlight
	}
	defer c.transitioning.Store(false)

	return c.play(useNew)
}

// Skip stops the current track and plays the next one.
// It is a no-op when nothing is current or pending, or while a transition is in flight.
func (c *Controller) Skip() error {
	_, hasCurrent := c.queue.Current()
	if !hasCurrent && c.queue.Len() == 0 {
		zlog.Debug().Msg("playback: skip ignored: nothing to skip")
		return nil
	}
	if !c.transitioning.CompareAndSwap(false, true) {
		zlog.Debug().Msg("playback: skip ignored: transition in flight")
		return nil
	}
	defer c.transitioning.Store(false)
	defer c.prefetcher.EnsureQueueSize()

	c.setState(StateTransitioning)
	c.teardown()

	left, ok := c.queue.Current()
	if ok {
		c.queue.SetPrevious(left)
		c.archiveLater(left)
		c.sendEvent(Event{Type: EventTrackSkipped, Track: &left})
		zlog.Info().Msgf("playback: skipped: track=%s", left.ID())
	}

	return c.advance(c.config.SkipWait)
}

// Previous swaps the current track with the remembered previous one.
// A second call swaps them back.
func (c *Controller) Previous() error {
	prev, ok := c.queue.Previous()
	if !ok {
		zlog.Debug().Msg("playback: previous ignored: no previous track")
		return nil
	}
	if !c.transitioning.CompareAndSwap(false, true) {
		zlog.Debug().Msg("playback: previous ignored: transition in flight")
		return nil
	}
	defer c.transitioning.Store(false)

	// Resolve before touching the stream so a failure leaves playback unchanged.
	loc, err := c.resolve(prev)
	if err != nil {
		zlog.Warn().Err(err).Msgf("playback: previous aborted: track=%s", prev.ID())
		return err
	}
	prev.Location = loc

	c.setState(StateTransitioning)
	c.teardown()

	if cur, ok := c.queue.Current(); ok {
		c.queue.SetPrevious(cur)
		c.archiveLater(cur)
	} else {
		c.queue.ClearPrevious()
	}
	c.queue.SetCurrent(prev)

	zlog.Info().Msgf("playback: previous: track=%s", prev.ID())
	return c.start(prev, true)
}

// Pause tears down the stream but keeps the current track and the queue.
// It is a no-op unless playing.
func (c *Controller) Pause() error {
	if !c.transitioning.CompareAndSwap(false, true) {
		return nil
	}
	defer c.transitioning.Store(false)

	if c.State() != StatePlaying {
		return nil
	}

	c.teardown()
	c.setState(StatePaused)

	cur, _ := c.queue.Current()
	c.sendEvent(Event{Type: EventStateChanged, Track: &cur})
	zlog.Info().Msgf("playback: paused: track=%s", cur.ID())
	return nil
}

// Resume restarts the current track without advancing the queue.
// It is a no-op unless paused.
func (c *Controller) Resume() error {
	if !c.transitioning.CompareAndSwap(false, true) {
		return nil
	}
	defer c.transitioning.Store(false)

	if c.State() != StatePaused {
		return nil
	}

	cur, ok := c.queue.Current()
	if !ok {
		c.setState(StateIdle)
		return nil
	}

	if err := c.start(cur, false); err != nil {
		return err
	}
	c.sendEvent(Event{Type: EventStateChanged, Track: &cur})
	zlog.Info().Msgf("playback: resumed: track=%s", cur.ID())
	return nil
}

// Close stops playback and releases all resources.
func (c *Controller) Close() {
	c.cancel()
	c.teardown()
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.state = StateIdle
		close(c.eventCh)
	}
}

// play selects and starts a track. The caller holds the transition guard.
func (c *Controller) play(useNew bool) error {
	cur, ok := c.queue.Current()
	if useNew || !ok {
		next, ok := c.queue.PopFront()
		if !ok {
			c.stall("play")
			return ErrQueueEmpty
		}
		c.queue.SetCurrent(next)
		return c.start(next, true)
	}
	return c.start(cur, false)
}

// advance pops the next track, waiting up to wait for the prefetcher.
// The caller holds the transition guard and has already torn down.
func (c *Controller) advance(wait time.Duration) error {
	next, ok := c.queue.PopFront()
	if !ok {
		c.prefetcher.EnsureQueueSize()
		next, ok = c.queue.WaitPop(c.ctx, wait)
	}
	if !ok {
		c.queue.ClearCurrent()
		c.stall("advance")
		return ErrQueueEmpty
	}
	c.queue.SetCurrent(next)
	return c.start(next, true)
}

// stall leaves playback idle and waits for the queue to be refilled.
func (c *Controller) stall(op string) {
	zlog.Warn().Msgf("playback: %s: queue empty, waiting for tracks", op)
	c.setState(StateIdle)
	c.sendEvent(Event{Type: EventQueueEmpty})
	c.armRecovery()
}

// start tears down any previous stream and starts t. A selected track is
// announced to listeners before any of its audio.
func (c *Controller) start(t track.Track, announce bool) error {
	c.teardown()
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	c.setState(StateLoading)

	if announce {
		c.mu.Lock()
		idx := c.index
		c.index++
		c.mu.Unlock()

		m := broadcast.NewMetadata(t.ID(), t.Title, idx)
		m.RequestedBy = t.RequestedBy
		m.Duration = t.Duration
		c.broadcaster.Announce(m)
		c.sendEvent(Event{Type: EventTrackStarted, Track: &t, Index: idx})
	}

	s, err := c.transcoder.Start(t)
	if err != nil {
		zlog.Error().Err(err).Msgf("playback: failed to start transcoder: track=%s", t.ID())
		c.setState(StateIdle)
		c.sendEvent(Event{Type: EventTranscodeFailed, Track: &t})
		c.armRecovery()
		return err
	}

	// Paced at the encoder's output rate, not the source's.
	bitrate := c.config.PaceBitrate
	th := broadcast.NewThrottle(s, bitrate/8)

	c.streamMu.Lock()
	// Close cancels before it tears down, so either its teardown sees this
	// stream or this check sees the cancellation.
	if c.ctx.Err() != nil {
		c.streamMu.Unlock()
		_ = s.Kill()
		_ = s.Close()
		_ = th.Close()
		return ErrClosed
	}
	c.gen++
	gen := c.gen
	c.stream = s
	c.throttle = th
	c.streamMu.Unlock()

	c.setState(StatePlaying)

	c.wg.Add(1)
	go c.pump(gen, th, s)

	zlog.Info().Msgf("playback: playing: track=%s title=%q bitrate=%d", t.ID(), t.Title, bitrate)
	return nil
}

// teardown kills the process, closes the raw stream and closes the throttle.
// It is idempotent; missing resources are skipped.
func (c *Controller) teardown() {
	c.streamMu.Lock()
	c.gen++
	s, th := c.stream, c.throttle
	c.stream, c.throttle = nil, nil
	c.streamMu.Unlock()

	if s != nil {
		if err := s.Kill(); err != nil {
			zlog.Warn().Err(err).Msg("playback: failed to kill transcoder")
		}
		_ = s.Close()
	}
	if th != nil {
		_ = th.Close()
	}
}

func (c *Controller) currentGen(gen uint64) bool {
	c.streamMu.RLock()
	defer c.streamMu.RUnlock()
	return c.gen == gen
}

// pump copies paced audio to the broadcaster while gen is current.
func (c *Controller) pump(gen uint64, th *broadcast.Throttle, s Stream) {
	defer c.wg.Done()

	buf := make([]byte, th.ChunkSize())
	for {
		n, err := th.Read(buf)
		if n > 0 {
			c.streamMu.RLock()
			if c.gen != gen {
				c.streamMu.RUnlock()
				return
			}
			c.broadcaster.Broadcast(buf[:n])
			c.streamMu.RUnlock()
		}
		if err != nil {
			break
		}
	}

	code, err := s.Wait()
	c.onStreamEnd(gen, code, err)
}

// onStreamEnd reacts to the end of the stream of generation gen.
func (c *Controller) onStreamEnd(gen uint64, code int, err error) {
	if !c.currentGen(gen) || c.ctx.Err() != nil {
		return
	}
	if !c.transitioning.CompareAndSwap(false, true) {
		// The transition in flight owns what happens next.
		return
	}
	defer c.transitioning.Store(false)
	if !c.currentGen(gen) {
		return
	}

	cur, _ := c.queue.Current()
	if code != 0 || err != nil {
		zlog.Warn().Err(err).Msgf("playback: transcoder exited: code=%d track=%s", code, cur.ID())
		c.sendEvent(Event{Type: EventTranscodeFailed, Track: &cur})

		if c.State() == StatePlaying && c.queue.Len() > 0 {
			zlog.Info().Msg("playback: recovering with a fresh selection")
			c.teardown()
			_ = c.play(true)
			return
		}
	}

	c.handleTrackEnd()
}

// handleTrackEnd advances after the current track finished.
// The caller holds the transition guard.
func (c *Controller) handleTrackEnd() {
	c.setState(StateTransitioning)
	c.teardown()

	if ended, ok := c.queue.Current(); ok {
		c.queue.SetPrevious(ended)
		c.archiveLater(ended)
		c.sendEvent(Event{Type: EventTrackEnded, Track: &ended})
		zlog.Info().Msgf("playback: track ended: track=%s", ended.ID())
	}

	c.prefetcher.EnsureQueueSize()
	_ = c.advance(c.config.TrackEndWait)
}

// armRecovery starts a single watcher that plays again once the queue is
// refilled while playback is idle.
func (c *Controller) armRecovery() {
	if c.ctx.Err() != nil || !c.recovering.CompareAndSwap(false, true) {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			changed := c.queue.Changed()
			if c.queue.Len() == 0 {
				select {
				case <-changed:
				case <-c.ctx.Done():
					c.recovering.Store(false)
					return
				}
			}

			if c.State() != StateIdle {
				c.recovering.Store(false)
				return
			}

			// Released before playing so a failed play can arm again.
			c.recovering.Store(false)
			err := c.Play(true)
			if !errors.Is(err, ErrTransitionInFlight) {
				if err != nil {
					zlog.Debug().Err(err).Msg("playback: recovery play failed")
				}
				return
			}
			if !c.recovering.CompareAndSwap(false, true) {
				return
			}
			select {
			case <-time.After(100 * time.Millisecond):
			case <-c.ctx.Done():
				c.recovering.Store(false)
				return
			}
		}
	}()
}

// archiveLater archives t after the settle delay if it lives in the work dir.
func (c *Controller) archiveLater(t track.Track) {
	if !c.cache.IsEphemeral(t.Location) {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-time.After(c.config.ArchiveSettle):
		case <-c.ctx.Done():
			return
		}

		newPath, err := c.cache.Archive(t.Location, t.Title)
		if err != nil {
			zlog.Warn().Err(err).Msgf("playback: archive failed: track=%s", t.ID())
			return
		}
		if prev, ok := c.queue.Previous(); ok && prev.Location == t.Location {
			prev.Location = newPath
			c.queue.SetPrevious(prev)
		}
		zlog.Debug().Msgf("playback: archived: track=%s path=%s", t.ID(), newPath)
	}()
}

// resolve returns a playable location for a track that left the air.
func (c *Controller) resolve(t track.Track) (string, error) {
	if !c.cache.IsEphemeral(t.Location) {
		return t.Location, nil
	}
	if p, ok := c.cache.Lookup(t.Title); ok {
		return p, nil
	}
	if _, err := os.Stat(t.Location); err != nil {
		return "", errors.Wrapf(ErrPreviousUnavailable, "track %s", t.ID())
	}
	return t.Location, nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.state = s
}

// sendEvent sends an event without blocking.
func (c *Controller) sendEvent(e Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return
	}
	e.State = c.state
	select {
	case c.eventCh <- e:
	case <-c.ctx.Done():
	default:
		// Channel full, drop event
	}
}
