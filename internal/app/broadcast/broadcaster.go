package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// FrameKind represents the kind of a frame delivered to a sink.
type FrameKind int

const (
	FrameAudio    FrameKind = iota // Paced MP3 bytes
	FrameMetadata                  // Track change announcement
)

// String returns the string representation of the frame kind.
func (k FrameKind) String() string {
	switch k {
	case FrameAudio:
		return "audio"
	case FrameMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

// Metadata is the track change announcement sent to listeners.
type Metadata struct {
	Type        string `json:"type"`
	Track       string `json:"track"`
	Title       string `json:"title"`
	Index       int    `json:"index"`
	RequestedBy string `json:"requestedBy,omitempty"`
	Duration    string `json:"duration,omitempty"`
}

// NewMetadata builds a metadata announcement.
func NewMetadata(trackID, title string, index int) Metadata {
	return Metadata{Type: "metadata", Track: trackID, Title: title, Index: index}
}

// Frame is one unit delivered to a sink.
type Frame struct {
	Kind     FrameKind
	Data     []byte    // FrameAudio only; shared between sinks, must not be modified
	Metadata *Metadata // FrameMetadata only
}

// Sink is one listener's bounded frame buffer.
type Sink struct {
	id     string
	frames chan Frame
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

// ID returns the sink id.
func (s *Sink) ID() string {
	return s.id
}

// Frames returns the frame channel. It is never closed; select on Done as well.
func (s *Sink) Frames() <-chan Frame {
	return s.frames
}

// Done is closed once the sink has been removed.
func (s *Sink) Done() <-chan struct{} {
	return s.done
}

// Closed reports whether the sink has been closed.
func (s *Sink) Closed() bool {
	return s.closed.Load()
}

// Close marks the sink closed. Later broadcasts skip it.
func (s *Sink) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
}

func (s *Sink) offer(f Frame) bool {
	select {
	case s.frames <- f:
		return true
	default:
		return false
	}
}

// Observer receives broadcaster activity. Implementations must not block.
type Observer interface {
	SinkAttached(total int)
	SinkDetached(total int)
	SinkDropped()
	ChunkBroadcast(bytes, sinks int)
}

type nopObserver struct{}

func (nopObserver) SinkAttached(int)        {}
func (nopObserver) SinkDetached(int)        {}
func (nopObserver) SinkDropped()            {}
func (nopObserver) ChunkBroadcast(int, int) {}

// Config holds broadcaster configuration.
type Config struct {
	SinkBuffer int      // Frames buffered per sink before it is dropped
	Observer   Observer // Optional
}

// Broadcaster delivers the same frames, in the same order, to every live sink.
type Broadcaster struct {
	mu      sync.RWMutex
	sinks   map[string]*Sink
	current *Metadata

	buffer   int
	observer Observer
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster(cfg Config) *Broadcaster {
	if cfg.SinkBuffer <= 0 {
		cfg.SinkBuffer = 64
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	return &Broadcaster{
		sinks:    make(map[string]*Sink),
		buffer:   cfg.SinkBuffer,
		observer: cfg.Observer,
	}
}

// Attach registers a new sink. If a track is playing, its metadata is the
// first frame on the sink. No earlier audio is replayed.
func (b *Broadcaster) Attach() *Sink {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &Sink{
		id:     uuid.New().String(),
		frames: make(chan Frame, b.buffer),
		done:   make(chan struct{}),
	}
	if b.current != nil {
		m := *b.current
		s.offer(Frame{Kind: FrameMetadata, Metadata: &m})
	}
	b.sinks[s.id] = s

	zlog.Info().Msgf("broadcast: sink attached: id=%s total=%d", s.id, len(b.sinks))
	b.observer.SinkAttached(len(b.sinks))
	return s
}

// Detach removes and closes a sink. Unknown ids are ignored.
func (b *Broadcaster) Detach(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.removeLocked(id) {
		zlog.Info().Msgf("broadcast: sink detached: id=%s total=%d", id, len(b.sinks))
		b.observer.SinkDetached(len(b.sinks))
	}
}

// Broadcast delivers an audio chunk to every sink without blocking.
// A sink whose buffer is full is removed; other sinks are unaffected.
func (b *Broadcaster) Broadcast(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	f := Frame{Kind: FrameAudio, Data: append([]byte(nil), chunk...)}

	b.mu.RLock()
	failed, delivered := b.fanOutLocked(f)
	b.mu.RUnlock()

	b.observer.ChunkBroadcast(len(chunk), delivered)
	if len(failed) > 0 {
		b.drop(failed)
	}
}

// Announce broadcasts a metadata frame and remembers it for late joiners.
func (b *Broadcaster) Announce(m Metadata) {
	if m.Type == "" {
		m.Type = "metadata"
	}

	b.mu.Lock()
	b.current = &m
	failed, _ := b.fanOutLocked(Frame{Kind: FrameMetadata, Metadata: &m})
	b.mu.Unlock()

	zlog.Debug().Msgf("broadcast: announced: track=%s index=%d", m.Track, m.Index)
	if len(failed) > 0 {
		b.drop(failed)
	}
}

// Current returns the last announced metadata.
func (b *Broadcaster) Current() (Metadata, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.current == nil {
		return Metadata{}, false
	}
	return *b.current, true
}

// SinkCount returns the number of attached sinks.
func (b *Broadcaster) SinkCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks)
}

// Close closes and removes every sink.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id := range b.sinks {
		b.removeLocked(id)
	}
	b.observer.SinkDetached(0)
}

// fanOutLocked offers f to every open sink and returns the ids that failed.
// Must be called with lock held (read or write).
func (b *Broadcaster) fanOutLocked(f Frame) (failed []string, delivered int) {
	for id, s := range b.sinks {
		if s.Closed() {
			continue
		}
		if !s.offer(f) {
			failed = append(failed, id)
			continue
		}
		delivered++
	}
	return failed, delivered
}

func (b *Broadcaster) drop(ids []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range ids {
		if b.removeLocked(id) {
			zlog.Warn().Msgf("broadcast: sink dropped (buffer full): id=%s", id)
			b.observer.SinkDropped()
		}
	}
	b.observer.SinkDetached(len(b.sinks))
}

// removeLocked removes a sink. Must be called with lock held.
func (b *Broadcaster) removeLocked(id string) bool {
	s, ok := b.sinks[id]
	if !ok {
		return false
	}
	delete(b.sinks, id)
	s.Close()
	return true
}
