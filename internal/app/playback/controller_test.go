package playback

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19radio/internal/app/broadcast"
	"github.com/osa030/19radio/internal/app/queue"
	"github.com/osa030/19radio/internal/app/transcode"
	"github.com/osa030/19radio/internal/domain/track"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// fakeStream is a transcoder process whose output and exit the test controls.
type fakeStream struct {
	track  track.Track
	pr     *io.PipeReader
	pw     *io.PipeWriter
	done   chan struct{}
	once   sync.Once
	code   int
	killed atomic.Bool
}

func newFakeStream(t track.Track) *fakeStream {
	pr, pw := io.Pipe()
	return &fakeStream{track: t, pr: pr, pw: pw, done: make(chan struct{})}
}

func (s *fakeStream) Read(p []byte) (int, error) { return s.pr.Read(p) }
func (s *fakeStream) Close() error               { return s.pr.Close() }
func (s *fakeStream) Wait() (int, error) {
	<-s.done
	return s.code, nil
}

func (s *fakeStream) Kill() error {
	s.killed.Store(true)
	s.finish(-1)
	return nil
}

func (s *fakeStream) emit(data string) {
	go func() { _, _ = s.pw.Write([]byte(data)) }()
}

func (s *fakeStream) finish(code int) {
	s.once.Do(func() {
		s.code = code
		_ = s.pw.Close()
		close(s.done)
	})
}

type fakeTranscoder struct {
	mu      sync.Mutex
	streams []*fakeStream
	fail    error
}

func (f *fakeTranscoder) Start(t track.Track) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	s := newFakeStream(t)
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeTranscoder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func (f *fakeTranscoder) last() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

// fakeCache treats locations under tracks/ as ephemeral.
type fakeCache struct {
	mu       sync.Mutex
	archived map[string]string
	calls    map[string]int
	fail     bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{archived: make(map[string]string), calls: make(map[string]int)}
}

func (c *fakeCache) Lookup(title string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.archived[title]
	return p, ok
}

func (c *fakeCache) Archive(path, title string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[title]++
	if c.fail {
		return "", errors.New("disk full")
	}
	newPath := "cache/" + title + ".mp3"
	c.archived[title] = newPath
	return newPath, nil
}

func (c *fakeCache) IsEphemeral(location string) bool {
	return strings.HasPrefix(location, "tracks/")
}

func (c *fakeCache) archiveCalls() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.calls))
	for k, v := range c.calls {
		out[k] = v
	}
	return out
}

func (c *fakeCache) archivedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.archived)
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	audio    strings.Builder
	metadata []broadcast.Metadata
}

func (b *fakeBroadcaster) Broadcast(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audio.Write(chunk)
}

func (b *fakeBroadcaster) Announce(m broadcast.Metadata) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metadata = append(b.metadata, m)
}

func (b *fakeBroadcaster) audioString() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.audio.String()
}

func (b *fakeBroadcaster) announced() []broadcast.Metadata {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broadcast.Metadata(nil), b.metadata...)
}

type fakePrefetcher struct {
	calls atomic.Int32
}

func (p *fakePrefetcher) EnsureQueueSize() {
	p.calls.Add(1)
}

type harness struct {
	c  *Controller
	q  *queue.TrackQueue
	tc *fakeTranscoder
	ca *fakeCache
	b  *fakeBroadcaster
	p  *fakePrefetcher
}

func newHarness(t *testing.T, tracks ...string) *harness {
	t.Helper()
	h := &harness{
		q:  queue.New(),
		tc: &fakeTranscoder{},
		ca: newFakeCache(),
		b:  &fakeBroadcaster{},
		p:  &fakePrefetcher{},
	}
	for _, name := range tracks {
		h.q.PushBack(mk(name))
	}
	h.c = NewController(h.q, h.tc, h.ca, h.b, h.p, Config{
		SkipWait:      50 * time.Millisecond,
		TrackEndWait:  50 * time.Millisecond,
		ArchiveSettle: 10 * time.Millisecond,
	})
	t.Cleanup(h.c.Close)
	return h
}

func mk(name string) track.Track {
	return track.Track{Location: "tracks/" + name + ".mp3", Title: "Song " + name}.Normalize()
}

func (h *harness) current(t *testing.T) track.Track {
	t.Helper()
	cur, ok := h.q.Current()
	require.True(t, ok, "expected a current track")
	return cur
}

func TestController_PlaySelectsFrontAndAnnounces(t *testing.T) {
	h := newHarness(t, "A", "B")

	require.NoError(t, h.c.Play(true))

	assert.Equal(t, StatePlaying, h.c.State())
	assert.Equal(t, "tracks/A.mp3", h.current(t).Location)
	assert.Equal(t, 1, h.q.Len())

	meta := h.b.announced()
	require.Len(t, meta, 1)
	assert.Equal(t, "A.mp3", meta[0].Track)
	assert.Equal(t, 0, meta[0].Index)
	assert.Equal(t, "metadata", meta[0].Type)

	h.tc.last().emit("abc")
	assert.Eventually(t, func() bool { return h.b.audioString() == "abc" }, waitFor, tick)

	ev := <-h.c.Events()
	assert.Equal(t, EventTrackStarted, ev.Type)
	assert.Equal(t, "tracks/A.mp3", ev.Track.Location)
}

func TestController_PlayEmptyQueueRecoversOnPush(t *testing.T) {
	h := newHarness(t)

	err := h.c.Play(true)
	assert.True(t, errors.Is(err, ErrQueueEmpty))
	assert.Equal(t, StateIdle, h.c.State())
	assert.Equal(t, 0, h.tc.count())

	h.q.PushBack(mk("A"))

	assert.Eventually(t, func() bool { return h.c.State() == StatePlaying }, waitFor, tick)
	assert.Equal(t, "tracks/A.mp3", h.current(t).Location)
}

func TestController_SkipAdvances(t *testing.T) {
	h := newHarness(t, "A", "B")
	require.NoError(t, h.c.Play(true))
	first := h.tc.last()

	require.NoError(t, h.c.Skip())

	assert.True(t, first.killed.Load())
	assert.Equal(t, StatePlaying, h.c.State())
	assert.Equal(t, "tracks/B.mp3", h.current(t).Location)
	assert.Equal(t, 0, h.q.Len())
	assert.GreaterOrEqual(t, h.p.calls.Load(), int32(1))

	meta := h.b.announced()
	require.Len(t, meta, 2)
	assert.Equal(t, "B.mp3", meta[1].Track)
	assert.Equal(t, 1, meta[1].Index)

	// Archived after the settle delay; previous follows the archived path.
	assert.Eventually(t, func() bool {
		prev, ok := h.q.Previous()
		return ok && prev.Location == "cache/Song A.mp3"
	}, waitFor, tick)
	assert.False(t, h.c.Transitioning())
}

func TestController_SkipNoop(t *testing.T) {
	t.Run("nothing current or pending", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.c.Skip())
		assert.Equal(t, 0, h.tc.count())
		assert.Equal(t, int32(0), h.p.calls.Load())
	})

	t.Run("transition in flight", func(t *testing.T) {
		h := newHarness(t, "A", "B")
		require.NoError(t, h.c.Play(true))

		h.c.transitioning.Store(true)
		require.NoError(t, h.c.Skip())
		h.c.transitioning.Store(false)

		assert.Equal(t, 1, h.tc.count())
		assert.Equal(t, "tracks/A.mp3", h.current(t).Location)
	})
}

func TestController_SkipWaitsForPrefetcher(t *testing.T) {
	h := newHarness(t, "A")
	h.c.config.SkipWait = time.Second
	require.NoError(t, h.c.Play(true))

	go func() {
		time.Sleep(10 * time.Millisecond)
		h.q.PushBack(mk("late"))
	}()
	require.NoError(t, h.c.Skip())

	assert.Equal(t, "tracks/late.mp3", h.current(t).Location)
	assert.Equal(t, StatePlaying, h.c.State())
}

func TestController_SkipStallsWhenQueueStaysEmpty(t *testing.T) {
	h := newHarness(t, "A")
	require.NoError(t, h.c.Play(true))

	err := h.c.Skip()
	assert.True(t, errors.Is(err, ErrQueueEmpty))

	assert.Equal(t, StateIdle, h.c.State())
	_, ok := h.q.Current()
	assert.False(t, ok)
	prev, ok := h.q.Previous()
	require.True(t, ok)
	assert.Equal(t, "Song A", prev.Title)
	assert.False(t, h.c.Transitioning())

	// Recovery picks up the next push.
	h.q.PushBack(mk("B"))
	assert.Eventually(t, func() bool { return h.c.State() == StatePlaying }, waitFor, tick)
}

func TestController_PreviousToggles(t *testing.T) {
	h := newHarness(t, "A", "B")
	require.NoError(t, h.c.Play(true))
	require.NoError(t, h.c.Skip())
	require.Eventually(t, func() bool { return h.ca.archivedCount() == 1 }, waitFor, tick)

	require.NoError(t, h.c.Previous())
	assert.Equal(t, "cache/Song A.mp3", h.current(t).Location)
	prev, ok := h.q.Previous()
	require.True(t, ok)
	assert.Equal(t, "Song B", prev.Title)
	assert.Equal(t, StatePlaying, h.c.State())

	require.Eventually(t, func() bool { return h.ca.archivedCount() == 2 }, waitFor, tick)
	require.NoError(t, h.c.Previous())
	assert.Equal(t, "Song B", h.current(t).Title)
	prev, _ = h.q.Previous()
	assert.Equal(t, "Song A", prev.Title)

	meta := h.b.announced()
	require.Len(t, meta, 4)
	assert.Equal(t, 3, meta[3].Index)
}

func TestController_PreviousWithoutCurrent(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t)
	h.ca.fail = true

	// A non-ephemeral location plays as is.
	h.q.SetPrevious(track.Track{Location: filepath.Join(dir, "x.mp3"), Title: "X"}.Normalize())
	require.NoError(t, h.c.Previous())
	assert.Equal(t, "X", h.current(t).Title)
}

func TestController_PreviousAbortsWhenFileMissing(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.ca.fail = true
	require.NoError(t, h.c.Play(true))
	require.NoError(t, h.c.Skip())
	started := h.tc.count()

	err := h.c.Previous()
	assert.True(t, errors.Is(err, ErrPreviousUnavailable))

	assert.Equal(t, started, h.tc.count())
	assert.Equal(t, "tracks/B.mp3", h.current(t).Location)
	assert.Equal(t, StatePlaying, h.c.State())
	assert.False(t, h.c.Transitioning())
}

func TestController_PreviousUsesExistingWorkFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tracks"), 0o755))
	t.Chdir(dir)
	require.NoError(t, os.WriteFile("tracks/A.mp3", []byte("x"), 0o644))

	h := newHarness(t, "A", "B")
	h.ca.fail = true
	require.NoError(t, h.c.Play(true))
	require.NoError(t, h.c.Skip())

	require.NoError(t, h.c.Previous())
	assert.Equal(t, "tracks/A.mp3", h.current(t).Location)
}

func TestController_PauseResume(t *testing.T) {
	h := newHarness(t, "A", "B")

	// Not started yet.
	require.NoError(t, h.c.Pause())
	require.NoError(t, h.c.Resume())
	assert.Equal(t, StateIdle, h.c.State())

	require.NoError(t, h.c.Play(true))
	first := h.tc.last()

	require.NoError(t, h.c.Pause())
	assert.Equal(t, StatePaused, h.c.State())
	assert.True(t, first.killed.Load())
	assert.Equal(t, "tracks/A.mp3", h.current(t).Location)
	assert.Equal(t, 1, h.q.Len())

	require.NoError(t, h.c.Pause())
	assert.Equal(t, 1, h.tc.count())

	require.NoError(t, h.c.Resume())
	assert.Equal(t, StatePlaying, h.c.State())
	assert.Equal(t, 2, h.tc.count())
	assert.Equal(t, "tracks/A.mp3", h.tc.last().track.Location)
	assert.Equal(t, 1, h.q.Len(), "resume does not advance")
	assert.Len(t, h.b.announced(), 1, "resume does not announce")

	require.NoError(t, h.c.Resume())
	assert.Equal(t, 2, h.tc.count())
}

func TestController_TrackEndAdvances(t *testing.T) {
	h := newHarness(t, "A", "B")
	require.NoError(t, h.c.Play(true))

	h.tc.last().finish(0)

	assert.Eventually(t, func() bool {
		cur, ok := h.q.Current()
		return ok && cur.Location == "tracks/B.mp3" && h.c.State() == StatePlaying
	}, waitFor, tick)
	prev, ok := h.q.Previous()
	require.True(t, ok)
	assert.Equal(t, "Song A", prev.Title)
	assert.GreaterOrEqual(t, h.p.calls.Load(), int32(1))
}

func TestController_TrackEndDrainsToIdle(t *testing.T) {
	h := newHarness(t, "A")
	require.NoError(t, h.c.Play(true))

	h.tc.last().finish(0)

	assert.Eventually(t, func() bool {
		_, ok := h.q.Current()
		return !ok && h.c.State() == StateIdle && !h.c.Transitioning()
	}, waitFor, tick)
}

func TestController_TranscoderFailureSelectsFresh(t *testing.T) {
	h := newHarness(t, "A", "B")
	require.NoError(t, h.c.Play(true))

	h.tc.last().finish(1)

	assert.Eventually(t, func() bool {
		cur, ok := h.q.Current()
		return ok && cur.Location == "tracks/B.mp3" && h.c.State() == StatePlaying
	}, waitFor, tick)
	_, ok := h.q.Previous()
	assert.False(t, ok, "a failed track is not remembered")
}

func TestController_PacesAtOutputBitrate(t *testing.T) {
	tests := []struct {
		name   string
		pace   int
		source int
		want   int
	}{
		{name: "default output rate", source: 320000, want: 16000},
		{name: "low bitrate source", source: 64000, want: 16000},
		{name: "configured output rate", pace: 192000, source: 320000, want: 24000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := queue.New()
			tr := mk("A")
			tr.Bitrate = tt.source
			q.PushBack(tr)

			c := NewController(q, &fakeTranscoder{}, newFakeCache(), &fakeBroadcaster{}, &fakePrefetcher{}, Config{PaceBitrate: tt.pace})
			t.Cleanup(c.Close)
			require.NoError(t, c.Play(true))

			c.streamMu.RLock()
			th := c.throttle
			c.streamMu.RUnlock()
			require.NotNil(t, th)
			assert.Equal(t, tt.want, th.Rate())
		})
	}
}

func TestController_ArchivesOncePerTransition(t *testing.T) {
	names := make([]string, 12)
	for i := range names {
		names[i] = fmt.Sprintf("T%02d", i)
	}
	h := newHarness(t, names...)
	require.NoError(t, h.c.Play(true))

	for round := 0; round < 4; round++ {
		var wg sync.WaitGroup
		wg.Add(4)
		go func() { defer wg.Done(); _ = h.c.Skip() }()
		go func() {
			defer wg.Done()
			if s := h.tc.last(); s != nil {
				s.finish(0)
			}
		}()
		go func() { defer wg.Done(); _ = h.c.Previous() }()
		go func() { defer wg.Done(); _ = h.c.Skip() }()
		wg.Wait()
		require.Eventually(t, func() bool { return !h.c.Transitioning() }, waitFor, tick)
	}

	// Let pending archives run past the settle delay.
	time.Sleep(100 * time.Millisecond)

	calls := h.ca.archiveCalls()
	assert.NotEmpty(t, calls)
	for title, n := range calls {
		assert.Equal(t, 1, n, "archive calls for %s", title)
	}
}

func TestController_ProcessEndAdvancesNormally(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-ffmpeg")
	// A emits a short burst and exits cleanly; B stays on air until killed.
	body := "#!/bin/sh\ncase \"$*\" in *B.mp3*) exec sleep 30 ;; esac\nhead -c 3200 /dev/zero\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	tc := transcode.New(transcode.Config{FFmpegPath: script})
	start := TranscoderFunc(func(tr track.Track) (Stream, error) {
		p, err := tc.Start(tr)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	q := queue.New()
	q.PushBack(mk("A"))
	q.PushBack(mk("B"))
	ca := newFakeCache()
	b := &fakeBroadcaster{}
	c := NewController(q, start, ca, b, &fakePrefetcher{}, Config{
		TrackEndWait:  50 * time.Millisecond,
		ArchiveSettle: 10 * time.Millisecond,
	})
	// Cleanups run in reverse: the controller closes before the transcoder stops.
	t.Cleanup(tc.Stop)
	t.Cleanup(c.Close)

	require.NoError(t, c.Play(true))

	assert.Eventually(t, func() bool {
		cur, ok := q.Current()
		return ok && cur.Location == "tracks/B.mp3"
	}, 5*time.Second, tick)

	prev, ok := q.Previous()
	require.True(t, ok, "a cleanly ended track is remembered")
	assert.Equal(t, "Song A", prev.Title)
	assert.Eventually(t, func() bool { return ca.archiveCalls()["Song A"] == 1 }, waitFor, tick)
	assert.GreaterOrEqual(t, len(b.audioString()), 3200)
}

func TestController_StartAfterCloseIsRefused(t *testing.T) {
	h := newHarness(t, "A")
	h.c.Close()

	err := h.c.start(mk("A"), true)
	assert.True(t, errors.Is(err, ErrClosed))
	assert.Equal(t, 0, h.tc.count())
	assert.Empty(t, h.b.announced())
}

func TestController_StaleStreamIgnored(t *testing.T) {
	h := newHarness(t, "A", "B", "C")
	require.NoError(t, h.c.Play(true))
	old := h.tc.last()
	require.NoError(t, h.c.Skip())

	// The old process already got killed; a late exit must not advance.
	old.finish(1)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, "tracks/B.mp3", h.current(t).Location)
	assert.Equal(t, 2, h.tc.count())
	assert.Equal(t, 1, h.q.Len())
}

func TestController_StartFailureGoesIdle(t *testing.T) {
	h := newHarness(t, "A")
	h.tc.fail = errors.New("ffmpeg missing")

	err := h.c.Play(true)
	require.Error(t, err)
	assert.Equal(t, StateIdle, h.c.State())
	assert.False(t, h.c.Transitioning())
}

func TestController_PlayRejectedDuringTransition(t *testing.T) {
	h := newHarness(t, "A")
	h.c.transitioning.Store(true)
	defer h.c.transitioning.Store(false)

	assert.True(t, errors.Is(h.c.Play(true), ErrTransitionInFlight))
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateLoading, "loading"},
		{StatePlaying, "playing"},
		{StatePaused, "paused"},
		{StateTransitioning, "transitioning"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

func TestEventType_String(t *testing.T) {
	tests := []struct {
		event EventType
		want  string
	}{
		{EventTrackStarted, "track_started"},
		{EventTrackEnded, "track_ended"},
		{EventTrackSkipped, "track_skipped"},
		{EventStateChanged, "state_changed"},
		{EventQueueEmpty, "queue_empty"},
		{EventTranscodeFailed, "transcode_failed"},
		{EventType(99), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.String())
		})
	}
}
