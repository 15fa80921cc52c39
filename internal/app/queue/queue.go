// Package queue provides the track queue shared by playback and prefetch.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/osa030/19radio/internal/domain/track"
)

// Snapshot is a read-only copy of the queue state.
type Snapshot struct {
	Current  *track.Track  `json:"current"`
	Previous *track.Track  `json:"previous"`
	Pending  []track.Track `json:"pending"`
}

// TrackQueue holds the pending tracks plus the current and previous track.
// The pending sequence never contains the current or previous track.
type TrackQueue struct {
	mu sync.RWMutex

	pending  []track.Track
	current  *track.Track
	previous *track.Track

	// changed is closed and replaced on every push.
	changed chan struct{}
}

// New creates an empty queue.
func New() *TrackQueue {
	return &TrackQueue{
		pending: make([]track.Track, 0),
		changed: make(chan struct{}),
	}
}

// Current returns the currently playing track.
func (q *TrackQueue) Current() (track.Track, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.current == nil {
		return track.Track{}, false
	}
	return *q.current, true
}

// Previous returns the last track played before the current one.
func (q *TrackQueue) Previous() (track.Track, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.previous == nil {
		return track.Track{}, false
	}
	return *q.previous, true
}

// PeekNext returns the front of the pending sequence without removing it.
func (q *TrackQueue) PeekNext() (track.Track, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if len(q.pending) == 0 {
		return track.Track{}, false
	}
	return q.pending[0], true
}

// PushBack appends a track and wakes any waiter.
func (q *TrackQueue) PushBack(t track.Track) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, t)
	close(q.changed)
	q.changed = make(chan struct{})
}

// PopFront removes and returns the front track.
// It never blocks; ok is false when nothing is pending.
func (q *TrackQueue) PopFront() (track.Track, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popFrontLocked()
}

func (q *TrackQueue) popFrontLocked() (track.Track, bool) {
	if len(q.pending) == 0 {
		return track.Track{}, false
	}
	t := q.pending[0]
	q.pending[0] = track.Track{}
	q.pending = q.pending[1:]
	return t, true
}

// WaitPop pops the front track, waiting up to timeout for one to be pushed.
func (q *TrackQueue) WaitPop(ctx context.Context, timeout time.Duration) (track.Track, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		t, ok := q.popFrontLocked()
		changed := q.changed
		q.mu.Unlock()
		if ok {
			return t, true
		}

		select {
		case <-changed:
		case <-timer.C:
			return track.Track{}, false
		case <-ctx.Done():
			return track.Track{}, false
		}
	}
}

// Changed returns a channel that is closed on the next push.
func (q *TrackQueue) Changed() <-chan struct{} {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.changed
}

// List returns a copy of the pending tracks in play order.
func (q *TrackQueue) List() []track.Track {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]track.Track, len(q.pending))
	copy(result, q.pending)
	return result
}

// Snapshot returns a copy of the full queue state.
func (q *TrackQueue) Snapshot() Snapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()

	s := Snapshot{Pending: make([]track.Track, len(q.pending))}
	copy(s.Pending, q.pending)
	if q.current != nil {
		c := *q.current
		s.Current = &c
	}
	if q.previous != nil {
		p := *q.previous
		s.Previous = &p
	}
	return s
}

// SetCurrent sets the currently playing track.
func (q *TrackQueue) SetCurrent(t track.Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current = &t
}

// ClearCurrent forgets the current track.
func (q *TrackQueue) ClearCurrent() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current = nil
}

// SetPrevious remembers t as the previous track.
func (q *TrackQueue) SetPrevious(t track.Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.previous = &t
}

// ClearPrevious forgets the previous track.
func (q *TrackQueue) ClearPrevious() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.previous = nil
}

// Len returns the number of pending tracks.
func (q *TrackQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.pending)
}

// Contains reports whether location is current or pending.
func (q *TrackQueue) Contains(location string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.current != nil && q.current.Location == location {
		return true
	}
	for _, t := range q.pending {
		if t.Location == location {
			return true
		}
	}
	return false
}
