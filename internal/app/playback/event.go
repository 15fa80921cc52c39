package playback

import "github.com/osa030/19radio/internal/domain/track"

// EventType represents a playback event type.
type EventType int

const (
	EventTrackStarted    EventType = iota // A newly selected track started streaming
	EventTrackEnded                       // Track reached end of data
	EventTrackSkipped                     // Track was skipped
	EventStateChanged                     // Paused or resumed
	EventQueueEmpty                       // Nothing to play; waiting for the queue
	EventTranscodeFailed                  // Transcoder exited with an error
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventTrackSkipped:
		return "track_skipped"
	case EventStateChanged:
		return "state_changed"
	case EventQueueEmpty:
		return "queue_empty"
	case EventTranscodeFailed:
		return "transcode_failed"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type  EventType
	Track *track.Track // Track concerned (nil for some events)
	State State        // Playback state after the event
	Index int          // Metadata index of the track (EventTrackStarted only)
}
