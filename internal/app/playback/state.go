// Package playback drives the play/skip/previous/pause/resume state machine
// on top of the track queue, the transcoder and the broadcaster.
package playback

// State represents the playback state.
type State int

const (
	StateIdle          State = iota // Nothing streaming (not started, drained or failed)
	StateLoading                    // Transcoder is being started
	StatePlaying                    // Audio is being broadcast
	StatePaused                     // Stream torn down, current track retained
	StateTransitioning              // Skip, previous or track end in progress
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateTransitioning:
		return "transitioning"
	default:
		return "unknown"
	}
}
