// Package audio defines the interfaces and types for audio capture and
// playback within VoxRoad.
//
// The two primary abstractions are:
//
//   - [CaptureEngine] — a continuous microphone-style frame source with
//     start/stop lifecycle and out-of-band engine events.
//   - [Player] — plays back a complete synthesized reply.
//
// Implementations are provided by adapter packages (e.g., audio/rawpcm for a
// descriptor-backed recorder process, audio/mock for tests). The interfaces
// are intentionally narrow to keep the car-mode state machine decoupled from
// any hardware SDK.
package audio

import "context"

// EngineEventType classifies out-of-band events emitted by a [CaptureEngine].
type EngineEventType int

const (
	// EngineEnded is emitted when the engine stops delivering frames on its
	// own (e.g., the recorder process exits, an upstream timeout fires).
	// The session controller decides whether to restart capture.
	EngineEnded EngineEventType = iota

	// EngineError is emitted on a capture-level failure. The error carried in
	// the event describes the cause; the engine stops delivering frames until
	// restarted.
	EngineError
)

// String returns the human-readable name of the event type.
func (e EngineEventType) String() string {
	switch e {
	case EngineEnded:
		return "ENDED"
	case EngineError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// EngineEvent describes a capture lifecycle change.
type EngineEvent struct {
	// Type indicates what happened.
	Type EngineEventType

	// Err carries the failure cause for EngineError events; nil otherwise.
	Err error
}

// CaptureEngine is a restartable source of audio frames.
//
// The Frames and Events channels remain valid across Start/Stop cycles so a
// consumer can keep a single receive loop alive while the engine is bounced.
// Implementations must be safe for concurrent use; Stop must be idempotent
// and must not close the shared channels.
type CaptureEngine interface {
	// Start begins (or resumes) frame delivery. Returns an error if capture
	// cannot be (re)established. Calling Start on a running engine is a no-op.
	Start(ctx context.Context) error

	// Stop halts frame delivery and releases the underlying capture resource.
	// Calling Stop more than once is safe and returns nil.
	Stop() error

	// Frames returns the channel delivering captured frames. The channel is
	// shared across restarts and is only closed when the engine is torn down
	// for good (implementation defined, e.g. source EOF with no restart).
	Frames() <-chan AudioFrame

	// Events returns the channel delivering engine lifecycle events.
	Events() <-chan EngineEvent
}

// Player plays back one complete synthesized reply. Play blocks until
// playback finishes or ctx is cancelled; cancelling must abort playback.
//
// Implementations must be safe for concurrent use, though the car-mode loop
// never runs more than one playback at a time.
type Player interface {
	Play(ctx context.Context, data []byte, mime string) error
}
