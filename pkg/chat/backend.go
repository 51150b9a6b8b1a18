// Package chat defines the Backend interface for conversational reply
// generation.
//
// The voice loop hands finished transcripts to a Backend and consumes replies
// asynchronously. Reply latency is unbounded from the loop's point of view;
// the caller is expected to guard against a stalled backend with its own
// watchdog.
package chat

import "context"

// Reply is one assistant answer for a submitted transcript. A non-nil Err
// means the backend failed to produce an answer for that submission.
type Reply struct {
	SessionID string
	Text      string
	Err       error
}

// Backend is the abstraction over any conversational backend.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Submit hands a user transcript to the backend. It returns once the
	// submission is accepted; the answer arrives later on Replies.
	Submit(ctx context.Context, sessionID, text string) error

	// Replies returns the reply channel for a session. The channel is stable
	// across calls with the same sessionID and is never closed by the
	// backend.
	Replies(sessionID string) <-chan Reply
}
