// Package mock provides a scripted chat.Backend for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxroad/pkg/chat"
)

// Backend is a scripted [chat.Backend]. By default every Submit immediately
// produces a reply echoing the scripted text; tests may hold replies back and
// release them manually to exercise timing behaviour.
type Backend struct {
	mu        sync.Mutex
	replies   map[string]chan chat.Reply
	script    []chat.Reply
	submitErr error
	manual    bool
	calls     []Call
}

var _ chat.Backend = (*Backend)(nil)

// Call records the arguments of one Submit invocation.
type Call struct {
	SessionID string
	Text      string
}

// New creates an empty Backend. Without scripting, replies echo the submitted
// text prefixed with "echo: ".
func New() *Backend {
	return &Backend{replies: make(map[string]chan chat.Reply)}
}

// Queue appends scripted replies consumed one per Submit. SessionID is filled
// in from the submission.
func (b *Backend) Queue(replies ...chat.Reply) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.script = append(b.script, replies...)
}

// FailSubmitWith makes all subsequent Submit calls return err without
// producing a reply.
func (b *Backend) FailSubmitWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitErr = err
}

// HoldReplies suppresses automatic replies; tests deliver them with Push.
func (b *Backend) HoldReplies() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.manual = true
}

// Push delivers a reply to the session channel directly.
func (b *Backend) Push(r chat.Reply) {
	b.channel(r.SessionID) <- r
}

// Submit records the call and, unless replies are held, delivers the next
// scripted (or echo) reply on the session channel.
func (b *Backend) Submit(_ context.Context, sessionID, text string) error {
	b.mu.Lock()
	b.calls = append(b.calls, Call{SessionID: sessionID, Text: text})
	if b.submitErr != nil {
		err := b.submitErr
		b.mu.Unlock()
		return err
	}
	reply := chat.Reply{SessionID: sessionID, Text: "echo: " + text}
	if len(b.script) > 0 {
		reply = b.script[0]
		reply.SessionID = sessionID
		b.script = b.script[1:]
	}
	manual := b.manual
	b.mu.Unlock()

	if !manual {
		b.channel(sessionID) <- reply
	}
	return nil
}

// Replies returns the stable reply channel for sessionID.
func (b *Backend) Replies(sessionID string) <-chan chat.Reply {
	return b.channel(sessionID)
}

// Calls returns a copy of all recorded submissions.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

func (b *Backend) channel(sessionID string) chan chat.Reply {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.replies[sessionID]
	if !ok {
		ch = make(chan chat.Reply, 16)
		b.replies[sessionID] = ch
	}
	return ch
}
