package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// WriterPlayer is a [Player] that hands synthesized audio to an io.Writer —
// typically a pipe feeding an external playback process (aplay, ffplay, …).
// Writes are serialized; the MIME tag is ignored because the downstream
// process is expected to sniff or be configured for the format.
type WriterPlayer struct {
	mu sync.Mutex
	w  io.Writer
}

var _ Player = (*WriterPlayer)(nil)

// NewWriterPlayer creates a WriterPlayer emitting to w.
func NewWriterPlayer(w io.Writer) *WriterPlayer {
	return &WriterPlayer{w: w}
}

// Play writes the full reply to the underlying writer. It honours ctx only
// between calls — an individual write is not interruptible.
func (p *WriterPlayer) Play(ctx context.Context, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.Write(data); err != nil {
		return fmt.Errorf("audio: playback write: %w", err)
	}
	return nil
}
