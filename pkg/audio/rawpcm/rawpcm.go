// Package rawpcm implements an [audio.CaptureEngine] that reads fixed-size
// frames of 16-bit signed little-endian PCM from an io.Reader.
//
// It is the default frame source for the car-mode CLI: a recorder process
// (e.g., arecord, sox, ffmpeg) writes raw mono PCM to a pipe and this engine
// slices the byte stream into frames. It is also convenient in tests, where
// the reader is a bytes.Reader over synthesized PCM.
//
// The engine is restartable: Stop pauses reading, Start resumes from the
// current reader position. Reaching EOF emits an [audio.EngineEnded] event;
// read failures emit [audio.EngineError]. The Frames and Events channels stay
// valid across restarts.
package rawpcm

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/voxroad/pkg/audio"
)

const (
	defaultSampleRate   = 16000
	defaultFrameSamples = 2048
)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithSampleRate sets the sample rate stamped on emitted frames.
// Defaults to 16000 Hz.
func WithSampleRate(rate int) Option {
	return func(e *Engine) { e.sampleRate = rate }
}

// WithFrameSamples sets the number of mono samples per frame.
// Defaults to 2048.
func WithFrameSamples(n int) Option {
	return func(e *Engine) { e.frameSamples = n }
}

// WithRealtimePacing makes the engine sleep for one frame duration between
// reads, approximating a live microphone when the reader is a fast local
// source such as a file. Disabled by default.
func WithRealtimePacing() Option {
	return func(e *Engine) { e.paced = true }
}

// Engine reads PCM frames from r and implements [audio.CaptureEngine].
type Engine struct {
	r            io.Reader
	sampleRate   int
	frameSamples int
	paced        bool

	frames chan audio.AudioFrame
	events chan audio.EngineEvent

	mu       sync.Mutex
	running  bool
	pause    chan struct{} // closed to pause the read loop
	elapsed  time.Duration
	finished bool // EOF or fatal read error reached
}

var _ audio.CaptureEngine = (*Engine)(nil)

// New creates an Engine reading from r. The reader is consumed lazily: no
// bytes are read until Start is called.
func New(r io.Reader, opts ...Option) *Engine {
	e := &Engine{
		r:            r,
		sampleRate:   defaultSampleRate,
		frameSamples: defaultFrameSamples,
		frames:       make(chan audio.AudioFrame, 64),
		events:       make(chan audio.EngineEvent, 8),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start begins (or resumes) the read loop. A no-op when already running.
// Returns an error if the source has already reached EOF.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return errors.New("rawpcm: source exhausted")
	}
	if e.running {
		return nil
	}
	e.running = true
	pause := make(chan struct{})
	e.pause = pause
	go e.readLoop(ctx, pause)
	return nil
}

// Stop pauses the read loop. Safe to call multiple times; the shared Frames
// and Events channels remain open.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	e.running = false
	close(e.pause)
	e.pause = nil
	return nil
}

// Frames returns the frame channel shared across restarts.
func (e *Engine) Frames() <-chan audio.AudioFrame { return e.frames }

// Events returns the engine event channel.
func (e *Engine) Events() <-chan audio.EngineEvent { return e.events }

// readLoop slices the reader into frames until paused, cancelled, or EOF.
func (e *Engine) readLoop(ctx context.Context, pause <-chan struct{}) {
	frameBytes := e.frameSamples * 2
	frameDur := time.Duration(e.frameSamples) * time.Second / time.Duration(e.sampleRate)

	for {
		select {
		case <-ctx.Done():
			e.halt()
			return
		case <-pause:
			return
		default:
		}

		buf := make([]byte, frameBytes)
		n, err := io.ReadFull(e.r, buf)
		if n > 0 {
			e.mu.Lock()
			ts := e.elapsed
			e.elapsed += frameDur
			e.mu.Unlock()

			frame := audio.AudioFrame{
				Data:       buf[:n],
				SampleRate: e.sampleRate,
				Channels:   1,
				Timestamp:  ts,
			}
			select {
			case e.frames <- frame:
			case <-pause:
				return
			case <-ctx.Done():
				e.halt()
				return
			}
		}

		if err != nil {
			e.finish(err)
			return
		}

		if e.paced {
			select {
			case <-time.After(frameDur):
			case <-pause:
				return
			case <-ctx.Done():
				e.halt()
				return
			}
		}
	}
}

// finish marks the source exhausted and emits the matching engine event.
func (e *Engine) finish(err error) {
	e.mu.Lock()
	e.finished = true
	e.running = false
	e.pause = nil
	e.mu.Unlock()

	ev := audio.EngineEvent{Type: audio.EngineEnded}
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		ev = audio.EngineEvent{Type: audio.EngineError, Err: err}
	}
	select {
	case e.events <- ev:
	default:
	}
}

// halt clears the running flag after context cancellation.
func (e *Engine) halt() {
	e.mu.Lock()
	e.running = false
	e.pause = nil
	e.mu.Unlock()
}
