// Package mock provides test doubles for the audio capture and playback
// interfaces. The mock engine gives tests full control over frame delivery
// and engine lifecycle events without any real audio device.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/voxroad/pkg/audio"
)

// Engine is a controllable in-memory [audio.CaptureEngine].
//
// Tests push frames with [Engine.PushFrame] and lifecycle events with
// [Engine.PushEvent]. Start/Stop calls are counted so tests can assert the
// restart and double-release behaviour of the session controller.
type Engine struct {
	mu         sync.Mutex
	running    bool
	startCalls int
	stopCalls  int
	startErr   error

	frames chan audio.AudioFrame
	events chan audio.EngineEvent
}

var _ audio.CaptureEngine = (*Engine)(nil)

// NewEngine creates a mock engine with buffered frame and event channels.
func NewEngine() *Engine {
	return &Engine{
		frames: make(chan audio.AudioFrame, 256),
		events: make(chan audio.EngineEvent, 16),
	}
}

// Start marks the engine as running. Returns the error configured via
// [Engine.FailNextStart], if any.
func (e *Engine) Start(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startCalls++
	if e.startErr != nil {
		err := e.startErr
		e.startErr = nil
		return err
	}
	e.running = true
	return nil
}

// Stop marks the engine as stopped. Always returns nil; every call is counted.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopCalls++
	e.running = false
	return nil
}

// Frames returns the frame channel shared across restarts.
func (e *Engine) Frames() <-chan audio.AudioFrame { return e.frames }

// Events returns the event channel shared across restarts.
func (e *Engine) Events() <-chan audio.EngineEvent { return e.events }

// PushFrame delivers a frame to the consumer.
func (e *Engine) PushFrame(f audio.AudioFrame) { e.frames <- f }

// PushEvent delivers an engine lifecycle event to the consumer.
func (e *Engine) PushEvent(ev audio.EngineEvent) { e.events <- ev }

// FailNextStart makes the next Start call return err.
func (e *Engine) FailNextStart(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startErr = err
}

// Running reports whether the engine is currently started.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// StartCalls returns how many times Start was called.
func (e *Engine) StartCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startCalls
}

// StopCalls returns how many times Stop was called.
func (e *Engine) StopCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopCalls
}

// Player is a recording [audio.Player]. Each Play call is captured; tests may
// configure a fixed error or make playback block until ctx is cancelled.
type Player struct {
	mu      sync.Mutex
	plays   []PlayCall
	playErr error
	block   bool
}

var _ audio.Player = (*Player)(nil)

// PlayCall records the arguments of one Play invocation.
type PlayCall struct {
	Data []byte
	MIME string
}

// NewPlayer creates an empty recording player.
func NewPlayer() *Player { return &Player{} }

// Play records the call and returns the configured error. When blocking mode
// is enabled it waits for ctx cancellation and returns ctx.Err().
func (p *Player) Play(ctx context.Context, data []byte, mime string) error {
	p.mu.Lock()
	p.plays = append(p.plays, PlayCall{Data: append([]byte(nil), data...), MIME: mime})
	err := p.playErr
	block := p.block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

// FailWith makes all subsequent Play calls return err.
func (p *Player) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playErr = err
}

// Block makes subsequent Play calls block until their context is cancelled.
func (p *Player) Block() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.block = true
}

// Plays returns a copy of all recorded Play calls.
func (p *Player) Plays() []PlayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PlayCall, len(p.plays))
	copy(out, p.plays)
	return out
}

// ErrNoFrames is available for tests that need a sentinel capture error.
var ErrNoFrames = errors.New("mock: no frames available")
