// Package mock provides a scripted tts.Provider for tests.
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/MrWong99/voxroad/pkg/provider/tts"
)

// Provider is a configurable [tts.Provider] returning fixed audio bytes.
type Provider struct {
	mu    sync.Mutex
	audio []byte
	mime  string
	err   error
	calls []Call
}

var _ tts.Provider = (*Provider)(nil)

// Call records the arguments of one Synthesize invocation.
type Call struct {
	Text  string
	Voice string
}

// New creates a Provider that streams audio with the given MIME type.
func New(audio []byte, mime string) *Provider {
	return &Provider{audio: audio, mime: mime}
}

// FailWith makes all subsequent Synthesize calls return err.
func (p *Provider) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Synthesize records the call and returns the configured audio stream.
func (p *Provider) Synthesize(_ context.Context, text string, voice string) (io.ReadCloser, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Text: text, Voice: voice})
	if p.err != nil {
		return nil, "", p.err
	}
	return io.NopCloser(bytes.NewReader(p.audio)), p.mime, nil
}

// Calls returns a copy of all recorded calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}
