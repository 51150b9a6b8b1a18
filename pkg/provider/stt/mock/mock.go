// Package mock provides a scripted stt.Provider for tests.
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/voxroad/pkg/provider/stt"
)

// Provider is a scripted [stt.Provider]. Results are returned in the order
// they were queued; once the script is exhausted the default text/error pair
// is returned. All calls are recorded.
type Provider struct {
	mu      sync.Mutex
	script  []Result
	defText string
	defErr  error
	calls   []Call
}

var _ stt.Provider = (*Provider)(nil)

// Result is one scripted Transcribe outcome.
type Result struct {
	Text string
	Err  error
}

// Call records the arguments of one Transcribe invocation.
type Call struct {
	Audio []byte
	MIME  string
}

// New creates a Provider that returns defText/defErr when no scripted
// results remain.
func New(defText string, defErr error) *Provider {
	return &Provider{defText: defText, defErr: defErr}
}

// Queue appends scripted results consumed one per call.
func (p *Provider) Queue(results ...Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = append(p.script, results...)
}

// Transcribe consumes the audio reader, records the call, and returns the
// next scripted (or default) result.
func (p *Provider) Transcribe(_ context.Context, audio io.Reader, mime string) (string, error) {
	data, err := io.ReadAll(audio)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Audio: data, MIME: mime})
	if len(p.script) > 0 {
		r := p.script[0]
		p.script = p.script[1:]
		return r.Text, r.Err
	}
	return p.defText, p.defErr
}

// Calls returns a copy of all recorded calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}
