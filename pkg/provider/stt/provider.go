// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider wraps a batch transcription service (e.g., the OpenAI audio API
// or a local whisper-server instance) behind a single call: one bounded
// audio chunk in, one transcript out. The gateway treats providers as opaque
// request/response boundaries — no streaming, no partials.
//
// Implementations must be safe for concurrent use; the gateway issues
// independent calls per request.
package stt

import (
	"context"
	"io"
)

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe submits one complete utterance for recognition. audio is the
	// encoded chunk (format indicated by the MIME tag, e.g. "audio/wav") and
	// is fully consumed before Transcribe returns.
	//
	// The returned text may be empty — an empty transcript means the upstream
	// recognized no speech, which is not an error. A non-nil error indicates
	// the upstream call itself failed.
	Transcribe(ctx context.Context, audio io.Reader, mime string) (string, error)
}
