// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A provider wraps a synthesis service (e.g., the OpenAI audio API or
// ElevenLabs) behind a single call: bounded text in, an audio byte stream
// out. Failures are reported to the caller without local retry.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"io"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given provider-specific voice
	// identifier. It returns the audio stream and its MIME type (e.g.,
	// "audio/mpeg"). The caller owns the stream and must close it.
	//
	// An empty voice selects the provider's default voice.
	Synthesize(ctx context.Context, text string, voice string) (io.ReadCloser, string, error)
}
