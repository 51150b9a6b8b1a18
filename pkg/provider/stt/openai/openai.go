// Package openai provides an STT provider backed by the OpenAI audio API.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxroad/pkg/provider/stt"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI transcription endpoint.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL (e.g., for an
// API-compatible local server).
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout. Defaults to 60s.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs an OpenAI STT Provider. If model is empty, DefaultModel
// (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{timeout: 60 * time.Second}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
	}, nil
}

// Transcribe submits the audio chunk for batch recognition and returns the
// transcript text. An empty transcript is a valid result.
func (p *Provider) Transcribe(ctx context.Context, audio io.Reader, mime string) (string, error) {
	resp, err := p.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:  oai.File(audio, filenameFor(mime), mime),
		Model: p.model,
	})
	if err != nil {
		return "", fmt.Errorf("openai stt: transcription request: %w", err)
	}
	return resp.Text, nil
}

// filenameFor maps a MIME tag to the synthetic upload filename the API uses
// for format detection.
func filenameFor(mime string) string {
	switch mime {
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	case "audio/ogg":
		return "audio.ogg"
	case "audio/webm":
		return "audio.webm"
	default:
		return "audio.wav"
	}
}
