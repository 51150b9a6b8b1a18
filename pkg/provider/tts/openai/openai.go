// Package openai provides a TTS provider backed by the OpenAI audio API.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxroad/pkg/provider/tts"
)

const (
	// DefaultModel is the default OpenAI speech model.
	DefaultModel = oai.SpeechModelTTS1

	// DefaultVoice is used when the caller does not select a voice.
	DefaultVoice = "alloy"

	// outputMIME is the MIME type of the returned stream. The endpoint
	// defaults to MP3 output.
	outputMIME = "audio/mpeg"
)

// Ensure Provider implements the tts.Provider interface.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI speech endpoint.
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

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout. Defaults to 60s.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs an OpenAI TTS Provider. If model is empty, DefaultModel
// (tts-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
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

// Synthesize renders text with the selected voice and returns the audio
// stream. The caller must close the returned reader.
func (p *Provider) Synthesize(ctx context.Context, text string, voice string) (io.ReadCloser, string, error) {
	if voice == "" {
		voice = DefaultVoice
	}
	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model: p.model,
		Input: text,
		Voice: oai.AudioSpeechNewParamsVoice(voice),
	})
	if err != nil {
		return nil, "", fmt.Errorf("openai tts: speech request: %w", err)
	}
	return resp.Body, outputMIME, nil
}
