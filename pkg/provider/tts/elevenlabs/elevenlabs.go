// Package elevenlabs provides a TTS provider backed by the ElevenLabs API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrWong99/voxroad/pkg/provider/tts"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"

	// DefaultModel is the multilingual v2 model, the recommended default for
	// general speech.
	DefaultModel = "eleven_multilingual_v2"

	// DefaultVoice is "Rachel", the stock ElevenLabs voice.
	DefaultVoice = "21m00Tcm4TlvDq8ikWAM"

	outputMIME = "audio/mpeg"
)

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithModel sets the synthesis model identifier. Defaults to
// eleven_multilingual_v2.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 60s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements tts.Provider using the ElevenLabs text-to-speech
// endpoint. It is stateless between calls and safe for concurrent use.
type Provider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// New creates a Provider authenticated with apiKey. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		model:      DefaultModel,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// synthesizeRequest is the JSON body of a text-to-speech call.
type synthesizeRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize renders text with the given ElevenLabs voice ID and returns the
// MP3 audio stream. The caller must close the returned reader.
func (p *Provider) Synthesize(ctx context.Context, text string, voice string) (io.ReadCloser, string, error) {
	if voice == "" {
		voice = DefaultVoice
	}

	payload, err := json.Marshal(synthesizeRequest{Text: text, ModelID: p.model})
	if err != nil {
		return nil, "", fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	endpoint := p.baseURL + "/v1/text-to-speech/" + voice
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", outputMIME)
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("elevenlabs: http request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, "", fmt.Errorf("elevenlabs: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	return resp.Body, outputMIME, nil
}
