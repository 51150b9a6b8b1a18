// Package httpchat adapts a plain HTTP question/answer service to the
// chat.Backend interface.
//
// The remote contract is a single endpoint: POST /v1/chat with a JSON body
// {"session_id": ..., "text": ...} returning {"text": ...}. Each submission
// runs in its own goroutine so a slow answer never blocks the voice loop.
package httpchat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/voxroad/pkg/chat"
)

// Compile-time assertion that Backend implements chat.Backend.
var _ chat.Backend = (*Backend)(nil)

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithTimeout sets the per-request HTTP timeout. Defaults to 120s to leave
// room for slow model backends.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) {
		b.httpClient.Timeout = d
	}
}

// Backend submits transcripts to a remote chat service over HTTP.
type Backend struct {
	endpoint   string
	httpClient *http.Client

	mu      sync.Mutex
	replies map[string]chan chat.Reply
}

// New creates a Backend posting to baseURL+"/v1/chat". baseURL must be
// non-empty.
func New(baseURL string, opts ...Option) (*Backend, error) {
	if baseURL == "" {
		return nil, errors.New("httpchat: baseURL must not be empty")
	}
	b := &Backend{
		endpoint:   baseURL + "/v1/chat",
		httpClient: &http.Client{Timeout: 120 * time.Second},
		replies:    make(map[string]chan chat.Reply),
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type chatResponse struct {
	Text string `json:"text"`
}

// Submit posts the transcript asynchronously. The HTTP exchange happens in a
// background goroutine; its outcome (answer or error) is delivered on the
// session's reply channel.
func (b *Backend) Submit(ctx context.Context, sessionID, text string) error {
	if sessionID == "" {
		return errors.New("httpchat: sessionID must not be empty")
	}
	ch := b.channel(sessionID)

	go func() {
		answer, err := b.exchange(ctx, sessionID, text)
		select {
		case ch <- chat.Reply{SessionID: sessionID, Text: answer, Err: err}:
		case <-ctx.Done():
		}
	}()
	return nil
}

// Replies returns the stable reply channel for sessionID.
func (b *Backend) Replies(sessionID string) <-chan chat.Reply {
	return b.channel(sessionID)
}

func (b *Backend) channel(sessionID string) chan chat.Reply {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.replies[sessionID]
	if !ok {
		ch = make(chan chat.Reply, 16)
		b.replies[sessionID] = ch
	}
	return ch
}

func (b *Backend) exchange(ctx context.Context, sessionID, text string) (string, error) {
	payload, err := json.Marshal(chatRequest{SessionID: sessionID, Text: text})
	if err != nil {
		return "", fmt.Errorf("httpchat: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("httpchat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("httpchat: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("httpchat: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("httpchat: parse response: %w", err)
	}
	return out.Text, nil
}
