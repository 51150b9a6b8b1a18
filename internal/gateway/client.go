package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Client is the typed HTTP client the car-mode loop uses to reach the
// gateway. Failed requests surface as *StatusError so the loop can
// distinguish retry-later conditions from hard failures.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption is a functional option for configuring a Client.
type ClientOption func(*Client)

// WithClientTimeout sets the per-request HTTP timeout. Defaults to 90s so the
// gateway's own upstream timeout fires first.
func WithClientTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// NewClient creates a Client for the gateway at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("gateway: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Transcribe submits one audio chunk for recognition. recorded is the
// session's cumulative recorded audio duration, used for the server-side
// budget check. The returned text may be empty.
func (c *Client) Transcribe(ctx context.Context, sessionID string, audio []byte, mime string, recorded time.Duration) (string, error) {
	payload, err := json.Marshal(transcribeRequest{
		SessionID:      sessionID,
		Audio:          audio,
		MIME:           mime,
		SessionSeconds: recorded.Seconds(),
	})
	if err != nil {
		return "", fmt.Errorf("gateway: marshal transcribe request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transcribe", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("gateway: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &StatusError{Kind: StatusUpstreamFailure, Msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeStatusError(resp)
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gateway: parse transcribe response: %w", err)
	}
	return out.Text, nil
}

// Synthesize requests speech for text and returns the audio stream together
// with its MIME type. The caller must close the stream.
func (c *Client) Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, string, error) {
	payload, err := json.Marshal(synthesizeRequest{Text: text, Voice: voice})
	if err != nil {
		return nil, "", fmt.Errorf("gateway: marshal synthesize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/synthesize", bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("gateway: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", &StatusError{Kind: StatusUpstreamFailure, Msg: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		serr := decodeStatusError(resp)
		resp.Body.Close()
		return nil, "", serr
	}

	mime := resp.Header.Get("Content-Type")
	return resp.Body, mime, nil
}

// decodeStatusError reconstructs the *StatusError from an error response
// body. Unparseable bodies map to upstream_failure.
func decodeStatusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.StatusKind == "" {
		return &StatusError{
			Kind: StatusUpstreamFailure,
			Msg:  fmt.Sprintf("gateway returned HTTP %d", resp.StatusCode),
		}
	}
	return &StatusError{Kind: er.StatusKind, Msg: er.Error}
}

// EventEmitter publishes session events to the gateway's websocket feed.
type EventEmitter struct {
	conn      *websocket.Conn
	sessionID string
}

// DialEmitter connects to the gateway event feed in the emit role.
func DialEmitter(ctx context.Context, baseURL, sessionID string) (*EventEmitter, error) {
	if sessionID == "" {
		return nil, errors.New("gateway: sessionID must not be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("gateway: parse baseURL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/v1/events"
	q := u.Query()
	q.Set("session_id", sessionID)
	q.Set("role", "emit")
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: dial event feed: %w", err)
	}
	return &EventEmitter{conn: conn, sessionID: sessionID}, nil
}

// Emit publishes one state notification. Failures are returned but the
// connection stays usable for subsequent attempts.
func (e *EventEmitter) Emit(ctx context.Context, state, detail string) error {
	return wsjson.Write(ctx, e.conn, Event{
		SessionID: e.sessionID,
		State:     state,
		Detail:    detail,
		Timestamp: time.Now(),
	})
}

// Close shuts the websocket connection down.
func (e *EventEmitter) Close() error {
	return e.conn.Close(websocket.StatusNormalClosure, "session closed")
}
