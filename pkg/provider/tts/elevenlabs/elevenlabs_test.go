package elevenlabs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestSynthesize(t *testing.T) {
	wantAudio := []byte("mp3-bytes")

	var gotPath, gotKey string
	var gotBody synthesizeRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(wantAudio)
	}))
	defer srv.Close()

	p, err := New("secret", WithBaseURL(srv.URL), WithModel("eleven_turbo_v2"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stream, mime, err := p.Synthesize(context.Background(), "turning left ahead", "voice-123")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	defer stream.Close()

	if mime != "audio/mpeg" {
		t.Errorf("mime = %q, want audio/mpeg", mime)
	}
	audio, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if string(audio) != string(wantAudio) {
		t.Errorf("audio = %q, want %q", audio, wantAudio)
	}
	if gotPath != "/v1/text-to-speech/voice-123" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "secret" {
		t.Errorf("xi-api-key = %q, want secret", gotKey)
	}
	if gotBody.Text != "turning left ahead" {
		t.Errorf("text = %q", gotBody.Text)
	}
	if gotBody.ModelID != "eleven_turbo_v2" {
		t.Errorf("model_id = %q", gotBody.ModelID)
	}
}

func TestSynthesizeDefaultVoice(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	p, err := New("secret", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stream, _, err := p.Synthesize(context.Background(), "hi", "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	stream.Close()

	if gotPath != "/v1/text-to-speech/"+DefaultVoice {
		t.Errorf("path = %q, want default voice", gotPath)
	}
}

func TestSynthesizeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"quota exceeded"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := New("secret", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, _, err = p.Synthesize(context.Background(), "hi", "v")
	if err == nil {
		t.Fatal("expected error for HTTP 401")
	}
	if !strings.Contains(err.Error(), "HTTP 401") {
		t.Errorf("err = %v, want HTTP 401 mention", err)
	}
}
