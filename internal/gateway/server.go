// Package gateway implements the VoxRoad server boundary: a guarded
// transcription endpoint, a synthesis endpoint, a websocket session-event
// feed, and the typed HTTP client the car-mode loop uses to reach them.
//
// Transcription requests pass through the resilience guard before any
// upstream work happens. Audio is staged in a transient file for the duration
// of the upstream call and removed on every exit path.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/voxroad/internal/observe"
	"github.com/MrWong99/voxroad/internal/resilience"
	"github.com/MrWong99/voxroad/pkg/provider/stt"
	"github.com/MrWong99/voxroad/pkg/provider/tts"
)

const (
	// DefaultMaxChunkBytes caps one audio chunk at 8 MB.
	DefaultMaxChunkBytes = 8 << 20

	// DefaultMaxTextChars caps synthesis input at 4096 characters.
	DefaultMaxTextChars = 4096

	// defaultMIME is assumed when a transcription request omits the hint.
	defaultMIME = "audio/wav"
)

// Config holds the gateway limits. Zero values select the defaults.
type Config struct {
	// MaxChunkBytes is the maximum accepted audio chunk size in bytes.
	MaxChunkBytes int64

	// MaxTextChars is the maximum accepted synthesis text length in runes.
	MaxTextChars int

	// StagingDir is the directory for transient audio staging files. Empty
	// selects the OS temp directory.
	StagingDir string
}

func (c Config) withDefaults() Config {
	if c.MaxChunkBytes <= 0 {
		c.MaxChunkBytes = DefaultMaxChunkBytes
	}
	if c.MaxTextChars <= 0 {
		c.MaxTextChars = DefaultMaxTextChars
	}
	return c
}

// Server is the gateway HTTP server.
type Server struct {
	cfg     Config
	guard   *resilience.Guard
	stt     stt.Provider
	tts     tts.Provider
	metrics *observe.Metrics
	hub     *Hub
}

// NewServer builds a Server. guard, sttProv, ttsProv and metrics must be
// non-nil.
func NewServer(cfg Config, guard *resilience.Guard, sttProv stt.Provider, ttsProv tts.Provider, metrics *observe.Metrics) *Server {
	return &Server{
		cfg:     cfg.withDefaults(),
		guard:   guard,
		stt:     sttProv,
		tts:     ttsProv,
		metrics: metrics,
		hub:     NewHub(),
	}
}

// Hub returns the session-event hub so owners can publish or inspect events.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the full route tree wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /v1/synthesize", s.handleSynthesize)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	return observe.Middleware(s.metrics)(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// transcribeRequest is the JSON body of POST /v1/transcribe. Audio travels
// base64-encoded inside the JSON document.
type transcribeRequest struct {
	SessionID      string  `json:"session_id"`
	Audio          []byte  `json:"audio"`
	MIME           string  `json:"mime"`
	SessionSeconds float64 `json:"session_seconds"`
}

// transcribeResponse is the success body of POST /v1/transcribe. Text may be
// empty when the chunk contained no recognizable speech.
type transcribeResponse struct {
	Text string `json:"text"`
}

// errorResponse is the failure body of all gateway endpoints.
type errorResponse struct {
	Error      string     `json:"error"`
	StatusKind StatusKind `json:"status_kind"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	// Base64 inflates the payload by 4/3; allow that plus envelope overhead
	// so a chunk at exactly the cap still decodes.
	bodyCap := s.cfg.MaxChunkBytes + s.cfg.MaxChunkBytes/2 + 4096
	r.Body = http.MaxBytesReader(w, r.Body, bodyCap)

	var req transcribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.reject(ctx, w, "transcribe", validationError("audio chunk exceeds %d bytes", s.cfg.MaxChunkBytes))
			return
		}
		s.reject(ctx, w, "transcribe", validationError("malformed request body: %v", err))
		return
	}

	if serr := s.validateTranscribe(&req); serr != nil {
		s.reject(ctx, w, "transcribe", serr)
		return
	}

	// Resilience checks, in order: breaker, rate limit, session budget.
	recorded := time.Duration(req.SessionSeconds * float64(time.Second))
	if err := s.guard.Allow(recorded); err != nil {
		serr := fromGuardError(err)
		s.metrics.RecordGuardRejection(ctx, string(serr.Kind))
		s.reject(ctx, w, "transcribe", serr)
		return
	}

	mime := req.MIME
	if mime == "" {
		mime = defaultMIME
	}

	// Stage the chunk; the staging file must not outlive the request.
	path, cleanup, err := stageChunk(s.cfg.StagingDir, req.Audio)
	if err != nil {
		s.reject(ctx, w, "transcribe", &StatusError{Kind: StatusUpstreamFailure, Msg: err.Error()})
		return
	}
	defer cleanup()

	f, err := os.Open(path)
	if err != nil {
		s.reject(ctx, w, "transcribe", &StatusError{Kind: StatusUpstreamFailure, Msg: fmt.Sprintf("open staging file: %v", err)})
		return
	}
	defer f.Close()

	start := time.Now()
	text, err := s.stt.Transcribe(ctx, f, mime)
	s.metrics.TranscribeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.guard.RecordFailure()
		log.Warn("transcription failed",
			"session_id", req.SessionID,
			"error", err,
		)
		s.reject(ctx, w, "transcribe", &StatusError{Kind: StatusUpstreamFailure, Msg: "speech recognition failed"})
		return
	}
	s.guard.RecordSuccess()

	s.metrics.RecordGatewayRequest(ctx, "transcribe", "ok")
	writeJSON(w, http.StatusOK, transcribeResponse{Text: text})
}

func (s *Server) validateTranscribe(req *transcribeRequest) *StatusError {
	if req.SessionID == "" {
		return validationError("session_id is required")
	}
	if len(req.Audio) == 0 {
		return validationError("audio chunk is empty")
	}
	if int64(len(req.Audio)) > s.cfg.MaxChunkBytes {
		return validationError("audio chunk exceeds %d bytes", s.cfg.MaxChunkBytes)
	}
	if req.SessionSeconds < 0 {
		return validationError("session_seconds must not be negative")
	}
	return nil
}

// synthesizeRequest is the JSON body of POST /v1/synthesize.
type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	var req synthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reject(ctx, w, "synthesize", validationError("malformed request body: %v", err))
		return
	}
	if req.Text == "" {
		s.reject(ctx, w, "synthesize", validationError("text is required"))
		return
	}
	if utf8.RuneCountInString(req.Text) > s.cfg.MaxTextChars {
		s.reject(ctx, w, "synthesize", validationError("text exceeds %d characters", s.cfg.MaxTextChars))
		return
	}

	start := time.Now()
	stream, mime, err := s.tts.Synthesize(ctx, req.Text, req.Voice)
	s.metrics.SynthesizeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		log.Warn("synthesis failed", "error", err)
		s.reject(ctx, w, "synthesize", &StatusError{Kind: StatusUpstreamFailure, Msg: "speech synthesis failed"})
		return
	}
	defer stream.Close()

	s.metrics.RecordGatewayRequest(ctx, "synthesize", "ok")
	w.Header().Set("Content-Type", mime)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, stream); err != nil {
		// Headers are already out; all we can do is log.
		log.Warn("synthesis stream interrupted", "error", err)
	}
}

// reject records the failed operation and writes the status error.
func (s *Server) reject(ctx context.Context, w http.ResponseWriter, operation string, serr *StatusError) {
	s.metrics.RecordGatewayRequest(ctx, operation, string(serr.Kind))
	writeJSON(w, serr.HTTPStatus(), errorResponse{Error: serr.Msg, StatusKind: serr.Kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
