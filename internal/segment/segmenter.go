// Package segment turns voice-activity edges into finalized utterances.
//
// The segmenter owns the single cancellable silence timer of a car-mode
// session. A rising edge opens (or keeps open) an utterance buffer; a falling
// edge arms the timer; if the timer elapses with no intervening rising edge
// the buffered audio is finalized into a [Chunk]. A rising edge while the
// timer is pending cancels it — the pause was a breath, not the end of the
// utterance.
//
// Ownership discipline: the segmenter owns the chunk bytes until Finalize
// hands them out, after which the caller (the transcription path) owns them
// exclusively. All methods except the timer's fire callback must be invoked
// from the session's event loop; the fire callback itself only posts a
// notification and touches no segmenter state, so no locking is needed.
package segment

import (
	"bytes"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrWong99/voxroad/pkg/audio"
)

const (
	// DefaultSilenceDuration is how long speech must stay absent before the
	// current utterance is finalized.
	DefaultSilenceDuration = 3 * time.Second

	// DefaultMinChunkBytes is the minimum finalized size; shorter segments
	// are discarded as spurious detections.
	DefaultMinChunkBytes = 500

	// defaultMIME tags chunks assembled from raw capture PCM.
	defaultMIME = "audio/wav"
)

// Chunk is one finalized utterance: the encoded audio bytes, an encoding
// tag, and the recorded duration (used for session budget accounting).
// For the default "audio/wav" MIME the data is a complete RIFF/WAV file
// ready for upstream transcription.
type Chunk struct {
	Data     []byte
	MIME     string
	Duration time.Duration
}

// Config holds segmenter tuning. Zero values are replaced with defaults.
type Config struct {
	// SilenceDuration is the continuous-silence window that closes an
	// utterance. Default: 3 s.
	SilenceDuration time.Duration

	// MinChunkBytes discards finalized segments smaller than this.
	// Default: 500.
	MinChunkBytes int

	// MIME tags the assembled chunks. Default: "audio/wav", which makes
	// Finalize wrap the buffered PCM in a RIFF/WAV container. Any other
	// value passes the buffered bytes through untouched.
	MIME string
}

// Segmenter assembles utterance chunks from VAD edges and audio frames.
type Segmenter struct {
	clk     clock.Clock
	silence time.Duration
	minSize int
	mime    string

	// fired is invoked (on the timer's goroutine) when the silence window
	// elapses. It must only enqueue a notification for the event loop.
	fired func()

	recording bool
	pending   atomic.Bool
	timer     *clock.Timer
	buf       bytes.Buffer
	dur       time.Duration

	// Format of the buffered PCM, captured from appended frames so the
	// finalized WAV header matches the capture settings.
	sampleRate int
	channels   int
}

// New creates a Segmenter. fired is called when the silence timer elapses;
// the caller is expected to route that signal back into its event loop and
// then call [Segmenter.Finalize].
func New(cfg Config, clk clock.Clock, fired func()) *Segmenter {
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = DefaultSilenceDuration
	}
	if cfg.MinChunkBytes <= 0 {
		cfg.MinChunkBytes = DefaultMinChunkBytes
	}
	if cfg.MIME == "" {
		cfg.MIME = defaultMIME
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Segmenter{
		clk:     clk,
		silence: cfg.SilenceDuration,
		minSize: cfg.MinChunkBytes,
		mime:    cfg.MIME,
		fired:   fired,
	}
}

// OnVoiceStart handles a rising edge. A pending silence timer is cancelled
// (same utterance continues). Returns true when a new utterance was opened,
// i.e. the session just transitioned from listening to capturing.
func (s *Segmenter) OnVoiceStart() bool {
	if s.pending.Load() {
		s.cancelTimer()
	}
	if s.recording {
		return false
	}
	s.recording = true
	s.buf.Reset()
	s.dur = 0
	return true
}

// OnVoiceMaybeEnd handles a falling edge by arming the silence timer. A
// no-op when no utterance is open or a timer is already pending.
func (s *Segmenter) OnVoiceMaybeEnd() {
	if !s.recording || s.pending.Load() {
		return
	}
	s.pending.Store(true)
	s.timer = s.clk.AfterFunc(s.silence, func() {
		if s.fired != nil {
			s.fired()
		}
	})
}

// Append adds a captured frame to the open utterance buffer. Frames arriving
// while no utterance is open are dropped.
func (s *Segmenter) Append(frame audio.AudioFrame) {
	if !s.recording {
		return
	}
	if frame.SampleRate > 0 {
		s.sampleRate = frame.SampleRate
		s.channels = frame.Channels
	}
	s.buf.Write(frame.Data)
	s.dur += frame.Duration()
}

// Finalize closes the current utterance after the silence timer fired.
// Returns (chunk, true) for a usable segment. A stale fire — one whose timer
// was cancelled by a later rising edge before the loop processed the
// notification — and any segment under the minimum size return ok=false.
func (s *Segmenter) Finalize() (Chunk, bool) {
	if !s.pending.Load() || !s.recording {
		return Chunk{}, false
	}
	s.pending.Store(false)
	s.timer = nil
	s.recording = false

	data := append([]byte(nil), s.buf.Bytes()...)
	dur := s.dur
	s.buf.Reset()
	s.dur = 0

	if len(data) < s.minSize {
		return Chunk{}, false
	}
	if s.mime == defaultMIME {
		sampleRate, channels := s.sampleRate, s.channels
		if sampleRate <= 0 {
			sampleRate = 16000
		}
		if channels <= 0 {
			channels = 1
		}
		data = audio.EncodeWAV(data, sampleRate, channels)
	}
	return Chunk{Data: data, MIME: s.mime, Duration: dur}, true
}

// Recording reports whether an utterance buffer is currently open.
func (s *Segmenter) Recording() bool { return s.recording }

// Pending reports whether the silence timer is armed. Unlike the mutating
// methods it is safe to call from any goroutine, so tests and health probes
// can observe the timer state without joining the event loop.
func (s *Segmenter) Pending() bool { return s.pending.Load() }

// Reset cancels any pending timer and discards the open utterance. Called on
// stop and on capture-engine recovery so no timer outlives its session.
func (s *Segmenter) Reset() {
	s.cancelTimer()
	s.recording = false
	s.buf.Reset()
	s.dur = 0
}

func (s *Segmenter) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending.Store(false)
}
