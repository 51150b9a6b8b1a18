// Package carmode implements the hands-free voice session controller.
//
// The Machine is an explicit finite state machine driven by a single
// cooperative event loop: audio frames, capture-engine events, chat replies,
// timer expirations and stop requests are all serialized onto one goroutine,
// so transitions never race and no locking is needed for FSM state. Timer
// callbacks and network completions only post notifications to the loop;
// every result carries the turn generation it belongs to, and results from an
// earlier generation are discarded.
//
// The loop suspends at exactly two points: awaiting transcription (SENDING)
// and awaiting synthesis plus playback (SPEAKING). Both run under a turn
// context that stop cancels, so a late result after a stop is dropped.
package carmode

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrWong99/voxroad/internal/segment"
	"github.com/MrWong99/voxroad/internal/vad"
	"github.com/MrWong99/voxroad/internal/voicecmd"
	"github.com/MrWong99/voxroad/pkg/audio"
	"github.com/MrWong99/voxroad/pkg/chat"
)

// DefaultWatchdog bounds how long THINKING may wait for a chat reply.
const DefaultWatchdog = 90 * time.Second

// State is the car-mode session state.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateTranscribing
	StateSending
	StateThinking
	StateSpeaking
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateTranscribing:
		return "TRANSCRIBING"
	case StateSending:
		return "SENDING"
	case StateThinking:
		return "THINKING"
	case StateSpeaking:
		return "SPEAKING"
	default:
		return "UNKNOWN"
	}
}

// Transcriber turns one finished audio chunk into text. recorded is the
// session's cumulative recorded audio duration reported for budget checks.
type Transcriber interface {
	Transcribe(ctx context.Context, sessionID string, audioData []byte, mime string, recorded time.Duration) (string, error)
}

// Synthesizer turns reply text into an audio stream.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, string, error)
}

// Notifier receives state-change notifications, e.g. for a UI event feed.
// Implementations must not block.
type Notifier interface {
	Notify(state State, detail string)
}

// Config holds the tunable parameters of one car-mode session.
type Config struct {
	// SessionID identifies this session towards the gateway and chat
	// backend. Required.
	SessionID string

	// Voice is the synthesis voice selector. Empty selects the upstream
	// default.
	Voice string

	// VAD configures the voice activity detector.
	VAD vad.Config

	// Segment configures the silence segmenter.
	Segment segment.Config

	// Watchdog bounds the THINKING state. Zero selects DefaultWatchdog.
	Watchdog time.Duration
}

// Deps are the collaborators of a Machine. Engine, Player, Transcriber,
// Synthesizer and Chat are required; Filter defaults to the standard stop
// phrases, Clock to the wall clock, and Notifier to none.
type Deps struct {
	Engine      audio.CaptureEngine
	Player      audio.Player
	Transcriber Transcriber
	Synthesizer Synthesizer
	Chat        chat.Backend
	Filter      *voicecmd.Filter
	Notifier    Notifier
	Clock       clock.Clock
}

// noticeKind enumerates the internal notifications posted to the event loop.
type noticeKind int

const (
	noticeSilence noticeKind = iota
	noticeTranscript
	noticePlayback
	noticeWatchdog
)

// notice is one internal loop notification. gen binds asynchronous results to
// the turn that started them.
type notice struct {
	kind noticeKind
	gen  uint64
	text string
	err  error
}

// Machine is the car-mode session controller. One Machine serves one session;
// it is started once and stopped once (Stop being idempotent).
type Machine struct {
	cfg  Config
	deps Deps

	detector *vad.Detector
	seg      *segment.Segmenter

	// Loop-owned state. Touched only by the run goroutine.
	recorded time.Duration
	turnGen  uint64
	watchdog *clock.Timer
	replies  <-chan chat.Reply

	// staleReplies counts chat submissions abandoned while awaiting their
	// answer. The reply channel is FIFO, so that many incoming replies must
	// drain before one may be consumed by the current turn.
	staleReplies int

	state    atomic.Int32
	stopping atomic.Bool

	notices   chan notice
	runCancel context.CancelFunc
	done      chan struct{}
	started   atomic.Bool
	stopOnce  sync.Once
}

// New builds a Machine. All required dependencies must be non-nil.
func New(cfg Config, deps Deps) (*Machine, error) {
	if cfg.SessionID == "" {
		return nil, errors.New("carmode: SessionID is required")
	}
	if deps.Engine == nil || deps.Player == nil {
		return nil, errors.New("carmode: Engine and Player are required")
	}
	if deps.Transcriber == nil || deps.Synthesizer == nil {
		return nil, errors.New("carmode: Transcriber and Synthesizer are required")
	}
	if deps.Chat == nil {
		return nil, errors.New("carmode: Chat backend is required")
	}
	if deps.Filter == nil {
		deps.Filter = voicecmd.New()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if cfg.Watchdog <= 0 {
		cfg.Watchdog = DefaultWatchdog
	}

	m := &Machine{
		cfg:     cfg,
		deps:    deps,
		notices: make(chan notice, 64),
		done:    make(chan struct{}),
	}
	m.detector = vad.New(cfg.VAD)
	m.seg = segment.New(cfg.Segment, deps.Clock, func() {
		m.post(notice{kind: noticeSilence})
	})
	return m, nil
}

// State returns the current FSM state. Safe to call from any goroutine.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// Start acquires the capture engine and launches the event loop. It may be
// called once per Machine.
func (m *Machine) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("carmode: machine already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.runCancel = cancel

	if err := m.deps.Engine.Start(runCtx); err != nil {
		cancel()
		close(m.done)
		return err
	}
	m.replies = m.deps.Chat.Replies(m.cfg.SessionID)
	m.setState(StateListening, "capture started")

	go m.run(runCtx)
	return nil
}

// Stop requests shutdown and waits for the loop to finish. It is idempotent:
// calling it again (from any state, including before Start) returns after the
// first shutdown completed without releasing anything twice.
func (m *Machine) Stop() {
	if !m.started.Load() {
		return
	}
	m.stopOnce.Do(func() {
		m.stopping.Store(true)
		m.runCancel()
	})
	<-m.done
}

// post delivers a notification to the loop without ever blocking the caller
// (timer callbacks must not deadlock against a busy loop).
func (m *Machine) post(n notice) {
	select {
	case m.notices <- n:
	default:
		slog.Warn("carmode: notice dropped", "kind", n.kind)
	}
}

// run is the single cooperative event loop.
func (m *Machine) run(ctx context.Context) {
	defer close(m.done)
	defer m.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-m.deps.Engine.Frames():
			m.onFrame(frame)
		case ev := <-m.deps.Engine.Events():
			if m.onEngineEvent(ctx, ev) {
				return
			}
		case reply := <-m.replies:
			m.onReply(ctx, reply)
		case n := <-m.notices:
			if m.onNotice(ctx, n) {
				return
			}
		}
	}
}

// shutdown releases everything exactly once: timers, in-flight turns, the
// capture engine. Runs on the loop goroutine after the loop exits.
func (m *Machine) shutdown() {
	m.stopping.Store(true)
	m.cancelWatchdog()
	m.seg.Reset()
	m.detector.Reset()
	m.turnGen++
	if err := m.deps.Engine.Stop(); err != nil {
		slog.Warn("carmode: engine stop failed", "error", err)
	}
	m.setState(StateIdle, "stopped")
}

// onFrame feeds one audio frame through VAD and segmentation. Frames arriving
// while a turn is in flight (SENDING through SPEAKING) are dropped so the
// assistant's own playback never becomes the next utterance.
func (m *Machine) onFrame(frame audio.AudioFrame) {
	st := m.State()
	if st != StateListening && st != StateTranscribing {
		return
	}

	switch m.detector.ProcessFrame(frame) {
	case vad.EdgeVoiceStart:
		if m.seg.OnVoiceStart() && st == StateListening {
			m.setState(StateTranscribing, "voice detected")
		}
	case vad.EdgeVoiceMaybeEnd:
		m.seg.OnVoiceMaybeEnd()
	}
	m.seg.Append(frame)
}

// onNotice dispatches one internal notification. Returns true when the loop
// must exit (spoken stop command).
func (m *Machine) onNotice(ctx context.Context, n notice) bool {
	switch n.kind {
	case noticeSilence:
		m.onSilenceElapsed(ctx)
	case noticeTranscript:
		return m.onTranscript(ctx, n)
	case noticePlayback:
		if n.gen != m.turnGen {
			return false
		}
		if n.err != nil {
			slog.Warn("carmode: playback failed", "error", n.err)
			m.setState(StateIdle, "playback error")
		} else {
			m.setState(StateIdle, "playback finished")
		}
		m.resumeListening("turn complete")
	case noticeWatchdog:
		if n.gen != m.turnGen || m.State() != StateThinking {
			return false
		}
		slog.Warn("carmode: watchdog elapsed, abandoning turn", "session_id", m.cfg.SessionID)
		m.turnGen++
		m.staleReplies++
		m.setState(StateIdle, "watchdog elapsed")
		m.resumeListening("watchdog recovery")
	}
	return false
}

// onSilenceElapsed finalizes the pending utterance and dispatches the
// transcription request.
func (m *Machine) onSilenceElapsed(ctx context.Context) {
	chunk, ok := m.seg.Finalize()
	if !ok {
		// Stale timer fire, or the segment was too small to be speech.
		if !m.seg.Recording() && m.State() == StateTranscribing {
			m.resumeListening("segment discarded")
		}
		return
	}

	m.recorded += chunk.Duration
	m.turnGen++
	gen := m.turnGen
	recorded := m.recorded
	m.setState(StateSending, "segment finalized")

	go func() {
		text, err := m.deps.Transcriber.Transcribe(ctx, m.cfg.SessionID, chunk.Data, chunk.MIME, recorded)
		m.post(notice{kind: noticeTranscript, gen: gen, text: text, err: err})
	}()
}

// onTranscript handles a finished transcription. Returns true when the loop
// must exit because the user spoke a stop command.
func (m *Machine) onTranscript(ctx context.Context, n notice) bool {
	if n.gen != m.turnGen || m.State() != StateSending {
		return false
	}
	if n.err != nil {
		// Guard rejections and upstream failures are non-fatal: skip the
		// turn and re-listen on the next voice trigger.
		slog.Warn("carmode: transcription failed", "session_id", m.cfg.SessionID, "error", n.err)
		m.resumeListening("transcription failed")
		return false
	}
	if n.text == "" {
		m.resumeListening("no speech recognized")
		return false
	}
	if m.deps.Filter.IsStopCommand(n.text) {
		slog.Info("carmode: stop command recognized", "session_id", m.cfg.SessionID, "text", n.text)
		return true
	}

	if err := m.deps.Chat.Submit(ctx, m.cfg.SessionID, n.text); err != nil {
		slog.Warn("carmode: chat submit failed", "session_id", m.cfg.SessionID, "error", err)
		m.resumeListening("chat submit failed")
		return false
	}

	m.armWatchdog()
	m.setState(StateThinking, "awaiting reply")
	return false
}

// onReply handles a chat backend answer.
func (m *Machine) onReply(ctx context.Context, reply chat.Reply) {
	if m.staleReplies > 0 {
		// Answer to a submission already abandoned by the watchdog or a
		// capture restart. It must not be mistaken for the current turn's
		// reply even if the loop is THINKING again.
		m.staleReplies--
		return
	}
	if m.State() != StateThinking {
		// Late reply after a watchdog recovery or stop; discard.
		return
	}
	m.cancelWatchdog()

	if reply.Err != nil {
		slog.Warn("carmode: chat backend failed", "session_id", m.cfg.SessionID, "error", reply.Err)
		m.setState(StateIdle, "chat failed")
		m.resumeListening("chat failure recovery")
		return
	}

	gen := m.turnGen
	m.setState(StateSpeaking, "reply received")

	go func() {
		err := m.speak(ctx, reply.Text)
		m.post(notice{kind: noticePlayback, gen: gen, err: err})
	}()
}

// speak synthesizes and plays one reply.
func (m *Machine) speak(ctx context.Context, text string) error {
	stream, mime, err := m.deps.Synthesizer.Synthesize(ctx, text, m.cfg.Voice)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(stream)
	stream.Close()
	if err != nil {
		return err
	}
	return m.deps.Player.Play(ctx, data, mime)
}

// onEngineEvent reacts to capture-engine lifecycle events. Returns true when
// the loop must exit (restart impossible).
func (m *Machine) onEngineEvent(ctx context.Context, ev audio.EngineEvent) bool {
	if m.stopping.Load() {
		return false
	}
	if ev.Type == audio.EngineError {
		slog.Warn("carmode: capture engine error", "session_id", m.cfg.SessionID, "error", ev.Err)
	}

	// The engine ended on its own (upstream timeout, device hiccup). Reset
	// per-utterance state and restart capture unless a stop was requested.
	if m.State() == StateThinking {
		m.staleReplies++
	}
	m.seg.Reset()
	m.detector.Reset()
	m.turnGen++
	m.cancelWatchdog()
	m.setState(StateIdle, "capture interrupted")

	if err := m.deps.Engine.Start(ctx); err != nil {
		slog.Error("carmode: capture restart failed", "session_id", m.cfg.SessionID, "error", err)
		return true
	}
	m.setState(StateListening, "capture restarted")
	return false
}

// resumeListening returns the loop to LISTENING after a completed or
// abandoned turn.
func (m *Machine) resumeListening(detail string) {
	m.seg.Reset()
	m.detector.Reset()
	m.setState(StateListening, detail)
}

func (m *Machine) armWatchdog() {
	m.cancelWatchdog()
	gen := m.turnGen
	m.watchdog = m.deps.Clock.AfterFunc(m.cfg.Watchdog, func() {
		m.post(notice{kind: noticeWatchdog, gen: gen})
	})
}

func (m *Machine) cancelWatchdog() {
	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
}

// setState records the transition, logs it and notifies observers.
func (m *Machine) setState(s State, detail string) {
	prev := State(m.state.Swap(int32(s)))
	if prev == s {
		return
	}
	slog.Debug("carmode: state transition",
		"session_id", m.cfg.SessionID,
		"from", prev.String(),
		"to", s.String(),
		"detail", detail,
	)
	if m.deps.Notifier != nil {
		m.deps.Notifier.Notify(s, detail)
	}
}
