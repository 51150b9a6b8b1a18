package carmode

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrWong99/voxroad/pkg/audio"
	audiomock "github.com/MrWong99/voxroad/pkg/audio/mock"
	"github.com/MrWong99/voxroad/pkg/chat"
	chatmock "github.com/MrWong99/voxroad/pkg/chat/mock"
	ttsmock "github.com/MrWong99/voxroad/pkg/provider/tts/mock"
)

// fakeTranscriber is a scripted Transcriber recording every call.
type fakeTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	calls []transcribeCall
}

type transcribeCall struct {
	sessionID string
	audio     []byte
	mime      string
	recorded  time.Duration
}

func (f *fakeTranscriber) set(text string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text, f.err = text, err
}

func (f *fakeTranscriber) Transcribe(_ context.Context, sessionID string, audioData []byte, mime string, recorded time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, transcribeCall{sessionID: sessionID, audio: audioData, mime: mime, recorded: recorded})
	return f.text, f.err
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTranscriber) lastCall() transcribeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

// testRig bundles a Machine with all its mocked collaborators.
type testRig struct {
	m      *Machine
	engine *audiomock.Engine
	player *audiomock.Player
	stt    *fakeTranscriber
	tts    *ttsmock.Provider
	chat   *chatmock.Backend
	clock  *clock.Mock
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		engine: audiomock.NewEngine(),
		player: audiomock.NewPlayer(),
		stt:    &fakeTranscriber{text: "hello world"},
		tts:    ttsmock.New([]byte("reply-audio"), "audio/mpeg"),
		chat:   chatmock.New(),
		clock:  clock.NewMock(),
	}
	m, err := New(
		Config{SessionID: "s1", Voice: "alloy"},
		Deps{
			Engine:      rig.engine,
			Player:      rig.player,
			Transcriber: rig.stt,
			Synthesizer: rig.tts,
			Chat:        rig.chat,
			Clock:       rig.clock,
		},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rig.m = m
	t.Cleanup(m.Stop)
	return rig
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func waitForState(t *testing.T, m *Machine, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return m.State() == want })
}

// voicedFrame synthesizes a loud sine frame that trips both VAD features.
// 440 Hz at 16 kHz keeps the zero crossings between samples, so no sample
// quantizes to exactly zero and defeats the strict-sign crossing counter.
func voicedFrame(ts time.Duration) audio.AudioFrame {
	const samples = 2048
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(12000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	return audio.AudioFrame{Data: data, SampleRate: 16000, Channels: 1, Timestamp: ts}
}

func silentFrame(ts time.Duration) audio.AudioFrame {
	return audio.AudioFrame{Data: make([]byte, 2048*2), SampleRate: 16000, Channels: 1, Timestamp: ts}
}

// speakUtterance drives one utterance through the machine: voiced frames, a
// silent frame, then the elapsed silence timer.
func (r *testRig) speakUtterance(t *testing.T) {
	t.Helper()
	r.engine.PushFrame(voicedFrame(0))
	r.engine.PushFrame(voicedFrame(128 * time.Millisecond))
	waitForState(t, r.m, StateTranscribing)

	r.engine.PushFrame(silentFrame(256 * time.Millisecond))
	waitFor(t, "silence timer armed", r.m.seg.Pending)
	r.clock.Add(3001 * time.Millisecond)
}

func TestStartEntersListening(t *testing.T) {
	rig := newTestRig(t)
	if err := rig.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, rig.m, StateListening)
	if !rig.engine.Running() {
		t.Error("engine not running after Start")
	}
}

func TestStartTwiceFails(t *testing.T) {
	rig := newTestRig(t)
	if err := rig.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := rig.m.Start(context.Background()); err == nil {
		t.Error("second Start did not fail")
	}
}

func TestFullTurn(t *testing.T) {
	rig := newTestRig(t)
	if err := rig.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, rig.m, StateListening)

	rig.speakUtterance(t)

	// The mock chat echoes immediately, so the turn runs through SENDING,
	// THINKING and SPEAKING back to LISTENING.
	waitFor(t, "playback", func() bool { return len(rig.player.Plays()) == 1 })
	waitForState(t, rig.m, StateListening)

	call := rig.stt.lastCall()
	if call.sessionID != "s1" {
		t.Errorf("transcribe session = %q", call.sessionID)
	}
	if len(call.audio) < 500 {
		t.Errorf("chunk size = %d, want >= 500", len(call.audio))
	}
	if call.mime != "audio/wav" {
		t.Errorf("chunk mime = %q, want audio/wav", call.mime)
	}
	if len(call.audio) < 12 || string(call.audio[0:4]) != "RIFF" || string(call.audio[8:12]) != "WAVE" {
		t.Error("transcribed chunk is not a RIFF/WAVE container")
	}
	if call.recorded <= 0 {
		t.Errorf("recorded duration = %v, want > 0", call.recorded)
	}

	submits := rig.chat.Calls()
	if len(submits) != 1 || submits[0].Text != "hello world" {
		t.Errorf("chat submissions = %+v", submits)
	}

	ttsCalls := rig.tts.Calls()
	if len(ttsCalls) != 1 || ttsCalls[0].Text != "echo: hello world" || ttsCalls[0].Voice != "alloy" {
		t.Errorf("tts calls = %+v", ttsCalls)
	}

	plays := rig.player.Plays()
	if string(plays[0].Data) != "reply-audio" || plays[0].MIME != "audio/mpeg" {
		t.Errorf("playback = %+v", plays[0])
	}
}

func TestEmptyTranscriptSkipsTurn(t *testing.T) {
	rig := newTestRig(t)
	rig.stt.set("", nil)
	if err := rig.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, rig.m, StateListening)

	rig.speakUtterance(t)

	waitFor(t, "transcription attempt", func() bool { return rig.stt.callCount() == 1 })
	waitForState(t, rig.m, StateListening)
	if len(rig.chat.Calls()) != 0 {
		t.Error("empty transcript was forwarded to chat")
	}
}

func TestTranscriptionFailureSkipsTurn(t *testing.T) {
	rig := newTestRig(t)
	rig.stt.set("", errors.New("rate limited"))
	if err := rig.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, rig.m, StateListening)

	rig.speakUtterance(t)

	waitFor(t, "transcription attempt", func() bool { return rig.stt.callCount() == 1 })
	waitForState(t, rig.m, StateListening)
	if len(rig.chat.Calls()) != 0 {
		t.Error("failed turn was forwarded to chat")
	}
}

func TestStopCommandEndsSession(t *testing.T) {
	rig := newTestRig(t)
	rig.stt.set("stop listening", nil)
	if err := rig.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, rig.m, StateListening)

	rig.speakUtterance(t)

	waitForState(t, rig.m, StateIdle)
	waitFor(t, "engine release", func() bool { return !rig.engine.Running() })
	if len(rig.chat.Calls()) != 0 {
		t.Error("stop command was forwarded to chat")
	}
}

func TestWatchdogRecovery(t *testing.T) {
	rig := newTestRig(t)
	rig.chat.HoldReplies()
	if err := rig.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, rig.m, StateListening)

	rig.speakUtterance(t)
	waitForState(t, rig.m, StateThinking)

	rig.clock.Add(90 * time.Second)
	waitForState(t, rig.m, StateListening)

	// A reply arriving after the watchdog gave up must be discarded.
	rig.chat.Push(chat.Reply{SessionID: "s1", Text: "too late"})
	time.Sleep(50 * time.Millisecond)
	if got := len(rig.tts.Calls()); got != 0 {
		t.Errorf("late reply was synthesized (%d tts calls)", got)
	}
	if rig.m.State() != StateListening {
		t.Errorf("state = %v, want LISTENING", rig.m.State())
	}
}

func TestStaleReplyNotConsumedByLaterTurn(t *testing.T) {
	rig := newTestRig(t)
	rig.chat.HoldReplies()
	if err := rig.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, rig.m, StateListening)

	// First turn is abandoned by the watchdog; its answer is still pending.
	rig.speakUtterance(t)
	waitForState(t, rig.m, StateThinking)
	rig.clock.Add(90 * time.Second)
	waitForState(t, rig.m, StateListening)

	// Second turn reaches THINKING, then the first turn's answer finally
	// lands. It must be drained, not played as this turn's reply.
	rig.speakUtterance(t)
	waitForState(t, rig.m, StateThinking)
	rig.chat.Push(chat.Reply{SessionID: "s1", Text: "answer to the abandoned turn"})
	time.Sleep(50 * time.Millisecond)
	if got := len(rig.tts.Calls()); got != 0 {
		t.Fatalf("stale reply was synthesized (%d tts calls)", got)
	}
	if rig.m.State() != StateThinking {
		t.Fatalf("state = %v after stale reply, want THINKING", rig.m.State())
	}

	rig.chat.Push(chat.Reply{SessionID: "s1", Text: "current answer"})
	waitFor(t, "playback", func() bool { return len(rig.player.Plays()) == 1 })
	waitForState(t, rig.m, StateListening)

	ttsCalls := rig.tts.Calls()
	if len(ttsCalls) != 1 || ttsCalls[0].Text != "current answer" {
		t.Errorf("tts calls = %+v, want exactly the current turn's reply", ttsCalls)
	}
}

func TestReplyJustBeforeWatchdog(t *testing.T) {
	rig := newTestRig(t)
	rig.chat.HoldReplies()
	if err := rig.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, rig.m, StateListening)

	rig.speakUtterance(t)
	waitForState(t, rig.m, StateThinking)

	rig.clock.Add(89 * time.Second)
	rig.chat.Push(chat.Reply{SessionID: "s1", Text: "made it"})

	waitFor(t, "playback", func() bool { return len(rig.player.Plays()) == 1 })
	waitForState(t, rig.m, StateListening)

	// The cancelled watchdog must not fire later and disturb the loop.
	rig.clock.Add(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if rig.m.State() != StateListening {
		t.Errorf("state = %v after cancelled watchdog window, want LISTENING", rig.m.State())
	}
}

func TestChatErrorRecovers(t *testing.T) {
	rig := newTestRig(t)
	rig.chat.HoldReplies()
	if err := rig.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, rig.m, StateListening)

	rig.speakUtterance(t)
	waitForState(t, rig.m, StateThinking)

	rig.chat.Push(chat.Reply{SessionID: "s1", Err: errors.New("backend down")})
	waitForState(t, rig.m, StateListening)
	if got := len(rig.tts.Calls()); got != 0 {
		t.Errorf("failed reply was synthesized (%d tts calls)", got)
	}
}

func TestPlaybackErrorRecovers(t *testing.T) {
	rig := newTestRig(t)
	rig.player.FailWith(errors.New("device busy"))
	if err := rig.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, rig.m, StateListening)

	rig.speakUtterance(t)

	waitFor(t, "playback attempt", func() bool { return len(rig.player.Plays()) == 1 })
	waitForState(t, rig.m, StateListening)
}

func TestStopIsIdempotent(t *testing.T) {
	rig := newTestRig(t)
	if err := rig.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, rig.m, StateListening)

	rig.m.Stop()
	rig.m.Stop()

	if rig.m.State() != StateIdle {
		t.Errorf("state = %v, want IDLE", rig.m.State())
	}
	if got := rig.engine.StopCalls(); got != 1 {
		t.Errorf("engine stop calls = %d, want 1", got)
	}
}

func TestStopFromThinking(t *testing.T) {
	rig := newTestRig(t)
	rig.chat.HoldReplies()
	if err := rig.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, rig.m, StateListening)

	rig.speakUtterance(t)
	waitForState(t, rig.m, StateThinking)

	rig.m.Stop()
	if rig.m.State() != StateIdle {
		t.Errorf("state = %v, want IDLE", rig.m.State())
	}
	if rig.engine.Running() {
		t.Error("engine still running after Stop")
	}
}

func TestEngineRestartAfterIncidentalEnd(t *testing.T) {
	rig := newTestRig(t)
	if err := rig.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, rig.m, StateListening)

	rig.engine.PushEvent(audio.EngineEvent{Type: audio.EngineEnded})

	waitFor(t, "engine restart", func() bool { return rig.engine.StartCalls() == 2 })
	waitForState(t, rig.m, StateListening)
}

func TestNoRestartAfterExplicitStop(t *testing.T) {
	rig := newTestRig(t)
	if err := rig.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, rig.m, StateListening)

	rig.m.Stop()

	if got := rig.engine.StartCalls(); got != 1 {
		t.Errorf("engine start calls = %d, want 1 (no restart after stop)", got)
	}
	if rig.engine.Running() {
		t.Error("engine running after explicit stop")
	}
}

func TestBriefPauseDoesNotSplitUtterance(t *testing.T) {
	rig := newTestRig(t)
	if err := rig.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, rig.m, StateListening)

	rig.engine.PushFrame(voicedFrame(0))
	waitForState(t, rig.m, StateTranscribing)

	// Falling edge arms the timer, but speech resumes before it elapses.
	rig.engine.PushFrame(silentFrame(128 * time.Millisecond))
	waitFor(t, "silence timer armed", rig.m.seg.Pending)
	rig.clock.Add(1500 * time.Millisecond)
	rig.engine.PushFrame(voicedFrame(1628 * time.Millisecond))
	waitFor(t, "timer cancelled", func() bool { return !rig.m.seg.Pending() })

	// Final silence closes the single utterance.
	rig.engine.PushFrame(silentFrame(1756 * time.Millisecond))
	waitFor(t, "silence timer armed", rig.m.seg.Pending)
	rig.clock.Add(3001 * time.Millisecond)

	waitFor(t, "transcription", func() bool { return rig.stt.callCount() == 1 })
	if got := rig.stt.callCount(); got != 1 {
		t.Errorf("transcriptions = %d, want 1", got)
	}
}

func TestConstructorValidation(t *testing.T) {
	deps := Deps{
		Engine:      audiomock.NewEngine(),
		Player:      audiomock.NewPlayer(),
		Transcriber: &fakeTranscriber{},
		Synthesizer: ttsmock.New(nil, ""),
		Chat:        chatmock.New(),
	}

	if _, err := New(Config{}, deps); err == nil {
		t.Error("missing SessionID accepted")
	}

	broken := deps
	broken.Chat = nil
	if _, err := New(Config{SessionID: "s1"}, broken); err == nil {
		t.Error("missing chat backend accepted")
	}
}
