// Command carmode runs the hands-free voice loop against a VoxRoad gateway.
//
// It reads raw 16-bit mono PCM from stdin (or a file / named pipe fed by a
// recorder process), detects and segments speech locally, sends finished
// utterances to the gateway for transcription, forwards transcripts to the
// chat backend, and plays synthesized replies by writing the audio stream to
// stdout (or a file consumed by a player process).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxroad/internal/carmode"
	"github.com/MrWong99/voxroad/internal/config"
	"github.com/MrWong99/voxroad/internal/gateway"
	"github.com/MrWong99/voxroad/internal/segment"
	"github.com/MrWong99/voxroad/internal/vad"
	"github.com/MrWong99/voxroad/internal/voicecmd"
	"github.com/MrWong99/voxroad/pkg/audio"
	"github.com/MrWong99/voxroad/pkg/audio/rawpcm"
	"github.com/MrWong99/voxroad/pkg/chat/httpchat"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inputPath := flag.String("input", "-", "raw PCM source: '-' for stdin, otherwise a file or named pipe")
	outputPath := flag.String("output", "-", "playback sink: '-' for stdout, otherwise a file or named pipe")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "carmode: %v\n", err)
		return 1
	}
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	cm := cfg.CarMode
	if cm.GatewayURL == "" {
		slog.Error("car_mode.gateway_url is required")
		return 1
	}
	if cm.ChatURL == "" {
		slog.Error("car_mode.chat_url is required")
		return 1
	}

	source, closeSource, err := openInput(*inputPath)
	if err != nil {
		slog.Error("failed to open audio source", "err", err)
		return 1
	}
	defer closeSource()

	sink, closeSink, err := openOutput(*outputPath)
	if err != nil {
		slog.Error("failed to open playback sink", "err", err)
		return 1
	}
	defer closeSink()

	sessionID := uuid.NewString()
	slog.Info("carmode starting",
		"session_id", sessionID,
		"gateway", cm.GatewayURL,
		"input", *inputPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	machine, cleanup, err := buildMachine(ctx, cfg, sessionID, source, sink)
	if err != nil {
		slog.Error("failed to assemble voice loop", "err", err)
		return 1
	}
	defer cleanup()

	if err := machine.Start(ctx); err != nil {
		slog.Error("failed to start voice loop", "err", err)
		return 1
	}

	slog.Info("listening — speak, or say a stop phrase to exit")

	// Wait for either a signal or the machine ending itself (spoken stop
	// command, unrecoverable capture failure).
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			if machine.State() == carmode.StateIdle {
				break loop
			}
		}
	}

	machine.Stop()
	slog.Info("goodbye", "session_id", sessionID)
	return 0
}

// buildMachine wires the capture engine, gateway client, chat backend and
// event emitter into a car-mode Machine.
func buildMachine(ctx context.Context, cfg *config.Config, sessionID string, source io.Reader, sink io.Writer) (*carmode.Machine, func(), error) {
	cm := cfg.CarMode

	var engineOpts []rawpcm.Option
	if cm.SampleRate > 0 {
		engineOpts = append(engineOpts, rawpcm.WithSampleRate(cm.SampleRate))
	}
	if cm.FrameSamples > 0 {
		engineOpts = append(engineOpts, rawpcm.WithFrameSamples(cm.FrameSamples))
	}
	engine := rawpcm.New(source, engineOpts...)

	client, err := gateway.NewClient(cm.GatewayURL)
	if err != nil {
		return nil, nil, err
	}

	backend, err := httpchat.New(cm.ChatURL)
	if err != nil {
		return nil, nil, err
	}

	var filter *voicecmd.Filter
	if len(cm.StopPhrases) > 0 {
		filter = voicecmd.New(voicecmd.WithPhrases(cm.StopPhrases...))
	} else {
		filter = voicecmd.New()
	}

	cleanup := func() {}
	var notifier carmode.Notifier
	if emitter, err := gateway.DialEmitter(ctx, cm.GatewayURL, sessionID); err != nil {
		// The event feed is best-effort; the loop works without it.
		slog.Warn("event feed unavailable", "err", err)
	} else {
		notifier = &feedNotifier{emitter: emitter}
		cleanup = func() {
			if err := emitter.Close(); err != nil {
				slog.Debug("event feed close error", "err", err)
			}
		}
	}

	machine, err := carmode.New(
		carmode.Config{
			SessionID: sessionID,
			Voice:     cm.Voice,
			VAD: vad.Config{
				EnergyThreshold:    cm.EnergyThreshold,
				ZeroCrossThreshold: cm.ZeroCrossThreshold,
			},
			Segment: segment.Config{
				SilenceDuration: time.Duration(cm.SilenceMs) * time.Millisecond,
				MinChunkBytes:   cm.MinSegmentBytes,
			},
			Watchdog: time.Duration(cm.WatchdogMs) * time.Millisecond,
		},
		carmode.Deps{
			Engine:      engine,
			Player:      audio.NewWriterPlayer(sink),
			Transcriber: client,
			Synthesizer: client,
			Chat:        backend,
			Filter:      filter,
			Notifier:    notifier,
		},
	)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return machine, cleanup, nil
}

// feedNotifier forwards FSM transitions to the gateway event feed.
type feedNotifier struct {
	emitter *gateway.EventEmitter
}

func (n *feedNotifier) Notify(state carmode.State, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.emitter.Emit(ctx, state.String(), detail); err != nil {
		slog.Debug("event emit failed", "state", state.String(), "err", err)
	}
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
