// Command voxroad runs the VoxRoad gateway server: guarded transcription and
// synthesis endpoints, the session event feed, and a Prometheus metrics
// listener.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxroad/internal/config"
	"github.com/MrWong99/voxroad/internal/gateway"
	"github.com/MrWong99/voxroad/internal/observe"
	"github.com/MrWong99/voxroad/internal/resilience"
	"github.com/MrWong99/voxroad/pkg/provider/stt"
	sttopenai "github.com/MrWong99/voxroad/pkg/provider/stt/openai"
	"github.com/MrWong99/voxroad/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxroad/pkg/provider/tts"
	"github.com/MrWong99/voxroad/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/MrWong99/voxroad/pkg/provider/tts/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxroad: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxroad: %v\n", err)
		}
		return 1
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	slog.Info("voxroad starting",
		"config", *configPath,
		"listen_addr", listenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry providers (metrics via the Prometheus bridge).
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxroad"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics := observe.DefaultMetrics()

	sttProv, err := buildSTT(cfg.Providers.STT)
	if err != nil {
		slog.Error("failed to build STT provider", "err", err)
		return 1
	}
	ttsProv, err := buildTTS(cfg.Providers.TTS)
	if err != nil {
		slog.Error("failed to build TTS provider", "err", err)
		return 1
	}

	guard := resilience.New(resilienceConfig(cfg.Resilience), clock.New())
	server := gateway.NewServer(gateway.Config{
		MaxChunkBytes: cfg.Gateway.MaxChunkBytes,
		MaxTextChars:  cfg.Gateway.MaxTextChars,
		StagingDir:    cfg.Gateway.StagingDir,
	}, guard, sttProv, ttsProv, metrics)

	apiSrv := &http.Server{
		Addr:              listenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("api server listening", "addr", apiSrv.Addr)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("metrics server listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		slog.Info("shutdown signal received, stopping…")
		var errs []error
		errs = append(errs, apiSrv.Shutdown(shutdownCtx))
		if metricsSrv != nil {
			errs = append(errs, metricsSrv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildSTT constructs the configured speech-to-text provider. An empty name
// defaults to OpenAI.
func buildSTT(entry config.ProviderEntry) (stt.Provider, error) {
	switch entry.Name {
	case "whisper":
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.New(entry.BaseURL, opts...)
	case "openai", "":
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		return sttopenai.New(entry.APIKey, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown stt provider %q", entry.Name)
	}
}

// buildTTS constructs the configured text-to-speech provider. An empty name
// defaults to OpenAI.
func buildTTS(entry config.ProviderEntry) (tts.Provider, error) {
	switch entry.Name {
	case "elevenlabs":
		var opts []elevenlabs.Option
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	case "openai", "":
		var opts []ttsopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		return ttsopenai.New(entry.APIKey, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown tts provider %q", entry.Name)
	}
}

// resilienceConfig converts the YAML millisecond fields into guard config.
// Zero values let the guard apply its own defaults.
func resilienceConfig(rc config.ResilienceConfig) resilience.Config {
	return resilience.Config{
		BreakerThreshold:     rc.BreakerThreshold,
		BreakerCooldown:      time.Duration(rc.BreakerCooldownMs) * time.Millisecond,
		MaxRequestsPerWindow: rc.MaxRequestsPerWindow,
		RateWindow:           time.Duration(rc.RateWindowMs) * time.Millisecond,
		SessionBudget:        time.Duration(rc.SessionBudgetMs) * time.Millisecond,
	}
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
