// Package config provides the configuration schema and loader for the
// VoxRoad voice gateway and car-mode client.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Resilience ResilienceConfig `yaml:"resilience"`
	CarMode    CarModeConfig    `yaml:"car_mode"`
	Providers  ProvidersConfig  `yaml:"providers"`
}

// ServerConfig holds network and logging settings for the gateway server.
type ServerConfig struct {
	// ListenAddr is the TCP address the API server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// MetricsAddr is the TCP address of the Prometheus /metrics endpoint.
	// Empty disables the metrics listener.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// GatewayConfig holds the request limits of the gateway endpoints.
type GatewayConfig struct {
	// MaxChunkBytes caps one transcription audio chunk. Default: 8 MiB.
	MaxChunkBytes int64 `yaml:"max_chunk_bytes"`

	// MaxTextChars caps synthesis input length in runes. Default: 4096.
	MaxTextChars int `yaml:"max_text_chars"`

	// StagingDir is the directory for transient audio staging files. Empty
	// selects the OS temp directory.
	StagingDir string `yaml:"staging_dir"`
}

// ResilienceConfig holds the guard thresholds. Durations are given in
// milliseconds so they round-trip through YAML as plain integers.
type ResilienceConfig struct {
	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit breaker. Default: 4.
	BreakerThreshold int `yaml:"breaker_threshold"`

	// BreakerCooldownMs is how long the breaker stays open. Default: 60000.
	BreakerCooldownMs int `yaml:"breaker_cooldown_ms"`

	// MaxRequestsPerWindow is the per-window transcription request cap.
	// Default: 8.
	MaxRequestsPerWindow int `yaml:"max_requests_per_window"`

	// RateWindowMs is the fixed rate-limit window. Default: 60000.
	RateWindowMs int `yaml:"rate_window_ms"`

	// SessionBudgetMs is the cumulative recorded-audio budget per session.
	// Default: 300000 (5 minutes).
	SessionBudgetMs int `yaml:"session_budget_ms"`
}

// CarModeConfig holds the client-side voice loop tuning.
type CarModeConfig struct {
	// GatewayURL is the base URL of the VoxRoad gateway.
	GatewayURL string `yaml:"gateway_url"`

	// ChatURL is the base URL of the chat/command backend.
	ChatURL string `yaml:"chat_url"`

	// Voice is the synthesis voice selector forwarded to the gateway.
	Voice string `yaml:"voice"`

	// SampleRate is the capture sample rate in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameSamples is the number of samples per analysis frame.
	// Default: 2048.
	FrameSamples int `yaml:"frame_samples"`

	// EnergyThreshold is the normalized RMS level above which a frame may
	// count as speech. Default: 0.008.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// ZeroCrossThreshold is the minimum zero-crossing count for a speech
	// frame. Default: 15.
	ZeroCrossThreshold int `yaml:"zero_cross_threshold"`

	// SilenceMs is the continuous-silence window that closes an utterance.
	// Default: 3000.
	SilenceMs int `yaml:"silence_ms"`

	// MinSegmentBytes discards finalized segments smaller than this.
	// Default: 500.
	MinSegmentBytes int `yaml:"min_segment_bytes"`

	// WatchdogMs bounds the wait for a chat reply. Default: 90000.
	WatchdogMs int `yaml:"watchdog_ms"`

	// StopPhrases overrides the spoken commands that end the session.
	StopPhrases []string `yaml:"stop_phrases"`
}

// ProvidersConfig selects the upstream STT and TTS services.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry configures one upstream provider.
type ProviderEntry struct {
	// Name selects the implementation: "openai" or "whisper" for STT,
	// "openai" or "elevenlabs" for TTS.
	Name string `yaml:"name"`

	// APIKey authenticates against hosted providers.
	APIKey string `yaml:"api_key"`

	// Model overrides the provider's default model.
	Model string `yaml:"model"`

	// BaseURL overrides the provider endpoint (e.g., a local
	// whisper-server or an API-compatible proxy).
	BaseURL string `yaml:"base_url"`
}
