package config

import (
	"strings"
	"testing"
)

const validYAML = `
server:
  listen_addr: ":8080"
  metrics_addr: ":9090"
  log_level: debug
gateway:
  max_chunk_bytes: 8388608
  max_text_chars: 4096
  staging_dir: /tmp/voxroad
resilience:
  breaker_threshold: 4
  breaker_cooldown_ms: 60000
  max_requests_per_window: 8
  rate_window_ms: 60000
  session_budget_ms: 300000
car_mode:
  gateway_url: http://localhost:8080
  chat_url: http://localhost:8090
  voice: alloy
  sample_rate: 16000
  frame_samples: 2048
  energy_threshold: 0.008
  zero_cross_threshold: 15
  silence_ms: 3000
  min_segment_bytes: 500
  watchdog_ms: 90000
  stop_phrases:
    - stop listening
    - goodbye
providers:
  stt:
    name: whisper
    base_url: http://localhost:8081
  tts:
    name: openai
    api_key: sk-test
`

func TestLoadFromReaderValid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Gateway.MaxChunkBytes != 8388608 {
		t.Errorf("max_chunk_bytes = %d", cfg.Gateway.MaxChunkBytes)
	}
	if cfg.Resilience.BreakerThreshold != 4 {
		t.Errorf("breaker_threshold = %d", cfg.Resilience.BreakerThreshold)
	}
	if cfg.CarMode.EnergyThreshold != 0.008 {
		t.Errorf("energy_threshold = %v", cfg.CarMode.EnergyThreshold)
	}
	if len(cfg.CarMode.StopPhrases) != 2 {
		t.Errorf("stop_phrases = %v", cfg.CarMode.StopPhrases)
	}
	if cfg.Providers.STT.Name != "whisper" {
		t.Errorf("stt provider = %q", cfg.Providers.STT.Name)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server:\n  listne_addr: ':8080'\n"))
	if err == nil {
		t.Fatal("expected error for misspelled field")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"empty config", func(c *Config) {}, false},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }, true},
		{"negative chunk cap", func(c *Config) { c.Gateway.MaxChunkBytes = -1 }, true},
		{"negative budget", func(c *Config) { c.Resilience.SessionBudgetMs = -1 }, true},
		{"negative energy", func(c *Config) { c.CarMode.EnergyThreshold = -0.1 }, true},
		{"unknown stt provider", func(c *Config) { c.Providers.STT.Name = "dictaphone" }, true},
		{"known tts provider", func(c *Config) { c.Providers.TTS.Name = "elevenlabs" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			tt.mutate(cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateJoinsAllErrors(t *testing.T) {
	cfg := &Config{}
	cfg.Server.LogLevel = "loud"
	cfg.Gateway.MaxTextChars = -5
	cfg.Providers.TTS.Name = "megaphone"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"log_level", "max_text_chars", "tts.name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
