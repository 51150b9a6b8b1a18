package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
var ValidProviderNames = map[string][]string{
	"stt": {"openai", "whisper"},
	"tts": {"openai", "elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Gateway.MaxChunkBytes < 0 {
		errs = append(errs, errors.New("gateway.max_chunk_bytes must not be negative"))
	}
	if cfg.Gateway.MaxTextChars < 0 {
		errs = append(errs, errors.New("gateway.max_text_chars must not be negative"))
	}

	for _, field := range []struct {
		name  string
		value int
	}{
		{"resilience.breaker_threshold", cfg.Resilience.BreakerThreshold},
		{"resilience.breaker_cooldown_ms", cfg.Resilience.BreakerCooldownMs},
		{"resilience.max_requests_per_window", cfg.Resilience.MaxRequestsPerWindow},
		{"resilience.rate_window_ms", cfg.Resilience.RateWindowMs},
		{"resilience.session_budget_ms", cfg.Resilience.SessionBudgetMs},
		{"car_mode.sample_rate", cfg.CarMode.SampleRate},
		{"car_mode.frame_samples", cfg.CarMode.FrameSamples},
		{"car_mode.zero_cross_threshold", cfg.CarMode.ZeroCrossThreshold},
		{"car_mode.silence_ms", cfg.CarMode.SilenceMs},
		{"car_mode.min_segment_bytes", cfg.CarMode.MinSegmentBytes},
		{"car_mode.watchdog_ms", cfg.CarMode.WatchdogMs},
	} {
		if field.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", field.name))
		}
	}
	if cfg.CarMode.EnergyThreshold < 0 {
		errs = append(errs, errors.New("car_mode.energy_threshold must not be negative"))
	}

	if err := validateProviderName("stt", cfg.Providers.STT.Name); err != nil {
		errs = append(errs, err)
	}
	if err := validateProviderName("tts", cfg.Providers.TTS.Name); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// validateProviderName rejects unknown provider names. Empty names are
// allowed; the binary picks its default.
func validateProviderName(kind, name string) error {
	if name == "" {
		return nil
	}
	valid := ValidProviderNames[kind]
	if !slices.Contains(valid, name) {
		return fmt.Errorf("providers.%s.name %q is unknown; valid values: %v", kind, name, valid)
	}
	return nil
}
