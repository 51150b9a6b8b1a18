// Package vad implements a per-frame voice-activity detector.
//
// Each frame is classified as speaking or not-speaking from two cheap signal
// features: root-mean-square energy (on samples normalized to [-1, 1]) and
// the zero-crossing count. A frame is speech only when both exceed their
// thresholds — energy alone confuses hum and road noise with speech, while
// the zero-crossing gate filters low-frequency rumble.
//
// The detector keeps no state beyond the previous classification, which it
// uses to report edges: a rising edge means the user started speaking, a
// falling edge means speech *may* have ended (final utterance boundaries are
// the segmenter's job, see internal/segment).
//
// Thresholds are fixed configuration values; there is no adaptive
// calibration, so behaviour under heavy noise depends entirely on tuning.
package vad

import (
	"math"

	"github.com/MrWong99/voxroad/pkg/audio"
)

const (
	// DefaultEnergyThreshold is the normalized RMS energy above which a frame
	// can count as speech.
	DefaultEnergyThreshold = 0.008

	// DefaultZeroCrossThreshold is the minimum number of sign changes per
	// frame for speech classification.
	DefaultZeroCrossThreshold = 15
)

// Edge is the transition reported for one processed frame.
type Edge int

const (
	// EdgeNone means the classification did not change.
	EdgeNone Edge = iota

	// EdgeVoiceStart is a rising edge: previous frame silent, this one speech.
	EdgeVoiceStart

	// EdgeVoiceMaybeEnd is a falling edge: previous frame speech, this one
	// silent. Not a definitive utterance end — the silence timer decides.
	EdgeVoiceMaybeEnd
)

// String returns the human-readable name of the edge.
func (e Edge) String() string {
	switch e {
	case EdgeNone:
		return "none"
	case EdgeVoiceStart:
		return "voice-start"
	case EdgeVoiceMaybeEnd:
		return "voice-maybe-end"
	default:
		return "unknown"
	}
}

// Config holds the classification thresholds. Zero values are replaced with
// the package defaults.
type Config struct {
	// EnergyThreshold is the normalized RMS energy cutoff. Default: 0.008.
	EnergyThreshold float64

	// ZeroCrossThreshold is the zero-crossing count cutoff. Default: 15.
	ZeroCrossThreshold int
}

// Detector classifies audio frames and reports speaking edges. It is not
// safe for concurrent use; the car-mode event loop owns one instance per
// session.
type Detector struct {
	energyThreshold float64
	zcThreshold     int
	speaking        bool
}

// New creates a Detector with the supplied configuration, applying defaults
// for zero-value fields.
func New(cfg Config) *Detector {
	if cfg.EnergyThreshold <= 0 {
		cfg.EnergyThreshold = DefaultEnergyThreshold
	}
	if cfg.ZeroCrossThreshold <= 0 {
		cfg.ZeroCrossThreshold = DefaultZeroCrossThreshold
	}
	return &Detector{
		energyThreshold: cfg.EnergyThreshold,
		zcThreshold:     cfg.ZeroCrossThreshold,
	}
}

// ProcessFrame classifies one frame and returns the resulting edge relative
// to the previous frame's classification.
func (d *Detector) ProcessFrame(frame audio.AudioFrame) Edge {
	samples := frame.Samples()
	speaking := rms(samples) > d.energyThreshold && zeroCrossings(samples) > d.zcThreshold

	prev := d.speaking
	d.speaking = speaking

	switch {
	case speaking && !prev:
		return EdgeVoiceStart
	case !speaking && prev:
		return EdgeVoiceMaybeEnd
	default:
		return EdgeNone
	}
}

// Speaking reports the classification of the most recently processed frame.
func (d *Detector) Speaking() bool { return d.speaking }

// Reset clears the edge-detection state. Call when the capture stream is
// restarted so a stale "speaking" flag cannot suppress the next rising edge.
func (d *Detector) Reset() { d.speaking = false }

// rms returns the root-mean-square energy of the samples, normalized so that
// a full-scale 16-bit signal yields 1.0. Returns 0 for an empty frame.
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// zeroCrossings counts adjacent sample pairs with strictly opposite sign.
// Zero samples never contribute a crossing.
func zeroCrossings(samples []int16) int {
	count := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] < 0 && samples[i] > 0) || (samples[i-1] > 0 && samples[i] < 0) {
			count++
		}
	}
	return count
}
