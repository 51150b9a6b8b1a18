package audio

import "time"

// bitsPerSample is fixed at 16: every component in the pipeline exchanges
// 16-bit signed little-endian PCM.
const bitsPerSample = 16

// AudioFrame is a single fixed-size block of mono PCM samples flowing from the
// capture engine into the voice-activity detector. Frames are ephemeral — they
// are classified and (while a segment is open) appended to the segment buffer,
// never persisted.
type AudioFrame struct {
	// Data is raw 16-bit signed little-endian PCM.
	Data []byte

	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// Channels is the channel count. The car-mode pipeline uses 1 (mono).
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame's PCM data.
// Returns 0 when the frame carries no format information.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	bytesPerSec := f.SampleRate * f.Channels * (bitsPerSample / 8)
	return time.Duration(len(f.Data)) * time.Second / time.Duration(bytesPerSec)
}

// Samples decodes the frame's PCM data into int16 samples. A trailing odd byte
// is ignored.
func (f AudioFrame) Samples() []int16 {
	n := len(f.Data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(uint16(f.Data[i*2]) | uint16(f.Data[i*2+1])<<8)
	}
	return out
}
