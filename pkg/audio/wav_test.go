package audio

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestEncodeWAV_Header(t *testing.T) {
	pcm := make([]byte, 3200) // 100 ms @ 16 kHz mono 16-bit
	wav := EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE markers: %q %q", wav[0:4], wav[8:12])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
}

func TestAudioFrame_Duration(t *testing.T) {
	tests := []struct {
		name  string
		frame AudioFrame
		want  time.Duration
	}{
		{
			name:  "128ms at 16kHz mono",
			frame: AudioFrame{Data: make([]byte, 4096), SampleRate: 16000, Channels: 1},
			want:  128 * time.Millisecond,
		},
		{
			name:  "no format info",
			frame: AudioFrame{Data: make([]byte, 4096)},
			want:  0,
		},
	}
	for _, tt := range tests {
		if got := tt.frame.Duration(); got != tt.want {
			t.Errorf("%s: Duration() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestAudioFrame_Samples(t *testing.T) {
	f := AudioFrame{Data: []byte{0x01, 0x00, 0xFF, 0xFF, 0x00, 0x80, 0xAA}}
	got := f.Samples()
	want := []int16{1, -1, -32768}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
