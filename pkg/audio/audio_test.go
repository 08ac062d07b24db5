package audio_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/hifzlab/tasmee/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestInt16sToBytes_RoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 12345}
	got := audio.BytesToInt16s(audio.Int16sToBytes(in))
	if len(got) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], in[i])
		}
	}
}

func TestBytesToInt16s_OddTrailingByte(t *testing.T) {
	got := audio.BytesToInt16s([]byte{0x64, 0x00, 0xFF})
	if len(got) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(got))
	}
	if got[0] != 100 {
		t.Errorf("got %d, want 100", got[0])
	}
}

func TestStereoToMono(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	// Two max-positive samples should clamp to 32767 (not overflow).
	stereo := samplesToBytes([]int16{32767, 32767})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	if len(got) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(got))
	}
	if got[0] != 32767 {
		t.Errorf("got %d, want 32767", got[0])
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300})
	out := audio.ResampleMono16(pcm, 24000, 24000)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	// 2 samples at 8kHz → 6 samples at 24kHz (3x)
	pcm := samplesToBytes([]int16{1000, 2000})
	out := audio.ResampleMono16(pcm, 8000, 24000)
	got := bytesToSamples(out)
	if len(got) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(got))
	}
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
	last := got[len(got)-1]
	if last < 1800 || last > 2200 {
		t.Errorf("last sample: got %d, want close to 2000", last)
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	// 6 samples at 48kHz → 3 samples at 24kHz
	pcm := samplesToBytes([]int16{100, 200, 300, 400, 500, 600})
	out := audio.ResampleMono16(pcm, 48000, 24000)
	got := bytesToSamples(out)
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
}

func TestResampleMono16_ZeroRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200})
	out := audio.ResampleMono16(pcm, 0, 24000)
	if len(out) != len(pcm) {
		t.Errorf("expected unchanged output for zero srcRate, got len %d", len(out))
	}
	out = audio.ResampleMono16(pcm, 24000, 0)
	if len(out) != len(pcm) {
		t.Errorf("expected unchanged output for zero dstRate, got len %d", len(out))
	}
}

func TestResampleStereo16(t *testing.T) {
	// 2 stereo frames at 12kHz → 4 stereo frames (8 samples) at 24kHz
	pcm := samplesToBytes([]int16{100, 200, 300, 400})
	out := audio.ResampleStereo16(pcm, 12000, 24000)
	got := bytesToSamples(out)
	if len(got) != 8 {
		t.Fatalf("expected 8 samples, got %d", len(got))
	}
}

func TestToEngineFormat_PassThrough(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200})
	out := audio.ToEngineFormat(pcm, audio.SampleRate, audio.Channels)
	// Same slice — pointer equality check.
	if &out[0] != &pcm[0] {
		t.Error("expected same slice (zero allocation) for matching format")
	}
}

func TestToEngineFormat_StereoDownmix(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300, 400})
	out := audio.ToEngineFormat(pcm, audio.SampleRate, 2)
	got := bytesToSamples(out)
	want := []int16{150, 350}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestToEngineFormat_ResampleThenDownmix(t *testing.T) {
	// 48 kHz stereo → 24 kHz mono halves the frame count.
	pcm := samplesToBytes([]int16{100, 100, 200, 200, 300, 300, 400, 400})
	out := audio.ToEngineFormat(pcm, 48000, 2)
	got := bytesToSamples(out)
	if len(got) != 2 {
		t.Fatalf("expected 2 mono samples, got %d", len(got))
	}
}

func TestToEngineFormat_OddByteCount(t *testing.T) {
	out := audio.ToEngineFormat([]byte{1, 2, 3}, 48000, 1)
	if out != nil {
		t.Errorf("expected nil for odd byte count, got %d bytes", len(out))
	}
}

func TestRMS(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %g, want 0", got)
	}
	// Constant amplitude 1000 → RMS 1000.
	pcm := samplesToBytes([]int16{1000, -1000, 1000, -1000})
	if got := audio.RMS(pcm); math.Abs(got-1000) > 0.01 {
		t.Errorf("RMS = %g, want 1000", got)
	}
	// Silence → 0.
	if got := audio.RMS(samplesToBytes(make([]int16, 480))); got != 0 {
		t.Errorf("RMS(silence) = %g, want 0", got)
	}
}

func TestDurationMs(t *testing.T) {
	// One second of engine-format audio.
	chunk := make([]byte, audio.BytesPerSecond)
	if got := audio.DurationMs(chunk, audio.SampleRate, audio.Channels); got != 1000 {
		t.Errorf("DurationMs = %d, want 1000", got)
	}
	if got := audio.DurationMs(chunk, 0, 1); got != 0 {
		t.Errorf("DurationMs with zero rate = %d, want 0", got)
	}
}

func TestFloat32Mono(t *testing.T) {
	pcm := samplesToBytes([]int16{16384, -16384})
	got := audio.Float32Mono(pcm, 1)
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if math.Abs(float64(got[0])-0.5) > 0.001 {
		t.Errorf("sample 0: got %g, want 0.5", got[0])
	}
	if math.Abs(float64(got[1])+0.5) > 0.001 {
		t.Errorf("sample 1: got %g, want -0.5", got[1])
	}
}

func TestFloat32Mono_StereoAverage(t *testing.T) {
	// One stereo frame L=16384, R=0 averages to 0.25.
	pcm := samplesToBytes([]int16{16384, 0})
	got := audio.Float32Mono(pcm, 2)
	if len(got) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(got))
	}
	if math.Abs(float64(got[0])-0.25) > 0.001 {
		t.Errorf("got %g, want 0.25", got[0])
	}
}

func TestEncodeWAV_Header(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300})
	wavData := audio.EncodeWAV(pcm, 24000, 1)

	if len(wavData) != 44+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", 44+len(pcm), len(wavData))
	}
	if !bytes.Equal(wavData[0:4], []byte("RIFF")) {
		t.Errorf("missing RIFF marker: %q", wavData[0:4])
	}
	if !bytes.Equal(wavData[8:12], []byte("WAVE")) {
		t.Errorf("missing WAVE marker: %q", wavData[8:12])
	}
	if got := binary.LittleEndian.Uint32(wavData[24:28]); got != 24000 {
		t.Errorf("sample rate: got %d, want 24000", got)
	}
	if got := binary.LittleEndian.Uint16(wavData[22:24]); got != 1 {
		t.Errorf("channels: got %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wavData[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size: got %d, want %d", got, len(pcm))
	}
	if !bytes.Equal(wavData[44:], pcm) {
		t.Error("payload mismatch")
	}
}

func TestDecodeWAV_RoundTrip(t *testing.T) {
	in := samplesToBytes([]int16{100, -200, 300, -400, 32767, -32768})
	wavData := audio.EncodeWAV(in, 24000, 1)

	pcm, rate, channels, err := audio.DecodeWAV(bytes.NewReader(wavData))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 24000 {
		t.Errorf("sample rate: got %d, want 24000", rate)
	}
	if channels != 1 {
		t.Errorf("channels: got %d, want 1", channels)
	}
	if !bytes.Equal(pcm, in) {
		t.Errorf("payload mismatch:\ngot  %v\nwant %v", bytesToSamples(pcm), bytesToSamples(in))
	}
}

func TestDecodeWAV_Stereo(t *testing.T) {
	in := samplesToBytes([]int16{100, 200, 300, 400})
	wavData := audio.EncodeWAV(in, 48000, 2)

	pcm, rate, channels, err := audio.DecodeWAV(bytes.NewReader(wavData))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 48000 || channels != 2 {
		t.Errorf("format: got %dHz %dch, want 48000Hz 2ch", rate, channels)
	}
	if !bytes.Equal(pcm, in) {
		t.Error("payload mismatch")
	}
}

func TestDecodeWAV_Garbage(t *testing.T) {
	_, _, _, err := audio.DecodeWAV(bytes.NewReader([]byte("not a wav file at all")))
	if err == nil {
		t.Error("expected error for non-WAV input")
	}
}
