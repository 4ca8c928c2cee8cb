package audio_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/voxloom/pkg/audio"
)

// pcm16 builds a little-endian PCM buffer from int16 samples.
func pcm16(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestPCMToFloat32_Mono(t *testing.T) {
	t.Parallel()

	in := pcm16(0, 16384, -16384, 32767)
	out := audio.PCMToFloat32(in, 1)

	want := []float32{0, 0.5, -0.5, 32767.0 / 32768.0}
	if len(out) != len(want) {
		t.Fatalf("sample count: want %d, got %d", len(want), len(out))
	}
	for i := range want {
		if math.Abs(float64(out[i]-want[i])) > 1e-4 {
			t.Errorf("sample %d: want %f, got %f", i, want[i], out[i])
		}
	}
}

func TestPCMToFloat32_StereoDownmix(t *testing.T) {
	t.Parallel()

	// One stereo frame: L=16384, R=0 → mono 0.25.
	in := pcm16(16384, 0)
	out := audio.PCMToFloat32(in, 2)

	if len(out) != 1 {
		t.Fatalf("sample count: want 1, got %d", len(out))
	}
	if math.Abs(float64(out[0])-0.25) > 1e-4 {
		t.Errorf("downmixed sample: want 0.25, got %f", out[0])
	}
}

func TestFloat32ToPCM_RoundTrip(t *testing.T) {
	t.Parallel()

	in := pcm16(0, 1000, -1000, 12345)
	back := audio.Float32ToPCM(audio.PCMToFloat32(in, 1))

	for i := 0; i < len(in); i += 2 {
		orig := int16(binary.LittleEndian.Uint16(in[i:]))
		got := int16(binary.LittleEndian.Uint16(back[i:]))
		if diff := orig - got; diff > 1 || diff < -1 {
			t.Errorf("sample %d: want %d±1, got %d", i/2, orig, got)
		}
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	in := pcm16(100, 200, -100, -200)
	out := audio.StereoToMono(in)

	want := pcm16(150, -150)
	if !bytes.Equal(out, want) {
		t.Errorf("StereoToMono: want %v, got %v", want, out)
	}
}

func TestMonoToStereo(t *testing.T) {
	t.Parallel()

	in := pcm16(42, -42)
	out := audio.MonoToStereo(in)

	want := pcm16(42, 42, -42, -42)
	if !bytes.Equal(out, want) {
		t.Errorf("MonoToStereo: want %v, got %v", want, out)
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		srcRate     int
		dstRate     int
		srcSamples  int
		wantSamples int
	}{
		{"same rate is identity", 16000, 16000, 160, 160},
		{"downsample 48k to 16k", 48000, 16000, 480, 160},
		{"upsample 16k to 48k", 16000, 48000, 160, 480},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			in := make([]byte, tc.srcSamples*2)
			out := audio.ResampleMono16(in, tc.srcRate, tc.dstRate)
			if len(out)/2 != tc.wantSamples {
				t.Errorf("output samples: want %d, got %d", tc.wantSamples, len(out)/2)
			}
		})
	}
}

func TestComputeRMS(t *testing.T) {
	t.Parallel()

	if rms := audio.ComputeRMS(nil); rms != 0 {
		t.Errorf("RMS of empty buffer: want 0, got %f", rms)
	}

	// Constant amplitude signal has RMS equal to that amplitude.
	in := pcm16(1000, -1000, 1000, -1000)
	if rms := audio.ComputeRMS(in); math.Abs(rms-1000) > 0.01 {
		t.Errorf("RMS of ±1000 square wave: want 1000, got %f", rms)
	}
}

func TestEncodeWAV_ParseWAV_RoundTrip(t *testing.T) {
	t.Parallel()

	pcm := pcm16(1, 2, 3, 4, 5, 6, 7, 8)
	wav := audio.EncodeWAV(pcm, 22050, 1)

	info, err := audio.ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: unexpected error: %v", err)
	}
	if info.SampleRate != 22050 {
		t.Errorf("SampleRate: want 22050, got %d", info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Channels: want 1, got %d", info.Channels)
	}
	got := wav[info.DataOffset : info.DataOffset+info.DataSize]
	if !bytes.Equal(got, pcm) {
		t.Errorf("payload mismatch: want %v, got %v", pcm, got)
	}
}

func TestParseWAV_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		wav  []byte
	}{
		{"too short", []byte("RIFF")},
		{"bad magic", bytes.Repeat([]byte{0}, 64)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := audio.ParseWAV(tc.wav); err == nil {
				t.Error("ParseWAV: expected error, got nil")
			}
		})
	}
}

func TestFrameDuration(t *testing.T) {
	t.Parallel()

	f := audio.AudioFrame{Data: make([]byte, 32000), SampleRate: 16000, Channels: 1}
	if d := f.Duration(); d.Milliseconds() != 1000 {
		t.Errorf("Duration: want 1s, got %v", d)
	}
	if d := (audio.AudioFrame{}).Duration(); d != 0 {
		t.Errorf("Duration of zero frame: want 0, got %v", d)
	}
}
