// Package audio provides the shared audio frame type and the PCM toolkit used
// across the Voxloom pipeline: normalization to float32 for STT engines,
// linear-interpolation resampling, channel conversion, RMS energy measurement,
// and RIFF/WAV encoding and parsing for batch engine boundaries.
//
// All PCM throughout Voxloom is 16-bit signed little-endian.
package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the
// pipeline. Frames are the atomic unit of audio transport — captured from the
// transport, classified by VAD, accumulated into utterances, and played back
// through the outbound stream.
type AudioFrame struct {
	// Data is raw 16-bit signed little-endian PCM.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for Opus decode output, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono (STT input), 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame's PCM data.
// Returns 0 for frames with invalid format metadata.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	bytesPerSec := f.SampleRate * f.Channels * 2
	return time.Duration(len(f.Data)) * time.Second / time.Duration(bytesPerSec)
}
