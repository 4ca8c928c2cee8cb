// Package stt defines the Engine interface for Speech-to-Text backends.
//
// Voxloom's pipeline segments audio into complete utterances before
// transcription, so the engine boundary is a batch call: one utterance of
// normalized float32 samples in, one transcript out. Streaming recognisers can
// still sit behind this interface by buffering internally; batch engines such
// as whisper.cpp map onto it directly.
//
// Implementations must be safe for concurrent use, although the pipeline
// dispatches at most one transcription per session at a time.
package stt

import (
	"context"
	"errors"
	"time"
)

// ErrNoSpeech is returned by engines that can positively distinguish "the
// audio contained no recognisable speech" from a transport or model failure.
// Callers treat it the same as an empty transcript.
var ErrNoSpeech = errors.New("stt: no speech recognised")

// Request carries one complete utterance to the engine.
type Request struct {
	// Samples is normalized mono audio in [-1.0, 1.0).
	Samples []float32

	// SampleRate is the sample rate of Samples in Hz. Most engines expect
	// 16000; callers are responsible for resampling beforehand.
	SampleRate int

	// Language is an optional BCP-47 language hint (e.g., "en", "de").
	// Empty lets the engine auto-detect where supported.
	Language string
}

// Result is a completed transcription.
type Result struct {
	// Text is the transcribed speech. May be empty when the engine produced
	// no usable text; callers must not forward empty transcripts downstream.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// engine does not report confidence.
	Confidence float64

	// AudioDuration is the duration of the submitted audio.
	AudioDuration time.Duration
}

// Engine is the abstraction over any STT backend.
//
// Transcribe may be long-running (hundreds of milliseconds to seconds) and
// must propagate context cancellation promptly. Implementations must be safe
// for concurrent use.
type Engine interface {
	// Transcribe converts one utterance of audio into text. An empty Result.Text
	// with a nil error means the engine ran successfully but heard nothing
	// useful; a non-nil error means the engine itself failed.
	Transcribe(ctx context.Context, req Request) (Result, error)
}
