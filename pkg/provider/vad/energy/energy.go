// Package energy provides a dependency-free VAD engine based on short-term
// RMS energy with hysteresis and a hangover timer. It implements the
// vad.Engine interface.
//
// Energy-based detection is crude compared to model-based VADs but needs no
// external runtime, making it the default for local development and tests.
// The score reported in each Event is the frame RMS mapped to [0, 1] against
// a fixed reference level, so the thresholds in vad.Config apply directly.
package energy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxloom/pkg/audio"
	"github.com/MrWong99/voxloom/pkg/provider/vad"
)

// Compile-time interface assertion.
var _ vad.Engine = (*Engine)(nil)

const (
	// defaultHangoverMs is the silence duration that ends a speech segment
	// when Config.HangoverMs is zero.
	defaultHangoverMs = 500

	// fullScale converts [audio.ComputeRMS] output, which is in raw PCM
	// sample units (0–32767), to a fraction of full scale.
	fullScale = 32768.0

	// rmsReference maps full-scale-normalized RMS (0..1) to the score range.
	// Normal speech at a sane input gain peaks well below full scale, so the
	// reference is set so conversational speech scores around 0.5–0.9.
	rmsReference = 0.125
)

// Engine creates energy-based VAD sessions.
type Engine struct{}

// New returns a new energy VAD engine.
func New() *Engine {
	return &Engine{}
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: invalid frame size %d ms", cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %v out of range [0,1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %v must be in [0, %v]", cfg.SilenceThreshold, cfg.SpeechThreshold)
	}

	hangover := cfg.HangoverMs
	if hangover == 0 {
		hangover = defaultHangoverMs
	}

	// 16-bit mono: 2 bytes per sample.
	frameBytes := cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2

	return &session{
		cfg:            cfg,
		frameBytes:     frameBytes,
		hangoverFrames: hangover / cfg.FrameSizeMs,
	}, nil
}

// session is a single-stream energy VAD state machine.
type session struct {
	mu             sync.Mutex
	cfg            vad.Config
	frameBytes     int
	hangoverFrames int

	inSpeech      bool
	silenceFrames int
	closed        bool
}

// ProcessFrame implements vad.SessionHandle.
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return vad.Event{}, errors.New("energy: session is closed")
	}
	if len(frame) != s.frameBytes {
		return vad.Event{}, fmt.Errorf("energy: frame size %d bytes, want %d (%d ms at %d Hz)",
			len(frame), s.frameBytes, s.cfg.FrameSizeMs, s.cfg.SampleRate)
	}

	score := min(audio.ComputeRMS(frame)/fullScale/rmsReference, 1.0)
	ev := vad.Event{Score: score}

	switch {
	case !s.inSpeech && score >= s.cfg.SpeechThreshold:
		s.inSpeech = true
		s.silenceFrames = 0
		ev.Type = vad.SpeechStart

	case s.inSpeech && score <= s.cfg.SilenceThreshold:
		s.silenceFrames++
		if s.silenceFrames >= s.hangoverFrames {
			s.inSpeech = false
			s.silenceFrames = 0
			ev.Type = vad.SpeechEnd
		} else {
			// Still inside the hangover window: treat as ongoing speech.
			ev.Type = vad.SpeechContinue
		}

	case s.inSpeech:
		s.silenceFrames = 0
		ev.Type = vad.SpeechContinue

	default:
		ev.Type = vad.Silence
	}

	return ev, nil
}

// Reset implements vad.SessionHandle.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSpeech = false
	s.silenceFrames = 0
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
