// Package mock provides test doubles for the vad.Engine and vad.SessionHandle
// interfaces. Scripted sessions let pipeline tests drive exact speech
// start/end timings without real audio analysis.
package mock

import (
	"errors"
	"sync"

	"github.com/MrWong99/voxloom/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine that hands out scripted
// sessions.
type Engine struct {
	mu sync.Mutex

	// Events is the scripted sequence of events copied into each new session.
	// Once a session exhausts its script, further frames report vad.Silence.
	Events []vad.Event

	// NewSessionErr, if non-nil, is returned from NewSession.
	NewSessionErr error

	// Sessions records every session created, in order.
	Sessions []*Session
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	events := make([]vad.Event, len(e.Events))
	copy(events, e.Events)
	s := &Session{Cfg: cfg, Script: events}
	e.Sessions = append(e.Sessions, s)
	return s, nil
}

// Session is a scripted vad.SessionHandle. Each ProcessFrame call pops the
// next event from Script; when the script is exhausted it reports Silence.
type Session struct {
	mu sync.Mutex

	// Cfg is the config the session was created with.
	Cfg vad.Config

	// Script is the remaining scripted events.
	Script []vad.Event

	// ProcessErr, if non-nil, is returned from every ProcessFrame call.
	ProcessErr error

	// FrameCount is the number of ProcessFrame calls made.
	FrameCount int

	// ResetCount is the number of Reset calls made.
	ResetCount int

	closed bool
}

// ProcessFrame implements vad.SessionHandle.
func (s *Session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, errors.New("mock: session is closed")
	}
	s.FrameCount++
	if s.ProcessErr != nil {
		return vad.Event{}, s.ProcessErr
	}
	if len(s.Script) == 0 {
		return vad.Event{Type: vad.Silence}, nil
	}
	ev := s.Script[0]
	s.Script = s.Script[1:]
	return ev, nil
}

// Reset implements vad.SessionHandle.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCount++
}

// Close implements vad.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Compile-time interface assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)
