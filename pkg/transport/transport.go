// Package transport defines the connection boundary between a voice client
// and the conversation pipeline.
//
// A Conn delivers inbound user audio as a stream of frames, accepts outbound
// synthesized audio, and surfaces connection lifecycle events. The pipeline
// never talks to a socket directly; it consumes the Conn abstraction so that
// tests can drive a session with the mock implementation.
package transport

import "github.com/MrWong99/voxloom/pkg/audio"

// EventType enumerates connection lifecycle events.
type EventType int

const (
	// Connected indicates the transport link is established.
	Connected EventType = iota

	// Ready indicates the client has signalled it is ready to converse.
	// The session may speak its greeting once this arrives.
	Ready

	// Cancel indicates the client asked to abandon the session: in-flight
	// stage work is cancelled and the session closes.
	Cancel

	// Disconnected indicates the transport link is gone. Terminal; no
	// further events follow.
	Disconnected
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case Connected:
		return "connected"
	case Ready:
		return "ready"
	case Cancel:
		return "cancel"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is a connection lifecycle notification.
type Event struct {
	// Type is the kind of event.
	Type EventType

	// Reason carries human-readable detail for Disconnected events.
	Reason string
}

// Conn is a single client connection.
//
// Input and Events are closed by the implementation when the connection ends.
// Send never blocks on a dead connection: once the peer is gone it returns
// false and drops the frame.
type Conn interface {
	// Input returns the stream of inbound audio frames from the client.
	// Closed when the connection ends.
	Input() <-chan audio.AudioFrame

	// Send writes one synthesized audio frame to the client. It reports
	// whether the frame was accepted; false means the connection is gone and
	// the frame was dropped.
	Send(frame audio.AudioFrame) bool

	// Events returns the stream of lifecycle events. The first event is
	// always Connected; Disconnected is last. Closed after Disconnected.
	Events() <-chan Event

	// Close tears down the connection. Safe to call multiple times.
	Close() error
}

// TextSender is implemented by connections that can mirror the conversation
// as text alongside the audio: committed user transcripts and streamed reply
// increments. The pipeline probes for it with a type assertion; connections
// without it simply receive audio only.
//
// Like Send, both methods drop on a dead connection and report false.
type TextSender interface {
	// SendTranscript delivers the committed transcript of one user utterance.
	SendTranscript(text string) bool

	// SendTextDelta delivers one increment of the streamed reply.
	SendTextDelta(text string) bool
}
