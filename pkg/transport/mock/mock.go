// Package mock provides a scriptable test double for the transport.Conn
// interface. Tests push audio frames and lifecycle events through exported
// channels and inspect everything the session sent back.
package mock

import (
	"sync"

	"github.com/MrWong99/voxloom/pkg/audio"
	"github.com/MrWong99/voxloom/pkg/transport"
)

// Conn is a mock transport connection driven entirely by the test.
type Conn struct {
	// InputCh is the channel returned by Input. The test writes frames here
	// and closes it to simulate the inbound stream ending.
	InputCh chan audio.AudioFrame

	// EventsCh is the channel returned by Events. The test writes lifecycle
	// events here.
	EventsCh chan transport.Event

	mu sync.Mutex

	// SendFails makes Send return false, simulating a dead connection.
	SendFails bool

	// Sent records every frame accepted by Send, in order.
	Sent []audio.AudioFrame

	// Transcripts records every text accepted by SendTranscript, in order.
	Transcripts []string

	// Deltas records every text accepted by SendTextDelta, in order.
	Deltas []string

	// CloseCount is the number of Close calls made.
	CloseCount int
}

// New returns a Conn with buffered input and event channels.
func New() *Conn {
	return &Conn{
		InputCh:  make(chan audio.AudioFrame, 64),
		EventsCh: make(chan transport.Event, 16),
	}
}

// Input implements transport.Conn.
func (c *Conn) Input() <-chan audio.AudioFrame {
	return c.InputCh
}

// Send implements transport.Conn.
func (c *Conn) Send(frame audio.AudioFrame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendFails {
		return false
	}
	c.Sent = append(c.Sent, frame)
	return true
}

// SendTranscript implements transport.TextSender.
func (c *Conn) SendTranscript(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendFails {
		return false
	}
	c.Transcripts = append(c.Transcripts, text)
	return true
}

// SendTextDelta implements transport.TextSender.
func (c *Conn) SendTextDelta(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendFails {
		return false
	}
	c.Deltas = append(c.Deltas, text)
	return true
}

// Events implements transport.Conn.
func (c *Conn) Events() <-chan transport.Event {
	return c.EventsCh
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCount++
	return nil
}

// SentFrames returns a copy of the frames accepted by Send. Thread-safe.
func (c *Conn) SentFrames() []audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audio.AudioFrame, len(c.Sent))
	copy(out, c.Sent)
	return out
}

// SentBytes returns the concatenated PCM of all frames accepted by Send.
// Thread-safe.
func (c *Conn) SentBytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []byte
	for _, f := range c.Sent {
		out = append(out, f.Data...)
	}
	return out
}

// SentTranscripts returns a copy of the texts accepted by SendTranscript.
// Thread-safe.
func (c *Conn) SentTranscripts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Transcripts))
	copy(out, c.Transcripts)
	return out
}

// SentDeltas returns a copy of the texts accepted by SendTextDelta.
// Thread-safe.
func (c *Conn) SentDeltas() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Deltas))
	copy(out, c.Deltas)
	return out
}

// Ensure Conn implements the transport interfaces at compile time.
var (
	_ transport.Conn       = (*Conn)(nil)
	_ transport.TextSender = (*Conn)(nil)
)
