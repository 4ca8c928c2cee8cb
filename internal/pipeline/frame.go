// Package pipeline implements the streaming frame pipeline at the core of a
// voice conversation session: inbound audio is buffered into utterances,
// transcribed, fed to a language model as a growing conversation, and the
// streamed reply is synthesized back into outbound audio — under strict
// ordering and cancellation guarantees, without ever blocking the real-time
// audio path.
//
// Stages communicate through the [Bus]; the [Runner] owns the lifecycle of
// all stages for one session and is driven by a single Dispatch entry point.
package pipeline

// Frame is one unit of data flowing through the pipeline: audio, text, or a
// control signal. The set of implementations is closed — every stage switches
// exhaustively over the concrete types below. Frames are immutable once
// created; ownership transfers along the bus with a single consumer per
// frame instance.
type Frame interface {
	isFrame()
}

// AudioChunk carries raw audio samples (16-bit little-endian PCM).
type AudioChunk struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// PartialTranscript carries interim speech-to-text output that may still be
// revised.
type PartialTranscript struct {
	Text string
}

// FinalTranscript carries committed speech-to-text output for one utterance.
type FinalTranscript struct {
	Text string
}

// TextDelta carries one increment of streamed language-model output.
type TextDelta struct {
	Text string
}

// ControlKind enumerates control signal kinds.
type ControlKind int

const (
	// UtteranceStart marks the onset of user speech (from VAD).
	UtteranceStart ControlKind = iota

	// UtteranceEnd marks the end of user speech; flushes the open utterance.
	UtteranceEnd

	// Cancel aborts in-flight stage work for the session.
	Cancel

	// Shutdown tears the session down.
	Shutdown
)

// String returns a human-readable name for the control kind.
func (k ControlKind) String() string {
	switch k {
	case UtteranceStart:
		return "utterance_start"
	case UtteranceEnd:
		return "utterance_end"
	case Cancel:
		return "cancel"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// ControlSignal carries an out-of-band control event. Control signals flow
// upstream, opposite to data.
type ControlSignal struct {
	Kind ControlKind
}

func (AudioChunk) isFrame()        {}
func (PartialTranscript) isFrame() {}
func (FinalTranscript) isFrame()   {}
func (TextDelta) isFrame()         {}
func (ControlSignal) isFrame()     {}
