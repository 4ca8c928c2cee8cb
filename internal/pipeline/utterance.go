package pipeline

// DefaultFlushThreshold is the byte-threshold fallback flush size: roughly
// one second of 16 kHz mono 16-bit PCM.
const DefaultFlushThreshold = 32000

// UtteranceState tracks an utterance through its lifecycle.
type UtteranceState int

const (
	// UtteranceOpen means the utterance is still accumulating audio.
	UtteranceOpen UtteranceState = iota

	// UtteranceFlushing means a flush condition fired and the utterance has
	// been handed out for transcription.
	UtteranceFlushing

	// UtteranceClosed means the contents have been consumed.
	UtteranceClosed
)

// Utterance is one continuous span of user speech treated as a single
// transcription unit: an ordered accumulation of raw audio bytes plus a
// lifecycle state.
type Utterance struct {
	data       []byte
	sampleRate int
	channels   int
	state      UtteranceState
}

// Bytes returns the accumulated raw PCM. The slice is owned by the
// utterance; callers must not mutate it.
func (u *Utterance) Bytes() []byte {
	return u.data
}

// Len returns the accumulated byte count.
func (u *Utterance) Len() int {
	return len(u.data)
}

// SampleRate returns the sample rate of the accumulated audio.
func (u *Utterance) SampleRate() int {
	return u.sampleRate
}

// Channels returns the channel count of the accumulated audio.
func (u *Utterance) Channels() int {
	return u.channels
}

// State returns the current lifecycle state.
func (u *Utterance) State() UtteranceState {
	return u.state
}

// Close marks the utterance consumed. Called after its contents have been
// handed to the transcription stage.
func (u *Utterance) Close() {
	u.state = UtteranceClosed
}

// UtteranceBuffer accumulates raw audio for the in-progress utterance and
// decides when it is complete. It holds at most one Open utterance at a
// time; after a flush the next Accept starts from an empty accumulator.
//
// Flush conditions, evaluated in order:
//
//	(a) an explicit UtteranceEnd control signal (see Signal);
//	(b) the accumulated byte count reaching the configured threshold —
//	    applied only when no VAD is attached, as a fallback policy. This
//	    boundary is a known approximation and may split a sentence mid-word.
//
// A flush with zero accumulated bytes is a no-op: no Utterance is produced.
//
// The buffer is not safe for concurrent use; it is confined to the runner's
// process loop.
type UtteranceBuffer struct {
	threshold int
	hasVAD    bool
	current   *Utterance
}

// BufferOption is a functional option for UtteranceBuffer.
type BufferOption func(*UtteranceBuffer)

// WithFlushThreshold overrides the byte-threshold flush size.
func WithFlushThreshold(bytes int) BufferOption {
	return func(b *UtteranceBuffer) {
		if bytes > 0 {
			b.threshold = bytes
		}
	}
}

// WithVAD declares that a voice-activity detector delimits utterances. The
// byte-threshold fallback is disabled; only UtteranceEnd signals flush.
func WithVAD() BufferOption {
	return func(b *UtteranceBuffer) {
		b.hasVAD = true
	}
}

// NewUtteranceBuffer creates an empty buffer.
func NewUtteranceBuffer(opts ...BufferOption) *UtteranceBuffer {
	b := &UtteranceBuffer{threshold: DefaultFlushThreshold}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Accept appends chunk to the currently open utterance, creating one lazily
// if none is open, and returns the flushed Utterance when a flush condition
// fires, else nil. The buffer never invokes transcription itself; the caller
// dispatches the returned utterance.
func (b *UtteranceBuffer) Accept(chunk AudioChunk) *Utterance {
	if len(chunk.Data) == 0 {
		return nil
	}
	if b.current == nil {
		b.current = &Utterance{
			sampleRate: chunk.SampleRate,
			channels:   chunk.Channels,
			state:      UtteranceOpen,
		}
	}
	b.current.data = append(b.current.data, chunk.Data...)

	if !b.hasVAD && b.current.Len() >= b.threshold {
		return b.flush()
	}
	return nil
}

// Signal handles a voice-activity control signal. UtteranceStart opens an
// empty utterance if none is open (audio metadata is filled by the first
// chunk). UtteranceEnd flushes the open utterance; on an empty buffer it is
// a no-op. Cancel and Shutdown discard the accumulator.
func (b *UtteranceBuffer) Signal(kind ControlKind) *Utterance {
	switch kind {
	case UtteranceStart:
		if b.current == nil {
			b.current = &Utterance{state: UtteranceOpen}
		}
		return nil
	case UtteranceEnd:
		return b.flush()
	case Cancel, Shutdown:
		b.current = nil
		return nil
	default:
		return nil
	}
}

// Pending returns the number of bytes accumulated in the open utterance.
func (b *UtteranceBuffer) Pending() int {
	if b.current == nil {
		return 0
	}
	return b.current.Len()
}

// flush hands out the open utterance and resets the buffer. Empty flushes
// produce nil.
func (b *UtteranceBuffer) flush() *Utterance {
	if b.current == nil || b.current.Len() == 0 {
		b.current = nil
		return nil
	}
	u := b.current
	u.state = UtteranceFlushing
	b.current = nil
	return u
}
