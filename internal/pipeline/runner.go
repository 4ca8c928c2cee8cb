package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxloom/internal/observe"
	"github.com/MrWong99/voxloom/pkg/audio"
	"github.com/MrWong99/voxloom/pkg/provider/vad"
	"github.com/MrWong99/voxloom/pkg/transport"
)

// State is the runner's lifecycle state.
type State int32

const (
	// StateIdle: session created, transport not yet connected.
	StateIdle State = iota

	// StateConnected: transport handshake done.
	StateConnected

	// StateReady: client signalled ready; conversation may begin.
	StateReady

	// StateActive: normal steady-state frame flow.
	StateActive

	// StateCancelling: teardown observed; draining in-flight stage work.
	StateCancelling

	// StateClosed: terminal. A new session is required afterwards.
	StateClosed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StateCancelling:
		return "cancelling"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventType enumerates the events that drive the runner's state machine.
type EventType int

const (
	// EventConnected: the transport link is established.
	EventConnected EventType = iota

	// EventReady: the client is ready to converse.
	EventReady

	// EventCancel: abandon in-flight work and close the session.
	EventCancel

	// EventDisconnected: the transport link is gone.
	EventDisconnected
)

// Event is one input to the runner's state machine.
type Event struct {
	Type   EventType
	Reason string
}

// EchoFilter screens transcripts against the bot's own recent speech so a
// cascaded session does not answer itself.
type EchoFilter interface {
	// IsEcho reports whether text is a near-duplicate of recently spoken
	// bot output.
	IsEcho(text string) bool

	// Observe records a completed bot reply for future comparisons.
	Observe(reply string)
}

// turnResult is the outcome label of one finished turn.
type turnResult string

const (
	turnOK        turnResult = "ok"
	turnEmpty     turnResult = "empty"
	turnEcho      turnResult = "echo"
	turnFailed    turnResult = "failed"
	turnCancelled turnResult = "cancelled"
)

// Runner owns the lifecycle of all pipeline stages for one session: wiring,
// startup, per-event dispatch, and coordinated shutdown. It is a state
// machine driven by a single Dispatch entry point — no callback
// registration.
//
// Concurrency model: the process loop is the only goroutine that touches the
// utterance buffer and the state machine. An ingest goroutine moves
// transport audio onto the bus (running VAD inline, which never blocks), a
// send goroutine moves outbound bus frames to the transport, and at most one
// turn goroutine runs the transcribe→generate→synthesize chain. Each stage
// has pipeline depth one: a new utterance waits until the previous turn
// completes, preserving conversational order.
type Runner struct {
	conn        transport.Conn
	bus         *Bus
	buffer      *UtteranceBuffer
	transcriber *TranscriptionStage
	generator   *GenerationStage
	synthesizer *SynthesisStage

	// textOut mirrors transcripts and reply deltas to the client when the
	// transport supports it. Nil otherwise.
	textOut transport.TextSender

	vadSess  vad.SessionHandle
	echo     EchoFilter
	greeting string

	logger  *slog.Logger
	metrics *observe.Metrics

	state  atomic.Int32
	events chan Event
	closed chan struct{}

	// Turn bookkeeping, confined to the process loop.
	runCtx     context.Context
	turnActive bool
	turnCancel context.CancelFunc
	turnDone   chan turnResult
	pending    []*Utterance
}

// RunnerOption is a functional option for Runner.
type RunnerOption func(*Runner)

// WithGreeting makes the session speak text once the client signals ready.
func WithGreeting(text string) RunnerOption {
	return func(r *Runner) {
		r.greeting = text
	}
}

// WithVADSession attaches a voice-activity session that delimits utterances.
// The byte-threshold fallback flush is disabled.
func WithVADSession(s vad.SessionHandle) RunnerOption {
	return func(r *Runner) {
		r.vadSess = s
	}
}

// WithEchoFilter attaches a self-echo filter screening transcripts.
func WithEchoFilter(f EchoFilter) RunnerOption {
	return func(r *Runner) {
		r.echo = f
	}
}

// WithBuffer replaces the default utterance buffer.
func WithBuffer(b *UtteranceBuffer) RunnerOption {
	return func(r *Runner) {
		r.buffer = b
	}
}

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithMetrics sets the runner's metrics instance.
func WithMetrics(m *observe.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// NewRunner wires a session from its transport connection and stages.
func NewRunner(conn transport.Conn, transcriber *TranscriptionStage, generator *GenerationStage, synthesizer *SynthesisStage, opts ...RunnerOption) *Runner {
	r := &Runner{
		conn:        conn,
		bus:         NewBus(256),
		transcriber: transcriber,
		generator:   generator,
		synthesizer: synthesizer,
		events:      make(chan Event, 16),
		closed:      make(chan struct{}),
		turnDone:    make(chan turnResult, 1),
	}
	if ts, ok := conn.(transport.TextSender); ok {
		r.textOut = ts
	}
	for _, o := range opts {
		o(r)
	}
	if r.buffer == nil {
		if r.vadSess != nil {
			r.buffer = NewUtteranceBuffer(WithVAD())
		} else {
			r.buffer = NewUtteranceBuffer()
		}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "pipeline.runner")
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// State returns the current lifecycle state. Safe for concurrent use.
func (r *Runner) State() State {
	return State(r.state.Load())
}

// Dispatch feeds one event into the state machine. Safe for concurrent use;
// events arriving after the session closed are dropped.
func (r *Runner) Dispatch(ev Event) {
	select {
	case r.events <- ev:
	case <-r.closed:
	}
}

// Done returns a channel closed once the session reaches StateClosed.
func (r *Runner) Done() <-chan struct{} {
	return r.closed
}

// Run drives the session until the transport disconnects, a cancel arrives,
// or ctx is cancelled. It always leaves the session in StateClosed with all
// resources released.
func (r *Runner) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.runCtx = runCtx

	go r.ingestLoop(runCtx)
	go r.sendLoop(runCtx)

	r.metrics.ActiveSessions.Add(ctx, 1)
	defer r.metrics.ActiveSessions.Add(ctx, -1)

	return r.processLoop(runCtx, cancel)
}

// ─── ingest ──────────────────────────────────────────────────────────────────

// ingestLoop moves transport input onto the bus. It runs VAD inline — VAD is
// frame-synchronous and never blocks — and translates speech boundaries into
// utterance control signals. Transport lifecycle events become state-machine
// events; a client cancel flows upstream on the bus control channel.
func (r *Runner) ingestLoop(ctx context.Context) {
	input := r.conn.Input()
	events := r.conn.Events()

	for input != nil || events != nil {
		select {
		case <-ctx.Done():
			return

		case frame, ok := <-input:
			if !ok {
				input = nil
				r.Dispatch(Event{Type: EventDisconnected, Reason: "input stream closed"})
				continue
			}
			r.ingestAudio(frame)

		case tev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch tev.Type {
			case transport.Connected:
				r.Dispatch(Event{Type: EventConnected})
			case transport.Ready:
				r.Dispatch(Event{Type: EventReady})
			case transport.Cancel:
				r.bus.PublishControl(ControlSignal{Kind: Cancel})
			case transport.Disconnected:
				r.Dispatch(Event{Type: EventDisconnected, Reason: tev.Reason})
			}
		}
	}
}

// ingestAudio classifies one transport frame through VAD (when attached) and
// publishes the resulting frames on the bus.
func (r *Runner) ingestAudio(frame audio.AudioFrame) {
	chunk := AudioChunk{
		Data:       frame.Data,
		SampleRate: frame.SampleRate,
		Channels:   frame.Channels,
	}

	if r.vadSess == nil {
		r.bus.PublishInbound(chunk)
		return
	}

	ev, err := r.vadSess.ProcessFrame(frame.Data)
	if err != nil {
		// Degrade to passing audio through; the buffer still has its
		// explicit-signal path and the turn loop tolerates noise.
		r.logger.Debug("vad frame rejected", "error", err)
		r.bus.PublishInbound(chunk)
		return
	}

	switch ev.Type {
	case vad.SpeechStart:
		r.bus.PublishInbound(ControlSignal{Kind: UtteranceStart})
		r.bus.PublishInbound(chunk)
	case vad.SpeechContinue:
		r.bus.PublishInbound(chunk)
	case vad.SpeechEnd:
		r.bus.PublishInbound(chunk)
		r.bus.PublishInbound(ControlSignal{Kind: UtteranceEnd})
	case vad.Silence:
		// Dropped: silence never reaches the utterance buffer.
	}
}

// ─── send ────────────────────────────────────────────────────────────────────

// sendLoop moves outbound bus frames to the transport. A failed audio send
// means the peer is gone; text mirroring is best-effort and a failure there
// is benign (the next audio send detects the dead peer).
func (r *Runner) sendLoop(ctx context.Context) {
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.bus.Done():
			return
		case f := <-r.bus.Outbound():
			switch frame := f.(type) {
			case AudioChunk:
				sent := r.conn.Send(audio.AudioFrame{
					Data:       frame.Data,
					SampleRate: frame.SampleRate,
					Channels:   frame.Channels,
					Timestamp:  time.Since(start),
				})
				if !sent {
					r.Dispatch(Event{Type: EventDisconnected, Reason: "send failed"})
					return
				}
			case FinalTranscript:
				if r.textOut != nil {
					r.textOut.SendTranscript(frame.Text)
				}
			case TextDelta:
				if r.textOut != nil {
					r.textOut.SendTextDelta(frame.Text)
				}
			}
		}
	}
}

// ─── process loop ────────────────────────────────────────────────────────────

// processLoop is the single goroutine that owns the state machine, the
// utterance buffer, and turn scheduling.
func (r *Runner) processLoop(ctx context.Context, cancelRun context.CancelFunc) error {
	for {
		select {
		case <-ctx.Done():
			r.shutdown(cancelRun, "context cancelled")
			return ctx.Err()

		case ev := <-r.events:
			if terminal := r.handleEvent(ev); terminal {
				r.shutdown(cancelRun, ev.Reason)
				return nil
			}

		case f := <-r.bus.Control():
			if sig, ok := f.(ControlSignal); ok && (sig.Kind == Cancel || sig.Kind == Shutdown) {
				r.logger.Info("cancel signal received", "kind", sig.Kind.String())
				r.shutdown(cancelRun, sig.Kind.String())
				return nil
			}

		case f := <-r.bus.Inbound():
			r.handleInbound(f)

		case res := <-r.turnDone:
			r.finishTurn(res)
		}
	}
}

// handleEvent applies one state-machine transition. It reports whether the
// event is terminal (the session must shut down).
func (r *Runner) handleEvent(ev Event) bool {
	state := r.State()
	switch ev.Type {
	case EventConnected:
		if state == StateIdle {
			r.setState(StateConnected)
		}
	case EventReady:
		if state == StateConnected {
			r.setState(StateReady)
			if r.greeting != "" {
				r.startGreeting()
			}
		}
	case EventCancel:
		return true
	case EventDisconnected:
		r.logger.Info("transport disconnected", "reason", ev.Reason)
		return true
	}
	return false
}

// handleInbound routes one inbound data frame.
func (r *Runner) handleInbound(f Frame) {
	state := r.State()
	if state != StateReady && state != StateActive {
		return
	}

	switch frame := f.(type) {
	case AudioChunk:
		if state == StateReady {
			r.setState(StateActive)
		}
		if flushed := r.buffer.Accept(frame); flushed != nil {
			r.enqueueUtterance(flushed)
		}
	case ControlSignal:
		if flushed := r.buffer.Signal(frame.Kind); flushed != nil {
			r.enqueueUtterance(flushed)
		}
	default:
		// Transcripts and text deltas travel inside the turn goroutine, not
		// on the inbound bus.
	}
}

// enqueueUtterance schedules a flushed utterance, queueing it while a turn
// is in flight so each stage keeps pipeline depth one.
func (r *Runner) enqueueUtterance(u *Utterance) {
	if r.turnActive {
		r.pending = append(r.pending, u)
		return
	}
	r.startTurn(u)
}

// finishTurn clears turn bookkeeping and dispatches the next queued
// utterance, if any.
func (r *Runner) finishTurn(res turnResult) {
	r.turnActive = false
	if r.turnCancel != nil {
		r.turnCancel()
		r.turnCancel = nil
	}
	r.metrics.RecordTurn(r.runCtx, string(res))

	if len(r.pending) > 0 {
		next := r.pending[0]
		r.pending = r.pending[1:]
		r.startTurn(next)
	}
}

// startTurn runs one transcribe→generate→synthesize chain in its own
// cancellable goroutine.
func (r *Runner) startTurn(u *Utterance) {
	ctx, cancel := context.WithCancel(r.runCtx)
	r.turnCancel = cancel
	r.turnActive = true

	go func() {
		res := r.runTurn(ctx, u)
		select {
		case r.turnDone <- res:
		case <-r.closed:
		}
	}()
}

// startGreeting speaks the configured greeting through the synthesis stage,
// occupying the turn slot so a first utterance queues behind it.
func (r *Runner) startGreeting() {
	ctx, cancel := context.WithCancel(r.runCtx)
	r.turnCancel = cancel
	r.turnActive = true

	go func() {
		res := turnOK
		frames, err := r.synthesizer.Synthesize(ctx, r.greeting)
		if err != nil {
			r.logger.Warn("greeting synthesis failed", "error", err)
			res = turnFailed
		} else if !r.publishFrames(frames) {
			res = turnCancelled
		}
		select {
		case r.turnDone <- res:
		case <-r.closed:
		}
	}()
}

// runTurn executes one full conversation turn. All per-utterance errors are
// absorbed here; only the returned outcome label differs.
func (r *Runner) runTurn(ctx context.Context, u *Utterance) turnResult {
	start := time.Now()

	text, err := r.transcriber.Transcribe(ctx, u)
	if err != nil {
		if errors.Is(err, ErrEmptyTranscript) {
			r.logger.Debug("utterance produced no text, discarding")
			r.metrics.RecordUtterance(ctx, "empty")
			return turnEmpty
		}
		r.logger.Warn("transcription failed, discarding utterance", "error", err)
		r.metrics.RecordUtterance(ctx, "failed")
		return turnFailed
	}
	if r.echo != nil && r.echo.IsEcho(text) {
		r.logger.Debug("discarding self-echo transcript", "text", text)
		r.metrics.RecordUtterance(ctx, "echo")
		return turnEcho
	}
	r.metrics.RecordUtterance(ctx, "transcribed")
	r.logger.Info("user said", "text", text)
	r.bus.PublishOutbound(FinalTranscript{Text: text})

	deltas := r.forwardDeltas(ctx, r.generator.Respond(ctx, text))
	frames, err := r.synthesizer.Run(ctx, deltas)
	if err != nil {
		r.logger.Warn("synthesis failed, dropping reply audio", "error", err)
		drainStrings(deltas)
		return turnFailed
	}
	if !r.publishFrames(frames) {
		return turnCancelled
	}
	if ctx.Err() != nil {
		return turnCancelled
	}

	if r.echo != nil {
		if reply := r.generator.Conversation().LastAssistant(); reply != "" {
			r.echo.Observe(reply)
		}
	}
	r.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	return turnOK
}

// forwardDeltas tees a reply delta stream: each delta is published outbound
// for client display, then passed on to synthesis.
func (r *Runner) forwardDeltas(ctx context.Context, deltas <-chan string) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		for d := range deltas {
			r.bus.PublishOutbound(TextDelta{Text: d})
			select {
			case out <- d:
			case <-ctx.Done():
				drainStrings(deltas)
				return
			}
		}
	}()
	return out
}

// publishFrames forwards synthesized frames to the outbound bus in order.
// It reports false when the bus shut down mid-stream.
func (r *Runner) publishFrames(frames <-chan audio.AudioFrame) bool {
	for f := range frames {
		ok := r.bus.PublishOutbound(AudioChunk{
			Data:       f.Data,
			SampleRate: f.SampleRate,
			Channels:   f.Channels,
		})
		if !ok {
			drainFrames(frames)
			return false
		}
	}
	return true
}

// ─── shutdown ────────────────────────────────────────────────────────────────

// shutdown drives Cancelling→Closed: stop intake, abandon in-flight work,
// release resources. Idempotent by construction — it only runs once because
// processLoop returns right after.
func (r *Runner) shutdown(cancelRun context.CancelFunc, reason string) {
	r.setState(StateCancelling)
	r.logger.Info("session closing", "reason", reason)

	// Stop intake and abandon in-flight stage work.
	r.bus.Close()
	if r.turnCancel != nil {
		r.turnCancel()
	}
	cancelRun()

	// Wait for the turn goroutine to acknowledge cancellation.
	if r.turnActive {
		<-r.turnDone
		r.turnActive = false
	}
	r.pending = nil
	r.buffer.Signal(Cancel)

	// Release session resources.
	if r.vadSess != nil {
		if err := r.vadSess.Close(); err != nil {
			r.logger.Warn("vad session close failed", "error", err)
		}
	}
	if err := r.conn.Close(); err != nil {
		r.logger.Warn("transport close failed", "error", err)
	}

	r.setState(StateClosed)
	close(r.closed)
}

func (r *Runner) setState(s State) {
	old := State(r.state.Swap(int32(s)))
	if old != s {
		r.logger.Debug("state transition", "from", old.String(), "to", s.String())
	}
}

// drainStrings consumes the remainder of a delta stream.
func drainStrings(ch <-chan string) {
	for range ch {
	}
}

// drainFrames consumes the remainder of a frame stream.
func drainFrames(ch <-chan audio.AudioFrame) {
	for range ch {
	}
}
