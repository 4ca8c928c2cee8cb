package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxloom/internal/config"
	"github.com/MrWong99/voxloom/internal/observe"
	"github.com/MrWong99/voxloom/internal/persona"
	"github.com/MrWong99/voxloom/internal/pipeline"
	"github.com/MrWong99/voxloom/internal/transcript"
	"github.com/MrWong99/voxloom/pkg/provider/tts"
	"github.com/MrWong99/voxloom/pkg/provider/vad"
	"github.com/MrWong99/voxloom/pkg/transport"
)

// resolveTimeout bounds the persona lookup done while starting a session.
const resolveTimeout = 10 * time.Second

// SessionInfo holds metadata about the active session.
type SessionInfo struct {
	// SessionID uniquely identifies this session.
	SessionID string

	// Persona is the resolved persona name.
	Persona string

	// StartedAt is when the session was accepted.
	StartedAt time.Time

	// RemoteAddr is the peer address of the transport connection.
	RemoteAddr string
}

// SessionManager owns the lifecycle of voice sessions. Only one session can
// be active at a time; a second connection is refused until the first closes.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	cfg       *config.Config
	providers *Providers
	personas  persona.Store
	logger    *slog.Logger
	metrics   *observe.Metrics

	mu     sync.Mutex
	active bool
	info   SessionInfo
	cancel context.CancelFunc
	done   chan struct{}
	seq    int
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg *config.Config, providers *Providers, personas persona.Store, logger *slog.Logger, metrics *observe.Metrics) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &SessionManager{
		cfg:       cfg,
		providers: providers,
		personas:  personas,
		logger:    logger.With("component", "app.sessions"),
		metrics:   metrics,
	}
}

// Start wires a pipeline runner onto conn and runs it in the background. It
// returns an error when a session is already active or when the configured
// persona cannot be resolved; in both cases the caller still owns conn.
func (sm *SessionManager) Start(ctx context.Context, conn transport.Conn, remoteAddr string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active {
		return fmt.Errorf("app: a session is already active (id=%s)", sm.info.SessionID)
	}

	resolveCtx, cancelResolve := context.WithTimeout(ctx, resolveTimeout)
	p, err := sm.personas.Resolve(resolveCtx, sm.cfg.Persona.Default)
	cancelResolve()
	if err != nil {
		return fmt.Errorf("app: resolve persona: %w", err)
	}

	sm.seq++
	now := time.Now().UTC()
	sessionID := fmt.Sprintf("session-%s-%d", now.Format("20060102T150405Z"), sm.seq)
	logger := sm.logger.With("session_id", sessionID)

	runner, vadSess, err := sm.buildRunner(conn, p, logger)
	if err != nil {
		return err
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	sm.active = true
	sm.cancel = cancel
	sm.done = done
	sm.info = SessionInfo{
		SessionID:  sessionID,
		Persona:    p.Name,
		StartedAt:  now,
		RemoteAddr: remoteAddr,
	}

	logger.Info("session started",
		"persona", p.Name,
		"remote_addr", remoteAddr,
		"vad", vadSess != nil,
	)

	go func() {
		defer close(done)
		if err := runner.Run(sessionCtx); err != nil && sessionCtx.Err() == nil {
			logger.Warn("session ended with error", "error", err)
		}
		cancel()
		sm.clear(sessionID)
		logger.Info("session ended")
	}()

	return nil
}

// buildRunner assembles the full stage chain for one session.
func (sm *SessionManager) buildRunner(conn transport.Conn, p persona.Persona, logger *slog.Logger) (*pipeline.Runner, vad.SessionHandle, error) {
	pcfg := sm.cfg.Pipeline

	conv := pipeline.NewConversation(p.SystemPrompt)
	transcriber := pipeline.NewTranscriptionStage(sm.providers.STT, p.Language, logger, sm.metrics)

	var genOpts []pipeline.GenerationOption
	if pcfg.Temperature != 0 {
		genOpts = append(genOpts, pipeline.WithTemperature(pcfg.Temperature))
	}
	if pcfg.MaxTokens != 0 {
		genOpts = append(genOpts, pipeline.WithMaxTokens(pcfg.MaxTokens))
	}
	if pcfg.FallbackReply != "" {
		genOpts = append(genOpts, pipeline.WithFallbackReply(pcfg.FallbackReply))
	}
	generator := pipeline.NewGenerationStage(sm.providers.LLM, conv, logger, sm.metrics, genOpts...)

	synthesizer := pipeline.NewSynthesisStage(sm.providers.TTS, tts.Voice{ID: p.Voice}, pcfg.SampleRate, logger, sm.metrics)

	opts := []pipeline.RunnerOption{
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(sm.metrics),
	}
	if p.Greeting != "" {
		opts = append(opts, pipeline.WithGreeting(p.Greeting))
	}
	if pcfg.EchoSuppression.EchoEnabled() {
		var echoOpts []transcript.Option
		if t := pcfg.EchoSuppression.SimilarityThreshold; t != 0 {
			echoOpts = append(echoOpts, transcript.WithSimilarityThreshold(t))
		}
		if n := pcfg.EchoSuppression.MemorySize; n != 0 {
			echoOpts = append(echoOpts, transcript.WithMemorySize(n))
		}
		opts = append(opts, pipeline.WithEchoFilter(transcript.NewEchoSuppressor(echoOpts...)))
	}

	var vadSess vad.SessionHandle
	bufOpts := []pipeline.BufferOption{pipeline.WithFlushThreshold(pcfg.FlushThresholdBytes)}
	if sm.providers.VAD != nil {
		sess, err := sm.providers.VAD.NewSession(vad.Config{
			SampleRate:       pcfg.SampleRate,
			FrameSizeMs:      pcfg.VAD.FrameSizeMs,
			SpeechThreshold:  pcfg.VAD.SpeechThreshold,
			SilenceThreshold: pcfg.VAD.SilenceThreshold,
			HangoverMs:       pcfg.VAD.HangoverMs,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("app: start vad session: %w", err)
		}
		vadSess = sess
		bufOpts = append(bufOpts, pipeline.WithVAD())
		opts = append(opts, pipeline.WithVADSession(sess))
	}
	opts = append(opts, pipeline.WithBuffer(pipeline.NewUtteranceBuffer(bufOpts...)))

	return pipeline.NewRunner(conn, transcriber, generator, synthesizer, opts...), vadSess, nil
}

// clear resets the manager once the session with the given ID finished. A
// stale ID is ignored so a late goroutine cannot wipe a newer session.
func (sm *SessionManager) clear(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.active || sm.info.SessionID != sessionID {
		return
	}
	sm.active = false
	sm.cancel = nil
	sm.done = nil
	sm.info = SessionInfo{}
}

// StopActive cancels the active session, if any, and waits for it to finish
// or for ctx to expire.
func (sm *SessionManager) StopActive(ctx context.Context) error {
	sm.mu.Lock()
	cancel := sm.cancel
	done := sm.done
	id := sm.info.SessionID
	sm.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: stop session %s: %w", id, ctx.Err())
	}
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns metadata about the active session, or the zero value when no
// session is active.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}
