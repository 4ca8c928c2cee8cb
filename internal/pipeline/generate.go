package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/voxloom/internal/observe"
	"github.com/MrWong99/voxloom/pkg/provider/llm"
)

// DefaultFallbackReply is spoken when the language model fails mid-turn so
// the user gets audible feedback instead of silence.
const DefaultFallbackReply = "I'm sorry, I'm having trouble answering right now. Could you say that again?"

// GenerationStage wraps a streaming language-model completion and owns the
// session's Conversation. It is the only component that mutates the history.
type GenerationStage struct {
	provider    llm.Provider
	conv        *Conversation
	temperature float64
	maxTokens   int
	fallback    string
	logger      *slog.Logger
	metrics     *observe.Metrics
}

// GenerationOption is a functional option for GenerationStage.
type GenerationOption func(*GenerationStage)

// WithTemperature sets the sampling temperature forwarded to the provider.
func WithTemperature(t float64) GenerationOption {
	return func(g *GenerationStage) {
		g.temperature = t
	}
}

// WithMaxTokens caps the completion length forwarded to the provider.
func WithMaxTokens(n int) GenerationOption {
	return func(g *GenerationStage) {
		g.maxTokens = n
	}
}

// WithFallbackReply overrides the degraded-mode reply spoken on engine
// failure.
func WithFallbackReply(text string) GenerationOption {
	return func(g *GenerationStage) {
		if text != "" {
			g.fallback = text
		}
	}
}

// NewGenerationStage creates a stage bound to the given provider and
// conversation.
func NewGenerationStage(provider llm.Provider, conv *Conversation, logger *slog.Logger, metrics *observe.Metrics, opts ...GenerationOption) *GenerationStage {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	g := &GenerationStage{
		provider: provider,
		conv:     conv,
		fallback: DefaultFallbackReply,
		logger:   logger.With("stage", "generation"),
		metrics:  metrics,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Conversation returns the history owned by this stage.
func (g *GenerationStage) Conversation() *Conversation {
	return g.conv
}

// Respond appends the user turn synchronously, then streams the model's
// reply as text deltas on the returned channel, in exactly the order the
// engine produced them. After a clean stream the accumulated reply is
// appended as the assistant turn — exactly once, never partially.
//
// On engine failure (at start or mid-stream) the channel carries a single
// fallback delta and no assistant turn is appended, leaving a dangling user
// message as a deliberate degraded-mode continuation. On context
// cancellation the channel closes promptly with no further deltas, no
// assistant turn, and no fallback.
//
// The returned channel is closed by the stage; callers must drain it. The
// stream is finite and not restartable.
func (g *GenerationStage) Respond(ctx context.Context, userText string) <-chan string {
	g.conv.AppendUser(userText)

	out := make(chan string, 32)
	go func() {
		defer close(out)

		start := time.Now()
		chunks, err := g.provider.StreamCompletion(ctx, llm.CompletionRequest{
			Messages:    g.conv.Messages(),
			Temperature: g.temperature,
			MaxTokens:   g.maxTokens,
		})
		if err != nil {
			g.logger.Warn("completion failed to start, speaking fallback", "error", err)
			g.metrics.RecordStageError(ctx, "generation")
			g.emitFallback(ctx, out)
			return
		}

		var reply strings.Builder
		failed := false
		for chunk := range chunks {
			if ctx.Err() != nil {
				drainChunks(chunks)
				g.logger.Debug("generation cancelled mid-stream")
				return
			}
			if chunk.FinishReason == llm.FinishReasonError {
				g.logger.Warn("completion failed mid-stream, speaking fallback", "error", chunk.Text)
				g.metrics.RecordStageError(ctx, "generation")
				failed = true
				continue
			}
			if chunk.Text == "" {
				continue
			}
			if failed {
				// Nothing more is forwarded after a mid-stream failure.
				continue
			}
			reply.WriteString(chunk.Text)
			select {
			case out <- chunk.Text:
			case <-ctx.Done():
				drainChunks(chunks)
				return
			}
		}
		g.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())

		if ctx.Err() != nil {
			return
		}
		if failed || reply.Len() == 0 {
			// A clean stream with zero content gets the same degraded-mode
			// treatment as a failure: audible fallback, dangling user turn.
			if !failed {
				g.logger.Warn("completion produced no content, speaking fallback")
			}
			g.emitFallback(ctx, out)
			return
		}

		if err := g.conv.AppendAssistant(reply.String()); err != nil {
			g.logger.Error("conversation invariant violated", "error", err)
		}
	}()
	return out
}

// emitFallback sends the fixed fallback delta unless the context is gone.
func (g *GenerationStage) emitFallback(ctx context.Context, out chan<- string) {
	select {
	case out <- g.fallback:
	case <-ctx.Done():
	}
}

// drainChunks consumes the remainder of a chunk stream so the provider's
// goroutine can exit.
func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}
