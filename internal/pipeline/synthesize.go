package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/voxloom/internal/observe"
	"github.com/MrWong99/voxloom/pkg/audio"
	"github.com/MrWong99/voxloom/pkg/provider/tts"
)

// SynthesisStage wraps a text-to-speech provider. Incoming text deltas are
// batched into sentence-sized units before synthesis — short model tokens
// make for unnatural speech — while output strictly preserves input order.
type SynthesisStage struct {
	provider   tts.Provider
	voice      tts.Voice
	sampleRate int
	logger     *slog.Logger
	metrics    *observe.Metrics
}

// NewSynthesisStage creates a stage around the given provider. sampleRate is
// the rate of the PCM the provider emits, stamped onto outgoing frames.
func NewSynthesisStage(provider tts.Provider, voice tts.Voice, sampleRate int, logger *slog.Logger, metrics *observe.Metrics) *SynthesisStage {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &SynthesisStage{
		provider:   provider,
		voice:      voice,
		sampleRate: sampleRate,
		logger:     logger.With("stage", "synthesis"),
		metrics:    metrics,
	}
}

// Run consumes text deltas, batches them into sentences, and returns the
// resulting audio frame stream. Frame order follows delta order. An empty or
// immediately-closed delta stream yields zero frames and no error.
//
// The returned channel is closed when all text has been synthesized or ctx
// is cancelled; callers must drain it. A synthesis-engine failure ends the
// audio stream early and is counted, but is never session-fatal.
func (s *SynthesisStage) Run(ctx context.Context, deltas <-chan string) (<-chan audio.AudioFrame, error) {
	sentences := make(chan string, 8)
	pcmCh, err := s.provider.SynthesizeStream(ctx, sentences, s.voice)
	if err != nil {
		close(sentences)
		s.metrics.RecordStageError(ctx, "synthesis")
		return nil, fmt.Errorf("pipeline: start synthesis: %w", err)
	}

	go s.forwardSentences(ctx, deltas, sentences)

	out := make(chan audio.AudioFrame, 64)
	go func() {
		defer close(out)
		start := time.Now()
		for pcm := range pcmCh {
			frame := audio.AudioFrame{
				Data:       pcm,
				SampleRate: s.sampleRate,
				Channels:   1,
				Timestamp:  time.Since(start),
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				drainPCM(pcmCh)
				return
			}
		}
		s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	}()
	return out, nil
}

// Synthesize speaks one complete utterance (e.g. the session greeting).
// Empty or whitespace-only text yields a closed, empty frame channel and no
// error.
func (s *SynthesisStage) Synthesize(ctx context.Context, text string) (<-chan audio.AudioFrame, error) {
	if strings.TrimSpace(text) == "" {
		out := make(chan audio.AudioFrame)
		close(out)
		return out, nil
	}
	deltas := make(chan string, 1)
	deltas <- text
	close(deltas)
	return s.Run(ctx, deltas)
}

// forwardSentences accumulates deltas and emits complete sentences to the
// provider, flushing any trailing partial sentence when the delta stream
// closes. It owns the sentences channel.
func (s *SynthesisStage) forwardSentences(ctx context.Context, deltas <-chan string, sentences chan<- string) {
	defer close(sentences)

	var buf strings.Builder
	for {
		select {
		case delta, ok := <-deltas:
			if !ok {
				if rest := strings.TrimSpace(buf.String()); rest != "" {
					select {
					case sentences <- rest:
					case <-ctx.Done():
					}
				}
				return
			}
			buf.WriteString(delta)
			for {
				text := buf.String()
				idx := firstSentenceBoundary(text)
				if idx < 0 {
					break
				}
				sentence := strings.TrimSpace(text[:idx+1])
				buf.Reset()
				buf.WriteString(text[idx+1:])
				if sentence == "" {
					continue
				}
				select {
				case sentences <- sentence:
				case <-ctx.Done():
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// firstSentenceBoundary returns the index of the first sentence-ending
// character ('.', '!', '?') that is at the end of s or followed by
// whitespace, so abbreviations like "Dr." and decimals like "3.14" do not
// split a sentence. Returns -1 if no boundary is found.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}

// drainPCM consumes the remainder of a PCM stream so the provider's
// goroutines can exit.
func drainPCM(ch <-chan []byte) {
	for range ch {
	}
}
