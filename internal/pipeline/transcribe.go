package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/voxloom/internal/observe"
	"github.com/MrWong99/voxloom/pkg/audio"
	"github.com/MrWong99/voxloom/pkg/provider/stt"
)

// ErrEmptyTranscript is returned when the STT engine produced no usable text
// for an utterance. The utterance is discarded and the conversation is left
// untouched.
var ErrEmptyTranscript = errors.New("pipeline: transcription produced no text")

// TranscriptionStage wraps a batch speech-to-text engine: it converts an
// utterance's raw PCM into normalized float32 samples, invokes the engine,
// and returns the transcript text.
//
// The engine call may run for hundreds of milliseconds; callers invoke
// Transcribe from the turn goroutine, never from the audio-ingest path.
type TranscriptionStage struct {
	engine   stt.Engine
	language string
	logger   *slog.Logger
	metrics  *observe.Metrics
}

// NewTranscriptionStage creates a stage around the given engine. language is
// an optional BCP-47 hint forwarded to the engine.
func NewTranscriptionStage(engine stt.Engine, language string, logger *slog.Logger, metrics *observe.Metrics) *TranscriptionStage {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &TranscriptionStage{
		engine:   engine,
		language: language,
		logger:   logger.With("stage", "transcription"),
		metrics:  metrics,
	}
}

// Transcribe converts the utterance and calls the engine. It returns the
// trimmed transcript text, ErrEmptyTranscript when the engine yields no
// usable text, or a wrapped engine error. All errors are recoverable: the
// caller discards the utterance and the session continues.
func (s *TranscriptionStage) Transcribe(ctx context.Context, u *Utterance) (string, error) {
	defer u.Close()

	samples := audio.PCMToFloat32(u.Bytes(), u.Channels())
	if len(samples) == 0 {
		return "", ErrEmptyTranscript
	}

	start := time.Now()
	res, err := s.engine.Transcribe(ctx, stt.Request{
		Samples:    samples,
		SampleRate: u.SampleRate(),
		Language:   s.language,
	})
	s.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, stt.ErrNoSpeech) {
			return "", ErrEmptyTranscript
		}
		s.metrics.RecordStageError(ctx, "transcription")
		return "", fmt.Errorf("pipeline: transcribe utterance: %w", err)
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", ErrEmptyTranscript
	}

	s.logger.Debug("utterance transcribed",
		"bytes", u.Len(),
		"confidence", res.Confidence,
		"duration", time.Since(start),
	)
	return text, nil
}
