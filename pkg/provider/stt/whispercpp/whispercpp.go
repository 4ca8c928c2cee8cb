// Package whispercpp provides an stt.Engine backed by the whisper.cpp CGO
// bindings, eliminating HTTP overhead entirely. The whisper.cpp static library
// (libwhisper.a) and headers (whisper.h) must be available at link time via
// LIBRARY_PATH and C_INCLUDE_PATH environment variables.
//
// The model is loaded once at construction and shared across calls; each
// Transcribe creates a fresh whisper context because contexts are not
// thread-safe while the model is.
package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voxloom/pkg/provider/stt"
)

const defaultLanguage = "en"

// Compile-time assertion that Engine implements stt.Engine.
var _ stt.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// WithThreads sets the number of CPU threads whisper.cpp may use per
// inference. Zero (the default) lets the bindings pick.
func WithThreads(n int) Option {
	return func(e *Engine) { e.threads = n }
}

// Engine implements stt.Engine using the whisper.cpp Go bindings.
type Engine struct {
	model    whisperlib.Model
	language string
	threads  int

	closeOnce sync.Once
	closed    bool
	mu        sync.Mutex
}

// New creates an Engine that loads the whisper.cpp model from modelPath.
// The caller must call Close when the engine is no longer needed.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("whispercpp: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: load model %q: %w", modelPath, err)
	}
	e := &Engine{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Close releases the whisper model. Safe to call multiple times.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		err = e.model.Close()
	})
	return err
}

// Transcribe implements stt.Engine. It runs batch inference on a fresh
// whisper context and concatenates all recognised segments.
func (e *Engine) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whispercpp: context already cancelled: %w", err)
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return stt.Result{}, errors.New("whispercpp: engine is closed")
	}
	e.mu.Unlock()

	if len(req.Samples) == 0 {
		return stt.Result{}, nil
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whispercpp: create context: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = e.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return stt.Result{}, fmt.Errorf("whispercpp: set language %q: %w", lang, err)
	}
	if e.threads > 0 {
		wctx.SetThreads(uint(e.threads))
	}

	if err := wctx.Process(req.Samples, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whispercpp: process audio: %w", err)
	}

	var sb strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return stt.Result{}, fmt.Errorf("whispercpp: read segment: %w", err)
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strings.TrimSpace(seg.Text))
	}

	sr := req.SampleRate
	if sr <= 0 {
		sr = 16000
	}
	return stt.Result{
		Text:          sb.String(),
		AudioDuration: time.Duration(len(req.Samples)) * time.Second / time.Duration(sr),
	}, nil
}
