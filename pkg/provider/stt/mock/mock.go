// Package mock provides a test double for the stt.Engine interface.
//
// Use Engine in unit tests to feed controlled transcripts to the pipeline and
// to verify the audio submitted for transcription, without a live STT backend.
//
// Example:
//
//	e := &mock.Engine{Results: []stt.Result{{Text: "hello there"}}}
//	res, err := e.Transcribe(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxloom/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is a copy of the Request passed to Transcribe.
	Req stt.Request
}

// Engine is a mock implementation of stt.Engine.
// Zero values cause Transcribe to return an empty Result and nil error.
type Engine struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Results is the sequence of results returned by successive Transcribe
	// calls. Once exhausted, the last element is repeated. An empty slice
	// returns the zero Result.
	Results []stt.Result

	// Err, if non-nil, is returned by every Transcribe call instead of a Result.
	Err error

	// --- Call records (read after test) ---

	// Calls records every invocation of Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and replays the configured results.
func (e *Engine) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	samples := make([]float32, len(req.Samples))
	copy(samples, req.Samples)
	recorded := req
	recorded.Samples = samples
	e.Calls = append(e.Calls, TranscribeCall{Ctx: ctx, Req: recorded})

	if e.Err != nil {
		return stt.Result{}, e.Err
	}
	if len(e.Results) == 0 {
		return stt.Result{}, nil
	}
	idx := len(e.Calls) - 1
	if idx >= len(e.Results) {
		idx = len(e.Results) - 1
	}
	return e.Results[idx], nil
}

// CallCount returns the number of Transcribe invocations so far. Thread-safe.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = nil
}

// Ensure Engine implements stt.Engine at compile time.
var _ stt.Engine = (*Engine)(nil)
