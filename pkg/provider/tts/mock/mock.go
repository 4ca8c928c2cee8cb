// Package mock provides a test double for the tts.Provider interface.
//
// The mock Provider records every text fragment it consumes and emits a
// configurable PCM payload per fragment, so pipeline tests can assert on
// synthesis ordering without a live TTS backend.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxloom/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of SynthesizeStream.
type SynthesizeCall struct {
	// Voice is the voice profile passed to SynthesizeStream.
	Voice tts.Voice

	// Fragments holds every text fragment read from the text channel, in
	// order. It is appended to while the stream runs; read it only after the
	// audio channel is closed.
	Fragments []string
}

// Provider is a mock implementation of tts.Provider.
//
// For each text fragment consumed, the audio channel emits one []byte. If
// AudioPerFragment is non-nil that payload is used for every fragment;
// otherwise the fragment's bytes are echoed back, which lets tests correlate
// output chunks with input sentences.
type Provider struct {
	mu sync.Mutex

	// AudioPerFragment, if non-nil, is the PCM payload emitted per fragment.
	AudioPerFragment []byte

	// StreamErr, if non-nil, is returned from SynthesizeStream instead of
	// starting a stream.
	StreamErr error

	// Voices is returned by ListVoices.
	Voices []tts.Voice

	// ListVoicesErr, if non-nil, is returned from ListVoices.
	ListVoicesErr error

	// SynthesizeCalls records every invocation of SynthesizeStream in order.
	// Element pointers stay valid while their stream runs.
	SynthesizeCalls []*SynthesizeCall
}

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	p.mu.Lock()
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	call := &SynthesizeCall{Voice: voice}
	p.SynthesizeCalls = append(p.SynthesizeCalls, call)
	payload := p.AudioPerFragment
	p.mu.Unlock()

	audioCh := make(chan []byte, 16)
	go func() {
		defer close(audioCh)
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					return
				}
				p.mu.Lock()
				call.Fragments = append(call.Fragments, fragment)
				p.mu.Unlock()

				out := payload
				if out == nil {
					out = []byte(fragment)
				}
				select {
				case audioCh <- out:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return audioCh, nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	out := make([]tts.Voice, len(p.Voices))
	copy(out, p.Voices)
	return out, nil
}

// Fragments returns the fragments recorded by the i-th SynthesizeStream call.
// Thread-safe.
func (p *Provider) Fragments(i int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.SynthesizeCalls) {
		return nil
	}
	out := make([]string, len(p.SynthesizeCalls[i].Fragments))
	copy(out, p.SynthesizeCalls[i].Fragments)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
