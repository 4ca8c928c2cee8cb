// Package openai provides a TTS provider backed by the OpenAI speech API
// (POST /audio/speech). It implements the tts.Provider interface.
//
// The API is request/response (one HTTP call per utterance), so
// SynthesizeStream dispatches one concurrent request per incoming text
// fragment with a small lookahead window, preserving output ordering.
//
// Audio is requested in raw PCM format, which OpenAI delivers as 24 kHz
// 16-bit little-endian mono samples. Use WithOutputSampleRate to resample to
// the pipeline's playback rate.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/voxloom/pkg/audio"
	"github.com/MrWong99/voxloom/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	// nativeSampleRate is the sample rate of OpenAI's raw PCM speech output.
	nativeSampleRate = 24000

	// lookaheadBuf controls how many concurrent synthesis requests may be
	// in-flight simultaneously.
	lookaheadBuf = 4

	// audioChanBuf is the buffer depth of the returned audio channel.
	audioChanBuf = 256

	// pcmChunkSize is the size of each PCM chunk emitted on the audio channel.
	pcmChunkSize = 4096

	defaultModel = "gpt-4o-mini-tts"
)

// knownVoices is the catalogue returned by ListVoices. The speech API has no
// voice-listing endpoint, so the set is fixed per the API documentation.
var knownVoices = []string{
	"alloy", "ash", "ballad", "coral", "echo",
	"fable", "nova", "onyx", "sage", "shimmer",
}

// config holds optional configuration for the provider.
type config struct {
	model   string
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel sets the speech model (e.g., "tts-1", "gpt-4o-mini-tts").
// Defaults to "gpt-4o-mini-tts".
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Provider implements tts.Provider using the OpenAI speech API.
type Provider struct {
	client     oai.Client
	model      string
	outputRate int // target sample rate; 0 = native 24 kHz
}

// New constructs a new OpenAI TTS Provider. outputRate is the sample rate PCM
// is resampled to before emission; pass 0 to keep the native 24 kHz.
func New(apiKey string, outputRate int, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:     oai.NewClient(reqOpts...),
		model:      cfg.model,
		outputRate: outputRate,
	}, nil
}

// audioResult carries a synthesised PCM byte slice or an error from a worker.
type audioResult struct {
	pcm []byte
	err error
}

// SynthesizeStream consumes text fragments and issues one speech request per
// fragment. Raw PCM is emitted on the returned channel in the original
// fragment order. Up to lookaheadBuf requests may be in-flight concurrently.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("openai: voice.ID must not be empty")
	}

	audioCh := make(chan []byte, audioChanBuf)

	go func() {
		defer close(audioCh)

		resultQueue := make(chan chan audioResult, lookaheadBuf)

		go func() {
			defer close(resultQueue)
			for {
				select {
				case fragment, ok := <-text:
					if !ok {
						return
					}
					fragment = strings.TrimSpace(fragment)
					if fragment == "" {
						continue
					}
					ch := make(chan audioResult, 1)
					select {
					case resultQueue <- ch:
					case <-ctx.Done():
						return
					}
					go func(s string, out chan<- audioResult) {
						pcm, err := p.synthesize(ctx, s, voice)
						out <- audioResult{pcm: pcm, err: err}
					}(fragment, ch)
				case <-ctx.Done():
					return
				}
			}
		}()

		for {
			select {
			case ch, ok := <-resultQueue:
				if !ok {
					return
				}
				select {
				case result := <-ch:
					if result.err != nil {
						return
					}
					pcm := result.pcm
					for len(pcm) > 0 {
						end := min(pcmChunkSize, len(pcm))
						select {
						case audioCh <- pcm[:end]:
						case <-ctx.Done():
							return
						}
						pcm = pcm[end:]
					}
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

// synthesize performs a single POST /audio/speech call and returns raw PCM at
// the configured output rate.
func (p *Provider) synthesize(ctx context.Context, sentence string, voice tts.Voice) ([]byte, error) {
	params := oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          sentence,
		Voice:          oai.AudioSpeechNewParamsVoice(voice.ID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.SpeedFactor > 0 && voice.SpeedFactor != 1.0 {
		params.Speed = param.NewOpt(voice.SpeedFactor)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: speech request: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read speech response: %w", err)
	}

	if p.outputRate > 0 && p.outputRate != nativeSampleRate {
		pcm = audio.ResampleMono16(pcm, nativeSampleRate, p.outputRate)
	}
	return pcm, nil
}

// ListVoices returns the fixed voice catalogue of the OpenAI speech API.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	voices := make([]tts.Voice, 0, len(knownVoices))
	for _, name := range knownVoices {
		voices = append(voices, tts.Voice{
			ID:       name,
			Name:     name,
			Provider: "openai",
		})
	}
	return voices, nil
}
