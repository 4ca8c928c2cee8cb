package coquihttp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxloom/pkg/audio"
	"github.com/MrWong99/voxloom/pkg/provider/tts"
	"github.com/MrWong99/voxloom/pkg/provider/tts/coquihttp"
)

// buildTestWAV returns a WAV container holding n bytes of mono PCM whose
// sample bytes encode the low byte of their index, so ordering survives the
// round trip.
func buildTestWAV(n, sampleRate, channels int) []byte {
	pcm := make([]byte, n)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	return audio.EncodeWAV(pcm, sampleRate, channels)
}

// sendFragments returns a closed channel pre-loaded with the given fragments.
func sendFragments(fragments ...string) <-chan string {
	ch := make(chan string, len(fragments))
	for _, f := range fragments {
		ch <- f
	}
	close(ch)
	return ch
}

// drainAudio collects every chunk from ch into one buffer.
func drainAudio(ch <-chan []byte) []byte {
	var out []byte
	for chunk := range ch {
		out = append(out, chunk...)
	}
	return out
}

func TestSynthesizeStream_XTTSPostsEachFragment(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var gotTexts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tts_to_audio/" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var body struct {
			Text       string `json:"text"`
			SpeakerWav string `json:"speaker_wav"`
			Language   string `json:"language"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		if body.SpeakerWav != "narrator" || body.Language != "de" {
			t.Errorf("request body: %+v", body)
		}
		mu.Lock()
		gotTexts = append(gotTexts, body.Text)
		mu.Unlock()

		w.Header().Set("Content-Type", "audio/wav")
		w.Write(buildTestWAV(512, 22050, 1))
	}))
	t.Cleanup(srv.Close)

	p, err := coquihttp.New(srv.URL,
		coquihttp.WithAPIMode(coquihttp.APIModeXTTS),
		coquihttp.WithLanguage("de"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch, err := p.SynthesizeStream(context.Background(), sendFragments("Hallo.", "Wie geht's?"), tts.Voice{ID: "narrator"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	pcm := drainAudio(ch)

	if got := len(pcm); got != 1024 {
		t.Errorf("pcm bytes: want 1024 (2 x 512), got %d", got)
	}
	// Requests run concurrently, so only membership is guaranteed here; the
	// PCM channel preserves fragment order regardless.
	mu.Lock()
	defer mu.Unlock()
	sort.Strings(gotTexts)
	if len(gotTexts) != 2 || gotTexts[0] != "Hallo." || gotTexts[1] != "Wie geht's?" {
		t.Errorf("synthesized texts: %q", gotTexts)
	}
}

func TestSynthesizeStream_XTTSRequiresVoice(t *testing.T) {
	t.Parallel()

	p, err := coquihttp.New("http://localhost:5002", coquihttp.WithAPIMode(coquihttp.APIModeXTTS))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.SynthesizeStream(context.Background(), sendFragments("hi"), tts.Voice{}); err == nil {
		t.Fatal("expected error for empty voice in XTTS mode")
	}
}

func TestSynthesizeStream_StandardUsesQueryParams(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tts" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("text") != "Good evening." || q.Get("speaker_id") != "p225" {
			t.Errorf("query params: %v", q)
		}
		w.Write(buildTestWAV(256, 22050, 1))
	}))
	t.Cleanup(srv.Close)

	p, err := coquihttp.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, err := p.SynthesizeStream(context.Background(), sendFragments("Good evening."), tts.Voice{ID: "p225"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	if got := len(drainAudio(ch)); got != 256 {
		t.Errorf("pcm bytes: want 256, got %d", got)
	}
}

func TestSynthesizeStream_DownmixesAndResamples(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Stereo WAV at 32 kHz: 1024 bytes → 512 mono → 256 at 16 kHz.
		w.Write(buildTestWAV(1024, 32000, 2))
	}))
	t.Cleanup(srv.Close)

	p, err := coquihttp.New(srv.URL, coquihttp.WithOutputSampleRate(16000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, err := p.SynthesizeStream(context.Background(), sendFragments("hello"), tts.Voice{ID: "p225"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	if got := len(drainAudio(ch)); got != 256 {
		t.Errorf("pcm bytes after downmix+resample: want 256, got %d", got)
	}
}

func TestSynthesizeStream_ServerErrorEndsStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	p, err := coquihttp.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, err := p.SynthesizeStream(context.Background(), sendFragments("hello"), tts.Voice{ID: "p225"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	if got := len(drainAudio(ch)); got != 0 {
		t.Errorf("pcm bytes after server error: want 0, got %d", got)
	}
}

func TestSynthesizeStream_SkipsBlankFragments(t *testing.T) {
	t.Parallel()

	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.Write(buildTestWAV(128, 22050, 1))
	}))
	t.Cleanup(srv.Close)

	p, err := coquihttp.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, err := p.SynthesizeStream(context.Background(), sendFragments("  ", "hi", "\n"), tts.Voice{ID: "p225"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	drainAudio(ch)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("synthesis calls: want 1, got %d", calls)
	}
}

func TestListVoices_XTTSStudioSpeakers(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/studio_speakers" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Zofija":{}, "Aaron":{}}`))
	}))
	t.Cleanup(srv.Close)

	p, err := coquihttp.New(srv.URL, coquihttp.WithAPIMode(coquihttp.APIModeXTTS))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	voices, err := p.ListVoices(ctx)
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 || voices[0].ID != "Aaron" || voices[1].ID != "Zofija" {
		t.Errorf("voices not sorted by name: %+v", voices)
	}
}

func TestListVoices_StandardSingleSpeaker(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/details" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model_name":"tts_models/en/ljspeech/vits","language":"en"}`))
	}))
	t.Cleanup(srv.Close)

	p, err := coquihttp.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "tts_models/en/ljspeech/vits" {
		t.Errorf("single-speaker voices: %+v", voices)
	}
}
