package whisperhttp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/voxloom/pkg/audio"
	"github.com/MrWong99/voxloom/pkg/provider/stt"
	"github.com/MrWong99/voxloom/pkg/provider/stt/whisperhttp"
)

// newServer returns an httptest server that validates the multipart upload
// and responds with the given transcript text.
func newServer(t *testing.T, text string, wantLanguage string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("path: want /inference, got %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if wantLanguage != "" && r.FormValue("language") != wantLanguage {
			t.Errorf("language field: want %q, got %q", wantLanguage, r.FormValue("language"))
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			defer f.Close()
			buf := make([]byte, 12)
			if _, err := f.Read(buf); err != nil || string(buf[0:4]) != "RIFF" {
				t.Errorf("uploaded file is not a WAV container (err=%v, magic=%q)", err, buf[0:4])
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	srv := newServer(t, " hello there ", "de")
	t.Cleanup(srv.Close)

	e, err := whisperhttp.New(srv.URL, whisperhttp.WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	samples := audio.PCMToFloat32(make([]byte, 32000), 1)
	res, err := e.Transcribe(context.Background(), stt.Request{
		Samples:    samples,
		SampleRate: 16000,
		Language:   "de", // per-request hint overrides the default
	})
	if err != nil {
		t.Fatalf("Transcribe: unexpected error: %v", err)
	}
	if res.Text != "hello there" {
		t.Errorf("Text: want %q, got %q", "hello there", res.Text)
	}
	if res.AudioDuration.Milliseconds() != 1000 {
		t.Errorf("AudioDuration: want 1s, got %v", res.AudioDuration)
	}
}

func TestTranscribe_EmptyInputSkipsRequest(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server must not be called for empty input")
	}))
	t.Cleanup(srv.Close)

	e, err := whisperhttp.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := e.Transcribe(context.Background(), stt.Request{})
	if err != nil {
		t.Fatalf("Transcribe: unexpected error: %v", err)
	}
	if res.Text != "" {
		t.Errorf("Text: want empty, got %q", res.Text)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	e, err := whisperhttp.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.Transcribe(context.Background(), stt.Request{Samples: []float32{0.1}, SampleRate: 16000}); err == nil {
		t.Error("Transcribe: expected error on HTTP 500, got nil")
	}
}

func TestNew_RequiresServerURL(t *testing.T) {
	t.Parallel()

	if _, err := whisperhttp.New(""); err == nil {
		t.Error("New: expected error for empty serverURL, got nil")
	}
}
