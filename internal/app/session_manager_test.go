package app_test

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxloom/internal/app"
	"github.com/MrWong99/voxloom/internal/config"
	"github.com/MrWong99/voxloom/internal/persona"
	llmmock "github.com/MrWong99/voxloom/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/voxloom/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/voxloom/pkg/provider/tts/mock"
	"github.com/MrWong99/voxloom/pkg/transport"
	tmock "github.com/MrWong99/voxloom/pkg/transport/mock"
)

const testPersonas = `
personas:
  - name: archivist
    system_prompt: You are the archivist.
    greeting: ""
    voice: calm-1
`

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func testConfig() *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{
			SampleRate:          16000,
			FlushThresholdBytes: config.DefaultFlushThresholdBytes,
		},
		Persona: config.PersonaConfig{Default: "archivist"},
	}
}

func newManager(t *testing.T) *app.SessionManager {
	t.Helper()
	store, err := persona.NewFileStoreFromReader(strings.NewReader(testPersonas))
	if err != nil {
		t.Fatalf("NewFileStoreFromReader: %v", err)
	}
	providers := &app.Providers{
		LLM: &llmmock.Provider{},
		STT: &sttmock.Engine{},
		TTS: &ttsmock.Provider{},
	}
	return app.NewSessionManager(testConfig(), providers, store, slog.New(slog.DiscardHandler), nil)
}

func TestSessionManager_StartAndNaturalEnd(t *testing.T) {
	t.Parallel()

	sm := newManager(t)
	conn := tmock.New()
	if err := sm.Start(context.Background(), conn, "10.0.0.1:5000"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !sm.IsActive() {
		t.Fatal("manager not active after Start")
	}
	info := sm.Info()
	if info.Persona != "archivist" || info.RemoteAddr != "10.0.0.1:5000" {
		t.Errorf("session info: %+v", info)
	}
	if info.SessionID == "" {
		t.Error("session id is empty")
	}

	// Client disconnects; the slot must free itself.
	conn.EventsCh <- transport.Event{Type: transport.Connected}
	conn.EventsCh <- transport.Event{Type: transport.Disconnected, Reason: "bye"}
	waitFor(t, 5*time.Second, func() bool { return !sm.IsActive() }, "slot never freed after disconnect")

	if got := sm.Info(); got.SessionID != "" {
		t.Errorf("info not cleared: %+v", got)
	}
}

func TestSessionManager_SecondSessionRefused(t *testing.T) {
	t.Parallel()

	sm := newManager(t)
	if err := sm.Start(context.Background(), tmock.New(), "10.0.0.1:5000"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err := sm.Start(context.Background(), tmock.New(), "10.0.0.2:5000")
	if err == nil {
		t.Fatal("second Start succeeded while a session was active")
	}
	if !strings.Contains(err.Error(), "already active") {
		t.Errorf("refusal error: %v", err)
	}

	if err := sm.StopActive(context.Background()); err != nil {
		t.Fatalf("StopActive: %v", err)
	}
}

func TestSessionManager_StopActiveCancelsSession(t *testing.T) {
	t.Parallel()

	sm := newManager(t)
	if err := sm.Start(context.Background(), tmock.New(), "10.0.0.1:5000"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sm.StopActive(ctx); err != nil {
		t.Fatalf("StopActive: %v", err)
	}
	if sm.IsActive() {
		t.Error("manager still active after StopActive")
	}
}

func TestSessionManager_StopActiveWithoutSessionIsNoOp(t *testing.T) {
	t.Parallel()

	sm := newManager(t)
	if err := sm.StopActive(context.Background()); err != nil {
		t.Errorf("StopActive on idle manager: %v", err)
	}
}

func TestSessionManager_UnknownPersonaRefused(t *testing.T) {
	t.Parallel()

	store, err := persona.NewFileStoreFromReader(strings.NewReader(testPersonas))
	if err != nil {
		t.Fatalf("NewFileStoreFromReader: %v", err)
	}
	cfg := testConfig()
	cfg.Persona.Default = "ghost"
	providers := &app.Providers{
		LLM: &llmmock.Provider{},
		STT: &sttmock.Engine{},
		TTS: &ttsmock.Provider{},
	}
	sm := app.NewSessionManager(cfg, providers, store, slog.New(slog.DiscardHandler), nil)

	if err := sm.Start(context.Background(), tmock.New(), "10.0.0.1:5000"); err == nil {
		t.Fatal("Start succeeded with an unresolvable persona")
	}
	if sm.IsActive() {
		t.Error("manager active after failed Start")
	}
}
