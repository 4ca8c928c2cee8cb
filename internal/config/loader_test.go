package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/voxloom/internal/config"
)

const minimalYAML = `
providers:
  stt:
    name: whisper
    options:
      model_path: /models/ggml-base.en.bin
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  tts:
    name: openai
    api_key: sk-test
persona:
  default: archivist
  file: personas.yaml
`

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr default: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level default: got %q", cfg.Server.LogLevel)
	}
	if cfg.Pipeline.SampleRate != config.DefaultSampleRate {
		t.Errorf("sample_rate default: got %d", cfg.Pipeline.SampleRate)
	}
	if cfg.Pipeline.Codec != config.CodecPCM {
		t.Errorf("codec default: got %q", cfg.Pipeline.Codec)
	}
	if cfg.Pipeline.FlushThresholdBytes != config.DefaultFlushThresholdBytes {
		t.Errorf("flush_threshold_bytes default: got %d", cfg.Pipeline.FlushThresholdBytes)
	}
	if cfg.Persona.Source != config.PersonaSourceFile {
		t.Errorf("persona.source default: got %q", cfg.Persona.Source)
	}
	if !cfg.Pipeline.EchoSuppression.EchoEnabled() {
		t.Error("echo suppression must default to enabled")
	}
}

func TestLoadFromReader_ParsesFullDocument(t *testing.T) {
	t.Parallel()

	const full = `
server:
  listen_addr: ":9090"
  log_level: debug
  origin_patterns: ["app.example.com"]
providers:
  stt:
    name: whisper
  llm:
    name: anthropic
    api_key: key
    model: claude-sonnet-4-5
  tts:
    name: coqui
    base_url: http://localhost:5002
    options:
      api_mode: xtts
  embeddings:
    name: openai
    api_key: key
  vad:
    name: energy
pipeline:
  sample_rate: 24000
  codec: opus
  temperature: 0.7
  max_tokens: 300
  vad:
    speech_threshold: 0.6
    silence_threshold: 0.3
  echo_suppression:
    enabled: false
    similarity_threshold: 0.9
persona:
  source: postgres
  default: navigator
  postgres_dsn: postgres://localhost/voxloom
  lore_top_k: 6
`
	cfg, err := config.LoadFromReader(strings.NewReader(full))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Pipeline.SampleRate != 24000 || cfg.Pipeline.Codec != config.CodecOpus {
		t.Errorf("pipeline audio settings: %+v", cfg.Pipeline)
	}
	if cfg.Providers.TTS.Options["api_mode"] != "xtts" {
		t.Errorf("provider options: %+v", cfg.Providers.TTS.Options)
	}
	if cfg.Pipeline.EchoSuppression.EchoEnabled() {
		t.Error("echo suppression explicitly disabled but reported enabled")
	}
	if cfg.Persona.Source != config.PersonaSourcePostgres || cfg.Persona.LoreTopK != 6 {
		t.Errorf("persona config: %+v", cfg.Persona)
	}
}

func TestLoadFromReader_RejectsInvalidDocuments(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			"unknown field",
			"server:\n  listen_port: 8080\n",
			"decode yaml",
		},
		{
			"bad log level",
			minimalYAML + "server:\n  log_level: verbose\n",
			"log_level",
		},
		{
			"bad codec",
			minimalYAML + "pipeline:\n  codec: mp3\n",
			"codec",
		},
		{
			"missing stt provider",
			"providers:\n  llm: {name: openai}\n  tts: {name: openai}\npersona:\n  default: a\n  file: p.yaml\n",
			"providers.stt",
		},
		{
			"postgres source without dsn",
			"providers:\n  stt: {name: whisper}\n  llm: {name: openai}\n  tts: {name: openai}\n  embeddings: {name: openai}\npersona:\n  source: postgres\n  default: a\n",
			"postgres_dsn",
		},
		{
			"tls missing key file",
			minimalYAML + "server:\n  tls:\n    cert_file: cert.pem\n",
			"key_file",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}
