package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised names — unknown names are not fatal
// so configs can reference providers compiled into forks.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"whisper", "whisper-http"},
	"tts":        {"openai", "coqui"},
	"embeddings": {"openai"},
	"vad":        {"energy"},
}

// Defaults applied by Load when the corresponding field is zero.
const (
	DefaultListenAddr          = ":8080"
	DefaultSampleRate          = 16000
	DefaultFlushThresholdBytes = 32000
	DefaultVADFrameSizeMs      = 20
	DefaultVADHangoverMs       = 500
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Pipeline.SampleRate == 0 {
		cfg.Pipeline.SampleRate = DefaultSampleRate
	}
	if cfg.Pipeline.Codec == "" {
		cfg.Pipeline.Codec = CodecPCM
	}
	if cfg.Pipeline.FlushThresholdBytes == 0 {
		cfg.Pipeline.FlushThresholdBytes = DefaultFlushThresholdBytes
	}
	if cfg.Pipeline.VAD.FrameSizeMs == 0 {
		cfg.Pipeline.VAD.FrameSizeMs = DefaultVADFrameSizeMs
	}
	if cfg.Pipeline.VAD.HangoverMs == 0 {
		cfg.Pipeline.VAD.HangoverMs = DefaultVADHangoverMs
	}
	if cfg.Persona.Source == "" {
		cfg.Persona.Source = PersonaSourceFile
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found; soft issues are logged
// as warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Pipeline
	if !cfg.Pipeline.Codec.IsValid() {
		errs = append(errs, fmt.Errorf("pipeline.codec %q is invalid; valid values: pcm, opus", cfg.Pipeline.Codec))
	}
	if cfg.Pipeline.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("pipeline.sample_rate %d must be positive", cfg.Pipeline.SampleRate))
	}
	if cfg.Pipeline.FlushThresholdBytes < 0 {
		errs = append(errs, fmt.Errorf("pipeline.flush_threshold_bytes %d must be positive", cfg.Pipeline.FlushThresholdBytes))
	}
	if t := cfg.Pipeline.EchoSuppression.SimilarityThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("pipeline.echo_suppression.similarity_threshold %v must be in (0, 1]", t))
	}
	if cfg.Pipeline.VAD.SpeechThreshold != 0 && cfg.Pipeline.VAD.SilenceThreshold > cfg.Pipeline.VAD.SpeechThreshold {
		errs = append(errs, errors.New("pipeline.vad.silence_threshold must not exceed speech_threshold"))
	}

	// Persona
	if !cfg.Persona.Source.IsValid() {
		errs = append(errs, fmt.Errorf("persona.source %q is invalid; valid values: file, postgres", cfg.Persona.Source))
	}
	if cfg.Persona.Default == "" {
		errs = append(errs, errors.New("persona.default is required"))
	}
	switch cfg.Persona.Source {
	case PersonaSourceFile:
		if cfg.Persona.File == "" {
			errs = append(errs, errors.New("persona.file is required when persona.source is \"file\""))
		}
	case PersonaSourcePostgres:
		if cfg.Persona.PostgresDSN == "" {
			errs = append(errs, errors.New("persona.postgres_dsn is required when persona.source is \"postgres\""))
		}
		if cfg.Providers.Embeddings.Name == "" {
			errs = append(errs, errors.New("providers.embeddings is required when persona.source is \"postgres\""))
		}
	}

	// Required providers for a cascaded pipeline.
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts is required"))
	}

	// Unknown provider names are soft issues.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	return errors.Join(errs...)
}

// validateProviderName warns when name is not in the known list for kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if !slices.Contains(ValidProviderNames[kind], name) {
		slog.Warn("unrecognised provider name",
			"kind", kind,
			"name", name,
			"known", ValidProviderNames[kind],
		)
	}
}
