// Command voxloom is the main entry point for the voxloom voice conversation
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxloom/internal/app"
	"github.com/MrWong99/voxloom/internal/config"
	oaembed "github.com/MrWong99/voxloom/pkg/provider/embeddings/openai"
	"github.com/MrWong99/voxloom/pkg/provider/llm"
	"github.com/MrWong99/voxloom/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/voxloom/pkg/provider/llm/openai"
	"github.com/MrWong99/voxloom/pkg/provider/stt/whispercpp"
	"github.com/MrWong99/voxloom/pkg/provider/stt/whisperhttp"
	"github.com/MrWong99/voxloom/pkg/provider/tts/coquihttp"
	ttsopenai "github.com/MrWong99/voxloom/pkg/provider/tts/openai"
	"github.com/MrWong99/voxloom/pkg/provider/vad/energy"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxloom: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxloom: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxloom starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProviders instantiates all providers named in cfg and returns them in
// an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := buildLLM(name, cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		ps.LLM = p
		slog.Info("provider created", "kind", "llm", "name", name)
	}

	if name := cfg.Providers.STT.Name; name != "" {
		entry := cfg.Providers.STT
		switch name {
		case "whisper":
			modelPath := entry.Model
			if modelPath == "" {
				modelPath = optString(entry.Options, "model_path")
			}
			var opts []whispercpp.Option
			if lang := optString(entry.Options, "language"); lang != "" {
				opts = append(opts, whispercpp.WithLanguage(lang))
			}
			p, err := whispercpp.New(modelPath, opts...)
			if err != nil {
				return nil, fmt.Errorf("create stt provider %q: %w", name, err)
			}
			ps.STT = p
		case "whisper-http":
			var opts []whisperhttp.Option
			if entry.Model != "" {
				opts = append(opts, whisperhttp.WithModel(entry.Model))
			}
			if lang := optString(entry.Options, "language"); lang != "" {
				opts = append(opts, whisperhttp.WithLanguage(lang))
			}
			p, err := whisperhttp.New(entry.BaseURL, opts...)
			if err != nil {
				return nil, fmt.Errorf("create stt provider %q: %w", name, err)
			}
			ps.STT = p
		default:
			return nil, fmt.Errorf("unknown stt provider %q", name)
		}
		slog.Info("provider created", "kind", "stt", "name", name)
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		entry := cfg.Providers.TTS
		switch name {
		case "openai":
			var opts []ttsopenai.Option
			if entry.Model != "" {
				opts = append(opts, ttsopenai.WithModel(entry.Model))
			}
			if entry.BaseURL != "" {
				opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
			}
			p, err := ttsopenai.New(entry.APIKey, cfg.Pipeline.SampleRate, opts...)
			if err != nil {
				return nil, fmt.Errorf("create tts provider %q: %w", name, err)
			}
			ps.TTS = p
		case "coqui":
			opts := []coquihttp.Option{coquihttp.WithOutputSampleRate(cfg.Pipeline.SampleRate)}
			if lang := optString(entry.Options, "language"); lang != "" {
				opts = append(opts, coquihttp.WithLanguage(lang))
			}
			if mode := optString(entry.Options, "api_mode"); mode != "" {
				opts = append(opts, coquihttp.WithAPIMode(coquihttp.APIMode(mode)))
			}
			p, err := coquihttp.New(entry.BaseURL, opts...)
			if err != nil {
				return nil, fmt.Errorf("create tts provider %q: %w", name, err)
			}
			ps.TTS = p
		default:
			return nil, fmt.Errorf("unknown tts provider %q", name)
		}
		slog.Info("provider created", "kind", "tts", "name", name)
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		entry := cfg.Providers.Embeddings
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		p, err := oaembed.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	if name := cfg.Providers.VAD.Name; name != "" {
		if name != "energy" {
			return nil, fmt.Errorf("unknown vad provider %q", name)
		}
		ps.VAD = energy.New()
		slog.Info("provider created", "kind", "vad", "name", name)
	}

	return ps, nil
}

// buildLLM constructs the chat provider. "openai" uses the native openai-go
// client; every other name goes through the any-llm-go multi-backend bridge.
// "ollama" and the llama.cpp family are local servers that take a BaseURL
// instead of an API key; anyllm handles the distinction internally.
func buildLLM(name string, entry config.ProviderEntry) (llm.Provider, error) {
	if name == "openai" {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	}

	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(name, entry.Model, opts...)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxloom — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	fmt.Printf("║  Persona source  : %-19s ║\n", cfg.Persona.Source)
	fmt.Printf("║  Default persona : %-19s ║\n", cfg.Persona.Default)
	fmt.Printf("║  Sample rate     : %-19d ║\n", cfg.Pipeline.SampleRate)
	fmt.Printf("║  Codec           : %-19s ║\n", cfg.Pipeline.Codec)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
