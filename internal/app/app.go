// Package app wires all voxloom subsystems into a running server.
//
// The App struct owns the full lifecycle: New constructs the persona store,
// telemetry, session manager, and HTTP surface from config; Run serves until
// the context is cancelled; Shutdown tears everything down in reverse-init
// order.
//
// For testing, inject doubles via functional options (WithPersonaStore,
// WithLogger). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxloom/internal/config"
	"github.com/MrWong99/voxloom/internal/health"
	"github.com/MrWong99/voxloom/internal/observe"
	"github.com/MrWong99/voxloom/internal/persona"
	"github.com/MrWong99/voxloom/pkg/provider/embeddings"
	"github.com/MrWong99/voxloom/pkg/provider/llm"
	"github.com/MrWong99/voxloom/pkg/provider/stt"
	"github.com/MrWong99/voxloom/pkg/provider/tts"
	"github.com/MrWong99/voxloom/pkg/provider/vad"
	"github.com/MrWong99/voxloom/pkg/transport/ws"
)

// httpShutdownTimeout bounds the graceful drain of in-flight HTTP requests.
const httpShutdownTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go from the config.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Engine
	TTS        tts.Provider
	Embeddings embeddings.Provider
	VAD        vad.Engine
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	logger    *slog.Logger
	metrics   *observe.Metrics

	personas persona.Store
	sessions *SessionManager
	server   *http.Server
	registry *prometheus.Registry

	// closers are called in reverse order during Shutdown.
	closers  []func(context.Context) error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithPersonaStore injects a persona store instead of creating one from
// config.
func WithPersonaStore(s persona.Store) Option {
	return func(a *App) { a.personas = s }
}

// WithLogger sets the application logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// New wires the application together. It initialises telemetry, the persona
// store, and the HTTP surface, and eagerly resolves the default persona so a
// misconfigured name fails at startup instead of on the first connection.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}

	// Telemetry first: every later component records against the global
	// meter provider.
	registry, shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voxloom",
	})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.registry = registry
	a.closers = append(a.closers, shutdownObserve)
	a.metrics = observe.DefaultMetrics()

	if err := a.initPersonas(ctx); err != nil {
		return nil, fmt.Errorf("app: init personas: %w", err)
	}

	// Fail fast on an unresolvable default persona.
	if _, err := a.personas.Resolve(ctx, cfg.Persona.Default); err != nil {
		return nil, fmt.Errorf("app: default persona: %w", err)
	}

	a.sessions = NewSessionManager(cfg, providers, a.personas, a.logger, a.metrics)
	a.server = &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: a.buildHandler(),
	}

	return a, nil
}

// initPersonas creates the configured persona store unless one was injected.
func (a *App) initPersonas(ctx context.Context) error {
	if a.personas != nil {
		return nil
	}

	switch a.cfg.Persona.Source {
	case config.PersonaSourceFile:
		store, err := persona.NewFileStore(a.cfg.Persona.File)
		if err != nil {
			return err
		}
		a.personas = store

	case config.PersonaSourcePostgres:
		if a.providers.Embeddings == nil {
			return errors.New("postgres persona store requires an embeddings provider")
		}
		var pgOpts []persona.PostgresOption
		if k := a.cfg.Persona.LoreTopK; k != 0 {
			pgOpts = append(pgOpts, persona.WithLoreTopK(k))
		}
		store, err := persona.NewPostgresStore(ctx, a.cfg.Persona.PostgresDSN, a.providers.Embeddings, pgOpts...)
		if err != nil {
			return err
		}
		a.personas = store
		a.closers = append(a.closers, func(context.Context) error {
			store.Close()
			return nil
		})

	default:
		return fmt.Errorf("unknown persona source %q", a.cfg.Persona.Source)
	}
	return nil
}

// buildHandler assembles the HTTP surface: websocket sessions, probes, and
// the Prometheus scrape endpoint, all behind the tracing middleware.
func (a *App) buildHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /session", a.handleSession)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	health.New(
		health.Checker{Name: "persona", Check: func(ctx context.Context) error {
			_, err := a.personas.Resolve(ctx, a.cfg.Persona.Default)
			return err
		}},
		health.Checker{Name: "session_slot", Check: func(context.Context) error {
			if a.sessions.IsActive() {
				return fmt.Errorf("occupied by %s", a.sessions.Info().SessionID)
			}
			return nil
		}},
	).Register(mux)

	return observe.Middleware(a.metrics)(mux)
}

// handleSession upgrades the request to a websocket and hands the connection
// to the session manager.
func (a *App) handleSession(w http.ResponseWriter, r *http.Request) {
	// Refuse before the upgrade so the client gets a proper HTTP status.
	if a.sessions.IsActive() {
		http.Error(w, "a session is already active", http.StatusConflict)
		return
	}

	conn, err := ws.Accept(w, r, ws.Options{
		SampleRate:     a.cfg.Pipeline.SampleRate,
		Codec:          ws.Codec(a.cfg.Pipeline.Codec),
		Logger:         a.logger,
		OriginPatterns: a.cfg.Server.OriginPatterns,
		OnDrop: func(int64) {
			a.metrics.DroppedFrames.Add(context.Background(), 1)
		},
	})
	if err != nil {
		a.logger.Warn("websocket accept failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	if err := a.sessions.Start(r.Context(), conn, r.RemoteAddr); err != nil {
		a.logger.Warn("session refused", "error", err, "remote_addr", r.RemoteAddr)
		_ = conn.Close()
	}
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests and
// stops the active session.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("listening", "addr", a.server.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()

		drainCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(drainCtx); err != nil {
			a.logger.Warn("http shutdown error", "error", err)
		}
		if err := a.sessions.StopActive(drainCtx); err != nil {
			a.logger.Warn("session stop error", "error", err)
		}
		return gctx.Err()
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Sessions exposes the session manager, mainly for tests and diagnostics.
func (a *App) Sessions() *SessionManager {
	return a.sessions
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		if err := a.sessions.StopActive(ctx); err != nil {
			a.logger.Warn("session stop error", "error", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](ctx); err != nil {
				a.logger.Warn("closer error", "index", i, "error", err)
			}
		}
	})
	return shutdownErr
}
