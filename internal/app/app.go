// Package app wires all meetvoice subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithJournal, WithDirectory, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/meetvoice/internal/config"
	"github.com/MrWong99/meetvoice/internal/conversation"
	"github.com/MrWong99/meetvoice/internal/directory"
	"github.com/MrWong99/meetvoice/internal/extract"
	"github.com/MrWong99/meetvoice/internal/health"
	"github.com/MrWong99/meetvoice/internal/mcpserver"
	"github.com/MrWong99/meetvoice/internal/observe"
	"github.com/MrWong99/meetvoice/internal/registry"
	"github.com/MrWong99/meetvoice/internal/registry/pgjournal"
	"github.com/MrWong99/meetvoice/internal/resilience"
	"github.com/MrWong99/meetvoice/internal/session"
	"github.com/MrWong99/meetvoice/pkg/audio"
)

// compactorBudget is the token budget of a conversation history before the
// oldest half is summarised.
const compactorBudget = 3000

// shutdownGrace bounds how long in-flight HTTP requests may take to finish
// once Run's context is cancelled.
const shutdownGrace = 10 * time.Second

// App owns all subsystem lifetimes and serves the meetvoice API.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	clock     func() time.Time
	logLevel  *slog.LevelVar
	version   string

	// Subsystems, initialised in New and torn down in Shutdown.
	dir       *directory.Directory
	journal   registry.Journal
	registry  *registry.Registry
	extractor *extract.Service
	agent     *conversation.Agent
	recorder  *audio.Recorder
	sessions  *session.Manager
	mcp       *mcpserver.Server
	health    *health.Handler
	handler   http.Handler

	// cfgMu guards cfg after New returns; ApplyConfig replaces it.
	cfgMu sync.Mutex

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithJournal injects a registry journal instead of connecting to
// registry.postgres_dsn.
func WithJournal(j registry.Journal) Option {
	return func(a *App) { a.journal = j }
}

// WithDirectory injects a contact directory instead of loading
// directory.file.
func WithDirectory(d *directory.Directory) Option {
	return func(a *App) { a.dir = d }
}

// WithMetrics replaces [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClock replaces time.Now for sessions, the registry and MCP tools.
func WithClock(fn func() time.Time) Option {
	return func(a *App) { a.clock = fn }
}

// WithLogLevel lets ApplyConfig change the level of the process logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from [BuildProviders]. Use Option functions to inject test doubles
// for any subsystem.
//
// New performs all initialisation synchronously: directory loading, journal
// connection and replay, extraction and conversation setup, session manager
// construction, MCP tool registration and route assembly.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.clock == nil {
		a.clock = time.Now
	}

	// ── 1. Contact directory ─────────────────────────────────────────────
	if err := a.initDirectory(); err != nil {
		return nil, fmt.Errorf("app: init directory: %w", err)
	}

	// ── 2. Registry and journal ──────────────────────────────────────────
	if err := a.initRegistry(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init registry: %w", err)
	}

	// ── 3. Extraction and conversation ───────────────────────────────────
	if err := a.initExtraction(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init extraction: %w", err)
	}

	// ── 4. Sessions ──────────────────────────────────────────────────────
	a.initSessions()

	// ── 5. MCP server ────────────────────────────────────────────────────
	if cfg.MCP.Enabled {
		srv, err := mcpserver.New(mcpserver.Deps{
			Directory: a.dir,
			Registry:  a.registry,
			Extractor: a.extractor,
			Metrics:   a.metrics,
			Clock:     a.clock,
			Version:   a.version,
		})
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: init mcp: %w", err)
		}
		a.mcp = srv
	}

	// ── 6. Health and routes ─────────────────────────────────────────────
	var pinger health.Pinger
	if p, ok := a.journal.(health.Pinger); ok {
		pinger = p
	}
	a.health = health.New(
		health.Ping("journal", pinger),
		health.NonEmpty("directory", a.dir.Len),
	)
	a.handler = observe.Middleware(a.metrics)(a.routes())

	slog.Info("app initialised",
		"contacts", a.dir.Len(),
		"journal", a.journal != nil,
		"remote_extraction", providers.LLM != nil,
		"conversation", a.agent != nil,
		"recording", a.recorder != nil,
		"mcp", a.mcp != nil,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initDirectory loads directory.file or falls back to the seed directory.
func (a *App) initDirectory() error {
	dc := a.cfg.Directory
	if a.dir != nil {
		a.dir.SetPhonetic(dc.Phonetic)
		return nil
	}
	if dc.File == "" {
		a.dir = directory.Default(directory.WithPhonetic(dc.Phonetic))
		return nil
	}
	contacts, err := directory.Load(dc.File)
	if err != nil {
		return err
	}
	a.dir = directory.New(contacts, directory.WithPhonetic(dc.Phonetic))
	return nil
}

// initRegistry connects the PostgreSQL journal when configured and replays
// it into a fresh registry.
func (a *App) initRegistry(ctx context.Context) error {
	if a.journal == nil && a.cfg.Registry.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, a.cfg.Registry.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		j := pgjournal.New(pool)
		if err := j.Migrate(ctx); err != nil {
			return err
		}
		a.journal = j
	}

	opts := []registry.Option{
		registry.WithClock(a.clock),
		registry.WithTimeResolution(a.cfg.Session.TimeResolution),
	}
	if a.journal != nil {
		opts = append(opts, registry.WithJournal(a.journal))
	}
	a.registry = registry.New(opts...)
	return a.registry.Load(ctx)
}

// initExtraction builds the extraction service and, when an LLM is
// configured, the remote extractor and conversation agent.
func (a *App) initExtraction() error {
	fb := a.cfg.Fallbacks
	opts := []extract.Option{
		extract.WithMetrics(a.metrics),
		extract.WithRemoteTimeout(fb.ExtractionTimeout),
		extract.WithBreaker(resilience.CircuitBreakerConfig{
			Name:          "extraction",
			MaxFailures:   fb.MaxFailures,
			ResetTimeout:  fb.ResetTimeout,
			HalfOpenMax:   fb.HalfOpenMax,
			OnStateChange: breakerHook(a.metrics, ""),
		}),
	}
	if p := a.providers.LLM; p != nil {
		remote, err := extract.NewRemote(p, a.dir)
		if err != nil {
			return err
		}
		opts = append(opts, extract.WithRemote(remote))
	}
	svc, err := extract.New(a.dir, opts...)
	if err != nil {
		return err
	}
	a.extractor = svc

	if a.providers.LLM == nil {
		return nil
	}
	compactor, err := conversation.NewCompactor(compactorBudget, 0, conversation.NewLLMSummariser(a.providers.LLM))
	if err != nil {
		return err
	}
	a.agent, err = conversation.New(a.providers.LLM, a.dir,
		conversation.WithBackfill(a.extractor),
		conversation.WithCompactor(compactor),
	)
	return err
}

// initSessions builds the shared recorder and the session manager.
func (a *App) initSessions() {
	if src := a.providers.Audio; src != nil {
		a.recorder = audio.NewRecorder(src, audio.WithMaxDuration(a.cfg.Session.MaxRecording))
		a.closers = append(a.closers, func() error {
			a.recorder.Abort()
			return nil
		})
	}
	a.sessions = session.NewManager(a.sessionConfig(a.cfg.Session), a.cfg.Session.MaxSessions)
}

// sessionConfig derives the per-session configuration from sc.
func (a *App) sessionConfig(sc config.SessionConfig) session.Config {
	c := session.Config{
		Extractor:          a.extractor,
		Registry:           a.registry,
		Recorder:           a.recorder,
		STT:                a.providers.STT,
		Vocabulary:         a.dir.Vocabulary,
		Language:           sc.Language,
		MinTranscriptChars: sc.MinTranscriptChars,
		Metrics:            a.metrics,
		Clock:              a.clock,
	}
	if a.agent != nil {
		c.Conversation = a.agent
		c.ConversationMode = sc.ConversationMode
	}
	return c
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Registry returns the contact and meeting registry.
func (a *App) Registry() *registry.Registry { return a.registry }

// Directory returns the contact directory.
func (a *App) Directory() *directory.Directory { return a.dir }

// Extractor returns the extraction service.
func (a *App) Extractor() *extract.Service { return a.extractor }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on server.listen_addr and serves the API until ctx is
// cancelled. When directory.watch is set the directory file is reloaded on
// every change. Run returns nil after a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	a.cfgMu.Lock()
	cfg := a.cfg
	a.cfgMu.Unlock()

	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener. It closes ln before returning.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.cfgMu.Lock()
	cfg := a.cfg
	a.cfgMu.Unlock()

	if cfg.Directory.Watch && cfg.Directory.File != "" {
		fw, err := config.WatchFile(cfg.Directory.File, a.reloadDirectory)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("app: watch directory: %w", err)
		}
		defer fw.Stop()
	}

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", cfg.Server.TLS != nil)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// reloadDirectory replaces the directory contents from a changed file.
func (a *App) reloadDirectory(data []byte) error {
	contacts, err := directory.LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	a.dir.Replace(contacts)
	slog.Info("directory reloaded", "contacts", len(contacts))
	return nil
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of a configuration change:
// log level, directory and session settings. Changes that need a restart
// are logged and otherwise ignored. It matches the signature expected by
// [config.NewWatcher].
func (a *App) ApplyConfig(old, updated *config.Config) {
	d := config.Diff(old, updated)
	if !d.Changed() {
		return
	}

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.DirectoryChanged {
		a.dir.SetPhonetic(updated.Directory.Phonetic)
		if updated.Directory.File != old.Directory.File {
			if err := a.switchDirectory(updated.Directory.File); err != nil {
				slog.Error("directory reload failed", "file", updated.Directory.File, "err", err)
			}
		}
		if updated.Directory.Watch != old.Directory.Watch || (updated.Directory.Watch && updated.Directory.File != old.Directory.File) {
			slog.Warn("directory watch changes take effect after restart")
		}
	}

	if d.SessionChanged {
		sc := updated.Session
		a.registry.SetTimeResolution(sc.TimeResolution)
		a.sessions.Reconfigure(sc.MaxSessions, func(c *session.Config) {
			next := a.sessionConfig(sc)
			c.Language = next.Language
			c.MinTranscriptChars = next.MinTranscriptChars
			c.ConversationMode = next.ConversationMode
		})
		if sc.MaxRecording != old.Session.MaxRecording || sc.CaptureDevice != old.Session.CaptureDevice {
			slog.Warn("recording changes take effect after restart")
		}
		slog.Info("session settings updated")
	}

	if d.RestartRequired {
		slog.Warn("configuration change requires a restart to take full effect")
	}

	a.cfgMu.Lock()
	a.cfg = updated
	a.cfgMu.Unlock()
}

// switchDirectory loads file, or the seed contacts when file is empty, into
// the live directory.
func (a *App) switchDirectory(file string) error {
	if file == "" {
		a.dir.Replace(directory.Default().All())
		return nil
	}
	contacts, err := directory.Load(file)
	if err != nil {
		return err
	}
	a.dir.Replace(contacts)
	slog.Info("directory switched", "file", file, "contacts", len(contacts))
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes every session and then tears down all subsystems in
// init order. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", len(a.sessions.List()), "closers", len(a.closers))
		a.sessions.CloseAll()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far after a failed New.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}
