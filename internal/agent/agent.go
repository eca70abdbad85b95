// Package agent wires the pieces together: the native-messaging bridge, the
// per-view suggestion engines, the provider router, and the local state
// stores. One Agent instance serves one browser connection for the lifetime
// of the process.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/replypilot/replypilot-agent/internal/auditlog"
	"github.com/replypilot/replypilot-agent/internal/bridge"
	"github.com/replypilot/replypilot-agent/internal/config"
	"github.com/replypilot/replypilot-agent/internal/httpx"
	"github.com/replypilot/replypilot-agent/internal/lockfile"
	"github.com/replypilot/replypilot-agent/internal/monitor"
	"github.com/replypilot/replypilot-agent/internal/provider"
	"github.com/replypilot/replypilot-agent/internal/settings"
	"github.com/replypilot/replypilot-agent/internal/store"
	"github.com/replypilot/replypilot-agent/internal/styles"
	"github.com/replypilot/replypilot-agent/internal/suggest"
)

// seenRetention is how long message-dedup rows are kept before pruning.
const seenRetention = 7 * 24 * time.Hour

// eventBuffer is the capacity of the observability channel. When full, the
// oldest record is dropped; event reporting never blocks an engine loop.
const eventBuffer = 256

// Options configures a new Agent.
type Options struct {
	Config     *config.Config
	ConfigPath string

	Version   string
	Commit    string
	BuildTime string

	// In/Out default to os.Stdin/os.Stdout (the native messaging port).
	// Overridable for tests.
	In  io.Reader
	Out io.Writer
	// LogWriter defaults to os.Stderr. Stdout carries the message stream, so
	// logs must never go there.
	LogWriter io.Writer
}

type Agent struct {
	cfg       *config.Config
	log       *slog.Logger
	version   string
	commit    string
	buildTime string
	stateDir  string

	lock    *lockfile.Lock
	secrets *settings.SecretsStore
	db      *store.Store
	audit   *auditlog.Store
	mon     *monitor.Service
	router  *provider.Router
	styles  []styles.Style
	engines *suggest.Manager
	srv     *bridge.Server

	engineCfg suggest.EngineConfig
	events    chan eventRecord

	mu    sync.Mutex
	views map[string]*viewState

	closeOnce sync.Once
	closeErr  error
}

// eventRecord is one observability record queued for the audit log and the
// extension push stream.
type eventRecord struct {
	viewID         string
	kind           string
	conversationID string
	status         string
	errText        string
	detail         map[string]any
}

// New validates the configuration, acquires the state-dir lock and opens all
// stores. It does not start serving; call Run.
func New(opts Options) (*Agent, error) {
	if opts.Config == nil {
		return nil, errors.New("missing config")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	logWriter := opts.LogWriter
	if logWriter == nil {
		logWriter = os.Stderr
	}
	logger, err := newLogger(logWriter, strings.TrimSpace(opts.Config.LogFormat), strings.TrimSpace(opts.Config.LogLevel))
	if err != nil {
		return nil, err
	}

	cfgPath := strings.TrimSpace(opts.ConfigPath)
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	cfgPathAbs, err := filepath.Abs(cfgPath)
	if err != nil {
		return nil, err
	}
	stateDir := opts.Config.EffectiveStateDir(cfgPathAbs)
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, err
	}

	lock, err := lockfile.Acquire(lockfile.DefaultPath(stateDir))
	if err != nil {
		return nil, err
	}

	a := &Agent{
		cfg:       opts.Config,
		log:       logger,
		version:   strings.TrimSpace(opts.Version),
		commit:    strings.TrimSpace(opts.Commit),
		buildTime: strings.TrimSpace(opts.BuildTime),
		stateDir:  stateDir,
		lock:      lock,
		secrets:   settings.NewSecretsStore(settings.DefaultSecretsPath(cfgPathAbs)),
		mon:       monitor.NewService(logger),
		engineCfg: engineConfig(opts.Config.Engine),
		events:    make(chan eventRecord, eventBuffer),
		views:     make(map[string]*viewState),
	}

	fail := func(err error) (*Agent, error) {
		if a.db != nil {
			_ = a.db.Close()
		}
		_ = lock.Release()
		return nil, err
	}

	set, err := a.loadProviderSet()
	if err != nil {
		return fail(err)
	}

	httpTuning := opts.Config.HTTP
	httpClient := httpx.NewClient(httpx.Policy{
		MaxRetries: httpTuning.EffectiveMaxRetries(),
		BaseDelay:  httpTuning.EffectiveBaseDelay(),
		MaxDelay:   httpTuning.EffectiveMaxDelay(),
	}, httpTuning.EffectiveRequestTimeout(), logger)

	a.router, err = provider.NewRouter(set, httpClient, provider.Events{
		OnFallback: func(from, to provider.Config, primaryErr error) {
			a.emit(eventRecord{
				kind:    "provider_fallback",
				status:  "failure",
				errText: primaryErr.Error(),
				detail:  map[string]any{"from": from.ProviderID, "to": to.ProviderID},
			})
		},
		OnRecovery: func(primary provider.Config) {
			a.emit(eventRecord{
				kind:   "provider_recovery",
				status: "success",
				detail: map[string]any{"provider_id": primary.ProviderID},
			})
		},
		OnAllFailed: func(primaryErr, fallbackErr error) {
			a.emit(eventRecord{
				kind:    "provider_all_failed",
				status:  "failure",
				errText: errors.Join(primaryErr, fallbackErr).Error(),
			})
		},
	}, logger)
	if err != nil {
		return fail(err)
	}

	a.db, err = store.Open(filepath.Join(stateDir, "replypilot.db"))
	if err != nil {
		return fail(err)
	}

	a.audit, err = auditlog.New(auditlog.Options{Logger: logger, StateDir: stateDir})
	if err != nil {
		return fail(err)
	}

	a.styles, err = styles.Load(opts.Config.StylesPath)
	if err != nil {
		return fail(fmt.Errorf("load styles: %w", err))
	}

	a.engines = suggest.NewManager(a.newEngine)

	in := opts.In
	if in == nil {
		in = os.Stdin
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	a.srv = bridge.NewServer(logger, in, out)
	a.registerHandlers()

	return a, nil
}

// loadProviderSet joins the provider configuration with the API keys from
// the secrets store.
func (a *Agent) loadProviderSet() (provider.Set, error) {
	primary, err := a.providerConfig(a.cfg.Primary)
	if err != nil {
		return provider.Set{}, fmt.Errorf("primary: %w", err)
	}
	set := provider.Set{Primary: primary}
	if a.cfg.Fallback != nil {
		fallback, err := a.providerConfig(*a.cfg.Fallback)
		if err != nil {
			return provider.Set{}, fmt.Errorf("fallback: %w", err)
		}
		set.Fallback = &fallback
	}
	return set, nil
}

func (a *Agent) providerConfig(pc config.ProviderConfig) (provider.Config, error) {
	key, ok, err := a.secrets.GetProviderAPIKey(pc.ProviderID)
	if err != nil {
		return provider.Config{}, err
	}
	if !ok {
		return provider.Config{}, fmt.Errorf("no api key stored for provider %q (run set-key)", pc.ProviderID)
	}
	return provider.Config{
		ProviderID: pc.ProviderID,
		APIKey:     key,
		Model:      pc.Model,
		BaseURL:    pc.BaseURL,
	}, nil
}

// newEngine builds one suggestion engine bound to a view's page state.
func (a *Agent) newEngine(viewID string) (*suggest.Engine, error) {
	vs := a.viewStateFor(viewID)
	return suggest.New(suggest.Options{
		Config:      a.engineCfg,
		Log:         a.log,
		Adapter:     vs,
		Generator:   a.router,
		Sink:        &viewSink{agent: a, viewID: viewID},
		Styles:      a.styles,
		Prefs:       &storePrefs{log: a.log, db: a.db},
		Events:      a.engineEvents(viewID),
		AutoEnabled: a.cfg.EffectiveAutoSuggest(),
	})
}

func (a *Agent) engineEvents(viewID string) func(suggest.Event) {
	return func(ev suggest.Event) {
		status := "success"
		switch ev.Kind {
		case suggest.EventAdapterOpen, suggest.EventCooldownActive:
			status = "failure"
		case suggest.EventGenerationResult:
			if s, ok := ev.Detail["status"].(string); ok {
				status = s
			}
		}
		a.emit(eventRecord{
			viewID:         viewID,
			kind:           ev.Kind,
			conversationID: ev.ConversationID,
			status:         status,
			detail:         ev.Detail,
		})
	}
}

// emit queues an observability record. When the channel is full the oldest
// record is dropped so callers never block.
func (a *Agent) emit(rec eventRecord) {
	for {
		select {
		case a.events <- rec:
			return
		default:
		}
		select {
		case <-a.events:
		default:
		}
	}
}

// pumpEvents drains the observability channel into the audit log and the
// extension push stream. Adapter health records carry a system snapshot so
// breaker trips can be correlated with machine load.
func (a *Agent) pumpEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-a.events:
			detail := rec.detail
			if rec.kind == suggest.EventAdapterHealth {
				if detail == nil {
					detail = map[string]any{}
				}
				detail["system"] = a.mon.Snapshot(ctx)
			}
			a.audit.Append(auditlog.Entry{
				Kind:           rec.kind,
				ViewID:         rec.viewID,
				ConversationID: rec.conversationID,
				Status:         rec.status,
				Error:          rec.errText,
				Detail:         detail,
			})
			a.srv.PushEvent(rec.kind, rec.viewID, detail)
		}
	}
}

// Run serves the native messaging port until the browser closes it or ctx is
// canceled. A clean port close returns nil.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("agent: starting",
		"version", a.version,
		"commit", a.commit,
		"build_time", a.buildTime,
		"state_dir", a.stateDir,
	)

	if n, err := a.db.PruneSeenMessages(ctx, time.Now().Add(-seenRetention)); err != nil {
		a.log.Warn("agent: prune seen messages failed", "error", err)
	} else if n > 0 {
		a.log.Info("agent: pruned seen messages", "rows", n)
	}

	pumpCtx, cancelPump := context.WithCancel(context.Background())
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		a.pumpEvents(pumpCtx)
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- a.srv.Serve(ctx) }()

	var err error
	select {
	case <-ctx.Done():
		// Requested shutdown; the blocked stdin read ends with the process.
	case err = <-serveErr:
	}

	a.engines.Close()
	cancelPump()
	<-pumpDone

	a.log.Info("agent: stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the database and the state-dir lock. Safe to call more than
// once.
func (a *Agent) Close() error {
	a.closeOnce.Do(func() {
		a.engines.Close()
		var errs []error
		if err := a.db.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := a.lock.Release(); err != nil {
			errs = append(errs, err)
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

func (a *Agent) viewStateFor(viewID string) *viewState {
	a.mu.Lock()
	defer a.mu.Unlock()
	vs := a.views[viewID]
	if vs == nil {
		vs = &viewState{}
		a.views[viewID] = vs
	}
	return vs
}

func (a *Agent) dropViewState(viewID string) {
	a.mu.Lock()
	delete(a.views, viewID)
	a.mu.Unlock()
}

func engineConfig(t *config.EngineTuning) suggest.EngineConfig {
	return suggest.EngineConfig{
		Debounce:                t.EffectiveDebounce(),
		SettleDelay:             t.EffectiveSettleDelay(),
		ProbeDelay:              t.EffectiveProbeDelay(),
		GenerationTimeout:       t.EffectiveGenerationTimeout(),
		AdapterFailureThreshold: t.EffectiveAdapterFailureThreshold(),
		CooldownWindow:          t.EffectiveCooldownWindow(),
		CooldownThreshold:       t.EffectiveCooldownThreshold(),
		CooldownDuration:        t.EffectiveCooldownDuration(),
	}
}

func newLogger(w io.Writer, format string, level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}
	return slog.New(h), nil
}
