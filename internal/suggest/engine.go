package suggest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/replypilot/replypilot-agent/internal/provider"
	"github.com/replypilot/replypilot-agent/internal/styles"
)

// EngineConfig tunes the coordinator. Zero values fall back to defaults so
// tests can compress time.
type EngineConfig struct {
	// Debounce delays auto generation after an inbound message; only the
	// latest message of a burst survives.
	Debounce time.Duration
	// SettleDelay is the wait after a conversation change before the one-shot
	// health probe runs.
	SettleDelay time.Duration
	// ProbeDelay is the wait before the adapter breaker's recovery probe.
	ProbeDelay time.Duration
	// GenerationTimeout bounds one routed generation call end to end.
	GenerationTimeout time.Duration

	// AdapterFailureThreshold is the consecutive-failure count that opens the
	// adapter breaker.
	AdapterFailureThreshold int

	// Auto-reply cooldown breaker (sliding window).
	CooldownWindow    time.Duration
	CooldownThreshold int
	CooldownDuration  time.Duration

	// AutoRate/AutoBurst cap autonomous generations regardless of breakers.
	AutoRate  rate.Limit
	AutoBurst int
}

// DefaultEngineConfig returns production tuning.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Debounce:                600 * time.Millisecond,
		SettleDelay:             500 * time.Millisecond,
		ProbeDelay:              5 * time.Second,
		GenerationTimeout:       30 * time.Second,
		AdapterFailureThreshold: 3,
		CooldownWindow:          2 * time.Minute,
		CooldownThreshold:       3,
		CooldownDuration:        time.Minute,
		AutoRate:                rate.Every(10 * time.Second),
		AutoBurst:               3,
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.Debounce <= 0 {
		c.Debounce = d.Debounce
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = d.SettleDelay
	}
	if c.ProbeDelay <= 0 {
		c.ProbeDelay = d.ProbeDelay
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = d.GenerationTimeout
	}
	if c.AdapterFailureThreshold <= 0 {
		c.AdapterFailureThreshold = d.AdapterFailureThreshold
	}
	if c.CooldownWindow <= 0 {
		c.CooldownWindow = d.CooldownWindow
	}
	if c.CooldownThreshold <= 0 {
		c.CooldownThreshold = d.CooldownThreshold
	}
	if c.CooldownDuration <= 0 {
		c.CooldownDuration = d.CooldownDuration
	}
	if c.AutoRate <= 0 {
		c.AutoRate = d.AutoRate
	}
	if c.AutoBurst <= 0 {
		c.AutoBurst = d.AutoBurst
	}
	return c
}

// Prefs exposes per-conversation preferences to the engine. Implementations
// must be cheap; the engine loop calls them synchronously.
type Prefs interface {
	// ConversationPrefs returns the auto-suggest toggle and default style for
	// a conversation. ok=false means no stored preference.
	ConversationPrefs(conversationID string) (autoEnabled bool, styleID string, thought provider.ThoughtDirection, ok bool)
}

// Options wires an Engine. Adapter, Generator and Sink are required.
type Options struct {
	Config    EngineConfig
	Log       *slog.Logger
	Adapter   PageAdapter
	Generator Generator
	Sink      Sink
	Styles    []styles.Style
	Prefs     Prefs
	// Events receives observability records; it must never block. May be nil.
	Events func(Event)
	// AutoEnabled is the initial state of the global auto-suggest toggle.
	AutoEnabled bool
}

// Engine coordinates generations for one conversation view.
//
// All mutable state (epoch, token, queue slot, breaker counters) is owned by
// a single loop goroutine; external calls post commands and never touch state
// directly, so no locks guard it. Timers post commands back into the loop and
// carry the epoch captured when they were armed.
type Engine struct {
	cfg     EngineConfig
	log     *slog.Logger
	adapter PageAdapter
	gen     Generator
	sink    Sink
	styles  []styles.Style
	prefs   Prefs
	events  func(Event)

	cmds      chan command
	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	// Everything below is loop-owned.
	epoch       uint64
	token       uint64
	autoEnabled bool

	inFlight       bool
	inFlightEpoch  uint64
	inFlightToken  uint64
	cancelInFlight context.CancelFunc

	queued  *Request
	pending *InboundMessage
	seen    map[string]struct{}

	debounceTimer *time.Timer
	debounceSeq   uint64

	recoveryTimer *time.Timer
	recoveryArmed bool

	breaker  *adapterBreaker
	cooldown *autoCooldown
	limiter  *rate.Limiter
}

type command interface{ isCommand() }

type (
	cmdInbound struct{ msg InboundMessage }
	cmdGenerate struct{ req Request }
	cmdConversationChanged struct{}
	cmdSetAutoEnabled struct{ enabled bool }
	cmdDebounceFired struct {
		epoch uint64
		seq   uint64
	}
	cmdSettleProbe   struct{ epoch uint64 }
	cmdRecoveryProbe struct{ epoch uint64 }
	cmdGenerationDone struct {
		epoch          uint64
		token          uint64
		conversationID string
		source         Source
		out            *provider.Output
		err            error
	}
	cmdStatus struct{ resp chan Status }
)

func (cmdInbound) isCommand()             {}
func (cmdGenerate) isCommand()            {}
func (cmdConversationChanged) isCommand() {}
func (cmdSetAutoEnabled) isCommand()      {}
func (cmdDebounceFired) isCommand()       {}
func (cmdSettleProbe) isCommand()         {}
func (cmdRecoveryProbe) isCommand()       {}
func (cmdGenerationDone) isCommand()      {}
func (cmdStatus) isCommand()              {}

// Status is a point-in-time snapshot for the UI.
type Status struct {
	Epoch               uint64    `json:"epoch"`
	AutoEnabled         bool      `json:"auto_enabled"`
	AdapterState        string    `json:"adapter_state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CooldownUntil       time.Time `json:"cooldown_until,omitzero"`
	InFlight            bool      `json:"in_flight"`
	Queued              bool      `json:"queued"`
}

// New starts an engine loop. Call Close to stop it.
func New(opts Options) (*Engine, error) {
	if opts.Adapter == nil {
		return nil, errors.New("suggest: missing page adapter")
	}
	if opts.Generator == nil {
		return nil, errors.New("suggest: missing generator")
	}
	if opts.Sink == nil {
		return nil, errors.New("suggest: missing sink")
	}
	cfg := opts.Config.withDefaults()
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	all := opts.Styles
	if len(all) == 0 {
		all = styles.Default()
	}

	e := &Engine{
		cfg:         cfg,
		log:         log,
		adapter:     opts.Adapter,
		gen:         opts.Generator,
		sink:        opts.Sink,
		styles:      all,
		prefs:       opts.Prefs,
		events:      opts.Events,
		cmds:        make(chan command, 64),
		done:        make(chan struct{}),
		loopDone:    make(chan struct{}),
		autoEnabled: opts.AutoEnabled,
		seen:        make(map[string]struct{}),
		breaker:     newAdapterBreaker(cfg.AdapterFailureThreshold),
		cooldown:    newAutoCooldown(cfg.CooldownWindow, cfg.CooldownThreshold, cfg.CooldownDuration),
		limiter:     rate.NewLimiter(cfg.AutoRate, cfg.AutoBurst),
	}
	go e.run()
	return e, nil
}

// Close stops the loop. In-flight generations finish in the background and
// their results are dropped.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.done) })
	<-e.loopDone
}

// OnInboundMessage feeds a new message observed on the chat surface.
func (e *Engine) OnInboundMessage(msg InboundMessage) {
	e.post(cmdInbound{msg: msg})
}

// RequestGeneration triggers a generation on the user's behalf.
func (e *Engine) RequestGeneration(req Request) {
	if req.Source == "" {
		req.Source = SourceManual
	}
	e.post(cmdGenerate{req: req})
}

// ConversationChanged tells the engine the user switched conversation.
func (e *Engine) ConversationChanged() {
	e.post(cmdConversationChanged{})
}

// SetAutoEnabled flips the global auto-suggest toggle.
func (e *Engine) SetAutoEnabled(enabled bool) {
	e.post(cmdSetAutoEnabled{enabled: enabled})
}

// Status returns a snapshot, or the zero Status after Close.
func (e *Engine) Status() Status {
	resp := make(chan Status, 1)
	e.post(cmdStatus{resp: resp})
	select {
	case s := <-resp:
		return s
	case <-e.done:
		return Status{}
	}
}

func (e *Engine) post(cmd command) {
	select {
	case e.cmds <- cmd:
	case <-e.done:
	}
}

func (e *Engine) run() {
	defer close(e.loopDone)
	for {
		select {
		case cmd := <-e.cmds:
			e.handle(cmd)
		case <-e.done:
			e.stopTimers()
			if e.cancelInFlight != nil {
				e.cancelInFlight()
				e.cancelInFlight = nil
			}
			return
		}
	}
}

func (e *Engine) handle(cmd command) {
	switch c := cmd.(type) {
	case cmdInbound:
		e.onInbound(c.msg)
	case cmdGenerate:
		e.startGeneration(c.req, e.epoch)
	case cmdConversationChanged:
		e.onConversationChanged()
	case cmdSetAutoEnabled:
		e.autoEnabled = c.enabled
	case cmdDebounceFired:
		e.onDebounceFired(c.epoch, c.seq)
	case cmdSettleProbe:
		e.onSettleProbe(c.epoch)
	case cmdRecoveryProbe:
		e.onRecoveryProbe(c.epoch)
	case cmdGenerationDone:
		e.onGenerationDone(c)
	case cmdStatus:
		c.resp <- Status{
			Epoch:               e.epoch,
			AutoEnabled:         e.autoEnabled,
			AdapterState:        e.breaker.state.String(),
			ConsecutiveFailures: e.breaker.consecutiveFailures(),
			CooldownUntil:       e.cooldown.cooldownUntil(),
			InFlight:            e.inFlight,
			Queued:              e.queued != nil,
		}
	}
}

func (e *Engine) onInbound(msg InboundMessage) {
	if msg.Direction == provider.DirectionOutgoing {
		return
	}
	if msg.ID != "" {
		if _, dup := e.seen[msg.ID]; dup {
			return
		}
		e.seen[msg.ID] = struct{}{}
	}
	if e.breaker.open() {
		e.log.Debug("engine: inbound ignored, adapter breaker open", "message_id", msg.ID)
		return
	}
	if !e.autoEnabled {
		return
	}
	if active, expired := e.cooldown.active(); active {
		e.log.Debug("engine: inbound ignored, auto cooldown active", "message_id", msg.ID)
		return
	} else if expired {
		e.emit(Event{Kind: EventCooldownExpired})
	}

	// Only the latest message of a burst survives the debounce.
	e.pending = &msg
	e.armDebounce()
}

func (e *Engine) armDebounce() {
	if e.debounceTimer != nil {
		e.debounceTimer.Stop()
	}
	e.debounceSeq++
	epoch, seq := e.epoch, e.debounceSeq
	e.debounceTimer = time.AfterFunc(e.cfg.Debounce, func() {
		e.post(cmdDebounceFired{epoch: epoch, seq: seq})
	})
}

func (e *Engine) onDebounceFired(epoch, seq uint64) {
	if epoch != e.epoch || seq != e.debounceSeq || e.pending == nil {
		return
	}
	e.pending = nil
	if !e.limiter.Allow() {
		e.log.Debug("engine: auto generation rate limited")
		return
	}
	e.startGeneration(Request{Source: SourceAuto}, epoch)
}

// startGeneration resolves the page context, marks the call in-flight and
// dispatches to the router off-loop.
func (e *Engine) startGeneration(req Request, epoch uint64) {
	if epoch != e.epoch {
		return
	}
	if e.inFlight {
		if e.inFlightEpoch == e.epoch {
			// Single queue slot; newest request wins.
			e.queued = &req
		}
		// An in-flight call from an older epoch means a fast switch raced us;
		// queuing is intra-epoch only, so the request is dropped.
		return
	}

	pctx, ok := e.adapter.ResolveContext()
	if !ok || pctx == nil || pctx.ConversationID == "" {
		e.onIntegrationUnavailable(req)
		return
	}

	styleID := req.StyleID
	thought := req.ThoughtDirection
	if e.prefs != nil {
		if autoOK, prefStyle, prefThought, ok := e.prefs.ConversationPrefs(pctx.ConversationID); ok {
			if req.Source == SourceAuto && !autoOK {
				e.log.Debug("engine: auto suggest disabled for conversation", "conversation_id", pctx.ConversationID)
				return
			}
			if styleID == "" {
				styleID = prefStyle
			}
			if thought == "" {
				thought = prefThought
			}
		}
	}

	in := provider.Input{
		Context:          *pctx,
		Style:            styles.Find(e.styles, styleID),
		ThoughtDirection: thought,
		SkipAnalysis:     req.SkipAnalysis,
	}

	e.token++
	token := e.token
	e.inFlight = true
	e.inFlightEpoch = epoch
	e.inFlightToken = token

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.GenerationTimeout)
	e.cancelInFlight = cancel

	source := req.Source
	conversationID := pctx.ConversationID
	go func() {
		out, err := e.gen.Generate(ctx, in)
		cancel()
		e.post(cmdGenerationDone{
			epoch:          epoch,
			token:          token,
			conversationID: conversationID,
			source:         source,
			out:            out,
			err:            err,
		})
	}()
}

func (e *Engine) onIntegrationUnavailable(req Request) {
	if req.Source == SourceManual {
		// Shown immediately; manual misses do not feed the breaker.
		e.sink.PublishError(SourceManual, provider.CategoryIntegration, provider.UserMessage(provider.CategoryIntegration))
		return
	}
	e.recordAdapterFailure()
}

func (e *Engine) recordAdapterFailure() {
	if e.breaker.recordFailure() {
		e.log.Warn("engine: adapter breaker opened", "consecutive_failures", e.breaker.consecutiveFailures())
		e.emit(Event{Kind: EventAdapterOpen, Detail: map[string]any{
			"consecutive_failures": e.breaker.consecutiveFailures(),
		}})
	}
	if e.breaker.open() {
		e.armRecovery()
	}
}

func (e *Engine) onGenerationDone(done cmdGenerationDone) {
	current := e.inFlight && done.epoch == e.epoch && done.token == e.inFlightToken
	if e.inFlight && done.token == e.inFlightToken {
		e.inFlight = false
		e.cancelInFlight = nil
	}
	if !current {
		e.log.Debug("engine: stale generation result discarded",
			"result_epoch", done.epoch,
			"current_epoch", e.epoch,
		)
		e.maybeStartQueued()
		return
	}

	if done.err == nil {
		if e.breaker.recordSuccess() {
			e.emit(Event{Kind: EventAdapterClosed, ConversationID: done.conversationID})
		}
		if done.source == SourceAuto && e.cooldown.recordSuccess() {
			e.emit(Event{Kind: EventCooldownCleared, ConversationID: done.conversationID})
		}
		res := Result{
			ConversationID: done.conversationID,
			Source:         done.source,
			Candidates:     done.out.Candidates,
			UsedFallback:   done.out.UsedFallback,
			ProviderID:     done.out.ProviderID,
			Model:          done.out.Model,
		}
		e.sink.PublishCandidates(res)
		e.emit(Event{Kind: EventGenerationResult, ConversationID: done.conversationID, Detail: map[string]any{
			"source":        string(done.source),
			"status":        "success",
			"provider_id":   done.out.ProviderID,
			"model":         done.out.Model,
			"used_fallback": done.out.UsedFallback,
			"candidates":    len(done.out.Candidates),
		}})
	} else {
		category := provider.Categorize(done.err)
		e.log.Warn("engine: generation failed",
			"source", done.source,
			"category", category,
			"error", done.err,
		)
		if done.source == SourceAuto && e.cooldown.recordFailure() {
			e.emit(Event{Kind: EventCooldownActive, ConversationID: done.conversationID, Detail: map[string]any{
				"cooldown_until_unix_ms": e.cooldown.cooldownUntil().UnixMilli(),
			}})
		}
		e.sink.PublishError(done.source, category, provider.UserMessage(category))
		e.emit(Event{Kind: EventGenerationResult, ConversationID: done.conversationID, Detail: map[string]any{
			"source":         string(done.source),
			"status":         "failure",
			"error_category": string(category),
		}})
	}

	e.maybeStartQueued()
}

func (e *Engine) maybeStartQueued() {
	if e.queued == nil || e.inFlight {
		return
	}
	req := *e.queued
	e.queued = nil
	e.startGeneration(req, e.epoch)
}

func (e *Engine) onConversationChanged() {
	e.epoch++
	e.pending = nil
	e.queued = nil
	e.seen = make(map[string]struct{})
	if e.debounceTimer != nil {
		e.debounceTimer.Stop()
		e.debounceTimer = nil
	}
	if e.recoveryTimer != nil {
		e.recoveryTimer.Stop()
		e.recoveryTimer = nil
	}
	e.recoveryArmed = false
	// The wire call is not aborted as a guarantee; cancelling the context is
	// best-effort so the stale call returns sooner. Its result is discarded
	// by the epoch check either way. In-flight tracking stays so a racing
	// trigger in the new epoch is dropped rather than run concurrently.
	if e.cancelInFlight != nil {
		e.cancelInFlight()
	}
	e.breaker.resetFailures()

	epoch := e.epoch
	time.AfterFunc(e.cfg.SettleDelay, func() {
		e.post(cmdSettleProbe{epoch: epoch})
	})
}

func (e *Engine) onSettleProbe(epoch uint64) {
	if epoch != e.epoch {
		return
	}
	e.runHealthProbe("")
}

func (e *Engine) onRecoveryProbe(epoch uint64) {
	e.recoveryArmed = false
	if epoch != e.epoch {
		// Stale timer; the settle probe owns the new epoch. Re-arm only if
		// the breaker still needs a way out.
		if e.breaker.open() {
			e.armRecovery()
		}
		return
	}
	if !e.breaker.open() {
		return
	}
	e.breaker.beginProbe()
	e.runHealthProbe("recovery")
}

// runHealthProbe asks the collaborators whether the integration is usable
// and feeds the adapter breaker with the answer.
func (e *Engine) runHealthProbe(kind string) {
	healthy := e.adapter.InputAvailable() && e.adapter.IdentityAvailable()
	e.emit(Event{Kind: EventAdapterHealth, Detail: map[string]any{
		"healthy":              healthy,
		"probe":                kind,
		"breaker_state":        e.breaker.state.String(),
		"consecutive_failures": e.breaker.consecutiveFailures(),
	}})
	if healthy {
		if e.breaker.recordSuccess() {
			e.log.Info("engine: adapter breaker closed after successful probe")
			e.emit(Event{Kind: EventAdapterClosed})
		}
		return
	}
	e.recordAdapterFailure()
}

func (e *Engine) armRecovery() {
	if e.recoveryArmed {
		return
	}
	e.recoveryArmed = true
	epoch := e.epoch
	e.recoveryTimer = time.AfterFunc(e.cfg.ProbeDelay, func() {
		e.post(cmdRecoveryProbe{epoch: epoch})
	})
}

func (e *Engine) stopTimers() {
	if e.debounceTimer != nil {
		e.debounceTimer.Stop()
		e.debounceTimer = nil
	}
	if e.recoveryTimer != nil {
		e.recoveryTimer.Stop()
		e.recoveryTimer = nil
	}
}

func (e *Engine) emit(ev Event) {
	if e.events != nil {
		e.events(ev)
	}
}
