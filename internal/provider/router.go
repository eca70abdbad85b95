package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/replypilot/replypilot-agent/internal/httpx"
)

// generator is one concrete provider endpoint.
type generator interface {
	Generate(ctx context.Context, in Input) ([]string, error)
}

func newGenerator(cfg Config, httpClient *httpx.Client) (generator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.ProviderID)) {
	case IDOpenAI, IDOpenAICompatible:
		return newOpenAIGenerator(cfg, httpClient), nil
	case IDAnthropic:
		return newAnthropicGenerator(cfg, httpClient), nil
	default:
		return nil, fmt.Errorf("unsupported provider id %q", cfg.ProviderID)
	}
}

// Events are invoked synchronously from Generate on provider transitions.
// Handlers must be fast and must not call back into the router.
type Events struct {
	OnFallback  func(from, to Config, primaryErr error)
	OnRecovery  func(primary Config)
	OnAllFailed func(primaryErr, fallbackErr error)
}

// Router executes generations against the primary provider and fails over to
// the fallback. Recovery is detected by the next successful primary call; no
// separate health poll runs.
type Router struct {
	log    *slog.Logger
	events Events
	http   *httpx.Client

	// newGen is swapped in tests to avoid real SDK clients.
	newGen func(Config, *httpx.Client) (generator, error)

	mu             sync.Mutex
	set            Set
	primary        generator
	fallback       generator
	fallbackActive bool
}

// NewRouter builds a router for the given provider set. httpClient may be
// nil (SDK default transport, no shared retry policy) — production wiring
// always passes one.
func NewRouter(set Set, httpClient *httpx.Client, events Events, log *slog.Logger) (*Router, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{
		log:    log,
		events: events,
		http:   httpClient,
		newGen: newGenerator,
	}
	if err := r.UpdateProviders(set); err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateProviders replaces the provider set wholesale. The fallback-active
// flag resets: a fresh configuration starts trusting its primary.
func (r *Router) UpdateProviders(set Set) error {
	if err := set.Validate(); err != nil {
		return err
	}
	primary, err := r.generatorFor(set.Primary)
	if err != nil {
		return err
	}
	var fallback generator
	if set.Fallback != nil {
		fallback, err = r.generatorFor(*set.Fallback)
		if err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.set = set
	r.primary = primary
	r.fallback = fallback
	r.fallbackActive = false
	return nil
}

func (r *Router) generatorFor(cfg Config) (generator, error) {
	newGen := r.newGen
	if newGen == nil {
		newGen = newGenerator
	}
	return newGen(cfg, r.http)
}

// FallbackActive reports whether the last successful generation came from
// the fallback provider.
func (r *Router) FallbackActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fallbackActive
}

// Generate runs one generation. Expected failures come back as errors the
// caller categorizes; Generate itself never panics on provider errors.
func (r *Router) Generate(ctx context.Context, in Input) (*Output, error) {
	r.mu.Lock()
	set := r.set
	primary := r.primary
	fallback := r.fallback
	r.mu.Unlock()

	if primary == nil {
		return nil, errors.New("router: no provider configured")
	}

	candidates, primaryErr := primary.Generate(ctx, in)
	if primaryErr == nil {
		r.noteRecovery(set)
		return &Output{
			Candidates: candidates,
			ProviderID: set.Primary.ProviderID,
			Model:      set.Primary.Model,
		}, nil
	}

	if fallback == nil || set.Fallback == nil {
		return nil, primaryErr
	}
	// Budget already spent: surface the timeout/cancel instead of burning the
	// fallback on a dead context.
	if ctx.Err() != nil {
		return nil, primaryErr
	}

	r.log.Warn("router: primary provider failed, trying fallback",
		"primary", set.Primary.ProviderID,
		"fallback", set.Fallback.ProviderID,
		"error", primaryErr,
	)

	candidates, fallbackErr := fallback.Generate(ctx, in)
	if fallbackErr != nil {
		if r.events.OnAllFailed != nil {
			r.events.OnAllFailed(primaryErr, fallbackErr)
		}
		return nil, &AllFailedError{PrimaryErr: primaryErr, FallbackErr: fallbackErr}
	}

	r.mu.Lock()
	r.fallbackActive = true
	r.mu.Unlock()
	if r.events.OnFallback != nil {
		r.events.OnFallback(set.Primary, *set.Fallback, primaryErr)
	}

	return &Output{
		Candidates:   candidates,
		UsedFallback: true,
		ProviderID:   set.Fallback.ProviderID,
		Model:        set.Fallback.Model,
	}, nil
}

func (r *Router) noteRecovery(set Set) {
	r.mu.Lock()
	wasActive := r.fallbackActive
	r.fallbackActive = false
	r.mu.Unlock()
	if wasActive {
		r.log.Info("router: primary provider recovered", "primary", set.Primary.ProviderID)
		if r.events.OnRecovery != nil {
			r.events.OnRecovery(set.Primary)
		}
	}
}
