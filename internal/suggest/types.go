// Package suggest hosts the per-conversation-view suggestion engine: it
// decides when to request a reply generation, keeps at most one generation in
// flight per conversation epoch, discards stale results, and trips circuit
// breakers when the page integration or the auto-reply path misbehaves.
package suggest

import (
	"context"
	"time"

	"github.com/replypilot/replypilot-agent/internal/provider"
)

// Source distinguishes user-initiated generations from autonomous ones.
type Source string

const (
	SourceManual Source = "manual"
	SourceAuto   Source = "auto"
)

// Request describes one generation trigger. At most one request is queued
// behind an in-flight generation; the newest overwrites any older queued one.
type Request struct {
	ThoughtDirection provider.ThoughtDirection
	SkipAnalysis     bool
	StyleID          string
	Source           Source
}

// InboundMessage is a new message observed on the chat surface, direction
// already classified by the watcher.
type InboundMessage struct {
	ID         string
	Direction  provider.Direction
	Text       string
	SenderName string
	Timestamp  time.Time
}

// PageAdapter is the narrow collaborator interface into the page
// integration. All methods are synchronous and must be cheap; they are
// called from the engine loop.
type PageAdapter interface {
	// ResolveContext returns the current conversation snapshot, or ok=false
	// when identity or message context cannot be resolved right now.
	ResolveContext() (ctx *provider.Context, ok bool)
	// InputAvailable reports whether a reply input element is resolvable.
	InputAvailable() bool
	// IdentityAvailable reports whether conversation identity is resolvable.
	IdentityAvailable() bool
}

// Generator is the boundary to the provider layer. *provider.Router
// satisfies it.
type Generator interface {
	Generate(ctx context.Context, in provider.Input) (*provider.Output, error)
}

// Result is a successful generation as published to the UI.
type Result struct {
	ConversationID string   `json:"conversation_id"`
	Source         Source   `json:"source"`
	Candidates     []string `json:"candidates"`
	UsedFallback   bool     `json:"used_fallback"`
	ProviderID     string   `json:"provider_id"`
	Model          string   `json:"model"`
}

// Sink receives user-visible outcomes. Implementations must not block; the
// engine loop calls them directly.
type Sink interface {
	PublishCandidates(res Result)
	PublishError(src Source, category provider.Category, message string)
}

// Event is a fire-and-forget observability record: flat primitives only.
type Event struct {
	Kind           string         `json:"kind"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Detail         map[string]any `json:"detail,omitempty"`
}

// Event kinds emitted by the engine.
const (
	EventAdapterHealth    = "adapter_health"
	EventAdapterOpen      = "adapter_breaker_open"
	EventAdapterClosed    = "adapter_breaker_closed"
	EventCooldownActive   = "auto_cooldown_activated"
	EventCooldownCleared  = "auto_cooldown_cleared"
	EventCooldownExpired  = "auto_cooldown_expired"
	EventGenerationResult = "generation_result"
)
