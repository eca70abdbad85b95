package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/replypilot/replypilot-agent/internal/bridge"
	"github.com/replypilot/replypilot-agent/internal/provider"
	"github.com/replypilot/replypilot-agent/internal/store"
	"github.com/replypilot/replypilot-agent/internal/suggest"
)

func (a *Agent) registerHandlers() {
	a.srv.Handle("context_update", a.handleContextUpdate)
	a.srv.Handle("inbound_message", a.handleInboundMessage)
	a.srv.Handle("conversation_changed", a.handleConversationChanged)
	a.srv.Handle("generate", a.handleGenerate)
	a.srv.Handle("set_auto", a.handleSetAuto)
	a.srv.Handle("set_prefs", a.handleSetPrefs)
	a.srv.Handle("get_status", a.handleGetStatus)
	a.srv.Handle("list_styles", a.handleListStyles)
	a.srv.Handle("list_history", a.handleListHistory)
	a.srv.Handle("view_closed", a.handleViewClosed)
}

// wireMessage is a chat message as the content script reports it.
type wireMessage struct {
	ID          string `json:"id"`
	Direction   string `json:"direction"`
	Text        string `json:"text"`
	SenderName  string `json:"sender_name,omitempty"`
	TimestampMs int64  `json:"timestamp_ms"`
}

func (m wireMessage) toProvider() provider.Message {
	return provider.Message{
		ID:         m.ID,
		Direction:  parseDirection(m.Direction),
		Text:       m.Text,
		SenderName: m.SenderName,
		Timestamp:  time.UnixMilli(m.TimestampMs),
	}
}

func parseDirection(s string) provider.Direction {
	if strings.EqualFold(strings.TrimSpace(s), string(provider.DirectionOutgoing)) {
		return provider.DirectionOutgoing
	}
	return provider.DirectionIncoming
}

type wireContext struct {
	ConversationID string        `json:"conversation_id"`
	AccountID      string        `json:"account_id,omitempty"`
	IsGroup        bool          `json:"is_group"`
	RecentMessages []wireMessage `json:"recent_messages,omitempty"`
	CurrentMessage wireMessage   `json:"current_message"`
}

func (c wireContext) toProvider() *provider.Context {
	pc := &provider.Context{
		ConversationID: c.ConversationID,
		AccountID:      c.AccountID,
		IsGroup:        c.IsGroup,
		CurrentMessage: c.CurrentMessage.toProvider(),
	}
	for _, m := range c.RecentMessages {
		pc.RecentMessages = append(pc.RecentMessages, m.toProvider())
	}
	return pc
}

func invalidRequest(format string, args ...any) *bridge.RequestError {
	return &bridge.RequestError{Category: "invalid_request", Message: fmt.Sprintf(format, args...)}
}

func decodePayload(req bridge.Request, v any) error {
	if len(req.Payload) == 0 {
		return invalidRequest("missing payload")
	}
	if err := json.Unmarshal(req.Payload, v); err != nil {
		return invalidRequest("invalid payload: %v", err)
	}
	return nil
}

// engineFor resolves the view's engine, creating it on first use.
func (a *Agent) engineFor(req bridge.Request) (*suggest.Engine, error) {
	if strings.TrimSpace(req.ViewID) == "" {
		return nil, invalidRequest("missing view_id")
	}
	eng, err := a.engines.Get(req.ViewID)
	if err != nil {
		return nil, err
	}
	return eng, nil
}

// handleContextUpdate replaces the view's page snapshot. The content script
// sends one after every DOM settle, so this is the hottest handler.
func (a *Agent) handleContextUpdate(ctx context.Context, req bridge.Request) (any, error) {
	var p struct {
		InputAvailable    bool         `json:"input_available"`
		IdentityAvailable bool         `json:"identity_available"`
		Context           *wireContext `json:"context,omitempty"`
	}
	if err := decodePayload(req, &p); err != nil {
		return nil, err
	}
	if _, err := a.engineFor(req); err != nil {
		return nil, err
	}

	var pc *provider.Context
	if p.Context != nil {
		pc = p.Context.toProvider()
	}
	a.viewStateFor(req.ViewID).update(pc, p.InputAvailable, p.IdentityAvailable)
	return nil, nil
}

// handleInboundMessage feeds a newly observed message to the view's engine.
// Dedup is two-layered: the store survives agent restarts, the engine's seen
// set covers the common case without touching disk.
func (a *Agent) handleInboundMessage(ctx context.Context, req bridge.Request) (any, error) {
	var p struct {
		Message wireMessage `json:"message"`
	}
	if err := decodePayload(req, &p); err != nil {
		return nil, err
	}
	eng, err := a.engineFor(req)
	if err != nil {
		return nil, err
	}

	msg := p.Message.toProvider()
	if msg.Direction == provider.DirectionIncoming && msg.ID != "" {
		conversationID := a.viewStateFor(req.ViewID).conversationID()
		if conversationID == "" {
			conversationID = req.ViewID
		}
		first, err := a.db.MarkMessageSeen(ctx, conversationID, msg.ID)
		if err != nil {
			a.log.Warn("agent: message dedup failed", "message_id", msg.ID, "error", err)
		} else if !first {
			return map[string]any{"accepted": false, "duplicate": true}, nil
		}
	}

	eng.OnInboundMessage(suggest.InboundMessage{
		ID:         msg.ID,
		Direction:  msg.Direction,
		Text:       msg.Text,
		SenderName: msg.SenderName,
		Timestamp:  msg.Timestamp,
	})
	return map[string]any{"accepted": true}, nil
}

func (a *Agent) handleConversationChanged(ctx context.Context, req bridge.Request) (any, error) {
	eng, err := a.engineFor(req)
	if err != nil {
		return nil, err
	}
	eng.ConversationChanged()
	return nil, nil
}

func (a *Agent) handleGenerate(ctx context.Context, req bridge.Request) (any, error) {
	var p struct {
		ThoughtDirection string `json:"thought_direction,omitempty"`
		SkipAnalysis     bool   `json:"skip_analysis,omitempty"`
		StyleID          string `json:"style_id,omitempty"`
	}
	if len(req.Payload) > 0 {
		if err := decodePayload(req, &p); err != nil {
			return nil, err
		}
	}
	eng, err := a.engineFor(req)
	if err != nil {
		return nil, err
	}
	eng.RequestGeneration(suggest.Request{
		ThoughtDirection: provider.ThoughtDirection(p.ThoughtDirection),
		SkipAnalysis:     p.SkipAnalysis,
		StyleID:          p.StyleID,
		Source:           suggest.SourceManual,
	})
	// Result arrives later as a suggestion_candidates or suggestion_error
	// event; the response only acknowledges the trigger.
	return map[string]any{"accepted": true}, nil
}

func (a *Agent) handleSetAuto(ctx context.Context, req bridge.Request) (any, error) {
	var p struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodePayload(req, &p); err != nil {
		return nil, err
	}
	eng, err := a.engineFor(req)
	if err != nil {
		return nil, err
	}
	eng.SetAutoEnabled(p.Enabled)
	return map[string]any{"auto_enabled": p.Enabled}, nil
}

func (a *Agent) handleSetPrefs(ctx context.Context, req bridge.Request) (any, error) {
	var p struct {
		ConversationID   string `json:"conversation_id"`
		AutoEnabled      bool   `json:"auto_enabled"`
		StyleID          string `json:"style_id,omitempty"`
		ThoughtDirection string `json:"thought_direction,omitempty"`
	}
	if err := decodePayload(req, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.ConversationID) == "" {
		return nil, invalidRequest("missing conversation_id")
	}
	prefs := store.ConversationPrefs{
		ConversationID:   p.ConversationID,
		AutoEnabled:      p.AutoEnabled,
		StyleID:          p.StyleID,
		ThoughtDirection: p.ThoughtDirection,
	}
	if err := a.db.SetConversationPrefs(ctx, prefs); err != nil {
		return nil, err
	}
	return prefs, nil
}

func (a *Agent) handleGetStatus(ctx context.Context, req bridge.Request) (any, error) {
	eng, err := a.engineFor(req)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"engine":          eng.Status(),
		"fallback_active": a.router.FallbackActive(),
		"system":          a.mon.Snapshot(ctx),
		"version":         a.version,
	}, nil
}

func (a *Agent) handleListStyles(ctx context.Context, req bridge.Request) (any, error) {
	return map[string]any{"styles": a.styles}, nil
}

func (a *Agent) handleListHistory(ctx context.Context, req bridge.Request) (any, error) {
	var p struct {
		ConversationID string `json:"conversation_id"`
		Limit          int    `json:"limit,omitempty"`
		BeforeID       int64  `json:"before_id,omitempty"`
	}
	if err := decodePayload(req, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.ConversationID) == "" {
		return nil, invalidRequest("missing conversation_id")
	}
	entries, nextBeforeID, hasMore, err := a.db.ListSuggestions(ctx, p.ConversationID, p.Limit, p.BeforeID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"entries":        entries,
		"next_before_id": nextBeforeID,
		"has_more":       hasMore,
	}, nil
}

func (a *Agent) handleViewClosed(ctx context.Context, req bridge.Request) (any, error) {
	if strings.TrimSpace(req.ViewID) == "" {
		return nil, invalidRequest("missing view_id")
	}
	a.engines.Remove(req.ViewID)
	a.dropViewState(req.ViewID)
	return nil, nil
}
