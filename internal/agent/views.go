package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/replypilot/replypilot-agent/internal/provider"
	"github.com/replypilot/replypilot-agent/internal/store"
	"github.com/replypilot/replypilot-agent/internal/suggest"
)

// viewState mirrors what the content script last reported about one
// conversation view. It satisfies suggest.PageAdapter: the engine asks it
// synchronously, so reads never reach back into the browser.
type viewState struct {
	mu                sync.Mutex
	ctx               *provider.Context
	inputAvailable    bool
	identityAvailable bool
}

func (v *viewState) update(ctx *provider.Context, inputAvailable, identityAvailable bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ctx = ctx
	v.inputAvailable = inputAvailable
	v.identityAvailable = identityAvailable
}

func (v *viewState) ResolveContext() (*provider.Context, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.identityAvailable || v.ctx == nil || v.ctx.ConversationID == "" {
		return nil, false
	}
	c := *v.ctx
	return &c, true
}

func (v *viewState) InputAvailable() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.inputAvailable
}

func (v *viewState) IdentityAvailable() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.identityAvailable
}

func (v *viewState) conversationID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ctx == nil {
		return ""
	}
	return v.ctx.ConversationID
}

// viewSink delivers engine outcomes for one view: a push to the extension
// and a history row. Candidate text goes only over the wire, never to disk.
type viewSink struct {
	agent  *Agent
	viewID string
}

func (s *viewSink) PublishCandidates(res suggest.Result) {
	s.agent.srv.PushEvent("suggestion_candidates", s.viewID, res)
	s.agent.persistSuggestion(store.Suggestion{
		ConversationID: res.ConversationID,
		Source:         string(res.Source),
		ProviderID:     res.ProviderID,
		Model:          res.Model,
		UsedFallback:   res.UsedFallback,
		CandidateCount: len(res.Candidates),
	})
}

func (s *viewSink) PublishError(src suggest.Source, category provider.Category, message string) {
	s.agent.srv.PushEvent("suggestion_error", s.viewID, map[string]any{
		"source":   string(src),
		"category": string(category),
		"message":  message,
	})
	conversationID := s.agent.viewStateFor(s.viewID).conversationID()
	if conversationID == "" {
		return
	}
	s.agent.persistSuggestion(store.Suggestion{
		ConversationID: conversationID,
		Source:         string(src),
		ErrorCategory:  string(category),
	})
}

// persistSuggestion writes a history row off the engine loop; sinks must not
// block.
func (a *Agent) persistSuggestion(sg store.Suggestion) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := a.db.InsertSuggestion(ctx, sg); err != nil {
			a.log.Warn("agent: persist suggestion failed", "conversation_id", sg.ConversationID, "error", err)
		}
	}()
}

// storePrefs adapts the sqlite store to suggest.Prefs.
type storePrefs struct {
	log *slog.Logger
	db  *store.Store
}

func (p *storePrefs) ConversationPrefs(conversationID string) (bool, string, provider.ThoughtDirection, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cp, err := p.db.GetConversationPrefs(ctx, conversationID)
	if err != nil {
		p.log.Warn("agent: load conversation prefs failed", "conversation_id", conversationID, "error", err)
		return false, "", "", false
	}
	if cp == nil {
		return false, "", "", false
	}
	return cp.AutoEnabled, cp.StyleID, provider.ThoughtDirection(cp.ThoughtDirection), true
}
