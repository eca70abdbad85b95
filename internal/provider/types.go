// Package provider routes reply-generation calls to a primary LLM provider
// with automatic fallback and recovery detection.
package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/replypilot/replypilot-agent/internal/styles"
)

// Provider ids. "openai_compatible" covers any gateway speaking the OpenAI
// chat-completions protocol at a custom base URL.
const (
	IDOpenAI           = "openai"
	IDOpenAICompatible = "openai_compatible"
	IDAnthropic        = "anthropic"
)

// Config identifies one provider endpoint. Immutable once handed to the
// router; settings updates replace the whole Set.
type Config struct {
	ProviderID string `json:"provider_id"`
	APIKey     string `json:"api_key,omitempty"`
	Model      string `json:"model"`
	BaseURL    string `json:"base_url,omitempty"`
}

func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.ProviderID)) {
	case IDOpenAI, IDAnthropic:
	case IDOpenAICompatible:
		if strings.TrimSpace(c.BaseURL) == "" {
			return errors.New("openai_compatible provider requires base_url")
		}
	default:
		return fmt.Errorf("unsupported provider id %q", c.ProviderID)
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("missing model")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("missing api key")
	}
	return nil
}

// Set is a primary provider plus an optional fallback.
type Set struct {
	Primary  Config  `json:"primary"`
	Fallback *Config `json:"fallback,omitempty"`
}

func (s Set) Validate() error {
	if err := s.Primary.Validate(); err != nil {
		return fmt.Errorf("primary: %w", err)
	}
	if s.Fallback != nil {
		if err := s.Fallback.Validate(); err != nil {
			return fmt.Errorf("fallback: %w", err)
		}
	}
	return nil
}

// Direction classifies a chat message relative to the local user.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Message is one chat message as extracted by the page adapter.
type Message struct {
	ID         string    `json:"id"`
	Direction  Direction `json:"direction"`
	Text       string    `json:"text"`
	SenderName string    `json:"sender_name,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Context is the conversation snapshot a generation runs against.
type Context struct {
	ConversationID string    `json:"conversation_id"`
	AccountID      string    `json:"account_id,omitempty"`
	IsGroup        bool      `json:"is_group"`
	RecentMessages []Message `json:"recent_messages,omitempty"`
	CurrentMessage Message   `json:"current_message"`
}

// ThoughtDirection steers the stance of the generated replies.
type ThoughtDirection string

const (
	ThoughtAgree       ThoughtDirection = "agree"
	ThoughtDecline     ThoughtDirection = "decline"
	ThoughtAskQuestion ThoughtDirection = "ask_question"
	ThoughtDefer       ThoughtDirection = "defer"
	// ThoughtCustomPrefix marks a free-form direction: "custom:<text>".
	ThoughtCustomPrefix = "custom:"
)

// Input is everything a single generation call needs.
type Input struct {
	Context          Context
	Style            styles.Style
	ThoughtDirection ThoughtDirection
	SkipAnalysis     bool
}

// Output is the result of a routed generation.
type Output struct {
	Candidates   []string `json:"candidates"`
	UsedFallback bool     `json:"used_fallback"`
	ProviderID   string   `json:"provider_id"`
	Model        string   `json:"model"`
}
