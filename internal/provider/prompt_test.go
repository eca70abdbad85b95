package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/replypilot/replypilot-agent/internal/styles"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSplitCandidates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{
			name: "three parts",
			text: "sure, sounds good\n---\nyes, see you then\n---\ncan we do 3pm instead?",
			max:  3,
			want: []string{"sure, sounds good", "yes, see you then", "can we do 3pm instead?"},
		},
		{
			name: "max caps output",
			text: "a\n---\nb\n---\nc",
			max:  2,
			want: []string{"a", "b"},
		},
		{
			name: "empty segments dropped",
			text: "---\n\n---\nonly one\n---\n",
			max:  3,
			want: []string{"only one"},
		},
		{
			name: "multiline candidate preserved",
			text: "line one\nline two\n---\nsecond",
			max:  3,
			want: []string{"line one\nline two", "second"},
		},
		{
			name: "no separator single candidate",
			text: "just a reply",
			max:  3,
			want: []string{"just a reply"},
		},
		{
			name: "hyphenated text not split",
			text: "well -- maybe\n---\nok",
			max:  3,
			want: []string{"well -- maybe", "ok"},
		},
	}
	for _, tc := range cases {
		got := splitCandidates(tc.text, tc.max)
		if len(got) != len(tc.want) {
			t.Fatalf("%s: got %d candidates %q, want %d", tc.name, len(got), got, len(tc.want))
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%s: candidate %d = %q, want %q", tc.name, i, got[i], tc.want[i])
			}
		}
	}
}

func TestBuildPromptsIncludeStyleAndDirection(t *testing.T) {
	t.Parallel()

	in := Input{
		Context: Context{
			ConversationID: "c1",
			IsGroup:        true,
			RecentMessages: []Message{
				{Direction: DirectionOutgoing, Text: "hey, lunch tomorrow?"},
				{Direction: DirectionIncoming, SenderName: "Sam", Text: "maybe, where?"},
			},
			CurrentMessage: Message{Direction: DirectionIncoming, SenderName: "Sam", Text: "so, where?"},
		},
		Style:            styles.Style{ID: "brief", Tone: "minimal", Instructions: "One short sentence.", MaxCandidates: 2},
		ThoughtDirection: ThoughtDecline,
	}

	sys := buildSystemPrompt(in)
	if !strings.Contains(sys, "minimal") {
		t.Fatalf("system prompt missing tone: %q", sys)
	}
	if !strings.Contains(sys, "Produce 2 alternative replies") {
		t.Fatalf("system prompt missing candidate count: %q", sys)
	}
	if !strings.Contains(sys, "group conversation") {
		t.Fatalf("system prompt missing group hint: %q", sys)
	}

	user := buildUserPrompt(in)
	if !strings.Contains(user, "[Sam] so, where?") {
		t.Fatalf("user prompt missing current message: %q", user)
	}
	if !strings.Contains(user, "[me] hey, lunch tomorrow?") {
		t.Fatalf("user prompt missing outgoing transcript line: %q", user)
	}
	if !strings.Contains(user, "politely decline") {
		t.Fatalf("user prompt missing thought direction: %q", user)
	}
}

func TestDirectionHintCustom(t *testing.T) {
	t.Parallel()

	if got := directionHint(ThoughtDirection("custom: say it in French")); got != "say it in French" {
		t.Fatalf("custom hint = %q", got)
	}
	if got := directionHint(ThoughtDirection("bogus")); got != "" {
		t.Fatalf("bogus hint = %q, want empty", got)
	}
}

func TestSkipAnalysisOmitsAnalysisInstruction(t *testing.T) {
	t.Parallel()

	in := testInput()
	in.SkipAnalysis = true
	if strings.Contains(buildSystemPrompt(in), "silently consider") {
		t.Fatalf("analysis instruction present despite SkipAnalysis")
	}
	in.SkipAnalysis = false
	if !strings.Contains(buildSystemPrompt(in), "silently consider") {
		t.Fatalf("analysis instruction missing")
	}
}

func TestCategorize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want Category
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: CategoryTimeout},
		{name: "wrapped deadline", err: errors.Join(errors.New("x"), context.DeadlineExceeded), want: CategoryTimeout},
		{name: "canceled", err: context.Canceled, want: CategoryCanceled},
		{name: "all failed", err: &AllFailedError{PrimaryErr: errors.New("a"), FallbackErr: errors.New("b")}, want: CategoryAllFailed},
		{name: "unauthorized", err: &CallError{ProviderID: IDOpenAI, StatusCode: http.StatusUnauthorized, Err: errors.New("401")}, want: CategoryInvalidCredentials},
		{name: "rate limited", err: &CallError{ProviderID: IDOpenAI, StatusCode: http.StatusTooManyRequests, Err: errors.New("429")}, want: CategoryRateLimited},
		{name: "server error", err: &CallError{ProviderID: IDOpenAI, StatusCode: http.StatusBadGateway, Err: errors.New("502")}, want: CategoryUnavailable},
		{name: "client error", err: &CallError{ProviderID: IDOpenAI, StatusCode: http.StatusUnprocessableEntity, Err: errors.New("422")}, want: CategoryProvider},
		{name: "empty output", err: &CallError{ProviderID: IDOpenAI, Err: ErrEmptyOutput}, want: CategoryProvider},
		{name: "mystery", err: errors.New("???"), want: CategoryUnknown},
	}
	for _, tc := range cases {
		if got := Categorize(tc.err); got != tc.want {
			t.Fatalf("%s: Categorize = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestUserMessageStable(t *testing.T) {
	t.Parallel()

	if UserMessage(CategoryTimeout) != "request timed out" {
		t.Fatalf("timeout message changed")
	}
	if UserMessage(CategoryUnknown) != "generation failed, try again" {
		t.Fatalf("unknown message changed")
	}
}
