package provider

import (
	"fmt"
	"strings"
)

// candidateSeparator is the line the model is told to put between
// alternatives. Kept provider-agnostic so both SDK paths parse identically.
const candidateSeparator = "---"

func buildSystemPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("You draft reply candidates the user can send in a chat conversation. ")
	b.WriteString("Write in the user's voice, in the language of the conversation. ")
	b.WriteString("Never mention being an assistant and never address the user.\n\n")

	style := in.Style
	if strings.TrimSpace(style.Tone) != "" {
		fmt.Fprintf(&b, "Tone: %s.\n", strings.TrimSpace(style.Tone))
	}
	if strings.TrimSpace(style.Instructions) != "" {
		b.WriteString(strings.TrimSpace(style.Instructions))
		b.WriteString("\n")
	}
	if in.Context.IsGroup {
		b.WriteString("This is a group conversation; only reply when the latest message concerns the user.\n")
	}
	if !in.SkipAnalysis {
		b.WriteString("Before drafting, silently consider the sender's tone and intent; do not include the analysis in the output.\n")
	}

	n := style.MaxCandidates
	if n <= 0 {
		n = 3
	}
	fmt.Fprintf(&b, "\nProduce %d alternative replies. Output only the replies, separated by a line containing exactly %q. No numbering, no commentary.", n, candidateSeparator)
	return b.String()
}

func buildUserPrompt(in Input) string {
	var b strings.Builder

	if len(in.Context.RecentMessages) > 0 {
		b.WriteString("Recent messages:\n")
		for _, m := range in.Context.RecentMessages {
			writeTranscriptLine(&b, m)
		}
		b.WriteString("\n")
	}
	b.WriteString("Message to reply to:\n")
	writeTranscriptLine(&b, in.Context.CurrentMessage)

	if d := directionHint(in.ThoughtDirection); d != "" {
		b.WriteString("\nDirection for the reply: ")
		b.WriteString(d)
		b.WriteString("\n")
	}
	return b.String()
}

func writeTranscriptLine(b *strings.Builder, m Message) {
	who := strings.TrimSpace(m.SenderName)
	if who == "" {
		if m.Direction == DirectionOutgoing {
			who = "me"
		} else {
			who = "them"
		}
	}
	fmt.Fprintf(b, "[%s] %s\n", who, strings.TrimSpace(m.Text))
}

func directionHint(d ThoughtDirection) string {
	switch d {
	case "":
		return ""
	case ThoughtAgree:
		return "agree with the sender"
	case ThoughtDecline:
		return "politely decline"
	case ThoughtAskQuestion:
		return "ask a clarifying question"
	case ThoughtDefer:
		return "defer the decision to later"
	}
	if rest, ok := strings.CutPrefix(string(d), ThoughtCustomPrefix); ok {
		return strings.TrimSpace(rest)
	}
	return ""
}

// splitCandidates parses the model output into at most max trimmed,
// non-empty candidates. Alternatives are delimited by lines containing only
// the separator.
func splitCandidates(text string, max int) []string {
	if max <= 0 {
		max = 3
	}
	out := make([]string, 0, max)
	var cur []string
	flush := func() {
		c := strings.TrimSpace(strings.Join(cur, "\n"))
		cur = cur[:0]
		if c != "" && len(out) < max {
			out = append(out, c)
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == candidateSeparator {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return out
}
