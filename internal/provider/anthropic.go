package provider

import (
	"context"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/replypilot/replypilot-agent/internal/httpx"
)

type anthropicGenerator struct {
	client anthropic.Client
	cfg    Config
}

func newAnthropicGenerator(cfg Config, httpClient *httpx.Client) *anthropicGenerator {
	opts := []aoption.RequestOption{
		aoption.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		aoption.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, aoption.WithBaseURL(strings.TrimSpace(cfg.BaseURL)))
	}
	if httpClient != nil {
		opts = append(opts, aoption.WithHTTPClient(httpClient))
	}
	return &anthropicGenerator{client: anthropic.NewClient(opts...), cfg: cfg}
}

func (g *anthropicGenerator) Generate(ctx context.Context, in Input) ([]string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(strings.TrimSpace(g.cfg.Model)),
		MaxTokens: generateMaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: buildSystemPrompt(in)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildUserPrompt(in))),
		},
		Temperature: anthropic.Float(generateTemperature),
	}

	msg, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return nil, &CallError{ProviderID: g.cfg.ProviderID, Model: g.cfg.Model, StatusCode: statusCode(err), Err: err}
	}

	var b strings.Builder
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			b.WriteString(v.Text)
		}
	}
	candidates := splitCandidates(b.String(), in.Style.MaxCandidates)
	if len(candidates) == 0 {
		return nil, &CallError{ProviderID: g.cfg.ProviderID, Model: g.cfg.Model, Err: ErrEmptyOutput}
	}
	return candidates, nil
}
