package provider

import (
	"context"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"

	"github.com/replypilot/replypilot-agent/internal/httpx"
)

const (
	generateMaxTokens   = 1024
	generateTemperature = 0.8
)

type openAIGenerator struct {
	client openai.Client
	cfg    Config
}

func newOpenAIGenerator(cfg Config, httpClient *httpx.Client) *openAIGenerator {
	opts := []ooption.RequestOption{
		ooption.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		// Retries are owned by httpx; keep the SDK's own retry loop off.
		ooption.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, ooption.WithBaseURL(strings.TrimSpace(cfg.BaseURL)))
	}
	if httpClient != nil {
		opts = append(opts, ooption.WithHTTPClient(httpClient))
	}
	return &openAIGenerator{client: openai.NewClient(opts...), cfg: cfg}
}

func (g *openAIGenerator) Generate(ctx context.Context, in Input) ([]string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(strings.TrimSpace(g.cfg.Model)),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(buildSystemPrompt(in)),
			openai.UserMessage(buildUserPrompt(in)),
		},
		MaxTokens:   openai.Int(generateMaxTokens),
		Temperature: openai.Float(generateTemperature),
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, &CallError{ProviderID: g.cfg.ProviderID, Model: g.cfg.Model, StatusCode: statusCode(err), Err: err}
	}

	var text string
	for _, choice := range resp.Choices {
		if t := strings.TrimSpace(choice.Message.Content); t != "" {
			text = t
			break
		}
	}
	candidates := splitCandidates(text, in.Style.MaxCandidates)
	if len(candidates) == 0 {
		return nil, &CallError{ProviderID: g.cfg.ProviderID, Model: g.cfg.Model, Err: ErrEmptyOutput}
	}
	return candidates, nil
}
