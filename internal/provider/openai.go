package provider

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"insightbot/internal/domain"
)

// OpenAI is a Backend for any OpenAI-compatible chat completions endpoint,
// including a LiteLLM gateway fronting other vendors' models.
type OpenAI struct {
	name   string
	client openai.Client
	logger *slog.Logger
}

type OpenAIConfig struct {
	Name       string
	APIKey     string
	APIBase    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retry policy belongs to Client.
		option.WithMaxRetries(0),
	}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &OpenAI{
		name:   cfg.Name,
		client: openai.NewClient(opts...),
		logger: cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return o.name }

// Complete makes a single chat completion call.
func (o *OpenAI) Complete(ctx context.Context, req domain.ChatRequest) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: toOpenAIMessages(req.Messages),
	}
	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &domain.ModelError{Backend: o.name, StatusCode: apiErr.StatusCode, Err: err}
		}
		return "", &domain.ModelError{Backend: o.name, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(msgs []domain.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case domain.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
