package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"insightbot/internal/domain"
)

// Gemini is a Backend for the Gemini API through google.golang.org/genai.
type Gemini struct {
	name       string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	mu     sync.Mutex
	client *genai.Client
}

type GeminiConfig struct {
	Name       string
	APIKey     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.Name == "" {
		cfg.Name = "gemini"
	}
	return &Gemini{
		name:       cfg.Name,
		apiKey:     cfg.APIKey,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

func (g *Gemini) Name() string { return g.name }

// genai needs a context to build its client, so it is created on first use.
func (g *Gemini) genaiClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     g.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g.client = client
	return client, nil
}

func (g *Gemini) Complete(ctx context.Context, req domain.ChatRequest) (string, error) {
	client, err := g.genaiClient(ctx)
	if err != nil {
		return "", &domain.ModelError{Backend: g.name, Err: err}
	}

	contents, system := toGeminiContents(req.Messages)
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if req.JSONMode {
		config.ResponseMIMEType = "application/json"
	}

	result, err := client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return "", &domain.ModelError{Backend: g.name, StatusCode: geminiStatus(err), Err: err}
	}
	if result == nil {
		return "", nil
	}
	return result.Text(), nil
}

func toGeminiContents(msgs []domain.Message) ([]*genai.Content, string) {
	var (
		contents []*genai.Content
		system   []string
	)
	for _, m := range msgs {
		role := "user"
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
			continue
		case domain.RoleAssistant:
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return contents, strings.Join(system, "\n\n")
}

// geminiStatus extracts the HTTP status from a genai error. Quota errors that
// arrive without a typed status are mapped to 429 by their RESOURCE_EXHAUSTED marker.
func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code
	}
	msg := err.Error()
	if strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "429") {
		return http.StatusTooManyRequests
	}
	return 0
}
