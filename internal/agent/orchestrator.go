package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"insightbot/internal/domain"
	"insightbot/internal/metrics"
)

const (
	MissingPropertyAnalytics = "A GA4 propertyId is required for analytics queries."
	MissingPropertyCross     = "A GA4 propertyId is required for cross analysis."
)

// Classifier decides which agent(s) answer a query.
type Classifier interface {
	Classify(ctx context.Context, query string) (domain.Intent, error)
}

type AnalyticsAgent interface {
	Process(ctx context.Context, propertyID, query string) (*domain.AgentResponse, error)
}

type SEOAgent interface {
	Process(ctx context.Context, query string) (*domain.AgentResponse, error)
}

// Orchestrator routes each query to the analytics agent, the SEO agent, or
// both, and combines the two results for cross-domain questions.
type Orchestrator struct {
	classifier     Classifier
	analytics      AnalyticsAgent
	seo            SEOAgent
	llm            domain.Generator
	reasoningModel string
	metrics        *metrics.Collector
	logger         *slog.Logger
}

// OrchestratorConfig configures the orchestrator.
type OrchestratorConfig struct {
	Classifier     Classifier
	Analytics      AnalyticsAgent
	SEO            SEOAgent
	LLM            domain.Generator
	ReasoningModel string
	Metrics        *metrics.Collector
	Logger         *slog.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		classifier:     cfg.Classifier,
		analytics:      cfg.Analytics,
		seo:            cfg.SEO,
		llm:            cfg.LLM,
		reasoningModel: cfg.ReasoningModel,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
	}
}

// RouteRequest answers query. The property check runs as soon as the intent
// is known, so a query without a property never reaches an agent.
func (o *Orchestrator) RouteRequest(ctx context.Context, propertyID, query string) (*domain.AgentResponse, error) {
	start := time.Now()

	intent, err := o.classifier.Classify(ctx, query)
	if err != nil {
		return nil, err
	}
	o.logger.Info("intent detected", "intent", intent)

	resp, err := o.dispatch(ctx, intent, propertyID, query)
	if err != nil {
		return nil, err
	}

	o.metrics.ObserveQuery(string(intent), resp.AgentUsed, time.Since(start))
	o.logger.Info("query answered",
		"intent", intent,
		"agent", resp.AgentUsed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, intent domain.Intent, propertyID, query string) (*domain.AgentResponse, error) {
	switch intent {
	case domain.IntentSEO:
		return o.seo.Process(ctx, query)
	case domain.IntentBoth:
		if propertyID == "" {
			return systemResponse(MissingPropertyCross), nil
		}
		return o.combine(ctx, propertyID, query)
	default:
		if propertyID == "" {
			return systemResponse(MissingPropertyAnalytics), nil
		}
		return o.analytics.Process(ctx, propertyID, query)
	}
}

// combine runs both agents concurrently and makes one synthesis call over
// their data payloads.
func (o *Orchestrator) combine(ctx context.Context, propertyID, query string) (*domain.AgentResponse, error) {
	var analyticsResp, seoResp *domain.AgentResponse

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resp, err := o.analytics.Process(gctx, propertyID, query)
		if err != nil {
			return fmt.Errorf("analytics agent: %w", err)
		}
		analyticsResp = resp
		return nil
	})
	g.Go(func() error {
		resp, err := o.seo.Process(gctx, query)
		if err != nil {
			return fmt.Errorf("seo agent: %w", err)
		}
		seoResp = resp
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	prompt, err := synthesisPrompt(query, analyticsResp.Data, seoResp.Data)
	if err != nil {
		return nil, err
	}
	answer, err := o.llm.Generate(ctx, domain.ChatRequest{
		Model:    o.reasoningModel,
		Messages: []domain.Message{domain.UserMessage(prompt)},
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize answer: %w", err)
	}

	return &domain.AgentResponse{
		Answer: answer,
		Data: map[string]any{
			"analytics": analyticsResp.Data,
			"seo":       seoResp.Data,
		},
		AgentUsed: domain.AgentOrchestrator,
	}, nil
}

func systemResponse(answer string) *domain.AgentResponse {
	return &domain.AgentResponse{Answer: answer, AgentUsed: domain.AgentSystem}
}

func synthesisPrompt(query string, analytics, seo map[string]any) (string, error) {
	a, err := json.MarshalIndent(analytics, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode analytics data: %w", err)
	}
	s, err := json.MarshalIndent(seo, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode seo data: %w", err)
	}
	return fmt.Sprintf(`Combine analytics and SEO insights.

Analytics:
%s

SEO:
%s

User Question:
%q`, a, s, query), nil
}
