package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"insightbot/internal/domain"
)

// Router classifies incoming queries into an Intent using the fast model.
type Router struct {
	llm    domain.Generator
	model  string
	logger *slog.Logger
}

func NewRouter(llm domain.Generator, model string, logger *slog.Logger) *Router {
	return &Router{llm: llm, model: model, logger: logger}
}

// Classify asks the model for the query's intent. Replies that name no
// category default to IntentAnalytics; only model failures are errors.
func (r *Router) Classify(ctx context.Context, query string) (domain.Intent, error) {
	reply, err := r.llm.Generate(ctx, domain.ChatRequest{
		Model:    r.model,
		Messages: []domain.Message{domain.UserMessage(intentPrompt(query))},
	})
	if err != nil {
		return "", fmt.Errorf("classify intent: %w", err)
	}

	intent := ParseIntent(reply)
	r.logger.Debug("router classified query", "intent", intent, "reply", reply)
	return intent, nil
}

// ParseIntent maps a model reply onto the closed Intent set. An exact
// category match wins; otherwise the reply is searched for BOTH, then SEO,
// then ANALYTICS is assumed.
func ParseIntent(reply string) domain.Intent {
	upper := strings.ToUpper(strings.TrimSpace(reply))
	upper = strings.Trim(upper, "`\"'.* ")

	switch domain.Intent(upper) {
	case domain.IntentAnalytics, domain.IntentSEO, domain.IntentBoth:
		return domain.Intent(upper)
	}

	switch {
	case strings.Contains(upper, string(domain.IntentBoth)):
		return domain.IntentBoth
	case strings.Contains(upper, string(domain.IntentSEO)):
		return domain.IntentSEO
	default:
		return domain.IntentAnalytics
	}
}

func intentPrompt(query string) string {
	return fmt.Sprintf(`Classify the intent of this query into one category only:
ANALYTICS
SEO
BOTH

ANALYTICS: traffic, users, sessions, page views, events from Google Analytics.
SEO: crawl data such as URLs, titles, meta descriptions, status codes, indexability.
BOTH: questions that need traffic numbers and crawl data together.

Query: %q

Reply with the category name only.`, query)
}
