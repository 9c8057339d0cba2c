// Package seo answers questions about a site crawl export. The model writes
// a filter or sort directive over the crawl columns, the directive is applied
// to a private view of the table, and the model explains the matching rows.
package seo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"insightbot/internal/domain"
	"insightbot/internal/metrics"
	"insightbot/internal/table"
)

const (
	// UnavailableAnswer is returned for every query when the crawl data
	// could not be loaded.
	UnavailableAnswer = "SEO data is currently unavailable."

	previewRows = 20
	urlLimit    = 10
	urlColumn   = "address"
)

type Config struct {
	FastModel      string
	ReasoningModel string
}

// Agent holds the crawl table loaded at construction. A nil table means the
// load failed; the agent then answers UnavailableAnswer and never retries.
type Agent struct {
	llm     domain.Generator
	table   *table.Table
	cfg     Config
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewAgent loads the crawl table from src once. Load failures are logged and
// leave the agent permanently unavailable.
func NewAgent(ctx context.Context, llm domain.Generator, src table.Source, cfg Config, m *metrics.Collector, logger *slog.Logger) *Agent {
	a := &Agent{llm: llm, cfg: cfg, metrics: m, logger: logger}

	t, err := src.Load(ctx)
	switch {
	case err != nil:
		logger.Error("failed to load SEO data", "error", err)
	case t.Len() == 0:
		logger.Error("failed to load SEO data", "error", "crawl export has no rows")
	default:
		a.table = t
		logger.Info("SEO data loaded", "rows", t.Len(), "columns", len(t.Columns()))
	}
	return a
}

// Available reports whether crawl data was loaded.
func (a *Agent) Available() bool { return a.table != nil }

// Process answers query from the crawl data. Model failures are returned as
// errors; a directive that cannot be applied degrades to the first rows.
func (a *Agent) Process(ctx context.Context, query string) (*domain.AgentResponse, error) {
	if a.table == nil {
		return &domain.AgentResponse{
			Answer: UnavailableAnswer,
			Data: map[string]any{
				"count":    0,
				"urls":     []string{},
				"strategy": "",
				"error":    domain.ErrDataUnavailable.Error(),
			},
			AgentUsed: domain.AgentSEO,
		}, nil
	}

	reply, err := a.llm.Generate(ctx, domain.ChatRequest{
		Model:    a.cfg.FastModel,
		Messages: []domain.Message{domain.UserMessage(planPrompt(query, a.table.Columns()))},
	})
	if err != nil {
		return nil, fmt.Errorf("infer SEO filter: %w", err)
	}
	directive := table.CleanDirective(reply)

	plan := table.ParsePlan(directive, a.table)
	view, err := plan.Apply(a.table)
	if err != nil {
		a.logger.Warn("filter application failed", "directive", directive, "error", err)
		a.metrics.IncFilterFallback(fallbackReason(plan))
	} else if plan.Reason != "" {
		a.logger.Info("filter skipped", "directive", directive, "reason", plan.Reason)
	}

	count := view.Len()
	urls := view.Strings(urlColumn, urlLimit)
	preview, err := json.Marshal(view.Records(previewRows))
	if err != nil {
		return nil, fmt.Errorf("encode SEO preview: %w", err)
	}

	answer, err := a.llm.Generate(ctx, domain.ChatRequest{
		Model:    a.cfg.ReasoningModel,
		Messages: []domain.Message{domain.UserMessage(explainPrompt(query, directive, count, string(preview)))},
	})
	if err != nil {
		return nil, fmt.Errorf("explain SEO result: %w", err)
	}

	return &domain.AgentResponse{
		Answer: answer,
		Data: map[string]any{
			"count":    count,
			"urls":     urls,
			"strategy": directive,
		},
		AgentUsed: domain.AgentSEO,
	}, nil
}

func fallbackReason(p table.Plan) string {
	if p.Kind == table.PlanFallback {
		return "parse"
	}
	return "eval"
}

func planPrompt(query string, columns []string) string {
	return fmt.Sprintf(`You are an SEO analyst working with a crawl table.
The table has columns: %s

User question: %q

Instructions:
1. If the user mainly wants to filter rows (e.g. "pages with X", "URLs with Y"),
   return a boolean row predicate over the column names.
   Example: title_1_length > 60 and protocol != "https"
   Use and, or, not, ==, !=, <, <=, >, >=, contains, startsWith and endsWith.
2. If the user asks for "top X pages by Y", return exactly:
   SORT_BY: <column_name> TOP <n>
3. If no filtering is needed, return: none

Return ONLY the string, no code blocks.`, strings.Join(columns, ", "), query)
}

func explainPrompt(query, directive string, count int, preview string) string {
	if directive == "" {
		directive = "none"
	}
	return fmt.Sprintf(`Answer the SEO question based on the filtered data.

Question: %q

Filter logic used: %s
Matched rows: %d

Data preview:
%s

Be factual, concise, and mention specific URLs if relevant.`, query, directive, count, preview)
}

