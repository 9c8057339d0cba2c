// Package analytics answers GA4 questions: the model extracts a report
// schema, the schema is checked against an allow-list, the report runs
// against a MetricsService, and the model explains the rows.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"insightbot/internal/domain"
)

const (
	// NoDataAnswer is returned without a model call when a report is empty.
	NoDataAnswer = "No data found for this period."

	explainRowLimit = 20
)

// Config holds the models and allow-list an Agent works with.
type Config struct {
	FastModel      string
	ReasoningModel string
	Allow          AllowList
}

type Agent struct {
	llm     domain.Generator
	service MetricsService
	cfg     Config
	logger  *slog.Logger
}

func NewAgent(llm domain.Generator, service MetricsService, cfg Config, logger *slog.Logger) *Agent {
	return &Agent{llm: llm, service: service, cfg: cfg, logger: logger}
}

// Process answers query for the given GA4 property. Requests the agent cannot
// turn into a valid report come back as a user-facing answer; model and
// metrics-service failures are returned as errors.
func (a *Agent) Process(ctx context.Context, propertyID, query string) (*domain.AgentResponse, error) {
	schema, err := a.inferSchema(ctx, query)
	if err == nil {
		err = a.cfg.Allow.Validate(schema)
	}
	if err != nil {
		if answer, ok := a.userFacing(err); ok {
			a.logger.Warn("analytics request rejected", "query", query, "error", err)
			return &domain.AgentResponse{
				Answer:    answer,
				Data:      map[string]any{"error": err.Error()},
				AgentUsed: domain.AgentAnalytics,
			}, nil
		}
		return nil, err
	}

	rows, err := a.execute(ctx, propertyID, schema)
	if err != nil {
		return nil, err
	}

	answer, err := a.explain(ctx, query, rows)
	if err != nil {
		return nil, err
	}
	return &domain.AgentResponse{
		Answer:    answer,
		Data:      map[string]any{"rows": rows, "schema": schema},
		AgentUsed: domain.AgentAnalytics,
	}, nil
}

func (a *Agent) userFacing(err error) (string, bool) {
	switch {
	case errors.Is(err, domain.ErrSchemaInference):
		return "Sorry, I could not understand that analytics request. Try naming a metric and a time range.", true
	case errors.Is(err, domain.ErrNoValidMetrics):
		return "I couldn't find a supported GA4 metric in that question. Supported metrics: " +
			strings.Join(a.cfg.Allow.Metrics, ", ") + ".", true
	}
	return "", false
}

func (a *Agent) inferSchema(ctx context.Context, query string) (*QuerySchema, error) {
	reply, err := a.llm.Generate(ctx, domain.ChatRequest{
		Model:    a.cfg.FastModel,
		Messages: []domain.Message{domain.UserMessage(schemaPrompt(query, a.cfg.Allow))},
		JSONMode: true,
	})
	if err != nil {
		return nil, fmt.Errorf("infer analytics schema: %w", err)
	}
	schema, err := ParseSchema(reply)
	if err != nil {
		a.logger.Error("analytics schema parsing failed", "reply", truncate(reply, 200))
		return nil, err
	}
	return schema, nil
}

func (a *Agent) execute(ctx context.Context, propertyID string, s *QuerySchema) ([]Row, error) {
	report, err := a.service.RunReport(ctx, ReportRequest{
		PropertyID: propertyID,
		StartDate:  s.StartDate,
		EndDate:    s.EndDate,
		Metrics:    s.Metrics,
		Dimensions: s.Dimensions,
		Limit:      s.Limit,
	})
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(report))
	for _, r := range report {
		row := make(Row, 0, len(s.Dimensions)+len(s.Metrics))
		for i, d := range s.Dimensions {
			row = append(row, Field{Name: d, Value: valueAt(r.DimensionValues, i)})
		}
		for i, m := range s.Metrics {
			row = append(row, Field{Name: m, Value: valueAt(r.MetricValues, i)})
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func valueAt(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}

func (a *Agent) explain(ctx context.Context, query string, rows []Row) (string, error) {
	if len(rows) == 0 {
		return NoDataAnswer, nil
	}
	sample := rows
	if len(sample) > explainRowLimit {
		sample = sample[:explainRowLimit]
	}
	data, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report rows: %w", err)
	}

	answer, err := a.llm.Generate(ctx, domain.ChatRequest{
		Model:    a.cfg.ReasoningModel,
		Messages: []domain.Message{domain.UserMessage(explainPrompt(query, string(data)))},
	})
	if err != nil {
		return "", fmt.Errorf("explain analytics report: %w", err)
	}
	return answer, nil
}

func schemaPrompt(query string, allow AllowList) string {
	return fmt.Sprintf(`Extract the GA4 reporting parameters from the user query.

Query: %q

Instructions:
1. Identify start_date and end_date.
   - "last 7 days" -> start_date "7daysAgo", end_date "today"
   - "yesterday" -> start_date "yesterday", end_date "yesterday"
   - Default if unspecified: start_date "30daysAgo", end_date "today"
2. Identify metrics (allowed: %s).
3. Identify dimensions (allowed: %s).

Return JSON only:
{
  "start_date": "...",
  "end_date": "...",
  "metrics": ["..."],
  "dimensions": ["..."],
  "limit": 10
}`, query, strings.Join(allow.Metrics, ", "), strings.Join(allow.Dimensions, ", "))
}

func explainPrompt(query, rows string) string {
	return fmt.Sprintf(`Explain this GA4 data clearly.

Question: %q

Data:
%s

Be concise and factual.`, query, rows)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

