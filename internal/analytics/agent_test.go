package analytics

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeLLM answers each call from replies in order and records the requests.
type fakeLLM struct {
	replies  []string
	err      error
	requests []domain.ChatRequest
}

func (f *fakeLLM) Generate(ctx context.Context, req domain.ChatRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", errors.New("fakeLLM: no reply scripted")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

type fakeMetrics struct {
	rows     []ReportRow
	err      error
	requests []ReportRequest
}

func (f *fakeMetrics) RunReport(ctx context.Context, req ReportRequest) ([]ReportRow, error) {
	f.requests = append(f.requests, req)
	return f.rows, f.err
}

func newTestAgent(llm domain.Generator, svc MetricsService) *Agent {
	return NewAgent(llm, svc, Config{FastModel: "fast", ReasoningModel: "reasoning", Allow: testAllow}, testLogger())
}

func TestAgent_Process_HappyPath(t *testing.T) {
	llm := &fakeLLM{replies: []string{
		`{"start_date":"7daysAgo","end_date":"today","metrics":["sessions","bounceRate"],"dimensions":["date"],"order_by_metric":"sessions","limit":10}`,
		"Sessions peaked on Jan 2.",
	}}
	svc := &fakeMetrics{rows: []ReportRow{
		{DimensionValues: []string{"20240101"}, MetricValues: []string{"10"}},
		{DimensionValues: []string{"20240102"}, MetricValues: []string{"30"}},
	}}

	resp, err := newTestAgent(llm, svc).Process(context.Background(), "123456", "sessions last 7 days by date")
	require.NoError(t, err)

	assert.Equal(t, "Sessions peaked on Jan 2.", resp.Answer)
	assert.Equal(t, domain.AgentAnalytics, resp.AgentUsed)

	require.Len(t, svc.requests, 1)
	assert.Equal(t, ReportRequest{
		PropertyID: "123456",
		StartDate:  "7daysAgo",
		EndDate:    "today",
		Metrics:    []string{"sessions"},
		Dimensions: []string{"date"},
		Limit:      10,
	}, svc.requests[0])

	rows := resp.Data["rows"].([]Row)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{{"date", "20240102"}, {"sessions", "30"}}, rows[1])
	assert.Empty(t, resp.Data["schema"].(*QuerySchema).OrderBy)

	require.Len(t, llm.requests, 2)
	assert.Equal(t, "fast", llm.requests[0].Model)
	assert.True(t, llm.requests[0].JSONMode)
	assert.Equal(t, "reasoning", llm.requests[1].Model)
	assert.Contains(t, llm.requests[1].Messages[0].Content, `"sessions": "30"`)
}

func TestAgent_Process_NoRowsSkipsExplanation(t *testing.T) {
	llm := &fakeLLM{replies: []string{`{"metrics":["activeUsers"]}`}}
	svc := &fakeMetrics{}

	resp, err := newTestAgent(llm, svc).Process(context.Background(), "1", "active users yesterday")
	require.NoError(t, err)
	assert.Equal(t, NoDataAnswer, resp.Answer)
	assert.Len(t, llm.requests, 1, "empty report must not call the model again")
	assert.NotNil(t, resp.Data["rows"])
}

func TestAgent_Process_ExplainUsesFirstTwentyRows(t *testing.T) {
	llm := &fakeLLM{replies: []string{`{"metrics":["sessions"],"dimensions":["pagePath"],"limit":50}`, "ok"}}
	svc := &fakeMetrics{}
	for i := 0; i < 50; i++ {
		svc.rows = append(svc.rows, ReportRow{DimensionValues: []string{"/p"}, MetricValues: []string{"1"}})
	}

	resp, err := newTestAgent(llm, svc).Process(context.Background(), "1", "sessions by page")
	require.NoError(t, err)
	assert.Len(t, resp.Data["rows"].([]Row), 50)
	assert.Equal(t, 20, strings.Count(llm.requests[1].Messages[0].Content, `"pagePath"`))
}

func TestAgent_Process_UnparseableSchemaIsUserFacing(t *testing.T) {
	llm := &fakeLLM{replies: []string{"I am not sure what you mean."}}
	svc := &fakeMetrics{}

	resp, err := newTestAgent(llm, svc).Process(context.Background(), "1", "???")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentAnalytics, resp.AgentUsed)
	assert.Contains(t, resp.Answer, "could not understand")
	assert.Contains(t, resp.Data["error"], "could not understand analytics request")
	assert.Empty(t, svc.requests)
}

func TestAgent_Process_NoValidMetricsIsUserFacing(t *testing.T) {
	llm := &fakeLLM{replies: []string{`{"metrics":["bounceRate"],"dimensions":["country"]}`}}
	svc := &fakeMetrics{}

	resp, err := newTestAgent(llm, svc).Process(context.Background(), "1", "bounce rate by country")
	require.NoError(t, err)
	assert.Contains(t, resp.Answer, "activeUsers")
	assert.Equal(t, domain.ErrNoValidMetrics.Error(), resp.Data["error"])
	assert.Empty(t, svc.requests, "no report may run without valid metrics")
	assert.Len(t, llm.requests, 1)
}

func TestAgent_Process_ModelErrorPropagates(t *testing.T) {
	boom := &domain.ModelError{Backend: "fake", StatusCode: 500, Err: errors.New("down")}
	llm := &fakeLLM{err: boom}

	_, err := newTestAgent(llm, &fakeMetrics{}).Process(context.Background(), "1", "sessions")
	var me *domain.ModelError
	assert.True(t, errors.As(err, &me))
}

func TestAgent_Process_MetricsServiceErrorPropagates(t *testing.T) {
	llm := &fakeLLM{replies: []string{`{"metrics":["sessions"]}`}}
	svc := &fakeMetrics{err: errors.New("permission denied")}

	_, err := newTestAgent(llm, svc).Process(context.Background(), "1", "sessions")
	assert.ErrorContains(t, err, "permission denied")
}
