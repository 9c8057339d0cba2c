package seo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightbot/internal/domain"
	"insightbot/internal/metrics"
	"insightbot/internal/table"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

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

// fakeSource counts loads so tests can assert the table is fetched once.
type fakeSource struct {
	csv   string
	err   error
	loads int
}

func (s *fakeSource) Load(ctx context.Context) (*table.Table, error) {
	s.loads++
	if s.err != nil {
		return nil, s.err
	}
	return table.Parse(strings.NewReader(s.csv))
}

const pagesCSV = `Address,View Count,Status Code
https://example.com/1,10,200
https://example.com/2,80,200
https://example.com/3,30,404
https://example.com/4,70,200
https://example.com/5,20,200
https://example.com/6,60,301
https://example.com/7,50,200
https://example.com/8,40,200
`

func bigCSV(n int) string {
	var b strings.Builder
	b.WriteString("Address,Status Code\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "https://example.com/p%d,200\n", i)
	}
	return b.String()
}

func newTestAgent(t *testing.T, llm domain.Generator, src table.Source, m *metrics.Collector) *Agent {
	t.Helper()
	return NewAgent(context.Background(), llm, src, Config{FastModel: "fast", ReasoningModel: "reasoning"}, m, testLogger())
}

func TestAgent_TopFivePagesByViewCount(t *testing.T) {
	llm := &fakeLLM{replies: []string{"`SORT_BY: view_count TOP 5`", "Page 2 leads with 80 views."}}
	a := newTestAgent(t, llm, &fakeSource{csv: pagesCSV}, nil)

	resp, err := a.Process(context.Background(), "top 5 pages by view_count")
	require.NoError(t, err)

	assert.Equal(t, domain.AgentSEO, resp.AgentUsed)
	assert.Equal(t, "Page 2 leads with 80 views.", resp.Answer)
	assert.Equal(t, 5, resp.Data["count"])
	assert.Equal(t, "SORT_BY: view_count TOP 5", resp.Data["strategy"])
	assert.Equal(t, []string{
		"https://example.com/2",
		"https://example.com/4",
		"https://example.com/6",
		"https://example.com/7",
		"https://example.com/8",
	}, resp.Data["urls"])

	require.Len(t, llm.requests, 2)
	assert.Equal(t, "fast", llm.requests[0].Model)
	assert.Contains(t, llm.requests[0].Messages[0].Content, "address, view_count, status_code")
	assert.Equal(t, "reasoning", llm.requests[1].Model)
	assert.Contains(t, llm.requests[1].Messages[0].Content, "Matched rows: 5")
}

func TestAgent_PredicateFilter(t *testing.T) {
	llm := &fakeLLM{replies: []string{"status_code != 200", "Two pages are not OK."}}
	a := newTestAgent(t, llm, &fakeSource{csv: pagesCSV}, nil)

	resp, err := a.Process(context.Background(), "pages that are not 200")
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Data["count"])
	assert.Equal(t, []string{"https://example.com/3", "https://example.com/6"}, resp.Data["urls"])
}

func TestAgent_MalformedPredicateFallsBackToFirstTenRows(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	llm := &fakeLLM{replies: []string{"df.query('status_code == 404')", "Here is a sample."}}
	a := newTestAgent(t, llm, &fakeSource{csv: bigCSV(30)}, m)

	resp, err := a.Process(context.Background(), "broken pages")
	require.NoError(t, err, "filter failures must never reach the caller")
	assert.Equal(t, 10, resp.Data["count"])
	urls := resp.Data["urls"].([]string)
	require.Len(t, urls, 10)
	assert.Equal(t, "https://example.com/p0", urls[0])
	assert.Equal(t, "https://example.com/p9", urls[9])
}

func TestAgent_UnknownSortColumnKeepsAllRows(t *testing.T) {
	llm := &fakeLLM{replies: []string{"SORT_BY: pagerank TOP 3", "All pages."}}
	a := newTestAgent(t, llm, &fakeSource{csv: pagesCSV}, nil)

	resp, err := a.Process(context.Background(), "top 3 by pagerank")
	require.NoError(t, err)
	assert.Equal(t, 8, resp.Data["count"])
}

func TestAgent_NoneDirective(t *testing.T) {
	llm := &fakeLLM{replies: []string{"none", "Overview."}}
	a := newTestAgent(t, llm, &fakeSource{csv: bigCSV(30)}, nil)

	resp, err := a.Process(context.Background(), "give me an overview")
	require.NoError(t, err)
	assert.Equal(t, 30, resp.Data["count"])
	assert.Len(t, resp.Data["urls"], 10)
	assert.Contains(t, llm.requests[1].Messages[0].Content, "Filter logic used: none")
}

func TestAgent_NoAddressColumn(t *testing.T) {
	llm := &fakeLLM{replies: []string{"none", "ok"}}
	a := newTestAgent(t, llm, &fakeSource{csv: "URL,Score\n/a,1\n"}, nil)

	resp, err := a.Process(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, []string{}, resp.Data["urls"])
}

func TestAgent_QueriesDoNotAffectEachOther(t *testing.T) {
	llm := &fakeLLM{replies: []string{"SORT_BY: view_count TOP 2", "a", "none", "b"}}
	a := newTestAgent(t, llm, &fakeSource{csv: pagesCSV}, nil)

	_, err := a.Process(context.Background(), "top 2")
	require.NoError(t, err)
	resp, err := a.Process(context.Background(), "all")
	require.NoError(t, err)
	assert.Equal(t, 8, resp.Data["count"])
	assert.Equal(t, "https://example.com/1", resp.Data["urls"].([]string)[0])
}

func TestAgent_LoadFailureIsPermanent(t *testing.T) {
	src := &fakeSource{err: errors.New("sheet not shared")}
	llm := &fakeLLM{}
	a := newTestAgent(t, llm, src, nil)
	assert.False(t, a.Available())

	for i := 0; i < 3; i++ {
		resp, err := a.Process(context.Background(), "pages with missing titles")
		require.NoError(t, err)
		assert.Equal(t, UnavailableAnswer, resp.Answer)
		assert.Equal(t, domain.AgentSEO, resp.AgentUsed)
		assert.Equal(t, 0, resp.Data["count"])
	}
	assert.Equal(t, 1, src.loads, "data must never be re-fetched")
	assert.Empty(t, llm.requests, "no model calls without data")
}

func TestAgent_EmptyTableIsUnavailable(t *testing.T) {
	a := newTestAgent(t, &fakeLLM{}, &fakeSource{csv: "Address,Status Code\n"}, nil)
	assert.False(t, a.Available())
}

func TestAgent_ModelErrorPropagates(t *testing.T) {
	llm := &fakeLLM{err: &domain.ModelError{Backend: "fake", StatusCode: 401, Err: errors.New("bad key")}}
	a := newTestAgent(t, llm, &fakeSource{csv: pagesCSV}, nil)

	_, err := a.Process(context.Background(), "top pages")
	var me *domain.ModelError
	assert.True(t, errors.As(err, &me))
}

func TestAgent_InfiniteCellDoesNotBreakPreview(t *testing.T) {
	llm := &fakeLLM{replies: []string{"none", "Ratios look fine."}}
	a := newTestAgent(t, llm, &fakeSource{csv: "Address,Ratio\nhttps://example.com/a,1.5\nhttps://example.com/b,inf\n"}, nil)

	resp, err := a.Process(context.Background(), "show ratios")
	require.NoError(t, err)
	assert.Equal(t, "Ratios look fine.", resp.Answer)
	assert.Equal(t, 2, resp.Data["count"])
	assert.Contains(t, llm.requests[1].Messages[0].Content, `"inf"`)
}

func TestAgent_UnknownSortColumnWithSpaceKeepsAllRows(t *testing.T) {
	llm := &fakeLLM{replies: []string{"SORT_BY: crawl depth TOP 5", "All pages."}}
	a := newTestAgent(t, llm, &fakeSource{csv: bigCSV(15)}, nil)

	resp, err := a.Process(context.Background(), "deepest pages")
	require.NoError(t, err)
	assert.Equal(t, 15, resp.Data["count"])
}
