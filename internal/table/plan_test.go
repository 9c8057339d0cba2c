package table

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanDirective(t *testing.T) {
	cases := map[string]string{
		"  SORT_BY: view_count TOP 5 \n":          "SORT_BY: view_count TOP 5",
		"`status_code == 404`":                    "status_code == 404",
		"```\nSORT_BY: view_count TOP 5\n```":     "SORT_BY: view_count TOP 5",
		"```python\nstatus_code == 404\n```":      "status_code == 404",
		"```SORT_BY: view_count```":               "SORT_BY: view_count",
		"":                                        "",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanDirective(in), "%q", in)
	}
}

func TestParsePlan_None(t *testing.T) {
	tbl := mustParse(t, crawlCSV)
	for _, d := range []string{"", "none", "NONE"} {
		p := ParsePlan(d, tbl)
		assert.Equal(t, PlanNone, p.Kind, d)
		out, err := p.Apply(tbl)
		require.NoError(t, err)
		assert.Equal(t, tbl.Len(), out.Len())
	}
}

func TestSortPlan_TopFiveByViewCount(t *testing.T) {
	tbl := mustParse(t, crawlCSV)
	require.Equal(t, 8, tbl.Len())

	p := ParsePlan("SORT_BY: view_count TOP 5", tbl)
	require.Equal(t, PlanSort, p.Kind)
	assert.Equal(t, "view_count", p.Column)
	assert.Equal(t, 5, p.Limit)

	out, err := p.Apply(tbl)
	require.NoError(t, err)
	require.Equal(t, 5, out.Len())

	c := out.index["view_count"]
	prev := out.rows[0][c].(float64)
	for _, row := range out.rows[1:] {
		v := row[c].(float64)
		assert.LessOrEqual(t, v, prev, "rows must be sorted descending")
		prev = v
	}
	assert.Equal(t, float64(900), out.rows[0][c])
}

func TestSortPlan_DefaultsToTen(t *testing.T) {
	var b strings.Builder
	b.WriteString("address,score\n")
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&b, "https://example.com/%d,%d\n", i, i)
	}
	tbl := mustParse(t, b.String())

	p := ParsePlan("SORT_BY: score", tbl)
	require.Equal(t, PlanSort, p.Kind)
	assert.Equal(t, DefaultSortLimit, p.Limit)

	out, err := p.Apply(tbl)
	require.NoError(t, err)
	assert.Equal(t, 10, out.Len())
	assert.Equal(t, "https://example.com/24", out.Strings("address", 1)[0])
}

func TestSortPlan_LimitLargerThanRows(t *testing.T) {
	tbl := mustParse(t, "address,view_count\n/a,1\n/b,3\n/c,2\n")

	out, err := ParsePlan("SORT_BY: view_count TOP 5", tbl).Apply(tbl)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Len())
	assert.Equal(t, []string{"/b", "/c", "/a"}, out.Strings("address", 10))
}

func TestSortPlan_UnknownColumnLeavesTableUnchanged(t *testing.T) {
	tbl := mustParse(t, crawlCSV)

	p := ParsePlan("SORT_BY: page_rank TOP 3", tbl)
	assert.Equal(t, PlanNone, p.Kind)
	assert.Contains(t, p.Reason, "page_rank")

	out, err := p.Apply(tbl)
	require.NoError(t, err)
	assert.Equal(t, tbl.Len(), out.Len())
}

func TestSortPlan_UnknownColumnWithSpaceLeavesTableUnchanged(t *testing.T) {
	tbl := mustParse(t, crawlCSV)

	p := ParsePlan("SORT_BY: crawl depth TOP 5", tbl)
	assert.Equal(t, PlanNone, p.Kind)
	assert.Contains(t, p.Reason, "crawl depth")

	out, err := p.Apply(tbl)
	require.NoError(t, err)
	assert.Equal(t, tbl.Len(), out.Len())
}

func TestSortPlan_ColumnIsNormalized(t *testing.T) {
	tbl := mustParse(t, crawlCSV)
	for _, d := range []string{"SORT_BY: View_Count TOP 5", "SORT_BY: View Count TOP 5", "sort_by: VIEW COUNT top 5"} {
		p := ParsePlan(d, tbl)
		require.Equal(t, PlanSort, p.Kind, d)
		assert.Equal(t, "view_count", p.Column, d)
		assert.Equal(t, 5, p.Limit, d)

		out, err := p.Apply(tbl)
		require.NoError(t, err)
		assert.Equal(t, 5, out.Len(), d)
		assert.Equal(t, float64(900), out.rows[0][out.index["view_count"]], d)
	}
}

func TestSortPlan_BadCountFallsBack(t *testing.T) {
	tbl := mustParse(t, crawlCSV)
	for _, d := range []string{"SORT_BY: view_count TOP five", "SORT_BY: view_count TOP 0", "SORT_BY:"} {
		p := ParsePlan(d, tbl)
		assert.Equal(t, PlanFallback, p.Kind, d)
	}
}

func TestQueryPlan_FiltersRows(t *testing.T) {
	tbl := mustParse(t, crawlCSV)

	p := ParsePlan(`title_1_length > 60 and protocol == "https"`, tbl)
	require.Equal(t, PlanQuery, p.Kind, p.Reason)

	out, err := p.Apply(tbl)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/b", "https://example.com/d", "https://example.com/f", "https://example.com/h"},
		out.Strings("address", 10))
}

func TestQueryPlan_NoMatchesIsEmptyNotFallback(t *testing.T) {
	tbl := mustParse(t, crawlCSV)

	out, err := ParsePlan("status_code == 500", tbl).Apply(tbl)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
}

func TestQueryPlan_MalformedFallsBackToFirstTenRows(t *testing.T) {
	var b strings.Builder
	b.WriteString("address,status_code\n")
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "/page-%d,200\n", i)
	}
	tbl := mustParse(t, b.String())

	for _, d := range []string{
		"status_code >> 404 ((",         // syntax error
		"response_time > 2",             // unknown column
		`address > 5`,                   // type mismatch
		"df[df.status_code == 404]",     // not a predicate
	} {
		p := ParsePlan(d, tbl)
		assert.Equal(t, PlanFallback, p.Kind, d)

		out, err := p.Apply(tbl)
		require.NotNil(t, out)
		assert.True(t, errors.Is(err, ErrFilterApplication), d)
		assert.Equal(t, 10, out.Len(), d)
		assert.Equal(t, tbl.Strings("address", 10), out.Strings("address", 10), d)
	}
}

func TestPlanApply_DoesNotMutateSource(t *testing.T) {
	tbl := mustParse(t, crawlCSV)
	before := tbl.Strings("address", 10)

	_, _ = ParsePlan("SORT_BY: view_count TOP 2", tbl).Apply(tbl)
	_, _ = ParsePlan("status_code == 404", tbl).Apply(tbl)

	assert.Equal(t, before, tbl.Strings("address", 10))
	assert.Equal(t, 8, tbl.Len())
}
