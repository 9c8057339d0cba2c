package analytics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"insightbot/internal/domain"
)

const (
	defaultStartDate = "30daysAgo"
	defaultEndDate   = "today"
	defaultLimit     = 10
)

// QuerySchema is the report request the model extracts from a question.
type QuerySchema struct {
	StartDate  string   `json:"start_date"`
	EndDate    string   `json:"end_date"`
	Metrics    []string `json:"metrics"`
	Dimensions []string `json:"dimensions"`
	OrderBy    string   `json:"order_by_metric"`
	Limit      int      `json:"limit"`
}

// ParseSchema decodes a model reply into a QuerySchema. Code fences are
// stripped first. Any reply that is not a JSON object with a "metrics" key
// fails with domain.ErrSchemaInference.
func ParseSchema(reply string) (*QuerySchema, error) {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")
	reply = strings.TrimSpace(reply)

	var raw struct {
		StartDate  string          `json:"start_date"`
		EndDate    string          `json:"end_date"`
		Metrics    *[]string       `json:"metrics"`
		Dimensions []string        `json:"dimensions"`
		OrderBy    *string         `json:"order_by_metric"`
		Limit      json.RawMessage `json:"limit"`
	}
	if err := json.Unmarshal([]byte(reply), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSchemaInference, err)
	}
	if raw.Metrics == nil {
		return nil, fmt.Errorf("%w: reply has no metrics", domain.ErrSchemaInference)
	}
	limit, err := parseLimit(raw.Limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSchemaInference, err)
	}

	s := &QuerySchema{
		StartDate:  raw.StartDate,
		EndDate:    raw.EndDate,
		Metrics:    *raw.Metrics,
		Dimensions: raw.Dimensions,
		Limit:      limit,
	}
	if raw.OrderBy != nil {
		s.OrderBy = *raw.OrderBy
	}
	if s.StartDate == "" {
		s.StartDate = defaultStartDate
	}
	if s.EndDate == "" {
		s.EndDate = defaultEndDate
	}
	return s, nil
}

// parseLimit accepts a JSON number or a numeric string; absent means 0.
// Values are truncated and clamped to [0, math.MaxInt32].
func parseLimit(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return clampLimit(f), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("limit is not a number: %s", raw)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) {
		return 0, fmt.Errorf("limit is not a number: %q", s)
	}
	return clampLimit(f), nil
}

func clampLimit(f float64) int {
	switch {
	case f <= 0:
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	default:
		return int(f)
	}
}

// AllowList is the closed set of GA4 fields the agent may request.
// Build it with NewAllowList.
type AllowList struct {
	Metrics    []string
	Dimensions []string
	MaxLimit   int

	metricSet    map[string]bool
	dimensionSet map[string]bool
}

func NewAllowList(metrics, dimensions []string, maxLimit int) AllowList {
	return AllowList{
		Metrics:      metrics,
		Dimensions:   dimensions,
		MaxLimit:     maxLimit,
		metricSet:    toSet(metrics),
		dimensionSet: toSet(dimensions),
	}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

// Validate restricts s to the allow-list in place. Unknown and repeated
// names are dropped keeping first-seen order, ordering is cleared, and the
// limit is defaulted and capped. An empty metric set fails with
// domain.ErrNoValidMetrics regardless of the dimensions left.
func (a AllowList) Validate(s *QuerySchema) error {
	s.Metrics = keepAllowed(s.Metrics, a.metricSet)
	s.Dimensions = keepAllowed(s.Dimensions, a.dimensionSet)
	s.OrderBy = ""

	if s.Limit <= 0 {
		s.Limit = defaultLimit
	}
	if a.MaxLimit > 0 && s.Limit > a.MaxLimit {
		s.Limit = a.MaxLimit
	}

	if len(s.Metrics) == 0 {
		return domain.ErrNoValidMetrics
	}
	return nil
}

func keepAllowed(names []string, allowed map[string]bool) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if allowed[n] && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// Field is one named value in a report row.
type Field struct {
	Name  string
	Value string
}

// Row is a report row: dimension values then metric values, in schema
// order. It marshals to a JSON object that keeps that order.
type Row []Field

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Get returns the value for name.
func (r Row) Get(name string) (string, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}
