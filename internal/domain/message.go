package domain

import "time"

// Agent identifiers reported in AgentResponse.AgentUsed.
const (
	AgentAnalytics    = "AnalyticsAgent"
	AgentSEO          = "SEOAgent"
	AgentOrchestrator = "Orchestrator"
	AgentSystem       = "System"
)

// AgentResponse is what every agent, and the orchestrator, hands back for a query.
// Data carries enough raw structure to synthesize a combined answer without re-querying.
type AgentResponse struct {
	Answer    string         `json:"answer"`
	Data      map[string]any `json:"data,omitempty"`
	AgentUsed string         `json:"agent_used"`
}

// Intent is the coarse category that decides which agent(s) answer a query.
type Intent string

const (
	IntentAnalytics Intent = "ANALYTICS"
	IntentSEO       Intent = "SEO"
	IntentBoth      Intent = "BOTH"
)

// QueryRequest is the inbound request shape shared by all channels.
type QueryRequest struct {
	Query      string `json:"query"`
	PropertyID string `json:"propertyId,omitempty"`
}

// QueryResult is the outbound shape returned to HTTP callers.
type QueryResult struct {
	Answer    string  `json:"answer"`
	AgentUsed string  `json:"agent_used"`
	Duration  float64 `json:"duration"` // seconds, rounded to two decimals
}

// QueryRecord is one answered (or failed) query kept in history.
type QueryRecord struct {
	ID         string        `json:"id"`
	Channel    string        `json:"channel"`
	Query      string        `json:"query"`
	PropertyID string        `json:"property_id,omitempty"`
	AgentUsed  string        `json:"agent_used,omitempty"`
	Answer     string        `json:"answer,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}
