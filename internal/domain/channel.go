package domain

import "context"

// QueryRouter answers a natural-language query. The orchestrator implements it.
type QueryRouter interface {
	RouteRequest(ctx context.Context, propertyID, query string) (*AgentResponse, error)
}

// Channel is the interface for user-facing I/O (HTTP, Telegram).
// Start blocks until ctx is cancelled or the channel fails.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}
