package domain

import "context"

// HistoryStore keeps a log of answered queries.
type HistoryStore interface {
	Record(ctx context.Context, rec QueryRecord) error
	Recent(ctx context.Context, limit int) ([]QueryRecord, error)
	Close() error
}
