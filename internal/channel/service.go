// Package channel exposes the query router to users over HTTP and Telegram.
package channel

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"insightbot/internal/domain"
	"insightbot/internal/metrics"
)

// Service is the entry point every channel uses to answer a query. It
// times the call and records it in history.
type Service struct {
	router  domain.QueryRouter
	history domain.HistoryStore // optional
	metrics *metrics.Collector
	logger  *slog.Logger
}

type ServiceConfig struct {
	Router  domain.QueryRouter
	History domain.HistoryStore
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		router:  cfg.Router,
		history: cfg.History,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// Answer is a routed response with its wall-clock duration.
type Answer struct {
	*domain.AgentResponse
	Duration time.Duration
}

// Result converts a to the HTTP response shape.
func (a Answer) Result() domain.QueryResult {
	return domain.QueryResult{
		Answer:    a.Answer,
		AgentUsed: a.AgentUsed,
		Duration:  roundSeconds(a.Duration),
	}
}

// Ask routes query and records the outcome. History failures are logged and
// never fail the query.
func (s *Service) Ask(ctx context.Context, channel, propertyID, query string) (Answer, error) {
	start := time.Now()
	s.metrics.IncChannelMessage(channel)

	resp, err := s.router.RouteRequest(ctx, propertyID, query)
	elapsed := time.Since(start)

	rec := domain.QueryRecord{
		ID:         uuid.NewString(),
		Channel:    channel,
		Query:      query,
		PropertyID: propertyID,
		Duration:   elapsed,
		CreatedAt:  start,
	}
	if err != nil {
		rec.Error = err.Error()
	} else {
		rec.AgentUsed = resp.AgentUsed
		rec.Answer = resp.Answer
	}
	s.record(rec)

	if err != nil {
		return Answer{}, err
	}
	return Answer{AgentResponse: resp, Duration: elapsed}, nil
}

func (s *Service) record(rec domain.QueryRecord) {
	if s.history == nil {
		return
	}
	// The request context may already be done; history still gets written.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.history.Record(ctx, rec); err != nil {
		s.logger.Warn("failed to record query history", "id", rec.ID, "err", err)
	}
}

// roundSeconds returns d in seconds rounded to two decimals.
func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
