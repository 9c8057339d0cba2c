package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"insightbot/internal/domain"
	"insightbot/internal/metrics"
)

const (
	defaultMaxRetries = 5
	defaultBaseDelay  = time.Second
)

// Client wraps a Backend with the retry policy every agent relies on:
// rate-limited attempts back off exponentially, any other failure is returned
// immediately, and an empty reply is an error.
type Client struct {
	backend    domain.Backend
	logger     *slog.Logger
	metrics    *metrics.Collector
	limiter    *rate.Limiter
	baseDelay  time.Duration
	maxRetries int
	sleep      func(ctx context.Context, d time.Duration) error
}

type ClientOption func(*Client)

// WithBaseDelay sets the backoff unit. Attempt n (from 0) waits base * 2^n.
func WithBaseDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.baseDelay = d }
}

// WithMaxRetries sets the attempt cap used when a request does not carry one.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithSleep replaces the backoff sleep. Tests use it to record delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) { c.sleep = fn }
}

func WithRateLimiter(rl *rate.Limiter) ClientOption {
	return func(c *Client) { c.limiter = rl }
}

func WithMetrics(m *metrics.Collector) ClientOption {
	return func(c *Client) { c.metrics = m }
}

func NewClient(backend domain.Backend, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		backend:    backend,
		logger:     logger,
		baseDelay:  defaultBaseDelay,
		maxRetries: defaultMaxRetries,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate returns the trimmed model reply for req.
func (c *Client) Generate(ctx context.Context, req domain.ChatRequest) (string, error) {
	attempts := req.MaxRetries
	if attempts <= 0 {
		attempts = c.maxRetries
	}
	name := c.backend.Name()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}

		start := time.Now()
		text, err := c.backend.Complete(ctx, req)
		elapsed := time.Since(start)

		if err != nil {
			if !domain.IsRateLimited(err) {
				c.metrics.ObserveModelCall(name, req.Model, metrics.OutcomeError, elapsed)
				return "", asModelError(name, err)
			}
			c.metrics.ObserveModelCall(name, req.Model, metrics.OutcomeRateLimited, elapsed)
			lastErr = err
			if attempt == attempts-1 {
				break
			}

			backoff := c.baseDelay * time.Duration(1<<attempt)
			c.logger.Warn("model rate limited, backing off",
				"backend", name,
				"model", req.Model,
				"attempt", attempt+1,
				"backoff", backoff,
			)
			if err := c.sleep(ctx, backoff); err != nil {
				return "", err
			}
			c.metrics.AddBackoff(backoff)
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			c.metrics.ObserveModelCall(name, req.Model, metrics.OutcomeEmpty, elapsed)
			return "", &domain.ModelError{Backend: name, Err: domain.ErrEmptyResponse}
		}
		c.metrics.ObserveModelCall(name, req.Model, metrics.OutcomeOK, elapsed)
		return text, nil
	}

	return "", fmt.Errorf("%w (%d attempts): %w", domain.ErrRetriesExhausted, attempts, lastErr)
}

func asModelError(backend string, err error) error {
	var me *domain.ModelError
	if errors.As(err, &me) {
		return err
	}
	return &domain.ModelError{Backend: backend, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
