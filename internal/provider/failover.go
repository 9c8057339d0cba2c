package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"insightbot/internal/domain"
)

// Failover tries backends in order and returns the first successful reply.
// The last backend's error is wrapped so the Client can still see a 429 from it.
type Failover struct {
	backends []domain.Backend
	logger   *slog.Logger
}

// NewFailover builds a chain from the given backends. At least one is required.
func NewFailover(backends []domain.Backend, logger *slog.Logger) *Failover {
	return &Failover{backends: backends, logger: logger}
}

func (f *Failover) Name() string {
	names := make([]string, len(f.backends))
	for i, b := range f.backends {
		names[i] = b.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (f *Failover) Complete(ctx context.Context, req domain.ChatRequest) (string, error) {
	var lastErr error
	for i, b := range f.backends {
		text, err := b.Complete(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.Info("failover: used fallback backend", "backend", b.Name(), "attempt", i+1)
			}
			return text, nil
		}
		if ctx.Err() != nil {
			return "", err
		}
		lastErr = err
		f.logger.Warn("failover: backend failed, trying next",
			"backend", b.Name(),
			"attempt", i+1,
			"error", err,
		)
	}
	if lastErr == nil {
		return "", fmt.Errorf("failover chain is empty")
	}
	return "", fmt.Errorf("all backends in failover chain failed: %w", lastErr)
}
