package provider

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"insightbot/internal/config"
	"insightbot/internal/domain"
	"insightbot/internal/metrics"
)

// BackendConstructor creates a backend from a provider config entry.
type BackendConstructor func(name string, pc config.ProviderConfig, httpClient *http.Client, logger *slog.Logger) domain.Backend

// Factory creates and caches model backends from config, keyed by provider name.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	httpClient   *http.Client
	constructors map[string]BackendConstructor // by provider kind
	cache        map[string]domain.Backend
	mu           sync.Mutex
}

// NewFactory creates a factory with the openai and gemini kinds registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		httpClient:   SharedHTTPClient(time.Duration(cfg.LLM.TimeoutSeconds) * time.Second),
		constructors: make(map[string]BackendConstructor),
		cache:        make(map[string]domain.Backend),
	}
	f.constructors["openai"] = func(name string, pc config.ProviderConfig, hc *http.Client, logger *slog.Logger) domain.Backend {
		return NewOpenAI(OpenAIConfig{Name: name, APIKey: pc.APIKey, APIBase: pc.APIBase, HTTPClient: hc, Logger: logger})
	}
	f.constructors["gemini"] = func(name string, pc config.ProviderConfig, hc *http.Client, logger *slog.Logger) domain.Backend {
		return NewGemini(GeminiConfig{Name: name, APIKey: pc.APIKey, HTTPClient: hc, Logger: logger})
	}
	return f
}

// RegisterConstructor adds or replaces the constructor for a provider kind.
func (f *Factory) RegisterConstructor(kind string, ctor BackendConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

// Get returns the backend for the named provider, or the default if name is empty.
func (f *Factory) Get(name string) (domain.Backend, error) {
	if name == "" {
		name = f.cfg.LLM.DefaultProvider
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}
	ctor, ok := f.constructors[pc.Kind]
	if !ok {
		return nil, fmt.Errorf("provider %s: no constructor registered for kind %q", name, pc.Kind)
	}

	b := ctor(name, pc, f.httpClient, f.logger)
	f.cache[name] = b
	return b, nil
}

// Backend returns the configured failover chain, or the default provider when
// no chain (or a single-entry one) is configured.
func (f *Factory) Backend() (domain.Backend, error) {
	chain := f.cfg.LLM.FailoverChain
	if len(chain) <= 1 {
		name := ""
		if len(chain) == 1 {
			name = chain[0]
		}
		return f.Get(name)
	}

	backends := make([]domain.Backend, 0, len(chain))
	for _, name := range chain {
		b, err := f.Get(name)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}
	return NewFailover(backends, f.logger), nil
}

// NewClient builds the resilient client with the llm section's retry settings.
func (f *Factory) NewClient(m *metrics.Collector) (*Client, error) {
	backend, err := f.Backend()
	if err != nil {
		return nil, err
	}
	opts := []ClientOption{
		WithBaseDelay(f.cfg.LLM.BaseDelay()),
		WithMaxRetries(f.cfg.LLM.MaxRetries),
		WithMetrics(m),
	}
	if rl := NewRateLimiter(1, float64(f.cfg.LLM.RateLimitPerMinute)); rl != nil {
		opts = append(opts, WithRateLimiter(rl))
	}
	return NewClient(backend, f.logger, opts...), nil
}
