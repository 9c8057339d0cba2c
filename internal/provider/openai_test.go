package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"insightbot/internal/config"
	"insightbot/internal/domain"
)

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gemini-2.5-flash",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "ANALYTICS"}}]
}`

func TestOpenAI_Complete_SendsMessagesAndJSONMode(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody)
	}))
	defer srv.Close()

	b := NewOpenAI(OpenAIConfig{Name: "litellm", APIKey: "sk-test", APIBase: srv.URL, Logger: testLogger()})
	text, err := b.Complete(context.Background(), domain.ChatRequest{
		Model:    "gemini-2.5-flash",
		Messages: []domain.Message{{Role: domain.RoleSystem, Content: "sys"}, domain.UserMessage("hi")},
		JSONMode: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "ANALYTICS" {
		t.Fatalf("got %q", text)
	}
	if got["model"] != "gemini-2.5-flash" {
		t.Fatalf("model not forwarded: %v", got["model"])
	}
	rf, _ := got["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Fatalf("expected json_object response format, got %v", got["response_format"])
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %v", got["messages"])
	}
}

func TestOpenAI_Complete_ReportsStatusCode(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"rate limited","type":"rate_limit"}}`)
	}))
	defer srv.Close()

	b := NewOpenAI(OpenAIConfig{Name: "litellm", APIKey: "sk-test", APIBase: srv.URL, Logger: testLogger()})
	_, err := b.Complete(context.Background(), domain.ChatRequest{Model: "m", Messages: []domain.Message{domain.UserMessage("hi")}})

	var me *domain.ModelError
	if !errors.As(err, &me) {
		t.Fatalf("expected ModelError, got %v", err)
	}
	if !me.RateLimited() {
		t.Fatalf("expected 429, got status %d", me.StatusCode)
	}
	if calls.Load() != 1 {
		t.Fatalf("SDK retries must be disabled, server saw %d calls", calls.Load())
	}
}

func TestClient_OverOpenAI_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":{"message":"rate limited"}}`)
			return
		}
		_, _ = io.WriteString(w, completionBody)
	}))
	defer srv.Close()

	b := NewOpenAI(OpenAIConfig{Name: "litellm", APIKey: "sk-test", APIBase: srv.URL, Logger: testLogger()})
	c := NewClient(b, testLogger(), WithBaseDelay(time.Millisecond))

	text, err := c.Generate(context.Background(), domain.ChatRequest{Model: "m", Messages: []domain.Message{domain.UserMessage("hi")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "ANALYTICS" || calls.Load() != 3 {
		t.Fatalf("text=%q calls=%d", text, calls.Load())
	}
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Providers["litellm"] = config.ProviderConfig{Enabled: true, Kind: "openai", APIBase: "http://localhost:4000", APIKey: "sk-test"}
	cfg.Providers["gemini"] = config.ProviderConfig{Enabled: true, Kind: "gemini", APIKey: "g-test"}
	return cfg
}

func TestFactory_GetCachesBackends(t *testing.T) {
	f := NewFactory(testConfig(), testLogger())

	b1, err := f.Get("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b1.Name() != "litellm" {
		t.Fatalf("default backend = %q", b1.Name())
	}
	b2, _ := f.Get("litellm")
	if b1 != b2 {
		t.Fatal("expected cached backend instance")
	}
	if _, ok := b1.(*OpenAI); !ok {
		t.Fatalf("expected *OpenAI, got %T", b1)
	}
	g, err := f.Get("gemini")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := g.(*Gemini); !ok {
		t.Fatalf("expected *Gemini, got %T", g)
	}
}

func TestFactory_GetErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Providers["off"] = config.ProviderConfig{Enabled: false, Kind: "openai"}
	cfg.Providers["weird"] = config.ProviderConfig{Enabled: true, Kind: "carrier-pigeon"}
	f := NewFactory(cfg, testLogger())

	for _, name := range []string{"missing", "off", "weird"} {
		if _, err := f.Get(name); err == nil {
			t.Fatalf("expected error for provider %q", name)
		}
	}
}

func TestFactory_BackendBuildsFailoverChain(t *testing.T) {
	cfg := testConfig()
	cfg.LLM.FailoverChain = []string{"litellm", "gemini"}
	f := NewFactory(cfg, testLogger())

	b, err := f.Backend()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Name() != "failover(litellm→gemini)" {
		t.Fatalf("unexpected chain name %q", b.Name())
	}
}

func TestFactory_NewClientUsesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.LLM.MaxRetries = 3
	cfg.LLM.BaseDelayMs = 250
	cfg.LLM.RateLimitPerMinute = 120
	f := NewFactory(cfg, testLogger())

	c, err := f.NewClient(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.maxRetries != 3 || c.baseDelay != 250*time.Millisecond {
		t.Fatalf("maxRetries=%d baseDelay=%v", c.maxRetries, c.baseDelay)
	}
	if c.limiter == nil || c.limiter.Limit() != 2 {
		t.Fatal("expected a 2/s rate limiter when rateLimitPerMinute is 120")
	}
}

func TestFactory_RegisterConstructor(t *testing.T) {
	cfg := testConfig()
	cfg.Providers["local"] = config.ProviderConfig{Enabled: true, Kind: "scripted"}
	cfg.LLM.DefaultProvider = "local"
	f := NewFactory(cfg, testLogger())

	var gotName string
	f.RegisterConstructor("scripted", func(name string, pc config.ProviderConfig, hc *http.Client, logger *slog.Logger) domain.Backend {
		gotName = name
		return &mockBackend{name: name, text: " SEO "}
	})

	c, err := f.NewClient(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotName != "local" {
		t.Fatalf("constructor called with %q", gotName)
	}
	out, err := c.Generate(context.Background(), domain.ChatRequest{Messages: []domain.Message{domain.UserMessage("hi")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "SEO" {
		t.Fatalf("Generate = %q", out)
	}
}
