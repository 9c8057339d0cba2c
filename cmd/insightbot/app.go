package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"insightbot/internal/agent"
	"insightbot/internal/analytics"
	"insightbot/internal/channel"
	"insightbot/internal/config"
	"insightbot/internal/domain"
	"insightbot/internal/memory"
	"insightbot/internal/metrics"
	"insightbot/internal/provider"
	"insightbot/internal/seo"
	"insightbot/internal/table"
)

// app holds the wired components shared by serve and ask.
type app struct {
	cfg          *config.Config
	metrics      *metrics.Collector
	orchestrator *agent.Orchestrator
	service      *channel.Service
	history      *memory.SQLiteStore // nil when history is disabled
	seo          *seo.Agent
}

// newLogger builds the process logger from the general config section.
func newLogger(gc config.GeneralConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(gc.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(gc.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// buildApp wires config into the running components. The SEO table is
// fetched here, once per process.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = metrics.New(reg)
	}

	llm, err := provider.NewFactory(cfg, logger).NewClient(a.metrics)
	if err != nil {
		return nil, fmt.Errorf("model client: %w", err)
	}

	ga4 := analytics.NewGA4Service(cfg.Analytics.CredentialsFile, logger.With("component", "ga4"))
	analyticsAgent := analytics.NewAgent(llm, ga4, analytics.Config{
		FastModel:      cfg.Models.Fast,
		ReasoningModel: cfg.Models.Reasoning,
		Allow: analytics.NewAllowList(
			cfg.Analytics.AllowedMetrics,
			cfg.Analytics.AllowedDimensions,
			cfg.Analytics.MaxLimit,
		),
	}, logger.With("component", "analytics"))

	a.seo = seo.NewAgent(ctx, llm, seoSource(cfg.SEO), seo.Config{
		FastModel:      cfg.Models.Fast,
		ReasoningModel: cfg.Models.Reasoning,
	}, a.metrics, logger.With("component", "seo"))

	a.orchestrator = agent.NewOrchestrator(agent.OrchestratorConfig{
		Classifier:     agent.NewRouter(llm, cfg.Models.Fast, logger.With("component", "router")),
		Analytics:      analyticsAgent,
		SEO:            a.seo,
		LLM:            llm,
		ReasoningModel: cfg.Models.Reasoning,
		Metrics:        a.metrics,
		Logger:         logger.With("component", "orchestrator"),
	})

	// Assign through the interface only when a store exists so a nil
	// *SQLiteStore never hides behind a non-nil HistoryStore.
	var history domain.HistoryStore
	if cfg.History.Enabled {
		store, err := memory.NewSQLiteStore(cfg.History.DBPath, logger.With("component", "history"))
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
		a.history = store
		history = store
	}

	a.service = channel.NewService(channel.ServiceConfig{
		Router:  a.orchestrator,
		History: history,
		Metrics: a.metrics,
		Logger:  logger,
	})
	return a, nil
}

func (a *app) Close() error {
	if a.history != nil {
		return a.history.Close()
	}
	return nil
}

func (a *app) requestTimeout() time.Duration {
	return time.Duration(a.cfg.Server.RequestTimeoutSeconds) * time.Second
}

// channels returns the enabled user-facing channels.
func (a *app) channels() []domain.Channel {
	metricsPath := ""
	if a.cfg.Metrics.Enabled {
		metricsPath = a.cfg.Metrics.Endpoint
	}
	chs := []domain.Channel{
		channel.NewWeb(channel.WebConfig{
			Host:              a.cfg.Server.Host,
			Port:              a.cfg.Server.Port,
			RequestTimeout:    a.requestTimeout(),
			DefaultPropertyID: a.cfg.Analytics.DefaultPropertyID,
			MetricsPath:       metricsPath,
			Service:           a.service,
			Metrics:           a.metrics,
			Logger:            logger.With("channel", "http"),
		}),
	}
	if a.cfg.Telegram.Enabled {
		propertyID := a.cfg.Telegram.DefaultPropertyID
		if propertyID == "" {
			propertyID = a.cfg.Analytics.DefaultPropertyID
		}
		chs = append(chs, channel.NewTelegram(channel.TelegramConfig{
			Token:             a.cfg.Telegram.Token,
			AllowFrom:         a.cfg.Telegram.AllowFrom,
			DefaultPropertyID: propertyID,
			RequestTimeout:    a.requestTimeout(),
			Service:           a.service,
			Logger:            logger.With("channel", "telegram"),
		}))
	}
	return chs
}

func seoSource(c config.SEOConfig) table.Source {
	if c.File != "" {
		return table.FileSource{Path: c.File}
	}
	return table.NewHTTPSource(c.SourceURL(), time.Duration(c.FetchTimeoutSeconds)*time.Second)
}
