package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"insightbot/internal/domain"
	"insightbot/internal/metrics"
)

const (
	maxBodySize           = 1 << 20 // 1MB
	defaultRequestTimeout = 120 * time.Second
	requestIDHeader       = "X-Request-ID"
)

// Web serves the HTTP query API.
type Web struct {
	host              string
	port              int
	requestTimeout    time.Duration
	defaultPropertyID string
	metricsPath       string

	service *Service
	metrics *metrics.Collector
	logger  *slog.Logger
	server  *http.Server
}

type WebConfig struct {
	Host              string
	Port              int
	RequestTimeout    time.Duration
	DefaultPropertyID string // used when a request carries no propertyId
	MetricsPath       string // empty disables the endpoint
	Service           *Service
	Metrics           *metrics.Collector
	Logger            *slog.Logger
}

func NewWeb(cfg WebConfig) *Web {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Web{
		host:              cfg.Host,
		port:              cfg.Port,
		requestTimeout:    cfg.RequestTimeout,
		defaultPropertyID: cfg.DefaultPropertyID,
		metricsPath:       cfg.MetricsPath,
		service:           cfg.Service,
		metrics:           cfg.Metrics,
		logger:            cfg.Logger,
	}
}

func (w *Web) Name() string { return "http" }

// Handler returns the routed, instrumented handler.
func (w *Web) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /query", w.handleQuery)
	mux.HandleFunc("GET /healthz", w.handleHealth)
	if w.metricsPath != "" {
		mux.Handle("GET "+w.metricsPath, w.metrics.Handler())
	}
	return w.instrument(mux)
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (w *Web) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", w.host, w.port)
	w.server = &http.Server{
		Addr:              addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      w.requestTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	w.logger.Info("HTTP API started", "addr", "http://"+addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.server.Shutdown(shutdownCtx)
	}()

	if err := w.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (w *Web) Stop() error {
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

func (w *Web) handleQuery(rw http.ResponseWriter, r *http.Request) {
	var req domain.QueryRequest
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	if req.PropertyID == "" {
		req.PropertyID = w.defaultPropertyID
	}

	ctx, cancel := context.WithTimeout(r.Context(), w.requestTimeout)
	defer cancel()

	answer, err := w.service.Ask(ctx, w.Name(), req.PropertyID, req.Query)
	if err != nil {
		w.logger.Error("query failed",
			"request_id", rw.Header().Get(requestIDHeader),
			"err", err,
		)
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	writeJSON(rw, http.StatusOK, answer.Result())
}

func (w *Web) handleHealth(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": w.metrics.Uptime().Round(time.Second).String(),
	})
}

// instrument assigns a request ID and records status and latency per route.
func (w *Web) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		rw.Header().Set(requestIDHeader, id)

		sr := &statusRecorder{ResponseWriter: rw, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		w.metrics.ObserveHTTP(path, sr.status, time.Since(start))
		w.logger.Debug("http request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
