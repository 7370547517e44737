package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/omnitech/omnidesk/internal/agent"
	"github.com/omnitech/omnidesk/internal/logging"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Service is the blocking call surface the HTTP API exposes; the bridge
// package implements it.
type Service interface {
	ProcessQuery(ctx context.Context, query string) (agent.Response, error)
	ProcessQueryAs(ctx context.Context, email, query string) (agent.Response, error)
	ToolCallLog() ([]agent.ToolCall, error)
	ServerStats(ctx context.Context) (json.RawMessage, error)
	SecurityLog() ([]agent.SecurityEvent, error)
	ClearSecurityLog() error
	ClearHistory() error
}

// QueryRequest is the POST /v1/query body. A non-empty email applies to this
// query only; without one the session's customer is used.
type QueryRequest struct {
	Query string `json:"query"`
	Email string `json:"email,omitempty"`
}

// NewHTTPHandler returns the REST API over svc. When token is non-empty all
// /v1 routes require it as a bearer token; /health and /metrics stay open.
func NewHTTPHandler(svc Service, token string, logger *zap.Logger) http.Handler {
	logger = logging.OrNop(logger)
	metrics := newHTTPMetrics()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(metrics.middleware)

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.handler())

	r.Route("/v1", func(r chi.Router) {
		if token != "" {
			r.Use(bearerAuth(token, logger))
		}
		r.Post("/query", handleQuery(svc, metrics))
		r.Get("/tool-calls", handleToolCalls(svc))
		r.Get("/stats", handleStats(svc))
		r.Get("/security-log", handleSecurityLog(svc))
		r.Delete("/security-log", handleClearSecurityLog(svc))
		r.Delete("/history", handleClearHistory(svc))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleQuery(svc Service, metrics *httpMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required and must not be empty")
			return
		}

		var (
			resp agent.Response
			err  error
		)
		if email := strings.TrimSpace(req.Email); email != "" {
			resp, err = svc.ProcessQueryAs(r.Context(), email, req.Query)
		} else {
			resp, err = svc.ProcessQuery(r.Context(), req.Query)
		}
		if err != nil {
			serviceError(w, err)
			return
		}
		metrics.observeQuery(resp)
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleToolCalls(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls, err := svc.ToolCallLog()
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tool_calls": calls})
	}
}

func handleStats(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.ServerStats(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "fetching server stats: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(stats)
	}
}

func handleSecurityLog(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := svc.SecurityLog()
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
	}
}

func handleClearSecurityLog(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.ClearSecurityLog(); err != nil {
			serviceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleClearHistory(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.ClearHistory(); err != nil {
			serviceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// requestLogger logs one line per request at debug level.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// serviceError reports a bridge failure, in practice ErrClosed during shutdown.
func serviceError(w http.ResponseWriter, err error) {
	httpError(w, http.StatusServiceUnavailable, "api_error", "service unavailable: %v", err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
