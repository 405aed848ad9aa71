package api

import (
	"context"
	"log/slog"
	"net/http"

	"tally/internal/counter"
	"tally/internal/limits"
	"tally/internal/logging"
)

// Counters is the counter facade the API records to and reads from.
type Counters interface {
	Add(ctx context.Context, kind counter.Kind, delta int64, category string, dims ...counter.Dimension) error
	Count(ctx context.Context, kind counter.Kind, day, category string, dims ...counter.Dimension) int64
	Policy() counter.PathPolicy
}

// Limits is the limit manager the API reads and writes.
type Limits interface {
	Limit(category string) int64
	Limits() []limits.Entry
	SetLimit(ctx context.Context, category string, limit int64) bool
}

// Config wires dependencies for the HTTP handler.
type Config struct {
	Counters Counters
	Limits   Limits
	Logger   *slog.Logger
}

// NewHandler builds the HTTP handler for counters and limits.
func NewHandler(cfg Config) http.Handler {
	h := &handler{
		counters: cfg.Counters,
		limits:   cfg.Limits,
		logger:   logging.OrDiscard(cfg.Logger),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/counters/{kind}", h.handleRecord)
	mux.HandleFunc("GET /v1/counters/{kind}/{category}", h.handleCount)
	mux.HandleFunc("GET /v1/limits", h.handleListLimits)
	mux.HandleFunc("GET /v1/limits/{category}", h.handleGetLimit)
	mux.HandleFunc("PUT /v1/limits/{category}", h.handlePutLimit)
	return mux
}

type handler struct {
	counters Counters
	limits   Limits
	logger   *slog.Logger
}
