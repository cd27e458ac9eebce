package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/logsift/logsift/internal/ingest"
	"github.com/logsift/logsift/internal/logstore"
	"github.com/logsift/logsift/internal/postgres"
	"github.com/logsift/logsift/internal/rag"
	"github.com/logsift/logsift/internal/search"
)

// Ingester runs the ingest pipeline for one log source.
// Implemented by *ingest.Service.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request, content io.Reader) (*logstore.Batch, error)
}

// BatchStore reads and deletes ingest batches.
// Implemented by *logstore.Store.
type BatchStore interface {
	GetBatch(ctx context.Context, id uuid.UUID) (*logstore.Batch, error)
	ListBatches(ctx context.Context, status logstore.Status, limit int) ([]logstore.Batch, error)
	DeleteBatch(ctx context.Context, id uuid.UUID) error
}

// Searcher answers similarity queries from query text.
// Implemented by *search.Engine.
type Searcher interface {
	SearchText(ctx context.Context, query string, topK int, f search.Filters) ([]search.Result, error)
}

// Asker answers questions over the ingested logs.
// Implemented by *rag.Engine.
type Asker interface {
	Ask(ctx context.Context, question string, opts ...rag.AskOption) (*rag.Answer, error)
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger     *slog.Logger
	Ingester   Ingester     // Required
	Batches    BatchStore   // Required
	Searcher   Searcher     // Required
	Asker      Asker        // Required
	DB         *postgres.DB // Optional: nil skips the database check in /ready
	Version    string       // Reported by /health
	TrustProxy bool         // Trust X-Real-IP/X-Forwarded-For headers (behind reverse proxy)
	RateBurst  int          // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Ingester == nil {
		return nil, errors.New("ingester is required")
	}
	if cfg.Batches == nil {
		return nil, errors.New("batch store is required")
	}
	if cfg.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if cfg.Asker == nil {
		return nil, errors.New("asker is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ih := &ingestHandler{ingester: cfg.Ingester, logger: logger}
	bh := &batchHandler{store: cfg.Batches, logger: logger}
	sh := &searchHandler{searcher: cfg.Searcher, logger: logger}
	ch := &chatHandler{asker: cfg.Asker, logger: logger}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/ingest", ih.ingest)

	mux.HandleFunc("GET /api/v1/batches", bh.listBatches)
	mux.HandleFunc("GET /api/v1/batches/{id}", bh.getBatch)
	mux.HandleFunc("DELETE /api/v1/batches/{id}", bh.deleteBatch)

	mux.HandleFunc("GET /api/v1/search", sh.search)
	mux.HandleFunc("POST /api/v1/chat", ch.chat)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log attributes.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Use a top-level mux to separate health probes from middleware stack
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(cfg.Version))
	topMux.HandleFunc("GET /ready", readiness(cfg.DB, logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
