// Package search runs cosine top-K retrieval over log event embeddings.
//
// A single SQL statement does all the work: filters are pushed down into
// the WHERE clause next to the vector predicate, so PostgreSQL can combine
// the ivfflat scan with the btree indexes instead of the caller filtering
// rows after the fact. Ties on distance break toward recent events.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/logsift/logsift/internal/config"
	"github.com/logsift/logsift/internal/embed"
	"github.com/logsift/logsift/internal/logstore"
)

// querier is the slice of *postgres.DB the engine needs.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Filters narrows a search. Every field is optional; zero values are
// ignored. Level is matched case-insensitively.
type Filters struct {
	Service string
	Level   string
	From    time.Time
	To      time.Time
}

// Result is one retrieved event with its cosine distance to the query
// vector. Rank is 1-based in ascending distance order.
type Result struct {
	logstore.Event

	Distance float64 `json:"distance"`
	Rank     int     `json:"rank"`
}

// resultCols must stay aligned with the Scan call in scanResults.
const resultCols = `id, batch_id, ts, level, logger, thread, service, message,
	raw_line, exception_type, exception_message, stack_trace, trace_id, span_id,
	metadata, created_at`

// Engine answers similarity queries against log_event. It is safe for
// concurrent use.
type Engine struct {
	db       querier
	embedder *embed.Provider
	logger   *slog.Logger
}

// New creates a search engine. The embedder supplies the expected query
// vector width and backs SearchText.
func New(db querier, embedder *embed.Provider, logger *slog.Logger) (*Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{db: db, embedder: embedder, logger: logger}, nil
}

// Search returns the topK events nearest to vector, filtered by f and
// ordered by ascending cosine distance. Events without an embedding are
// never candidates. Zero matches is not an error: the result is an empty
// slice.
func (e *Engine) Search(ctx context.Context, vector []float32, topK int, f Filters) ([]Result, error) {
	if err := checkTopK(topK); err != nil {
		return nil, err
	}
	if len(vector) != e.embedder.Dim() {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, want %d",
			ErrInvalidInput, len(vector), e.embedder.Dim())
	}

	sql, args := buildQuery(pgvector.NewVector(vector), topK, f)

	rows, err := e.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	results, err := scanResults(rows, topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	e.logger.Debug("similarity search",
		"top_k", topK,
		"service", f.Service,
		"level", f.Level,
		"results", len(results))
	return results, nil
}

// SearchText embeds query and searches with the resulting vector. This is
// the entry point for callers holding raw text (the HTTP API, the CLI and
// the MCP tools).
func (e *Engine) SearchText(ctx context.Context, query string, topK int, f Filters) ([]Result, error) {
	// Validate before embedding so a bad top-k does not burn a provider call.
	if err := checkTopK(topK); err != nil {
		return nil, err
	}

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	return e.Search(ctx, vector, topK, f)
}

func checkTopK(topK int) error {
	if topK <= 0 || topK > config.MaxTopK {
		return fmt.Errorf("%w: top-k must be between 1 and %d, got %d",
			ErrInvalidInput, config.MaxTopK, topK)
	}
	return nil
}

// buildQuery assembles the search statement. The query vector is always
// $1; filter placeholders are numbered in the order the filters are set.
func buildQuery(vec pgvector.Vector, topK int, f Filters) (string, []any) {
	var b strings.Builder
	args := []any{vec}

	b.WriteString("SELECT " + resultCols + ", embedding <=> $1 AS distance\n")
	b.WriteString("FROM log_event\nWHERE embedding IS NOT NULL")

	if f.Service != "" {
		args = append(args, f.Service)
		fmt.Fprintf(&b, " AND service = $%d", len(args))
	}
	if f.Level != "" {
		args = append(args, strings.ToUpper(f.Level))
		fmt.Fprintf(&b, " AND level = $%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		fmt.Fprintf(&b, " AND ts >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		fmt.Fprintf(&b, " AND ts <= $%d", len(args))
	}

	args = append(args, topK)
	fmt.Fprintf(&b, "\nORDER BY embedding <=> $1, ts DESC NULLS LAST, id DESC\nLIMIT $%d", len(args))

	return b.String(), args
}

func scanResults(rows pgx.Rows, topK int) ([]Result, error) {
	results := make([]Result, 0, topK)
	for rows.Next() {
		var (
			r            Result
			metadataJSON []byte
		)
		err := rows.Scan(&r.ID, &r.BatchID, &r.TS, &r.Level, &r.Logger,
			&r.Thread, &r.Service, &r.Message, &r.RawLine,
			&r.ExceptionType, &r.ExceptionMessage, &r.StackTrace,
			&r.TraceID, &r.SpanID, &metadataJSON, &r.CreatedAt, &r.Distance)
		if err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &r.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling event %d metadata: %w", r.ID, err)
			}
		}
		r.Rank = len(results) + 1
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating results: %w", err)
	}
	return results, nil
}
