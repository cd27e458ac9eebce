// Package logstore persists ingest batches and their parsed log events.
//
// A Batch row tracks one ingest run through the status lifecycle
// documented on Status. Events are bulk-loaded with COPY and carry a
// nullable embedding column that the ingest service fills in chunks;
// rows left without an embedding are found again by the backfill path.
package logstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/logsift/logsift/internal/postgres"
)

// querier is the common interface satisfied by both *postgres.DB and
// *postgres.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// batchCols is the standard SELECT column list for scanBatch.
const batchCols = `id, source_name, source_type, service, environment, format,
	line_count, byte_size, status, error, created_at, parsed_at`

// eventCols is the standard SELECT column list for scanEvents.
// embedding is deliberately absent: readers here never need the vector.
const eventCols = `id, batch_id, ts, level, logger, thread, service, message,
	raw_line, exception_type, exception_message, stack_trace, trace_id, span_id,
	metadata, created_at`

// eventInsertCols is the COPY column list for InsertEvents.
var eventInsertCols = []string{
	"batch_id", "ts", "level", "logger", "thread", "service", "message",
	"raw_line", "exception_type", "exception_message", "stack_trace",
	"trace_id", "span_id", "metadata",
}

// DefaultListLimit bounds ListBatches when the caller passes no limit.
const DefaultListLimit = 50

// MaxListLimit is the absolute cap for ListBatches.
const MaxListLimit = 500

// Store manages ingest_batch and log_event rows.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     *postgres.DB
	logger *slog.Logger
}

// New creates a Store. A nil logger falls back to slog.Default().
func New(db *postgres.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// CreateBatch inserts a new batch in status pending and returns the
// stored row. Empty SourceType and Format fall back to "file" and
// "unknown".
func (s *Store) CreateBatch(ctx context.Context, nb NewBatch) (*Batch, error) {
	if nb.SourceName == "" {
		return nil, fmt.Errorf("source name is required")
	}
	if nb.SourceType == "" {
		nb.SourceType = SourceTypeFile
	}
	if nb.Format == "" {
		nb.Format = FormatUnknown
	}

	row := s.db.QueryRow(ctx, `INSERT INTO ingest_batch
		(source_name, source_type, service, environment, format, byte_size)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+batchCols,
		nb.SourceName, nb.SourceType, nb.Service, nb.Environment, nb.Format, nb.ByteSize)

	b, err := scanBatch(row)
	if err != nil {
		return nil, fmt.Errorf("creating batch: %w", err)
	}

	s.logger.Debug("batch created", "batch", b.ID, "source", b.SourceName)
	return b, nil
}

// GetBatch returns the batch with the given ID.
func (s *Store) GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+batchCols+` FROM ingest_batch WHERE id = $1`, id)

	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting batch %s: %w", id, err)
	}
	return b, nil
}

// ListBatches returns batches newest first, optionally filtered by
// status. A non-positive limit uses DefaultListLimit.
func (s *Store) ListBatches(ctx context.Context, status Status, limit int) ([]Batch, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	sql := `SELECT ` + batchCols + ` FROM ingest_batch`
	args := []any{}
	if status != "" {
		sql += ` WHERE status = $1`
		args = append(args, status)
	}
	sql += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT %d`, limit)

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var b Batch
		if err := scanBatchInto(rows, &b); err != nil {
			return nil, fmt.Errorf("scanning batch: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	return batches, nil
}

// DeleteBatch removes a batch; its events go with it via the cascading
// foreign key.
func (s *Store) DeleteBatch(ctx context.Context, id uuid.UUID) error {
	affected, err := s.db.Exec(ctx, `DELETE FROM ingest_batch WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting batch %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}

	s.logger.Debug("batch deleted", "batch", id)
	return nil
}

// UpdateBatchStatus moves a batch to a new lifecycle status. The
// current status is read under FOR UPDATE so concurrent transitions
// serialize; terminal batches return ErrImmutable, disallowed steps
// ErrInvalidTransition. Reaching partial or completed stamps parsed_at.
func (s *Store) UpdateBatchStatus(ctx context.Context, id uuid.UUID, to Status, errMsg string) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(ctx); err != nil {
				s.logger.Debug("status update rollback", "batch", id, "error", err)
			}
		}
	}()

	var current Status
	err = tx.QueryRow(ctx,
		`SELECT status FROM ingest_batch WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("reading batch status: %w", err)
	}

	if current.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrImmutable, id, current)
	}
	if !ValidTransition(current, to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, to)
	}

	_, err = tx.Exec(ctx, `UPDATE ingest_batch
		SET status = $2, error = $3,
		    parsed_at = CASE WHEN $2 IN ('partial', 'completed') THEN now() ELSE parsed_at END
		WHERE id = $1`,
		id, to, errMsg)
	if err != nil {
		return fmt.Errorf("updating batch status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing status update: %w", err)
	}
	committed = true

	s.logger.Info("batch status changed",
		"batch", id, "from", current, "to", to)
	return nil
}

// UpdateBatchStats records the measurements taken while parsing the
// source. An empty Format leaves the stored value untouched.
func (s *Store) UpdateBatchStats(ctx context.Context, id uuid.UUID, stats BatchStats) error {
	affected, err := s.db.Exec(ctx, `UPDATE ingest_batch
		SET format = COALESCE(NULLIF($2, ''), format), line_count = $3, byte_size = $4
		WHERE id = $1`,
		id, stats.Format, stats.LineCount, stats.ByteSize)
	if err != nil {
		return fmt.Errorf("updating batch stats: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	return nil
}

// InsertEvents bulk-loads parsed events for a batch with COPY and
// returns the number of rows written. Embeddings are not set here.
func (s *Store) InsertEvents(ctx context.Context, batchID uuid.UUID, events []NewEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(events))
	for i, ev := range events {
		if ev.Message == "" {
			return 0, fmt.Errorf("event %d: message is required", i)
		}
		metadataJSON, err := marshalMetadata(ev.Metadata)
		if err != nil {
			return 0, fmt.Errorf("event %d: %w", i, err)
		}
		rows = append(rows, []any{
			batchID, ev.TS, ev.Level, ev.Logger, ev.Thread, ev.Service,
			ev.Message, ev.RawLine, ev.ExceptionType, ev.ExceptionMessage,
			ev.StackTrace, ev.TraceID, ev.SpanID, metadataJSON,
		})
	}

	n, err := s.db.CopyFrom(ctx,
		pgx.Identifier{"log_event"}, eventInsertCols, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("inserting events for batch %s: %w", batchID, err)
	}

	s.logger.Debug("events inserted", "batch", batchID, "count", n)
	return n, nil
}

// EventsMissingEmbedding returns up to limit events of a batch whose
// embedding is still NULL and whose ID is greater than afterID, in ID
// order. Callers page through a batch by passing the last ID they saw;
// afterID 0 starts from the beginning.
func (s *Store) EventsMissingEmbedding(ctx context.Context, batchID uuid.UUID, afterID int64, limit int) ([]Event, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	rows, err := s.db.Query(ctx, `SELECT `+eventCols+`
		FROM log_event
		WHERE batch_id = $1 AND embedding IS NULL AND id > $2
		ORDER BY id
		LIMIT $3`, batchID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing events missing embedding: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// UpdateEventEmbeddings writes computed vectors onto their events in
// one transaction and returns the number of rows updated. Either every
// update in the chunk lands or none do.
func (s *Store) UpdateEventEmbeddings(ctx context.Context, updates []EmbeddingUpdate) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(ctx); err != nil {
				s.logger.Debug("embedding update rollback", "error", err)
			}
		}
	}()

	var total int64
	for _, u := range updates {
		if len(u.Embedding) == 0 {
			return 0, fmt.Errorf("event %d: empty embedding", u.ID)
		}
		affected, err := tx.Exec(ctx,
			`UPDATE log_event SET embedding = $2 WHERE id = $1`,
			u.ID, pgvector.NewVector(u.Embedding))
		if err != nil {
			return 0, fmt.Errorf("updating embedding for event %d: %w", u.ID, err)
		}
		total += affected
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing embedding updates: %w", err)
	}
	committed = true

	return total, nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte(`{}`), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	return data, nil
}

func scanBatch(row pgx.Row) (*Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.SourceName, &b.SourceType, &b.Service,
		&b.Environment, &b.Format, &b.LineCount, &b.ByteSize, &b.Status,
		&b.Error, &b.CreatedAt, &b.ParsedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// scanBatchInto is the pgx.Rows flavor of scanBatch for list scans.
func scanBatchInto(rows pgx.Rows, b *Batch) error {
	return rows.Scan(&b.ID, &b.SourceName, &b.SourceType, &b.Service,
		&b.Environment, &b.Format, &b.LineCount, &b.ByteSize, &b.Status,
		&b.Error, &b.CreatedAt, &b.ParsedAt)
}

func scanEvents(rows pgx.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			ev           Event
			metadataJSON []byte
		)
		err := rows.Scan(&ev.ID, &ev.BatchID, &ev.TS, &ev.Level, &ev.Logger,
			&ev.Thread, &ev.Service, &ev.Message, &ev.RawLine,
			&ev.ExceptionType, &ev.ExceptionMessage, &ev.StackTrace,
			&ev.TraceID, &ev.SpanID, &metadataJSON, &ev.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling event %d metadata: %w", ev.ID, err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}
