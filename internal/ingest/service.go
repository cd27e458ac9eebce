// Package ingest turns raw log text into stored, embedded events.
//
// The parser recognizes JSON lines and common plaintext layouts and
// folds exception blocks into their owning event. The service drives
// one batch through its lifecycle: create, parse, bulk insert, then
// embed in bounded chunks. A chunk whose embedding call fails is
// skipped, its events keep a NULL embedding, and the batch lands in
// partial; Backfill repairs such batches forward to completed.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/logsift/logsift/internal/embed"
	"github.com/logsift/logsift/internal/logstore"
)

// DefaultEmbedBatchSize is the number of events embedded per provider
// call when Config does not say otherwise.
const DefaultEmbedBatchSize = 500

// Config holds ingest tuning.
type Config struct {
	// EmbedBatchSize caps the events sent to the embedder in one call.
	// Non-positive falls back to DefaultEmbedBatchSize.
	EmbedBatchSize int
}

// Request describes one ingest run. Service and Environment are
// recorded on the batch; Service also backfills events whose own lines
// carried no service field.
type Request struct {
	SourceName  string
	SourceType  string // logstore.SourceTypeFile or SourceTypeAPI
	Service     string
	Environment string
}

// Service ingests log sources into the store.
//
// Service is safe for concurrent use by multiple goroutines; concurrent
// runs operate on distinct batches.
type Service struct {
	store     *logstore.Store
	embedder  *embed.Provider
	parser    *Parser
	logger    *slog.Logger
	chunkSize int
}

// New creates a Service. A nil logger falls back to slog.Default().
func New(store *logstore.Store, embedder *embed.Provider, cfg Config, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = DefaultEmbedBatchSize
	}

	return &Service{
		store:     store,
		embedder:  embedder,
		parser:    NewParser(logger),
		logger:    logger,
		chunkSize: cfg.EmbedBatchSize,
	}, nil
}

// Ingest parses content, stores the events under a new batch, and
// embeds them chunk by chunk. The returned batch reflects the final
// state: completed when every event got its vector, partial when some
// chunks were skipped. Parse failures and sources with no parseable
// events mark the batch failed and return an error.
func (s *Service) Ingest(ctx context.Context, req Request, content io.Reader) (*logstore.Batch, error) {
	if strings.TrimSpace(req.SourceName) == "" {
		return nil, fmt.Errorf("%w: source name is required", ErrInvalidInput)
	}
	if content == nil {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	switch req.SourceType {
	case "":
		req.SourceType = logstore.SourceTypeFile
	case logstore.SourceTypeFile, logstore.SourceTypeAPI:
	default:
		return nil, fmt.Errorf("%w: unknown source type %q", ErrInvalidInput, req.SourceType)
	}

	batch, err := s.store.CreateBatch(ctx, logstore.NewBatch{
		SourceName:  req.SourceName,
		SourceType:  req.SourceType,
		Service:     req.Service,
		Environment: req.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("creating batch: %w", err)
	}
	if err := s.store.UpdateBatchStatus(ctx, batch.ID, logstore.StatusInProgress, ""); err != nil {
		return nil, fmt.Errorf("starting batch %s: %w", batch.ID, err)
	}

	counted := &countingReader{r: content}
	res, err := s.parser.Parse(counted)
	if err != nil {
		s.markStatus(ctx, batch.ID, logstore.StatusFailed, err.Error())
		return nil, fmt.Errorf("parsing %s: %w", req.SourceName, err)
	}
	if len(res.Entries) == 0 {
		s.markStatus(ctx, batch.ID, logstore.StatusFailed, ErrNoEvents.Error())
		return nil, fmt.Errorf("%w: %s", ErrNoEvents, req.SourceName)
	}

	err = s.store.UpdateBatchStats(ctx, batch.ID, logstore.BatchStats{
		Format:    res.Format,
		LineCount: res.LineCount,
		ByteSize:  counted.n,
	})
	if err != nil {
		s.markStatus(ctx, batch.ID, logstore.StatusFailed, err.Error())
		return nil, fmt.Errorf("recording batch stats: %w", err)
	}

	events := make([]logstore.NewEvent, len(res.Entries))
	for i, en := range res.Entries {
		events[i] = newEvent(en, req)
	}
	if _, err := s.store.InsertEvents(ctx, batch.ID, events); err != nil {
		s.markStatus(ctx, batch.ID, logstore.StatusFailed, err.Error())
		return nil, fmt.Errorf("storing events for %s: %w", req.SourceName, err)
	}

	st, err := s.embedEvents(ctx, batch.ID)
	if err != nil {
		// Events are persisted; only embeddings are incomplete.
		s.markStatus(ctx, batch.ID, logstore.StatusPartial, err.Error())
		return nil, fmt.Errorf("embedding batch %s: %w", batch.ID, err)
	}

	status := logstore.StatusCompleted
	errMsg := ""
	if st.skipped > 0 {
		status = logstore.StatusPartial
		errMsg = fmt.Sprintf("%d events missing embeddings: %v", st.skipped, st.firstErr)
	}
	if err := s.store.UpdateBatchStatus(ctx, batch.ID, status, errMsg); err != nil {
		return nil, fmt.Errorf("finishing batch %s: %w", batch.ID, err)
	}

	s.logger.Info("batch ingested",
		"batch", batch.ID,
		"source", req.SourceName,
		"format", res.Format,
		"events", len(events),
		"embedded", st.embedded,
		"status", status)

	return s.store.GetBatch(ctx, batch.ID)
}

// Backfill embeds the events of a partial batch that are still missing
// vectors and moves the batch to completed. A completed batch is
// returned unchanged; any other status cannot be backfilled.
func (s *Service) Backfill(ctx context.Context, batchID uuid.UUID) (*logstore.Batch, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	switch batch.Status {
	case logstore.StatusPartial:
	case logstore.StatusCompleted:
		return batch, nil
	default:
		return nil, fmt.Errorf("%w: backfill needs a partial batch, %s is %s",
			logstore.ErrInvalidTransition, batchID, batch.Status)
	}

	st, err := s.embedEvents(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("backfilling batch %s: %w", batchID, err)
	}
	if st.skipped > 0 {
		return nil, fmt.Errorf("backfilling batch %s: %d events still missing embeddings: %w",
			batchID, st.skipped, st.firstErr)
	}

	if err := s.store.UpdateBatchStatus(ctx, batchID, logstore.StatusCompleted, ""); err != nil {
		return nil, fmt.Errorf("completing batch %s: %w", batchID, err)
	}

	s.logger.Info("batch backfilled", "batch", batchID, "embedded", st.embedded)
	return s.store.GetBatch(ctx, batchID)
}

type embedStats struct {
	embedded int64
	skipped  int64
	firstErr error // first failed chunk, recorded on the batch row
}

// embedEvents pages through the batch's events that lack a vector and
// embeds them chunk by chunk. A failed embedding call skips its chunk
// and moves on so one bad call cannot stall the rest; the skipped
// events stay NULL for Backfill. Store errors and context cancellation
// abort the loop.
func (s *Service) embedEvents(ctx context.Context, batchID uuid.UUID) (embedStats, error) {
	var st embedStats
	var afterID int64
	for {
		events, err := s.store.EventsMissingEmbedding(ctx, batchID, afterID, s.chunkSize)
		if err != nil {
			return st, err
		}
		if len(events) == 0 {
			return st, nil
		}
		afterID = events[len(events)-1].ID

		texts := make([]string, len(events))
		for i, ev := range events {
			texts[i] = embedText(ev)
		}
		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return st, ctx.Err()
			}
			st.skipped += int64(len(events))
			if st.firstErr == nil {
				st.firstErr = err
			}
			s.logger.Warn("embedding chunk failed",
				"batch", batchID, "events", len(events), "error", err)
			continue
		}

		updates := make([]logstore.EmbeddingUpdate, len(events))
		for i, ev := range events {
			updates[i] = logstore.EmbeddingUpdate{ID: ev.ID, Embedding: vectors[i]}
		}
		n, err := s.store.UpdateEventEmbeddings(ctx, updates)
		if err != nil {
			return st, err
		}
		st.embedded += n

		s.logger.Debug("event chunk embedded", "batch", batchID, "events", n)
	}
}

// embedText is the text a log event is embedded under: its message,
// with the exception line appended when one was extracted, so retrieval
// can match on exception names as well.
func embedText(ev logstore.Event) string {
	switch {
	case ev.ExceptionType == "":
		return ev.Message
	case ev.ExceptionMessage == "":
		return ev.Message + "\n" + ev.ExceptionType
	default:
		return ev.Message + "\n" + ev.ExceptionType + ": " + ev.ExceptionMessage
	}
}

func newEvent(en Entry, req Request) logstore.NewEvent {
	ev := logstore.NewEvent{
		TS:               en.TS,
		Level:            en.Level,
		Logger:           en.Logger,
		Thread:           en.Thread,
		Service:          en.Service,
		Message:          en.Message,
		RawLine:          en.RawLine,
		ExceptionType:    en.ExceptionType,
		ExceptionMessage: en.ExceptionMessage,
		StackTrace:       en.StackTrace,
		TraceID:          en.TraceID,
		SpanID:           en.SpanID,
		Metadata:         en.Metadata,
	}
	if ev.Service == "" {
		ev.Service = req.Service
	}
	return ev
}

// markStatus records a lifecycle status even when the request context
// is already canceled, so interrupted runs don't leave batches stuck
// in in_progress.
func (s *Service) markStatus(ctx context.Context, id uuid.UUID, to logstore.Status, errMsg string) {
	if err := s.store.UpdateBatchStatus(context.WithoutCancel(ctx), id, to, errMsg); err != nil {
		s.logger.Warn("recording batch status failed",
			"batch", id, "status", to, "error", err)
	}
}

// countingReader counts bytes consumed so the batch records the true
// source size for files and API payloads alike.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
