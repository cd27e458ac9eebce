package logstore

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an ingest batch.
//
// Transitions move strictly forward:
//
//	pending → in_progress → {partial, completed, failed}
//	pending → failed
//	partial → completed   (embedding backfill)
//
// completed and failed are terminal. partial records that all events
// were persisted but some are still missing embeddings; it can only be
// repaired forward to completed, never demoted to failed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
	StatusCompleted  Status = "completed"
)

// Source types recorded on a batch.
const (
	SourceTypeFile = "file"
	SourceTypeAPI  = "api"
)

// Formats inferred for a batch during parsing.
const (
	FormatJSON    = "json"
	FormatText    = "text"
	FormatUnknown = "unknown"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusPartial, StatusFailed, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ValidTransition reports whether from → to is an allowed lifecycle
// step. Self-transitions are not.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusInProgress || to == StatusFailed
	case StatusInProgress:
		return to == StatusPartial || to == StatusCompleted || to == StatusFailed
	case StatusPartial:
		return to == StatusCompleted
	default:
		return false
	}
}

// Batch is one ingest run of a log source.
type Batch struct {
	ID          uuid.UUID  `json:"id"`
	SourceName  string     `json:"source_name"`
	SourceType  string     `json:"source_type"`
	Service     string     `json:"service,omitempty"`
	Environment string     `json:"environment,omitempty"`
	Format      string     `json:"format"`
	LineCount   int        `json:"line_count"`
	ByteSize    int64      `json:"byte_size"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ParsedAt    *time.Time `json:"parsed_at,omitempty"`
}

// NewBatch carries the caller-supplied fields for CreateBatch.
type NewBatch struct {
	SourceName  string
	SourceType  string
	Service     string
	Environment string
	Format      string
	ByteSize    int64
}

// BatchStats carries the measurements recorded once a batch has been
// parsed: the inferred format, raw lines scanned, and source size.
type BatchStats struct {
	Format    string
	LineCount int
	ByteSize  int64
}

// Event is one parsed log entry. TS is nil when no timestamp could be
// extracted from the source line.
type Event struct {
	ID               int64          `json:"id"`
	BatchID          uuid.UUID      `json:"batch_id"`
	TS               *time.Time     `json:"ts,omitempty"`
	Level            string         `json:"level,omitempty"`
	Logger           string         `json:"logger,omitempty"`
	Thread           string         `json:"thread,omitempty"`
	Service          string         `json:"service,omitempty"`
	Message          string         `json:"message"`
	RawLine          string         `json:"raw_line,omitempty"`
	ExceptionType    string         `json:"exception_type,omitempty"`
	ExceptionMessage string         `json:"exception_message,omitempty"`
	StackTrace       string         `json:"stack_trace,omitempty"`
	TraceID          string         `json:"trace_id,omitempty"`
	SpanID           string         `json:"span_id,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// NewEvent carries one parsed entry for InsertEvents. Embeddings are
// attached later with UpdateEventEmbeddings.
type NewEvent struct {
	TS               *time.Time
	Level            string
	Logger           string
	Thread           string
	Service          string
	Message          string
	RawLine          string
	ExceptionType    string
	ExceptionMessage string
	StackTrace       string
	TraceID          string
	SpanID           string
	Metadata         map[string]any
}

// EmbeddingUpdate pairs an event ID with its computed vector.
type EmbeddingUpdate struct {
	ID        int64
	Embedding []float32
}
