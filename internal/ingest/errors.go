package ingest

import "errors"

var (
	// ErrInvalidInput indicates a caller mistake: a missing source name,
	// an unknown source type, or a nil content reader.
	ErrInvalidInput = errors.New("invalid ingest input")

	// ErrNoEvents means the source produced no parseable log events; the
	// batch is marked failed and nothing is stored beyond it.
	ErrNoEvents = errors.New("no parseable log events")
)
