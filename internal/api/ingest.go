package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/logsift/logsift/internal/ingest"
	"github.com/logsift/logsift/internal/logstore"
)

// maxIngestBody caps POST /api/v1/ingest request bodies. Anything
// larger should be ingested from a file through the CLI.
const maxIngestBody = 32 << 20 // 32 MiB

// ingestHandler holds dependencies for the ingest API endpoint.
type ingestHandler struct {
	ingester Ingester
	logger   *slog.Logger
}

// ingestRequest is the request body for POST /api/v1/ingest.
type ingestRequest struct {
	SourceName  string `json:"source_name"`
	Service     string `json:"service,omitempty"`
	Environment string `json:"environment,omitempty"`
	Content     string `json:"content"`
}

// ingest handles POST /api/v1/ingest — parses, stores and embeds the
// submitted log content, returning the finished batch with 201.
func (h *ingestHandler) ingest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBody)

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large", h.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}

	if strings.TrimSpace(req.SourceName) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "source_name is required", h.logger)
		return
	}
	// Rejecting empty content here avoids recording a failed batch for a
	// request that was never going to produce events.
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "content is required", h.logger)
		return
	}

	batch, err := h.ingester.Ingest(r.Context(), ingest.Request{
		SourceName:  req.SourceName,
		SourceType:  logstore.SourceTypeAPI,
		Service:     req.Service,
		Environment: req.Environment,
	}, strings.NewReader(req.Content))
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, batch)
}
