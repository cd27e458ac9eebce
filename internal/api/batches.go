package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/logsift/logsift/internal/logstore"
)

// batchHandler holds dependencies for the batch API endpoints.
type batchHandler struct {
	store  BatchStore
	logger *slog.Logger
}

// listBatches handles GET /api/v1/batches?status=...&limit=... —
// returns batches newest first.
func (h *batchHandler) listBatches(w http.ResponseWriter, r *http.Request) {
	status := logstore.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_input",
			fmt.Sprintf("unknown status %q", status), h.logger)
		return
	}

	limit := parseIntParam(r, "limit", 0) // 0 → store default

	batches, err := h.store.ListBatches(r.Context(), status, limit)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	if batches == nil {
		batches = []logstore.Batch{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"batches": batches,
		"count":   len(batches),
	})
}

// getBatch handles GET /api/v1/batches/{id} — returns a single batch.
func (h *batchHandler) getBatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid batch ID", h.logger)
		return
	}

	batch, err := h.store.GetBatch(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, batch)
}

// deleteBatch handles DELETE /api/v1/batches/{id} — removes a batch
// and, via the cascading foreign key, all its events.
func (h *batchHandler) deleteBatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid batch ID", h.logger)
		return
	}

	if err := h.store.DeleteBatch(r.Context(), id); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	h.logger.Info("batch deleted via api", "batch", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
