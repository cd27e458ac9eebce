package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/logsift/logsift/internal/search"
)

// maxSearchQueryLength is the maximum allowed search query length in bytes.
const maxSearchQueryLength = 1000

// defaultSearchTopK is the result count when the caller omits k.
const defaultSearchTopK = 10

// searchHandler holds dependencies for the search API endpoint.
type searchHandler struct {
	searcher Searcher
	logger   *slog.Logger
}

// search handles GET /api/v1/search?q=...&k=10&service=...&level=...&from=...&to=...
// Returns similarity search results in ascending distance order.
func (h *searchHandler) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "query parameter 'q' is required", h.logger)
		return
	}
	if len(query) > maxSearchQueryLength {
		writeError(w, http.StatusBadRequest, "query_too_long", "query must be 1000 characters or fewer", h.logger)
		return
	}

	topK := parseIntParam(r, "k", defaultSearchTopK)

	filters, err := parseFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time", err.Error(), h.logger)
		return
	}

	results, err := h.searcher.SearchText(r.Context(), query, topK, filters)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	if results == nil {
		results = []search.Result{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

// parseFilters reads the service/level/from/to query parameters.
// Timestamps must be RFC 3339.
func parseFilters(r *http.Request) (search.Filters, error) {
	f := search.Filters{
		Service: r.URL.Query().Get("service"),
		Level:   r.URL.Query().Get("level"),
	}

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid 'from' time %q, want RFC 3339", v)
		}
		f.From = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid 'to' time %q, want RFC 3339", v)
		}
		f.To = t
	}

	return f, nil
}

// parseIntParam reads an integer query parameter, falling back to def
// when the parameter is absent or not a number.
func parseIntParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
