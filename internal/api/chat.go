package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/logsift/logsift/internal/rag"
)

// maxChatBody caps POST /api/v1/chat request bodies.
const maxChatBody = 64 << 10 // 64 KiB

// chatHandler holds dependencies for the chat API endpoint.
type chatHandler struct {
	asker  Asker
	logger *slog.Logger
}

// chatRequest is the request body for POST /api/v1/chat.
type chatRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

// chatResponse flattens the answer fields and adds the turn rendering
// of the exchange, so conversational clients need not re-derive it.
type chatResponse struct {
	*rag.Answer
	Turns []rag.ChatTurn `json:"turns"`
}

// chat handles POST /api/v1/chat — answers the question from the
// ingested logs. A degraded answer (model failure) is still a 200; the
// response carries degraded=true and no sources.
func (h *chatHandler) chat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large", h.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}

	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "question is required", h.logger)
		return
	}

	var opts []rag.AskOption
	if req.TopK > 0 {
		opts = append(opts, rag.WithTopK(req.TopK))
	}

	answer, err := h.asker.Ask(r.Context(), req.Question, opts...)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Answer: answer,
		Turns:  answer.Turns(req.Question),
	})
}
