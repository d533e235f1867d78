package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"perfeval-dashboard/internal/chat"
	"perfeval-dashboard/internal/models"
)

type ChatHandler struct {
	ctx     context.Context
	session *chat.Session
}

func NewChatHandler(ctx context.Context, session *chat.Session) *ChatHandler {
	return &ChatHandler{ctx: ctx, session: session}
}

func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// Send appends the user's message and returns before the lecturer replies.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if err := h.session.StartSend(h.ctx, req.Message); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.session.Snapshot())
}

func (h *ChatHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.session.Reset()
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}
