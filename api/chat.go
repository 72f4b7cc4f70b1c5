package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/resolver"
)

// Chat handles POST /api/v1/chat/{conversation_id}/messages.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	scope, _ := bursar.ScopeFrom(r.Context())
	var req chatRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	reply, err := h.resolver.Handle(r.Context(), resolver.Message{
		ConversationID: mux.Vars(r)["conversation_id"],
		SchoolID:       scope.SchoolID,
		UserID:         scope.UserID,
		Text:           req.Text,
		History:        req.History,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
