package reputation

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agenteconomy/trustplane/internal/apperror"
	"github.com/agenteconomy/trustplane/internal/httpkit"
)

type tokenRequest struct {
	Token string `json:"token"`
}

// RegisterRoutes wires the Reputation recorder's HTTP surface
// (SPEC_FULL.md §7).
func RegisterRoutes(router *mux.Router, svc *Service, maxBody int64) {
	h := &handlers{svc: svc}
	mutating := httpkit.MaxBodyBytes(maxBody, httpkit.RequireContentType("application/json", h.recordFeedback))

	router.HandleFunc("/feedback", mutating).Methods(http.MethodPost)
	router.HandleFunc("/agents/{agent_id}/feedback", h.listForAgent).Methods(http.MethodGet)
}

type handlers struct {
	svc *Service
}

func (h *handlers) recordFeedback(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteError(w, err)
		return
	}
	if req.Token == "" {
		httpkit.WriteError(w, apperror.Code("MISSING_FIELD", "token is required"))
		return
	}
	f, apiErr := h.svc.RecordFeedback(r.Context(), req.Token)
	if apiErr != nil {
		httpkit.WriteError(w, apiErr)
		return
	}
	httpkit.WriteJSON(w, http.StatusCreated, f)
}

func (h *handlers) listForAgent(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]
	entries, apiErr := h.svc.ListForAgent(r.Context(), agentID)
	if apiErr != nil {
		httpkit.WriteError(w, apiErr)
		return
	}
	if entries == nil {
		entries = []Feedback{}
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"feedback": entries})
}
