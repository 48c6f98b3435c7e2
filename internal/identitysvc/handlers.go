package identitysvc

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agenteconomy/trustplane/internal/apperror"
	"github.com/agenteconomy/trustplane/internal/httpkit"
)

// RegisterRoutes wires the Identity HTTP surface onto router (spec.md §4.1):
// POST /agents, GET /agents/{agent_id}, GET /agents, POST /verify.
func RegisterRoutes(router *mux.Router, svc *Service, maxBody int64) {
	h := &handlers{svc: svc}

	router.HandleFunc("/agents",
		httpkit.MaxBodyBytes(maxBody, httpkit.RequireContentType("application/json", h.register))).Methods(http.MethodPost)
	router.HandleFunc("/agents/{agent_id}", h.get).Methods(http.MethodGet)
	router.HandleFunc("/agents", h.list).Methods(http.MethodGet)
	router.HandleFunc("/verify",
		httpkit.MaxBodyBytes(maxBody, httpkit.RequireContentType("application/json", h.verify))).Methods(http.MethodPost)
}

type handlers struct {
	svc *Service
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteError(w, err)
		return
	}

	agent, err := h.svc.Register(r.Context(), req)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusCreated, agent)
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]
	agent, err := h.svc.Get(r.Context(), agentID)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, agent)
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	agents, err := h.svc.List(r.Context())
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	if agents == nil {
		agents = []Agent{}
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (h *handlers) verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteError(w, err)
		return
	}
	if req.Token == "" {
		httpkit.WriteError(w, apperror.Code("MISSING_FIELD", "token is required"))
		return
	}

	resp, err := h.svc.Verify(r.Context(), req.Token)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, resp)
}
