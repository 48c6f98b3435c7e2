package court

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agenteconomy/trustplane/internal/apperror"
	"github.com/agenteconomy/trustplane/internal/httpkit"
)

// tokenRequest is the shared {"token":"<envelope>"} body shape (spec.md §6.2).
type tokenRequest struct {
	Token string `json:"token"`
}

// RegisterRoutes wires Court's HTTP surface (spec.md §4.4).
func RegisterRoutes(router *mux.Router, svc *Service, maxBody int64) {
	h := &handlers{svc: svc}

	mutating := func(fn http.HandlerFunc) http.HandlerFunc {
		return httpkit.MaxBodyBytes(maxBody, httpkit.RequireContentType("application/json", fn))
	}

	router.HandleFunc("/disputes", mutating(h.fileDispute)).Methods(http.MethodPost)
	router.HandleFunc("/disputes/{dispute_id}", h.get).Methods(http.MethodGet)
	router.HandleFunc("/disputes/rebuttal", mutating(h.submitRebuttal)).Methods(http.MethodPost)
	router.HandleFunc("/disputes/execute_ruling", mutating(h.executeRuling)).Methods(http.MethodPost)
}

type handlers struct {
	svc *Service
}

func decodeToken(r *http.Request, w http.ResponseWriter) (string, bool) {
	var req tokenRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteError(w, err)
		return "", false
	}
	if req.Token == "" {
		httpkit.WriteError(w, apperror.Code("MISSING_FIELD", "token is required"))
		return "", false
	}
	return req.Token, true
}

func (h *handlers) fileDispute(w http.ResponseWriter, r *http.Request) {
	token, ok := decodeToken(r, w)
	if !ok {
		return
	}
	d, apiErr := h.svc.FileDispute(r.Context(), token)
	if apiErr != nil {
		httpkit.WriteError(w, apiErr)
		return
	}
	httpkit.WriteJSON(w, http.StatusCreated, d)
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	d, apiErr := h.svc.Get(r.Context(), mux.Vars(r)["dispute_id"])
	if apiErr != nil {
		httpkit.WriteError(w, apiErr)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, d)
}

func (h *handlers) submitRebuttal(w http.ResponseWriter, r *http.Request) {
	token, ok := decodeToken(r, w)
	if !ok {
		return
	}
	d, apiErr := h.svc.SubmitRebuttal(r.Context(), token)
	if apiErr != nil {
		httpkit.WriteError(w, apiErr)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, d)
}

func (h *handlers) executeRuling(w http.ResponseWriter, r *http.Request) {
	token, ok := decodeToken(r, w)
	if !ok {
		return
	}
	d, apiErr := h.svc.ExecuteRuling(r.Context(), token)
	if apiErr != nil {
		httpkit.WriteError(w, apiErr)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, d)
}
