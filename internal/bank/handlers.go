package bank

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

// RegisterRoutes wires the Central Bank HTTP surface (spec.md §4.2).
func RegisterRoutes(router *mux.Router, svc *Service, maxBody int64) {
	h := &handlers{svc: svc}

	mutating := func(fn http.HandlerFunc) http.HandlerFunc {
		return httpkit.MaxBodyBytes(maxBody, httpkit.RequireContentType("application/json", fn))
	}

	router.HandleFunc("/accounts", mutating(h.createAccount)).Methods(http.MethodPost)
	router.HandleFunc("/accounts/{account_id}", h.getAccount).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{account_id}/transactions", h.listTransactions).Methods(http.MethodGet)
	router.HandleFunc("/credit", mutating(h.credit)).Methods(http.MethodPost)
	router.HandleFunc("/escrow/lock", mutating(h.escrowLock)).Methods(http.MethodPost)
	router.HandleFunc("/escrow/release", mutating(h.escrowRelease)).Methods(http.MethodPost)
	router.HandleFunc("/escrow/split", mutating(h.escrowSplit)).Methods(http.MethodPost)
	router.HandleFunc("/escrow/{escrow_id}", h.getEscrow).Methods(http.MethodGet)
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

func (h *handlers) createAccount(w http.ResponseWriter, r *http.Request) {
	token, ok := decodeToken(r, w)
	if !ok {
		return
	}
	acc, err := h.svc.CreateAccount(r.Context(), token)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusCreated, acc)
}

// requesterID identifies the caller for read endpoints. Reads are GETs
// with no request body per spec.md §4.2 ("the account owner or platform
// may read"); the identity is carried as a signed bearer envelope rather
// than a body, matching the upload transport pattern already used in §6.2.
func requesterID(r *http.Request, svc *Service) (string, *apperror.Error) {
	token := httpkit.BearerToken(r)
	if token == "" {
		return "", apperror.Code("FORBIDDEN", "a bearer envelope is required to read account data")
	}
	return svc.auth.identityAgentID(r.Context(), token)
}

func (h *handlers) getAccount(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["account_id"]
	requester, apiErr := requesterID(r, h.svc)
	if apiErr != nil {
		httpkit.WriteError(w, apiErr)
		return
	}
	acc, err := h.svc.GetAccount(r.Context(), accountID, requester)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, acc)
}

func (h *handlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["account_id"]
	requester, apiErr := requesterID(r, h.svc)
	if apiErr != nil {
		httpkit.WriteError(w, apiErr)
		return
	}
	txs, err := h.svc.ListTransactions(r.Context(), accountID, requester)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	if txs == nil {
		txs = []Transaction{}
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (h *handlers) credit(w http.ResponseWriter, r *http.Request) {
	token, ok := decodeToken(r, w)
	if !ok {
		return
	}
	tx, err := h.svc.Credit(r.Context(), token)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, tx)
}

func (h *handlers) escrowLock(w http.ResponseWriter, r *http.Request) {
	token, ok := decodeToken(r, w)
	if !ok {
		return
	}
	escrow, err := h.svc.Lock(r.Context(), token)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusCreated, escrow)
}

func (h *handlers) escrowRelease(w http.ResponseWriter, r *http.Request) {
	token, ok := decodeToken(r, w)
	if !ok {
		return
	}
	escrow, err := h.svc.Release(r.Context(), token)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, escrow)
}

func (h *handlers) escrowSplit(w http.ResponseWriter, r *http.Request) {
	token, ok := decodeToken(r, w)
	if !ok {
		return
	}
	escrow, err := h.svc.Split(r.Context(), token)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, escrow)
}

func (h *handlers) getEscrow(w http.ResponseWriter, r *http.Request) {
	escrowID := mux.Vars(r)["escrow_id"]
	escrow, err := h.svc.GetEscrow(r.Context(), escrowID)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, escrow)
}
