package taskboard

import (
	"mime"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agenteconomy/trustplane/internal/apperror"
	"github.com/agenteconomy/trustplane/internal/httpkit"
)

// tokenRequest is the shared {"token":"<envelope>"} body shape (spec.md §6.2).
type tokenRequest struct {
	Token string `json:"token"`
}

// createTaskRequest is create_task's two-envelope body shape.
type createTaskRequest struct {
	TaskToken   string `json:"task_token"`
	EscrowToken string `json:"escrow_token"`
}

// RegisterRoutes wires the Task Board HTTP surface (spec.md §4.3).
func RegisterRoutes(router *mux.Router, svc *Service, maxBody, maxUploadBody int64) {
	h := &handlers{svc: svc}

	mutating := func(fn http.HandlerFunc) http.HandlerFunc {
		return httpkit.MaxBodyBytes(maxBody, httpkit.RequireContentType("application/json", fn))
	}

	router.HandleFunc("/tasks", mutating(h.createTask)).Methods(http.MethodPost)
	router.HandleFunc("/tasks", h.listTasks).Methods(http.MethodGet)
	router.HandleFunc("/tasks/{task_id}", h.getTask).Methods(http.MethodGet)
	router.HandleFunc("/tasks/cancel", mutating(h.cancelTask)).Methods(http.MethodPost)
	router.HandleFunc("/tasks/bids", mutating(h.submitBid)).Methods(http.MethodPost)
	router.HandleFunc("/tasks/{task_id}/bids", h.listBids).Methods(http.MethodGet)
	router.HandleFunc("/tasks/accept_bid", mutating(h.acceptBid)).Methods(http.MethodPost)
	router.HandleFunc("/tasks/{task_id}/assets", httpkit.MaxBodyBytes(maxUploadBody, h.uploadAsset)).Methods(http.MethodPost)
	router.HandleFunc("/tasks/{task_id}/assets", h.listAssets).Methods(http.MethodGet)
	router.HandleFunc("/tasks/submit_deliverable", mutating(h.submitDeliverable)).Methods(http.MethodPost)
	router.HandleFunc("/tasks/approve", mutating(h.approveTask)).Methods(http.MethodPost)
	router.HandleFunc("/tasks/dispute", mutating(h.disputeTask)).Methods(http.MethodPost)
	router.HandleFunc("/tasks/record_ruling", mutating(h.recordRuling)).Methods(http.MethodPost)
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

func (h *handlers) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteError(w, err)
		return
	}
	if req.TaskToken == "" || req.EscrowToken == "" {
		httpkit.WriteError(w, apperror.Code("MISSING_FIELD", "task_token and escrow_token are both required"))
		return
	}
	t, apiErr := h.svc.CreateTask(r.Context(), req.TaskToken, req.EscrowToken)
	if apiErr != nil {
		httpkit.WriteError(w, apiErr)
		return
	}
	httpkit.WriteJSON(w, http.StatusCreated, t)
}

func (h *handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, apiErr := h.svc.ListTasks(r.Context())
	if apiErr != nil {
		httpkit.WriteError(w, apiErr)
		return
	}
	if tasks == nil {
		tasks = []Task{}
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (h *handlers) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]
	t, apiErr := h.svc.GetTask(r.Context(), taskID)
	if apiErr != nil {
		httpkit.WriteError(w, apiErr)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, t)
}

func (h *handlers) cancelTask(w http.ResponseWriter, r *http.Request) {
	token, ok := decodeToken(r, w)
	if !ok {
		return
	}
	t, apiErr := h.svc.CancelTask(r.Context(), token)
	if apiErr != nil {
		httpkit.WriteError(w, apiErr)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, t)
}

func (h *handlers) submitBid(w http.ResponseWriter, r *http.Request) {
	token, ok := decodeToken(r, w)
	if !ok {
		return
	}
	bid, apiErr := h.svc.SubmitBid(r.Context(), token)
	if apiErr != nil {
		httpkit.WriteError(w, apiErr)
		return
	}
	httpkit.WriteJSON(w, http.StatusCreated, bid)
}

func (h *handlers) listBids(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]
	bearer := httpkit.BearerToken(r)
	bids, apiErr := h.svc.ListBids(r.Context(), taskID, bearer)
	if apiErr != nil {
		httpkit.WriteError(w, apiErr)
		return
	}
	if bids == nil {
		bids = []Bid{}
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"bids": bids})
}

func (h *handlers) acceptBid(w http.ResponseWriter, r *http.Request) {
	token, ok := decodeToken(r, w)
	if !ok {
		return
	}
	t, apiErr := h.svc.AcceptBid(r.Context(), token)
	if apiErr != nil {
		httpkit.WriteError(w, apiErr)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, t)
}

// uploadAsset handles multipart asset upload, authenticated via an
// Authorization: Bearer envelope rather than a JSON token field (spec.md
// §6.2).
func (h *handlers) uploadAsset(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]
	bearer := httpkit.BearerToken(r)
	if bearer == "" {
		httpkit.WriteError(w, apperror.Code("FORBIDDEN", "a bearer envelope is required to upload an asset"))
		return
	}

	ct := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || mediaType != "multipart/form-data" {
		httpkit.WriteError(w, apperror.Code("UNSUPPORTED_MEDIA_TYPE", "expected multipart/form-data"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httpkit.WriteError(w, apperror.Code("MISSING_FIELD", "file is required"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	asset, apiErr := h.svc.UploadAsset(r.Context(), bearer, taskID, header.Filename, contentType, file)
	if apiErr != nil {
		httpkit.WriteError(w, apiErr)
		return
	}
	httpkit.WriteJSON(w, http.StatusCreated, asset)
}

func (h *handlers) listAssets(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]
	assets, apiErr := h.svc.ListAssets(r.Context(), taskID)
	if apiErr != nil {
		httpkit.WriteError(w, apiErr)
		return
	}
	if assets == nil {
		assets = []Asset{}
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"assets": assets})
}

func (h *handlers) submitDeliverable(w http.ResponseWriter, r *http.Request) {
	token, ok := decodeToken(r, w)
	if !ok {
		return
	}
	t, apiErr := h.svc.SubmitDeliverable(r.Context(), token)
	if apiErr != nil {
		httpkit.WriteError(w, apiErr)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, t)
}

func (h *handlers) approveTask(w http.ResponseWriter, r *http.Request) {
	token, ok := decodeToken(r, w)
	if !ok {
		return
	}
	t, apiErr := h.svc.ApproveTask(r.Context(), token)
	if apiErr != nil {
		httpkit.WriteError(w, apiErr)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, t)
}

func (h *handlers) disputeTask(w http.ResponseWriter, r *http.Request) {
	token, ok := decodeToken(r, w)
	if !ok {
		return
	}
	t, apiErr := h.svc.DisputeTask(r.Context(), token)
	if apiErr != nil {
		httpkit.WriteError(w, apiErr)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, t)
}

func (h *handlers) recordRuling(w http.ResponseWriter, r *http.Request) {
	token, ok := decodeToken(r, w)
	if !ok {
		return
	}
	t, apiErr := h.svc.RecordRuling(r.Context(), token)
	if apiErr != nil {
		httpkit.WriteError(w, apiErr)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, t)
}
