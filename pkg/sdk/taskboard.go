package sdk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// Task mirrors taskboard.Task.
type Task struct {
	TaskID               string  `json:"task_id"`
	PosterID             string  `json:"poster_id"`
	Title                string  `json:"title"`
	Spec                 string  `json:"spec"`
	Reward               int64   `json:"reward"`
	BiddingDeadlineSec   int     `json:"bidding_deadline_sec"`
	ExecutionDeadlineSec int     `json:"execution_deadline_sec"`
	ReviewDeadlineSec    int     `json:"review_deadline_sec"`
	EscrowID             string  `json:"escrow_id"`
	WorkerID             *string `json:"worker_id,omitempty"`
	AcceptedBidID        *string `json:"accepted_bid_id,omitempty"`
	Status               string  `json:"status"`
	CreatedAt            string  `json:"created_at"`
	AcceptedAt           *string `json:"accepted_at,omitempty"`
	SubmittedAt          *string `json:"submitted_at,omitempty"`
	ApprovedAt           *string `json:"approved_at,omitempty"`
	CancelledAt          *string `json:"cancelled_at,omitempty"`
	ExpiredAt            *string `json:"expired_at,omitempty"`
	DisputedAt           *string `json:"disputed_at,omitempty"`
	RuledAt              *string `json:"ruled_at,omitempty"`
	DisputeReason        *string `json:"dispute_reason,omitempty"`
	RulingID             *string `json:"ruling_id,omitempty"`
	WorkerPct            *int    `json:"worker_pct,omitempty"`
	RulingSummary        *string `json:"ruling_summary,omitempty"`
}

// Bid mirrors taskboard.Bid.
type Bid struct {
	BidID       string `json:"bid_id"`
	TaskID      string `json:"task_id"`
	BidderID    string `json:"bidder_id"`
	Amount      int64  `json:"amount"`
	SubmittedAt string `json:"submitted_at"`
}

// Asset mirrors taskboard.Asset.
type Asset struct {
	AssetID     string `json:"asset_id"`
	TaskID      string `json:"task_id"`
	UploaderID  string `json:"uploader_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
	UploadedAt  string `json:"uploaded_at"`
	StoragePath string `json:"storage_path"`
}

// CreateTaskParams bundles create_task's fields; escrowToken must be a
// separate escrow_lock envelope signed by the same agent for the same
// task_id and an amount equal to reward (spec.md §4.3), typically built
// with Client.EscrowLockToken.
type CreateTaskParams struct {
	TaskID               string
	Title                string
	Spec                 string
	Reward               int64
	BiddingDeadlineSec   int
	ExecutionDeadlineSec int
	ReviewDeadlineSec    int
}

// CreateTask posts the two-envelope create_task body (spec.md §6.2).
func (c *Client) CreateTask(ctx context.Context, p CreateTaskParams, escrowToken string) (*Task, error) {
	if c.cfg.TaskBoardURL == "" {
		return nil, fmt.Errorf("sdk: no task board base URL configured")
	}
	taskToken, err := c.Sign(map[string]any{
		"action": "create_task", "task_id": p.TaskID, "title": p.Title, "spec": p.Spec,
		"reward": p.Reward, "bidding_deadline_sec": p.BiddingDeadlineSec,
		"execution_deadline_sec": p.ExecutionDeadlineSec, "review_deadline_sec": p.ReviewDeadlineSec,
	})
	if err != nil {
		return nil, fmt.Errorf("sdk: sign task_token: %w", err)
	}
	var t Task
	body := map[string]string{"task_token": taskToken, "escrow_token": escrowToken}
	if err := c.do(ctx, http.MethodPost, c.cfg.TaskBoardURL+"/tasks", body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTask fetches a task by id. Public, unauthenticated.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var t Task
	if err := c.do(ctx, http.MethodGet, c.cfg.TaskBoardURL+"/tasks/"+taskID, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks lists every task.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var out struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, c.cfg.TaskBoardURL+"/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// CancelTask cancels an open task the caller posted.
func (c *Client) CancelTask(ctx context.Context, taskID string) (*Task, error) {
	var t Task
	payload := map[string]any{"action": "cancel_task", "task_id": taskID}
	if err := c.postToken(ctx, c.cfg.TaskBoardURL, "/tasks/cancel", payload, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// SubmitBid bids amount on taskID.
func (c *Client) SubmitBid(ctx context.Context, taskID string, amount int64) (*Bid, error) {
	var bid Bid
	payload := map[string]any{"action": "submit_bid", "task_id": taskID, "amount": amount}
	if err := c.postToken(ctx, c.cfg.TaskBoardURL, "/tasks/bids", payload, &bid); err != nil {
		return nil, err
	}
	return &bid, nil
}

// ListBids lists bids on taskID. While the task is open the listing is
// sealed to the poster; the caller authenticates itself by signing a
// bearer envelope, which is ignored entirely once bidding has closed.
func (c *Client) ListBids(ctx context.Context, taskID string) ([]Bid, error) {
	token, err := c.Sign(map[string]any{"action": "read"})
	if err != nil {
		return nil, err
	}
	req, err := newBearerRequest(ctx, c.cfg.TaskBoardURL+"/tasks/"+taskID+"/bids", token)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	var out struct {
		Bids []Bid `json:"bids"`
	}
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return out.Bids, nil
}

// AcceptBid accepts bidID on taskID.
func (c *Client) AcceptBid(ctx context.Context, taskID, bidID string) (*Task, error) {
	var t Task
	payload := map[string]any{"action": "accept_bid", "task_id": taskID, "bid_id": bidID}
	if err := c.postToken(ctx, c.cfg.TaskBoardURL, "/tasks/accept_bid", payload, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UploadAsset uploads a deliverable as the assigned worker, authenticated
// with a bearer envelope rather than a JSON body (spec.md §6.2).
func (c *Client) UploadAsset(ctx context.Context, taskID, filename, contentType string, content io.Reader) (*Asset, error) {
	token, err := c.Sign(map[string]any{"action": "upload_asset", "task_id": taskID})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("sdk: build multipart body: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("sdk: copy asset content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("sdk: close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TaskBoardURL+"/tasks/"+taskID+"/assets", &buf)
	if err != nil {
		return nil, fmt.Errorf("sdk: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sdk: upload asset: %w", err)
	}
	var asset Asset
	if err := decodeResponse(resp, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

// ListAssets lists a task's uploaded deliverables. Public.
func (c *Client) ListAssets(ctx context.Context, taskID string) ([]Asset, error) {
	var out struct {
		Assets []Asset `json:"assets"`
	}
	if err := c.do(ctx, http.MethodGet, c.cfg.TaskBoardURL+"/tasks/"+taskID+"/assets", nil, &out); err != nil {
		return nil, err
	}
	return out.Assets, nil
}

// SubmitDeliverable marks an accepted task submitted, as the assigned worker.
func (c *Client) SubmitDeliverable(ctx context.Context, taskID string) (*Task, error) {
	var t Task
	payload := map[string]any{"action": "submit_deliverable", "task_id": taskID}
	if err := c.postToken(ctx, c.cfg.TaskBoardURL, "/tasks/submit_deliverable", payload, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ApproveTask approves a submitted task, releasing escrow to the worker.
func (c *Client) ApproveTask(ctx context.Context, taskID string) (*Task, error) {
	var t Task
	payload := map[string]any{"action": "approve_task", "task_id": taskID}
	if err := c.postToken(ctx, c.cfg.TaskBoardURL, "/tasks/approve", payload, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// DisputeTask disputes a submitted task, as the poster.
func (c *Client) DisputeTask(ctx context.Context, taskID, reason string) (*Task, error) {
	var t Task
	payload := map[string]any{"action": "dispute_task", "task_id": taskID, "reason": reason}
	if err := c.postToken(ctx, c.cfg.TaskBoardURL, "/tasks/dispute", payload, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
