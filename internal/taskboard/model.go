// Package taskboard implements the Task Board service: the task lifecycle
// state machine, sealed bidding, asset uploads, and lazy deadline evaluation
// (spec.md §4.3).
package taskboard

// Status enumerates a task's lifecycle state (spec.md §4.3).
type Status string

const (
	StatusOpen      Status = "open"
	StatusAccepted  Status = "accepted"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusDisputed  Status = "disputed"
	StatusRuled     Status = "ruled"
)

// Terminal reports whether a status accepts no further mutation (spec.md
// §4.3: "Once terminal, every mutation returns INVALID_STATUS").
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusCancelled, StatusExpired, StatusRuled:
		return true
	}
	return false
}

// Task is the persisted row (spec.md §3). Deadlines are stored as a
// duration in seconds plus whichever anchor timestamp they measure from;
// the wall-clock deadline is recomputed on every read, never stored.
type Task struct {
	TaskID      string `json:"task_id"`
	PosterID    string `json:"poster_id"`
	Title       string `json:"title"`
	Spec        string `json:"spec"`
	Reward      int64  `json:"reward"`

	BiddingDeadlineSec   int `json:"bidding_deadline_sec"`
	ExecutionDeadlineSec int `json:"execution_deadline_sec"`
	ReviewDeadlineSec    int `json:"review_deadline_sec"`

	EscrowID       string  `json:"escrow_id"`
	WorkerID       *string `json:"worker_id,omitempty"`
	AcceptedBidID  *string `json:"accepted_bid_id,omitempty"`
	Status         Status  `json:"status"`

	CreatedAt   string  `json:"created_at"`
	AcceptedAt  *string `json:"accepted_at,omitempty"`
	SubmittedAt *string `json:"submitted_at,omitempty"`
	ApprovedAt  *string `json:"approved_at,omitempty"`
	CancelledAt *string `json:"cancelled_at,omitempty"`
	ExpiredAt   *string `json:"expired_at,omitempty"`
	DisputedAt  *string `json:"disputed_at,omitempty"`
	RuledAt     *string `json:"ruled_at,omitempty"`

	DisputeReason *string `json:"dispute_reason,omitempty"`
	RulingID      *string `json:"ruling_id,omitempty"`
	WorkerPct     *int    `json:"worker_pct,omitempty"`
	RulingSummary *string `json:"ruling_summary,omitempty"`
}

// Bid is an immutable bid row (spec.md §3).
type Bid struct {
	BidID       string `json:"bid_id"`
	TaskID      string `json:"task_id"`
	BidderID    string `json:"bidder_id"`
	Amount      int64  `json:"amount"`
	SubmittedAt string `json:"submitted_at"`
}

// Asset is an immutable uploaded deliverable (spec.md §3).
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

// CreateTaskPayload is the envelope payload for action "create_task".
type CreateTaskPayload struct {
	Action               string `json:"action"`
	TaskID               string `json:"task_id"`
	Title                string `json:"title"`
	Spec                 string `json:"spec"`
	Reward               int64  `json:"reward"`
	BiddingDeadlineSec   int    `json:"bidding_deadline_sec"`
	ExecutionDeadlineSec int    `json:"execution_deadline_sec"`
	ReviewDeadlineSec    int    `json:"review_deadline_sec"`
}

// EscrowLockPayload is the paired envelope's payload (must match action
// "escrow_lock" on Central Bank; Task Board only reads task_id/amount/kid
// out of it for cross-validation, then forwards the raw token).
type EscrowLockPayload struct {
	Action    string `json:"action"`
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
	TaskID    string `json:"task_id"`
}

// CancelTaskPayload is the envelope payload for action "cancel_task".
type CancelTaskPayload struct {
	Action string `json:"action"`
	TaskID string `json:"task_id"`
}

// SubmitBidPayload is the envelope payload for action "submit_bid".
type SubmitBidPayload struct {
	Action string `json:"action"`
	TaskID string `json:"task_id"`
	Amount int64  `json:"amount"`
}

// AcceptBidPayload is the envelope payload for action "accept_bid".
type AcceptBidPayload struct {
	Action string `json:"action"`
	TaskID string `json:"task_id"`
	BidID  string `json:"bid_id"`
}

// SubmitDeliverablePayload is the envelope payload for action
// "submit_deliverable".
type SubmitDeliverablePayload struct {
	Action string `json:"action"`
	TaskID string `json:"task_id"`
}

// ApproveTaskPayload is the envelope payload for action "approve_task".
type ApproveTaskPayload struct {
	Action string `json:"action"`
	TaskID string `json:"task_id"`
}

// DisputeTaskPayload is the envelope payload for action "dispute_task".
type DisputeTaskPayload struct {
	Action string `json:"action"`
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// RecordRulingPayload is the envelope payload for action "record_ruling"
// (also accepted under the legacy alias "submit_ruling", spec.md §9).
type RecordRulingPayload struct {
	Action        string `json:"action"`
	TaskID        string `json:"task_id"`
	RulingID      string `json:"ruling_id"`
	WorkerPct     int    `json:"worker_pct"`
	RulingSummary string `json:"ruling_summary"`
}
