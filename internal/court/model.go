// Package court implements the dispute orchestrator: filing, rebuttal,
// multi-judge ruling, and the all-or-nothing compensation discipline that
// drives Central Bank, Task Board, and Reputation side-effects (spec.md
// §4.4).
package court

// Status enumerates a dispute's lifecycle state.
type Status string

const (
	StatusRebuttalPending Status = "rebuttal_pending"
	StatusJudging         Status = "judging"
	StatusRuled           Status = "ruled"
)

// Dispute is the persisted row (spec.md §3). PosterID/WorkerID are captured
// from the task at filing time: Central Bank's escrow_split needs the
// actual poster/worker accounts, which do not always line up with
// claimant/respondent (either party may file).
type Dispute struct {
	DisputeID       string  `json:"dispute_id"`
	TaskID          string  `json:"task_id"`
	ClaimantID      string  `json:"claimant_id"`
	RespondentID    string  `json:"respondent_id"`
	PosterID        string  `json:"poster_id"`
	WorkerID        string  `json:"worker_id"`
	Claim           string  `json:"claim"`
	Rebuttal        *string `json:"rebuttal,omitempty"`
	EscrowID        string  `json:"escrow_id"`
	Status          Status  `json:"status"`
	FiledAt         string  `json:"filed_at"`
	RebuttalDeadline string `json:"rebuttal_deadline"`
	RuledAt         *string `json:"ruled_at,omitempty"`
	WorkerPct       *int    `json:"worker_pct,omitempty"`
	RulingSummary   *string `json:"ruling_summary,omitempty"`
}

// Vote is one judge's normalized ruling input, persisted only once the
// ruling is committed (spec.md §3, §4.4).
type Vote struct {
	VoteID     string `json:"vote_id"`
	DisputeID  string `json:"dispute_id"`
	JudgeID    string `json:"judge_id"`
	WorkerPct  int    `json:"worker_pct"`
	Reasoning  string `json:"reasoning"`
	VotedAt    string `json:"voted_at"`
}

// FileDisputePayload is the envelope payload for action "file_dispute".
type FileDisputePayload struct {
	Action string `json:"action"`
	TaskID string `json:"task_id"`
	Claim  string `json:"claim"`
}

// SubmitRebuttalPayload is the envelope payload for action
// "submit_rebuttal".
type SubmitRebuttalPayload struct {
	Action    string `json:"action"`
	DisputeID string `json:"dispute_id"`
	Rebuttal  string `json:"rebuttal"`
}

// ExecuteRulingPayload is the envelope payload for action "execute_ruling",
// platform-signed.
type ExecuteRulingPayload struct {
	Action    string `json:"action"`
	DisputeID string `json:"dispute_id"`
}

// JudgeContext is what every configured judge receives (spec.md §4.4).
type JudgeContext struct {
	TaskSpec     string   `json:"task_spec"`
	Deliverables []string `json:"deliverables"`
	Claim        string   `json:"claim"`
	Rebuttal     string   `json:"rebuttal"`
}

// JudgeVote is a judge's normalized response before persistence.
type JudgeVote struct {
	JudgeID   string `json:"judge_id"`
	WorkerPct int    `json:"worker_pct"`
	Reasoning string `json:"reasoning"`
	VotedAt   string `json:"voted_at"`
}
