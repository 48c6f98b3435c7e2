package sdk

import (
	"context"
	"net/http"
)

// Dispute mirrors court.Dispute.
type Dispute struct {
	DisputeID        string  `json:"dispute_id"`
	TaskID           string  `json:"task_id"`
	ClaimantID       string  `json:"claimant_id"`
	RespondentID     string  `json:"respondent_id"`
	PosterID         string  `json:"poster_id"`
	WorkerID         string  `json:"worker_id"`
	Claim            string  `json:"claim"`
	Rebuttal         *string `json:"rebuttal,omitempty"`
	EscrowID         string  `json:"escrow_id"`
	Status           string  `json:"status"`
	FiledAt          string  `json:"filed_at"`
	RebuttalDeadline string  `json:"rebuttal_deadline"`
	RuledAt          *string `json:"ruled_at,omitempty"`
	WorkerPct        *int    `json:"worker_pct,omitempty"`
	RulingSummary    *string `json:"ruling_summary,omitempty"`
}

// FileDispute opens a dispute on taskID. Either the poster or the assigned
// worker may file (spec.md §4.4); Court resolves claimant/respondent from
// whichever side signed.
func (c *Client) FileDispute(ctx context.Context, taskID, claim string) (*Dispute, error) {
	var d Dispute
	payload := map[string]any{"action": "file_dispute", "task_id": taskID, "claim": claim}
	if err := c.postToken(ctx, c.cfg.CourtURL, "/disputes", payload, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDispute reads a dispute by id. Public.
func (c *Client) GetDispute(ctx context.Context, disputeID string) (*Dispute, error) {
	var d Dispute
	if err := c.do(ctx, http.MethodGet, c.cfg.CourtURL+"/disputes/"+disputeID, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// SubmitRebuttal answers a filed dispute once, as the other party.
func (c *Client) SubmitRebuttal(ctx context.Context, disputeID, rebuttal string) (*Dispute, error) {
	var d Dispute
	payload := map[string]any{"action": "submit_rebuttal", "dispute_id": disputeID, "rebuttal": rebuttal}
	if err := c.postToken(ctx, c.cfg.CourtURL, "/disputes/rebuttal", payload, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// execute_ruling is platform-signed only (spec.md §4.4) and is driven by
// Court's own orchestrator, not exposed to agent callers here.
