package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agenteconomy/trustplane/internal/apperror"
	"github.com/agenteconomy/trustplane/internal/circuitbreaker"
)

// ReputationClient calls the Reputation recorder's record_feedback
// operation, which Court's execute_ruling depends on for all-or-nothing
// settlement (spec.md §4.4).
type ReputationClient struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewReputationClient(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *ReputationClient {
	return &ReputationClient{baseURL: baseURL, http: &http.Client{Timeout: timeout}, breaker: breaker}
}

type reputationResponse struct {
	feedbackID string
	appErr     *apperror.Error
}

// RecordFeedback forwards a platform-signed submit_feedback envelope to
// POST /feedback, returning the new feedback_id.
func (c *ReputationClient) RecordFeedback(ctx context.Context, token string) (string, *apperror.Error) {
	raw, err := c.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		body, _ := json.Marshal(map[string]string{"token": token})
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/feedback", bytes.NewReader(body))
		if reqErr != nil {
			return nil, reqErr
		}
		req.Header.Set("Content-Type", "application/json")

		resp, doErr := c.http.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		defer drain(resp)

		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("reputation: status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			var errBody apperror.Error
			json.NewDecoder(resp.Body).Decode(&errBody)
			return &reputationResponse{appErr: &errBody}, nil
		}

		var out struct {
			FeedbackID string `json:"feedback_id"`
		}
		if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
			return nil, decErr
		}
		return &reputationResponse{feedbackID: out.FeedbackID}, nil
	})
	if err != nil {
		return "", apperror.Code("REPUTATION_SERVICE_UNAVAILABLE", "reputation service unavailable")
	}
	rr := raw.(*reputationResponse)
	if rr.appErr != nil {
		return "", apperror.Code(rr.appErr.Code, rr.appErr.Message)
	}
	return rr.feedbackID, nil
}
