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

// TaskBoardClient is Court's view of Task Board: recording a ruling's
// outcome on the disputed task (spec.md §4.4).
type TaskBoardClient struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewTaskBoardClient(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *TaskBoardClient {
	return &TaskBoardClient{baseURL: baseURL, http: &http.Client{Timeout: timeout}, breaker: breaker}
}

type taskBoardResponse struct {
	appErr *apperror.Error
}

// TaskSummary is the subset of a Task Board task Court needs to file and
// judge a dispute.
type TaskSummary struct {
	TaskID   string  `json:"task_id"`
	PosterID string  `json:"poster_id"`
	WorkerID *string `json:"worker_id"`
	Spec     string  `json:"spec"`
	EscrowID string  `json:"escrow_id"`
	Status   string  `json:"status"`
}

type taskGetResponse struct {
	task   *TaskSummary
	appErr *apperror.Error
}

// GetTask fetches a task's public fields (unauthenticated read, spec.md
// §4.3 "list/get_task — public").
func (c *TaskBoardClient) GetTask(ctx context.Context, taskID string) (*TaskSummary, *apperror.Error) {
	raw, err := c.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks/"+taskID, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer drain(resp)

		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("task board: status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			var errBody apperror.Error
			json.NewDecoder(resp.Body).Decode(&errBody)
			return &taskGetResponse{appErr: &errBody}, nil
		}
		var out TaskSummary
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, err
		}
		return &taskGetResponse{task: &out}, nil
	})
	if err != nil {
		return nil, apperror.Code("TASK_BOARD_UNAVAILABLE", "task board service unavailable")
	}
	tr := raw.(*taskGetResponse)
	if tr.appErr != nil {
		return nil, apperror.Code(tr.appErr.Code, tr.appErr.Message)
	}
	return tr.task, nil
}

type assetListResponse struct {
	filenames []string
	appErr    *apperror.Error
}

// ListAssetFilenames fetches the filenames of a task's uploaded
// deliverables, used to build the judge context's "deliverables" field.
func (c *TaskBoardClient) ListAssetFilenames(ctx context.Context, taskID string) ([]string, *apperror.Error) {
	raw, err := c.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks/"+taskID+"/assets", nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer drain(resp)

		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("task board: status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			var errBody apperror.Error
			json.NewDecoder(resp.Body).Decode(&errBody)
			return &assetListResponse{appErr: &errBody}, nil
		}
		var out struct {
			Assets []struct {
				Filename string `json:"filename"`
			} `json:"assets"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(out.Assets))
		for _, a := range out.Assets {
			names = append(names, a.Filename)
		}
		return &assetListResponse{filenames: names}, nil
	})
	if err != nil {
		return nil, apperror.Code("TASK_BOARD_UNAVAILABLE", "task board service unavailable")
	}
	ar := raw.(*assetListResponse)
	if ar.appErr != nil {
		return nil, apperror.Code(ar.appErr.Code, ar.appErr.Message)
	}
	return ar.filenames, nil
}

// RecordRuling forwards a platform-signed record_ruling envelope to
// POST /tasks/record_ruling.
func (c *TaskBoardClient) RecordRuling(ctx context.Context, token string) *apperror.Error {
	raw, err := c.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		body, _ := json.Marshal(map[string]string{"token": token})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tasks/record_ruling", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer drain(resp)

		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("task board: status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			var errBody apperror.Error
			json.NewDecoder(resp.Body).Decode(&errBody)
			return &taskBoardResponse{appErr: &errBody}, nil
		}
		return &taskBoardResponse{}, nil
	})
	if err != nil {
		return apperror.Code("TASK_BOARD_UNAVAILABLE", "task board service unavailable")
	}
	tr := raw.(*taskBoardResponse)
	if tr.appErr != nil {
		return apperror.Code(tr.appErr.Code, tr.appErr.Message)
	}
	return nil
}
