package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"perfeval-dashboard/internal/metrics"
	"perfeval-dashboard/internal/models"
)

const (
	exportMaxRetries = 3
	maxErrorBodyLen  = 300
)

// ExportQueue accepts report downloads for the background worker pool.
type ExportQueue interface {
	Push(ctx context.Context, job *models.ExportJob) error
}

// EvalClient wraps the scoring service's HTTP API.
type EvalClient struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryBase  time.Duration
	recorder   *metrics.Recorder
	exports    ExportQueue
}

// NewEvalClient creates a client for the scoring service at baseURL.
// exports may be nil, in which case report exports are rejected.
func NewEvalClient(baseURL string, timeout time.Duration, maxRetries int, recorder *metrics.Recorder, exports ExportQueue) *EvalClient {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &EvalClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: maxRetries,
		retryBase:  500 * time.Millisecond,
		recorder:   recorder,
		exports:    exports,
	}
}

// Evaluate asks the service to score one set of inputs.
func (c *EvalClient) Evaluate(ctx context.Context, in models.EvaluationInputs) (*models.EvaluationResult, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"inputs": err.Error()}}
	}

	respBody, err := c.doRequest(ctx, OpEvaluate, http.MethodPost, "/evaluate", payload)
	if err != nil {
		return nil, err
	}

	var result models.EvaluationResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &TransportError{Op: OpEvaluate, Message: "failed to parse evaluation response", Err: err}
	}
	if !result.PerformanceLevel.Valid() {
		return nil, &TransportError{Op: OpEvaluate, Message: fmt.Sprintf("unexpected performance level %q", result.PerformanceLevel)}
	}

	return &result, nil
}

// GetSuggestion requests personalized feedback for already-evaluated inputs.
func (c *EvalClient) GetSuggestion(ctx context.Context, in models.EvaluationInputs) (string, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return "", &ValidationError{Fields: map[string]string{"inputs": err.Error()}}
	}

	respBody, err := c.doRequest(ctx, OpSuggestion, http.MethodPost, "/suggestion", payload)
	if err != nil {
		return "", err
	}

	var resp models.SuggestionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", &TransportError{Op: OpSuggestion, Message: "failed to parse suggestion response", Err: err}
	}

	return resp.Suggestion, nil
}

// GetChatReply sends one lecturer chat turn. A reply whose status is not
// "success" is reported as a TransportError wrapping ErrNonSuccessStatus.
func (c *EvalClient) GetChatReply(ctx context.Context, req models.ChatRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", &ValidationError{Fields: map[string]string{"message": err.Error()}}
	}

	respBody, err := c.doRequest(ctx, OpChat, http.MethodPost, "/chat", payload)
	if err != nil {
		return "", err
	}

	var resp models.ChatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", &TransportError{Op: OpChat, Message: "failed to parse chat response", Err: err}
	}
	if resp.Status != "success" {
		return "", &TransportError{Op: OpChat, Message: "Could not get response.", Err: ErrNonSuccessStatus}
	}

	return resp.Answer, nil
}

// ReportURL builds the download link for the generated report.
func (c *EvalClient) ReportURL(in models.EvaluationInputs) (string, error) {
	if err := ValidateInputs(in); err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("attendance", strconv.FormatFloat(in.Attendance, 'f', -1, 64))
	q.Set("test_score", strconv.FormatFloat(in.TestScore, 'f', -1, 64))
	q.Set("assignment_score", strconv.FormatFloat(in.AssignmentScore, 'f', -1, 64))
	return c.baseURL + "/report/download?" + q.Encode(), nil
}

// RequestReportExport queues a report download and returns without waiting
// for it. Only a malformed invocation or a refused enqueue is an error.
func (c *EvalClient) RequestReportExport(ctx context.Context, in models.EvaluationInputs) error {
	link, err := c.ReportURL(in)
	if err != nil {
		return err
	}
	if c.exports == nil {
		return &InvalidStateError{Message: "report export is not configured"}
	}

	job := &models.ExportJob{
		ID:          uuid.New(),
		URL:         link,
		Inputs:      in,
		MaxRetries:  exportMaxRetries,
		RequestedAt: time.Now().UTC(),
	}
	if err := c.exports.Push(ctx, job); err != nil {
		return &TransportError{Op: OpExport, Message: "failed to queue report export: " + err.Error(), Err: err}
	}

	log.Printf("[Eval Client] Report export %s queued", job.ID)
	return nil
}

// doRequest performs an HTTP request with retry on network errors and
// rate-limit / gateway statuses.
func (c *EvalClient) doRequest(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	start := time.Now()
	respBody, err := c.doWithRetry(ctx, op, method, path, body)
	c.recorder.ObserveRequest(op, err == nil, time.Since(start))
	return respBody, err
}

func (c *EvalClient) doWithRetry(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	endpoint := c.baseURL + path
	log.Printf("[Eval Client] %s %s", method, path)

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.retryBase
			log.Printf("[Eval Client] Retry attempt %d/%d for %s %s in %v", attempt, c.maxRetries-1, method, path, backoff)
			select {
			case <-ctx.Done():
				return nil, &TransportError{Op: op, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, &TransportError{Op: op, Message: "failed to create request", Err: err}
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &TransportError{Op: op, Err: ctx.Err()}
			}
			log.Printf("[Eval Client] ERROR: HTTP request failed (attempt %d): %v", attempt+1, err)
			lastErr = &TransportError{Op: op, Err: err}
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = &TransportError{Op: op, StatusCode: resp.StatusCode, Message: "failed to read response body", Err: err}
			continue
		}

		if retryableStatus(resp.StatusCode) {
			log.Printf("[Eval Client] %s %s returned %d (attempt %d)", method, path, resp.StatusCode, attempt+1)
			lastErr = &TransportError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, respBody)}
			continue
		}

		if resp.StatusCode >= 400 {
			log.Printf("[Eval Client] ERROR: %s %s returned %d", method, path, resp.StatusCode)
			return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, respBody)}
		}

		return respBody, nil
	}

	log.Printf("[Eval Client] ERROR: Max attempts (%d) exceeded for %s %s: %v", c.maxRetries, method, path, lastErr)
	return nil, lastErr
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// errorMessage extracts the service's error wording. FastAPI reports errors
// as {"detail": "..."} or {"detail": [{"msg": "..."}]}.
func errorMessage(status int, body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &payload) == nil && len(payload.Detail) > 0 {
		var detail string
		if json.Unmarshal(payload.Detail, &detail) == nil && detail != "" {
			return detail
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if json.Unmarshal(payload.Detail, &items) == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return fmt.Sprintf("HTTP error! status: %d", status)
	}
	if len(text) > maxErrorBodyLen {
		text = text[:maxErrorBodyLen]
	}
	return fmt.Sprintf("HTTP error! status: %d: %s", status, text)
}

// IsNonSuccessReply reports whether err came from a chat reply with a non-success status.
func IsNonSuccessReply(err error) bool {
	return errors.Is(err, ErrNonSuccessStatus)
}
