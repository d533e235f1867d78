package models

import (
	"time"

	"github.com/google/uuid"
)

// ExportJob is one queued report download.
type ExportJob struct {
	ID          uuid.UUID        `json:"id"`
	URL         string           `json:"url"`
	Inputs      EvaluationInputs `json:"inputs"`
	RetryCount  int              `json:"retry_count"`
	MaxRetries  int              `json:"max_retries"`
	RequestedAt time.Time        `json:"requested_at"`
}

// ExportOutcome reports how a queued download ended.
type ExportOutcome struct {
	JobID        uuid.UUID  `json:"job_id"`
	Status       string     `json:"status"` // "completed" | "failed"
	Path         string     `json:"path,omitempty"`
	Pages        int        `json:"pages,omitempty"`
	Attempts     int        `json:"attempts"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// WebSocket message types
const (
	WSWorkflowState   = "workflow_state"
	WSChatState       = "chat_state"
	WSExportCompleted = "export_completed"
	WSExportFailed    = "export_failed"
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
