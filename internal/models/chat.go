package models

// Role identifies who authored a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatMessage represents a single message in a conversation.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the payload sent to the lecturer chat endpoint.
type ChatRequest struct {
	StudentPerformanceLevel PerformanceLevel `json:"student_performance_level"`
	Question                string           `json:"question"`
	History                 []ChatMessage    `json:"history"`
}

// ChatResponse is the reply from the lecturer chat endpoint.
// Anything other than Status == "success" is a failed turn.
type ChatResponse struct {
	Status string `json:"status"`
	Answer string `json:"answer"`
}

// SendMessageRequest is the gateway payload for a new chat turn.
type SendMessageRequest struct {
	Message string `json:"message"`
}
