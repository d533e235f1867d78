// Package chat holds the lecturer conversation that is contextualized by the
// current evaluation result.
package chat

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"perfeval-dashboard/internal/metrics"
	"perfeval-dashboard/internal/models"
	"perfeval-dashboard/internal/pubsub"
	"perfeval-dashboard/internal/services"
)

const (
	// DefaultMaxMessageChars caps the length of a single question.
	DefaultMaxMessageChars = 4096

	// TruncationSuffix is appended to questions that exceed the cap.
	TruncationSuffix = " … [truncated]"
)

// LevelSource supplies the performance level used as conversational context.
type LevelSource interface {
	PerformanceLevel() (models.PerformanceLevel, bool)
}

// ReplyClient sends one chat turn to the lecturer endpoint.
type ReplyClient interface {
	GetChatReply(ctx context.Context, req models.ChatRequest) (string, error)
}

type State string

const (
	StateEmpty  State = "empty"
	StateActive State = "active"
)

// Snapshot is a read-only copy of the conversation.
type Snapshot struct {
	Version   uint64               `json:"version"`
	SessionID string               `json:"session_id"`
	State     State                `json:"state"`
	Messages  []models.ChatMessage `json:"messages"`
	Pending   bool                 `json:"pending"`
}

type Option func(*Session)

func WithRecorder(r *metrics.Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

func WithMaxMessageChars(n int) Option {
	return func(s *Session) {
		if n > len([]rune(TruncationSuffix)) {
			s.maxChars = n
		}
	}
}

// Session owns the conversation history and its single in-flight turn.
// Replies are matched to the live session token, so a reply to a
// conversation that has since been reset is discarded.
type Session struct {
	client   ReplyClient
	levels   LevelSource
	recorder *metrics.Recorder
	maxChars int

	mu       sync.Mutex
	messages []models.ChatMessage
	pending  bool
	token    uuid.UUID
	version  uint64

	feed *pubsub.Feed[Snapshot]
	wg   sync.WaitGroup
}

func NewSession(client ReplyClient, levels LevelSource, opts ...Option) *Session {
	s := &Session{
		client:   client,
		levels:   levels,
		maxChars: DefaultMaxMessageChars,
		token:    uuid.New(),
		feed:     pubsub.NewFeed[Snapshot](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	return s.feed.Subscribe()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Send appends text as a user message and waits for the reply. A failed
// turn is recorded in the transcript as a system message, not returned;
// only rejected preconditions produce an error.
func (s *Session) Send(ctx context.Context, text string) error {
	run, err := s.beginSend(text)
	if err != nil {
		return err
	}
	run(ctx)
	return nil
}

// StartSend is Send without waiting for the reply.
func (s *Session) StartSend(ctx context.Context, text string) error {
	run, err := s.beginSend(text)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		run(ctx)
	}()
	return nil
}

// Reset empties the transcript and starts a new live session. Calling it
// repeatedly is harmless.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.pending = false
	s.token = uuid.New()
	s.publishLocked()
	log.Printf("[Chat] Conversation reset, session %s", s.token)
}

// Wait blocks until every StartSend turn has resolved.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) Close() {
	s.wg.Wait()
	s.feed.Close()
}

func (s *Session) beginSend(text string) (func(context.Context), error) {
	question := strings.TrimSpace(text)
	if question == "" {
		return nil, &services.ValidationError{Fields: map[string]string{"message": "must not be empty"}}
	}
	question, cut := truncate(question, s.maxChars)
	if cut {
		log.Printf("[Chat] Question truncated to %d characters", s.maxChars)
		s.recorder.IncTruncated()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending {
		return nil, &services.InvalidStateError{Message: "a reply is already pending"}
	}
	level, ok := s.levels.PerformanceLevel()
	if !ok {
		return nil, &services.InvalidStateError{Message: "run an evaluation before chatting with the lecturer"}
	}

	s.messages = append(s.messages, models.ChatMessage{Role: models.RoleUser, Content: question})
	history := make([]models.ChatMessage, len(s.messages))
	copy(history, s.messages)
	token := s.token
	s.pending = true
	s.publishLocked()

	req := models.ChatRequest{
		StudentPerformanceLevel: level,
		Question:                question,
		History:                 history,
	}
	return func(ctx context.Context) {
		answer, err := s.client.GetChatReply(ctx, req)
		s.finishSend(token, answer, err)
	}, nil
}

func (s *Session) finishSend(token uuid.UUID, answer string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token != s.token {
		log.Printf("[Chat] Reply for reset session %s dropped", token)
		s.recorder.IncStale(services.OpChat)
		return
	}

	s.pending = false
	switch {
	case services.IsNonSuccessReply(err):
		s.messages = append(s.messages, models.ChatMessage{Role: models.RoleSystem, Content: "Error: Could not get response."})
	case err != nil:
		log.Printf("[Chat] Reply failed: %v", err)
		s.messages = append(s.messages, models.ChatMessage{Role: models.RoleSystem, Content: "API Error: " + err.Error()})
	default:
		s.messages = append(s.messages, models.ChatMessage{Role: models.RoleAssistant, Content: answer})
	}
	s.publishLocked()
}

func (s *Session) publishLocked() {
	s.version++
	s.feed.Publish(s.snapshotLocked())
}

func (s *Session) snapshotLocked() Snapshot {
	msgs := make([]models.ChatMessage, len(s.messages))
	copy(msgs, s.messages)
	state := StateEmpty
	if len(msgs) > 0 {
		state = StateActive
	}
	return Snapshot{
		Version:   s.version,
		SessionID: s.token.String(),
		State:     state,
		Messages:  msgs,
		Pending:   s.pending,
	}
}

func truncate(text string, maxChars int) (string, bool) {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text, false
	}
	suffix := []rune(TruncationSuffix)
	return string(runes[:maxChars-len(suffix)]) + TruncationSuffix, true
}
