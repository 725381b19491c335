// Package storage defines conversation persistence.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/johnayoung/llm-council/internal/consensus"
)

var (
	// ErrNotFound is returned when a conversation does not exist.
	ErrNotFound = errors.New("conversation not found")
	// ErrAlreadyExists is returned when creating a duplicate conversation.
	ErrAlreadyExists = errors.New("conversation already exists")
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation. User turns carry Content; assistant
// turns carry the three council stages.
type Message struct {
	Role      string                    `json:"role"`
	Content   string                    `json:"content,omitempty"`
	Stage1    []consensus.ModelResponse `json:"stage1,omitempty"`
	Stage2    *consensus.Stage2Result   `json:"stage2,omitempty"`
	Stage3    *consensus.Synthesis      `json:"stage3,omitempty"`
	CreatedAt time.Time                 `json:"created_at"`
}

// AssistantMessage is a completed council run to persist.
type AssistantMessage struct {
	Stage1 []consensus.ModelResponse
	Stage2 consensus.Stage2Result
	Stage3 consensus.Synthesis
}

// Conversation is a stored conversation with all of its messages.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
}

// ConversationSummary is the list view of a conversation.
type ConversationSummary struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
}

// Store persists conversations.
type Store interface {
	Create(ctx context.Context, id string) (Conversation, error)
	Get(ctx context.Context, id string) (Conversation, error)
	// List returns summaries, newest first.
	List(ctx context.Context) ([]ConversationSummary, error)
	AppendUserMessage(ctx context.Context, id, content string) error
	AppendAssistantMessage(ctx context.Context, id string, msg AssistantMessage) error
	UpdateTitle(ctx context.Context, id, title string) error
}
