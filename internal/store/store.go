// ABOUTME: Store interface and data types for fusion-gateway persistence
// ABOUTME: Defines Conversation, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// TopicMaxLen is the maximum number of runes kept when deriving a
// conversation topic from its first message.
const TopicMaxLen = 50

// Role constants for message authorship
const (
	RoleUser = "user" // Message written by the human
	RoleAI   = "ai"   // Message produced by the model
)

// Conversation represents a single chat thread
type Conversation struct {
	ID        int64
	Topic     string
	CreatedAt time.Time
}

// Message represents a single message within a conversation.
// Messages are immutable once persisted; insertion order is creation order.
type Message struct {
	ID             int64
	ConversationID int64
	Role           string // "user" or "ai"
	Content        string
	CreatedAt      time.Time
}

// TruncateTopic derives a conversation topic from the first user message.
// Topics are capped at TopicMaxLen runes; shorter prompts pass through unchanged.
func TruncateTopic(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= TopicMaxLen {
		return prompt
	}
	return string(runes[:TopicMaxLen])
}

// Store defines the interface for conversation and message persistence
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, topic string) (*Conversation, error)
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	ListConversations(ctx context.Context) ([]*Conversation, error)

	// Messages
	AppendMessage(ctx context.Context, conversationID int64, role, content string) (*Message, error)
	ListMessages(ctx context.Context, conversationID int64) ([]*Message, error)

	// Close releases any resources held by the store
	Close() error
}
