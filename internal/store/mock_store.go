// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[int64]*Conversation // keyed by conversation ID
	messages      map[int64][]*Message    // keyed by conversation ID
	nextConvID    int64
	nextMsgID     int64

	// CreateConversationErr, when set, is returned by CreateConversation.
	CreateConversationErr error
	// AppendMessageErr, when set, is returned by AppendMessage.
	AppendMessageErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[int64]*Conversation),
		messages:      make(map[int64][]*Message),
	}
}

// CreateConversation stores a new conversation with a sequential ID.
func (m *MockStore) CreateConversation(ctx context.Context, topic string) (*Conversation, error) {
	if m.CreateConversationErr != nil {
		return nil, m.CreateConversationErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextConvID++
	conv := &Conversation{
		ID:        m.nextConvID,
		Topic:     topic,
		CreatedAt: time.Now().UTC(),
	}
	m.conversations[conv.ID] = conv

	// Return a copy to avoid external modification
	result := *conv
	return &result, nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}

	result := *conv
	return &result, nil
}

// ListConversations returns all conversations ordered by ID.
func (m *MockStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Conversation, 0, len(m.conversations))
	for id := int64(1); id <= m.nextConvID; id++ {
		if conv, ok := m.conversations[id]; ok {
			c := *conv
			result = append(result, &c)
		}
	}
	return result, nil
}

// AppendMessage appends a message to a conversation's history.
func (m *MockStore) AppendMessage(ctx context.Context, conversationID int64, role, content string) (*Message, error) {
	if m.AppendMessageErr != nil {
		return nil, m.AppendMessageErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextMsgID++
	msg := &Message{
		ID:             m.nextMsgID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	m.messages[conversationID] = append(m.messages[conversationID], msg)

	result := *msg
	return &result, nil
}

// ListMessages returns a conversation's messages in insertion order.
func (m *MockStore) ListMessages(ctx context.Context, conversationID int64) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	result := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		c := *msg
		result = append(result, &c)
	}
	return result, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
