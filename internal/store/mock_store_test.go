// ABOUTME: Tests for the in-memory MockStore
// ABOUTME: Verifies it honors the same contract the SQLite store does

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_ConversationLifecycle(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	conv, err := m.CreateConversation(ctx, "mock topic")
	require.NoError(t, err)
	assert.Equal(t, int64(1), conv.ID)

	got, err := m.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "mock topic", got.Topic)

	_, err = m.GetConversation(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMockStore_MessagesOrdered(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	conv, err := m.CreateConversation(ctx, "t")
	require.NoError(t, err)

	_, err = m.AppendMessage(ctx, conv.ID, RoleUser, "one")
	require.NoError(t, err)
	_, err = m.AppendMessage(ctx, conv.ID, RoleAI, "two")
	require.NoError(t, err)

	msgs, err := m.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
}

func TestMockStore_ReturnsCopies(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	conv, err := m.CreateConversation(ctx, "original")
	require.NoError(t, err)

	conv.Topic = "mutated"

	got, err := m.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Topic)
}

func TestMockStore_InjectedErrors(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	m.AppendMessageErr = assert.AnError
	_, err := m.AppendMessage(ctx, 1, RoleUser, "x")
	assert.ErrorIs(t, err, assert.AnError)
}
