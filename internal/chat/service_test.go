// ABOUTME: Tests for the turn orchestrator
// ABOUTME: Covers topic derivation, history exclusion, stream grammar, and failure paths

package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusionlabs/fusion-gateway/internal/gemini"
	"github.com/fusionlabs/fusion-gateway/internal/session"
	"github.com/fusionlabs/fusion-gateway/internal/store"
)

// fakeStreamer is a scripted model gateway.
type fakeStreamer struct {
	fragments []string
	err       error // returned synchronously from Stream
	midErr    error // delivered as a chunk after the fragments

	gotReq *gemini.StreamRequest
}

func (f *fakeStreamer) Stream(ctx context.Context, req *gemini.StreamRequest) (<-chan gemini.Chunk, error) {
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}

	ch := make(chan gemini.Chunk)
	go func() {
		defer close(ch)
		for _, text := range f.fragments {
			select {
			case ch <- gemini.Chunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		if f.midErr != nil {
			ch <- gemini.Chunk{Err: f.midErr}
		}
	}()
	return ch, nil
}

// newTestService wires a service with a mock store and scripted gateway.
func newTestService(t *testing.T, streamer *fakeStreamer) (*Service, *store.MockStore) {
	t.Helper()

	mock := store.NewMockStore()
	registry := session.NewRegistry(time.Minute)
	t.Cleanup(registry.Close)

	return New(mock, streamer, registry, nil), mock
}

// drain collects all events from a stream.
func drain(ch <-chan Event) []Event {
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestInitiate_NewConversationTopic(t *testing.T) {
	tests := []struct {
		name      string
		prompt    string
		wantTopic string
	}{
		{"short prompt becomes topic verbatim", "Tell me a joke", "Tell me a joke"},
		{"long prompt truncated to fifty runes", strings.Repeat("a", 72), strings.Repeat("a", 50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mock := newTestService(t, &fakeStreamer{})

			result, err := svc.Initiate(context.Background(), &InitiateRequest{
				Message: tt.prompt,
				APIKey:  "key",
			})
			require.NoError(t, err)
			require.NotEmpty(t, result.SessionToken)

			conv, err := mock.GetConversation(context.Background(), result.ConversationID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTopic, conv.Topic)

			// The user message is durable before Initiate returns
			msgs, err := mock.ListMessages(context.Background(), result.ConversationID)
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, store.RoleUser, msgs[0].Role)
			assert.Equal(t, tt.prompt, msgs[0].Content)
		})
	}
}

func TestInitiate_ExistingConversation(t *testing.T) {
	svc, mock := newTestService(t, &fakeStreamer{})
	ctx := context.Background()

	conv, err := mock.CreateConversation(ctx, "existing")
	require.NoError(t, err)

	result, err := svc.Initiate(ctx, &InitiateRequest{
		Message:        "follow-up",
		APIKey:         "key",
		ConversationID: conv.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, conv.ID, result.ConversationID)
}

func TestInitiate_UnknownConversation(t *testing.T) {
	svc, _ := newTestService(t, &fakeStreamer{})

	_, err := svc.Initiate(context.Background(), &InitiateRequest{
		Message:        "hello",
		APIKey:         "key",
		ConversationID: 999,
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInitiate_PersistenceFailureMintsNoSession(t *testing.T) {
	streamer := &fakeStreamer{}
	mock := store.NewMockStore()
	mock.AppendMessageErr = assert.AnError
	registry := session.NewRegistry(time.Minute)
	defer registry.Close()
	svc := New(mock, streamer, registry, nil)

	_, err := svc.Initiate(context.Background(), &InitiateRequest{Message: "hi", APIKey: "k"})
	require.Error(t, err)
	assert.Equal(t, 0, registry.Len())
}

func TestOpenStream_UnknownToken(t *testing.T) {
	svc, _ := newTestService(t, &fakeStreamer{})

	_, err := svc.OpenStream(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestOpenStream_Grammar(t *testing.T) {
	streamer := &fakeStreamer{fragments: []string{"This ", "is a test."}}
	svc, mock := newTestService(t, streamer)
	ctx := context.Background()

	result, err := svc.Initiate(ctx, &InitiateRequest{Message: "say something", APIKey: "key"})
	require.NoError(t, err)

	events, err := svc.OpenStream(ctx, result.SessionToken)
	require.NoError(t, err)

	got := drain(events)
	require.Len(t, got, 4)
	assert.Equal(t, Event{Type: EventStreamStart}, got[0])
	assert.Equal(t, Event{Type: EventMessage, Data: "This "}, got[1])
	assert.Equal(t, Event{Type: EventMessage, Data: "is a test."}, got[2])
	assert.Equal(t, Event{Type: EventStreamComplete, Data: DoneSentinel}, got[3])

	// The assembled reply is persisted as one ai message
	msgs, err := mock.ListMessages(ctx, result.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleAI, msgs[1].Role)
	assert.Equal(t, "This is a test.", msgs[1].Content)
}

func TestOpenStream_TokenConsumedExactlyOnce(t *testing.T) {
	streamer := &fakeStreamer{fragments: []string{"hi"}}
	svc, _ := newTestService(t, streamer)
	ctx := context.Background()

	result, err := svc.Initiate(ctx, &InitiateRequest{Message: "hello", APIKey: "key"})
	require.NoError(t, err)

	events, err := svc.OpenStream(ctx, result.SessionToken)
	require.NoError(t, err)
	drain(events)

	_, err = svc.OpenStream(ctx, result.SessionToken)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestOpenStream_HistoryExcludesPrompt(t *testing.T) {
	tests := []struct {
		name       string
		priorTurns int
	}{
		{"new conversation sends empty history", 0},
		{"prior turns all included", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			streamer := &fakeStreamer{fragments: []string{"ok"}}
			svc, mock := newTestService(t, streamer)
			ctx := context.Background()

			conv, err := mock.CreateConversation(ctx, "t")
			require.NoError(t, err)
			for i := 0; i < tt.priorTurns; i++ {
				_, err = mock.AppendMessage(ctx, conv.ID, store.RoleUser, "q")
				require.NoError(t, err)
				_, err = mock.AppendMessage(ctx, conv.ID, store.RoleAI, "a")
				require.NoError(t, err)
			}

			result, err := svc.Initiate(ctx, &InitiateRequest{
				Message:        "the new prompt",
				APIKey:         "key",
				ConversationID: conv.ID,
			})
			require.NoError(t, err)

			events, err := svc.OpenStream(ctx, result.SessionToken)
			require.NoError(t, err)
			drain(events)

			require.NotNil(t, streamer.gotReq)
			assert.Len(t, streamer.gotReq.History, tt.priorTurns*2)
			for _, turn := range streamer.gotReq.History {
				assert.NotEqual(t, "the new prompt", turn.Text)
			}
			assert.Equal(t, "the new prompt", streamer.gotReq.Prompt)
		})
	}
}

func TestHistoryToTurns_RoleMapping(t *testing.T) {
	messages := []*store.Message{
		{Role: store.RoleUser, Content: "question"},
		{Role: store.RoleAI, Content: "answer"},
		{Role: store.RoleUser, Content: "another"},
	}

	turns := HistoryToTurns(messages)
	require.Len(t, turns, 3)
	assert.Equal(t, gemini.Turn{Role: gemini.RoleUser, Text: "question"}, turns[0])
	assert.Equal(t, gemini.Turn{Role: gemini.RoleModel, Text: "answer"}, turns[1])
	assert.Equal(t, gemini.Turn{Role: gemini.RoleUser, Text: "another"}, turns[2])
}

func TestOpenStream_ModelSelector(t *testing.T) {
	tests := []struct {
		name      string
		selector  string
		wantModel string
	}{
		{"flash resolves", "flash", "gemini-1.5-flash-latest"},
		{"pro resolves", "pro", "gemini-1.5-pro-latest"},
		{"absent selector falls back", "", gemini.DefaultModel},
		{"unknown selector falls back", "ultra", gemini.DefaultModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			streamer := &fakeStreamer{fragments: []string{"x"}}
			svc, _ := newTestService(t, streamer)
			ctx := context.Background()

			result, err := svc.Initiate(ctx, &InitiateRequest{
				Message: "hi",
				APIKey:  "key",
				Model:   tt.selector,
			})
			require.NoError(t, err)

			events, err := svc.OpenStream(ctx, result.SessionToken)
			require.NoError(t, err)
			drain(events)

			assert.Equal(t, tt.wantModel, streamer.gotReq.Model)
		})
	}
}

func TestOpenStream_AuthErrorShortCircuits(t *testing.T) {
	streamer := &fakeStreamer{err: gemini.ErrInvalidAPIKey}
	svc, mock := newTestService(t, streamer)
	ctx := context.Background()

	result, err := svc.Initiate(ctx, &InitiateRequest{Message: "hi", APIKey: "bad"})
	require.NoError(t, err)

	events, err := svc.OpenStream(ctx, result.SessionToken)
	require.NoError(t, err)

	got := drain(events)
	require.Len(t, got, 2)
	assert.Equal(t, EventStreamStart, got[0].Type)
	assert.Equal(t, EventError, got[1].Type)
	assert.Equal(t, msgInvalidAPIKey, got[1].Data)

	// No AI message persisted on failure
	msgs, err := mock.ListMessages(ctx, result.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
}

func TestOpenStream_MidStreamErrorDiscardsPartial(t *testing.T) {
	streamer := &fakeStreamer{fragments: []string{"partial "}, midErr: gemini.ErrQuotaExhausted}
	svc, mock := newTestService(t, streamer)
	ctx := context.Background()

	result, err := svc.Initiate(ctx, &InitiateRequest{Message: "hi", APIKey: "key"})
	require.NoError(t, err)

	events, err := svc.OpenStream(ctx, result.SessionToken)
	require.NoError(t, err)

	got := drain(events)
	require.Len(t, got, 3)
	assert.Equal(t, EventStreamStart, got[0].Type)
	assert.Equal(t, Event{Type: EventMessage, Data: "partial "}, got[1])
	assert.Equal(t, Event{Type: EventError, Data: msgQuotaExceeded}, got[2])

	msgs, err := mock.ListMessages(ctx, result.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestOpenStream_UnclassifiedErrorIsGeneric(t *testing.T) {
	streamer := &fakeStreamer{err: assert.AnError}
	svc, _ := newTestService(t, streamer)
	ctx := context.Background()

	result, err := svc.Initiate(ctx, &InitiateRequest{Message: "hi", APIKey: "key"})
	require.NoError(t, err)

	events, err := svc.OpenStream(ctx, result.SessionToken)
	require.NoError(t, err)

	got := drain(events)
	require.Len(t, got, 2)
	assert.Equal(t, Event{Type: EventError, Data: msgUnexpected}, got[1])
}

func TestOpenStream_EmptyReplySkipsPersistence(t *testing.T) {
	streamer := &fakeStreamer{fragments: nil}
	svc, mock := newTestService(t, streamer)
	ctx := context.Background()

	result, err := svc.Initiate(ctx, &InitiateRequest{Message: "hi", APIKey: "key"})
	require.NoError(t, err)

	events, err := svc.OpenStream(ctx, result.SessionToken)
	require.NoError(t, err)

	got := drain(events)
	require.Len(t, got, 2)
	assert.Equal(t, Event{Type: EventStreamComplete, Data: DoneSentinel}, got[1])

	msgs, err := mock.ListMessages(ctx, result.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestOpenStream_ReplyIsTrimmedBeforePersistence(t *testing.T) {
	streamer := &fakeStreamer{fragments: []string{"  answer", "\n"}}
	svc, mock := newTestService(t, streamer)
	ctx := context.Background()

	result, err := svc.Initiate(ctx, &InitiateRequest{Message: "hi", APIKey: "key"})
	require.NoError(t, err)

	events, err := svc.OpenStream(ctx, result.SessionToken)
	require.NoError(t, err)
	drain(events)

	msgs, err := mock.ListMessages(ctx, result.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "answer", msgs[1].Content)
}

func TestOpenStream_ClientDisconnectKeepsPartial(t *testing.T) {
	streamer := &fakeStreamer{fragments: []string{"kept ", "lost"}}
	svc, mock := newTestService(t, streamer)

	result, err := svc.Initiate(context.Background(), &InitiateRequest{Message: "hi", APIKey: "key"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := svc.OpenStream(ctx, result.SessionToken)
	require.NoError(t, err)

	// Read up to the first fragment, then walk away
	assert.Equal(t, EventStreamStart, (<-events).Type)
	assert.Equal(t, Event{Type: EventMessage, Data: "kept "}, <-events)
	cancel()

	// The partial accumulation still gets persisted
	require.Eventually(t, func() bool {
		msgs, err := mock.ListMessages(context.Background(), result.ConversationID)
		return err == nil && len(msgs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	msgs, err := mock.ListMessages(context.Background(), result.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, store.RoleAI, msgs[1].Role)
	// Fragments already received from the gateway may or may not include
	// the undelivered one, but the delivered prefix is always kept.
	assert.True(t, strings.HasPrefix(msgs[1].Content, "kept"))
}
