// ABOUTME: Turn orchestrator driving the two-phase chat protocol.
// ABOUTME: Phase 1 persists the prompt and mints a session; phase 2 streams, accumulates, and persists the reply.

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fusionlabs/fusion-gateway/internal/gemini"
	"github.com/fusionlabs/fusion-gateway/internal/session"
	"github.com/fusionlabs/fusion-gateway/internal/store"
)

// ErrSessionNotFound is returned when a stream is opened with an unknown,
// expired, or already consumed session token.
var ErrSessionNotFound = errors.New("chat session not found or expired")

// User-facing messages for classified upstream failures. Anything
// unclassified gets the generic message; detail stays in server logs.
const (
	msgInvalidAPIKey = "Invalid API Key. Please verify your key in the settings."
	msgQuotaExceeded = "You have exceeded your API quota. Please check your Google AI Platform billing."
	msgUnexpected    = "An unexpected error occurred while communicating with the AI service."
)

// ConversationStore defines what the orchestrator needs from storage
type ConversationStore interface {
	CreateConversation(ctx context.Context, topic string) (*store.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*store.Conversation, error)
	AppendMessage(ctx context.Context, conversationID int64, role, content string) (*store.Message, error)
	ListMessages(ctx context.Context, conversationID int64) ([]*store.Message, error)
}

// FragmentStreamer defines what the orchestrator needs from the model gateway
type FragmentStreamer interface {
	Stream(ctx context.Context, req *gemini.StreamRequest) (<-chan gemini.Chunk, error)
}

// Service orchestrates chat turns across the store, the session registry,
// and the model gateway.
type Service struct {
	store    ConversationStore
	streamer FragmentStreamer
	sessions *session.Registry
	logger   *slog.Logger
}

// New creates a new chat Service.
func New(st ConversationStore, streamer FragmentStreamer, sessions *session.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		streamer: streamer,
		sessions: sessions,
		logger:   logger.With("component", "chat"),
	}
}

// InitiateRequest carries one versioned request shape for starting a turn.
// ConversationID zero means "create a new conversation"; Model is an
// optional selector with a documented default.
type InitiateRequest struct {
	Message        string
	APIKey         string
	ConversationID int64
	Model          string
}

// InitiateResult is returned from a successful phase 1.
type InitiateResult struct {
	SessionToken   string
	ConversationID int64
}

// Initiate runs phase 1: resolve or create the conversation, persist the
// user message synchronously, and mint a session token for the streaming
// phase. No partial state is left behind on failure.
func (s *Service) Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResult, error) {
	conv, err := s.RecordUserMessage(ctx, req)
	if err != nil {
		return nil, err
	}

	token := s.sessions.Put(&session.PendingTurn{
		ConversationID: conv.ID,
		APIKey:         req.APIKey,
		Prompt:         req.Message,
		Model:          req.Model,
	})

	s.logger.Info("chat session initiated", "conversation_id", conv.ID)

	return &InitiateResult{
		SessionToken:   token,
		ConversationID: conv.ID,
	}, nil
}

// RecordUserMessage resolves or creates the conversation and appends the
// user message. Record first, then act: the prompt is durable before any
// session exists or any model call happens.
func (s *Service) RecordUserMessage(ctx context.Context, req *InitiateRequest) (*store.Conversation, error) {
	var conv *store.Conversation
	var err error

	if req.ConversationID != 0 {
		conv, err = s.store.GetConversation(ctx, req.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("looking up conversation %d: %w", req.ConversationID, err)
		}
	} else {
		conv, err = s.store.CreateConversation(ctx, store.TruncateTopic(req.Message))
		if err != nil {
			return nil, fmt.Errorf("creating conversation: %w", err)
		}
	}

	if _, err := s.store.AppendMessage(ctx, conv.ID, store.RoleUser, req.Message); err != nil {
		return nil, fmt.Errorf("saving user message: %w", err)
	}

	s.logger.Debug("user message recorded", "conversation_id", conv.ID)
	return conv, nil
}

// OpenStream runs phase 2: consume the session token and return the event
// sequence for the turn. Returns ErrSessionNotFound before any event when
// the token is unknown. The returned channel carries exactly one
// stream_start, zero or more message events, then exactly one of
// stream_complete or error, and is closed afterward.
func (s *Service) OpenStream(ctx context.Context, token string) (<-chan Event, error) {
	// Take is the single consume step: lookup and delete under one lock
	// hold, so a replayed token fails here regardless of stream outcome.
	turn, ok := s.sessions.Take(token)
	if !ok {
		return nil, ErrSessionNotFound
	}

	events := make(chan Event)
	go s.runTurn(ctx, turn, events)
	return events, nil
}

// runTurn drives one streaming turn to completion. It owns the events
// channel and closes it on every exit path.
func (s *Service) runTurn(ctx context.Context, turn *session.PendingTurn, events chan<- Event) {
	defer close(events)

	if !send(ctx, events, Event{Type: EventStreamStart}) {
		return
	}

	history, err := s.historyToSend(ctx, turn.ConversationID)
	if err != nil {
		s.logger.Error("loading history failed", "conversation_id", turn.ConversationID, "err", err)
		send(ctx, events, Event{Type: EventError, Data: msgUnexpected})
		return
	}

	chunks, err := s.streamer.Stream(ctx, &gemini.StreamRequest{
		APIKey:  turn.APIKey,
		Model:   gemini.ResolveModel(turn.Model),
		Prompt:  turn.Prompt,
		History: history,
	})
	if err != nil {
		s.logger.Error("opening model stream failed", "conversation_id", turn.ConversationID, "err", err)
		send(ctx, events, Event{Type: EventError, Data: userMessage(err)})
		return
	}

	// Drain on every exit path so the producer goroutine can finish even
	// when this turn bails out mid-stream.
	defer func() {
		for range chunks {
		}
	}()

	var accumulated strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			s.logger.Error("model stream failed", "conversation_id", turn.ConversationID, "err", chunk.Err)
			send(ctx, events, Event{Type: EventError, Data: userMessage(chunk.Err)})
			return
		}
		if chunk.Text == "" {
			continue
		}
		accumulated.WriteString(chunk.Text)
		if !send(ctx, events, Event{Type: EventMessage, Data: chunk.Text}) {
			// Caller went away mid-stream. Stop emitting but keep what the
			// model already produced, mirroring normal completion.
			s.persistReply(ctx, turn.ConversationID, accumulated.String())
			return
		}
	}

	if err := s.persistReply(ctx, turn.ConversationID, accumulated.String()); err != nil {
		send(ctx, events, Event{Type: EventError, Data: msgUnexpected})
		return
	}

	send(ctx, events, Event{Type: EventStreamComplete, Data: DoneSentinel})
}

// persistReply saves the assembled AI message. Empty accumulations are
// skipped entirely. The write runs on a context detached from the request,
// since the request scope may already be gone.
func (s *Service) persistReply(ctx context.Context, conversationID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if _, err := s.store.AppendMessage(context.WithoutCancel(ctx), conversationID, store.RoleAI, text); err != nil {
		s.logger.Error("saving AI message failed", "conversation_id", conversationID, "err", err)
		return err
	}

	s.logger.Info("AI message saved", "conversation_id", conversationID, "chars", len(text))
	return nil
}

// historyToSend loads the conversation's ordered history and drops the
// final entry, the just-persisted user prompt, since the prompt travels
// separately in the model request.
func (s *Service) historyToSend(ctx context.Context, conversationID int64) ([]gemini.Turn, error) {
	messages, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	if len(messages) > 0 {
		messages = messages[:len(messages)-1]
	}
	return HistoryToTurns(messages), nil
}

// HistoryToTurns maps stored messages into the model gateway's role
// vocabulary: stored "ai" becomes wire "model", stored "user" stays "user".
func HistoryToTurns(messages []*store.Message) []gemini.Turn {
	turns := make([]gemini.Turn, 0, len(messages))
	for _, msg := range messages {
		role := gemini.RoleUser
		if msg.Role == store.RoleAI {
			role = gemini.RoleModel
		}
		turns = append(turns, gemini.Turn{Role: role, Text: msg.Content})
	}
	return turns
}

// userMessage maps a gateway error to the message shown to the client.
func userMessage(err error) string {
	switch {
	case errors.Is(err, gemini.ErrInvalidAPIKey):
		return msgInvalidAPIKey
	case errors.Is(err, gemini.ErrQuotaExhausted):
		return msgQuotaExceeded
	default:
		return msgUnexpected
	}
}

// send delivers an event unless the consumer's context is already gone.
// Returns false when the event could not be delivered.
func send(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
