// ABOUTME: Thread-safe in-memory registry of pending chat turns.
// ABOUTME: Bridges the initiate phase to the streaming phase via opaque session tokens.

package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// PendingTurn holds everything the streaming phase needs to resume a turn.
// APIKey is sensitive and must never be logged or persisted.
type PendingTurn struct {
	ConversationID int64
	APIKey         string
	Prompt         string
	Model          string // model selector ("flash", "pro", or empty)
	CreatedAt      time.Time
}

// Registry maps session tokens to pending turns. Tokens are minted on
// initiate and consumed exactly once when the stream is opened, whatever
// the stream's outcome. A background sweep expires entries abandoned
// between the two phases.
type Registry struct {
	mu     sync.Mutex
	turns  map[string]*PendingTurn
	ttl    time.Duration
	done   chan struct{}
	closed bool
}

// NewRegistry creates a registry whose entries expire after ttl if never
// consumed. A ttl of 0 disables expiry. A background goroutine periodically
// sweeps expired entries.
func NewRegistry(ttl time.Duration) *Registry {
	r := &Registry{
		turns: make(map[string]*PendingTurn),
		ttl:   ttl,
		done:  make(chan struct{}),
	}
	go r.sweep()
	return r
}

// Put stores a pending turn under a freshly minted random token and
// returns the token.
func (r *Registry) Put(turn *PendingTurn) string {
	token := uuid.New().String()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	r.mu.Lock()
	r.turns[token] = turn
	r.mu.Unlock()

	return token
}

// Take consumes the turn for a token: lookup and delete happen under a
// single lock hold, so a token can be claimed at most once. Returns false
// if the token is unknown, already consumed, or expired.
func (r *Registry) Take(token string) (*PendingTurn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	turn, ok := r.turns[token]
	if !ok {
		return nil, false
	}
	delete(r.turns, token)

	if r.ttl > 0 && time.Since(turn.CreatedAt) > r.ttl {
		return nil, false
	}
	return turn, true
}

// Len reports the number of unconsumed turns.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.turns)
}

// sweep runs in a background goroutine, periodically removing expired entries.
func (r *Registry) sweep() {
	if r.ttl <= 0 {
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runSweep()
		case <-r.done:
			return
		}
	}
}

// runSweep removes all expired entries from the registry.
func (r *Registry) runSweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for token, turn := range r.turns {
		if now.Sub(turn.CreatedAt) > r.ttl {
			delete(r.turns, token)
		}
	}
}

// Close stops the background sweep goroutine. It is safe to call multiple times.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.closed {
		close(r.done)
		r.closed = true
	}
}
