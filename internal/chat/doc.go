// Package chat is the turn orchestrator for the two-phase chat protocol.
//
// Phase 1 (Initiate) validates or creates the conversation, persists the
// user message synchronously, and parks the turn in the session registry
// under a fresh opaque token. Phase 2 (OpenStream) consumes that token
// exactly once, replays the model's output fragment by fragment while
// accumulating it, and persists the assembled reply when the stream ends,
// including partial replies when the caller disconnects mid-stream.
//
// Once a stream has started, every failure resolves into exactly one error
// event; nothing downstream of stream_start may surface as a raw transport
// failure.
package chat
