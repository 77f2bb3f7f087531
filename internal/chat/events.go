// ABOUTME: Stream event grammar for the chat turn protocol.
// ABOUTME: One stream_start, zero or more message events, then stream_complete or error.

package chat

// EventType names the SSE event kinds a stream can emit.
type EventType string

const (
	// EventStreamStart opens every stream, with an empty payload.
	EventStreamStart EventType = "stream_start"
	// EventMessage carries one verbatim response fragment.
	EventMessage EventType = "message"
	// EventStreamComplete terminates a successful stream with DoneSentinel.
	EventStreamComplete EventType = "stream_complete"
	// EventError terminates a failed stream with a human-readable message.
	EventError EventType = "error"
)

// DoneSentinel is the payload of the stream_complete event.
const DoneSentinel = "[DONE]"

// Event is one entry in a turn's event sequence.
type Event struct {
	Type EventType
	Data string
}
