// Package gateway orchestrates the fusion-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the fusion-gateway
// server. It owns the HTTP server, the SQLite store, the session registry,
// and the chat service that relays turns to Gemini.
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - POST /api/chat/initiate - Persist a user message and mint a stream session
//   - GET /api/chat/stream/{id} - Stream the AI reply as Server-Sent Events
//   - POST /api/chat/sync - Persist a user message without streaming
//   - GET /api/conversations - List conversations
//   - GET /api/conversations/{id} - List messages for a conversation
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check
//
// # SSE Streaming
//
// A streamed turn always opens with stream_start, carries the reply as
// message events with verbatim text fragments, and terminates with exactly
// one of stream_complete or error:
//
//	event: stream_start
//	data:
//
//	event: message
//	data: Hello!
//
//	event: stream_complete
//	data: [DONE]
//
// An unknown or already consumed session id is rejected with 404 before
// any event is written.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Graceful shutdown:
//
//	cancel()
//	gw.Shutdown(shutdownCtx)
//
// # Key Files
//
//   - gateway.go: Gateway struct, initialization, Run/Shutdown
//   - api.go: HTTP handlers and SSE streaming
package gateway
