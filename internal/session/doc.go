// Package session provides the short-lived handshake between the two phases
// of a chat turn: initiate mints a token and parks the turn's state here,
// the streaming endpoint consumes it exactly once. It is not a job queue;
// entries live only for the handshake window and are swept if abandoned.
package session
