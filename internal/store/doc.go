// Package store provides durable persistence for conversations and their
// messages. The Store interface is backed by SQLite in production
// (SQLiteStore) and by an in-memory implementation in tests (MockStore).
//
// A conversation owns an ordered sequence of messages; insertion order is
// creation order and messages are immutable once written. Each write is an
// independent short-lived statement on the connection pool, so late writes
// (like persisting a model reply after the originating request has ended)
// never depend on a request-scoped handle.
package store
