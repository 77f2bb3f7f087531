// Package gemini is the upstream model gateway. It wraps the Gemini
// streamGenerateContent SSE endpoint behind a channel of text fragments and
// classifies upstream failures (invalid credential, quota exhausted,
// everything else) so callers can surface actionable messages without
// echoing upstream internals.
package gemini
