// ABOUTME: Package documentation for the send idempotency cache
// ABOUTME: Explains key scoping and the mark-after-start contract

// Package dedupe provides a TTL cache for suppressing duplicate send
// requests. The API layer marks an owner-scoped idempotency key only after
// a turn has actually been started, so a rejected or failed request may be
// retried with the same key.
package dedupe
