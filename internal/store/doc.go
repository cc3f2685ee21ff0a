// Package store provides persistence for assistant conversations, their
// messages, and the read-only CRM directory tables (clients, lenders,
// documents) that context derivation reads.
//
// All operations are scoped to an owner id. A lookup for another owner's row
// behaves exactly like a lookup for a missing row: ErrNotFound. This is the
// fail-closed boundary the rest of the system relies on.
//
// Timestamps are stored as fixed-width RFC 3339 text (nine fractional
// digits, UTC) so that lexicographic column order matches chronological
// order at sub-second append rates.
package store
