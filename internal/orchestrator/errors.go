// ABOUTME: Failure classification for turn outcomes
// ABOUTME: Every turn error maps to exactly one user-facing kind

package orchestrator

import (
	"errors"

	"github.com/brokerdesk/assistant-gateway/internal/assistant"
	"github.com/brokerdesk/assistant-gateway/internal/conversation"
)

// Failure kinds surfaced to the UI. ConcurrentTurn is special: the request is
// silently ignored rather than shown as an error.
const (
	KindNoActiveUser      = "no_active_user"
	KindPersistence       = "persistence"
	KindDispatch          = "dispatch"
	KindMalformedResponse = "malformed_response"
	KindConcurrentTurn    = "concurrent_turn"
	KindInvalidInput      = "invalid_input"
	KindUnknown           = "unknown"
)

// Classify maps a turn error to its failure kind.
func Classify(err error) string {
	var pe *conversation.PersistenceError
	var de *assistant.DispatchError
	var me *assistant.MalformedResponseError

	switch {
	case errors.Is(err, ErrNoOwner):
		return KindNoActiveUser
	case errors.Is(err, ErrTurnInFlight):
		return KindConcurrentTurn
	case errors.Is(err, ErrEmptyMessage):
		return KindInvalidInput
	case errors.As(err, &pe):
		return KindPersistence
	case errors.As(err, &de):
		return KindDispatch
	case errors.As(err, &me):
		return KindMalformedResponse
	default:
		return KindUnknown
	}
}

// Retryable reports whether resubmitting the same turn can succeed. Dispatch
// and persistence failures are; a missing owner is not.
func Retryable(kind string) bool {
	switch kind {
	case KindPersistence, KindDispatch, KindMalformedResponse:
		return true
	default:
		return false
	}
}
