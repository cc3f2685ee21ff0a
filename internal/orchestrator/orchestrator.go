// ABOUTME: TurnOrchestrator runs one user turn end-to-end with rollback on failure
// ABOUTME: Keeps active pointer, persisted messages, and the in-flight call consistent

package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brokerdesk/assistant-gateway/internal/assistant"
	"github.com/brokerdesk/assistant-gateway/internal/conversation"
	"github.com/brokerdesk/assistant-gateway/internal/docindex"
	"github.com/brokerdesk/assistant-gateway/internal/store"
)

// ErrTurnInFlight is returned when a turn is requested while one is already
// running. Not surfaced to the user as an error; the request is a no-op.
var ErrTurnInFlight = errors.New("a turn is already in flight")

// ErrNoOwner is returned when the turn has no authenticated owner context.
var ErrNoOwner = errors.New("no owner context for turn")

// ErrEmptyMessage is returned when the turn text is empty after trimming.
var ErrEmptyMessage = errors.New("message is empty")

// MessagePersistedError marks a turn failure that happened after the user
// message reached the transcript. Callers must not restore the composer text:
// resending it would duplicate the message.
type MessagePersistedError struct {
	Err error
}

func (e *MessagePersistedError) Error() string {
	return "turn failed after message persisted: " + e.Err.Error()
}

func (e *MessagePersistedError) Unwrap() error { return e.Err }

// DefaultHistoryLimit bounds the prior-message window sent with each turn.
const DefaultHistoryLimit = 10

// rollbackTimeout bounds the cleanup delete when a bootstrap fails; the
// rollback must run even if the request context is already cancelled.
const rollbackTimeout = 5 * time.Second

// AssistantSender defines what the orchestrator needs from the gateway
type AssistantSender interface {
	Send(ctx context.Context, req *assistant.TurnRequest) (string, error)
}

// DocumentLister defines the directory read the context builder needs
type DocumentLister interface {
	ListDocuments(ctx context.Context, ownerID string) ([]*store.Document, error)
}

// Owner identifies the broker a turn runs on behalf of.
type Owner struct {
	ID    string
	Email string
}

// TurnResult is the outcome of one successful turn.
type TurnResult struct {
	SessionID        string
	NewSession       bool
	UserMessage      *store.Message
	AssistantMessage *store.Message // nil when the reply failed to persist
	Reply            string
	SaveWarning      string // set when the assistant reply could not be saved
}

// Orchestrator coordinates the ConversationManager, the context tracker and
// the assistant gateway to execute send-message turns.
type Orchestrator struct {
	manager   *conversation.Manager
	tracker   *docindex.Tracker
	sender    AssistantSender
	documents DocumentLister
	logger    *slog.Logger

	historyLimit int

	mu       sync.Mutex
	inFlight bool
}

// New creates an orchestrator. historyLimit <= 0 falls back to DefaultHistoryLimit.
func New(manager *conversation.Manager, tracker *docindex.Tracker, sender AssistantSender, documents DocumentLister, historyLimit int, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Orchestrator{
		manager:      manager,
		tracker:      tracker,
		sender:       sender,
		documents:    documents,
		historyLimit: historyLimit,
		logger:       logger.With("component", "orchestrator"),
	}
}

// Waiting reports whether a turn is currently in flight.
func (o *Orchestrator) Waiting() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight
}

// beginTurn claims the in-flight flag. Sessions are independent, but the
// manager holds a single active session, so one flag is the whole guard.
func (o *Orchestrator) beginTurn() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight {
		return false
	}
	o.inFlight = true
	return true
}

func (o *Orchestrator) endTurn() {
	o.mu.Lock()
	o.inFlight = false
	o.mu.Unlock()
}

// SendMessage executes one user turn: ensure a session exists, persist the
// user message, build context, dispatch to the assistant, persist the reply.
// On any failure the returned error is one of the classified kinds and the
// system is left in a consistent state; the caller restores the composer text
// only when the user message was never persisted.
func (o *Orchestrator) SendMessage(ctx context.Context, owner Owner, text string) (*TurnResult, error) {
	if owner.ID == "" {
		return nil, ErrNoOwner
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	if !o.beginTurn() {
		o.logger.Debug("turn rejected, one already in flight")
		return nil, ErrTurnInFlight
	}
	// The waiting flag clears on every exit path, rollback included.
	defer o.endTurn()

	// ENSURE_SESSION
	targetSession := o.manager.ActiveSession()
	isNewSession := targetSession == ""
	if isNewSession {
		conv, err := o.manager.StartNewConversation(ctx, owner.ID)
		if err != nil {
			// Terminal: nothing was mutated.
			return nil, err
		}
		// Pending target only; the pointer commits after the first
		// message persists so a failed bootstrap never leaves an empty
		// conversation selectable.
		targetSession = conv.ID
	}

	// PERSIST_USER_MESSAGE
	userMsg, err := o.manager.AddMessage(ctx, owner.ID, targetSession, store.SenderUser, text)
	if err != nil {
		if isNewSession {
			o.rollbackBootstrap(owner.ID, targetSession)
		}
		return nil, err
	}

	if isNewSession {
		// Commit point: the conversation becomes visible and selectable.
		if err := o.manager.SetActiveConversation(ctx, owner.ID, targetSession); err != nil {
			// The user message is persisted and the conversation is
			// valid history; no rollback, just report.
			return nil, &MessagePersistedError{Err: err}
		}
		o.deriveTitle(owner.ID, targetSession, text)
	}

	// BUILD_CONTEXT
	history := o.buildHistory()
	sel := o.tracker.Snapshot()
	req := &assistant.TurnRequest{
		OwnerID:    owner.ID,
		OwnerEmail: owner.Email,
		SessionID:  targetSession,
		Message:    text,
		History:    history,
		Context: assistant.ContextPayload{
			SelectedClientID:    sel.ClientID,
			SelectedLenderIDs:   sel.LenderIDs,
			SelectedDocumentIDs: sel.DocumentIDs,
		},
	}

	// DISPATCH: the only suspend point with unbounded latency. A failure
	// here never rolls back the user message - it is valid chat history
	// regardless of assistant availability.
	reply, err := o.sender.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &TurnResult{
		SessionID:   targetSession,
		NewSession:  isNewSession,
		UserMessage: userMsg,
		Reply:       reply,
	}

	// PERSIST_AI_MESSAGE: failure is reported but the turn stands.
	aiMsg, err := o.manager.AddMessage(ctx, owner.ID, targetSession, store.SenderAssistant, reply)
	if err != nil {
		o.logger.Error("assistant reply not saved", "error", err, "session_id", targetSession)
		result.SaveWarning = "the assistant replied but the response could not be saved"
		return result, nil
	}
	result.AssistantMessage = aiMsg

	return result, nil
}

// SetContext updates the broker's selection: refresh the document list from
// the directory, then recompute the derived document ids.
func (o *Orchestrator) SetContext(ctx context.Context, owner Owner, clientID string, lenderIDs []string) (docindex.Selection, error) {
	if owner.ID == "" {
		return docindex.Selection{}, ErrNoOwner
	}

	docs, err := o.documents.ListDocuments(ctx, owner.ID)
	if err != nil {
		return docindex.Selection{}, &conversation.PersistenceError{Op: "list documents", Err: err}
	}

	o.tracker.SetDocuments(docs)
	o.tracker.SetSelection(clientID, lenderIDs)

	sel := o.tracker.Snapshot()
	o.logger.Debug("context updated",
		"client_id", clientID,
		"lenders", len(sel.LenderIDs),
		"documents", len(sel.DocumentIDs))
	return sel, nil
}

// Selection returns the current context selection.
func (o *Orchestrator) Selection() docindex.Selection {
	return o.tracker.Snapshot()
}

// buildHistory maps the active session's cache (which already ends with the
// just-saved user message) into wire entries, truncated to the last N.
func (o *Orchestrator) buildHistory() []assistant.HistoryEntry {
	messages := o.manager.Messages()
	if len(messages) > o.historyLimit {
		messages = messages[len(messages)-o.historyLimit:]
	}

	history := make([]assistant.HistoryEntry, 0, len(messages))
	for _, msg := range messages {
		history = append(history, assistant.HistoryEntry{
			Sender:  msg.Sender,
			Message: msg.Content,
		})
	}
	return history
}

// rollbackBootstrap deletes a just-created conversation whose first message
// failed to persist. Runs on a detached context so cleanup happens even when
// the request context is already cancelled.
func (o *Orchestrator) rollbackBootstrap(ownerID, sessionID string) {
	rollbackCtx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()

	if _, err := o.manager.DeleteConversation(rollbackCtx, ownerID, sessionID); err != nil {
		o.logger.Error("bootstrap rollback failed", "error", err, "session_id", sessionID)
		return
	}
	o.logger.Debug("rolled back empty conversation", "session_id", sessionID)
}

// deriveTitle labels a fresh conversation with its first user message.
// Best effort; an untitled conversation falls back to a truncated id.
func (o *Orchestrator) deriveTitle(ownerID, sessionID, text string) {
	title := text
	if len(title) > 60 {
		title = strings.TrimSpace(title[:60])
	}
	if err := o.manager.SetTitle(context.Background(), ownerID, sessionID, title); err != nil {
		o.logger.Warn("title derivation failed", "error", err, "session_id", sessionID)
	}
}
