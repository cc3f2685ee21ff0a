// ABOUTME: ConversationManager is the single source of truth for the active session
// ABOUTME: Owns the active-session pointer and the message cache for that session

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brokerdesk/assistant-gateway/internal/store"
)

// ConversationStore defines what the manager needs from storage
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	ListConversations(ctx context.Context, ownerID string) ([]*store.Conversation, error)
	SetConversationTitle(ctx context.Context, ownerID, sessionID, title string) error
	DeleteConversation(ctx context.Context, ownerID, sessionID string) error
	AppendMessage(ctx context.Context, msg *store.Message) error
	ListMessages(ctx context.Context, ownerID, sessionID string) ([]*store.Message, error)
}

// PersistenceError wraps a store read/write failure. Retry is the user's
// responsibility via resubmission; only the new-session bootstrap rolls back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Summary is a conversation list entry for the library view.
type Summary struct {
	SessionID string
	Title     string
	CreatedAt time.Time
}

// Label returns the display label: the title when set, otherwise a
// truncated session id.
func (s Summary) Label() string {
	if s.Title != "" {
		return s.Title
	}
	if len(s.SessionID) > 8 {
		return s.SessionID[:8]
	}
	return s.SessionID
}

// Manager owns the active-session pointer (empty string means none) and the
// message cache for the active session. It knows nothing about the assistant
// endpoint or context derivation.
type Manager struct {
	mu         sync.Mutex
	store      ConversationStore
	logger     *slog.Logger
	active     string
	cache      []*store.Message
	lastAppend time.Time
}

// New creates a conversation manager
func New(st ConversationStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  st,
		logger: logger.With("component", "conversation"),
	}
}

// ActiveSession returns the active session id, or "" when no session is active.
func (m *Manager) ActiveSession() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Messages returns a copy of the message cache for the active session.
func (m *Manager) Messages() []*store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*store.Message(nil), m.cache...)
}

// ListConversations returns the owner's conversations as summaries, newest first.
func (m *Manager) ListConversations(ctx context.Context, ownerID string) ([]Summary, error) {
	convs, err := m.store.ListConversations(ctx, ownerID)
	if err != nil {
		return nil, &PersistenceError{Op: "list conversations", Err: err}
	}

	summaries := make([]Summary, 0, len(convs))
	for _, conv := range convs {
		s := Summary{SessionID: conv.ID, CreatedAt: conv.CreatedAt}
		if conv.Title != nil {
			s.Title = *conv.Title
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// StartNewConversation creates and persists a conversation with no messages.
// The new conversation is NOT made active; the caller commits the pointer only
// after the first message persists, so a failed bootstrap never exposes an
// empty conversation.
func (m *Manager) StartNewConversation(ctx context.Context, ownerID string) (*store.Conversation, error) {
	conv := &store.Conversation{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		CreatedAt: time.Now(),
	}
	if err := m.store.CreateConversation(ctx, conv); err != nil {
		return nil, &PersistenceError{Op: "create conversation", Err: err}
	}

	m.logger.Debug("conversation created", "session_id", conv.ID, "owner_id", ownerID)
	return conv, nil
}

// SetActiveConversation moves the active pointer. An empty sessionID clears it
// (the "new" mode). Changing to a different non-empty session refetches the
// message cache; re-selecting the current session is a no-op.
func (m *Manager) SetActiveConversation(ctx context.Context, ownerID, sessionID string) error {
	m.mu.Lock()
	previous := m.active
	m.mu.Unlock()

	if sessionID == previous {
		return nil
	}

	if sessionID == "" {
		m.mu.Lock()
		m.active = ""
		m.cache = nil
		m.mu.Unlock()
		return nil
	}

	messages, err := m.store.ListMessages(ctx, ownerID, sessionID)
	if err != nil {
		return &PersistenceError{Op: "fetch messages", Err: err}
	}

	m.mu.Lock()
	m.active = sessionID
	m.cache = messages
	m.mu.Unlock()

	m.logger.Debug("active session changed", "session_id", sessionID, "messages", len(messages))
	return nil
}

// FetchMessages reloads a session's transcript from the store. When the
// session is the active one, the cache is replaced. Idempotent.
func (m *Manager) FetchMessages(ctx context.Context, ownerID, sessionID string) ([]*store.Message, error) {
	messages, err := m.store.ListMessages(ctx, ownerID, sessionID)
	if err != nil {
		return nil, &PersistenceError{Op: "fetch messages", Err: err}
	}

	m.mu.Lock()
	if m.active == sessionID {
		m.cache = messages
	}
	m.mu.Unlock()

	return messages, nil
}

// AddMessage persists one message and returns the stored record with its
// assigned id and timestamp. Callers validate non-empty content before
// calling; the store enforces it as a backstop. On success the active
// session's cache is extended in append order.
func (m *Manager) AddMessage(ctx context.Context, ownerID, sessionID, sender, content string) (*store.Message, error) {
	msg := &store.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		OwnerID:   ownerID,
		Sender:    sender,
		Content:   content,
		CreatedAt: m.nextTimestamp(),
	}

	if err := m.store.AppendMessage(ctx, msg); err != nil {
		return nil, &PersistenceError{Op: "append message", Err: err}
	}

	m.mu.Lock()
	if m.active == sessionID {
		m.cache = append(m.cache, msg)
	}
	m.mu.Unlock()

	m.logger.Debug("message persisted", "message_id", msg.ID, "session_id", sessionID, "sender", sender)
	return msg, nil
}

// DeleteConversation removes the conversation and all its messages. When the
// deleted session was active, the pointer and cache are cleared; the returned
// flag tells the controller to force the "new" mode.
func (m *Manager) DeleteConversation(ctx context.Context, ownerID, sessionID string) (wasActive bool, err error) {
	if err := m.store.DeleteConversation(ctx, ownerID, sessionID); err != nil {
		return false, &PersistenceError{Op: "delete conversation", Err: err}
	}

	m.mu.Lock()
	if m.active == sessionID {
		m.active = ""
		m.cache = nil
		wasActive = true
	}
	m.mu.Unlock()

	m.logger.Debug("conversation deleted", "session_id", sessionID, "was_active", wasActive)
	return wasActive, nil
}

// SetTitle updates a conversation's display label.
func (m *Manager) SetTitle(ctx context.Context, ownerID, sessionID, title string) error {
	if err := m.store.SetConversationTitle(ctx, ownerID, sessionID, title); err != nil {
		return &PersistenceError{Op: "set title", Err: err}
	}
	return nil
}

// nextTimestamp returns a timestamp strictly after the previous append, so
// transcript order is never ambiguous even at sub-clock-resolution rates.
func (m *Manager) nextTimestamp() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if !now.After(m.lastAppend) {
		now = m.lastAppend.Add(time.Nanosecond)
	}
	m.lastAppend = now
	return now
}
