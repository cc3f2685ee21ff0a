// ABOUTME: Store interface and data types for assistant-gateway persistence
// ABOUTME: Defines Conversation, Message and directory structs plus the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
// (or exists but belongs to a different owner - lookups fail closed).
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when creating a conversation whose id already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrOwnerMismatch is returned when a message's owner does not match the
// owner of the conversation it is being appended to.
var ErrOwnerMismatch = errors.New("owner does not match conversation owner")

// ErrEmptyContent is returned when appending a message with no content
var ErrEmptyContent = errors.New("message content is empty")

// Sender constants for Message.Sender
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Conversation is one assistant chat session owned by a broker.
// Title is nil until the first turn derives one (or the user sets it).
type Conversation struct {
	ID        string
	OwnerID   string
	Title     *string
	CreatedAt time.Time
}

// Message is a single entry in a conversation transcript.
// OwnerID always matches the owning conversation's owner.
type Message struct {
	ID        string
	SessionID string
	OwnerID   string
	Sender    string // "user" or "assistant"
	Content   string
	CreatedAt time.Time
}

// Client is a CRM client record, read here only for selection labels.
type Client struct {
	ID      string
	OwnerID string
	Name    string
}

// Lender is a CRM lender record.
type Lender struct {
	ID      string
	OwnerID string
	Name    string
}

// Document is a lender-owned document; the docindex groups these by lender.
type Document struct {
	ID       string
	OwnerID  string
	LenderID string
	Name     string
}

// Store defines the persistence contract for conversations, messages and the
// directory tables the context builder reads. Every operation is scoped to an
// owner id; cross-owner access returns ErrNotFound rather than leaking rows.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, ownerID, sessionID string) (*Conversation, error)
	ListConversations(ctx context.Context, ownerID string) ([]*Conversation, error)
	SetConversationTitle(ctx context.Context, ownerID, sessionID, title string) error
	DeleteConversation(ctx context.Context, ownerID, sessionID string) error

	// Messages
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, ownerID, sessionID string) ([]*Message, error)

	// Directory (read-only from the core's point of view; writes exist for
	// the import command and tests)
	ListClients(ctx context.Context, ownerID string) ([]*Client, error)
	ListLenders(ctx context.Context, ownerID string) ([]*Lender, error)
	ListDocuments(ctx context.Context, ownerID string) ([]*Document, error)
	SaveClient(ctx context.Context, c *Client) error
	SaveLender(ctx context.Context, l *Lender) error
	SaveDocument(ctx context.Context, d *Document) error

	// Close releases any resources held by the store
	Close() error
}
