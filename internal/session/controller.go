// ABOUTME: Page-level mode machine for the assistant view (new / chat / library)
// ABOUTME: Driven by user actions and by turn outcomes; thin shell over the manager

package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/brokerdesk/assistant-gateway/internal/conversation"
)

// Mode is the assistant view state.
type Mode string

const (
	// ModeNew: no active session, welcome/input-only view.
	ModeNew Mode = "new"
	// ModeChat: active session with the transcript visible.
	ModeChat Mode = "chat"
	// ModeLibrary: conversation list browsing, no composer.
	ModeLibrary Mode = "library"
)

// Controller applies the mode transition table. The active-session pointer
// itself lives in the ConversationManager; the controller only ever moves it
// through manager calls so the two cannot disagree.
type Controller struct {
	mu      sync.Mutex
	mode    Mode
	staged  string // initial message staged for the new-chat view
	manager *conversation.Manager
	logger  *slog.Logger
}

// NewController creates a controller starting in the "new" mode.
func NewController(manager *conversation.Manager, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		mode:    ModeNew,
		manager: manager,
		logger:  logger.With("component", "session"),
	}
}

// Mode returns the current view mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// TurnCompleted moves to chat after a successful turn. The orchestrator has
// already committed the active pointer for fresh sessions.
func (c *Controller) TurnCompleted(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staged = ""
	if c.mode != ModeChat {
		c.logger.Debug("mode transition", "from", c.mode, "to", ModeChat, "session_id", sessionID)
		c.mode = ModeChat
	}
}

// SelectConversation activates a conversation and enters chat. Selecting the
// already-active conversation stays in chat with no refetch.
func (c *Controller) SelectConversation(ctx context.Context, ownerID, sessionID string) error {
	if err := c.manager.SetActiveConversation(ctx, ownerID, sessionID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = ModeChat
	return nil
}

// StartNew clears the active session and any staged initial message and
// returns to the welcome view.
func (c *Controller) StartNew(ctx context.Context, ownerID string) error {
	if err := c.manager.SetActiveConversation(ctx, ownerID, ""); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = ModeNew
	c.staged = ""
	return nil
}

// OpenLibrary enters the conversation list from any state.
func (c *Controller) OpenLibrary() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = ModeLibrary
}

// DeleteConversation removes a conversation. Deleting the active one forces
// the "new" mode from any state; the pointer cannot reference a deleted
// conversation.
func (c *Controller) DeleteConversation(ctx context.Context, ownerID, sessionID string) error {
	wasActive, err := c.manager.DeleteConversation(ctx, ownerID, sessionID)
	if err != nil {
		return err
	}

	if wasActive {
		c.mu.Lock()
		c.mode = ModeNew
		c.staged = ""
		c.mu.Unlock()
	}
	return nil
}

// StageInitialMessage holds composer text for the new-chat view so a failed
// bootstrap can restore it.
func (c *Controller) StageInitialMessage(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staged = text
}

// StagedMessage returns the staged composer text.
func (c *Controller) StagedMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.staged
}
