// ABOUTME: Tests for the assistant view mode machine
// ABOUTME: Verifies the transition table including forced-new on active delete

package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokerdesk/assistant-gateway/internal/conversation"
	"github.com/brokerdesk/assistant-gateway/internal/store"
)

const testOwner = "broker-1"

func newFixture(t *testing.T) (*Controller, *conversation.Manager, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	manager := conversation.New(s, nil)
	return NewController(manager, nil), manager, s
}

func TestController_StartsInNewMode(t *testing.T) {
	c, _, _ := newFixture(t)
	assert.Equal(t, ModeNew, c.Mode())
}

func TestController_FirstSuccessfulTurnEntersChat(t *testing.T) {
	c, manager, _ := newFixture(t)
	ctx := context.Background()

	conv, err := manager.StartNewConversation(ctx, testOwner)
	require.NoError(t, err)

	c.StageInitialMessage("draft text")
	c.TurnCompleted(conv.ID)

	assert.Equal(t, ModeChat, c.Mode())
	assert.Empty(t, c.StagedMessage(), "staged message cleared once sent")
}

func TestController_SelectConversationFromLibrary(t *testing.T) {
	c, manager, _ := newFixture(t)
	ctx := context.Background()

	conv, err := manager.StartNewConversation(ctx, testOwner)
	require.NoError(t, err)

	c.OpenLibrary()
	assert.Equal(t, ModeLibrary, c.Mode())

	require.NoError(t, c.SelectConversation(ctx, testOwner, conv.ID))
	assert.Equal(t, ModeChat, c.Mode())
	assert.Equal(t, conv.ID, manager.ActiveSession())
}

func TestController_SelectDifferentConversationStaysInChat(t *testing.T) {
	c, manager, _ := newFixture(t)
	ctx := context.Background()

	conv1, err := manager.StartNewConversation(ctx, testOwner)
	require.NoError(t, err)
	conv2, err := manager.StartNewConversation(ctx, testOwner)
	require.NoError(t, err)

	require.NoError(t, c.SelectConversation(ctx, testOwner, conv1.ID))
	require.NoError(t, c.SelectConversation(ctx, testOwner, conv2.ID))

	assert.Equal(t, ModeChat, c.Mode())
	assert.Equal(t, conv2.ID, manager.ActiveSession())
}

func TestController_StartNewClearsSessionAndStagedText(t *testing.T) {
	c, manager, _ := newFixture(t)
	ctx := context.Background()

	conv, err := manager.StartNewConversation(ctx, testOwner)
	require.NoError(t, err)
	require.NoError(t, c.SelectConversation(ctx, testOwner, conv.ID))
	c.StageInitialMessage("leftover draft")

	require.NoError(t, c.StartNew(ctx, testOwner))

	assert.Equal(t, ModeNew, c.Mode())
	assert.Empty(t, manager.ActiveSession())
	assert.Empty(t, c.StagedMessage())
}

func TestController_LibraryNewChatTransition(t *testing.T) {
	c, _, _ := newFixture(t)
	ctx := context.Background()

	c.OpenLibrary()
	require.NoError(t, c.StartNew(ctx, testOwner))
	assert.Equal(t, ModeNew, c.Mode())
}

func TestController_DeleteActiveConversationForcesNew(t *testing.T) {
	c, manager, _ := newFixture(t)
	ctx := context.Background()

	conv, err := manager.StartNewConversation(ctx, testOwner)
	require.NoError(t, err)
	require.NoError(t, c.SelectConversation(ctx, testOwner, conv.ID))
	require.Equal(t, ModeChat, c.Mode())

	require.NoError(t, c.DeleteConversation(ctx, testOwner, conv.ID))

	assert.Equal(t, ModeNew, c.Mode())
	assert.Empty(t, manager.ActiveSession())

	summaries, err := manager.ListConversations(ctx, testOwner)
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestController_DeleteInactiveConversationKeepsMode(t *testing.T) {
	c, manager, _ := newFixture(t)
	ctx := context.Background()

	conv1, err := manager.StartNewConversation(ctx, testOwner)
	require.NoError(t, err)
	conv2, err := manager.StartNewConversation(ctx, testOwner)
	require.NoError(t, err)
	require.NoError(t, c.SelectConversation(ctx, testOwner, conv1.ID))

	require.NoError(t, c.DeleteConversation(ctx, testOwner, conv2.ID))

	assert.Equal(t, ModeChat, c.Mode())
	assert.Equal(t, conv1.ID, manager.ActiveSession())
}

func TestController_DeleteActiveFromLibraryForcesNew(t *testing.T) {
	c, manager, _ := newFixture(t)
	ctx := context.Background()

	conv, err := manager.StartNewConversation(ctx, testOwner)
	require.NoError(t, err)
	require.NoError(t, c.SelectConversation(ctx, testOwner, conv.ID))
	c.OpenLibrary()

	require.NoError(t, c.DeleteConversation(ctx, testOwner, conv.ID))
	assert.Equal(t, ModeNew, c.Mode())
}

func TestController_DeleteMissingConversation(t *testing.T) {
	c, _, _ := newFixture(t)

	err := c.DeleteConversation(context.Background(), testOwner, "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
