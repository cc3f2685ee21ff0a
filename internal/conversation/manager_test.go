// ABOUTME: Tests for the ConversationManager
// ABOUTME: Verifies active-pointer semantics, cache handling, and summary labels

package conversation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokerdesk/assistant-gateway/internal/store"
)

const testOwner = "broker-1"

func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestManager_StartNewConversation_DoesNotActivate(t *testing.T) {
	m := New(createTestStore(t), nil)
	ctx := context.Background()

	conv, err := m.StartNewConversation(ctx, testOwner)
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)

	assert.Empty(t, m.ActiveSession(), "bootstrap must not commit the active pointer")
}

func TestManager_SetActiveConversation_RefetchesCache(t *testing.T) {
	testStore := createTestStore(t)
	m := New(testStore, nil)
	ctx := context.Background()

	conv, err := m.StartNewConversation(ctx, testOwner)
	require.NoError(t, err)
	_, err = m.AddMessage(ctx, testOwner, conv.ID, store.SenderUser, "hello")
	require.NoError(t, err)

	require.NoError(t, m.SetActiveConversation(ctx, testOwner, conv.ID))
	assert.Equal(t, conv.ID, m.ActiveSession())

	messages := m.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].Content)
}

func TestManager_SetActiveConversation_ClearWithEmpty(t *testing.T) {
	m := New(createTestStore(t), nil)
	ctx := context.Background()

	conv, err := m.StartNewConversation(ctx, testOwner)
	require.NoError(t, err)
	require.NoError(t, m.SetActiveConversation(ctx, testOwner, conv.ID))

	require.NoError(t, m.SetActiveConversation(ctx, testOwner, ""))
	assert.Empty(t, m.ActiveSession())
	assert.Empty(t, m.Messages())
}

func TestManager_SetActiveConversation_UnknownSession(t *testing.T) {
	m := New(createTestStore(t), nil)
	ctx := context.Background()

	err := m.SetActiveConversation(ctx, testOwner, "missing")

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Empty(t, m.ActiveSession(), "failed activation must not move the pointer")
}

func TestManager_AddMessage_ExtendsActiveCache(t *testing.T) {
	m := New(createTestStore(t), nil)
	ctx := context.Background()

	conv, err := m.StartNewConversation(ctx, testOwner)
	require.NoError(t, err)
	require.NoError(t, m.SetActiveConversation(ctx, testOwner, conv.ID))

	msg1, err := m.AddMessage(ctx, testOwner, conv.ID, store.SenderUser, "question")
	require.NoError(t, err)
	msg2, err := m.AddMessage(ctx, testOwner, conv.ID, store.SenderAssistant, "answer")
	require.NoError(t, err)

	cached := m.Messages()
	require.Len(t, cached, 2)
	assert.Equal(t, msg1.ID, cached[0].ID)
	assert.Equal(t, msg2.ID, cached[1].ID)
	assert.True(t, msg2.CreatedAt.After(msg1.CreatedAt))
}

func TestManager_AddMessage_FailureIsClassified(t *testing.T) {
	m := New(createTestStore(t), nil)
	ctx := context.Background()

	_, err := m.AddMessage(ctx, testOwner, "no-such-session", store.SenderUser, "hello")

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_FetchMessages_OrderMatchesAppendOrder(t *testing.T) {
	m := New(createTestStore(t), nil)
	ctx := context.Background()

	conv, err := m.StartNewConversation(ctx, testOwner)
	require.NoError(t, err)

	contents := []string{"a", "b", "c", "d"}
	for _, c := range contents {
		_, err := m.AddMessage(ctx, testOwner, conv.ID, store.SenderUser, c)
		require.NoError(t, err)
	}

	messages, err := m.FetchMessages(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, len(contents))
	for i, c := range contents {
		assert.Equal(t, c, messages[i].Content)
	}
	for i := 1; i < len(messages); i++ {
		assert.False(t, messages[i].CreatedAt.Before(messages[i-1].CreatedAt))
	}
}

func TestManager_DeleteConversation_ClearsActivePointer(t *testing.T) {
	m := New(createTestStore(t), nil)
	ctx := context.Background()

	conv, err := m.StartNewConversation(ctx, testOwner)
	require.NoError(t, err)
	require.NoError(t, m.SetActiveConversation(ctx, testOwner, conv.ID))

	wasActive, err := m.DeleteConversation(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	assert.True(t, wasActive)
	assert.Empty(t, m.ActiveSession())
	assert.Empty(t, m.Messages())

	summaries, err := m.ListConversations(ctx, testOwner)
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestManager_DeleteConversation_InactiveSession(t *testing.T) {
	m := New(createTestStore(t), nil)
	ctx := context.Background()

	conv1, err := m.StartNewConversation(ctx, testOwner)
	require.NoError(t, err)
	conv2, err := m.StartNewConversation(ctx, testOwner)
	require.NoError(t, err)
	require.NoError(t, m.SetActiveConversation(ctx, testOwner, conv1.ID))

	wasActive, err := m.DeleteConversation(ctx, testOwner, conv2.ID)
	require.NoError(t, err)
	assert.False(t, wasActive)
	assert.Equal(t, conv1.ID, m.ActiveSession())
}

func TestManager_ListConversations_NewestFirst(t *testing.T) {
	m := New(createTestStore(t), nil)
	ctx := context.Background()

	conv1, err := m.StartNewConversation(ctx, testOwner)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	conv2, err := m.StartNewConversation(ctx, testOwner)
	require.NoError(t, err)

	summaries, err := m.ListConversations(ctx, testOwner)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, conv2.ID, summaries[0].SessionID)
	assert.Equal(t, conv1.ID, summaries[1].SessionID)
}

func TestSummary_Label(t *testing.T) {
	withTitle := Summary{SessionID: "0123456789abcdef", Title: "FHA rates"}
	assert.Equal(t, "FHA rates", withTitle.Label())

	untitled := Summary{SessionID: "0123456789abcdef"}
	assert.Equal(t, "01234567", untitled.Label())

	short := Summary{SessionID: "abc"}
	assert.Equal(t, "abc", short.Label())
}

func TestManager_SetTitle(t *testing.T) {
	m := New(createTestStore(t), nil)
	ctx := context.Background()

	conv, err := m.StartNewConversation(ctx, testOwner)
	require.NoError(t, err)
	require.NoError(t, m.SetTitle(ctx, testOwner, conv.ID, "Refi scenarios"))

	summaries, err := m.ListConversations(ctx, testOwner)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Refi scenarios", summaries[0].Label())
}
