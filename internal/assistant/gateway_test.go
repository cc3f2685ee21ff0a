// ABOUTME: Tests for the assistant gateway HTTP client
// ABOUTME: Verifies wire shape, reply extraction, and failure classification

package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func turnFixture() *TurnRequest {
	return &TurnRequest{
		OwnerID:    "broker-1",
		OwnerEmail: "dana@example.com",
		SessionID:  "session-1",
		Message:    "What's the rate for a 30yr FHA?",
		History: []HistoryEntry{
			{Sender: "user", Message: "hi"},
			{Sender: "assistant", Message: "hello"},
		},
		Context: ContextPayload{
			SelectedClientID:    "client-7",
			SelectedLenderIDs:   []string{"L1", "L2"},
			SelectedDocumentIDs: []string{"D1", "D2", "D3"},
		},
	}
}

func TestGateway_Send_Success(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]string{"reply": "Rates start at 6.1%."})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, time.Second, nil)
	reply, err := g.Send(context.Background(), turnFixture())
	require.NoError(t, err)
	assert.Equal(t, "Rates start at 6.1%.", reply)

	// Exact wire field names
	assert.Equal(t, "broker-1", captured["ownerId"])
	assert.Equal(t, "dana@example.com", captured["ownerEmail"])
	assert.Equal(t, "session-1", captured["sessionId"])
	assert.Equal(t, "What's the rate for a 30yr FHA?", captured["message"])

	history, ok := captured["history"].([]any)
	require.True(t, ok)
	require.Len(t, history, 2)
	first := history[0].(map[string]any)
	assert.Equal(t, "user", first["sender"])
	assert.Equal(t, "hi", first["message"])

	context_, ok := captured["context"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "client-7", context_["selectedClientId"])
	assert.Len(t, context_["selectedLenderIds"], 2)
	assert.Len(t, context_["selectedDocumentIds"], 3)
}

func TestGateway_Send_OmitsEmptyClientID(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NoError(t, json.Unmarshal(body["context"], &raw))
		json.NewEncoder(w).Encode(map[string]string{"reply": "ok"})
	}))
	defer srv.Close()

	req := turnFixture()
	req.Context.SelectedClientID = ""

	g := NewGateway(srv.URL, time.Second, nil)
	_, err := g.Send(context.Background(), req)
	require.NoError(t, err)

	_, present := raw["selectedClientId"]
	assert.False(t, present)
}

func TestGateway_Send_Non2xxIsDispatchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, time.Second, nil)
	_, err := g.Send(context.Background(), turnFixture())

	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusBadGateway, de.StatusCode)
}

func TestGateway_Send_UnreachableIsDispatchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	g := NewGateway(srv.URL, time.Second, nil)
	_, err := g.Send(context.Background(), turnFixture())

	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Zero(t, de.StatusCode)
}

func TestGateway_Send_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, time.Second, nil)
	_, err := g.Send(context.Background(), turnFixture())

	var me *MalformedResponseError
	require.ErrorAs(t, err, &me)
}

func TestGateway_Send_MissingReplyField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, time.Second, nil)
	_, err := g.Send(context.Background(), turnFixture())

	var me *MalformedResponseError
	require.ErrorAs(t, err, &me)
	assert.Contains(t, me.Error(), "missing reply")
}
