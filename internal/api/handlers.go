// ABOUTME: Handlers for the assistant routes: state, send, library, context
// ABOUTME: Maps classified turn failures to HTTP statuses and UI payloads

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brokerdesk/assistant-gateway/internal/auth"
	"github.com/brokerdesk/assistant-gateway/internal/dedupe"
	"github.com/brokerdesk/assistant-gateway/internal/orchestrator"
	"github.com/brokerdesk/assistant-gateway/internal/store"
)

// messageJSON is the wire shape of a transcript entry.
type messageJSON struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func toMessageJSON(m *store.Message) messageJSON {
	return messageJSON{
		ID:        m.ID,
		SessionID: m.SessionID,
		Sender:    m.Sender,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

// summaryJSON is a library list entry.
type summaryJSON struct {
	SessionID string    `json:"sessionId"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
}

// labelJSON pairs an id with its directory display name.
type labelJSON struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// stateJSON is the full view state the frontend renders from.
type stateJSON struct {
	Mode            string      `json:"mode"`
	ActiveSessionID string      `json:"activeSessionId"`
	Waiting         bool        `json:"waiting"`
	StagedMessage   string      `json:"stagedMessage,omitempty"`
	Context         contextJSON `json:"context"`
}

type contextJSON struct {
	ClientID    string   `json:"clientId,omitempty"`
	LenderIDs   []string `json:"lenderIds"`
	DocumentIDs []string `json:"documentIds"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sel := s.orch.Selection()
	writeJSON(w, http.StatusOK, stateJSON{
		Mode:            string(s.controller.Mode()),
		ActiveSessionID: s.manager.ActiveSession(),
		Waiting:         s.orch.Waiting(),
		StagedMessage:   s.controller.StagedMessage(),
		Context: contextJSON{
			ClientID:    sel.ClientID,
			LenderIDs:   sel.LenderIDs,
			DocumentIDs: sel.DocumentIDs,
		},
	})
}

// sendRequest is the POST /send body.
type sendRequest struct {
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// sendFailure is the error payload for a failed turn. RestoredMessage carries
// the typed text back to the composer when the message was never persisted.
type sendFailure struct {
	Error           string `json:"error"`
	Kind            string `json:"kind"`
	Retryable       bool   `json:"retryable"`
	RestoredMessage string `json:"restoredMessage,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	owner := auth.FromContext(r.Context())
	if owner == nil {
		writeError(w, http.StatusUnauthorized, "no authenticated owner")
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.IdempotencyKey != "" {
		key := dedupe.Key(owner.ID, req.IdempotencyKey)
		if s.idem.Seen(key) {
			s.logger.Debug("duplicate send ignored", "idempotency_key", req.IdempotencyKey)
			writeJSON(w, http.StatusAccepted, map[string]string{
				"status": "ignored",
				"reason": "duplicate",
			})
			return
		}
	}

	result, err := s.orch.SendMessage(r.Context(), orchestrator.Owner{ID: owner.ID, Email: owner.Email}, req.Message)
	if err != nil {
		s.respondSendFailure(w, err, req.Message)
		return
	}

	// The key is marked only once a turn has actually run, so a failed or
	// ignored request may be retried with the same key.
	if req.IdempotencyKey != "" {
		s.idem.Mark(dedupe.Key(owner.ID, req.IdempotencyKey))
	}
	s.controller.TurnCompleted(result.SessionID)

	resp := map[string]any{
		"sessionId":   result.SessionID,
		"newSession":  result.NewSession,
		"reply":       result.Reply,
		"mode":        string(s.controller.Mode()),
		"userMessage": toMessageJSON(result.UserMessage),
	}
	if result.AssistantMessage != nil {
		resp["assistantMessage"] = toMessageJSON(result.AssistantMessage)
	}
	if result.SaveWarning != "" {
		resp["saveWarning"] = result.SaveWarning
	}
	writeJSON(w, http.StatusOK, resp)
}

// respondSendFailure maps a classified turn error to a status and payload.
// A concurrent turn is not an error at all: the request is acknowledged and
// dropped so the UI stays quiet while the first turn finishes.
func (s *Server) respondSendFailure(w http.ResponseWriter, err error, typedText string) {
	if errors.Is(err, orchestrator.ErrTurnInFlight) {
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "ignored",
			"reason": "concurrent_turn",
		})
		return
	}

	kind := orchestrator.Classify(err)
	payload := sendFailure{
		Error:     err.Error(),
		Kind:      kind,
		Retryable: orchestrator.Retryable(kind),
	}

	var status int
	switch kind {
	case orchestrator.KindInvalidInput:
		status = http.StatusBadRequest
		payload.RestoredMessage = typedText
	case orchestrator.KindNoActiveUser:
		status = http.StatusUnauthorized
		payload.RestoredMessage = typedText
	case orchestrator.KindPersistence:
		status = http.StatusInternalServerError
		// Most persist failures happen before or at the user-message write,
		// so the composer gets its text back. The exception is a failure
		// after the message reached the transcript.
		var persisted *orchestrator.MessagePersistedError
		if !errors.As(err, &persisted) {
			payload.RestoredMessage = typedText
		}
	case orchestrator.KindDispatch, orchestrator.KindMalformedResponse:
		// The user message is already saved; no composer restore.
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}

	s.logger.Warn("turn failed", "kind", kind, "error", err)
	writeJSON(w, status, payload)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	owner := auth.FromContext(r.Context())
	if owner == nil {
		writeError(w, http.StatusUnauthorized, "no authenticated owner")
		return
	}

	summaries, err := s.manager.ListConversations(r.Context(), owner.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list conversations")
		return
	}

	out := make([]summaryJSON, 0, len(summaries))
	for _, sum := range summaries {
		out = append(out, summaryJSON{
			SessionID: sum.SessionID,
			Label:     sum.Label(),
			CreatedAt: sum.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

func (s *Server) handleSelectConversation(w http.ResponseWriter, r *http.Request) {
	owner := auth.FromContext(r.Context())
	if owner == nil {
		writeError(w, http.StatusUnauthorized, "no authenticated owner")
		return
	}
	sessionID := chi.URLParam(r, "id")

	if err := s.controller.SelectConversation(r.Context(), owner.ID, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not select conversation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"mode":            string(s.controller.Mode()),
		"activeSessionId": s.manager.ActiveSession(),
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	owner := auth.FromContext(r.Context())
	if owner == nil {
		writeError(w, http.StatusUnauthorized, "no authenticated owner")
		return
	}
	sessionID := chi.URLParam(r, "id")

	if err := s.controller.DeleteConversation(r.Context(), owner.ID, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not delete conversation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"deleted": sessionID,
		"mode":    string(s.controller.Mode()),
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	owner := auth.FromContext(r.Context())
	if owner == nil {
		writeError(w, http.StatusUnauthorized, "no authenticated owner")
		return
	}
	sessionID := chi.URLParam(r, "id")

	messages, err := s.manager.FetchMessages(r.Context(), owner.ID, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not fetch messages")
		return
	}

	out := make([]messageJSON, 0, len(messages))
	for _, m := range messages {
		out = append(out, toMessageJSON(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

// startNewRequest optionally stages composer text typed on the welcome view.
type startNewRequest struct {
	StagedMessage string `json:"stagedMessage,omitempty"`
}

func (s *Server) handleStartNew(w http.ResponseWriter, r *http.Request) {
	owner := auth.FromContext(r.Context())
	if owner == nil {
		writeError(w, http.StatusUnauthorized, "no authenticated owner")
		return
	}

	var req startNewRequest
	if r.Body != nil {
		// Empty bodies are fine; only a malformed one is rejected.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := s.controller.StartNew(r.Context(), owner.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "could not start new conversation")
		return
	}
	if req.StagedMessage != "" {
		s.controller.StageInitialMessage(req.StagedMessage)
	}

	writeJSON(w, http.StatusOK, map[string]string{"mode": string(s.controller.Mode())})
}

func (s *Server) handleOpenLibrary(w http.ResponseWriter, r *http.Request) {
	s.controller.OpenLibrary()
	writeJSON(w, http.StatusOK, map[string]string{"mode": string(s.controller.Mode())})
}

// setContextRequest is the PUT /context body: the broker's current selection.
type setContextRequest struct {
	ClientID  string   `json:"clientId,omitempty"`
	LenderIDs []string `json:"lenderIds"`
}

// setContextResponse echoes the selection with directory labels and the
// derived document set.
type setContextResponse struct {
	ClientID    string      `json:"clientId,omitempty"`
	ClientLabel string      `json:"clientLabel,omitempty"`
	Lenders     []labelJSON `json:"lenders"`
	Documents   []labelJSON `json:"documents"`
}

func (s *Server) handleSetContext(w http.ResponseWriter, r *http.Request) {
	owner := auth.FromContext(r.Context())
	if owner == nil {
		writeError(w, http.StatusUnauthorized, "no authenticated owner")
		return
	}

	var req setContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sel, err := s.orch.SetContext(r.Context(), orchestrator.Owner{ID: owner.ID, Email: owner.Email}, req.ClientID, req.LenderIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not update context")
		return
	}

	resp, err := s.labelSelection(r, owner.ID, sel.ClientID, sel.LenderIDs, sel.DocumentIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not resolve directory labels")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// labelSelection resolves directory display names for the selection echo.
// Unknown ids keep the id itself as the label.
func (s *Server) labelSelection(r *http.Request, ownerID, clientID string, lenderIDs, documentIDs []string) (*setContextResponse, error) {
	ctx := r.Context()

	resp := &setContextResponse{
		ClientID:  clientID,
		Lenders:   make([]labelJSON, 0, len(lenderIDs)),
		Documents: make([]labelJSON, 0, len(documentIDs)),
	}

	if clientID != "" {
		resp.ClientLabel = clientID
		clients, err := s.directory.ListClients(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		for _, c := range clients {
			if c.ID == clientID {
				resp.ClientLabel = c.Name
				break
			}
		}
	}

	lenders, err := s.directory.ListLenders(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	lenderNames := make(map[string]string, len(lenders))
	for _, l := range lenders {
		lenderNames[l.ID] = l.Name
	}
	for _, id := range lenderIDs {
		label := id
		if name, ok := lenderNames[id]; ok {
			label = name
		}
		resp.Lenders = append(resp.Lenders, labelJSON{ID: id, Label: label})
	}

	docs, err := s.directory.ListDocuments(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	docNames := make(map[string]string, len(docs))
	for _, d := range docs {
		docNames[d.ID] = d.Name
	}
	for _, id := range documentIDs {
		label := id
		if name, ok := docNames[id]; ok {
			label = name
		}
		resp.Documents = append(resp.Documents, labelJSON{ID: id, Label: label})
	}

	return resp, nil
}
