// ABOUTME: HTTP client for the external reasoning endpoint behind the AI Assistant
// ABOUTME: One POST per turn, no retries; failures are classified for the orchestrator

package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HistoryEntry is one prior message in the turn payload, sender and text only.
type HistoryEntry struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// ContextPayload is the broker's selection attached to every turn.
type ContextPayload struct {
	SelectedClientID    string   `json:"selectedClientId,omitempty"`
	SelectedLenderIDs   []string `json:"selectedLenderIds"`
	SelectedDocumentIDs []string `json:"selectedDocumentIds"`
}

// TurnRequest is the wire payload for one conversational turn.
type TurnRequest struct {
	OwnerID    string         `json:"ownerId"`
	OwnerEmail string         `json:"ownerEmail"`
	SessionID  string         `json:"sessionId"`
	Message    string         `json:"message"`
	History    []HistoryEntry `json:"history"`
	Context    ContextPayload `json:"context"`
}

// turnResponse is the expected success body. Reply must be non-empty.
type turnResponse struct {
	Reply string `json:"reply"`
}

// DispatchError means the endpoint could not be reached or refused the call.
// The user message is already persisted when this surfaces; the user may resend.
type DispatchError struct {
	StatusCode int // 0 when the request never completed
	Err        error
}

func (e *DispatchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("assistant dispatch failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("assistant dispatch failed: %v", e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// MalformedResponseError means the endpoint answered 2xx but the payload was
// unusable (undecodable JSON or an empty reply field). Treated like a
// dispatch failure by callers.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return "assistant returned malformed response: " + e.Reason
}

// Gateway sends turns to the external assistant endpoint.
type Gateway struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewGateway creates a gateway for the given endpoint URL. A zero timeout
// defaults to 60s; the assistant is the only unbounded-latency dependency.
func NewGateway(endpoint string, timeout time.Duration, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Gateway{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("component", "assistant"),
	}
}

// Send posts a single turn and returns the assistant's reply text.
// Exactly one attempt is made; retry policy, if any, belongs to the caller.
func (g *Gateway) Send(ctx context.Context, req *TurnRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding turn request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building turn request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		g.logger.Warn("assistant dispatch failed", "error", err, "session_id", req.SessionID)
		return "", &DispatchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		g.logger.Warn("assistant returned non-2xx",
			"status", resp.StatusCode,
			"session_id", req.SessionID)
		return "", &DispatchError{StatusCode: resp.StatusCode}
	}

	var tr turnResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", &MalformedResponseError{Reason: fmt.Sprintf("decoding body: %v", err)}
	}
	if tr.Reply == "" {
		return "", &MalformedResponseError{Reason: "missing reply field"}
	}

	g.logger.Debug("assistant replied",
		"session_id", req.SessionID,
		"history_len", len(req.History),
		"duration", time.Since(start))
	return tr.Reply, nil
}
