// ABOUTME: Tracker owns the broker's current context selection
// ABOUTME: Document ids are always derived, never set directly

package docindex

import (
	"sync"

	"github.com/brokerdesk/assistant-gateway/internal/store"
)

// Selection is the broker's current client/lender pick plus the derived
// document ids. DocumentIDs is recomputed whenever the lender set or the
// underlying document list changes; it is never written directly.
type Selection struct {
	ClientID    string
	LenderIDs   []string
	DocumentIDs []string
}

// Tracker holds the live selection and the index it derives documents from.
type Tracker struct {
	mu        sync.Mutex
	index     *Index
	clientID  string
	lenderIDs []string
}

// NewTracker creates a tracker with an empty document list and no selection.
func NewTracker() *Tracker {
	return &Tracker{index: NewIndex(nil)}
}

// SetDocuments rebuilds the index from a fresh document list and keeps the
// current selection, so derived ids pick up directory changes.
func (t *Tracker) SetDocuments(docs []*store.Document) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.index = NewIndex(docs)
}

// SetSelection replaces the client and lender pick.
func (t *Tracker) SetSelection(clientID string, lenderIDs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clientID = clientID
	t.lenderIDs = append([]string(nil), lenderIDs...)
}

// Snapshot returns a copy of the current selection with document ids derived
// from the current index.
func (t *Tracker) Snapshot() Selection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Selection{
		ClientID:    t.clientID,
		LenderIDs:   append([]string(nil), t.lenderIDs...),
		DocumentIDs: t.index.DocumentIDsFor(t.lenderIDs),
	}
}
