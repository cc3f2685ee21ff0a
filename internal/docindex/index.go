// ABOUTME: Lender-to-document index used to derive assistant request context
// ABOUTME: Deterministic grouping so payloads are reproducible across calls

package docindex

import (
	"github.com/brokerdesk/assistant-gateway/internal/store"
)

// Index maps lender ids to the document ids those lenders own. It is built
// once per document-list change; lookups never mutate it.
type Index struct {
	byLender map[string][]string
}

// NewIndex groups the given documents by lender. Document order within each
// lender follows the order of the input list.
func NewIndex(docs []*store.Document) *Index {
	byLender := make(map[string][]string)
	for _, doc := range docs {
		byLender[doc.LenderID] = append(byLender[doc.LenderID], doc.ID)
	}
	return &Index{byLender: byLender}
}

// DocumentIDsFor returns the union of document ids owned by the requested
// lenders. Duplicate lender ids collapse (first occurrence wins), unknown
// lender ids contribute nothing, and the result order is the lender argument
// order followed by per-lender document order.
func (ix *Index) DocumentIDsFor(lenderIDs []string) []string {
	seen := make(map[string]bool, len(lenderIDs))
	var out []string
	for _, lenderID := range lenderIDs {
		if seen[lenderID] {
			continue
		}
		seen[lenderID] = true
		out = append(out, ix.byLender[lenderID]...)
	}
	return out
}
