package document

import (
	"context"
	"errors"
	"time"
)

// ErrDocumentNotFound signals that the document or its owner is unknown to the store.
var ErrDocumentNotFound = errors.New("document not found")

// Meta carries store-level metadata returned alongside a document.
type Meta struct {
	OwnerID   string
	UpdatedAt time.Time
}

// Store is the persistence boundary for outline documents. The pipeline always
// re-fetches through Get immediately before patching so a save applies to the
// latest known state.
type Store interface {
	Get(ctx context.Context, documentID, userID string) (*Article, *Meta, error)
	Save(ctx context.Context, documentID, userID string, art *Article) error
}
