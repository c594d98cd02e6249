// Package attach resolves stored attachment references to raw bytes,
// regardless of whether the attachment lives on local disk or behind the
// cloud-disk proxy.
package attach

import (
	"context"
	"errors"
)

// ErrNotFound signals that the stored reference resolves to nothing.
var ErrNotFound = errors.New("attachment not found")

// ErrAuthRequired signals that the backend rejected the fetch for lack of credentials.
var ErrAuthRequired = errors.New("attachment backend requires authentication")

// Source fetches the raw bytes of one stored attachment.
type Source interface {
	FetchBytes(ctx context.Context, userID, documentID, storedRef string) ([]byte, error)
}
