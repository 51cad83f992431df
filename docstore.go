package bundling

import (
	"context"
	"io"
)

// DocumentStore holds rendered bundle documents addressed by bundle id.
// Put must be an atomic overwrite: a reader never observes a partial write.
// Delete of a missing document is a no-op.
type DocumentStore interface {
	// Put stores the document for the bundle id, replacing any previous
	// content.
	Put(ctx context.Context, id ID, content io.Reader) error
	// Get returns the document stream, or ErrDocumentNotFound.
	Get(ctx context.Context, id ID) (io.ReadCloser, error)
	// Delete removes the document if present.
	Delete(ctx context.Context, id ID) error
}
