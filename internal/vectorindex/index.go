// Package vectorindex is the boundary to the external vector store. The
// ledger only ever sees the opaque vector IDs handed out here.
package vectorindex

import (
	"context"

	"ragserve/pkg/domain"
)

// Entry is one indexed chunk.
type Entry struct {
	VectorID string
	FileID   int64
	Content  string
	Metadata map[string]any
}

// Index stores embeddings and answers similarity queries. Deletion by
// vector ID is what retention reclamation calls before the ledger marks the
// corresponding rows removed.
type Index interface {
	Upsert(ctx context.Context, entry Entry, vector []float32) error
	Delete(ctx context.Context, vectorIDs []string) error
	Search(ctx context.Context, vector []float32, fileIDs []int64, topK int) ([]domain.Document, error)
}
