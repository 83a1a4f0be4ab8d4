// Package ledger tracks, per user, which files have been uploaded, which of
// their chunks have been embedded, and which of both are old enough to be
// reclaimed. Logical deletion is a flag flip; rows are kept as tombstones.
package ledger

import (
	"time"

	"ragserve/pkg/domain"
)

// Store defines the persistence operations beneath the ledger. Each call is
// a short-lived, independently-committed unit of work; there is no
// multi-call transaction spanning uploads and embeddings.
type Store interface {
	// users
	CreateUser(u domain.User) error
	GetUser(userID string) (domain.User, bool, error)
	TouchUser(userID string, now time.Time) error

	// uploads
	CreateUpload(ownerID, filename string, now time.Time) (int64, error)
	ActiveUploads(ownerID string) ([]domain.Upload, error)
	ResolveFileID(ownerID, filename string) (int64, bool, error)
	MarkUploadRemoved(ownerID string, fileID int64) (int64, error)

	// embeddings
	CreateEmbedding(fileID int64, vectorID string) error
	ActiveVectorIDs(fileIDs []int64) ([]string, error)
	MarkVectorsRemoved(vectorIDs []string) (int64, error)

	// retention
	UploadsOlderThan(ownerID string, cutoff time.Time) ([]domain.Upload, error)
}
