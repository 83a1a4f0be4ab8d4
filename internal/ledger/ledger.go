package ledger

import (
	"log/slog"
	"time"

	"ragserve/pkg/auth"
	"ragserve/pkg/domain"
)

// NoFile is the sentinel returned when an upload could not be recorded.
const NoFile int64 = -1

// Messages returned by Authenticate. The hash check itself is constant-time;
// distinguishing "who" from "why" here is deliberate and does not leak via
// the comparison step.
const (
	MsgUserNotFound      = "user does not exist"
	MsgIncorrectPassword = "incorrect password"
	MsgStorageError      = "storage error during authentication"
)

// Ledger is the bookkeeping core: identity, upload and embedding records,
// and the retention scan. Failures are values, not panics; callers branch on
// booleans and sentinels.
type Ledger struct {
	store Store
}

// New wraps a Store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Register creates a user. Returns false on a duplicate ID or any storage
// error.
func (l *Ledger) Register(userID, displayName, password string) bool {
	hash, err := auth.HashPassword(password)
	if err != nil {
		slog.Error("hash password", "user", userID, "err", err)
		return false
	}
	u := domain.User{
		ID:                  userID,
		DisplayName:         displayName,
		CredentialHash:      hash,
		LastAuthenticatedAt: time.Now().UTC(),
	}
	if err := l.store.CreateUser(u); err != nil {
		slog.Warn("register user", "user", userID, "err", err)
		return false
	}
	return true
}

// Exists reports whether a user ID is registered.
func (l *Ledger) Exists(userID string) bool {
	_, ok, err := l.store.GetUser(userID)
	if err != nil {
		slog.Error("check user", "user", userID, "err", err)
		return false
	}
	return ok
}

// Authenticate verifies credentials. On success it refreshes the
// last-authenticated timestamp and returns the display name; on failure the
// message says whether the user or the password was wrong.
func (l *Ledger) Authenticate(userID, password string) (bool, string) {
	u, ok, err := l.store.GetUser(userID)
	if err != nil {
		slog.Error("authenticate lookup", "user", userID, "err", err)
		return false, MsgStorageError
	}
	if !ok {
		return false, MsgUserNotFound
	}
	if !auth.CheckPassword(password, u.CredentialHash) {
		return false, MsgIncorrectPassword
	}
	if err := l.store.TouchUser(userID, time.Now().UTC()); err != nil {
		slog.Warn("touch last_authenticated_at", "user", userID, "err", err)
	}
	return true, u.DisplayName
}

// RecordUpload creates a new upload row, duplicates and all, and returns its
// file ID. NoFile signals the insert could not be performed.
func (l *Ledger) RecordUpload(ownerID, filename string) int64 {
	id, err := l.store.CreateUpload(ownerID, filename, time.Now().UTC())
	if err != nil {
		slog.Error("record upload", "owner", ownerID, "filename", filename, "err", err)
		return NoFile
	}
	return id
}

// ListActiveFiles returns the owner's available filenames, oldest first.
// A user with no files gets an empty slice, not an error.
func (l *Ledger) ListActiveFiles(ownerID string) []string {
	uploads, err := l.store.ActiveUploads(ownerID)
	if err != nil {
		slog.Error("list active files", "owner", ownerID, "err", err)
		return []string{}
	}
	files := make([]string, 0, len(uploads))
	for _, up := range uploads {
		files = append(files, up.Filename)
	}
	return files
}

// ActiveUploads returns the owner's available upload rows, oldest first.
func (l *Ledger) ActiveUploads(ownerID string) []domain.Upload {
	uploads, err := l.store.ActiveUploads(ownerID)
	if err != nil {
		slog.Error("active uploads", "owner", ownerID, "err", err)
		return nil
	}
	return uploads
}

// ResolveFileID maps an active (owner, filename) pair to a file ID. When
// duplicate active rows share the name the lowest file ID wins; callers
// holding a file ID should prefer it over name lookups.
func (l *Ledger) ResolveFileID(ownerID, filename string) (int64, bool) {
	id, ok, err := l.store.ResolveFileID(ownerID, filename)
	if err != nil {
		slog.Error("resolve file id", "owner", ownerID, "filename", filename, "err", err)
		return 0, false
	}
	return id, ok
}

// MarkRemoved tombstones one owned upload. False means zero rows matched:
// the row is already removed, missing, or owned by someone else. The three
// cases are deliberately indistinguishable.
func (l *Ledger) MarkRemoved(ownerID string, fileID int64) bool {
	affected, err := l.store.MarkUploadRemoved(ownerID, fileID)
	if err != nil {
		slog.Error("mark upload removed", "owner", ownerID, "fileId", fileID, "err", err)
		return false
	}
	if affected == 0 {
		slog.Warn("no upload matched for removal", "owner", ownerID, "fileId", fileID)
		return false
	}
	return true
}

// RecordEmbedding persists one chunk-to-vector link. The store does not
// enforce vector ID uniqueness; callers generate externally-unique IDs.
func (l *Ledger) RecordEmbedding(fileID int64, vectorID string) bool {
	if err := l.store.CreateEmbedding(fileID, vectorID); err != nil {
		slog.Error("record embedding", "fileId", fileID, "vectorId", vectorID, "err", err)
		return false
	}
	return true
}

// ActiveVectorIDs returns active vector IDs for the files, insertion order.
func (l *Ledger) ActiveVectorIDs(fileIDs []int64) []string {
	ids, err := l.store.ActiveVectorIDs(fileIDs)
	if err != nil {
		slog.Error("active vector ids", "err", err)
		return nil
	}
	return ids
}

// MarkVectorsRemoved bulk-tombstones embeddings by vector ID. An empty input
// is a caller bug and is rejected rather than treated as trivially done.
// Partial matches report false, without rolling back the rows that did flip,
// so the caller is forced to reconcile.
func (l *Ledger) MarkVectorsRemoved(vectorIDs []string) bool {
	if len(vectorIDs) == 0 {
		slog.Warn("no vector ids provided to mark removed")
		return false
	}
	affected, err := l.store.MarkVectorsRemoved(vectorIDs)
	if err != nil {
		slog.Error("mark vectors removed", "err", err)
		return false
	}
	if affected != int64(len(vectorIDs)) {
		slog.Warn("partial vector removal", "requested", len(vectorIDs), "affected", affected)
		return false
	}
	return true
}

// FindReclaimable returns the owner's active files older than maxAge and the
// active vector IDs hanging off them. Marking anything removed is the
// caller's explicit second step: delete the vectors and blobs externally,
// then call MarkVectorsRemoved and MarkRemoved. When no files qualify the
// embeddings query is never issued.
func (l *Ledger) FindReclaimable(ownerID string, maxAge time.Duration) domain.ReclaimSet {
	empty := domain.ReclaimSet{Files: []string{}, Embeddings: []string{}}
	cutoff := time.Now().UTC().Add(-maxAge)
	uploads, err := l.store.UploadsOlderThan(ownerID, cutoff)
	if err != nil {
		slog.Error("find reclaimable uploads", "owner", ownerID, "err", err)
		return empty
	}
	if len(uploads) == 0 {
		return empty
	}
	files := make([]string, 0, len(uploads))
	fileIDs := make([]int64, 0, len(uploads))
	for _, up := range uploads {
		files = append(files, up.Filename)
		fileIDs = append(fileIDs, up.FileID)
	}
	vectors, err := l.store.ActiveVectorIDs(fileIDs)
	if err != nil {
		slog.Error("find reclaimable embeddings", "owner", ownerID, "err", err)
		return empty
	}
	if vectors == nil {
		vectors = []string{}
	}
	return domain.ReclaimSet{Files: files, Embeddings: vectors}
}
