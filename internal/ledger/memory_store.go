package ledger

import (
	"fmt"
	"sync"
	"time"

	"ragserve/pkg/domain"
)

// MemoryStore keeps ledger rows in-process. Used by unit tests and as a
// reference implementation of the Store contract.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]domain.User
	uploads    []domain.Upload    // ordered by FileID
	embeddings []domain.Embedding // ordered by EntryID
	nextFile   int64
	nextEntry  int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]domain.User),
		nextFile:  1,
		nextEntry: 1,
	}
}

// CreateUser inserts a user, rejecting duplicate IDs.
func (m *MemoryStore) CreateUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[u.ID]; exists {
		return fmt.Errorf("user %q already exists", u.ID)
	}
	m.users[u.ID] = u
	return nil
}

// GetUser looks up a user by ID.
func (m *MemoryStore) GetUser(userID string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	return u, ok, nil
}

// TouchUser refreshes the last-authenticated timestamp.
func (m *MemoryStore) TouchUser(userID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %q not found", userID)
	}
	u.LastAuthenticatedAt = now
	m.users[userID] = u
	return nil
}

// CreateUpload appends a new upload row.
func (m *MemoryStore) CreateUpload(ownerID, filename string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextFile
	m.nextFile++
	m.uploads = append(m.uploads, domain.Upload{
		FileID:    id,
		OwnerID:   ownerID,
		Filename:  filename,
		CreatedAt: now,
		Available: true,
	})
	return id, nil
}

// ActiveUploads returns available uploads for an owner in insertion order.
func (m *MemoryStore) ActiveUploads(ownerID string) ([]domain.Upload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Upload
	for _, up := range m.uploads {
		if up.OwnerID == ownerID && up.Available {
			res = append(res, up)
		}
	}
	return res, nil
}

// ResolveFileID returns the lowest active file ID carrying the name.
func (m *MemoryStore) ResolveFileID(ownerID, filename string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, up := range m.uploads {
		if up.OwnerID == ownerID && up.Available && up.Filename == filename {
			return up.FileID, true, nil
		}
	}
	return 0, false, nil
}

// MarkUploadRemoved flips one owned active row to unavailable.
func (m *MemoryStore) MarkUploadRemoved(ownerID string, fileID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, up := range m.uploads {
		if up.OwnerID == ownerID && up.FileID == fileID && up.Available {
			m.uploads[i].Available = false
			return 1, nil
		}
	}
	return 0, nil
}

// CreateEmbedding appends one chunk link.
func (m *MemoryStore) CreateEmbedding(fileID int64, vectorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextEntry
	m.nextEntry++
	m.embeddings = append(m.embeddings, domain.Embedding{
		EntryID:   id,
		FileID:    fileID,
		VectorID:  vectorID,
		Available: true,
	})
	return nil
}

// ActiveVectorIDs returns active vector IDs for the files, insertion order.
func (m *MemoryStore) ActiveVectorIDs(fileIDs []int64) ([]string, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	wanted := make(map[int64]struct{}, len(fileIDs))
	for _, id := range fileIDs {
		wanted[id] = struct{}{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []string
	for _, e := range m.embeddings {
		if _, ok := wanted[e.FileID]; ok && e.Available {
			res = append(res, e.VectorID)
		}
	}
	return res, nil
}

// MarkVectorsRemoved flips matching active embeddings and reports how many
// actually changed. Already-removed rows do not count.
func (m *MemoryStore) MarkVectorsRemoved(vectorIDs []string) (int64, error) {
	wanted := make(map[string]struct{}, len(vectorIDs))
	for _, id := range vectorIDs {
		wanted[id] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var affected int64
	for i, e := range m.embeddings {
		if _, ok := wanted[e.VectorID]; ok && e.Available {
			m.embeddings[i].Available = false
			affected++
		}
	}
	return affected, nil
}

// UploadsOlderThan returns available uploads created before cutoff.
func (m *MemoryStore) UploadsOlderThan(ownerID string, cutoff time.Time) ([]domain.Upload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Upload
	for _, up := range m.uploads {
		if up.OwnerID == ownerID && up.Available && up.CreatedAt.Before(cutoff) {
			res = append(res, up)
		}
	}
	return res, nil
}
