package domain

import "time"

// User is an account in the identity store. Accounts are created on first
// registration and never physically deleted.
type User struct {
	ID                  string    `json:"id"`
	DisplayName         string    `json:"displayName"`
	CredentialHash      string    `json:"-"`
	LastAuthenticatedAt time.Time `json:"lastAuthenticatedAt"`
}

// Upload is one ledger entry per accepted file upload. The row becomes a
// tombstone once Available flips to false; it is never deleted.
type Upload struct {
	FileID    int64     `json:"fileId"`
	OwnerID   string    `json:"ownerId"`
	Filename  string    `json:"filename"`
	CreatedAt time.Time `json:"createdAt"`
	Available bool      `json:"available"`
}

// Embedding links one indexed chunk of an upload to the external vector
// store. VectorID is opaque here; generating unique IDs is the caller's job.
type Embedding struct {
	EntryID   int64  `json:"entryId"`
	FileID    int64  `json:"fileId"`
	VectorID  string `json:"vectorId"`
	Available bool   `json:"available"`
}

// ReclaimSet is what a retention scan hands back: filenames whose blobs can
// go and vector IDs whose index entries can go. The caller deletes both
// externally first, then closes the loop with the mark-removed mutators.
type ReclaimSet struct {
	Files      []string `json:"files"`
	Embeddings []string `json:"embeddings"`
}

// Document is one retrieved source returned to the client alongside a
// generated answer.
type Document struct {
	PageContent string         `json:"page_content"`
	Metadata    map[string]any `json:"metadata"`
}

// ChatMessage is one transcript entry of a chat session.
type ChatMessage struct {
	Type      string     `json:"type"` // MessageHuman or MessageAI
	Content   string     `json:"content"`
	Filenames []string   `json:"filenames,omitempty"`
	Documents []Document `json:"documents,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

const (
	MessageHuman = "human"
	MessageAI    = "ai"
)
