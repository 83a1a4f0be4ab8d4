package util

import (
	"crypto/rand"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// NewID returns a URL-safe hex string ID.
func NewID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ServerFilename derives the name a file is stored under on the server:
// the sanitized base name with a short random prefix, so repeated uploads
// of the same client-side name never collide in blob storage.
func ServerFilename(original string) string {
	name := filepath.Base(strings.TrimSpace(original))
	name = strings.ReplaceAll(name, "/", "_")
	if name == "" || name == "." {
		name = "upload"
	}
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b) + "_" + name
}
