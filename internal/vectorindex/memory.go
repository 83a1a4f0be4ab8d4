package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"

	"ragserve/pkg/domain"
)

// MemoryIndex is an in-process cosine-similarity index. It fills the Index
// port for single-node deployments and tests; a remote vector database can
// be swapped in without touching callers.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]indexed // vectorID -> entry+vector
	order   []string           // insertion order for deterministic ties
}

type indexed struct {
	entry  Entry
	vector []float32
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]indexed)}
}

// Upsert stores one chunk with its embedding.
func (m *MemoryIndex) Upsert(_ context.Context, entry Entry, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[entry.VectorID]; !exists {
		m.order = append(m.order, entry.VectorID)
	}
	m.entries[entry.VectorID] = indexed{entry: entry, vector: vector}
	return nil
}

// Delete removes entries by vector ID. Unknown IDs are ignored; the ledger
// is the system of record for what should have existed.
func (m *MemoryIndex) Delete(_ context.Context, vectorIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range vectorIDs {
		delete(m.entries, id)
	}
	return nil
}

// Search returns the topK most similar chunks restricted to the caller's
// file IDs, as documents ready for context frames.
func (m *MemoryIndex) Search(_ context.Context, vector []float32, fileIDs []int64, topK int) ([]domain.Document, error) {
	if topK <= 0 {
		return nil, nil
	}
	allowed := make(map[int64]struct{}, len(fileIDs))
	for _, id := range fileIDs {
		allowed[id] = struct{}{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		entry Entry
		score float64
	}
	var results []scored
	for _, id := range m.order {
		ix, ok := m.entries[id]
		if !ok {
			continue
		}
		if _, ok := allowed[ix.entry.FileID]; !ok {
			continue
		}
		results = append(results, scored{entry: ix.entry, score: cosineSimilarity(vector, ix.vector)})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if len(results) > topK {
		results = results[:topK]
	}

	docs := make([]domain.Document, 0, len(results))
	for _, r := range results {
		meta := make(map[string]any, len(r.entry.Metadata)+2)
		for k, v := range r.entry.Metadata {
			meta[k] = v
		}
		meta["vector_id"] = r.entry.VectorID
		meta["score"] = r.score
		docs = append(docs, domain.Document{PageContent: r.entry.Content, Metadata: meta})
	}
	return docs, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
