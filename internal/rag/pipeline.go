// Package rag runs the retrieve-then-generate loop behind a chat turn and
// streams both halves through a shared frame emitter.
package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"ragserve/internal/vectorindex"
	"ragserve/pkg/ai"
	"ragserve/pkg/domain"
	"ragserve/pkg/stream"
)

const systemPrompt = "You are a helpful assistant. Answer using the provided context when it is relevant; say so when it is not."

// Pipeline answers questions against a caller-scoped slice of the vector
// index.
type Pipeline struct {
	embedder  ai.Embedder
	generator ai.StreamGenerator
	index     vectorindex.Index
	topK      int
}

func New(embedder ai.Embedder, generator ai.StreamGenerator, index vectorindex.Index, topK int) *Pipeline {
	if topK <= 0 {
		topK = 4
	}
	return &Pipeline{embedder: embedder, generator: generator, index: index, topK: topK}
}

// Retrieve embeds the question and searches the index restricted to the
// given file IDs. An empty fileIDs slice skips retrieval entirely rather
// than searching other owners' chunks.
func (p *Pipeline) Retrieve(ctx context.Context, question string, fileIDs []int64) ([]domain.Document, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	vec, err := p.embedder.EmbedText(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	docs, err := p.index.Search(ctx, vec, fileIDs, p.topK)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	return docs, nil
}

// Answer retrieves context, then streams context frames and generated
// content deltas through em concurrently. It returns the assembled reply
// and the documents it was grounded on. On error the caller decides what
// frame, if any, closes the turn.
func (p *Pipeline) Answer(ctx context.Context, em *stream.Emitter, question string, fileIDs []int64) (string, []domain.Document, error) {
	docs, err := p.Retrieve(ctx, question, fileIDs)
	if err != nil {
		return "", nil, err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for _, doc := range docs {
			if err := em.Context(gctx, doc); err != nil {
				return err
			}
		}
		return nil
	})

	var mu sync.Mutex
	var reply strings.Builder
	g.Go(func() error {
		prompt := buildPrompt(question, docs)
		return p.generator.StreamChat(gctx, systemPrompt, prompt, func(delta string) error {
			mu.Lock()
			reply.WriteString(delta)
			mu.Unlock()
			return em.Content(gctx, delta)
		})
	})

	if err := g.Wait(); err != nil {
		return "", docs, err
	}
	return reply.String(), docs, nil
}

func buildPrompt(question string, docs []domain.Document) string {
	if len(docs) == 0 {
		return question
	}
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, doc := range docs {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, doc.PageContent)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	return b.String()
}
