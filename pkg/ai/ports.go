package ai

import "context"

// Embedder provides embeddings for text.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// StreamGenerator produces an answer as ordered deltas.
type StreamGenerator interface {
	StreamChat(ctx context.Context, systemPrompt, userPrompt string, onDelta func(string) error) error
}

// OllamaEmbedder wraps Ollama embedding calls with a fixed model.
type OllamaEmbedder struct {
	client *OllamaClient
	model  string
}

// NewOllamaEmbedder builds an Ollama-based embedder.
func NewOllamaEmbedder(client *OllamaClient, model string) *OllamaEmbedder {
	return &OllamaEmbedder{client: client, model: model}
}

// EmbedText returns an embedding for text using Ollama.
func (e *OllamaEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return e.client.EmbedText(ctx, e.model, text)
}

// OllamaGenerator wraps Ollama streaming chat with a fixed model.
type OllamaGenerator struct {
	client *OllamaClient
	model  string
}

// NewOllamaGenerator builds an Ollama-based streaming generator.
func NewOllamaGenerator(client *OllamaClient, model string) *OllamaGenerator {
	return &OllamaGenerator{client: client, model: model}
}

// StreamChat streams an answer for the prompts using Ollama.
func (g *OllamaGenerator) StreamChat(ctx context.Context, systemPrompt, userPrompt string, onDelta func(string) error) error {
	return g.client.StreamChat(ctx, g.model, systemPrompt, userPrompt, onDelta)
}
