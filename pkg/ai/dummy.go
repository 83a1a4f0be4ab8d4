package ai

import (
	"context"
	"hash/fnv"
	"strings"
)

// DummyEmbedder produces deterministic vectors without a model backend.
// Useful for local development and tests.
type DummyEmbedder struct {
	Dim int
}

func (d *DummyEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	dim := d.Dim
	if dim <= 0 {
		dim = 32
	}
	vec := make([]float32, dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[int(h.Sum32())%dim]++
	}
	return vec, nil
}

// DummyGenerator streams a canned reply word by word.
type DummyGenerator struct {
	Reply string
}

func (d *DummyGenerator) StreamChat(ctx context.Context, _, userPrompt string, onDelta func(string) error) error {
	reply := d.Reply
	if reply == "" {
		reply = "This is a canned reply to: " + userPrompt
	}
	for i, word := range strings.Fields(reply) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			word = " " + word
		}
		if err := onDelta(word); err != nil {
			return err
		}
	}
	return nil
}
