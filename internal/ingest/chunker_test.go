package ingest

import (
	"strings"
	"testing"
)

func TestChunkPlainTextWithOverlap(t *testing.T) {
	c := NewChunker(10, 4)
	chunks, err := c.ChunkFile("notes.txt", []byte("abcdefghijklmnopqrstuvwxyz"))
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("expected overlapping chunks, got %d", len(chunks))
	}
	if chunks[0].Content != "abcdefghij" {
		t.Fatalf("first chunk = %q", chunks[0].Content)
	}
	// Overlap means the second window starts before the first one ended.
	if !strings.HasPrefix(chunks[1].Content, "ghij") {
		t.Fatalf("second chunk = %q, want gh... overlap", chunks[1].Content)
	}
	if chunks[0].Metadata["source"] != "notes.txt" || chunks[0].Metadata["chunk"] != "0" {
		t.Fatalf("metadata = %v", chunks[0].Metadata)
	}
}

func TestChunkNormalizesWhitespace(t *testing.T) {
	c := NewChunker(100, 0)
	chunks, err := c.ChunkFile("a.md", []byte("hello\n\n\t world \x00 again"))
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Content != "hello world again" {
		t.Fatalf("chunks = %+v", chunks)
	}
}

func TestChunkHTMLStripsMarkupAndScripts(t *testing.T) {
	c := NewChunker(100, 0)
	page := `<html><head><script>evil()</script></head><body><p>visible</p><div>text</div></body></html>`
	chunks, err := c.ChunkFile("page.html", []byte(page))
	if err != nil {
		t.Fatalf("chunk html: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("chunks = %+v", chunks)
	}
	if strings.Contains(chunks[0].Content, "evil") || !strings.Contains(chunks[0].Content, "visible text") {
		t.Fatalf("html not stripped cleanly: %q", chunks[0].Content)
	}
}

func TestChunkEmptyFileYieldsNothing(t *testing.T) {
	c := NewChunker(100, 0)
	chunks, err := c.ChunkFile("empty.txt", nil)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %+v", chunks)
	}
}

func TestChunkBadPDFFails(t *testing.T) {
	c := NewChunker(100, 0)
	if _, err := c.ChunkFile("broken.pdf", []byte("not a pdf")); err == nil {
		t.Fatalf("expected error for invalid pdf")
	}
}
