// Package ingest turns uploaded blobs into embedding-sized chunks.
package ingest

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Chunk is one embeddable piece of a file with its source coordinates.
type Chunk struct {
	Content  string
	Metadata map[string]any
}

// Chunker splits file content into overlapping windows.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker builds a chunker; non-positive size falls back to 800 runes.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 800
	}
	if overlap < 0 {
		overlap = 0
	}
	return &Chunker{size: size, overlap: overlap}
}

// ChunkFile parses by extension and chunks the text. PDF pages chunk
// per-page; HTML is stripped to text; everything else is treated as UTF-8
// text.
func (c *Chunker) ChunkFile(filename string, data []byte) ([]Chunk, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return c.chunkPDF(filename, data)
	case ".html", ".htm":
		return c.chunkHTML(filename, data)
	default:
		return c.chunkPlain(filename, data), nil
	}
}

func (c *Chunker) chunkPDF(filename string, data []byte) ([]Chunk, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	var chunks []Chunk
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing the whole file.
			continue
		}
		text = normalizeText(text)
		for idx, part := range c.split(text) {
			chunks = append(chunks, Chunk{
				Content: part,
				Metadata: map[string]any{
					"source": filename,
					"page":   strconv.Itoa(i),
					"chunk":  strconv.Itoa(idx),
				},
			})
		}
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no text extracted from pdf")
	}
	return chunks, nil
}

func (c *Chunker) chunkHTML(filename string, data []byte) ([]Chunk, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	text := normalizeText(extractText(doc))
	return c.chunkText(filename, text), nil
}

func (c *Chunker) chunkPlain(filename string, data []byte) []Chunk {
	return c.chunkText(filename, normalizeText(string(data)))
}

func (c *Chunker) chunkText(filename, text string) []Chunk {
	parts := c.split(text)
	chunks := make([]Chunk, 0, len(parts))
	for idx, part := range parts {
		chunks = append(chunks, Chunk{
			Content: part,
			Metadata: map[string]any{
				"source": filename,
				"chunk":  strconv.Itoa(idx),
			},
		})
	}
	return chunks
}

func (c *Chunker) split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	step := c.size - c.overlap
	if step <= 0 {
		step = c.size
	}
	var parts []string
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		part := strings.TrimSpace(string(runes[start:end]))
		if part != "" {
			parts = append(parts, part)
		}
		if end == len(runes) {
			break
		}
	}
	return parts
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	return strings.Join(strings.Fields(text), " ")
}

func extractText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && (node.Data == "p" || node.Data == "br" || node.Data == "div" || node.Data == "li") {
			buf.WriteString(" ")
		}
	}
	walk(n)
	return buf.String()
}
