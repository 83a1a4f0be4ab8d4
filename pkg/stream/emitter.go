package stream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"ragserve/pkg/domain"
)

// Emitter serializes frame emission onto one output stream. Producers may
// run retrieval and generation concurrently; every frame still goes out
// whole, in the order Emit was entered.
type Emitter struct {
	mu    sync.Mutex
	enc   *json.Encoder
	flush http.Flusher
}

// NewEmitter wraps a writer. When the writer is an http.Flusher each frame
// is flushed immediately so clients see deltas as they are produced.
func NewEmitter(w io.Writer) *Emitter {
	e := &Emitter{enc: json.NewEncoder(w)}
	if f, ok := w.(http.Flusher); ok {
		e.flush = f
	}
	return e
}

// Emit writes one frame. It returns the context's error when the turn was
// cancelled, so producers stop promptly after a client disconnect.
func (e *Emitter) Emit(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(f); err != nil {
		return err
	}
	if e.flush != nil {
		e.flush.Flush()
	}
	return nil
}

// Content emits an answer delta.
func (e *Emitter) Content(ctx context.Context, delta string) error {
	return e.Emit(ctx, ContentFrame(delta))
}

// Context emits one retrieved document.
func (e *Emitter) Context(ctx context.Context, doc domain.Document) error {
	f, err := ContextFrame(doc)
	if err != nil {
		return err
	}
	return e.Emit(ctx, f)
}

// Metadata emits a reserved metadata payload.
func (e *Emitter) Metadata(ctx context.Context, payload any) error {
	f, err := MetadataFrame(payload)
	if err != nil {
		return err
	}
	return e.Emit(ctx, f)
}

// Error emits a terminal application error for this turn.
func (e *Emitter) Error(ctx context.Context, msg string) error {
	return e.Emit(ctx, ErrorFrame(msg))
}
