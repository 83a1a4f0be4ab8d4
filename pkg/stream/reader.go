package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"ragserve/pkg/domain"
)

// TransportError distinguishes a broken connection from an application-level
// error frame, so callers can offer a retry instead of reporting a model
// failure.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Result is the finalized outcome of one consumed turn.
type Result struct {
	Content    string
	Documents  []domain.Document
	Metadata   []json.RawMessage
	ErrMessage string
	Failed     bool
}

// Consume drives an Accumulator from a reader of concatenated JSON frames on
// a single logical thread, in arrival order, until end-of-stream. onFrame,
// when non-nil, observes each accepted frame (for progressive rendering).
//
// Returns:
//   - (result, nil) on a clean end-of-stream, or when an error frame ended
//     the turn; result.Failed is set and content accumulated before the
//     error remains valid;
//   - (result, *TransportError) when the connection broke or a frame could
//     not be decoded at the framing layer; partial accumulation is returned;
//   - (result, ctx.Err()) when the context was cancelled mid-stream.
func Consume(ctx context.Context, r io.Reader, onFrame func(Frame)) (Result, error) {
	acc := NewAccumulator()
	dec := json.NewDecoder(r)

	for {
		if err := ctx.Err(); err != nil {
			return resultOf(acc), err
		}

		var f Frame
		if err := dec.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				acc.Finish()
				return resultOf(acc), nil
			}
			// A cancelled request surfaces as a read error on the body.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return resultOf(acc), ctxErr
			}
			return resultOf(acc), &TransportError{Err: err}
		}

		if err := acc.Feed(f); err != nil {
			if errors.Is(err, ErrTurnFailed) {
				// Terminal for this turn only; the session lives on.
				return resultOf(acc), nil
			}
			return resultOf(acc), err
		}
		if onFrame != nil {
			onFrame(f)
		}
	}
}

func resultOf(acc *Accumulator) Result {
	msg, failed := acc.ErrMessage()
	return Result{
		Content:    acc.Content(),
		Documents:  acc.Documents(),
		Metadata:   acc.Metadata(),
		ErrMessage: msg,
		Failed:     failed,
	}
}
