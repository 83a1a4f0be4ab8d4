package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ragserve/pkg/domain"
)

// State of the accumulation machine. The only transitions are
// awaiting -> accumulating (first frame), any -> failed (error frame) and
// any non-failed -> completed (end of stream).
type State int

const (
	StateAwaiting State = iota
	StateAccumulating
	StateFailed
	StateCompleted
)

var (
	// ErrTurnFailed reports an application error frame ended the turn.
	ErrTurnFailed = errors.New("turn failed")
	// ErrTurnFinished reports a frame arrived after the turn reached a
	// terminal state.
	ErrTurnFinished = errors.New("turn already finished")
)

// Accumulator reconstructs a chat turn from its frames: content deltas are
// concatenated in arrival order, context documents are appended in arrival
// order without reordering or deduplication, metadata payloads are retained
// untouched. An unknown frame type fails the turn but keeps everything
// accumulated so far.
type Accumulator struct {
	state    State
	content  strings.Builder
	docs     []domain.Document
	metadata []json.RawMessage
	errMsg   string
}

// NewAccumulator starts a fresh turn in the awaiting state.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Feed applies one frame. It returns ErrTurnFailed (wrapped with the
// message) on an error frame, ErrTurnFinished when the turn is already
// terminal, and nil otherwise. Feed never panics on malformed payloads; an
// undecodable payload fails the turn the same way an error frame does.
func (a *Accumulator) Feed(f Frame) error {
	switch a.state {
	case StateFailed, StateCompleted:
		return ErrTurnFinished
	}

	switch f.Type {
	case TypeContent:
		var delta string
		if err := json.Unmarshal(f.Data, &delta); err != nil {
			return a.fail(fmt.Sprintf("malformed content frame: %v", err))
		}
		a.content.WriteString(delta)
	case TypeContext:
		var doc domain.Document
		if err := json.Unmarshal(f.Data, &doc); err != nil {
			return a.fail(fmt.Sprintf("malformed context frame: %v", err))
		}
		a.docs = append(a.docs, doc)
	case TypeMetadata:
		// Reserved. Retained so the payload round-trips unharmed.
		a.metadata = append(a.metadata, append(json.RawMessage(nil), f.Data...))
	default:
		var msg string
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			msg = string(f.Data)
		}
		return a.fail(msg)
	}
	a.state = StateAccumulating
	return nil
}

func (a *Accumulator) fail(msg string) error {
	a.state = StateFailed
	a.errMsg = msg
	return fmt.Errorf("%w: %s", ErrTurnFailed, msg)
}

// Finish marks end-of-stream. A failed turn stays failed; anything else
// completes, even an empty stream.
func (a *Accumulator) Finish() {
	if a.state != StateFailed {
		a.state = StateCompleted
	}
}

// State returns the machine's current state.
func (a *Accumulator) State() State { return a.state }

// Content returns the answer accumulated so far. It stays valid after a
// failure: frames before the error are never discarded.
func (a *Accumulator) Content() string { return a.content.String() }

// Documents returns the retrieved sources in arrival order.
func (a *Accumulator) Documents() []domain.Document { return a.docs }

// Metadata returns the raw metadata payloads in arrival order.
func (a *Accumulator) Metadata() []json.RawMessage { return a.metadata }

// ErrMessage returns the failure message and whether the turn failed.
func (a *Accumulator) ErrMessage() (string, bool) {
	return a.errMsg, a.state == StateFailed
}
