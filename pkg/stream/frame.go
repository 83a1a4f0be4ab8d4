// Package stream defines the wire protocol of a chat turn: a sequence of
// independently-decodable JSON frames multiplexing generated answer deltas,
// retrieved source documents, and reserved metadata onto one connection.
package stream

import (
	"encoding/json"
	"fmt"

	"ragserve/pkg/domain"
)

// Known frame types. Anything else is an application-level error frame whose
// data is a human-readable message.
const (
	TypeContent  = "content"
	TypeContext  = "context"
	TypeMetadata = "metadata"
	TypeError    = "error"
)

// Frame is one self-contained unit of the response stream.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ContentFrame wraps a UTF-8 answer delta.
func ContentFrame(delta string) Frame {
	data, _ := json.Marshal(delta)
	return Frame{Type: TypeContent, Data: data}
}

// ContextFrame wraps one retrieved source document.
func ContextFrame(doc domain.Document) (Frame, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal context frame: %w", err)
	}
	return Frame{Type: TypeContext, Data: data}, nil
}

// MetadataFrame wraps an implementation-defined payload. Clients must let it
// round-trip unharmed even though they currently ignore it.
func MetadataFrame(payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal metadata frame: %w", err)
	}
	return Frame{Type: TypeMetadata, Data: data}, nil
}

// ErrorFrame wraps a failure message that terminates accumulation for the
// turn.
func ErrorFrame(msg string) Frame {
	data, _ := json.Marshal(msg)
	return Frame{Type: TypeError, Data: data}
}
