package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"ragserve/pkg/domain"
)

func TestInterleavedContentAndContextAccumulateInArrivalOrder(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)
	ctx := context.Background()

	if err := e.Context(ctx, domain.Document{PageContent: "X"}); err != nil {
		t.Fatalf("emit context: %v", err)
	}
	if err := e.Content(ctx, "Hel"); err != nil {
		t.Fatalf("emit content: %v", err)
	}
	if err := e.Context(ctx, domain.Document{PageContent: "Y"}); err != nil {
		t.Fatalf("emit context: %v", err)
	}
	if err := e.Content(ctx, "lo"); err != nil {
		t.Fatalf("emit content: %v", err)
	}

	res, err := Consume(ctx, &buf, nil)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if res.Failed {
		t.Fatalf("turn unexpectedly failed: %q", res.ErrMessage)
	}
	if res.Content != "Hello" {
		t.Fatalf("content = %q, want Hello", res.Content)
	}
	if len(res.Documents) != 2 || res.Documents[0].PageContent != "X" || res.Documents[1].PageContent != "Y" {
		t.Fatalf("documents out of order: %+v", res.Documents)
	}
}

func TestErrorFrameEndsTurnButKeepsAccumulatedContent(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)
	ctx := context.Background()

	_ = e.Content(ctx, "par")
	_ = e.Content(ctx, "tial")
	_ = e.Error(ctx, "boom")
	// Anything after the error frame must never be processed.
	_ = e.Content(ctx, " IGNORED")

	res, err := Consume(ctx, &buf, nil)
	if err != nil {
		t.Fatalf("an error frame is app-level, not a transport error: %v", err)
	}
	if !res.Failed || res.ErrMessage != "boom" {
		t.Fatalf("expected failed turn with message boom, got %+v", res)
	}
	if res.Content != "partial" {
		t.Fatalf("pre-error content must be retained, got %q", res.Content)
	}
}

func TestMetadataFramesRoundTripUnharmed(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)
	ctx := context.Background()

	payload := map[string]any{"model": "gemma3", "tokens": float64(42)}
	if err := e.Metadata(ctx, payload); err != nil {
		t.Fatalf("emit metadata: %v", err)
	}
	_ = e.Content(ctx, "ok")

	acc := NewAccumulator()
	dec := json.NewDecoder(&buf)
	for {
		var f Frame
		if err := dec.Decode(&f); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if err := acc.Feed(f); err != nil {
			t.Fatalf("feed: %v", err)
		}
	}
	acc.Finish()

	if acc.State() != StateCompleted {
		t.Fatalf("state = %v, want completed", acc.State())
	}
	raws := acc.Metadata()
	if len(raws) != 1 {
		t.Fatalf("metadata count = %d", len(raws))
	}
	var got map[string]any
	if err := json.Unmarshal(raws[0], &got); err != nil {
		t.Fatalf("unmarshal retained metadata: %v", err)
	}
	if got["model"] != "gemma3" || got["tokens"] != float64(42) {
		t.Fatalf("metadata payload mangled: %v", got)
	}
}

func TestFeedAfterTerminalStateIsRejected(t *testing.T) {
	acc := NewAccumulator()
	if err := acc.Feed(ErrorFrame("dead")); !errors.Is(err, ErrTurnFailed) {
		t.Fatalf("expected ErrTurnFailed, got %v", err)
	}
	if err := acc.Feed(ContentFrame("late")); !errors.Is(err, ErrTurnFinished) {
		t.Fatalf("expected ErrTurnFinished, got %v", err)
	}
	if acc.Content() != "" {
		t.Fatalf("late frame must not accumulate")
	}
}

func TestEmptyStreamCompletesWithEmptyTurn(t *testing.T) {
	res, err := Consume(context.Background(), strings.NewReader(""), nil)
	if err != nil {
		t.Fatalf("consume empty stream: %v", err)
	}
	if res.Failed || res.Content != "" || len(res.Documents) != 0 {
		t.Fatalf("expected clean empty turn, got %+v", res)
	}
}

type brokenReader struct {
	prefix io.Reader
}

func (r *brokenReader) Read(p []byte) (int, error) {
	n, err := r.prefix.Read(p)
	if err == io.EOF {
		return n, fmt.Errorf("connection reset")
	}
	return n, err
}

func TestBrokenConnectionIsATransportError(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)
	_ = e.Content(context.Background(), "kept")

	res, err := Consume(context.Background(), &brokenReader{prefix: &buf}, nil)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if res.Content != "kept" {
		t.Fatalf("partial accumulation lost: %q", res.Content)
	}
}

func TestCancelledContextStopsConsumptionAndEmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	e := NewEmitter(&buf)
	if err := e.Content(ctx, "never"); !errors.Is(err, context.Canceled) {
		t.Fatalf("emit after cancel = %v, want context.Canceled", err)
	}
	if _, err := Consume(ctx, strings.NewReader(`{"type":"content","data":"x"}`), nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("consume after cancel = %v, want context.Canceled", err)
	}
}

func TestConcurrentEmittersProduceWholeFrames(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = e.Content(ctx, strings.Repeat("x", i+1))
			}
		}(i)
	}
	wg.Wait()

	dec := json.NewDecoder(&buf)
	frames := 0
	for {
		var f Frame
		if err := dec.Decode(&f); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("interleaved write corrupted framing: %v", err)
		}
		if f.Type != TypeContent {
			t.Fatalf("unexpected frame type %q", f.Type)
		}
		frames++
	}
	if frames != 8*20 {
		t.Fatalf("frame count = %d, want %d", frames, 8*20)
	}
}

func TestOnFrameObservesAcceptedFramesOnly(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)
	ctx := context.Background()
	_ = e.Content(ctx, "a")
	_ = e.Error(ctx, "stop")
	_ = e.Content(ctx, "b")

	var seen []string
	_, err := Consume(ctx, &buf, func(f Frame) { seen = append(seen, f.Type) })
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(seen) != 1 || seen[0] != TypeContent {
		t.Fatalf("observer saw %v, want one content frame", seen)
	}
}
