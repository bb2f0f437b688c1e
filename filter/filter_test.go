package filter

import (
	"context"
	"testing"
	"time"

	"github.com/agentwire/agentwire/wire"
)

func feed(msgs ...wire.Message) <-chan wire.Message {
	ch := make(chan wire.Message, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return ch
}

func collect(t *testing.T, ch <-chan wire.Message) []wire.Message {
	t.Helper()
	var out []wire.Message
	timeout := time.After(time.Second)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, msg)
		case <-timeout:
			t.Fatal("timeout collecting messages")
		}
	}
}

func TestEvents_FiltersByType(t *testing.T) {
	src := feed(
		wire.StepBegin{N: 1},
		wire.NewTextContentPart("hi"),
		wire.ToolCall{ID: "c1"},
		wire.NewTextContentPart("bye"),
	)

	out := collect(t, Events(context.Background(), src, wire.EventContentPart))
	if len(out) != 2 {
		t.Fatalf("expected 2 content parts, got %d", len(out))
	}
	for _, msg := range out {
		if _, ok := msg.(wire.ContentPart); !ok {
			t.Errorf("unexpected message %T", msg)
		}
	}
}

func TestEvents_DropsNonEvents(t *testing.T) {
	src := feed(
		wire.ToolCallRequest{ID: "q1", Name: "x"},
		wire.StepBegin{N: 1},
	)

	out := collect(t, Events(context.Background(), src, wire.EventStepBegin))
	if len(out) != 1 {
		t.Fatalf("expected requests dropped, got %d messages", len(out))
	}
}

func TestTextOnly(t *testing.T) {
	src := feed(
		wire.NewTextContentPart("keep"),
		wire.ContentPart{Type: wire.PartThink, Think: wire.Some("hidden")},
		wire.ToolCall{ID: "c1"},
		wire.NewTextContentPart("also"),
	)

	out := collect(t, TextOnly(context.Background(), src))
	if len(out) != 2 {
		t.Fatalf("expected 2 text parts, got %d", len(out))
	}
	first := out[0].(wire.ContentPart)
	if first.Text.Value != "keep" {
		t.Errorf("expected %q, got %q", "keep", first.Text.Value)
	}
}

func TestRequests(t *testing.T) {
	src := feed(
		wire.NewTextContentPart("noise"),
		wire.ToolCallRequest{ID: "q1", Name: "x"},
		wire.ApprovalRequest{ID: "q2"},
	)

	out := collect(t, Requests(context.Background(), src))
	if len(out) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(out))
	}
	if _, ok := out[0].(wire.ToolCallRequest); !ok {
		t.Errorf("expected ToolCallRequest first, got %T", out[0])
	}
	if _, ok := out[1].(wire.ApprovalRequest); !ok {
		t.Errorf("expected ApprovalRequest second, got %T", out[1])
	}
}

func TestDrain_ReturnsOnClose(t *testing.T) {
	done := make(chan struct{})
	go func() {
		Drain(context.Background(), feed(wire.NewTextContentPart("a"), wire.StepBegin{N: 1}))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain did not return after channel close")
	}
}

func TestPipe_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := make(chan wire.Message)

	out := TextOnly(ctx, src)
	cancel()

	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for cancel to close output")
	}
}
