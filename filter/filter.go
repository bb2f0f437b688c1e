// Package filter provides composable channel middleware for wire
// message streams. Consumers wrap a step's Messages channel with these
// functions to select the message granularity they need.
package filter

import (
	"context"

	"github.com/agentwire/agentwire/wire"
)

// Events returns a channel that only passes events of the given types.
// Spawns a goroutine that exits when ctx is cancelled or ch is closed.
// The returned channel is closed when the goroutine exits.
func Events(ctx context.Context, ch <-chan wire.Message, types ...wire.EventType) <-chan wire.Message {
	allowed := make(map[wire.EventType]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return pipe(ctx, ch, func(msg wire.Message) bool {
		ev, ok := msg.(wire.Event)
		if !ok {
			return false
		}
		_, ok = allowed[ev.EventType()]
		return ok
	})
}

// TextOnly returns a channel that passes only text content parts,
// dropping thinking, media, tool traffic, and protocol errors.
func TextOnly(ctx context.Context, ch <-chan wire.Message) <-chan wire.Message {
	return pipe(ctx, ch, func(msg wire.Message) bool {
		cp, ok := msg.(wire.ContentPart)
		return ok && cp.Type == wire.PartText
	})
}

// Requests returns a channel that passes only server-initiated
// requests, which the consumer must answer via Respond.
func Requests(ctx context.Context, ch <-chan wire.Message) <-chan wire.Message {
	return pipe(ctx, ch, func(msg wire.Message) bool {
		_, ok := msg.(wire.Request)
		return ok
	})
}

// Drain consumes and discards ch until it closes or ctx is cancelled.
// Useful when a step's content is irrelevant but the turn must keep
// flowing.
func Drain(ctx context.Context, ch <-chan wire.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
		}
	}
}

// pipe spawns a goroutine that reads from ch, passes messages matching
// the predicate to the returned channel, and closes it when ch closes
// or ctx is cancelled. Callers must either drain the returned channel
// or cancel ctx to avoid goroutine leaks. Messages accepted by the
// predicate may be silently dropped if ctx is cancelled mid-send.
func pipe(ctx context.Context, ch <-chan wire.Message, accept func(wire.Message) bool) <-chan wire.Message {
	out := make(chan wire.Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if accept(msg) && !trySend(ctx, out, msg) {
					return
				}
			}
		}
	}()
	return out
}

// trySend sends msg on out, returning true on success.
// Returns false if ctx is cancelled before the send completes.
func trySend(ctx context.Context, out chan<- wire.Message, msg wire.Message) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}
