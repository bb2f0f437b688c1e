package agentwire

import (
	"context"
	"sync"

	"github.com/agentwire/agentwire/wire"
)

// fakeTransport is a test double for sessionTransport.
// Shared across root-package test files.
type fakeTransport struct {
	msgs    chan wire.Message
	version string

	mu       sync.Mutex
	prompts  []wire.Content
	promptFn func(ctx context.Context, input wire.Content) (wire.PromptResult, error)
	cancels  int
	cancelCh chan struct{}
	stops    int
}

func newFakeTransport(version string) *fakeTransport {
	return &fakeTransport{
		msgs:     make(chan wire.Message, 64),
		version:  version,
		cancelCh: make(chan struct{}, 8),
	}
}

func (f *fakeTransport) Messages() <-chan wire.Message { return f.msgs }

func (f *fakeTransport) Prompt(ctx context.Context, input wire.Content) (wire.PromptResult, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, input)
	fn := f.promptFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, input)
	}
	return wire.PromptResult{Status: wire.StatusFinished}, nil
}

func (f *fakeTransport) Cancel(context.Context) error {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
	select {
	case f.cancelCh <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeTransport) Stop(context.Context) error {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) ProtocolVersion() string            { return f.version }
func (f *fakeTransport) ServerInfo() wire.ServerInfo        { return wire.ServerInfo{Name: "fake"} }
func (f *fakeTransport) SlashCommands() []wire.SlashCommand { return nil }

func (f *fakeTransport) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}
