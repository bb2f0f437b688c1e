package agentwire

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/agentwire/agentwire/wire"
)

// Usage is the accumulated resource accounting for one turn. Token
// counts sum across status updates; Context and LastMessageID are
// last-write-wins.
type Usage struct {
	Context       float64
	Tokens        wire.TokenUsage
	LastMessageID string
}

// Step is one reasoning step of a turn. Messages yields the step's
// content in wire order and closes when the next step begins or the
// turn ends. The channel is unbuffered: a reader that stops consuming
// pauses the turn's delivery (never the agent process itself).
type Step struct {
	// N is the agent-assigned step number.
	N int

	// Messages yields this step's messages in arrival order.
	Messages <-chan wire.Message

	messages chan wire.Message
}

// Turn is one prompt→completion round trip, reconstructed from the
// interleaved wire stream. Steps yields reasoning steps in order and
// closes when the turn reaches a terminal state.
type Turn struct {
	// Steps yields the turn's steps in order. Unbuffered.
	Steps <-chan *Step

	steps chan *Step

	index   int
	tp      sessionTransport
	version string
	exit    func(error) error
	pending func(ends int) bool

	result *atomic.Pointer[wire.PromptResult]
	errp   *atomic.Pointer[error]

	mu    sync.Mutex
	usage Usage

	ctx        context.Context
	cancelCtx  context.CancelFunc
	cancelOnce sync.Once
	cancelErr  error
	done       chan struct{}

	logger *zap.Logger
}

// turnBegin starts the routing goroutines for one turn. msgs is the
// session's per-turn stream; it must be closed by the caller when the
// turn's traffic is complete. exit runs exactly once on cancellation,
// before the cancel RPC. pending reports whether more TurnBegins are
// expected on this stream after the given number of turn ends; nil
// means no queue.
func turnBegin(
	ctx context.Context,
	index int,
	tp sessionTransport,
	errp *atomic.Pointer[error],
	result *atomic.Pointer[wire.PromptResult],
	version string,
	msgs <-chan wire.Message,
	exit func(error) error,
	pending func(ends int) bool,
	logger *zap.Logger,
) *Turn {
	if logger == nil {
		logger = zap.NewNop()
	}
	tctx, cancel := context.WithCancel(ctx)
	t := &Turn{
		steps:     make(chan *Step),
		index:     index,
		tp:        tp,
		version:   version,
		exit:      exit,
		pending:   pending,
		result:    result,
		errp:      errp,
		ctx:       tctx,
		cancelCtx: cancel,
		done:      make(chan struct{}),
		logger:    logger,
	}
	t.Steps = t.steps

	go t.watch()
	go t.traverse(msgs)
	return t
}

// Index returns the turn's position within its session, starting at 0.
func (t *Turn) Index() int {
	return t.index
}

// Result returns the turn's current status. Status is pending until
// the agent reports a terminal state.
func (t *Turn) Result() wire.PromptResult {
	return *t.result.Load()
}

// Usage returns a snapshot of the turn's accumulated usage.
func (t *Turn) Usage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

// Err returns the session-level error that ended the turn, if any.
func (t *Turn) Err() error {
	if p := t.errp.Load(); p != nil {
		return *p
	}
	return nil
}

// Done returns a channel closed when the turn's routing has finished.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Cancel stops the turn: message delivery halts immediately, queued
// prompts are discarded, and the agent is asked to stop. Cancelling a
// turn that already reached its terminal state is a no-op. Idempotent;
// the turn still drains to its terminal status.
func (t *Turn) Cancel() error {
	t.cancelOnce.Do(func() {
		select {
		case <-t.done:
			// Already terminal, nothing to interrupt.
			return
		default:
		}
		t.cancelCtx()
		err := t.exit(nil)
		if cerr := t.tp.Cancel(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
		// Cancelled is the terminal status from here on, whatever the
		// remote reports for the interrupted prompt RPC.
		t.result.Store(&wire.PromptResult{Status: wire.StatusCancelled})
		t.cancelErr = err
	})
	return t.cancelErr
}

// watch propagates outer context cancellation into turn cancellation.
func (t *Turn) watch() {
	select {
	case <-t.ctx.Done():
		_ = t.Cancel()
	case <-t.done:
	}
}

// traverse is the routing state machine: it consumes the per-turn
// stream and rebuilds the Turn→Step→Message hierarchy. Exactly one
// traverse runs per turn; it finishes when msgs closes.
func (t *Turn) traverse(msgs <-chan wire.Message) {
	defer close(t.done)
	defer close(t.steps)

	var (
		started    bool
		sawTurnEnd bool
		step       *Step
		ended      bool
		ends       int
	)

	closeStep := func() {
		if step != nil {
			close(step.messages)
			step = nil
		}
	}
	defer func() {
		closeStep()
		t.finalize(sawTurnEnd)
	}()

	for msg := range msgs {
		if t.ctx.Err() != nil {
			// Cancelled: stop yielding, keep draining so the
			// session's pump can finish the stream.
			closeStep()
			continue
		}

		switch m := msg.(type) {
		case wire.TurnBegin:
			if started && !ended {
				t.logger.Warn("duplicate TurnBegin", zap.Int("turn", t.index))
				continue
			}
			// A fresh TurnBegin after TurnEnd is a queued prompt
			// extending this turn.
			started = true
			ended = false

		case wire.TurnEnd:
			if !started {
				t.logger.Warn("TurnEnd before TurnBegin", zap.Int("turn", t.index))
				continue
			}
			sawTurnEnd = true
			ended = true
			ends++
			closeStep()
			if t.pending == nil || !t.pending(ends) {
				return
			}

		case wire.StepBegin:
			if !started {
				t.logger.Warn("StepBegin before TurnBegin", zap.Int("turn", t.index))
				continue
			}
			closeStep()
			s := &Step{N: m.N, messages: make(chan wire.Message)}
			s.Messages = s.messages
			select {
			case t.steps <- s:
				step = s
			case <-t.ctx.Done():
				close(s.messages)
			}

		case wire.StatusUpdate:
			t.accumulate(m)

		default:
			if !started {
				t.logger.Warn("message before TurnBegin",
					zap.Int("turn", t.index),
					zap.String("type", messageTypeName(msg)))
				continue
			}
			if step == nil {
				t.logger.Warn("message before StepBegin",
					zap.Int("turn", t.index),
					zap.String("type", messageTypeName(msg)))
				continue
			}
			select {
			case step.messages <- msg:
			case <-t.ctx.Done():
			}
		}
	}
}

// accumulate folds one status update into the turn's usage.
func (t *Turn) accumulate(m wire.StatusUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cu, ok := m.ContextUsage.Get(); ok {
		t.usage.Context = cu
	}
	if tu, ok := m.TokenUsage.Get(); ok {
		t.usage.Tokens.InputOther += tu.InputOther
		t.usage.Tokens.Output += tu.Output
		t.usage.Tokens.InputCacheRead += tu.InputCacheRead
		t.usage.Tokens.InputCacheCreation += tu.InputCacheCreation
	}
	if id, ok := m.MessageID.Get(); ok {
		t.usage.LastMessageID = id
	}
}

// finalize resolves the terminal status when the stream ends. A stream
// that closes without TurnEnd is an unexpected EOF on protocol 1.2+;
// older agents end turns by closing, so there it is ordinary.
func (t *Turn) finalize(sawTurnEnd bool) {
	if sawTurnEnd || t.ctx.Err() != nil {
		return
	}
	if wire.CompareVersions(t.version, "1.2") < 0 {
		return
	}
	cur := t.result.Load()
	if cur != nil && cur.Status == wire.StatusPending {
		t.result.Store(&wire.PromptResult{Status: wire.StatusUnexpectedEOF})
	}
}

func messageTypeName(msg wire.Message) string {
	switch m := msg.(type) {
	case wire.Event:
		return string(m.EventType())
	case wire.Request:
		return string(m.RequestType())
	case *wire.ProtocolError:
		return string(m.Kind)
	default:
		return "unknown"
	}
}
