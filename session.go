package agentwire

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentwire/agentwire/sessionlog"
	"github.com/agentwire/agentwire/wire"
	"github.com/agentwire/agentwire/wire/transport"
)

// sessionTransport is the slice of the transport a session drives.
// Satisfied by *transport.Process; faked directly in tests.
type sessionTransport interface {
	Messages() <-chan wire.Message
	Prompt(ctx context.Context, input wire.Content) (wire.PromptResult, error)
	Cancel(ctx context.Context) error
	Stop(ctx context.Context) error
	ProtocolVersion() string
	ServerInfo() wire.ServerInfo
	SlashCommands() []wire.SlashCommand
}

// configSnapshot is the comparable transport configuration. A snapshot
// change between turns forces a transport restart; session id and work
// dir never change for a session's lifetime.
type configSnapshot struct {
	executable  string
	model       string
	skillsDir   string
	env         string
	thinking    bool
	autoApprove bool
}

// DefaultLogDir returns the default base directory for session logs.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "agentwire", "sessions")
	}
	return filepath.Join(home, ".agentwire", "sessions")
}

// Session drives one conversation with an agent subprocess. A session
// owns at most one transport at a time, restarts it when configuration
// changes at a turn boundary, queues prompts submitted mid-turn, and
// persists the conversation to the session log store.
//
// Methods are safe for concurrent use.
type Session struct {
	id      string
	workDir string
	tools   map[string]*Tool
	store   *sessionlog.Store
	logger  *zap.Logger

	// startTransport is swapped out in tests.
	startTransport func(ctx context.Context, cfg transport.Config) (sessionTransport, error)

	mu       sync.Mutex
	opts     sessionOptions
	tp       sessionTransport
	snapshot configSnapshot
	turn     *Turn
	active   bool
	queue    []wire.Content
	turns    int
	closed   bool
}

// NewSession builds a session. No subprocess is spawned until the
// first Prompt.
func NewSession(opts ...SessionOption) (*Session, error) {
	o := resolveSessionOptions(opts...)

	if o.sessionID == "" {
		o.sessionID = uuid.NewString()
	}
	if o.workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("agentwire: resolve work dir: %w", err)
		}
		o.workDir = wd
	}
	workDir, err := filepath.Abs(o.workDir)
	if err != nil {
		return nil, fmt.Errorf("agentwire: resolve work dir: %w", err)
	}
	if o.logDir == "" {
		o.logDir = DefaultLogDir()
	}

	tools := make(map[string]*Tool, len(o.tools))
	for _, t := range o.tools {
		if _, dup := tools[t.Name()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
		}
		tools[t.Name()] = t
	}

	s := &Session{
		id:      o.sessionID,
		workDir: workDir,
		tools:   tools,
		logger:  o.logger.With(zap.String("session", o.sessionID)),
		opts:    o,
	}
	s.startTransport = func(ctx context.Context, cfg transport.Config) (sessionTransport, error) {
		return transport.Start(ctx, cfg)
	}

	if !o.noLogs {
		store, err := sessionlog.Open(o.logDir, workDir, o.sessionID, s.logger)
		if err != nil {
			return nil, err
		}
		s.store = store
	}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// WorkDir returns the session's absolute work dir.
func (s *Session) WorkDir() string {
	return s.workDir
}

// ServerInfo returns the agent's handshake identity, zero before the
// first transport start.
func (s *Session) ServerInfo() wire.ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tp == nil {
		return wire.ServerInfo{}
	}
	return s.tp.ServerInfo()
}

// Commands returns the slash commands the agent advertised, nil before
// the first transport start.
func (s *Session) Commands() []wire.SlashCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tp == nil {
		return nil
	}
	return s.tp.SlashCommands()
}

// SetModel changes the model. Applied at the next turn boundary by
// restarting the transport.
func (s *Session) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.model = model
}

// SetThinking toggles extended reasoning. Applied at the next turn
// boundary.
func (s *Session) SetThinking(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.thinking = on
}

// SetAutoApprove toggles approval skipping. Applied at the next turn
// boundary.
func (s *Session) SetAutoApprove(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.autoApprove = on
}

// SetEnv replaces the extra environment entries. Applied at the next
// turn boundary.
func (s *Session) SetEnv(kv ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.env = append([]string(nil), kv...)
}

// Prompt submits user input. If no turn is in flight it starts one and
// returns a new Turn. If a turn is in flight the input is queued and
// the in-flight Turn is returned: the queued prompt extends that turn
// with a further TurnBegin on the same Steps channel. Cancelling the
// turn discards queued input.
func (s *Session) Prompt(ctx context.Context, input wire.Content) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	if s.active {
		s.queue = append(s.queue, input)
		return s.turn, nil
	}

	if err := s.ensureTransport(ctx); err != nil {
		return nil, err
	}

	s.queue = []wire.Content{input}
	s.active = true

	result := new(atomic.Pointer[wire.PromptResult])
	result.Store(&wire.PromptResult{Status: wire.StatusPending})
	errp := new(atomic.Pointer[error])

	msgs := make(chan wire.Message)
	senderDone := make(chan struct{})
	tp := s.tp

	exit := func(err error) error {
		s.mu.Lock()
		s.queue = nil
		s.mu.Unlock()
		return err
	}
	// The turn extends past a TurnEnd while input is queued, the
	// sender is mid-RPC, or more prompts were issued than the router
	// has seen ends for. The last clause closes the race where both
	// RPCs resolve before the first TurnEnd is routed.
	sent := new(atomic.Int64)
	pending := func(ends int) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.queue) > 0 || s.active || sent.Load() > int64(ends)
	}

	turn := turnBegin(ctx, s.turns, tp, errp, result, tp.ProtocolVersion(),
		msgs, exit, pending, s.logger)
	s.turn = turn
	s.turns++

	go s.sender(ctx, tp, sent, result, errp, senderDone)
	go s.pump(tp, msgs, senderDone)

	return turn, nil
}

// sender drains the prompt queue FIFO, one blocking RPC per entry.
// The turn stays active until the queue is empty and the final RPC has
// resolved.
func (s *Session) sender(
	ctx context.Context,
	tp sessionTransport,
	sent *atomic.Int64,
	result *atomic.Pointer[wire.PromptResult],
	errp *atomic.Pointer[error],
	senderDone chan struct{},
) {
	defer close(senderDone)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.active = false
			s.mu.Unlock()
			return
		}
		input := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		sent.Add(1)
		res, err := tp.Prompt(ctx, input)
		if err != nil {
			s.logger.Warn("prompt failed", zap.Error(err))
			errp.Store(&err)
			s.mu.Lock()
			s.queue = nil
			s.active = false
			s.mu.Unlock()
			return
		}
		// A cancelled result is sticky; the remote may still report
		// finished for a prompt that was interrupted.
		for {
			cur := result.Load()
			if cur.Status == wire.StatusCancelled {
				break
			}
			if result.CompareAndSwap(cur, &res) {
				break
			}
		}
	}
}

// pump forwards transport messages into the per-turn stream,
// intercepting registered tool callbacks and persisting the
// conversation. Exactly one pump runs at a time; it closes msgs after
// the sender finishes and the already-buffered tail is flushed.
// Transport dispatch is sequential, so everything the agent emitted
// before the final RPC response is buffered by the time senderDone
// closes.
func (s *Session) pump(tp sessionTransport, msgs chan<- wire.Message, senderDone <-chan struct{}) {
	defer close(msgs)

	var assistant strings.Builder

	forward := func(m wire.Message) {
		s.record(m, &assistant)
		if req, ok := m.(wire.ToolCallRequest); ok {
			s.mu.Lock()
			tool, registered := s.tools[req.Name]
			s.mu.Unlock()
			if registered {
				go s.dispatchTool(tool, req)
				return
			}
		}
		msgs <- m
	}

	flushAssistant := func() {
		if assistant.Len() == 0 {
			return
		}
		s.appendContext(sessionlog.ContextLine{
			Role:    sessionlog.RoleAssistant,
			Content: assistant.String(),
		})
		assistant.Reset()
	}
	defer flushAssistant()

	stream := tp.Messages()
	for {
		select {
		case <-senderDone:
			for {
				select {
				case m, ok := <-stream:
					if !ok {
						return
					}
					forward(m)
				default:
					return
				}
			}
		case m, ok := <-stream:
			if !ok {
				return
			}
			forward(m)
		}
	}
}

// record persists one message to the session logs.
func (s *Session) record(m wire.Message, assistant *strings.Builder) {
	if s.store == nil {
		return
	}
	switch ev := m.(type) {
	case wire.TurnBegin:
		s.appendEvent(ev)
		if assistant.Len() > 0 {
			s.appendContext(sessionlog.ContextLine{
				Role:    sessionlog.RoleAssistant,
				Content: assistant.String(),
			})
			assistant.Reset()
		}
		s.appendContext(sessionlog.ContextLine{
			Role:    sessionlog.RoleUser,
			Content: contentText(ev.UserInput),
		})
	case wire.TurnEnd:
		s.appendEvent(ev)
		if assistant.Len() > 0 {
			s.appendContext(sessionlog.ContextLine{
				Role:    sessionlog.RoleAssistant,
				Content: assistant.String(),
			})
			assistant.Reset()
		}
	case wire.ContentPart:
		s.appendEvent(ev)
		if ev.Type == wire.PartText {
			assistant.WriteString(ev.Text.Value)
		}
	case wire.CompactionEnd:
		s.appendEvent(ev)
		s.appendContext(sessionlog.ContextLine{
			Role:    sessionlog.RoleAssistant,
			Content: "compaction checkpoint",
			Marker:  true,
		})
	case wire.Event:
		s.appendEvent(ev)
	default:
		// Requests and protocol errors are transient; only events
		// replay.
	}
}

func (s *Session) appendEvent(ev wire.Event) {
	err := s.store.AppendEvent(wire.EventParams{Type: ev.EventType(), Payload: ev})
	if err != nil {
		s.logger.Warn("event log append failed", zap.Error(err))
	}
}

func (s *Session) appendContext(line sessionlog.ContextLine) {
	if err := s.store.AppendContext(line); err != nil {
		s.logger.Warn("context log append failed", zap.Error(err))
	}
}

// dispatchTool runs one registered tool callback and responds on the
// request's wire id. Tool errors become is_error results, not
// connection failures.
func (s *Session) dispatchTool(tool *Tool, req wire.ToolCallRequest) {
	output, err := tool.call([]byte(req.Arguments.Or("")))
	ret := wire.ToolReturnValue{Output: wire.NewStringContent(output)}
	if err != nil {
		ret = wire.ToolReturnValue{
			IsError: true,
			Output:  wire.NewStringContent(""),
			Message: err.Error(),
		}
	}
	resp := wire.ToolResult{ToolCallID: req.ID, ReturnValue: ret}
	if err := req.Respond(resp); err != nil {
		s.logger.Warn("tool response failed",
			zap.String("tool", tool.Name()), zap.Error(err))
	}
}

// ensureTransport starts or restarts the transport so it matches the
// current configuration. Caller holds s.mu.
func (s *Session) ensureTransport(ctx context.Context) error {
	snap := configSnapshot{
		executable:  s.opts.executable,
		model:       s.opts.model,
		skillsDir:   s.opts.skillsDir,
		env:         strings.Join(s.opts.env, "\x00"),
		thinking:    s.opts.thinking,
		autoApprove: s.opts.autoApprove,
	}

	if s.tp != nil && snap != s.snapshot {
		s.logger.Info("configuration changed, restarting transport")
		if err := s.tp.Stop(ctx); err != nil {
			s.logger.Warn("transport stop failed", zap.Error(err))
		}
		s.tp = nil
	}
	if s.tp != nil {
		return nil
	}

	defs := make([]wire.ExternalTool, 0, len(s.tools))
	for _, t := range s.tools {
		defs = append(defs, t.Definition())
	}

	tp, err := s.startTransport(ctx, transport.Config{
		Executable:       s.opts.executable,
		SessionID:        s.id,
		WorkDir:          s.workDir,
		Model:            s.opts.model,
		Thinking:         s.opts.thinking,
		AutoApprove:      s.opts.autoApprove,
		SkillsDir:        s.opts.skillsDir,
		Env:              s.opts.env,
		Tools:            defs,
		HandshakeTimeout: s.opts.handshakeTimeout,
		GracePeriod:      s.opts.gracePeriod,
		MessageBuffer:    s.opts.messageBuffer,
		Logger:           s.logger,
	})
	if err != nil {
		return err
	}
	s.tp = tp
	s.snapshot = snap
	return nil
}

// Close cancels any in-flight turn, stops the transport, and closes
// the log store. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	turn := s.turn
	active := s.active
	tp := s.tp
	s.tp = nil
	store := s.store
	s.store = nil
	grace := s.opts.gracePeriod
	s.mu.Unlock()

	if active && turn != nil {
		_ = turn.Cancel()
	}

	var err error
	if tp != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*grace)
		err = tp.Stop(ctx)
		cancel()
	}
	if store != nil {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// contentText flattens Content to its textual parts for the context
// log.
func contentText(c wire.Content) string {
	switch c.Type {
	case wire.ContentText:
		return c.Text.Value
	case wire.ContentParts:
		var b strings.Builder
		for _, part := range c.Parts.Value {
			if part.Type == wire.PartText {
				b.WriteString(part.Text.Value)
			}
		}
		return b.String()
	default:
		return ""
	}
}
