package agentwire

import (
	"time"

	"go.uber.org/zap"
)

// Default session configuration values.
const (
	defaultExecutable       = "agent"
	defaultGracePeriod      = 5 * time.Second
	defaultHandshakeTimeout = 30 * time.Second
)

// sessionOptions holds resolved construction-time configuration.
type sessionOptions struct {
	executable  string
	sessionID   string
	workDir     string
	model       string
	thinking    bool
	autoApprove bool
	skillsDir   string
	env         []string

	tools []*Tool

	logDir string
	noLogs bool
	logger *zap.Logger

	gracePeriod      time.Duration
	handshakeTimeout time.Duration
	messageBuffer    int
}

// SessionOption configures a Session at construction time.
type SessionOption func(*sessionOptions)

// WithExecutable sets the agent binary name or path.
func WithExecutable(executable string) SessionOption {
	return func(o *sessionOptions) {
		if executable != "" {
			o.executable = executable
		}
	}
}

// WithSessionID pins the session id instead of generating one. Use it
// to resume a stored session or attach to a fork.
func WithSessionID(id string) SessionOption {
	return func(o *sessionOptions) {
		if id != "" {
			o.sessionID = id
		}
	}
}

// WithWorkDir sets the agent's working directory. Defaults to the
// current directory.
func WithWorkDir(dir string) SessionOption {
	return func(o *sessionOptions) {
		if dir != "" {
			o.workDir = dir
		}
	}
}

// WithModel selects the backing model.
func WithModel(model string) SessionOption {
	return func(o *sessionOptions) {
		o.model = model
	}
}

// WithThinking enables extended reasoning output.
func WithThinking() SessionOption {
	return func(o *sessionOptions) {
		o.thinking = true
	}
}

// WithAutoApprove skips approval round-trips for sensitive actions.
func WithAutoApprove() SessionOption {
	return func(o *sessionOptions) {
		o.autoApprove = true
	}
}

// WithSkillsDir points the agent at an extra skills directory.
func WithSkillsDir(dir string) SessionOption {
	return func(o *sessionOptions) {
		o.skillsDir = dir
	}
}

// WithEnv appends KEY=VALUE entries to the agent's environment.
func WithEnv(kv ...string) SessionOption {
	return func(o *sessionOptions) {
		o.env = append(o.env, kv...)
	}
}

// WithTools registers host-side tools. Each is declared in the
// handshake; matching agent callbacks are dispatched automatically.
func WithTools(tools ...*Tool) SessionOption {
	return func(o *sessionOptions) {
		o.tools = append(o.tools, tools...)
	}
}

// WithLogDir sets the base directory for session logs. Defaults to
// DefaultLogDir().
func WithLogDir(dir string) SessionOption {
	return func(o *sessionOptions) {
		if dir != "" {
			o.logDir = dir
		}
	}
}

// WithoutLogs disables on-disk session logging.
func WithoutLogs() SessionOption {
	return func(o *sessionOptions) {
		o.noLogs = true
	}
}

// WithLogger sets the structured logger. The default is a no-op
// logger; the library is silent unless the host opts in.
func WithLogger(logger *zap.Logger) SessionOption {
	return func(o *sessionOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithGracePeriod sets the SIGTERM→SIGKILL window used when the
// transport stops. Values <= 0 are ignored.
func WithGracePeriod(d time.Duration) SessionOption {
	return func(o *sessionOptions) {
		if d > 0 {
			o.gracePeriod = d
		}
	}
}

// WithHandshakeTimeout bounds the initialize handshake on transport
// start. Values <= 0 are ignored.
func WithHandshakeTimeout(d time.Duration) SessionOption {
	return func(o *sessionOptions) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

// WithMessageBuffer sizes the transport's inbound message buffer.
// Values <= 0 are ignored.
func WithMessageBuffer(size int) SessionOption {
	return func(o *sessionOptions) {
		if size > 0 {
			o.messageBuffer = size
		}
	}
}

func resolveSessionOptions(opts ...SessionOption) sessionOptions {
	o := sessionOptions{
		executable:       defaultExecutable,
		logger:           zap.NewNop(),
		gracePeriod:      defaultGracePeriod,
		handshakeTimeout: defaultHandshakeTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
