package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agentwire/agentwire/wire"
)

// Sentinel errors for the process lifecycle.
var (
	ErrSpawnFailed = errors.New("transport: spawn failed")
	ErrTerminated  = errors.New("transport: process terminated")
)

// Default configuration values.
const (
	DefaultGracePeriod      = 5 * time.Second
	DefaultHandshakeTimeout = 30 * time.Second
)

// Config describes one agent subprocess: how to spawn it and what to
// declare in the handshake. SessionID and WorkDir are required; WorkDir
// must be absolute.
type Config struct {
	// Executable is the agent binary name or path, resolved via PATH.
	Executable string

	// SessionID identifies the conversation to the agent.
	SessionID string

	// WorkDir is the agent's working directory, passed on the command
	// line and used as the subprocess cwd.
	WorkDir string

	// Model selects the backing model; empty leaves the agent default.
	Model string

	// Thinking enables extended reasoning output.
	Thinking bool

	// AutoApprove tells the agent to skip approval round-trips.
	AutoApprove bool

	// SkillsDir points the agent at an extra skills directory.
	SkillsDir string

	// Env is appended to the inherited environment, KEY=VALUE entries.
	Env []string

	// Tools are declared in the handshake for agent callback dispatch.
	Tools []wire.ExternalTool

	// HandshakeTimeout bounds initialize during Start. Zero means
	// DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// GracePeriod is the SIGTERM→SIGKILL window during Stop. Zero means
	// DefaultGracePeriod.
	GracePeriod time.Duration

	// MaxMessageSize caps one inbound line; zero means 4 MiB.
	MaxMessageSize int

	// MessageBuffer sizes the inbound message channel; zero means 1024.
	MessageBuffer int

	// Logger receives transport diagnostics. Nil means no logging.
	Logger *zap.Logger
}

func (c Config) gracePeriod() time.Duration {
	if c.GracePeriod > 0 {
		return c.GracePeriod
	}
	return DefaultGracePeriod
}

func (c Config) handshakeTimeout() time.Duration {
	if c.HandshakeTimeout > 0 {
		return c.HandshakeTimeout
	}
	return DefaultHandshakeTimeout
}

// computeArgs builds the agent argv from a config. Pure function.
func computeArgs(cfg Config) []string {
	args := []string{"--wire", "--session", cfg.SessionID, "--work-dir", cfg.WorkDir}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if cfg.Thinking {
		args = append(args, "--thinking")
	}
	if cfg.AutoApprove {
		args = append(args, "--auto-approve")
	}
	if cfg.SkillsDir != "" {
		args = append(args, "--skills-dir", cfg.SkillsDir)
	}
	return args
}

// Process is one running agent subprocess with a completed handshake.
// Messages must be drained concurrently with Prompt: the read loop
// delivers turn events on the same stream that unblocks the prompt RPC.
type Process struct {
	conn  *Conn
	cmd   *exec.Cmd
	stdin io.WriteCloser
	cfg   Config

	version  string
	initInfo wire.InitializeResult

	done     chan struct{}
	termErr  error
	stopping atomic.Bool
	stopOnce sync.Once

	logger *zap.Logger
}

// Start spawns the subprocess, wires the read loop, and performs the
// initialize handshake. On handshake failure the subprocess is killed
// before returning.
func Start(ctx context.Context, cfg Config) (*Process, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrSpawnFailed)
	}
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("%w: empty work dir", ErrSpawnFailed)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	resolved, err := exec.LookPath(cfg.Executable)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawnFailed, cfg.Executable, err)
	}

	cmd := exec.Command(resolved, computeArgs(cfg)...)
	cmd.Dir = cfg.WorkDir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %w", ErrSpawnFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %w", ErrSpawnFailed, err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		cfg:    cfg,
		done:   make(chan struct{}),
		logger: logger,
	}
	p.conn = newConn(stdout, stdin, connConfig{
		maxMessageSize: cfg.MaxMessageSize,
		messageBuffer:  cfg.MessageBuffer,
		logger:         logger,
	})

	// Read loop goroutine: on exit, reap the subprocess and record the
	// terminal error so pending callers see a consistent state.
	go func() {
		p.conn.ReadLoop()
		err := cmd.Wait()
		if p.stopping.Load() {
			err = ErrTerminated
		} else if readErr := p.conn.Err(); readErr != nil && err == nil {
			err = readErr
		}
		p.termErr = err
		close(p.done)
	}()

	hsCtx, hsCancel := context.WithTimeout(ctx, cfg.handshakeTimeout())
	defer hsCancel()
	if err := p.handshake(hsCtx); err != nil {
		p.kill()
		return nil, err
	}

	logger.Debug("agent process started",
		zap.String("session", cfg.SessionID),
		zap.String("protocol", p.version))
	return p, nil
}

func (p *Process) handshake(ctx context.Context) error {
	params := wire.InitializeParams{
		ProtocolVersion: wire.ProtocolVersion,
		Client: wire.Some(wire.ClientInfo{
			Name:    "agentwire",
			Version: clientVersion,
		}),
		ExternalTools: p.cfg.Tools,
	}
	var result wire.InitializeResult
	if err := p.conn.Call(ctx, "initialize", params, &result); err != nil {
		return fmt.Errorf("transport: initialize: %w", err)
	}
	p.initInfo = result
	p.version = wire.MinVersion(wire.ProtocolVersion, result.ProtocolVersion)
	return nil
}

const clientVersion = "0.1.0"

// Messages returns the ordered inbound stream. Closed when the
// subprocess's stdout closes.
func (p *Process) Messages() <-chan wire.Message {
	return p.conn.Messages()
}

// ProtocolVersion returns the negotiated protocol version.
func (p *Process) ProtocolVersion() string {
	return p.version
}

// ServerInfo returns the agent's handshake identity.
func (p *Process) ServerInfo() wire.ServerInfo {
	return p.initInfo.Server
}

// SlashCommands returns the commands the agent advertised.
func (p *Process) SlashCommands() []wire.SlashCommand {
	return p.initInfo.SlashCommands
}

// ExternalTools reports per-tool acceptance from the handshake.
func (p *Process) ExternalTools() (wire.ExternalToolsResult, bool) {
	return p.initInfo.ExternalTools.Get()
}

// Prompt sends one round of user input and blocks until the agent
// reports the turn's terminal status. Drain Messages concurrently.
func (p *Process) Prompt(ctx context.Context, input wire.Content) (wire.PromptResult, error) {
	if p.stopping.Load() {
		return wire.PromptResult{}, ErrTerminated
	}
	var result wire.PromptResult
	err := p.conn.Call(ctx, "prompt", wire.PromptParams{UserInput: input}, &result)
	if err != nil {
		if errors.Is(err, ErrConnClosed) {
			return wire.PromptResult{}, fmt.Errorf("%w: %w", ErrTerminated, err)
		}
		return wire.PromptResult{}, err
	}
	return result, nil
}

// Cancel asks the agent to stop the in-flight turn. The turn still
// drains to its terminal status through the normal stream.
func (p *Process) Cancel(ctx context.Context) error {
	var result wire.CancelResult
	if err := p.conn.Call(ctx, "cancel", wire.CancelParams{}, &result); err != nil {
		return fmt.Errorf("transport: cancel: %w", err)
	}
	return nil
}

// Stop terminates the subprocess: close stdin, SIGTERM, wait out the
// grace period, SIGKILL. Safe to call multiple times.
func (p *Process) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.stopping.Store(true)

		if p.stdin != nil {
			_ = p.stdin.Close()
		}

		_ = signalProcess(p.cmd.Process, syscall.SIGTERM)

		select {
		case <-p.done:
		case <-time.After(p.cfg.gracePeriod()):
			_ = signalProcess(p.cmd.Process, os.Kill)
			<-p.done
		case <-ctx.Done():
			_ = signalProcess(p.cmd.Process, os.Kill)
			<-p.done
		}
	})

	<-p.done
	if errors.Is(p.termErr, ErrTerminated) {
		return nil
	}
	return p.termErr
}

// Wait blocks until the subprocess exits on its own.
func (p *Process) Wait() error {
	<-p.done
	return p.termErr
}

// Err returns the terminal error, or nil while running.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.termErr
	default:
		return nil
	}
}

// Done returns a channel closed when the subprocess has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// kill forcefully terminates the subprocess and waits for the read
// loop goroutine to reap it.
func (p *Process) kill() {
	p.stopping.Store(true)
	_ = p.stdin.Close()
	_ = signalProcess(p.cmd.Process, os.Kill)
	<-p.done
}

// signalProcess sends sig, treating an already-exited process as
// success. On windows SIGTERM delivery fails and Stop falls through to
// the kill path after the grace period.
func signalProcess(proc *os.Process, sig os.Signal) error {
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
