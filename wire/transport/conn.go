// Package transport runs an agent subprocess speaking newline-delimited
// JSON-RPC 2.0 over stdin/stdout: spawning with computed arguments, the
// initialize handshake, typed prompt/cancel calls, and a single ordered
// stream of decoded wire messages.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/agentwire/agentwire/wire"
)

// ErrAlreadyResponded is returned by Respond when a server-initiated
// request has already been answered.
var ErrAlreadyResponded = errors.New("transport: request already responded")

// ErrConnClosed is returned by calls issued after the read loop exits.
var ErrConnClosed = errors.New("transport: connection closed")

// Conn is a bidirectional JSON-RPC 2.0 multiplexer over newline-delimited
// JSON. Outbound calls use string ids correlated through a pending map;
// inbound "event" notifications and "request" calls decode through the
// wire package's discriminator tables and are delivered, in arrival
// order, on a single buffered message channel.
//
// Dispatch is strictly sequential: every message read before a call's
// response is buffered on the message channel before Call returns. The
// consumer must drain Messages concurrently with blocking calls.
type Conn struct {
	mu  sync.Mutex
	enc *json.Encoder

	nextID  atomic.Int64
	pending map[string]chan *rpcResponse

	msgs    chan wire.Message
	scanner *bufio.Scanner

	done    chan struct{}
	readErr atomic.Value

	logger *zap.Logger
}

type connConfig struct {
	maxMessageSize int
	messageBuffer  int
	logger         *zap.Logger
}

// newConn creates a connection reading from r and writing to w. Call
// ReadLoop in a goroutine to start processing inbound traffic.
func newConn(r io.Reader, w io.Writer, cfg connConfig) *Conn {
	maxSize := cfg.maxMessageSize
	if maxSize <= 0 {
		maxSize = defaultMaxMessageSize
	}
	buffer := cfg.messageBuffer
	if buffer <= 0 {
		buffer = defaultMessageBuffer
	}
	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Conn{
		enc:     json.NewEncoder(w),
		pending: make(map[string]chan *rpcResponse),
		msgs:    make(chan wire.Message, buffer),
		done:    make(chan struct{}),
		logger:  logger,
	}
	c.scanner = newScanner(r, maxSize)
	return c
}

func newScanner(r io.Reader, maxSize int) *bufio.Scanner {
	s := bufio.NewScanner(r)
	initCap := min(4096, maxSize)
	s.Buffer(make([]byte, 0, initCap), maxSize)
	return s
}

// Messages returns the ordered inbound stream: events, server-initiated
// requests (with a bound Responder), and recoverable *wire.ProtocolError
// values. Closed when ReadLoop exits.
func (c *Conn) Messages() <-chan wire.Message {
	return c.msgs
}

// Call sends a JSON-RPC request and blocks until the response arrives
// or ctx expires. Remote errors surface as *wire.RemoteError.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	id := strconv.FormatInt(c.nextID.Add(1), 10)

	ch := make(chan *rpcResponse, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	req := &rpcRequest{
		JSONRPC: "2.0",
		ID:      &id,
		Method:  method,
		Params:  params,
	}

	if err := c.send(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("transport: send %s: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		return c.handleCallResponse(resp, ok, method, result)
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		// Response may have arrived just before ctx cancellation —
		// drain ch to avoid discarding a successful result.
		select {
		case resp, ok := <-ch:
			return c.handleCallResponse(resp, ok, method, result)
		default:
			return ctx.Err()
		}
	}
}

func (c *Conn) handleCallResponse(resp *rpcResponse, ok bool, method string, result any) error {
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnClosed, method)
	}
	if resp.Error != nil {
		return wire.NewRemoteError(resp.Error.Code, resp.Error.Message)
	}
	if result != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("transport: unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

// ReadLoop reads and dispatches inbound traffic until the reader closes
// or an unrecoverable error occurs. On exit the message channel is
// closed and all pending Call channels are drained so blocked callers
// unblock. Must be called exactly once.
func (c *Conn) ReadLoop() {
	defer close(c.done)
	defer close(c.msgs)
	defer c.drainPending()

	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 || line[0] != '{' {
			continue // skip blank lines and startup banners
		}

		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			c.deliver(&wire.ProtocolError{
				Kind: wire.InvalidJSON,
				Line: append([]byte(nil), line...),
				Err:  err,
			})
			continue
		}

		c.dispatch(&msg, line)
	}

	if err := c.scanner.Err(); err != nil {
		c.readErr.Store(err)
	}
}

// Err returns the ReadLoop error after it exits. Nil if ReadLoop has
// not finished or exited cleanly.
func (c *Conn) Err() error {
	if v := c.readErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Done returns a channel closed when ReadLoop exits.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

const (
	methodEvent   = "event"
	methodRequest = "request"

	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcInternalError  = -32603
)

const (
	defaultMaxMessageSize = 4 << 20
	defaultMessageBuffer  = 1024
)

// --- Internal ---

func (c *Conn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(v)
}

// deliver blocks until the message is buffered. Order is the whole
// point of the single channel, so there is no drop path; a consumer
// that stops draining stalls the read loop until the stream closes.
func (c *Conn) deliver(msg wire.Message) {
	c.msgs <- msg
}

func (c *Conn) dispatch(msg *rpcMessage, line []byte) {
	switch {
	case msg.ID != nil && msg.Method == "":
		c.handleResponse(msg)
	case msg.ID != nil && msg.Method == methodRequest:
		c.handleRequest(msg)
	case msg.ID != nil:
		c.sendError(*msg.ID, rpcMethodNotFound, "method not found: "+msg.Method)
	case msg.Method == methodEvent:
		c.handleEvent(msg, line)
	default:
		c.logger.Debug("ignoring unknown notification", zap.String("method", msg.Method))
	}
}

func (c *Conn) handleResponse(msg *rpcMessage) {
	c.mu.Lock()
	ch, ok := c.pending[*msg.ID]
	if ok {
		delete(c.pending, *msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("dropping unsolicited response", zap.String("id", *msg.ID))
		return
	}

	ch <- &rpcResponse{Result: msg.Result, Error: msg.Error}
}

func (c *Conn) handleEvent(msg *rpcMessage, line []byte) {
	var params wire.EventParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		kind := wire.InvalidJSON
		if errors.Is(err, wire.ErrUnknownEventType) {
			kind = wire.UnknownEventType
		}
		c.deliver(&wire.ProtocolError{
			Kind: kind,
			Line: append([]byte(nil), line...),
			Err:  err,
		})
		return
	}
	c.deliver(params.Payload)
}

func (c *Conn) handleRequest(msg *rpcMessage) {
	var params wire.RequestParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		kind := wire.InvalidJSON
		code := rpcInvalidParams
		if errors.Is(err, wire.ErrUnknownRequestType) {
			kind = wire.UnknownRequestType
			code = rpcMethodNotFound
		}
		c.sendError(*msg.ID, code, err.Error())
		c.deliver(&wire.ProtocolError{Kind: kind, Err: err})
		return
	}
	req := wire.BindResponder(params.Payload, &responder{conn: c, id: *msg.ID})
	c.deliver(req)
}

// sendResult and sendError are best-effort: the connection may already
// be closing, and the agent times out on its own.
func (c *Conn) sendResult(id string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		c.sendError(id, rpcInternalError, "marshal result: "+err.Error())
		return fmt.Errorf("transport: marshal result: %w", err)
	}
	return c.send(&rpcResponse{JSONRPC: "2.0", ID: &id, Result: data})
}

func (c *Conn) sendError(id string, code int, message string) {
	_ = c.send(&rpcResponse{
		JSONRPC: "2.0",
		ID:      &id,
		Error:   &rpcError{Code: code, Message: message},
	})
}

func (c *Conn) drainPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// responder answers one server-initiated request. Exactly one Respond
// succeeds; later calls return ErrAlreadyResponded.
type responder struct {
	conn *Conn
	id   string
	once sync.Once
}

func (r *responder) Respond(resp wire.RequestResponse) error {
	err := ErrAlreadyResponded
	r.once.Do(func() {
		err = r.conn.sendResult(r.id, resp)
	})
	return err
}

// --- Wire framing ---

type rpcRequest struct {
	JSONRPC string  `json:"jsonrpc"`
	ID      *string `json:"id,omitempty"`
	Method  string  `json:"method"`
	Params  any     `json:"params,omitempty"`
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *string         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      *string         `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
