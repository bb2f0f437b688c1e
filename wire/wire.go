// Package wire defines the typed vocabulary of the agent wire protocol:
// JSON-RPC parameter/result pairs, the closed event and request unions
// carried inside "event" and "request" notifications, and the content
// containers shared by both directions.
//
// The protocol is newline-delimited JSON-RPC 2.0 over a subprocess's
// stdin/stdout. Every inbound notification is a two-level envelope — a
// string "type" discriminator plus a "payload" object — decoded through
// an explicit discriminator→decoder table ([EventParams.UnmarshalJSON],
// [RequestParams.UnmarshalJSON]). Adding a payload type is one map entry
// plus one struct.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the wire protocol version this client speaks.
// The effective version for a connection is negotiated down to the
// server's version during the initialize handshake.
const ProtocolVersion = "1.2"

// --- RPC parameter/result pairs ---

// InitializeParams opens the handshake. ExternalTools declares the
// host-side tools the agent may call back into via ToolCallRequest.
type InitializeParams struct {
	ProtocolVersion string               `json:"protocol_version"`
	Client          Optional[ClientInfo] `json:"client,omitzero"`
	ExternalTools   []ExternalTool       `json:"external_tools,omitempty"`
}

// InitializeResult is the agent's half of the handshake. The agent may
// reject individual external tools; rejected tools carry a reason.
type InitializeResult struct {
	ProtocolVersion string                        `json:"protocol_version"`
	Server          ServerInfo                    `json:"server"`
	SlashCommands   []SlashCommand                `json:"slash_commands"`
	ExternalTools   Optional[ExternalToolsResult] `json:"external_tools,omitzero"`
}

// ClientInfo identifies the client in the handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ServerInfo identifies the agent in the handshake response.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// SlashCommand is a command the agent exposes for interactive hosts.
type SlashCommand struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Aliases     []string `json:"aliases"`
}

// ExternalTool is the wire declaration of a host-registered tool:
// name, description, and a JSON-Schema parameters object.
type ExternalTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ExternalToolsResult reports per-tool acceptance from the handshake.
type ExternalToolsResult struct {
	Accepted []string               `json:"accepted"`
	Rejected []RejectedExternalTool `json:"rejected"`
}

// RejectedExternalTool names a declined tool and why.
type RejectedExternalTool struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// PromptParams carries one round of user input.
type PromptParams struct {
	UserInput Content `json:"user_input"`
}

// PromptResult is the terminal status of a prompt turn.
type PromptResult struct {
	Status PromptStatus  `json:"status"`
	Steps  Optional[int] `json:"steps"`
}

// CancelParams and CancelResult are empty; cancel is a bare RPC.
type (
	CancelParams struct{}
	CancelResult struct{}
)

// PromptStatus is the terminal (or pending) state of a turn.
type PromptStatus string

const (
	StatusPending         PromptStatus = "pending"
	StatusFinished        PromptStatus = "finished"
	StatusCancelled       PromptStatus = "cancelled"
	StatusMaxStepsReached PromptStatus = "max_steps_reached"
	StatusUnexpectedEOF   PromptStatus = "unexpected_eof"
)

// --- Notification envelopes ---

// EventParams is the payload of a `method=="event"` notification.
type EventParams struct {
	Type    EventType `json:"type"`
	Payload Event     `json:"payload"`
}

// RequestParams is the payload of a `method=="request"` server-initiated
// call. Unlike events, requests carry a JSON-RPC id and expect exactly
// one response; the transport binds a Responder to the decoded payload.
type RequestParams struct {
	Type    RequestType `json:"type"`
	Payload Request     `json:"payload"`
}

// Sentinel errors for envelope decoding. The transport maps these to
// recoverable in-stream ProtocolError values rather than failing the
// connection.
var (
	ErrUnknownEventType   = errors.New("wire: unknown event type")
	ErrUnknownRequestType = errors.New("wire: unknown request type")
)

func (p *EventParams) UnmarshalJSON(data []byte) error {
	var head struct {
		Type    EventType       `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	decode, ok := eventDecoders[head.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, head.Type)
	}
	payload, err := decode(head.Payload)
	if err != nil {
		return err
	}
	p.Type = head.Type
	p.Payload = payload
	return nil
}

func (p *RequestParams) UnmarshalJSON(data []byte) error {
	var head struct {
		Type    RequestType     `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	decode, ok := requestDecoders[head.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRequestType, head.Type)
	}
	payload, err := decode(head.Payload)
	if err != nil {
		return err
	}
	p.Type = head.Type
	p.Payload = payload
	return nil
}

// --- Protocol-layer anomalies ---

// ProtocolErrorKind classifies a recoverable protocol anomaly.
type ProtocolErrorKind string

const (
	InvalidJSON        ProtocolErrorKind = "invalid_json"
	UnknownEventType   ProtocolErrorKind = "unknown_event_type"
	UnknownRequestType ProtocolErrorKind = "unknown_request_type"
)

// ProtocolError is a recoverable protocol anomaly surfaced in-stream:
// a malformed line or an unrecognized event/request type. It implements
// Message so iteration continues; the stream itself keeps running.
type ProtocolError struct {
	Kind ProtocolErrorKind
	Line []byte
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wire: %s: %v", e.Kind, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// --- Remote errors ---

// RemoteErrorKind names a class of agent-reported failure.
type RemoteErrorKind string

const (
	RemoteInvalidState     RemoteErrorKind = "invalid_state"
	RemoteNoModel          RemoteErrorKind = "no_model_configured"
	RemoteModelUnsupported RemoteErrorKind = "model_unsupported"
	RemoteUpstreamFailure  RemoteErrorKind = "upstream_failure"
	RemoteUnknown          RemoteErrorKind = "unknown"
)

// RemoteError is an error reported by the agent over the wire. The
// original numeric code and message are preserved alongside the mapped
// kind so hosts can match on either.
type RemoteError struct {
	Kind    RemoteErrorKind
	Code    int
	Message string
}

// Agent-reported error codes.
const (
	codeInvalidState     = 4001
	codeNoModel          = 4002
	codeModelUnsupported = 4003
	codeUpstreamFailure  = 4004
)

// NewRemoteError maps a wire error code to a RemoteError.
func NewRemoteError(code int, message string) *RemoteError {
	kind := RemoteUnknown
	switch code {
	case codeInvalidState:
		kind = RemoteInvalidState
	case codeNoModel:
		kind = RemoteNoModel
	case codeModelUnsupported:
		kind = RemoteModelUnsupported
	case codeUpstreamFailure:
		kind = RemoteUpstreamFailure
	}
	return &RemoteError{Kind: kind, Code: code, Message: message}
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("wire: remote error %d (%s): %s", e.Code, e.Kind, e.Message)
}
