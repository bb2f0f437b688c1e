package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Message is the closed union of everything a conversation stream can
// carry: events, server-initiated requests, and recoverable protocol
// anomalies. The marker method keeps the union closed — only types in
// this package satisfy it.
type Message interface {
	message()
}

func (TurnBegin) message()               {}
func (TurnEnd) message()                 {}
func (StepBegin) message()               {}
func (StepInterrupted) message()         {}
func (CompactionBegin) message()         {}
func (CompactionEnd) message()           {}
func (StatusUpdate) message()            {}
func (ContentPart) message()             {}
func (ToolCall) message()                {}
func (ToolCallPart) message()            {}
func (ToolResult) message()              {}
func (SubagentEvent) message()           {}
func (ApprovalRequestResolved) message() {}
func (ApprovalResponse) message()        {}
func (ApprovalRequest) message()         {}
func (ToolCallRequest) message()         {}
func (*ProtocolError) message()          {}

// Event is a Message pushed by the agent with no reply expected.
type Event interface {
	Message
	EventType() EventType
}

// EventType discriminates event payloads on the wire.
type EventType string

const (
	EventTurnBegin               EventType = "TurnBegin"
	EventTurnEnd                 EventType = "TurnEnd"
	EventStepBegin               EventType = "StepBegin"
	EventStepInterrupted         EventType = "StepInterrupted"
	EventCompactionBegin         EventType = "CompactionBegin"
	EventCompactionEnd           EventType = "CompactionEnd"
	EventStatusUpdate            EventType = "StatusUpdate"
	EventContentPart             EventType = "ContentPart"
	EventToolCall                EventType = "ToolCall"
	EventToolCallPart            EventType = "ToolCallPart"
	EventToolResult              EventType = "ToolResult"
	EventSubagentEvent           EventType = "SubagentEvent"
	EventApprovalRequestResolved EventType = "ApprovalRequestResolved"
	EventApprovalResponse        EventType = "ApprovalResponse"
)

func (TurnBegin) EventType() EventType               { return EventTurnBegin }
func (TurnEnd) EventType() EventType                 { return EventTurnEnd }
func (StepBegin) EventType() EventType               { return EventStepBegin }
func (StepInterrupted) EventType() EventType         { return EventStepInterrupted }
func (CompactionBegin) EventType() EventType         { return EventCompactionBegin }
func (CompactionEnd) EventType() EventType           { return EventCompactionEnd }
func (StatusUpdate) EventType() EventType            { return EventStatusUpdate }
func (ContentPart) EventType() EventType             { return EventContentPart }
func (ToolCall) EventType() EventType                { return EventToolCall }
func (ToolCallPart) EventType() EventType            { return EventToolCallPart }
func (ToolResult) EventType() EventType              { return EventToolResult }
func (SubagentEvent) EventType() EventType           { return EventSubagentEvent }
func (ApprovalRequestResolved) EventType() EventType { return EventApprovalRequestResolved }
func (ApprovalResponse) EventType() EventType        { return EventApprovalResponse }

func decodeEvent[E Event](data []byte) (Event, error) {
	var ev E
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// eventDecoders is the closed discriminator→decoder table for events.
var eventDecoders = map[EventType]func([]byte) (Event, error){
	EventTurnBegin:               decodeEvent[TurnBegin],
	EventTurnEnd:                 decodeEvent[TurnEnd],
	EventStepBegin:               decodeEvent[StepBegin],
	EventStepInterrupted:         decodeEvent[StepInterrupted],
	EventCompactionBegin:         decodeEvent[CompactionBegin],
	EventCompactionEnd:           decodeEvent[CompactionEnd],
	EventStatusUpdate:            decodeEvent[StatusUpdate],
	EventContentPart:             decodeEvent[ContentPart],
	EventToolCall:                decodeEvent[ToolCall],
	EventToolCallPart:            decodeEvent[ToolCallPart],
	EventToolResult:              decodeEvent[ToolResult],
	EventSubagentEvent:           decodeEvent[SubagentEvent],
	EventApprovalRequestResolved: decodeEvent[ApprovalRequestResolved],
	EventApprovalResponse:        decodeEvent[ApprovalResponse],
}

// Request is a Message pushed by the agent that must be answered.
// The embedded Responder is bound by the transport to the originating
// JSON-RPC id; exactly one Respond call is valid per request.
type Request interface {
	Message
	RequestType() RequestType
	Responder
}

// Responder answers a server-initiated request. The capability closes
// over the request's wire id so the reply round-trips as a result with
// the same id.
type Responder interface {
	Respond(RequestResponse) error
}

// RequestResponse is the closed union of valid request answers.
type RequestResponse interface {
	requestResponse()
}

func (ApprovalResponse) requestResponse() {}
func (ToolResult) requestResponse()       {}

// RequestType discriminates request payloads on the wire.
type RequestType string

const (
	RequestApproval RequestType = "ApprovalRequest"
	RequestToolCall RequestType = "ToolCallRequest"
)

func (ApprovalRequest) RequestType() RequestType { return RequestApproval }
func (ToolCallRequest) RequestType() RequestType { return RequestToolCall }

func decodeRequest[R Request](data []byte) (Request, error) {
	var req R
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return req, nil
}

// requestDecoders is the closed discriminator→decoder table for requests.
var requestDecoders = map[RequestType]func([]byte) (Request, error){
	RequestApproval: decodeRequest[ApprovalRequest],
	RequestToolCall: decodeRequest[ToolCallRequest],
}

// BindResponder attaches the transport's reply capability to a decoded
// request. Requests decode without a Responder (the field is excluded
// from JSON); the transport calls this before emitting the request.
func BindResponder(req Request, r Responder) Request {
	switch q := req.(type) {
	case ApprovalRequest:
		q.Responder = r
		return q
	case ToolCallRequest:
		q.Responder = r
		return q
	default:
		return req
	}
}

// --- Event payloads ---

// TurnBegin opens a turn, echoing the user input that started it.
type TurnBegin struct {
	UserInput Content `json:"user_input"`
}

// TurnEnd closes a turn. Introduced in protocol 1.2; absent on older
// negotiated versions, where stream closure ends the turn instead.
type TurnEnd struct{}

// StepBegin opens reasoning step N. Steps are numbered increasingly;
// a StepBegin implicitly closes the previous step.
type StepBegin struct {
	N int `json:"n"`
}

type (
	StepInterrupted struct{}
	CompactionBegin struct{}
	CompactionEnd   struct{}
)

// StatusUpdate reports incremental usage. Token counts accumulate over
// a turn; context usage and message id are last-write-wins.
type StatusUpdate struct {
	ContextUsage Optional[float64]    `json:"context_usage,omitzero"`
	TokenUsage   Optional[TokenUsage] `json:"token_usage,omitzero"`
	MessageID    Optional[string]     `json:"message_id,omitzero"`
}

// TokenUsage is one increment of token accounting.
type TokenUsage struct {
	InputOther         int `json:"input_other"`
	Output             int `json:"output"`
	InputCacheRead     int `json:"input_cache_read"`
	InputCacheCreation int `json:"input_cache_creation"`
}

// ContentPartType discriminates content part payloads.
type ContentPartType string

const (
	PartText     ContentPartType = "text"
	PartThink    ContentPartType = "think"
	PartImageURL ContentPartType = "image_url"
	PartAudioURL ContentPartType = "audio_url"
	PartVideoURL ContentPartType = "video_url"
)

// ContentPart is one unit of streamed content: text, thinking, or a
// media reference. Exactly one of the optional fields is set, matching
// Type.
type ContentPart struct {
	Type      ContentPartType    `json:"type"`
	Text      Optional[string]   `json:"text,omitzero"`
	Think     Optional[string]   `json:"think,omitzero"`
	Encrypted Optional[string]   `json:"encrypted,omitzero"`
	ImageURL  Optional[MediaURL] `json:"image_url,omitzero"`
	AudioURL  Optional[MediaURL] `json:"audio_url,omitzero"`
	VideoURL  Optional[MediaURL] `json:"video_url,omitzero"`
}

// MediaURL references uploaded or generated media.
type MediaURL struct {
	ID  Optional[string] `json:"id,omitzero"`
	URL string           `json:"url"`
}

// ToolCallType discriminates tool call payloads (function-only today).
type ToolCallType string

const ToolCallFunction ToolCallType = "function"

// ToolCall announces a tool invocation. Arguments may arrive complete
// here or stream in via subsequent ToolCallPart fragments.
type ToolCall struct {
	Type     ToolCallType             `json:"type"`
	ID       string                   `json:"id"`
	Function ToolCallFunc             `json:"function"`
	Extras   Optional[map[string]any] `json:"extras,omitzero"`
}

// ToolCallFunc names the invoked function and its (possibly partial)
// JSON-encoded arguments.
type ToolCallFunc struct {
	Name      string           `json:"name"`
	Arguments Optional[string] `json:"arguments,omitzero"`
}

// ToolCallPart is one streamed fragment of a tool call's arguments.
// Fragments concatenate in arrival order.
type ToolCallPart struct {
	ArgumentsPart Optional[string] `json:"arguments_part,omitzero"`
}

// ToolResult reports a tool invocation's outcome. It doubles as the
// response payload for a ToolCallRequest.
type ToolResult struct {
	ToolCallID  string          `json:"tool_call_id"`
	ReturnValue ToolReturnValue `json:"return_value"`
}

// ToolReturnValue is the structured outcome of a tool call.
type ToolReturnValue struct {
	IsError bool                     `json:"is_error"`
	Output  Content                  `json:"output"`
	Message string                   `json:"message"`
	Display []DisplayBlock           `json:"display"`
	Extras  Optional[map[string]any] `json:"extras,omitzero"`
}

// SubagentEvent wraps a fully recursive nested event produced by a
// sub-agent, tagged by the tool call that spawned it. The router
// surfaces it as a single Message; consumers wanting the nested
// structure recurse into Event themselves.
type SubagentEvent struct {
	TaskToolCallID string      `json:"task_tool_call_id"`
	Event          EventParams `json:"event"`
}

// ApprovalRequestResolved is the pre-1.1 name for ApprovalResponse.
//
// Deprecated: servers emit ApprovalResponse since protocol 1.1; the old
// name is still decoded for backwards compatibility.
type ApprovalRequestResolved struct {
	RequestID string           `json:"request_id"`
	Response  ApprovalDecision `json:"response"`
}

// ApprovalResponse resolves a previously surfaced ApprovalRequest.
// As an event it notifies observers; as a RequestResponse it answers
// the request itself.
type ApprovalResponse struct {
	RequestID string           `json:"request_id"`
	Response  ApprovalDecision `json:"response"`
}

// ApprovalDecision is the host's answer to an approval request.
type ApprovalDecision string

const (
	Approve           ApprovalDecision = "approve"
	ApproveForSession ApprovalDecision = "approve_for_session"
	Reject            ApprovalDecision = "reject"
)

// --- Request payloads ---

// ApprovalRequest asks the host to sign off on a sensitive action
// before the agent proceeds. The turn cannot reach a terminal state
// while it is unanswered.
type ApprovalRequest struct {
	Responder   `json:"-"`
	ID          string         `json:"id"`
	ToolCallID  string         `json:"tool_call_id"`
	Sender      string         `json:"sender"`
	Action      string         `json:"action"`
	Description string         `json:"description"`
	Display     []DisplayBlock `json:"display,omitzero"`
}

// ToolCallRequest asks the host to execute a registered external tool
// and respond with a ToolResult.
type ToolCallRequest struct {
	Responder `json:"-"`
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Arguments Optional[string] `json:"arguments,omitzero"`
}

// --- Content ---

// ContentType discriminates the two wire shapes of Content.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentParts ContentType = "content_parts"
)

// Content is user or tool output: either a bare JSON string or an
// array of content parts. The wire shape is positional (string vs
// array), so Content implements its own JSON codec.
type Content struct {
	Type  ContentType
	Text  Optional[string]
	Parts Optional[[]ContentPart]
}

// NewStringContent wraps plain text as Content.
func NewStringContent(text string) Content {
	return Content{Type: ContentText, Text: Some(text)}
}

// NewContent wraps content parts as Content.
func NewContent(parts ...ContentPart) Content {
	return Content{Type: ContentParts, Parts: Some(parts)}
}

// NewTextContentPart builds a text part.
func NewTextContentPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: Some(text)}
}

// NewImageContentPart builds an image reference part.
func NewImageContentPart(url string) ContentPart {
	return ContentPart{Type: PartImageURL, ImageURL: Some(MediaURL{URL: url})}
}

// NewAudioContentPart builds an audio reference part.
func NewAudioContentPart(url string) ContentPart {
	return ContentPart{Type: PartAudioURL, AudioURL: Some(MediaURL{URL: url})}
}

// NewVideoContentPart builds a video reference part.
func NewVideoContentPart(url string) ContentPart {
	return ContentPart{Type: PartVideoURL, VideoURL: Some(MediaURL{URL: url})}
}

func (c Content) MarshalJSON() ([]byte, error) {
	switch c.Type {
	case ContentText:
		return json.Marshal(c.Text)
	case ContentParts:
		return json.Marshal(c.Parts)
	default:
		return nil, fmt.Errorf("wire: invalid content type %q", c.Type)
	}
}

func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("wire: empty content")
	}
	switch data[0] {
	case '"':
		if err := json.Unmarshal(data, &c.Text); err != nil {
			return err
		}
		c.Type = ContentText
	case '[':
		if err := json.Unmarshal(data, &c.Parts); err != nil {
			return err
		}
		c.Type = ContentParts
	default:
		return fmt.Errorf("wire: content must be a string or an array of parts")
	}
	return nil
}

// --- Display blocks ---

// DisplayBlockType discriminates display payloads on tool results and
// approval requests.
type DisplayBlockType string

const (
	DisplayBrief   DisplayBlockType = "brief"
	DisplayDiff    DisplayBlockType = "diff"
	DisplayTodo    DisplayBlockType = "todo"
	DisplayShell   DisplayBlockType = "shell"
	DisplayUnknown DisplayBlockType = "unknown"
)

// DisplayBlock is one renderable element attached to a tool result or
// approval request. Which optional fields are set depends on Type.
type DisplayBlock struct {
	Type     DisplayBlockType           `json:"type"`
	Text     Optional[string]           `json:"text,omitzero"`
	Path     Optional[string]           `json:"path,omitzero"`
	OldText  Optional[string]           `json:"old_text,omitzero"`
	NewText  Optional[string]           `json:"new_text,omitzero"`
	Items    Optional[[]TodoItem]       `json:"items,omitzero"`
	Data     Optional[DisplayBlockData] `json:"data,omitzero"`
	Language Optional[string]           `json:"language,omitzero"`
	Command  Optional[string]           `json:"command,omitzero"`
}

// TodoStatus is the state of one todo display item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoDone       TodoStatus = "done"
)

// TodoItem is one entry of a todo display block.
type TodoItem struct {
	Title  string     `json:"title"`
	Status TodoStatus `json:"status"`
}

// DisplayBlockDataType discriminates the two wire shapes of
// DisplayBlockData.
type DisplayBlockDataType string

const (
	DisplayDataText   DisplayBlockDataType = "text"
	DisplayDataObject DisplayBlockDataType = "object"
)

// DisplayBlockData is string-or-object display data, positional on the
// wire like Content.
type DisplayBlockData struct {
	Type   DisplayBlockDataType
	Text   Optional[string]
	Object Optional[map[string]any]
}

func (d DisplayBlockData) MarshalJSON() ([]byte, error) {
	switch d.Type {
	case DisplayDataText:
		return json.Marshal(d.Text)
	case DisplayDataObject:
		return json.Marshal(d.Object)
	default:
		return nil, fmt.Errorf("wire: invalid display block data type %q", d.Type)
	}
}

func (d *DisplayBlockData) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("wire: empty display block data")
	}
	switch data[0] {
	case '"':
		if err := json.Unmarshal(data, &d.Text); err != nil {
			return err
		}
		d.Type = DisplayDataText
	case '{':
		if err := json.Unmarshal(data, &d.Object); err != nil {
			return err
		}
		d.Type = DisplayDataObject
	default:
		return fmt.Errorf("wire: display block data must be a string or an object")
	}
	return nil
}
