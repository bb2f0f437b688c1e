package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeEnvelope(t *testing.T, data string) EventParams {
	t.Helper()
	var p EventParams
	require.NoError(t, json.Unmarshal([]byte(data), &p))
	return p
}

func TestEventParams_Decode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		typ     EventType
		payload Event
	}{
		{
			name:    "turn begin string input",
			data:    `{"type":"TurnBegin","payload":{"user_input":"hello"}}`,
			typ:     EventTurnBegin,
			payload: TurnBegin{UserInput: NewStringContent("hello")},
		},
		{
			name:    "step begin",
			data:    `{"type":"StepBegin","payload":{"n":3}}`,
			typ:     EventStepBegin,
			payload: StepBegin{N: 3},
		},
		{
			name:    "turn end",
			data:    `{"type":"TurnEnd","payload":{}}`,
			typ:     EventTurnEnd,
			payload: TurnEnd{},
		},
		{
			name: "status update",
			data: `{"type":"StatusUpdate","payload":{"context_usage":0.5,"message_id":"m1"}}`,
			typ:  EventStatusUpdate,
			payload: StatusUpdate{
				ContextUsage: Some(0.5),
				MessageID:    Some("m1"),
			},
		},
		{
			name:    "content part",
			data:    `{"type":"ContentPart","payload":{"type":"text","text":"hi"}}`,
			typ:     EventContentPart,
			payload: NewTextContentPart("hi"),
		},
		{
			name: "tool call",
			data: `{"type":"ToolCall","payload":{"type":"function","id":"c1","function":{"name":"grep","arguments":"{}"}}}`,
			typ:  EventToolCall,
			payload: ToolCall{
				Type:     ToolCallFunction,
				ID:       "c1",
				Function: ToolCallFunc{Name: "grep", Arguments: Some("{}")},
			},
		},
		{
			name: "approval response",
			data: `{"type":"ApprovalResponse","payload":{"request_id":"r1","response":"approve"}}`,
			typ:  EventApprovalResponse,
			payload: ApprovalResponse{
				RequestID: "r1",
				Response:  Approve,
			},
		},
		{
			name: "deprecated approval resolved alias",
			data: `{"type":"ApprovalRequestResolved","payload":{"request_id":"r1","response":"reject"}}`,
			typ:  EventApprovalRequestResolved,
			payload: ApprovalRequestResolved{
				RequestID: "r1",
				Response:  Reject,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := decodeEnvelope(t, tt.data)
			require.Equal(t, tt.typ, p.Type)
			require.Equal(t, tt.payload, p.Payload)
		})
	}
}

func TestEventParams_UnknownType(t *testing.T) {
	var p EventParams
	err := json.Unmarshal([]byte(`{"type":"Bogus","payload":{}}`), &p)
	require.ErrorIs(t, err, ErrUnknownEventType)
}

func TestRequestParams_Decode(t *testing.T) {
	var p RequestParams
	data := `{"type":"ToolCallRequest","payload":{"id":"q1","name":"lookup","arguments":"{\"k\":1}"}}`
	require.NoError(t, json.Unmarshal([]byte(data), &p))
	require.Equal(t, RequestToolCall, p.Type)

	req, ok := p.Payload.(ToolCallRequest)
	require.True(t, ok)
	require.Equal(t, "q1", req.ID)
	require.Equal(t, "lookup", req.Name)
	require.Equal(t, `{"k":1}`, req.Arguments.Value)
}

func TestRequestParams_UnknownType(t *testing.T) {
	var p RequestParams
	err := json.Unmarshal([]byte(`{"type":"Bogus","payload":{}}`), &p)
	require.ErrorIs(t, err, ErrUnknownRequestType)
}

func TestSubagentEvent_Recursive(t *testing.T) {
	data := `{"type":"SubagentEvent","payload":{
		"task_tool_call_id":"task-1",
		"event":{"type":"ContentPart","payload":{"type":"text","text":"nested"}}}}`

	p := decodeEnvelope(t, data)
	se, ok := p.Payload.(SubagentEvent)
	require.True(t, ok)
	require.Equal(t, "task-1", se.TaskToolCallID)

	cp, ok := se.Event.Payload.(ContentPart)
	require.True(t, ok)
	require.Equal(t, "nested", cp.Text.Value)
}

func TestSubagentEvent_DoublyNested(t *testing.T) {
	data := `{"type":"SubagentEvent","payload":{
		"task_tool_call_id":"outer",
		"event":{"type":"SubagentEvent","payload":{
			"task_tool_call_id":"inner",
			"event":{"type":"StepBegin","payload":{"n":1}}}}}}`

	p := decodeEnvelope(t, data)
	outer := p.Payload.(SubagentEvent)
	inner, ok := outer.Event.Payload.(SubagentEvent)
	require.True(t, ok)
	require.Equal(t, "inner", inner.TaskToolCallID)
	require.Equal(t, StepBegin{N: 1}, inner.Event.Payload)
}

func TestContent_StringShape(t *testing.T) {
	var c Content
	require.NoError(t, json.Unmarshal([]byte(`"plain text"`), &c))
	require.Equal(t, ContentText, c.Type)
	require.Equal(t, "plain text", c.Text.Value)

	out, err := json.Marshal(c)
	require.NoError(t, err)
	require.JSONEq(t, `"plain text"`, string(out))
}

func TestContent_PartsShape(t *testing.T) {
	var c Content
	data := `[{"type":"text","text":"a"},{"type":"image_url","image_url":{"url":"https://x/y.png"}}]`
	require.NoError(t, json.Unmarshal([]byte(data), &c))
	require.Equal(t, ContentParts, c.Type)
	require.Len(t, c.Parts.Value, 2)
	require.Equal(t, "https://x/y.png", c.Parts.Value[1].ImageURL.Value.URL)

	out, err := json.Marshal(c)
	require.NoError(t, err)
	require.JSONEq(t, data, string(out))
}

func TestContent_InvalidShape(t *testing.T) {
	var c Content
	require.Error(t, json.Unmarshal([]byte(`42`), &c))
}

func TestDisplayBlockData_Shapes(t *testing.T) {
	var d DisplayBlockData
	require.NoError(t, json.Unmarshal([]byte(`"rendered"`), &d))
	require.Equal(t, DisplayDataText, d.Type)

	require.NoError(t, json.Unmarshal([]byte(`{"k":"v"}`), &d))
	require.Equal(t, DisplayDataObject, d.Type)
	require.Equal(t, "v", d.Object.Value["k"])
}

func TestOptional_NullAndAbsent(t *testing.T) {
	type holder struct {
		A Optional[string] `json:"a,omitzero"`
		B Optional[string] `json:"b,omitzero"`
		C Optional[string] `json:"c,omitzero"`
	}

	var h holder
	require.NoError(t, json.Unmarshal([]byte(`{"a":"x","b":null}`), &h))
	require.True(t, h.A.Valid)
	require.Equal(t, "x", h.A.Value)
	require.False(t, h.B.Valid, "explicit null decodes as absent")
	require.False(t, h.C.Valid)

	out, err := json.Marshal(h)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":"x"}`, string(out))
}

func TestOptional_Accessors(t *testing.T) {
	v, ok := Some(7).Get()
	require.True(t, ok)
	require.Equal(t, 7, v)

	require.Equal(t, 9, None[int]().Or(9))
	require.Equal(t, 7, Some(7).Or(9))
}

func TestTokenUsage_RoundTrip(t *testing.T) {
	data := `{"input_other":10,"output":20,"input_cache_read":30,"input_cache_creation":40}`
	var u TokenUsage
	require.NoError(t, json.Unmarshal([]byte(data), &u))
	require.Equal(t, TokenUsage{InputOther: 10, Output: 20, InputCacheRead: 30, InputCacheCreation: 40}, u)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.1", "1.2", -1},
		{"1.2", "1.2", 0},
		{"1.10", "1.2", 1},
		{"2.0", "1.9", 1},
		{"1", "1.0", 0},
		{"1.2.1", "1.2", 1},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, CompareVersions(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}

func TestMinVersion(t *testing.T) {
	require.Equal(t, "1.1", MinVersion("1.2", "1.1"))
	require.Equal(t, "1.2", MinVersion("1.2", "2.0"))
}

func TestNewRemoteError_CodeMapping(t *testing.T) {
	tests := []struct {
		code int
		kind RemoteErrorKind
	}{
		{4001, RemoteInvalidState},
		{4002, RemoteNoModel},
		{4003, RemoteModelUnsupported},
		{4004, RemoteUpstreamFailure},
		{5000, RemoteUnknown},
	}
	for _, tt := range tests {
		err := NewRemoteError(tt.code, "boom")
		require.Equal(t, tt.kind, err.Kind)
		require.Equal(t, tt.code, err.Code)
		require.Contains(t, err.Error(), "boom")
	}
}

func TestBindResponder(t *testing.T) {
	bound := BindResponder(ToolCallRequest{ID: "q1", Name: "x"}, respondFunc(func(RequestResponse) error { return nil }))
	req, ok := bound.(ToolCallRequest)
	require.True(t, ok)
	require.NotNil(t, req.Responder)
	require.Equal(t, "q1", req.ID)
}

type respondFunc func(RequestResponse) error

func (f respondFunc) Respond(r RequestResponse) error { return f(r) }
