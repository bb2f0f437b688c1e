package agentwire

import "errors"

// Sentinel errors for session operations.
var (
	// ErrSessionClosed indicates the session has been closed and no
	// longer accepts prompts.
	ErrSessionClosed = errors.New("agentwire: session closed")

	// ErrDuplicateTool indicates two registered tools share a wire name.
	ErrDuplicateTool = errors.New("agentwire: duplicate tool name")
)
