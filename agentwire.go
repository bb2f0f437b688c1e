// Package agentwire is a client SDK for driving a long-running agent
// subprocess over a newline-delimited JSON-RPC 2.0 wire protocol.
//
// The library owns the subprocess lifecycle and rebuilds the agent's
// interleaved output into a strict Turn → Step → Message hierarchy.
//
// # Core Types
//
//   - [Session] — one conversation: prompt queueing, configuration,
//     tool dispatch, log persistence
//   - [Turn] — one prompt→completion round trip, yielding [Step]s
//   - [Step] — one reasoning step, yielding wire messages
//   - [Tool] — a host-side function the agent can call back into,
//     built with [CreateTool]
//   - [SessionOption] — functional options for [NewSession]
//
// The wire vocabulary (events, requests, content) lives in the wire
// package; the subprocess transport in wire/transport; persistent
// session logs in sessionlog; channel middleware in filter.
//
// # Quick Start
//
//	session, err := agentwire.NewSession(agentwire.WithExecutable("agent"))
//	if err != nil { log.Fatal(err) }
//	defer session.Close()
//
//	turn, err := session.Prompt(ctx, wire.NewStringContent("Hello"))
//	if err != nil { log.Fatal(err) }
//	for step := range turn.Steps {
//	    for msg := range step.Messages {
//	        if cp, ok := msg.(wire.ContentPart); ok && cp.Type == wire.PartText {
//	            fmt.Print(cp.Text.Value)
//	        }
//	    }
//	}
//	fmt.Println(turn.Result().Status)
package agentwire
