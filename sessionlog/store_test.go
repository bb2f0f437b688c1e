package sessionlog

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/agentwire/agentwire/wire"
)

func TestWorkDirKey(t *testing.T) {
	key1, err := WorkDirKey("/some/project")
	if err != nil {
		t.Fatalf("WorkDirKey: %v", err)
	}
	if len(key1) != 16 {
		t.Errorf("expected 16 hex chars, got %q", key1)
	}

	key2, err := WorkDirKey("/some/project")
	if err != nil {
		t.Fatalf("WorkDirKey: %v", err)
	}
	if key1 != key2 {
		t.Errorf("key must be stable: %q vs %q", key1, key2)
	}

	key3, err := WorkDirKey("/some/other")
	if err != nil {
		t.Fatalf("WorkDirKey: %v", err)
	}
	if key1 == key3 {
		t.Error("distinct work dirs must not collide")
	}
}

func TestStore_AppendAndReadBack(t *testing.T) {
	base := t.TempDir()
	work := t.TempDir()

	store, err := Open(base, work, "11111111-1111-1111-1111-111111111111", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	events := []wire.EventParams{
		{Type: wire.EventTurnBegin, Payload: wire.TurnBegin{UserInput: wire.NewStringContent("hi")}},
		{Type: wire.EventStepBegin, Payload: wire.StepBegin{N: 1}},
		{Type: wire.EventTurnEnd, Payload: wire.TurnEnd{}},
	}
	for _, ev := range events {
		if err := store.AppendEvent(ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}
	if err := store.AppendContext(ContextLine{Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendContext: %v", err)
	}

	lines, err := readLines(filepath.Join(store.Dir(), primaryName))
	if err != nil {
		t.Fatalf("readLines: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 primary lines, got %d", len(lines))
	}
	want := []wire.EventType{wire.EventTurnBegin, wire.EventStepBegin, wire.EventTurnEnd}
	for i, line := range lines {
		if lineType(line) != want[i] {
			t.Errorf("line %d: expected %s, got %s", i, want[i], lineType(line))
		}
	}

	ctx, err := readLines(filepath.Join(store.Dir(), secondaryName))
	if err != nil {
		t.Fatalf("readLines: %v", err)
	}
	if len(ctx) != 1 {
		t.Fatalf("expected 1 context line, got %d", len(ctx))
	}
	var cl ContextLine
	if err := json.Unmarshal(ctx[0], &cl); err != nil {
		t.Fatalf("unmarshal context line: %v", err)
	}
	if cl.Role != RoleUser || cl.Content != "hi" {
		t.Errorf("unexpected context line %+v", cl)
	}
}

func TestStore_ReopenAppends(t *testing.T) {
	base := t.TempDir()
	work := t.TempDir()
	const id = "22222222-2222-2222-2222-222222222222"

	store, err := Open(base, work, id, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.AppendEvent(wire.EventParams{Type: wire.EventTurnEnd, Payload: wire.TurnEnd{}}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store, err = Open(base, work, id, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	if err := store.AppendEvent(wire.EventParams{Type: wire.EventTurnEnd, Payload: wire.TurnEnd{}}); err != nil {
		t.Fatalf("AppendEvent after reopen: %v", err)
	}

	lines, err := readLines(filepath.Join(store.Dir(), primaryName))
	if err != nil {
		t.Fatalf("readLines: %v", err)
	}
	if len(lines) != 2 {
		t.Errorf("expected reopen to append, got %d lines", len(lines))
	}
}

func TestWriteLines_Replaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")

	if err := writeLines(path, [][]byte{[]byte(`{"a":1}`), []byte(`{"b":2}`)}); err != nil {
		t.Fatalf("writeLines: %v", err)
	}
	if err := writeLines(path, [][]byte{[]byte(`{"c":3}`)}); err != nil {
		t.Fatalf("writeLines: %v", err)
	}

	lines, err := readLines(path)
	if err != nil {
		t.Fatalf("readLines: %v", err)
	}
	if len(lines) != 1 || string(lines[0]) != `{"c":3}` {
		t.Errorf("expected single replaced line, got %q", lines)
	}
}
