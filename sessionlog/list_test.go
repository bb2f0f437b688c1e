package sessionlog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agentwire/agentwire/wire"
)

// seedSession stores one session with the given first-turn input and
// primary log mtime.
func seedSession(t *testing.T, base, work string, input wire.Content, mtime time.Time) string {
	t.Helper()
	id := uuid.NewString()
	store, err := Open(base, work, id, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	err = store.AppendEvent(wire.EventParams{Type: wire.EventTurnBegin, Payload: wire.TurnBegin{UserInput: input}})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	dir := store.Dir()
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := os.Chtimes(filepath.Join(dir, primaryName), mtime, mtime); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	return id
}

func TestList_NewestFirst(t *testing.T) {
	base := t.TempDir()
	work := t.TempDir()
	now := time.Now()

	older := seedSession(t, base, work, wire.NewStringContent("older"), now.Add(-time.Hour))
	newer := seedSession(t, base, work, wire.NewStringContent("newer"), now)

	infos, err := List(base, work)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(infos))
	}
	if infos[0].SessionID != newer || infos[1].SessionID != older {
		t.Errorf("expected newest first, got %s then %s", infos[0].SessionID, infos[1].SessionID)
	}
	if infos[0].Brief != "newer" {
		t.Errorf("expected brief %q, got %q", "newer", infos[0].Brief)
	}
	if infos[0].WorkDir != work {
		t.Errorf("expected work dir %q, got %q", work, infos[0].WorkDir)
	}
}

func TestList_SkipsForeignAndEmpty(t *testing.T) {
	base := t.TempDir()
	work := t.TempDir()

	id := seedSession(t, base, work, wire.NewStringContent("keep"), time.Now())

	root, err := workDirRoot(base, work)
	if err != nil {
		t.Fatal(err)
	}
	// Not uuid-named: skipped.
	if err := os.MkdirAll(filepath.Join(root, "not-a-session"), 0o755); err != nil {
		t.Fatal(err)
	}
	// Empty log: session opened but never prompted.
	empty, err := Open(base, work, uuid.NewString(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := empty.Close(); err != nil {
		t.Fatal(err)
	}

	infos, err := List(base, work)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 || infos[0].SessionID != id {
		t.Fatalf("expected only the prompted session, got %+v", infos)
	}
}

func TestList_StripsAttachmentMarkup(t *testing.T) {
	base := t.TempDir()
	work := t.TempDir()

	input := wire.NewStringContent(`<upload name="a.txt">base64junk</upload> summarize the file <image src="x">pixels</image>`)
	seedSession(t, base, work, input, time.Now())

	infos, err := List(base, work)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected 1 session, got %d", len(infos))
	}
	if infos[0].Brief != "summarize the file" {
		t.Errorf("expected markup stripped, got %q", infos[0].Brief)
	}
}

func TestList_MarkupOnlyInputSkipped(t *testing.T) {
	base := t.TempDir()
	work := t.TempDir()

	seedSession(t, base, work, wire.NewStringContent(`<document name="d">blob</document>`), time.Now())

	infos, err := List(base, work)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("expected empty-brief session skipped, got %+v", infos)
	}
}

func TestList_NoRoot(t *testing.T) {
	infos, err := List(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if infos != nil {
		t.Errorf("expected nil for unknown work dir, got %+v", infos)
	}
}

func TestDelete(t *testing.T) {
	base := t.TempDir()
	work := t.TempDir()

	id := seedSession(t, base, work, wire.NewStringContent("bye"), time.Now())

	if err := Delete(base, work, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	infos, err := List(base, work)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("expected no sessions after delete, got %+v", infos)
	}

	if err := Delete(base, work, id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}
