// Package sessionlog persists agent conversations on disk. Each
// (work dir, session id) pair owns a directory holding two append-only
// line-JSON files: the primary event log, one wire event envelope per
// line, and the secondary context log of user/assistant text with
// checkpoint markers. Line-oriented JSON keeps the logs replayable and
// greppable, and makes forking a prefix-truncation operation.
package sessionlog

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/agentwire/agentwire/wire"
)

const (
	primaryName   = "events.jsonl"
	secondaryName = "context.jsonl"
)

// Sentinel errors.
var (
	ErrSessionNotFound = errors.New("sessionlog: session not found")
	ErrTurnNotFound    = errors.New("sessionlog: turn not found")
)

// WorkDirKey derives the stable directory key for a work dir: the
// first 16 hex characters of the BLAKE3 hash of its absolute path.
func WorkDirKey(workDir string) (string, error) {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return "", fmt.Errorf("sessionlog: resolve work dir: %w", err)
	}
	sum := blake3.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:16], nil
}

// workDirRoot returns baseDir/<WorkDirKey(workDir)>.
func workDirRoot(baseDir, workDir string) (string, error) {
	key, err := WorkDirKey(workDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(baseDir, key), nil
}

// sessionDir returns the directory for one session.
func sessionDir(baseDir, workDir, sessionID string) (string, error) {
	root, err := workDirRoot(baseDir, workDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, sessionID), nil
}

// ContextLine is one entry of the secondary log. Marker lines record
// non-conversational checkpoints (compaction boundaries) and survive
// truncation during Fork.
type ContextLine struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Marker  bool   `json:"marker,omitempty"`
}

// Context log roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Store appends to one session's logs. Not safe for concurrent use;
// the session serializes writes through its pump goroutine.
type Store struct {
	dir       string
	primary   *os.File
	secondary *os.File
	logger    *zap.Logger
}

// Open creates (or reopens) the log directory for a session and opens
// both files for appending.
func Open(baseDir, workDir, sessionID string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir, err := sessionDir(baseDir, workDir, sessionID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sessionlog: create %s: %w", dir, err)
	}

	primary, err := os.OpenFile(filepath.Join(dir, primaryName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: open primary: %w", err)
	}
	secondary, err := os.OpenFile(filepath.Join(dir, secondaryName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = primary.Close()
		return nil, fmt.Errorf("sessionlog: open secondary: %w", err)
	}

	return &Store{dir: dir, primary: primary, secondary: secondary, logger: logger}, nil
}

// Dir returns the session's log directory.
func (s *Store) Dir() string {
	return s.dir
}

// AppendEvent appends one event envelope to the primary log.
func (s *Store) AppendEvent(ev wire.EventParams) error {
	return appendLine(s.primary, ev)
}

// AppendContext appends one line to the secondary log.
func (s *Store) AppendContext(line ContextLine) error {
	return appendLine(s.secondary, line)
}

func appendLine(f *os.File, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sessionlog: marshal: %w", err)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("sessionlog: append: %w", err)
	}
	return nil
}

// Close flushes and closes both log files. Idempotent in effect:
// closing twice returns the second close's error, which callers ignore.
func (s *Store) Close() error {
	err := s.primary.Close()
	if serr := s.secondary.Close(); serr != nil && err == nil {
		err = serr
	}
	return err
}

// readLines loads a line-JSON file as raw lines, dropping blanks.
func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines [][]byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("sessionlog: read %s: %w", path, err)
	}
	return lines, nil
}

// writeLines atomically replaces path with the given lines.
func writeLines(path string, lines [][]byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("sessionlog: write %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := w.Write(line); err != nil {
			_ = f.Close()
			return fmt.Errorf("sessionlog: write %s: %w", path, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			_ = f.Close()
			return fmt.Errorf("sessionlog: write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sessionlog: flush %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sessionlog: close %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

// lineType extracts the event discriminator from a primary log line
// without decoding the payload.
func lineType(line []byte) wire.EventType {
	var head struct {
		Type wire.EventType `json:"type"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return ""
	}
	return head.Type
}
