package sessionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/agentwire/agentwire/wire"
)

// Fork copies a stored session into a fresh session id, truncated
// after turnIndex (0-based). The two logs truncate independently:
//
// The primary log keeps every line up to the start of turn
// turnIndex+1, so the fork replays turns 0..turnIndex exactly.
//
// The context log cuts at the start of the (turnIndex+1)-th user line.
// Within the kept prefix, any non-marker lines trailing the last
// assistant line are dropped — a user line without its response would
// desynchronize the forked conversation — while marker lines survive
// unconditionally.
//
// Returns the new session id.
func Fork(baseDir, workDir, sessionID string, turnIndex int) (string, error) {
	if turnIndex < 0 {
		return "", fmt.Errorf("%w: index %d", ErrTurnNotFound, turnIndex)
	}
	srcDir, err := sessionDir(baseDir, workDir, sessionID)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(srcDir); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return "", fmt.Errorf("sessionlog: stat %s: %w", srcDir, err)
	}

	primary, err := readLines(filepath.Join(srcDir, primaryName))
	if err != nil {
		return "", fmt.Errorf("sessionlog: read primary: %w", err)
	}
	keptPrimary, err := truncatePrimary(primary, turnIndex)
	if err != nil {
		return "", err
	}

	secondary, err := readLines(filepath.Join(srcDir, secondaryName))
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("sessionlog: read secondary: %w", err)
	}
	keptSecondary := truncateContext(secondary, turnIndex)

	forkID := uuid.NewString()
	dstDir, err := sessionDir(baseDir, workDir, forkID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", fmt.Errorf("sessionlog: create %s: %w", dstDir, err)
	}
	if err := writeLines(filepath.Join(dstDir, primaryName), keptPrimary); err != nil {
		return "", err
	}
	if err := writeLines(filepath.Join(dstDir, secondaryName), keptSecondary); err != nil {
		return "", err
	}
	return forkID, nil
}

// truncatePrimary keeps lines for turns 0..turnIndex: everything
// before the (turnIndex+2)-th TurnBegin. Fewer than turnIndex+1
// TurnBegins means the requested turn never happened.
func truncatePrimary(lines [][]byte, turnIndex int) ([][]byte, error) {
	turns := 0
	cut := len(lines)
	for i, line := range lines {
		if lineType(line) != wire.EventTurnBegin {
			continue
		}
		turns++
		if turns == turnIndex+2 {
			cut = i
			break
		}
	}
	if turns < turnIndex+1 {
		return nil, fmt.Errorf("%w: index %d, log has %d turns", ErrTurnNotFound, turnIndex, turns)
	}
	return lines[:cut], nil
}

// truncateContext cuts at the start of the (turnIndex+1)-th user line,
// then drops trailing non-marker lines after the last kept assistant
// line.
func truncateContext(lines [][]byte, turnIndex int) [][]byte {
	users := 0
	cut := len(lines)
	parsed := make([]ContextLine, 0, len(lines))
	for i, line := range lines {
		var cl ContextLine
		if err := json.Unmarshal(line, &cl); err != nil {
			cl = ContextLine{}
		}
		if cl.Role == RoleUser && !cl.Marker {
			users++
			if users == turnIndex+2 {
				cut = i
				break
			}
		}
		parsed = append(parsed, cl)
	}

	lastAssistant := -1
	for i := cut - 1; i >= 0; i-- {
		if parsed[i].Role == RoleAssistant && !parsed[i].Marker {
			lastAssistant = i
			break
		}
	}

	kept := make([][]byte, 0, cut)
	for i := 0; i < cut; i++ {
		if i > lastAssistant && !parsed[i].Marker {
			continue
		}
		kept = append(kept, lines[i])
	}
	return kept
}
