package sessionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentwire/agentwire/wire"
)

// Info describes one stored session.
type Info struct {
	SessionID string
	WorkDir   string // as given to List, not recovered from the hash
	Brief     string
	UpdatedAt time.Time
	Path      string
}

// List returns the stored sessions for a work dir, newest first.
// Directories that are not uuid-named, have an empty primary log, or
// yield no brief are skipped: they are either foreign files or
// sessions that never received a prompt.
func List(baseDir, workDir string) ([]Info, error) {
	root, err := workDirRoot(baseDir, workDir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sessionlog: list %s: %w", root, err)
	}

	var infos []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := uuid.Parse(entry.Name()); err != nil {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		brief, ok := extractBrief(filepath.Join(dir, primaryName))
		if !ok {
			continue
		}
		fi, err := os.Stat(filepath.Join(dir, primaryName))
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			SessionID: entry.Name(),
			WorkDir:   workDir,
			Brief:     brief,
			UpdatedAt: fi.ModTime(),
			Path:      dir,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos, nil
}

// Delete removes one session's log directory.
func Delete(baseDir, workDir, sessionID string) error {
	dir, err := sessionDir(baseDir, workDir, sessionID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return fmt.Errorf("sessionlog: stat %s: %w", dir, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("sessionlog: delete %s: %w", dir, err)
	}
	return nil
}

// attachmentTags matches media wrapper markup embedded in user input.
// The wrappers carry upload metadata, not prose, so briefs strip them.
var attachmentTags = regexp.MustCompile(
	`(?s)<upload[^>]*>.*?</upload>|<document[^>]*>.*?</document>|<image[^>]*>.*?</image>`)

// extractBrief pulls the display brief from a primary log: the user
// text of the first TurnBegin, with attachment markup removed. Returns
// false when the log holds no usable first turn.
func extractBrief(primaryPath string) (string, bool) {
	lines, err := readLines(primaryPath)
	if err != nil {
		return "", false
	}
	for _, line := range lines {
		if lineType(line) != wire.EventTurnBegin {
			continue
		}
		var env struct {
			Payload wire.TurnBegin `json:"payload"`
		}
		if err := json.Unmarshal(line, &env); err != nil {
			return "", false
		}
		brief := strings.TrimSpace(attachmentTags.ReplaceAllString(contentText(env.Payload.UserInput), ""))
		return brief, brief != ""
	}
	return "", false
}

// contentText flattens Content to its textual parts.
func contentText(c wire.Content) string {
	switch c.Type {
	case wire.ContentText:
		return c.Text.Value
	case wire.ContentParts:
		var b strings.Builder
		for _, part := range c.Parts.Value {
			if part.Type == wire.PartText {
				b.WriteString(part.Text.Value)
			}
		}
		return b.String()
	default:
		return ""
	}
}
