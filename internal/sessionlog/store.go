package sessionlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

const settingsScanMaxBytes = 2 * 1024 * 1024

// firstUserScanMaxLines caps how deep the listing pass looks for the first
// user message before giving up on a title.
const firstUserScanMaxLines = 500

// Store reads and manages the agent's append-only session logs. The logs
// themselves are owned by the agent; this store only reads them, creates
// empty sessions, and moves deleted ones to a trash directory.
type Store struct {
	Root       string
	TrashDir   string
	Originator string
	CliVersion string

	now func() time.Time
}

func NewStore(root, trashDir string) *Store {
	return &Store{
		Root:       root,
		TrashDir:   trashDir,
		Originator: "codex_bridge",
		now:        time.Now,
	}
}

// ListRecent returns summaries for the most recently modified session logs.
// Synthetic title-generation runs are hidden.
func (s *Store) ListRecent(limit int) []Summary {
	limit = clamp(limit, 1, 200)

	files := s.sessionFiles()
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	results := make([]Summary, 0, limit)
	for _, f := range files {
		if len(results) >= limit {
			break
		}
		if summary, ok := s.readSessionMeta(f.path); ok {
			results = append(results, summary)
		}
	}
	return results
}

// Create writes a fresh session log containing only the meta line. The cwd
// must name an existing directory.
func (s *Store) Create(cwd string) (Summary, error) {
	resolved, err := normalizeCwd(cwd)
	if err != nil {
		return Summary{}, err
	}

	now := s.now().UTC()
	sessionID := uuid.NewString()

	dayDir := filepath.Join(s.Root, now.Format("2006"), now.Format("01"), now.Format("02"))
	if err := os.MkdirAll(dayDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("create sessions dir: %w", err)
	}

	fileName := fmt.Sprintf("rollout-%s-%s.jsonl", now.Format("2006-01-02T15-04-05"), sessionID)
	path := filepath.Join(dayDir, fileName)

	meta := map[string]any{
		"timestamp": now.Format(time.RFC3339),
		"type":      "session_meta",
		"payload": map[string]any{
			"id":          sessionID,
			"timestamp":   now.Format(time.RFC3339),
			"cwd":         resolved,
			"originator":  s.Originator,
			"cli_version": s.CliVersion,
		},
	}
	line, err := json.Marshal(meta)
	if err != nil {
		return Summary{}, fmt.Errorf("encode session meta: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Summary{}, fmt.Errorf("create session file: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return Summary{}, fmt.Errorf("write session meta: %w", err)
	}
	if err := f.Close(); err != nil {
		return Summary{}, fmt.Errorf("close session file: %w", err)
	}

	return Summary{
		ID:         sessionID,
		Title:      buildTitle("", resolved, sessionID),
		CreatedAt:  now,
		Cwd:        resolved,
		Originator: s.Originator,
		CliVersion: s.CliVersion,
	}, nil
}

// Delete moves the session log into the trash directory. Logs are never
// hard-deleted.
func (s *Store) Delete(sessionID string) error {
	path := s.FindSessionFile(sessionID)
	if path == "" {
		return ErrNotFound
	}

	if err := os.MkdirAll(s.TrashDir, 0o755); err != nil {
		return fmt.Errorf("create trash dir: %w", err)
	}

	target := filepath.Join(s.TrashDir, filepath.Base(path))
	if _, err := os.Stat(target); err == nil {
		target = filepath.Join(s.TrashDir,
			fmt.Sprintf("%d-%s", s.now().UnixNano(), filepath.Base(path)))
	}
	if err := os.Rename(path, target); err != nil {
		return fmt.Errorf("move session to trash: %w", err)
	}
	return nil
}

// LatestSettings scans the tail of the log backwards for the most recent
// approval-policy and sandbox values. A missing session returns nil; parse
// trouble degrades to an empty snapshot.
func (s *Store) LatestSettings(sessionID string) *SettingsSnapshot {
	path := s.FindSessionFile(sessionID)
	if path == "" {
		return nil
	}

	tail, err := readTail(path, settingsScanMaxBytes)
	if err != nil {
		log.Printf("sessionlog: read tail of %s: %v", path, err)
		return &SettingsSnapshot{}
	}

	snapshot := &SettingsSnapshot{}
	lines := strings.Split(tail, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if snapshot.ApprovalPolicy != "" && snapshot.Sandbox != "" {
			break
		}
		line := strings.TrimSpace(strings.TrimSuffix(lines[i], "\r"))
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "approval") && !strings.Contains(lower, "sandbox") {
			continue
		}

		var parsed any
		if json.Unmarshal([]byte(line), &parsed) != nil {
			continue
		}
		if snapshot.ApprovalPolicy == "" {
			snapshot.ApprovalPolicy = findStringValue(parsed, "approval_policy", "approvalPolicy")
		}
		if snapshot.Sandbox == "" {
			snapshot.Sandbox = findStringValue(parsed, "sandbox_mode", "sandboxMode", "sandbox")
		}
	}
	return snapshot
}

// FindSessionFile locates a session log by id: filename match first, then a
// pass over each file's meta line.
func (s *Store) FindSessionFile(sessionID string) string {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ""
	}

	files := s.sessionFiles()
	lowered := strings.ToLower(sessionID)
	for _, f := range files {
		if strings.Contains(strings.ToLower(filepath.Base(f.path)), lowered) {
			return f.path
		}
	}

	for _, f := range files {
		if id := metaLineSessionID(f.path); strings.EqualFold(id, sessionID) {
			return f.path
		}
	}
	return ""
}

type sessionFile struct {
	path    string
	modTime time.Time
}

func (s *Store) sessionFiles() []sessionFile {
	var files []sessionFile
	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, sessionFile{path: path, modTime: info.ModTime()})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		log.Printf("sessionlog: scan %s: %v", s.Root, err)
	}
	return files
}

// readSessionMeta parses the meta line plus enough of the log to derive a
// title. ok is false for non-session files and hidden synthetic runs.
func (s *Store) readSessionMeta(path string) (Summary, bool) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, false
	}
	defer f.Close()

	reader := bufio.NewReaderSize(f, 64*1024)
	firstLine, readErr := readLine(reader)
	if strings.TrimSpace(firstLine) == "" {
		return Summary{}, false
	}

	firstUserText := ""
	if readErr == nil {
		firstUserText = firstUserMessage(reader)
	}
	if firstUserText != "" && shouldHideFromListing(firstUserText) {
		return Summary{}, false
	}

	var record logLine
	if json.Unmarshal([]byte(firstLine), &record) != nil || record.Type != "session_meta" {
		return Summary{}, false
	}

	var payload struct {
		ID         string `json:"id"`
		Timestamp  string `json:"timestamp"`
		Cwd        string `json:"cwd"`
		Originator string `json:"originator"`
		CliVersion string `json:"cli_version"`
	}
	if json.Unmarshal(record.Payload, &payload) != nil || strings.TrimSpace(payload.ID) == "" {
		return Summary{}, false
	}

	createdAt := time.Time{}
	if ts, err := time.Parse(time.RFC3339, payload.Timestamp); err == nil {
		createdAt = ts
	}
	if createdAt.IsZero() {
		if info, err := os.Stat(path); err == nil {
			createdAt = info.ModTime().UTC()
		}
	}

	return Summary{
		ID:         payload.ID,
		Title:      buildTitle(firstUserText, payload.Cwd, payload.ID),
		CreatedAt:  createdAt,
		Cwd:        strings.TrimSpace(payload.Cwd),
		Originator: strings.TrimSpace(payload.Originator),
		CliVersion: strings.TrimSpace(payload.CliVersion),
	}, true
}

func firstUserMessage(reader *bufio.Reader) string {
	for i := 0; i < firstUserScanMaxLines; i++ {
		line, err := readLine(reader)
		if line != "" {
			var record logLine
			if json.Unmarshal([]byte(line), &record) == nil && record.Type == "response_item" {
				var header payloadHeader
				if json.Unmarshal(record.Payload, &header) == nil && header.Type == "message" {
					role, text, _, ok := parseMessagePayload(record.Payload)
					if ok && strings.EqualFold(role, "user") {
						if sanitized := sanitizeUserText(text); sanitized != "" {
							return sanitized
						}
					}
				}
			}
		}
		if err != nil {
			return ""
		}
	}
	return ""
}

func metaLineSessionID(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	line, _ := readLine(bufio.NewReaderSize(f, 64*1024))
	var record logLine
	if json.Unmarshal([]byte(line), &record) != nil || record.Type != "session_meta" {
		return ""
	}
	var payload struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(record.Payload, &payload) != nil {
		return ""
	}
	return strings.TrimSpace(payload.ID)
}

// findStringValue walks decoded JSON depth-first for the first non-blank
// string under any of the given keys.
func findStringValue(node any, keys ...string) string {
	switch v := node.(type) {
	case map[string]any:
		for _, key := range keys {
			if raw, ok := v[key]; ok {
				if str, ok := raw.(string); ok && strings.TrimSpace(str) != "" {
					return strings.TrimSpace(str)
				}
			}
		}
		for _, child := range v {
			if found := findStringValue(child, keys...); found != "" {
				return found
			}
		}
	case []any:
		for _, child := range v {
			if found := findStringValue(child, keys...); found != "" {
				return found
			}
		}
	}
	return ""
}

func normalizeCwd(cwd string) (string, error) {
	trimmed := strings.TrimSpace(cwd)
	if trimmed == "" {
		return "", fmt.Errorf("cwd is required")
	}
	full, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid cwd %q: %w", trimmed, err)
	}
	info, err := os.Stat(full)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("working directory does not exist: %s", full)
	}
	return full, nil
}

func readTail(path string, maxBytes int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	offset := info.Size() - maxBytes
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
