package sessionlog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	base := t.TempDir()
	return NewStore(filepath.Join(base, "sessions"), filepath.Join(base, "trash"))
}

func writeSessionFile(t *testing.T, s *Store, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(s.Root, "2025", "06", "01", name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func metaLine(id, cwd string) string {
	return `{"timestamp":"2025-06-01T10:00:00Z","type":"session_meta","payload":{"id":"` + id + `","timestamp":"2025-06-01T10:00:00Z","cwd":"` + cwd + `","originator":"codex_bridge","cli_version":"0.9.0"}}`
}

func userLine(text string) string {
	return `{"type":"response_item","payload":{"type":"message","role":"user","content":[{"type":"input_text","text":"` + text + `"}]}}`
}

func TestListRecent_OrderAndHiding(t *testing.T) {
	s := newTestStore(t)

	older := writeSessionFile(t, s, "rollout-a.jsonl", metaLine("session-a", "/tmp/a"), userLine("fix the parser"))
	newer := writeSessionFile(t, s, "rollout-b.jsonl", metaLine("session-b", "/tmp/b"), userLine("add a cache"))
	writeSessionFile(t, s, "rollout-c.jsonl",
		metaLine("session-c", "/tmp/c"),
		userLine(titleGeneratorPromptPrefix+" Something."))

	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatal(err)
	}
	_ = newer

	got := s.ListRecent(10)
	if len(got) != 2 {
		t.Fatalf("expected 2 sessions (title run hidden), got %d", len(got))
	}
	if got[0].ID != "session-b" || got[1].ID != "session-a" {
		t.Fatalf("expected newest first, got %s then %s", got[0].ID, got[1].ID)
	}
	if got[0].Title != "add a cache" {
		t.Fatalf("title = %q", got[0].Title)
	}
}

func TestListRecent_EmptyRoot(t *testing.T) {
	s := newTestStore(t)
	if got := s.ListRecent(5); len(got) != 0 {
		t.Fatalf("expected no sessions, got %d", len(got))
	}
}

func TestListRecent_TitleFallsBackToCwd(t *testing.T) {
	s := newTestStore(t)
	writeSessionFile(t, s, "rollout-x.jsonl", metaLine("session-x", "/work/proj"))

	got := s.ListRecent(1)
	if len(got) != 1 || got[0].Title != "/work/proj" {
		t.Fatalf("expected cwd title, got %+v", got)
	}
}

func TestCreate(t *testing.T) {
	s := newTestStore(t)
	cwd := t.TempDir()

	summary, err := s.Create(cwd)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if summary.ID == "" {
		t.Fatalf("missing session id")
	}

	path := s.FindSessionFile(summary.ID)
	if path == "" {
		t.Fatalf("created session should be findable")
	}
	if !strings.Contains(filepath.Base(path), summary.ID) {
		t.Fatalf("file name should carry the session id: %s", path)
	}

	listed := s.ListRecent(5)
	if len(listed) != 1 || listed[0].ID != summary.ID {
		t.Fatalf("created session should list: %+v", listed)
	}
}

func TestCreate_InvalidCwd(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create(""); err == nil {
		t.Fatalf("blank cwd should fail")
	}
	if _, err := s.Create(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("nonexistent cwd should fail")
	}
}

func TestDelete_MovesToTrash(t *testing.T) {
	s := newTestStore(t)
	path := writeSessionFile(t, s, "rollout-del.jsonl", metaLine("session-del", "/tmp"))

	if err := s.Delete("session-del"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("original file should be gone")
	}
	if _, err := os.Stat(filepath.Join(s.TrashDir, "rollout-del.jsonl")); err != nil {
		t.Fatalf("file should be in trash: %v", err)
	}

	if err := s.Delete("session-del"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete should be ErrNotFound, got %v", err)
	}
}

func TestFindSessionFile_MetaLineFallback(t *testing.T) {
	s := newTestStore(t)
	// File name does not contain the session id; only the meta line does.
	path := writeSessionFile(t, s, "renamed.jsonl", metaLine("deadbeef", "/tmp"))

	if got := s.FindSessionFile("DEADBEEF"); got != path {
		t.Fatalf("FindSessionFile = %q, want %q", got, path)
	}
	if got := s.FindSessionFile("unknown"); got != "" {
		t.Fatalf("unknown id should not resolve, got %q", got)
	}
}

func TestLatestSettings(t *testing.T) {
	s := newTestStore(t)
	writeSessionFile(t, s, "rollout-set.jsonl",
		metaLine("session-set", "/tmp"),
		`{"type":"event_msg","payload":{"type":"task_started","approval_policy":"never","sandbox_mode":"read-only"}}`,
		`{"type":"event_msg","payload":{"type":"task_started","approval_policy":"on-request"}}`,
	)

	got := s.LatestSettings("session-set")
	if got == nil {
		t.Fatalf("expected a snapshot")
	}
	if got.ApprovalPolicy != "on-request" {
		t.Fatalf("latest approval policy should win: %+v", got)
	}
	if got.Sandbox != "read-only" {
		t.Fatalf("sandbox should come from the older line: %+v", got)
	}

	if s.LatestSettings("missing") != nil {
		t.Fatalf("unknown session should be nil")
	}
}
