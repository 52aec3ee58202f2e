package sessionlog

import (
	"strings"
	"testing"
)

func TestSplitReasoningTitle_Bold(t *testing.T) {
	title, detail := SplitReasoningTitle("**Investigate failure**\nThe test fails because...")
	if title != "Investigate failure" {
		t.Fatalf("title = %q", title)
	}
	if detail != "The test fails because..." {
		t.Fatalf("detail = %q", detail)
	}
}

func TestSplitReasoningTitle_BoldOnly(t *testing.T) {
	// Nothing after the bold span: the detail keeps the full text.
	title, detail := SplitReasoningTitle("**Just a title**")
	if title != "Just a title" {
		t.Fatalf("title = %q", title)
	}
	if detail != "**Just a title**" {
		t.Fatalf("detail = %q", detail)
	}
}

func TestSplitReasoningTitle_FirstLine(t *testing.T) {
	title, detail := SplitReasoningTitle("Short opener\nrest of the text")
	if title != "Short opener" {
		t.Fatalf("title = %q", title)
	}
	if detail != "Short opener\nrest of the text" {
		t.Fatalf("detail = %q", detail)
	}

	long := strings.Repeat("x", 100)
	title, _ = SplitReasoningTitle(long)
	if len([]rune(title)) != 80 || !strings.HasSuffix(title, "…") {
		t.Fatalf("long first line should truncate to 80 runes: %q", title)
	}
}

func TestSplitReasoningTitle_Empty(t *testing.T) {
	if title, detail := SplitReasoningTitle("   "); title != "" || detail != "" {
		t.Fatalf("blank input = (%q, %q)", title, detail)
	}
}

func TestSanitizeUserText_MyRequestExtraction(t *testing.T) {
	raw := "preamble noise\n## My request for Codex\nplease fix the bug\non line two"
	if got := sanitizeUserText(raw); got != "please fix the bug\non line two" {
		t.Fatalf("sanitized = %q", got)
	}
}

func TestSanitizeUserText_Boilerplate(t *testing.T) {
	if got := sanitizeUserText("<instructions>do things</instructions>"); got != "" {
		t.Fatalf("instructions block should be dropped, got %q", got)
	}
	if got := sanitizeUserText("# Context from my IDE setup\n## Active file: a.go"); got != "" {
		t.Fatalf("IDE context should be dropped, got %q", got)
	}
	if got := sanitizeUserText("ordinary message"); got != "ordinary message" {
		t.Fatalf("plain text must pass through, got %q", got)
	}
}

func TestBuildTitle(t *testing.T) {
	if got := buildTitle("fix\n\nthe   bug", "/w", "id"); got != "fix the bug" {
		t.Fatalf("title = %q", got)
	}
	if got := buildTitle("", "/work/dir", "id"); got != "/work/dir" {
		t.Fatalf("cwd fallback = %q", got)
	}
	if got := buildTitle("", "", "session-id"); got != "session-id" {
		t.Fatalf("id fallback = %q", got)
	}

	long := strings.Repeat("word ", 30)
	got := buildTitle(long, "", "id")
	if len([]rune(got)) != 50 || !strings.HasSuffix(got, "…") {
		t.Fatalf("long title should truncate to 50 runes: %q", got)
	}
}
