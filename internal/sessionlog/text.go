package sessionlog

import (
	"bufio"
	"strings"
	"unicode"
)

// titleGeneratorPromptPrefix marks synthetic bookkeeping runs: the agent is
// asked to title another session, and the result should never show up as a
// conversation of its own.
const titleGeneratorPromptPrefix = "You are a helpful assistant. You will be presented with a user prompt, and your job is to provide a short title for a task that will be created from that prompt."

const myRequestHeader = "My request for Codex"

// sanitizeUserText strips harness wrapping from a raw user message: if a
// "## My request for Codex" section exists only its body is kept, and pure
// boilerplate (instruction/environment/IDE-context blocks) yields "".
func sanitizeUserText(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	candidate := text
	if extracted := extractMyRequest(text); extracted != "" {
		candidate = extracted
	}
	candidate = strings.TrimSpace(candidate)

	if candidate == "" || looksLikeHarnessBoilerplate(candidate) {
		return ""
	}
	return candidate
}

func extractMyRequest(text string) string {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var sb strings.Builder
	found := false
	for scanner.Scan() {
		line := scanner.Text()
		if !found {
			if isMyRequestHeaderLine(line) {
				found = true
			}
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(line)
	}
	if !found {
		return ""
	}
	return strings.TrimSpace(sb.String())
}

func isMyRequestHeaderLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "##") {
		return false
	}
	title := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
	return hasPrefixFold(title, myRequestHeader)
}

func looksLikeHarnessBoilerplate(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return true
	}
	for _, marker := range []string{
		"agents.md instructions for",
		"<instructions>",
		"</instructions>",
		"<environment_context>",
		"</environment_context>",
		"# context from my ide setup",
		"## active file:",
		"## open tabs:",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func shouldHideFromListing(firstUserText string) bool {
	trimmed := strings.TrimLeftFunc(firstUserText, unicode.IsSpace)
	return hasPrefixFold(trimmed, titleGeneratorPromptPrefix)
}

// buildTitle derives a listing title: the first user message collapsed to one
// line and truncated, else the working directory, else the session id.
func buildTitle(firstUserText, cwd, id string) string {
	if sanitized := sanitizeUserText(firstUserText); sanitized != "" {
		if normalized := normalizeSingleLine(sanitized); normalized != "" {
			return truncateWithEllipsis(normalized, 50)
		}
	}
	if trimmed := strings.TrimSpace(cwd); trimmed != "" {
		return trimmed
	}
	return id
}

func normalizeSingleLine(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	lastWasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !lastWasSpace {
				sb.WriteByte(' ')
				lastWasSpace = true
			}
			continue
		}
		sb.WriteRune(r)
		lastWasSpace = false
	}
	return strings.TrimSpace(sb.String())
}

func truncateWithEllipsis(text string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	if maxChars == 1 {
		return "…"
	}
	return string(runes[:maxChars-1]) + "…"
}

// SplitReasoningTitle separates a reasoning text into a short title and the
// remaining detail. A leading "**bold**" span wins; otherwise the first line
// (truncated to 80 chars) is used and the detail keeps the full text.
func SplitReasoningTitle(text string) (title, detail string) {
	detail = strings.TrimSpace(text)
	if detail == "" {
		return "", ""
	}

	if strings.HasPrefix(detail, "**") {
		if end := strings.Index(detail[2:], "**"); end > 0 {
			title = strings.TrimSpace(detail[2 : 2+end])
			rest := strings.TrimSpace(detail[2+end+2:])
			if rest != "" {
				detail = rest
			}
			return title, detail
		}
	}

	firstLine := detail
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}
	firstLine = strings.TrimSpace(firstLine)
	if firstLine != "" {
		title = truncateWithEllipsis(firstLine, 80)
	}
	return title, detail
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
