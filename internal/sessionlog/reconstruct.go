package sessionlog

import (
	"bufio"
	"encoding/json"
	"log"
	"os"
	"strconv"
	"strings"
)

const placeholderAssistantText = "(no output)"

// maxLineBytes bounds a single log line; agent output with embedded images
// can run to several megabytes.
const maxLineBytes = 16 * 1024 * 1024

type logLine struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

type payloadHeader struct {
	Type string `json:"type"`
}

// ReadMessages reconstructs the conversation for a session. It returns nil
// when no log exists for the id; corrupt lines are skipped.
func (s *Store) ReadMessages(sessionID string, limit int) []Message {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	limit = clamp(limit, 1, 2000)

	path := s.FindSessionFile(sessionID)
	if path == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		log.Printf("sessionlog: open %s: %v", path, err)
		return []Message{}
	}
	defer f.Close()

	messages := make([]Message, 0, min(limit, 128))
	var traceBuffer []TraceEntry
	traceByCallID := make(map[string]int)
	pendingAgentMessage := ""

	push := func(m Message) {
		if len(messages) >= limit {
			messages = messages[1:]
		}
		messages = append(messages, m)
	}

	takeTrace := func() []TraceEntry {
		if len(traceBuffer) == 0 {
			return nil
		}
		out := traceBuffer
		traceBuffer = nil
		traceByCallID = make(map[string]int)
		return out
	}

	// A run that ends without assistant text must not orphan its trace.
	flushPending := func() {
		if pendingAgentMessage == "" && len(traceBuffer) == 0 {
			return
		}
		text := strings.TrimSpace(pendingAgentMessage)
		if text == "" {
			text = placeholderAssistantText
		}
		push(Message{Role: "assistant", Text: text, Trace: takeTrace()})
		pendingAgentMessage = ""
	}

	reader := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := readLine(reader)
		if line != "" {
			s.foldLine(line, &traceBuffer, traceByCallID, &pendingAgentMessage, push, takeTrace, flushPending)
		}
		if err != nil {
			break
		}
	}

	flushPending()
	return messages
}

// foldLine applies one log record to the reconstruction state.
func (s *Store) foldLine(
	line string,
	traceBuffer *[]TraceEntry,
	traceByCallID map[string]int,
	pendingAgentMessage *string,
	push func(Message),
	takeTrace func() []TraceEntry,
	flushPending func(),
) {
	var record logLine
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return
	}

	switch record.Type {
	case "event_msg":
		var header payloadHeader
		if json.Unmarshal(record.Payload, &header) != nil {
			return
		}
		switch header.Type {
		case "agent_reasoning":
			var p struct {
				Text string `json:"text"`
			}
			if json.Unmarshal(record.Payload, &p) == nil {
				if entry, ok := reasoningTraceEntry(p.Text); ok {
					*traceBuffer = append(*traceBuffer, entry)
				}
			}
		case "agent_message":
			var p struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(record.Payload, &p) == nil && strings.TrimSpace(p.Message) != "" {
				*pendingAgentMessage = p.Message
			}
		}

	case "response_item":
		var header payloadHeader
		if json.Unmarshal(record.Payload, &header) != nil {
			return
		}
		switch header.Type {
		case "message":
			role, text, images, ok := parseMessagePayload(record.Payload)
			if !ok {
				return
			}
			s.foldMessage(role, text, images, traceBuffer, pendingAgentMessage, push, takeTrace, flushPending)

		case "reasoning":
			for _, summary := range parseReasoningSummaries(record.Payload) {
				if entry, ok := reasoningTraceEntry(summary); ok {
					*traceBuffer = append(*traceBuffer, entry)
				}
			}

		case "function_call":
			var p struct {
				Name      string `json:"name"`
				CallID    string `json:"call_id"`
				Arguments string `json:"arguments"`
			}
			if json.Unmarshal(record.Payload, &p) != nil || strings.TrimSpace(p.Name) == "" {
				return
			}
			entry := TraceEntry{
				Kind:    "command",
				Tool:    p.Name,
				Command: commandLabel(p.Name, p.Arguments),
				Status:  "completed",
			}
			*traceBuffer = append(*traceBuffer, entry)
			if callID := strings.TrimSpace(p.CallID); callID != "" {
				traceByCallID[callID] = len(*traceBuffer) - 1
			}

		case "function_call_output":
			var p struct {
				CallID string `json:"call_id"`
				Output string `json:"output"`
			}
			if json.Unmarshal(record.Payload, &p) != nil {
				return
			}
			callID := strings.TrimSpace(p.CallID)
			if callID == "" {
				return
			}
			if idx, ok := traceByCallID[callID]; ok && idx < len(*traceBuffer) {
				entry := &(*traceBuffer)[idx]
				entry.Output = strings.TrimSpace(p.Output)
				entry.ExitCode = parseExitCode(p.Output)
				entry.Status = "completed"
			}
		}
	}
}

func (s *Store) foldMessage(
	role, text string,
	images []string,
	traceBuffer *[]TraceEntry,
	pendingAgentMessage *string,
	push func(Message),
	takeTrace func() []TraceEntry,
	flushPending func(),
) {
	isUser := strings.EqualFold(role, "user")
	isAssistant := strings.EqualFold(role, "assistant")
	hasImages := len(images) > 0
	hasTrace := isAssistant && len(*traceBuffer) > 0

	if strings.TrimSpace(text) == "" && !hasImages && !hasTrace {
		return
	}

	switch {
	case isUser:
		flushPending()
		sanitized := sanitizeUserText(text)
		if sanitized == "" && !hasImages {
			return
		}
		push(Message{Role: "user", Text: sanitized, Images: images})

	case isAssistant:
		// An agent_message event carrying identical text is the same
		// message seen twice, not a second message.
		if strings.TrimSpace(text) == "" && !hasImages && strings.TrimSpace(*pendingAgentMessage) != "" {
			text = *pendingAgentMessage
		}
		*pendingAgentMessage = ""

		if strings.TrimSpace(text) == "" && hasTrace && !hasImages {
			text = placeholderAssistantText
		}
		push(Message{Role: "assistant", Text: text, Images: images, Trace: takeTrace()})
	}
}

func reasoningTraceEntry(text string) (TraceEntry, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return TraceEntry{}, false
	}
	title, detail := SplitReasoningTitle(trimmed)
	return TraceEntry{Kind: "reasoning", Title: title, Text: detail}, true
}

func parseMessagePayload(payload json.RawMessage) (role, text string, images []string, ok bool) {
	var p struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if json.Unmarshal(payload, &p) != nil || strings.TrimSpace(p.Role) == "" || len(p.Content) == 0 {
		return "", "", nil, false
	}
	text, images = extractContent(p.Content)
	if strings.TrimSpace(text) == "" && len(images) == 0 {
		return "", "", nil, false
	}
	return p.Role, text, images, true
}

// extractContent handles the three content shapes the agent writes: a bare
// string, a single object, or an array of text/image parts.
func extractContent(content json.RawMessage) (string, []string) {
	var asString string
	if json.Unmarshal(content, &asString) == nil {
		return asString, nil
	}

	var asObject map[string]json.RawMessage
	if json.Unmarshal(content, &asObject) == nil {
		text := stringField(asObject, "text")
		var images []string
		if url := dataURLFromImage(asObject); url != "" {
			images = []string{url}
		}
		return text, images
	}

	var asArray []map[string]json.RawMessage
	if json.Unmarshal(content, &asArray) != nil {
		return "", nil
	}

	var sb strings.Builder
	var images []string
	for _, item := range asArray {
		part := stringField(item, "text")
		if part == "" {
			if url := dataURLFromImage(item); url != "" {
				images = append(images, url)
			}
			continue
		}
		normalized := strings.TrimSpace(part)
		if strings.EqualFold(normalized, "<image>") || strings.EqualFold(normalized, "</image>") {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(part)
	}
	return sb.String(), images
}

func dataURLFromImage(item map[string]json.RawMessage) string {
	candidate := ""
	if raw, ok := item["image_url"]; ok {
		var asString string
		if json.Unmarshal(raw, &asString) == nil {
			candidate = asString
		} else {
			var asObject map[string]json.RawMessage
			if json.Unmarshal(raw, &asObject) == nil {
				candidate = stringField(asObject, "url")
			}
		}
	} else {
		candidate = stringField(item, "url")
	}

	candidate = strings.TrimSpace(candidate)
	if !hasPrefixFold(candidate, "data:image/") {
		return ""
	}
	return candidate
}

func stringField(obj map[string]json.RawMessage, key string) string {
	raw, ok := obj[key]
	if !ok {
		return ""
	}
	var value string
	if json.Unmarshal(raw, &value) != nil {
		return ""
	}
	return value
}

func parseReasoningSummaries(payload json.RawMessage) []string {
	var p struct {
		Summary []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"summary"`
	}
	if json.Unmarshal(payload, &p) != nil {
		return nil
	}
	var out []string
	for _, item := range p.Summary {
		if item.Type != "summary_text" || strings.TrimSpace(item.Text) == "" {
			continue
		}
		out = append(out, item.Text)
	}
	return out
}

func commandLabel(tool, arguments string) string {
	switch {
	case strings.EqualFold(tool, "shell_command"):
		var args struct {
			Command string `json:"command"`
		}
		if json.Unmarshal([]byte(arguments), &args) == nil && strings.TrimSpace(args.Command) != "" {
			return args.Command
		}
		return "shell_command"
	case strings.EqualFold(tool, "apply_patch"):
		return "apply_patch"
	default:
		return tool
	}
}

// parseExitCode reads "Exit code: N" from the first line of captured output.
func parseExitCode(output string) *int {
	firstLine := output
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}
	firstLine = strings.TrimSpace(firstLine)

	const prefix = "Exit code:"
	if !hasPrefixFold(firstLine, prefix) {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(firstLine[len(prefix):]))
	if err != nil {
		return nil
	}
	return &value
}

func readLine(r *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		chunk, err := r.ReadString('\n')
		sb.WriteString(chunk)
		if err != nil || strings.HasSuffix(chunk, "\n") {
			line := strings.TrimRight(sb.String(), "\r\n")
			if len(line) > maxLineBytes {
				line = ""
			}
			return line, err
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
