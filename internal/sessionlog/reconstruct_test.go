package sessionlog

import (
	"testing"
)

func assistantLine(text string) string {
	return `{"type":"response_item","payload":{"type":"message","role":"assistant","content":[{"type":"output_text","text":"` + text + `"}]}}`
}

func agentMessageLine(text string) string {
	return `{"type":"event_msg","payload":{"type":"agent_message","message":"` + text + `"}}`
}

func TestReadMessages_UserAssistantPair(t *testing.T) {
	s := newTestStore(t)
	writeSessionFile(t, s, "rollout-basic.jsonl",
		metaLine("basic", "/tmp"),
		userLine("hello"),
		assistantLine("hi there"),
	)

	got := s.ReadMessages("basic", 100)
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d: %+v", len(got), got)
	}
	if got[0].Role != "user" || got[0].Text != "hello" {
		t.Fatalf("user message = %+v", got[0])
	}
	if got[1].Role != "assistant" || got[1].Text != "hi there" {
		t.Fatalf("assistant message = %+v", got[1])
	}
}

func TestReadMessages_UnknownSession(t *testing.T) {
	s := newTestStore(t)
	if got := s.ReadMessages("missing", 10); got != nil {
		t.Fatalf("unknown session must be nil, got %+v", got)
	}
}

func TestReadMessages_CommandFolding(t *testing.T) {
	s := newTestStore(t)
	writeSessionFile(t, s, "rollout-cmd.jsonl",
		metaLine("cmd", "/tmp"),
		userLine("run the tests"),
		`{"type":"response_item","payload":{"type":"function_call","name":"shell_command","call_id":"call_1","arguments":"{\"command\":\"go test ./...\"}"}}`,
		`{"type":"response_item","payload":{"type":"function_call_output","call_id":"call_1","output":"Exit code: 1\nFAIL"}}`,
		assistantLine("one test failed"),
	)

	got := s.ReadMessages("cmd", 100)
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	trace := got[1].Trace
	if len(trace) != 1 {
		t.Fatalf("expected 1 trace entry, got %+v", trace)
	}
	entry := trace[0]
	if entry.Kind != "command" || entry.Tool != "shell_command" || entry.Command != "go test ./..." {
		t.Fatalf("trace entry = %+v", entry)
	}
	if entry.ExitCode == nil || *entry.ExitCode != 1 {
		t.Fatalf("exit code should be parsed from output: %+v", entry)
	}
}

func TestReadMessages_SynthesizesTrailingAssistant(t *testing.T) {
	s := newTestStore(t)
	writeSessionFile(t, s, "rollout-orphan.jsonl",
		metaLine("orphan", "/tmp"),
		userLine("do something"),
		`{"type":"response_item","payload":{"type":"function_call","name":"shell_command","call_id":"c1","arguments":"{\"command\":\"ls\"}"}}`,
		`{"type":"response_item","payload":{"type":"function_call_output","call_id":"c1","output":"Exit code: 0\nREADME.md"}}`,
	)

	got := s.ReadMessages("orphan", 100)
	if len(got) != 2 {
		t.Fatalf("expected synthesized assistant message, got %d: %+v", len(got), got)
	}
	last := got[1]
	if last.Role != "assistant" || last.Text != placeholderAssistantText {
		t.Fatalf("synthesized message = %+v", last)
	}
	if len(last.Trace) != 1 {
		t.Fatalf("synthesized message must carry the trace: %+v", last)
	}
}

func TestReadMessages_AgentMessageDedup(t *testing.T) {
	s := newTestStore(t)
	writeSessionFile(t, s, "rollout-dedup.jsonl",
		metaLine("dedup", "/tmp"),
		userLine("hello"),
		agentMessageLine("same answer"),
		assistantLine("same answer"),
	)

	got := s.ReadMessages("dedup", 100)
	if len(got) != 2 {
		t.Fatalf("duplicate agent_message must collapse: %+v", got)
	}
	if got[1].Text != "same answer" {
		t.Fatalf("assistant text = %q", got[1].Text)
	}
}

func TestReadMessages_AgentMessageFillsEmptyAssistant(t *testing.T) {
	s := newTestStore(t)
	writeSessionFile(t, s, "rollout-fill.jsonl",
		metaLine("fill", "/tmp"),
		userLine("hello"),
		agentMessageLine("fallback text"),
		`{"type":"response_item","payload":{"type":"reasoning","summary":[{"type":"summary_text","text":"**Plan** Think first"}]}}`,
	)

	got := s.ReadMessages("fill", 100)
	if len(got) != 2 {
		t.Fatalf("expected flushed assistant message, got %+v", got)
	}
	if got[1].Text != "fallback text" {
		t.Fatalf("agent_message should supply the text: %+v", got[1])
	}
	if len(got[1].Trace) != 1 || got[1].Trace[0].Kind != "reasoning" || got[1].Trace[0].Title != "Plan" {
		t.Fatalf("reasoning trace = %+v", got[1].Trace)
	}
}

func TestReadMessages_SkipsCorruptLines(t *testing.T) {
	s := newTestStore(t)
	writeSessionFile(t, s, "rollout-corrupt.jsonl",
		metaLine("corrupt", "/tmp"),
		`{"type": not even json`,
		userLine("still here"),
	)

	got := s.ReadMessages("corrupt", 100)
	if len(got) != 1 || got[0].Text != "still here" {
		t.Fatalf("corrupt line should be skipped: %+v", got)
	}
}

func TestReadMessages_LimitKeepsNewest(t *testing.T) {
	s := newTestStore(t)
	writeSessionFile(t, s, "rollout-limit.jsonl",
		metaLine("limit", "/tmp"),
		userLine("first"),
		assistantLine("reply one"),
		userLine("second"),
		assistantLine("reply two"),
	)

	got := s.ReadMessages("limit", 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].Text != "second" || got[1].Text != "reply two" {
		t.Fatalf("limit should keep the newest messages: %+v", got)
	}
}

func TestReadMessages_HarnessBoilerplateDropped(t *testing.T) {
	s := newTestStore(t)
	writeSessionFile(t, s, "rollout-harness.jsonl",
		metaLine("harness", "/tmp"),
		userLine("<environment_context>cwd=/tmp</environment_context>"),
		userLine("real question"),
		assistantLine("answer"),
	)

	got := s.ReadMessages("harness", 100)
	if len(got) != 2 {
		t.Fatalf("boilerplate user message should be dropped: %+v", got)
	}
	if got[0].Text != "real question" {
		t.Fatalf("first kept message = %+v", got[0])
	}
}
