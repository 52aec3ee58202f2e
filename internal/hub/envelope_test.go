package hub

import "testing"

func TestDecode_Valid(t *testing.T) {
	raw := []byte(`{"protocolVersion":1,"type":"command","name":"chat.send","id":"c1","ts":"2025-06-01T10:00:00Z","data":{"sessionId":"s1","text":"hi"}}`)
	env, ok := Decode(raw)
	if !ok {
		t.Fatalf("expected a valid envelope")
	}
	if env.Name != "chat.send" || env.Type != TypeCommand || env.ID != "c1" {
		t.Fatalf("envelope = %+v", env)
	}
	if env.Data["text"] != "hi" {
		t.Fatalf("data = %+v", env.Data)
	}
}

func TestDecode_DropsUnrecognizedShapes(t *testing.T) {
	cases := []string{
		`not json at all`,
		`{"type":"command","name":"x"}`,
		`{"protocolVersion":2,"type":"command","name":"x"}`,
		`{"protocolVersion":1,"type":"weird","name":"x"}`,
		`{"protocolVersion":1,"type":"command","name":"  "}`,
		`[1,2,3]`,
	}
	for _, raw := range cases {
		if _, ok := Decode([]byte(raw)); ok {
			t.Fatalf("should have been dropped: %s", raw)
		}
	}
}

func TestNewEvent_RoundTrip(t *testing.T) {
	env := NewEvent("run.started", map[string]any{"sessionId": "s1"})
	decoded, ok := Decode(env.Encode())
	if !ok {
		t.Fatalf("own events must decode")
	}
	if decoded.Type != TypeEvent || decoded.Name != "run.started" || decoded.ID == "" {
		t.Fatalf("decoded = %+v", decoded)
	}
}
