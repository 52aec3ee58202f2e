package translate

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"codex-bridge/internal/sessionlog"
)

type fakeTranslator struct {
	calls  atomic.Int32
	result string
	err    error
}

func (f *fakeTranslator) Translate(ctx context.Context, text string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.result, nil
}

func testConfig() Config {
	return Config{
		Enabled:           true,
		TargetLocale:      "zh-CN",
		Model:             "test-model",
		MaxRequestsPerSec: 100,
		MaxConcurrency:    2,
		MaxInputChars:     8000,
	}
}

func newTestService(t *testing.T, client Translator) *Service {
	t.Helper()
	cache := NewCache(filepath.Join(t.TempDir(), "translations.json"))
	return NewService(testConfig(), cache, client)
}

func TestTranslateReasoning_CachesResult(t *testing.T) {
	client := &fakeTranslator{result: "**标题**\n\n正文"}
	s := newTestService(t, client)

	entry, err := s.TranslateReasoning(context.Background(), "**Title**\n\nBody")
	if err != nil {
		t.Fatalf("TranslateReasoning: %v", err)
	}
	if entry == nil || entry.Title != "标题" || entry.Text != "正文" {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.Locale != "zh-CN" || entry.Model != "test-model" || entry.SourceHash == "" {
		t.Fatalf("entry metadata = %+v", entry)
	}

	again, err := s.TranslateReasoning(context.Background(), "**Title**\n\nBody")
	if err != nil || again == nil || again.Text != "正文" {
		t.Fatalf("cached read = (%+v, %v)", again, err)
	}
	if got := client.calls.Load(); got != 1 {
		t.Fatalf("translator should be called once, got %d", got)
	}
}

func TestTranslateReasoning_Disabled(t *testing.T) {
	client := &fakeTranslator{result: "whatever"}
	cfg := testConfig()
	cfg.Enabled = false
	s := NewService(cfg, NewCache(filepath.Join(t.TempDir(), "t.json")), client)

	entry, err := s.TranslateReasoning(context.Background(), "text")
	if entry != nil || err != nil {
		t.Fatalf("disabled service = (%+v, %v)", entry, err)
	}
	if client.calls.Load() != 0 {
		t.Fatalf("translator must not be called when disabled")
	}
}

func TestTranslateReasoning_SkipsOversizedInput(t *testing.T) {
	client := &fakeTranslator{result: "x"}
	cfg := testConfig()
	cfg.MaxInputChars = 10
	s := NewService(cfg, NewCache(filepath.Join(t.TempDir(), "t.json")), client)

	entry, err := s.TranslateReasoning(context.Background(), strings.Repeat("a", 50))
	if entry != nil || err != nil {
		t.Fatalf("oversized input = (%+v, %v)", entry, err)
	}
	if client.calls.Load() != 0 {
		t.Fatalf("translator must not see oversized input")
	}
}

func TestTranslateReasoning_InflightDedup(t *testing.T) {
	client := &fakeTranslator{result: "译文"}
	s := newTestService(t, client)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.TranslateReasoning(context.Background(), "same source"); err != nil {
				t.Errorf("TranslateReasoning: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := client.calls.Load(); got != 1 {
		t.Fatalf("concurrent callers should share one translation, got %d calls", got)
	}
}

func TestTranslateReasoning_ContextCanceled(t *testing.T) {
	client := &fakeTranslator{result: "x"}
	s := newTestService(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.TranslateReasoning(ctx, "some text"); err == nil {
		t.Fatalf("canceled context should surface an error")
	}
}

func TestCache_PersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "translations.json")

	c := NewCache(path)
	c.Upsert("v1:zh-CN:abc", Entry{Locale: "zh-CN", SourceHash: "abc", Text: "译文", RawText: "译文"})

	reloaded := NewCache(path)
	entry, ok := reloaded.Get("v1:zh-CN:abc")
	if !ok || entry.Text != "译文" {
		t.Fatalf("reloaded entry = (%+v, %v)", entry, ok)
	}
}

func TestApplyCachedToTrace(t *testing.T) {
	client := &fakeTranslator{result: "**标题**\n\n正文"}
	s := newTestService(t, client)

	if _, err := s.TranslateReasoning(context.Background(), "**Title**\n\nBody"); err != nil {
		t.Fatalf("seed translation: %v", err)
	}

	entry := &sessionlog.TraceEntry{Kind: "reasoning", Title: "Title", Text: "Body"}
	if !s.ApplyCachedToTrace(entry) {
		t.Fatalf("cached translation should apply")
	}
	if entry.Title != "标题" || entry.Text != "正文" {
		t.Fatalf("trace entry = %+v", entry)
	}

	miss := &sessionlog.TraceEntry{Kind: "reasoning", Title: "Other", Text: "Thing"}
	if s.ApplyCachedToTrace(miss) {
		t.Fatalf("uncached text must not apply")
	}
	if s.ApplyCachedToTrace(&sessionlog.TraceEntry{Kind: "command"}) {
		t.Fatalf("non-reasoning entries are ignored")
	}
}
