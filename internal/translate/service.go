package translate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"codex-bridge/internal/sessionlog"
)

const cacheKeyVersion = "v1"

// Translator performs the actual external translation call. The network
// client is provided by the embedding application.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

type Config struct {
	Enabled           bool
	TargetLocale      string
	Model             string
	MaxRequestsPerSec int
	MaxConcurrency    int64
	MaxInputChars     int
}

// Service wraps a Translator with caching, in-flight deduplication, a token
// bucket rate limit, and a concurrency cap. Excess callers queue on the
// limiter and are released when their context ends.
type Service struct {
	cfg      Config
	cache    *Cache
	client   Translator
	limiter  *rate.Limiter
	sem      *semaphore.Weighted
	inflight singleflight.Group
	now      func() time.Time
}

func NewService(cfg Config, cache *Cache, client Translator) *Service {
	rps := cfg.MaxRequestsPerSec
	if rps <= 0 {
		rps = 1
	}
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{
		cfg:     cfg,
		cache:   cache,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		sem:     semaphore.NewWeighted(concurrency),
		now:     time.Now,
	}
}

func (s *Service) Enabled() bool {
	return s.cfg.Enabled &&
		s.client != nil &&
		strings.TrimSpace(s.cfg.TargetLocale) != "" &&
		strings.TrimSpace(s.cfg.Model) != ""
}

// CachedReasoning looks up a previously translated reasoning text without
// triggering a new translation.
func (s *Service) CachedReasoning(sourceRaw string) (Entry, bool) {
	if !s.Enabled() {
		return Entry{}, false
	}
	key, _, ok := s.sourceKey(sourceRaw)
	if !ok {
		return Entry{}, false
	}
	return s.cache.Get(key)
}

// ApplyCachedToTrace swaps a reasoning trace entry's title and text for their
// cached translation, if one exists.
func (s *Service) ApplyCachedToTrace(entry *sessionlog.TraceEntry) bool {
	if entry == nil || !strings.EqualFold(entry.Kind, "reasoning") {
		return false
	}
	if strings.TrimSpace(entry.Title) == "" && strings.TrimSpace(entry.Text) == "" {
		return false
	}

	cached, ok := s.CachedReasoning(buildRawText(entry.Title, entry.Text))
	if !ok {
		return false
	}
	entry.Title = cached.Title
	entry.Text = cached.Text
	return true
}

// TranslateReasoning returns the translation for a reasoning text, from
// cache when possible. Concurrent calls for the same source share one
// in-flight translation. A nil entry with nil error means translation was
// skipped (disabled, blank, or oversized input).
func (s *Service) TranslateReasoning(ctx context.Context, sourceRaw string) (*Entry, error) {
	if !s.Enabled() {
		return nil, nil
	}
	key, sourceHash, ok := s.sourceKey(sourceRaw)
	if !ok {
		return nil, nil
	}
	if cached, ok := s.cache.Get(key); ok {
		return &cached, nil
	}
	if s.cfg.MaxInputChars > 0 && len(sourceRaw) > s.cfg.MaxInputChars {
		return nil, nil
	}

	result, err, _ := s.inflight.Do(key, func() (any, error) {
		return s.translateAndCache(ctx, key, sourceHash, sourceRaw)
	})
	if err != nil {
		return nil, err
	}
	entry, _ := result.(*Entry)
	return entry, nil
}

func (s *Service) translateAndCache(ctx context.Context, key, sourceHash, sourceRaw string) (*Entry, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	translated, err := s.client.Translate(ctx, sourceRaw)
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}
	if strings.TrimSpace(translated) == "" {
		return nil, nil
	}

	title, detail := sessionlog.SplitReasoningTitle(translated)
	entry := Entry{
		Locale:     strings.TrimSpace(s.cfg.TargetLocale),
		SourceHash: sourceHash,
		Title:      title,
		Text:       detail,
		RawText:    buildRawText(title, detail),
		Model:      strings.TrimSpace(s.cfg.Model),
		CreatedAt:  s.now().UTC(),
	}
	s.cache.Upsert(key, entry)
	return &entry, nil
}

// sourceKey canonicalizes a reasoning text into its cache key: the version,
// the target locale, and a hash over the split title and detail.
func (s *Service) sourceKey(sourceRaw string) (key, sourceHash string, ok bool) {
	if strings.TrimSpace(sourceRaw) == "" {
		return "", "", false
	}

	title, detail := sessionlog.SplitReasoningTitle(sourceRaw)
	title = strings.TrimSpace(title)
	detail = strings.TrimSpace(detail)
	if title == "" && detail == "" {
		return "", "", false
	}

	locale := strings.TrimSpace(s.cfg.TargetLocale)
	if locale == "" {
		return "", "", false
	}

	sum := sha256.Sum256([]byte(title + "\n\n" + detail))
	sourceHash = hex.EncodeToString(sum[:])
	return fmt.Sprintf("%s:%s:%s", cacheKeyVersion, locale, sourceHash), sourceHash, true
}

// buildRawText reassembles a canonical raw form from title and detail so a
// translated entry round-trips through the same key derivation.
func buildRawText(title, text string) string {
	detail := strings.TrimSpace(text)
	title = strings.TrimSpace(title)

	switch {
	case title == "":
		return detail
	case detail == "":
		return "**" + title + "**"
	default:
		return "**" + title + "**\n\n" + detail
	}
}
