package translate

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one cached translation, keyed by locale and source hash. The
// cache file lives outside the sessions root so session logs stay pristine.
type Entry struct {
	Locale     string    `json:"locale"`
	SourceHash string    `json:"sourceHash"`
	Title      string    `json:"title,omitempty"`
	Text       string    `json:"text"`
	RawText    string    `json:"rawText"`
	Model      string    `json:"model,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type cacheFile struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// Cache is a durable keyed translation store backed by a JSON file.
type Cache struct {
	mu       sync.Mutex
	filePath string
	file     cacheFile
}

func NewCache(filePath string) *Cache {
	c := &Cache{
		filePath: filePath,
		file:     cacheFile{Version: 1, Entries: make(map[string]Entry)},
	}
	c.load()
	return c
}

func (c *Cache) Get(key string) (Entry, bool) {
	if key == "" {
		return Entry{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.file.Entries[key]
	return entry, ok
}

func (c *Cache) Upsert(key string, entry Entry) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.file.Entries[key] = entry
	if err := c.save(); err != nil {
		log.Printf("translate: save cache failed: %v", err)
	}
}

func (c *Cache) load() {
	data, err := os.ReadFile(c.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("translate: read cache failed, starting empty: %v", err)
		}
		return
	}
	if len(data) == 0 {
		return
	}

	var parsed cacheFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		log.Printf("translate: parse cache failed, starting empty: %v", err)
		return
	}
	if parsed.Entries == nil {
		parsed.Entries = make(map[string]Entry)
	}
	if parsed.Version == 0 {
		parsed.Version = 1
	}
	c.file = parsed
}

func (c *Cache) save() error {
	if dir := filepath.Dir(c.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(c.file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}
