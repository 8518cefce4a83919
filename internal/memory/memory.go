// Package memory implements the translation memory: a bounded LRU cache of
// prior translations keyed by (source text, target language, provider) with
// exact and fuzzy lookup, hit/miss metrics, and a persisted JSON snapshot.
package memory

import (
	"container/list"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"
)

const (
	DefaultMaxSize   = 1000
	DefaultThreshold = 0.8

	// Texts longer than this many runes are never fuzzy-matched; the O(n·L²)
	// scan cost is not worth it and near-duplicates of long documents are
	// rare anyway.
	maxFuzzyRunes = 1000
)

// Entry is one cached translation. The key fields (Source, TargetLang,
// ProviderID) are immutable after creation; Translation, AccessTime and
// AccessCount are refreshed on overwrite.
type Entry struct {
	Source      string    `json:"source"`
	Translation string    `json:"translation"`
	TargetLang  string    `json:"target_lang"`
	ProviderID  string    `json:"provider_id"`
	AccessTime  time.Time `json:"access_time"`

	// AccessCount is informational and not part of the snapshot contract.
	AccessCount int `json:"-"`
}

// Metrics holds process-wide lookup counters. TotalTime is cumulative lookup
// time in seconds, matching the snapshot file's total_time field.
type Metrics struct {
	Hits         int     `json:"hits"`
	Misses       int     `json:"misses"`
	FuzzyHits    int     `json:"fuzzy_hits"`
	TotalLookups int     `json:"total_lookups"`
	TotalTime    float64 `json:"total_time"`
}

// Stats is a point-in-time snapshot of the cache for display.
type Stats struct {
	Metrics
	HitRate       float64
	AvgLookupTime float64
	Size          int
	MaxSize       int
}

// Options configures a Memory. Zero values fall back to defaults; an empty
// Path disables persistence entirely.
type Options struct {
	MaxSize   int
	Threshold float64
	Path      string
	Logger    *slog.Logger
}

// Memory is the translation memory. All operations are safe for concurrent
// use; mutations and the LRU reordering done by lookups are serialized
// through one mutex. The front of the list is the most recently used entry.
type Memory struct {
	mu      sync.Mutex
	cache   map[string]*list.Element
	lru     *list.List
	maxSize int

	threshold float64
	path      string
	metrics   Metrics
	logger    *slog.Logger

	persistCh chan struct{}
	closeCh   chan struct{}
	closedWg  sync.WaitGroup
}

// New creates a Memory and best-effort loads a prior snapshot from
// opts.Path. A missing or corrupt snapshot file yields an empty cache,
// never an error.
func New(opts Options) *Memory {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Memory{
		cache:     make(map[string]*list.Element),
		lru:       list.New(),
		maxSize:   opts.MaxSize,
		threshold: opts.Threshold,
		path:      opts.Path,
		logger:    opts.Logger,
		persistCh: make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
	}

	if m.path != "" {
		m.load()
		m.closedWg.Add(1)
		go m.persistLoop()
	}
	return m
}

// key builds the composite cache key. Source text is NFC-normalized and
// trimmed so that visually identical inputs share an entry; a NUL separator
// keeps colon-bearing source text from colliding with the language fields.
func key(source, targetLang, providerID string) string {
	return normalizeText(source) + "\x00" + targetLang + "\x00" + providerID
}

func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}

// LookupExact returns the cached translation for the exact key, refreshing
// its LRU position. O(1) amortized.
func (m *Memory) LookupExact(source, targetLang, providerID string) (string, bool) {
	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.recordLookup(start)

	elem, ok := m.cache[key(source, targetLang, providerID)]
	if !ok {
		m.metrics.Misses++
		return "", false
	}

	m.lru.MoveToFront(elem)
	entry := elem.Value.(*Entry)
	entry.AccessTime = time.Now()
	entry.AccessCount++
	m.metrics.Hits++
	return entry.Translation, true
}

// LookupFuzzy scans entries sharing (targetLang, providerID) and returns the
// best match with normalized Levenshtein similarity >= threshold (a score
// exactly equal to the threshold is accepted). Pass threshold <= 0 to use
// the memory's configured default.
//
// The scan walks the LRU list from most to least recently used and a later
// candidate must beat the current best strictly, so equal scores resolve to
// the more recently used entry. O(n·L) in cache size and text length; callers
// should use it only as a fallback after an exact miss.
func (m *Memory) LookupFuzzy(source, targetLang, providerID string, threshold float64) (string, float64, bool) {
	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.recordLookup(start)

	if threshold <= 0 {
		threshold = m.threshold
	}

	normalized := normalizeText(source)
	if len([]rune(normalized)) > maxFuzzyRunes {
		m.metrics.Misses++
		return "", 0, false
	}

	var bestTranslation string
	bestScore := 0.0
	matched := false

	for elem := m.lru.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*Entry)
		if entry.TargetLang != targetLang || entry.ProviderID != providerID {
			continue
		}

		// Length pre-filter: if the length difference alone rules out the
		// threshold, skip the edit-distance computation.
		if !lengthsMayMatch(normalized, entry.Source, threshold) {
			continue
		}

		score := stringSimilarity(normalized, entry.Source)
		if score >= threshold && score > bestScore {
			bestScore = score
			bestTranslation = entry.Translation
			matched = true
		}
	}

	if !matched {
		m.metrics.Misses++
		return "", 0, false
	}
	m.metrics.FuzzyHits++
	return bestTranslation, bestScore, true
}

// Store inserts or overwrites an entry. An existing key is refreshed in
// place; a new key may evict the least recently used entry so that the cache
// never exceeds its configured size.
func (m *Memory) Store(source, targetLang, providerID, translation string) {
	m.mu.Lock()

	k := key(source, targetLang, providerID)
	now := time.Now()

	if elem, ok := m.cache[k]; ok {
		entry := elem.Value.(*Entry)
		entry.Translation = translation
		entry.AccessTime = now
		entry.AccessCount++
		m.lru.MoveToFront(elem)
	} else {
		if m.lru.Len() >= m.maxSize {
			m.evictOldest()
		}
		entry := &Entry{
			Source:      normalizeText(source),
			Translation: translation,
			TargetLang:  targetLang,
			ProviderID:  providerID,
			AccessTime:  now,
			AccessCount: 1,
		}
		m.cache[k] = m.lru.PushFront(entry)
	}

	m.mu.Unlock()
	m.requestPersist()
}

// evictOldest removes the back of the LRU list. Caller holds the lock.
func (m *Memory) evictOldest() {
	last := m.lru.Back()
	if last == nil {
		return
	}
	entry := last.Value.(*Entry)
	delete(m.cache, key(entry.Source, entry.TargetLang, entry.ProviderID))
	m.lru.Remove(last)
	m.logger.Debug("evicted translation memory entry",
		"target_lang", entry.TargetLang, "provider", entry.ProviderID)
}

// Stats returns a snapshot of the metrics.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	lookups := m.metrics.TotalLookups
	if lookups < 1 {
		lookups = 1
	}
	return Stats{
		Metrics:       m.metrics,
		HitRate:       float64(m.metrics.Hits+m.metrics.FuzzyHits) / float64(lookups),
		AvgLookupTime: m.metrics.TotalTime / float64(lookups),
		Size:          m.lru.Len(),
		MaxSize:       m.maxSize,
	}
}

// Entries returns a copy of all entries, most recently used first.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]Entry, 0, m.lru.Len())
	for elem := m.lru.Front(); elem != nil; elem = elem.Next() {
		entries = append(entries, *elem.Value.(*Entry))
	}
	return entries
}

// Size returns the current number of entries.
func (m *Memory) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

// Clear empties the cache, resets metrics, and persists the cleared state
// synchronously.
func (m *Memory) Clear() {
	m.mu.Lock()
	m.cache = make(map[string]*list.Element)
	m.lru.Init()
	m.metrics = Metrics{}
	m.mu.Unlock()

	if err := m.Persist(); err != nil {
		m.logger.Warn("failed to persist cleared cache", "error", err)
	}
}

// recordLookup accumulates lookup timing. Caller holds the lock.
func (m *Memory) recordLookup(start time.Time) {
	m.metrics.TotalLookups++
	m.metrics.TotalTime += time.Since(start).Seconds()
}
