package memory

import (
	"container/list"
	"encoding/json"
	"os"
	"sort"
)

// snapshot is the persisted file layout. Entry order in the cache array is
// not significant; relative recency is reconstructed from access_time on
// load.
type snapshot struct {
	Config  snapshotConfig    `json:"config"`
	Cache   []json.RawMessage `json:"cache"`
	Metrics Metrics           `json:"metrics"`
}

type snapshotConfig struct {
	MaxSize   int     `json:"max_size"`
	Threshold float64 `json:"threshold"`
}

// Persist writes the snapshot synchronously. The write is atomic
// (write-then-rename) and the previous file is kept as a .backup copy.
// Persistence failures never affect the in-memory cache.
func (m *Memory) Persist() error {
	if m.path == "" {
		return nil
	}

	m.mu.Lock()
	out := struct {
		Config  snapshotConfig `json:"config"`
		Cache   []Entry        `json:"cache"`
		Metrics Metrics        `json:"metrics"`
	}{
		Config:  snapshotConfig{MaxSize: m.maxSize, Threshold: m.threshold},
		Cache:   make([]Entry, 0, m.lru.Len()),
		Metrics: m.metrics,
	}
	for elem := m.lru.Front(); elem != nil; elem = elem.Next() {
		out.Cache = append(out.Cache, *elem.Value.(*Entry))
	}
	m.mu.Unlock()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if _, err := os.Stat(m.path); err == nil {
		_ = os.Rename(m.path, m.path+".backup")
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return err
	}

	m.logger.Debug("translation memory persisted", "path", m.path, "entries", len(out.Cache))
	return nil
}

// requestPersist schedules a background snapshot write. Bursts of mutations
// coalesce into a single write.
func (m *Memory) requestPersist() {
	if m.path == "" {
		return
	}
	select {
	case m.persistCh <- struct{}{}:
	default:
	}
}

func (m *Memory) persistLoop() {
	defer m.closedWg.Done()
	for {
		select {
		case <-m.persistCh:
			if err := m.Persist(); err != nil {
				m.logger.Warn("failed to persist translation memory", "error", err)
			}
		case <-m.closeCh:
			return
		}
	}
}

// Close stops the background persister and writes a final snapshot.
func (m *Memory) Close() error {
	if m.path == "" {
		return nil
	}
	close(m.closeCh)
	m.closedWg.Wait()
	if err := m.Persist(); err != nil {
		m.logger.Warn("failed to persist translation memory on close", "error", err)
	}
	return nil
}

// load reads a prior snapshot. A missing or unparseable file leaves the
// cache empty; individual malformed entries are skipped rather than failing
// the whole load. Entries are inserted oldest first so the in-memory LRU
// order matches historical recency.
func (m *Memory) load() {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("failed to read translation memory snapshot", "path", m.path, "error", err)
		}
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		m.logger.Warn("corrupt translation memory snapshot, starting empty", "path", m.path, "error", err)
		return
	}

	if snap.Config.MaxSize > 0 {
		m.maxSize = snap.Config.MaxSize
	}
	if snap.Config.Threshold > 0 {
		m.threshold = snap.Config.Threshold
	}
	m.metrics = snap.Metrics

	entries := make([]*Entry, 0, len(snap.Cache))
	for _, raw := range snap.Cache {
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			m.logger.Warn("skipping malformed cache entry", "error", err)
			continue
		}
		if entry.Source == "" || entry.Translation == "" || entry.TargetLang == "" {
			m.logger.Warn("skipping incomplete cache entry")
			continue
		}
		entries = append(entries, &entry)
	}

	// Newest first: duplicates resolve to the most recent copy and capacity
	// truncation drops the oldest entries.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].AccessTime.After(entries[j].AccessTime)
	})

	m.cache = make(map[string]*list.Element)
	m.lru = list.New()
	for _, entry := range entries {
		k := key(entry.Source, entry.TargetLang, entry.ProviderID)
		if _, dup := m.cache[k]; dup {
			continue
		}
		if m.lru.Len() >= m.maxSize {
			break
		}
		m.cache[k] = m.lru.PushBack(entry)
	}

	m.logger.Info("translation memory loaded", "path", m.path, "entries", m.lru.Len())
}
