package queue

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/omnitak/takcore/internal/store"
)

// exportDocument is the on-disk backup format: the full working set
// plus the counters, self-contained like the archive partitions.
type exportDocument struct {
	ExportedAt time.Time                `json:"exported_at"`
	Statistics store.Statistics         `json:"statistics"`
	Messages   []store.PersistedMessage `json:"messages"`
}

// Export writes the working set and statistics to path. The write goes
// through a temp file and rename so a crash never leaves a truncated
// backup.
func (q *Queue) Export(path string) error {
	q.mu.Lock()
	doc := exportDocument{
		ExportedAt: time.Now().UTC(),
		Statistics: q.stats,
		Messages:   make([]store.PersistedMessage, 0, len(q.messages)),
	}
	for _, m := range q.messages {
		doc.Messages = append(doc.Messages, *m)
	}
	q.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize export: %w", err)
	}
	return nil
}

// Import merges records from an export file. A record whose uid already
// exists is skipped, never overwritten: the live record may have
// advanced past the exported status, and a merge must not resurrect the
// stale one. Returns the number of records added.
func (q *Queue) Import(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read import: %w", err)
	}
	var doc exportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("parse import: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	added := 0
	for i := range doc.Messages {
		rec := doc.Messages[i]
		if rec.UID == "" {
			continue
		}
		if _, exists := q.byUID[rec.UID]; exists {
			continue
		}
		m := &rec
		if m.ID == "" {
			m.ID = rec.UID
		}
		q.messages = append(q.messages, m)
		q.byUID[m.UID] = m
		delete(q.doomed, m.UID)
		q.countIn(m.Status)
		q.persistLocked(m)
		added++
	}
	if added > 0 {
		q.stats.LastSyncTime = time.Now().UnixMilli()
		// Merged records can predate the live working set. Eviction
		// archives the head of the slice, so restore chronological
		// order (the same order ListMessages loads) before applying
		// the cap.
		slices.SortStableFunc(q.messages, func(a, b *store.PersistedMessage) int {
			if c := cmp.Compare(a.Timestamp, b.Timestamp); c != 0 {
				return c
			}
			return cmp.Compare(a.CreatedAt, b.CreatedAt)
		})
		q.evictLocked()
	}
	return added, nil
}
