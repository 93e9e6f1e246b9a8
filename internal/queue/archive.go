package queue

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/omnitak/takcore/internal/bus"
	"github.com/omnitak/takcore/internal/store"
	"go.uber.org/zap"
)

// evictLocked relocates the oldest contiguous block of the working set
// to a dated archive partition when the cap is exceeded. Records leave
// the working set only after the archive write succeeds: eviction
// relocates data, it never loses it.
func (q *Queue) evictLocked() {
	over := len(q.messages) - q.cfg.WorkingSetCap
	if over <= 0 {
		return
	}

	victims := q.messages[:over]
	if err := q.writeArchive(victims); err != nil {
		q.logger.Error("archive write failed, keeping overflow in working set", zap.Error(err))
		return
	}

	uids := make([]string, len(victims))
	for i, m := range victims {
		uids[i] = m.UID
		delete(q.byUID, m.UID)
		delete(q.dirty, m.UID)
		q.countOut(m.Status)
	}
	q.messages = append(make([]*store.PersistedMessage, 0, len(q.messages)-over), q.messages[over:]...)
	q.statsDirty = true
	q.deleteFromStoreLocked(uids)

	q.logger.Info("archived working-set overflow", zap.Int("records", over))
	q.bus.Emit(bus.KindQueueArchived, over)
}

// writeArchive appends records to today's partition as JSON lines. Each
// line is a complete self-contained record, so a partition stays
// readable without the live store or its schema version.
func (q *Queue) writeArchive(victims []*store.PersistedMessage) error {
	if err := os.MkdirAll(q.cfg.ArchiveDir, 0700); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	path := filepath.Join(q.cfg.ArchiveDir, ArchiveName(time.Now()))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open archive partition: %w", err)
	}

	enc := json.NewEncoder(f)
	for _, m := range victims {
		if err := enc.Encode(m); err != nil {
			_ = f.Close()
			return fmt.Errorf("append archive record: %w", err)
		}
	}
	return f.Close()
}

// ArchiveName returns the partition file name for a given day.
func ArchiveName(t time.Time) string {
	return "archive-" + t.UTC().Format("2006-01-02") + ".jsonl"
}

// ReadArchive loads every record of one partition in original order.
func ReadArchive(path string) ([]store.PersistedMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var msgs []store.PersistedMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m store.PersistedMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("archive record %d: %w", len(msgs)+1, err)
		}
		msgs = append(msgs, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}
