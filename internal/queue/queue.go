// Package queue is the durable offline message queue: a lock-guarded
// in-memory working set backed by the sqlite message log, with
// delta-maintained statistics, archival eviction, retry sweeps and
// retention cleanup.
//
// The in-memory state is authoritative. A durable write that fails is
// retried by the next flush tick, never allowed to roll back the
// mutation that triggered it; a crash loses at most the mutations since
// the last successful flush.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/omnitak/takcore/internal/bus"
	"github.com/omnitak/takcore/internal/status"
	"github.com/omnitak/takcore/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultWorkingSetCap   = 1000
	DefaultRetentionDays   = 7
	MinRetentionDays       = 1
	MaxRetentionDays       = 30
	DefaultFlushInterval   = time.Minute
	DefaultCleanupInterval = time.Hour
)

var (
	// ErrUnknownUID is returned for operations on a uid not in the
	// working set.
	ErrUnknownUID = errors.New("queue: no message with that uid")

	// ErrInboundRequired is returned when a record would enter received
	// status without being inbound.
	ErrInboundRequired = errors.New("queue: received status requires an inbound message")

	// ErrMissingUID is returned when a record has no protocol uid.
	ErrMissingUID = errors.New("queue: message has no uid")
)

// SendFunc transmits one message's verbatim wire bytes. A nil return
// means the transport accepted the message.
type SendFunc func(ctx context.Context, xml []byte) error

// Config tunes one queue instance.
type Config struct {
	// WorkingSetCap bounds the in-memory working set; overflow is
	// archived, never discarded.
	WorkingSetCap int

	// RetentionDays is the default cleanup window, clamped to [1,30].
	RetentionDays int

	FlushInterval   time.Duration
	CleanupInterval time.Duration

	// ArchiveDir receives the dated archive partitions.
	ArchiveDir string
}

func (c Config) withDefaults() Config {
	if c.WorkingSetCap <= 0 {
		c.WorkingSetCap = DefaultWorkingSetCap
	}
	c.RetentionDays = clampRetention(c.RetentionDays)
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	return c
}

func clampRetention(days int) int {
	switch {
	case days <= 0:
		return DefaultRetentionDays
	case days < MinRetentionDays:
		return MinRetentionDays
	case days > MaxRetentionDays:
		return MaxRetentionDays
	}
	return days
}

// Queue is a single-writer message queue. One mutex serializes every
// mutation, including whole retry sweeps, because the statistics are
// maintained by delta and a sweep must not interleave with cleanup on
// the same record. Reads return copies taken under the same lock; at
// this scale that is cheaper than copy-on-write and just as safe.
type Queue struct {
	cfg    Config
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	mu         sync.Mutex
	messages   []*store.PersistedMessage // insertion order, oldest first
	byUID      map[string]*store.PersistedMessage
	stats      store.Statistics
	dirty      map[string]struct{} // uids awaiting a durable write
	doomed     map[string]struct{} // uids removed from the set whose store rows still need deleting
	statsDirty bool

	flushBusy   atomic.Bool
	cleanupBusy atomic.Bool
	cancel      context.CancelFunc
}

// New loads the working set and statistics from the store.
func New(cfg Config, db *store.DB, b *bus.Bus, logger *zap.Logger) (*Queue, error) {
	cfg = cfg.withDefaults()
	msgs, err := db.ListMessages()
	if err != nil {
		return nil, fmt.Errorf("load working set: %w", err)
	}
	stats, err := db.LoadStatistics()
	if err != nil {
		return nil, fmt.Errorf("load statistics: %w", err)
	}

	q := &Queue{
		cfg:      cfg,
		db:       db,
		bus:      b,
		logger:   logger,
		messages: msgs,
		byUID:    make(map[string]*store.PersistedMessage, len(msgs)),
		stats:    stats,
		dirty:    make(map[string]struct{}),
		doomed:   make(map[string]struct{}),
	}
	for _, m := range msgs {
		q.byUID[m.UID] = m
	}
	return q, nil
}

// Start launches the auto-persist and cleanup timers. Both are
// fire-and-continue: a tick that arrives while the previous run is
// still in flight is skipped, not queued.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	go q.tickLoop(ctx, q.cfg.FlushInterval, &q.flushBusy, func() {
		if err := q.Flush(); err != nil {
			q.logger.Warn("auto-persist failed, will retry next tick", zap.Error(err))
		}
	})
	go q.tickLoop(ctx, q.cfg.CleanupInterval, &q.cleanupBusy, func() {
		if _, err := q.Cleanup(0); err != nil {
			q.logger.Warn("retention cleanup failed", zap.Error(err))
		}
	})
}

// Stop cancels the timers and flushes pending durable writes.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	if err := q.Flush(); err != nil {
		q.logger.Error("final flush failed", zap.Error(err))
	}
}

func (q *Queue) tickLoop(ctx context.Context, interval time.Duration, busy *atomic.Bool, run func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !busy.CompareAndSwap(false, true) {
				continue
			}
			run()
			busy.Store(false)
		case <-ctx.Done():
			return
		}
	}
}

// Save appends a record to the working set. The protocol uid is the
// sole deduplication key: saving a uid that already exists is a no-op,
// so replayed inbound traffic cannot duplicate history.
func (q *Queue) Save(m *store.PersistedMessage) error {
	if m.UID == "" {
		return ErrMissingUID
	}
	if !status.Valid(m.Status) {
		return fmt.Errorf("queue: unknown status %q", m.Status)
	}
	if m.Status == status.Received && m.Direction != status.Inbound {
		return ErrInboundRequired
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byUID[m.UID]; exists {
		return nil
	}

	now := time.Now().UnixMilli()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp == 0 {
		m.Timestamp = now
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}

	q.messages = append(q.messages, m)
	q.byUID[m.UID] = m
	delete(q.doomed, m.UID)
	q.countIn(m.Status)
	q.stats.LastSyncTime = now
	q.persistLocked(m)
	q.evictLocked()
	return nil
}

// UpdateStatus applies one status transition by protocol uid, enforcing
// the monotonicity rules and adjusting the counters by delta.
func (q *Queue) UpdateStatus(uid string, to status.Status) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, ok := q.byUID[uid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUID, uid)
	}
	return q.applyLocked(m, to)
}

func (q *Queue) applyLocked(m *store.PersistedMessage, to status.Status) error {
	if m.Status == to {
		return nil
	}
	if to == status.Received && m.Direction != status.Inbound {
		return ErrInboundRequired
	}
	if err := status.Transition(m.Status, to); err != nil {
		return err
	}

	from := m.Status
	switch from {
	case status.Pending:
		q.stats.PendingMessages--
	case status.Failed:
		q.stats.FailedMessages--
	}
	switch to {
	case status.Pending:
		q.stats.PendingMessages++
	case status.Failed:
		q.stats.FailedMessages++
	case status.Sent:
		q.stats.TotalSent++
	}

	m.Status = to
	q.stats.LastSyncTime = time.Now().UnixMilli()
	q.persistLocked(m)
	q.bus.Emit(bus.KindChatStatus, bus.StatusChange{UID: m.UID, From: string(from), To: string(to)})
	return nil
}

// countIn adjusts the counters for a record entering the working set.
func (q *Queue) countIn(s status.Status) {
	switch s {
	case status.Pending:
		q.stats.PendingMessages++
	case status.Failed:
		q.stats.FailedMessages++
	case status.Sent:
		q.stats.TotalSent++
	case status.Received:
		q.stats.TotalReceived++
	}
}

// countOut adjusts the live counters for a record leaving the working
// set. The monotone totals stay: archived and expired messages were
// still sent or received.
func (q *Queue) countOut(s status.Status) {
	switch s {
	case status.Pending:
		q.stats.PendingMessages--
	case status.Failed:
		q.stats.FailedMessages--
	}
}

// Filter selects records for Query. Zero fields match everything.
type Filter struct {
	Direction status.Direction
	Status    status.Status
	Type      string
	Since     time.Time
}

func (f Filter) match(m *store.PersistedMessage) bool {
	if f.Direction != "" && m.Direction != f.Direction {
		return false
	}
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	if !f.Since.IsZero() && m.Timestamp < f.Since.UnixMilli() {
		return false
	}
	return true
}

// Query returns copies of all matching working-set records, oldest
// first. Archived records are not visible here; read the archive
// partitions directly for those.
func (q *Queue) Query(f Filter) []store.PersistedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []store.PersistedMessage
	for _, m := range q.messages {
		if f.match(m) {
			out = append(out, *m)
		}
	}
	return out
}

// Get returns a copy of one record by protocol uid.
func (q *Queue) Get(uid string) (store.PersistedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.byUID[uid]
	if !ok {
		return store.PersistedMessage{}, false
	}
	return *m, true
}

// Len returns the working-set size.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Statistics returns a copy of the aggregate counters.
func (q *Queue) Statistics() store.Statistics {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// RetryFailed re-sends every failed outbound message through send and
// transitions the successes to sent. Failures stay failed; there is no
// internal backoff, the next explicit retry or reconnect tries again.
func (q *Queue) RetryFailed(ctx context.Context, send SendFunc) (attempted, succeeded int, err error) {
	return q.sweep(ctx, status.Failed, send)
}

// ProcessOfflineQueue is the reconnect path: the same sweep restricted
// to pending outbound messages. A message the transport rejects is
// marked failed so RetryFailed picks it up later.
func (q *Queue) ProcessOfflineQueue(ctx context.Context, send SendFunc) (attempted, succeeded int, err error) {
	return q.sweep(ctx, status.Pending, send)
}

// sweep holds the queue lock for the whole pass so that a concurrent
// sweep or cleanup cannot interleave with a status update on the same
// record. send sees the verbatim stored bytes: the original wire bytes
// are the contract with the network, never a re-encode.
func (q *Queue) sweep(ctx context.Context, from status.Status, send SendFunc) (attempted, succeeded int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range q.messages {
		if m.Direction != status.Outbound || m.Status != from {
			continue
		}
		if ctx.Err() != nil {
			return attempted, succeeded, ctx.Err()
		}
		attempted++
		if sendErr := send(ctx, []byte(m.XMLContent)); sendErr != nil {
			q.logger.Warn("retry send failed", zap.String("uid", m.UID), zap.Error(sendErr))
			if from == status.Pending {
				_ = q.applyLocked(m, status.Failed)
			}
			continue
		}
		if applyErr := q.applyLocked(m, status.Sent); applyErr == nil {
			succeeded++
		}
	}
	return attempted, succeeded, nil
}

// Cleanup removes working-set records older than the retention window.
// retentionDays <= 0 uses the configured default; the window is clamped
// to [1,30] days. Idempotent.
func (q *Queue) Cleanup(retentionDays int) (int, error) {
	days := retentionDays
	if days <= 0 {
		days = q.cfg.RetentionDays
	}
	days = clampRetention(days)
	cutoff := time.Now().AddDate(0, 0, -days).UnixMilli()

	q.mu.Lock()
	defer q.mu.Unlock()

	keep := q.messages[:0]
	var removed []string
	for _, m := range q.messages {
		if m.Timestamp >= cutoff {
			keep = append(keep, m)
			continue
		}
		removed = append(removed, m.UID)
		delete(q.byUID, m.UID)
		delete(q.dirty, m.UID)
		q.countOut(m.Status)
	}
	if len(removed) == 0 {
		return 0, nil
	}
	q.messages = keep
	q.statsDirty = true
	q.deleteFromStoreLocked(removed)

	q.bus.Emit(bus.KindQueueCleanup, len(removed))
	return len(removed), nil
}

// deleteFromStoreLocked removes rows whose records already left the
// working set. On failure the uids join the doomed set and the next
// flush retries; otherwise restart would reload rows the queue no
// longer owns.
func (q *Queue) deleteFromStoreLocked(uids []string) {
	if err := q.db.DeleteMessages(uids); err != nil {
		q.logger.Warn("store deletion failed, deferring to flush",
			zap.Int("records", len(uids)), zap.Error(err))
		for _, uid := range uids {
			q.doomed[uid] = struct{}{}
		}
	}
}

// Flush writes every record that missed its durable write, plus the
// statistics row. Called by the auto-persist timer and at shutdown.
func (q *Queue) Flush() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flushLocked()
}

func (q *Queue) flushLocked() error {
	if len(q.dirty) == 0 && len(q.doomed) == 0 && !q.statsDirty {
		return nil
	}

	var firstErr error

	if len(q.doomed) > 0 {
		uids := make([]string, 0, len(q.doomed))
		for uid := range q.doomed {
			uids = append(uids, uid)
		}
		if err := q.db.DeleteMessages(uids); err != nil {
			firstErr = err
		} else {
			clear(q.doomed)
		}
	}

	wrote := 0
	for uid := range q.dirty {
		m, ok := q.byUID[uid]
		if !ok {
			delete(q.dirty, uid)
			continue
		}
		if err := q.db.UpsertMessage(m); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delete(q.dirty, uid)
		wrote++
	}

	if err := q.db.SaveStatistics(q.stats); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else {
		q.statsDirty = false
	}

	if wrote > 0 {
		q.bus.Emit(bus.KindQueueFlushed, wrote)
	}
	return firstErr
}

// persistLocked attempts the write-through for one record. On failure
// the record joins the dirty set and the in-memory mutation stands.
func (q *Queue) persistLocked(m *store.PersistedMessage) {
	if err := q.db.UpsertMessage(m); err != nil {
		q.logger.Warn("durable write failed, deferring to flush", zap.String("uid", m.UID), zap.Error(err))
		q.dirty[m.UID] = struct{}{}
		q.statsDirty = true
		return
	}
	if err := q.db.SaveStatistics(q.stats); err != nil {
		q.logger.Warn("statistics write failed, deferring to flush", zap.Error(err))
		q.statsDirty = true
	}
}
