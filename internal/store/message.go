package store

import (
	"strings"
	"time"

	"github.com/omnitak/takcore/internal/status"
)

// UpsertMessage writes a message record (idempotent on uid). Status is
// the only mutable field a replayed upsert may advance.
func (db *DB) UpsertMessage(m *PersistedMessage) error {
	created := m.CreatedAt
	if created == 0 {
		created = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO messages (id, uid, type, xml_content, timestamp, lat, lon, callsign, status, direction, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			status = excluded.status`,
		m.ID, m.UID, m.Type, m.XMLContent, m.Timestamp, m.Lat, m.Lon, m.Callsign, m.Status, m.Direction, created)
	return err
}

// UpdateMessageStatus sets the status column of one record by uid.
func (db *DB) UpdateMessageStatus(uid string, s status.Status) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE uid = ?`, s, uid)
	return err
}

// ListMessages returns the whole working set ordered oldest first. The
// queue loads this once at startup; reads after that are served from
// memory.
func (db *DB) ListMessages() ([]*PersistedMessage, error) {
	rows, err := db.Query(`
		SELECT id, uid, type, xml_content, timestamp, lat, lon, callsign, status, direction, created_at
		FROM messages
		ORDER BY timestamp ASC, created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []*PersistedMessage
	for rows.Next() {
		var m PersistedMessage
		if err := rows.Scan(&m.ID, &m.UID, &m.Type, &m.XMLContent, &m.Timestamp, &m.Lat, &m.Lon, &m.Callsign, &m.Status, &m.Direction, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// DeleteMessages removes records by uid in one statement.
func (db *DB) DeleteMessages(uids []string) error {
	if len(uids) == 0 {
		return nil
	}
	args := make([]any, len(uids))
	for i, uid := range uids {
		args[i] = uid
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(uids)), ",")
	_, err := db.Exec(`DELETE FROM messages WHERE uid IN (`+placeholders+`)`, args...)
	return err
}
