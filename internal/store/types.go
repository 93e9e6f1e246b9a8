package store

import "github.com/omnitak/takcore/internal/status"

// PersistedMessage is one durable record of the message log. UID is the
// protocol-level CoT event uid and carries a uniqueness constraint: it
// is the sole deduplication key. XMLContent holds the verbatim wire
// bytes; retries and exports replay those bytes, never a re-encode.
type PersistedMessage struct {
	ID         string           `json:"id"`
	UID        string           `json:"uid"`
	Type       string           `json:"type"`
	XMLContent string           `json:"xml_content"`
	Timestamp  int64            `json:"timestamp"` // unix millis
	Lat        float64          `json:"lat"`
	Lon        float64          `json:"lon"`
	Callsign   string           `json:"callsign,omitempty"`
	Status     status.Status    `json:"status"`
	Direction  status.Direction `json:"direction"`
	CreatedAt  int64            `json:"created_at"`
}

// Statistics is the aggregate counter record. TotalSent and
// TotalReceived only ever grow; FailedMessages and PendingMessages track
// the live working set and are maintained by delta on every transition,
// never recomputed by scan.
type Statistics struct {
	TotalSent       int64 `json:"total_sent"`
	TotalReceived   int64 `json:"total_received"`
	FailedMessages  int64 `json:"failed_messages"`
	PendingMessages int64 `json:"pending_messages"`
	LastSyncTime    int64 `json:"last_sync_time"` // unix millis
}
