package bus

import "time"

// Event kinds published by the core. Subscribers filter by prefix, so
// "chat." matches every chat event and "" matches everything.
const (
	KindChatMessage  = "chat.message"     // payload *chat.Message (resolved inbound)
	KindChatOutbound = "chat.outbound"    // payload *chat.Message (queued outbound)
	KindChatStatus   = "chat.status"      // payload StatusChange
	KindPresence     = "contact.presence" // payload *cot.Presence

	KindTransportSend = "transport.send" // payload OutboundFrame

	KindQueueFlushed  = "queue.flushed"  // payload int (records written)
	KindQueueArchived = "queue.archived" // payload int (records relocated)
	KindQueueCleanup  = "queue.cleanup"  // payload int (records removed)

	KindIngestError = "ingest.error" // payload string (decode failure description)
)

// Event is one domain event.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// StatusChange reports a message status transition.
type StatusChange struct {
	UID  string
	From string
	To   string
}

// OutboundFrame carries wire bytes for the transport to send, tagged
// with the protocol uid so delivery reports can find the record.
type OutboundFrame struct {
	UID string
	XML []byte
}
