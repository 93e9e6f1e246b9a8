package chat

import (
	"time"

	"github.com/omnitak/takcore/internal/status"
)

// Scope tells whether a message addresses everyone or a single contact.
type Scope string

const (
	ScopeGroup  Scope = "group"
	ScopeDirect Scope = "direct"
)

// AttachmentType classifies an attachment carried by a message.
type AttachmentType string

const (
	AttachmentNone  AttachmentType = "none"
	AttachmentImage AttachmentType = "image"
	AttachmentFile  AttachmentType = "file"
)

// Message is a resolved GeoChat message ready for display or queueing.
// ID equals the CoT event uid and is the sole deduplication key.
type Message struct {
	ID                string           `json:"id"`
	ConversationID    string           `json:"conversation_id"`
	SenderID          string           `json:"sender_id"`
	SenderCallsign    string           `json:"sender_callsign"`
	RecipientID       string           `json:"recipient_id,omitempty"`
	RecipientCallsign string           `json:"recipient_callsign,omitempty"`
	Text              string           `json:"text"`
	Timestamp         time.Time        `json:"timestamp"`
	Status            status.Status    `json:"status"`
	Direction         status.Direction `json:"direction"`
	Scope             Scope            `json:"scope"`
	AttachmentType    AttachmentType   `json:"attachment_type"`
	Attachment        *ImageAttachment `json:"attachment,omitempty"`
}

// ImageAttachment describes an image carried alongside a message. Exactly
// one of Base64Data, RemoteURL or LocalPath supplies the content; when
// several are set, encoding prefers them in that order. A bare LocalPath
// is a diagnostic placeholder only: the recipient cannot retrieve it.
type ImageAttachment struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	MIMEType   string `json:"mime_type"`
	FileSize   int64  `json:"file_size"`
	LocalPath  string `json:"local_path,omitempty"`
	Base64Data string `json:"base64_data,omitempty"`
	RemoteURL  string `json:"remote_url,omitempty"`
	ThumbPath  string `json:"thumb_path,omitempty"`
}
