package cot

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/omnitak/takcore/internal/chat"
)

// BlobStore materializes inline attachment bytes to local storage. It is
// an external collaborator injected by the caller; the codec itself owns
// no storage. Implementations must be safe for concurrent use.
type BlobStore interface {
	SaveImage(data []byte, filename string) (localPath, thumbPath string, err error)
}

// Decoder decodes CoT events. The zero value is ready to use; it is
// stateless and safe for concurrent use. Blobs, when set, receives
// inline base64 image payloads during chat decoding, the one I/O
// exception to an otherwise pure codec.
type Decoder struct {
	Blobs BlobStore
}

// ChatPayload is the raw extraction of a chat event, before semantic
// resolution. Field values come out of the dialect fallback chains.
type ChatPayload struct {
	EventUID       string
	MessageID      string
	SenderUID      string
	SenderCallsign string
	Chatroom       string
	ChatGroupUID1  string
	Body           string
	Destinations   []string
	Time           time.Time
	Point          Point
	AttachmentType chat.AttachmentType
	Attachment     *chat.ImageAttachment
}

// Dialect fallback chains. Independent TAK implementations disagree on
// element and attribute spellings, so every lookup is an ordered list of
// extractors tried in sequence; the first non-empty result wins. New
// vendor dialects are new list entries, not new control flow.
var (
	chatContainerChain = []func(*Detail) *ChatDetail{
		func(d *Detail) *ChatDetail { return d.Chat },
		func(d *Detail) *ChatDetail { return d.ChatLegacy },
	}

	chatroomChain = []func(*ChatDetail) string{
		func(c *ChatDetail) string { return c.Chatroom },
		func(c *ChatDetail) string { return c.ID },
	}

	senderCallsignChain = []func(*ChatDetail) string{
		func(c *ChatDetail) string { return c.SenderCallsign },
		func(c *ChatDetail) string { return c.Sender },
	}

	senderUIDChain = []func(*Event, *ChatDetail) string{
		func(_ *Event, c *ChatDetail) string {
			if c.Group != nil {
				return c.Group.UID0
			}
			return ""
		},
		func(e *Event, _ *ChatDetail) string {
			if e.Detail != nil && e.Detail.Link != nil {
				return e.Detail.Link.UID
			}
			return ""
		},
		func(e *Event, _ *ChatDetail) string {
			sender, _, ok := ParseCompositeUID(e.UID)
			if !ok {
				return ""
			}
			return sender
		},
	}
)

// imageExtensions is the allow-list of attachment extensions that
// classify as an image. Everything else is a generic file whose content
// is never decoded inline.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// DecodeEvent parses raw CoT XML into the wire event model. It does not
// interpret the detail payload; use DecodeChat for chat semantics.
func (d *Decoder) DecodeEvent(raw []byte) (*Event, error) {
	var ev Event
	if err := xml.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedXML, err)
	}
	if ev.UID == "" {
		return nil, ErrMissingUID
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("%w: event has no type", ErrMalformedXML)
	}
	return &ev, nil
}

// DecodeChat extracts the chat payload of a decoded event. The event
// must be typed as chat; callers should treat ErrNotChat as irrelevant
// traffic and every other error as a protocol problem worth surfacing.
func (d *Decoder) DecodeChat(ev *Event) (*ChatPayload, error) {
	if !ev.IsChat() {
		return nil, ErrNotChat
	}
	if ev.Detail == nil {
		return nil, ErrMissingChatDetail
	}

	container := firstContainer(ev.Detail)
	if container == nil {
		return nil, ErrMissingChatDetail
	}

	remarks := ev.Detail.Remarks
	if remarks == nil {
		return nil, ErrMissingRemarks
	}
	// Tolerate pretty-printed input: surrounding whitespace belongs to
	// the XML layout, not the message.
	body := strings.TrimSpace(remarks.Body)
	if body == "" {
		return nil, ErrEmptyBody
	}

	senderUID := firstNonEmpty(ev, container, senderUIDChain)
	if senderUID == "" {
		return nil, ErrNoSenderUID
	}

	payload := &ChatPayload{
		EventUID:       ev.UID,
		MessageID:      messageID(ev.UID),
		SenderUID:      senderUID,
		SenderCallsign: firstAttr(container, senderCallsignChain),
		Chatroom:       firstAttr(container, chatroomChain),
		Body:           body,
		Time:           ev.Time.Time,
		Point:          ev.Point,
		AttachmentType: chat.AttachmentNone,
	}
	if container.Group != nil {
		payload.ChatGroupUID1 = container.Group.UID1
	}
	if ev.Detail.Marti != nil {
		for _, dest := range ev.Detail.Marti.Dest {
			if dest.Callsign != "" {
				payload.Destinations = append(payload.Destinations, dest.Callsign)
			}
		}
	}
	if fs := ev.Detail.FileShare; fs != nil {
		payload.AttachmentType, payload.Attachment = d.decodeAttachment(fs)
	}
	return payload, nil
}

// Decode is the full inbound path: parse raw XML and, when the event is
// chat-typed, extract its payload. For non-chat events the payload is
// nil and the error is nil.
func (d *Decoder) Decode(raw []byte) (*Event, *ChatPayload, error) {
	ev, err := d.DecodeEvent(raw)
	if err != nil {
		return nil, nil, err
	}
	if !ev.IsChat() {
		return ev, nil, nil
	}
	payload, err := d.DecodeChat(ev)
	if err != nil {
		return ev, nil, err
	}
	return ev, payload, nil
}

// ParseCompositeUID splits a GeoChat composite uid of the form
// GeoChat.<senderUid>.<chatroomOrRecipient>.<messageId>. ok is false
// when the uid does not match that shape.
func ParseCompositeUID(uid string) (senderUID, msgID string, ok bool) {
	parts := strings.Split(uid, ".")
	if len(parts) < 4 || parts[0] != "GeoChat" || parts[1] == "" {
		return "", "", false
	}
	return parts[1], parts[len(parts)-1], true
}

func messageID(uid string) string {
	if _, id, ok := ParseCompositeUID(uid); ok {
		return id
	}
	return uid
}

func (d *Decoder) decodeAttachment(fs *FileShare) (chat.AttachmentType, *chat.ImageAttachment) {
	ext := strings.ToLower(filepath.Ext(fs.Filename))
	if !imageExtensions[ext] {
		return chat.AttachmentFile, nil
	}

	att := &chat.ImageAttachment{
		ID:       uuid.NewString(),
		Filename: fs.Filename,
		MIMEType: fs.MIME,
		FileSize: fs.SizeInBytes,
	}
	switch {
	case strings.HasPrefix(fs.SenderURL, "base64:"):
		att.Base64Data = strings.TrimPrefix(fs.SenderURL, "base64:")
		d.materialize(att)
	case strings.HasPrefix(fs.SenderURL, "local:"):
		// Diagnostic placeholder from the sender; nothing retrievable.
		att.LocalPath = strings.TrimPrefix(fs.SenderURL, "local:")
	case fs.SenderURL != "":
		att.RemoteURL = fs.SenderURL
	}
	return chat.AttachmentImage, att
}

// materialize writes inline image bytes through the injected blob store
// and swaps the payload for the resulting local path. On any failure the
// inline data is kept so the message itself still decodes.
func (d *Decoder) materialize(att *chat.ImageAttachment) {
	if d.Blobs == nil || att.Base64Data == "" {
		return
	}
	data, err := base64.StdEncoding.DecodeString(att.Base64Data)
	if err != nil {
		return
	}
	localPath, thumbPath, err := d.Blobs.SaveImage(data, att.Filename)
	if err != nil {
		return
	}
	att.LocalPath = localPath
	att.ThumbPath = thumbPath
	att.Base64Data = ""
}

func firstContainer(d *Detail) *ChatDetail {
	for _, extract := range chatContainerChain {
		if c := extract(d); c != nil {
			return c
		}
	}
	return nil
}

func firstAttr(c *ChatDetail, chain []func(*ChatDetail) string) string {
	for _, extract := range chain {
		if v := extract(c); v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(ev *Event, c *ChatDetail, chain []func(*Event, *ChatDetail) string) string {
	for _, extract := range chain {
		if v := extract(ev, c); v != "" {
			return v
		}
	}
	return ""
}
