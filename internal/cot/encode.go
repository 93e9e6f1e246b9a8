package cot

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/omnitak/takcore/internal/chat"
)

// GroupChatroom is the sentinel chatroom this implementation emits for
// group messages. It is the spelling every mainstream TAK client
// recognizes; the decoder accepts several others (see chat.ClassifyScope).
const GroupChatroom = "All Chat Rooms"

const (
	// DefaultChatTTL is how long a chat event stays fresh. Chat messages
	// are ephemeral advisories, not persistent state.
	DefaultChatTTL = time.Hour

	// DefaultPositionTTL is how long a position report stays fresh.
	DefaultPositionTTL = 2 * time.Minute
)

// remarksSourcePrefix prefixes the remarks source attribute, matching
// the convention receivers use to recognize the producing application.
const remarksSourcePrefix = "BAO.F.OmniTAK."

// Identity names the local operator.
type Identity struct {
	UID      string
	Callsign string
}

// Location is a sender position for outbound encoding.
type Location struct {
	Lat float64
	Lon float64
	HAE float64
	CE  float64
	LE  float64
}

// Recipient addresses a direct message.
type Recipient struct {
	UID      string
	Callsign string
}

// SendRequest describes an outbound chat message.
type SendRequest struct {
	// MessageID is the final segment of the composite uid. Generated
	// when empty.
	MessageID string

	Sender Identity

	// Location is the sender position. Nil encodes the documented
	// unknown defaults: 0,0 with ce=le=999999.
	Location *Location

	// Recipient is nil for group scope.
	Recipient *Recipient

	Text       string
	Attachment *chat.ImageAttachment

	// TTL overrides the stale interval. Zero means DefaultChatTTL.
	TTL time.Duration

	// Now overrides the event timestamp, for tests. Zero means time.Now.
	Now time.Time
}

// BuildChatEvent assembles the wire event for a send request without
// serializing it.
//
// The uid takes the composite form GeoChat.<senderUid>.<chatroomOrRecipient>.<messageId>
// so that receivers which extract sender identity from the uid alone can
// still resolve it. Group messages omit the marti destination block:
// its absence tells the server to fan out to all contacts.
func BuildChatEvent(req SendRequest) (*Event, error) {
	if req.Sender.UID == "" {
		return nil, ErrNoSenderIdentity
	}
	if req.Text == "" {
		return nil, ErrEmptyMessage
	}
	if req.Recipient != nil && req.Recipient.UID == "" && req.Recipient.Callsign == "" {
		return nil, ErrNoRecipient
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = DefaultChatTTL
	}
	msgID := req.MessageID
	if msgID == "" {
		msgID = uuid.NewString()
	}

	chatroom := GroupChatroom
	addressee := GroupChatroom // uid segment + chatgrp uid1 + remarks "to"
	if req.Recipient != nil {
		chatroom = req.Recipient.Callsign
		addressee = req.Recipient.UID
		if addressee == "" {
			addressee = req.Recipient.Callsign
		}
		// A uid-only recipient still needs a non-empty chatroom: an
		// empty one reads as group scope on the receiving side.
		if chatroom == "" {
			chatroom = req.Recipient.UID
		}
	}

	ev := &Event{
		Version: "2.0",
		UID:     fmt.Sprintf("GeoChat.%s.%s.%s", req.Sender.UID, addressee, msgID),
		Type:    TypeChat,
		Time:    Time{now},
		Start:   Time{now},
		Stale:   Time{now.Add(ttl)},
		How:     "h-g-i-g-o",
		Point:   pointFor(req.Location),
		Detail: &Detail{
			Chat: &ChatDetail{
				ID:             addressee,
				Chatroom:       chatroom,
				SenderCallsign: req.Sender.Callsign,
				Parent:         "RootContactGroup",
				GroupOwner:     "false",
				Group: &ChatGroup{
					UID0: req.Sender.UID,
					UID1: addressee,
					ID:   addressee,
				},
			},
			Link: &Link{
				UID:      req.Sender.UID,
				Type:     TypeSelfPLI,
				Relation: "p-p",
			},
			Remarks: &Remarks{
				Source: remarksSourcePrefix + req.Sender.UID,
				To:     addressee,
				Time:   now.UTC().Format(timeLayout),
				Body:   req.Text,
			},
		},
	}

	if req.Recipient != nil {
		ev.Detail.Marti = &Marti{Dest: []Dest{{Callsign: chatroom}}}
	}
	if req.Attachment != nil {
		ev.Detail.FileShare = fileShareFor(req.Attachment, req.Sender)
	}
	return ev, nil
}

// EncodeChat serializes a send request to CoT XML. It returns the bytes
// to hand to the transport and the built event (whose UID the caller
// records as the message identity).
func EncodeChat(req SendRequest) ([]byte, *Event, error) {
	ev, err := BuildChatEvent(req)
	if err != nil {
		return nil, nil, err
	}
	raw, err := Marshal(ev)
	if err != nil {
		return nil, nil, err
	}
	return raw, ev, nil
}

// PositionRequest describes an outbound self position report.
type PositionRequest struct {
	Sender   Identity
	Location *Location
	Team     string
	Role     string
	Track    *Track
	Battery  int
	TTL      time.Duration
	Now      time.Time
}

// EncodePosition serializes a PLI self-report. The event uid is the
// sender uid itself: position reports supersede each other rather than
// accumulate.
func EncodePosition(req PositionRequest) ([]byte, *Event, error) {
	if req.Sender.UID == "" {
		return nil, nil, ErrNoSenderIdentity
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = DefaultPositionTTL
	}

	ev := &Event{
		Version: "2.0",
		UID:     req.Sender.UID,
		Type:    TypeSelfPLI,
		Time:    Time{now},
		Start:   Time{now},
		Stale:   Time{now.Add(ttl)},
		How:     "m-g",
		Point:   pointFor(req.Location),
		Detail: &Detail{
			Contact: &Contact{Callsign: req.Sender.Callsign},
			Group:   &Group{Name: req.Team, Role: req.Role},
			TakV:    &TakVersion{Platform: "OmniTAK", Version: "1.0"},
			Track:   req.Track,
		},
	}
	if req.Battery > 0 {
		ev.Detail.Status = &StatusDetail{Battery: req.Battery}
	}

	raw, err := Marshal(ev)
	if err != nil {
		return nil, nil, err
	}
	return raw, ev, nil
}

// Marshal serializes an event with the XML declaration. encoding/xml
// entity-escapes all attribute and character data, which is what keeps
// message bodies containing & < > " ' well-formed on the wire.
func Marshal(ev *Event) ([]byte, error) {
	body, err := xml.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

func pointFor(loc *Location) Point {
	if loc == nil {
		return Point{CE: UnknownAccuracy, LE: UnknownAccuracy}
	}
	return Point{Lat: loc.Lat, Lon: loc.Lon, HAE: loc.HAE, CE: loc.CE, LE: loc.LE}
}

func fileShareFor(att *chat.ImageAttachment, sender Identity) *FileShare {
	fs := &FileShare{
		Filename:       att.Filename,
		Name:           att.Filename,
		SizeInBytes:    att.FileSize,
		MIME:           att.MIMEType,
		SenderUID:      sender.UID,
		SenderCallsign: sender.Callsign,
	}
	// Content source precedence: inline base64, then a retrievable URL,
	// then the local path as a diagnostic-only placeholder.
	switch {
	case att.Base64Data != "":
		fs.SenderURL = "base64:" + att.Base64Data
	case att.RemoteURL != "":
		fs.SenderURL = att.RemoteURL
	case att.LocalPath != "":
		fs.SenderURL = "local:" + att.LocalPath
	}
	return fs
}
