// Package cot encodes and decodes Cursor-on-Target XML events. The
// decoder tolerates the dialect variations found across TAK server and
// client implementations; the encoder emits the canonical forms those
// implementations all accept.
package cot

import (
	"encoding/xml"
	"time"
)

// CoT type strings this package cares about.
const (
	TypeChat    = "b-t-f"     // GeoChat message
	TypeSelfPLI = "a-f-G-U-C" // friendly ground unit position report
)

// UnknownAccuracy is the ce/le value meaning "accuracy unknown", not zero.
const UnknownAccuracy = 999999

// timeLayout is the CoT timestamp format: UTC with millisecond precision.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Time wraps time.Time with CoT attribute formatting.
type Time struct {
	time.Time
}

func (t Time) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	return xml.Attr{Name: name, Value: t.UTC().Format(timeLayout)}, nil
}

func (t *Time) UnmarshalXMLAttr(attr xml.Attr) error {
	parsed, err := time.Parse(timeLayout, attr.Value)
	if err != nil {
		// Some implementations omit milliseconds.
		parsed, err = time.Parse(time.RFC3339, attr.Value)
		if err != nil {
			return err
		}
	}
	t.Time = parsed
	return nil
}

// Event is a wire-level CoT event.
type Event struct {
	XMLName xml.Name `xml:"event"`
	Version string   `xml:"version,attr"`
	UID     string   `xml:"uid,attr"`
	Type    string   `xml:"type,attr"`
	Time    Time     `xml:"time,attr"`
	Start   Time     `xml:"start,attr"`
	Stale   Time     `xml:"stale,attr"`
	How     string   `xml:"how,attr,omitempty"`
	Point   Point    `xml:"point"`
	Detail  *Detail  `xml:"detail"`
}

// Point is a position with accuracy. CE and LE of UnknownAccuracy mean
// the accuracy is unknown, not that it is zero meters.
type Point struct {
	Lat float64 `xml:"lat,attr"`
	Lon float64 `xml:"lon,attr"`
	HAE float64 `xml:"hae,attr"`
	CE  float64 `xml:"ce,attr"`
	LE  float64 `xml:"le,attr"`
}

// Detail is the type-dependent payload of an event. Nil members are
// omitted on encode and absent on decode.
type Detail struct {
	Chat       *ChatDetail   `xml:"__chat"`
	ChatLegacy *ChatDetail   `xml:"chat"` // alternate spelling used by older implementations
	Link       *Link         `xml:"link"`
	Remarks    *Remarks      `xml:"remarks"`
	Marti      *Marti        `xml:"marti"`
	FileShare  *FileShare    `xml:"fileshare"`
	Contact    *Contact      `xml:"contact"`
	Group      *Group        `xml:"__group"`
	TakV       *TakVersion   `xml:"takv"`
	Track      *Track        `xml:"track"`
	Status     *StatusDetail `xml:"status"`
}

// ChatDetail is the chat-group container of a GeoChat event.
type ChatDetail struct {
	ID             string     `xml:"id,attr,omitempty"`
	Chatroom       string     `xml:"chatroom,attr,omitempty"`
	SenderCallsign string     `xml:"senderCallsign,attr,omitempty"`
	Sender         string     `xml:"sender,attr,omitempty"` // alternate callsign attribute
	Parent         string     `xml:"parent,attr,omitempty"`
	GroupOwner     string     `xml:"groupOwner,attr,omitempty"`
	Group          *ChatGroup `xml:"chatgrp"`
}

// ChatGroup carries the participant identifiers of a chat message:
// uid0 is the sender, uid1 the recipient (or the group sentinel).
type ChatGroup struct {
	UID0 string `xml:"uid0,attr,omitempty"`
	UID1 string `xml:"uid1,attr,omitempty"`
	ID   string `xml:"id,attr,omitempty"`
}

// Link relates the event to its producer.
type Link struct {
	UID      string `xml:"uid,attr,omitempty"`
	Type     string `xml:"type,attr,omitempty"`
	Relation string `xml:"relation,attr,omitempty"`
}

// Remarks carries the free-text message body, entity-escaped on the wire.
type Remarks struct {
	Source string `xml:"source,attr,omitempty"`
	To     string `xml:"to,attr,omitempty"`
	Time   string `xml:"time,attr,omitempty"`
	Body   string `xml:",chardata"`
}

// Marti is the explicit destination block of a directly addressed event.
// Its absence on a chat event tells the server to fan out to everyone.
type Marti struct {
	Dest []Dest `xml:"dest"`
}

// Dest names one destination callsign.
type Dest struct {
	Callsign string `xml:"callsign,attr,omitempty"`
}

// FileShare describes an attachment. SenderURL carries the content
// source: "base64:<data>" inline, an http(s) URL, or "local:<path>" as a
// diagnostic-only placeholder. SHA256 is empty when unavailable; it is
// never fabricated.
type FileShare struct {
	Filename       string `xml:"filename,attr,omitempty"`
	SenderURL      string `xml:"senderUrl,attr,omitempty"`
	SizeInBytes    int64  `xml:"sizeInBytes,attr,omitempty"`
	SHA256         string `xml:"sha256,attr"`
	SenderUID      string `xml:"senderUid,attr,omitempty"`
	SenderCallsign string `xml:"senderCallsign,attr,omitempty"`
	Name           string `xml:"name,attr,omitempty"`
	MIME           string `xml:"mime,attr,omitempty"`
}

// Contact is the presence block of a position report.
type Contact struct {
	Callsign string `xml:"callsign,attr,omitempty"`
	Endpoint string `xml:"endpoint,attr,omitempty"`
}

// Group is the team/role block of a position report.
type Group struct {
	Name string `xml:"name,attr,omitempty"`
	Role string `xml:"role,attr,omitempty"`
}

// TakV identifies the sending client software.
type TakVersion struct {
	Platform string `xml:"platform,attr,omitempty"`
	Version  string `xml:"version,attr,omitempty"`
	Device   string `xml:"device,attr,omitempty"`
	OS       string `xml:"os,attr,omitempty"`
}

// Track carries course and speed of a moving unit.
type Track struct {
	Course float64 `xml:"course,attr"`
	Speed  float64 `xml:"speed,attr"`
}

// StatusDetail carries device health of a position report.
type StatusDetail struct {
	Battery int `xml:"battery,attr,omitempty"`
}

// IsChat reports whether the event is typed as a GeoChat message.
func (e *Event) IsChat() bool {
	return e.Type == TypeChat
}

// IsPosition reports whether the event is an atom (track/presence)
// report rather than a bit (chat, tasking, ...) event.
func (e *Event) IsPosition() bool {
	return len(e.Type) >= 2 && e.Type[0] == 'a' && e.Type[1] == '-'
}
