package cot

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/omnitak/takcore/internal/chat"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func mustEncodeChat(t *testing.T, req SendRequest) ([]byte, *Event) {
	t.Helper()
	raw, ev, err := EncodeChat(req)
	if err != nil {
		t.Fatalf("EncodeChat() error = %v", err)
	}
	return raw, ev
}

func mustDecodeChat(t *testing.T, raw []byte) *ChatPayload {
	t.Helper()
	var d Decoder
	_, payload, err := d.Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if payload == nil {
		t.Fatal("Decode() returned nil chat payload")
	}
	return payload
}

func TestGroupMessageRoundTrip(t *testing.T) {
	// No location: the point must encode the documented unknown defaults.
	raw, ev := mustEncodeChat(t, SendRequest{
		Sender: Identity{UID: "IOS-ABC123", Callsign: "Viper 1"},
		Text:   "Contact at grid 38S MC 12345 67890",
		Now:    testNow,
	})

	payload := mustDecodeChat(t, raw)

	if scope := chat.ClassifyScope(payload.Chatroom); scope != chat.ScopeGroup {
		t.Errorf("scope = %s, want group", scope)
	}
	if payload.SenderUID != "IOS-ABC123" {
		t.Errorf("sender uid = %q, want IOS-ABC123", payload.SenderUID)
	}
	if payload.SenderCallsign != "Viper 1" {
		t.Errorf("sender callsign = %q, want Viper 1", payload.SenderCallsign)
	}
	if payload.Body != "Contact at grid 38S MC 12345 67890" {
		t.Errorf("body = %q", payload.Body)
	}
	if payload.EventUID != ev.UID {
		t.Errorf("payload uid %q != event uid %q", payload.EventUID, ev.UID)
	}
	if payload.Point.Lat != 0 || payload.Point.Lon != 0 {
		t.Errorf("point = %v, want 0,0", payload.Point)
	}
	if payload.Point.CE != UnknownAccuracy || payload.Point.LE != UnknownAccuracy {
		t.Errorf("ce/le = %v/%v, want %d", payload.Point.CE, payload.Point.LE, UnknownAccuracy)
	}

	// Group messages must not carry an explicit destination block; its
	// absence is what tells the server to fan out to everyone.
	if strings.Contains(string(raw), "<marti>") {
		t.Error("group message contains a marti destination block")
	}
	if len(payload.Destinations) != 0 {
		t.Errorf("destinations = %v, want none", payload.Destinations)
	}
}

func TestDirectMessageRoundTrip(t *testing.T) {
	raw, _ := mustEncodeChat(t, SendRequest{
		Sender:    Identity{UID: "IOS-ABC123", Callsign: "Viper 1"},
		Recipient: &Recipient{UID: "ANDROID-XYZ789", Callsign: "Bravo-2"},
		Text:      "on your six",
		Now:       testNow,
	})

	payload := mustDecodeChat(t, raw)

	scope := chat.ClassifyScope(payload.Chatroom)
	if scope != chat.ScopeDirect {
		t.Fatalf("scope = %s, want direct", scope)
	}
	recipID, recipCallsign := chat.DeriveRecipient(scope, payload.Chatroom, payload.ChatGroupUID1)
	if recipID != "ANDROID-XYZ789" {
		t.Errorf("recipient id = %q, want ANDROID-XYZ789", recipID)
	}
	if recipCallsign != "Bravo-2" {
		t.Errorf("recipient callsign = %q, want Bravo-2", recipCallsign)
	}

	// The receiver's conversation key must equal the sender's, whichever
	// order the pair is seen in.
	receiverView := chat.DeriveConversationID(scope, payload.SenderUID, recipID)
	senderView := chat.DeriveConversationID(chat.ScopeDirect, "ANDROID-XYZ789", "IOS-ABC123")
	if receiverView != senderView {
		t.Errorf("conversation ids differ: %q vs %q", receiverView, senderView)
	}

	if len(payload.Destinations) != 1 || payload.Destinations[0] != "Bravo-2" {
		t.Errorf("destinations = %v, want [Bravo-2]", payload.Destinations)
	}
}

func TestDirectMessageUIDOnlyRecipient(t *testing.T) {
	raw, _ := mustEncodeChat(t, SendRequest{
		Sender:    Identity{UID: "IOS-ABC123", Callsign: "Viper 1"},
		Recipient: &Recipient{UID: "ANDROID-XYZ789"},
		Text:      "no callsign on file",
		Now:       testNow,
	})

	payload := mustDecodeChat(t, raw)

	// The recipient uid must stand in for the missing callsign so the
	// receiver does not classify the message as group scope.
	if payload.Chatroom != "ANDROID-XYZ789" {
		t.Errorf("chatroom = %q, want ANDROID-XYZ789", payload.Chatroom)
	}
	if scope := chat.ClassifyScope(payload.Chatroom); scope != chat.ScopeDirect {
		t.Fatalf("scope = %s, want direct", scope)
	}
	if len(payload.Destinations) != 1 || payload.Destinations[0] != "ANDROID-XYZ789" {
		t.Errorf("destinations = %v, want [ANDROID-XYZ789]", payload.Destinations)
	}
}

func TestCompositeUID(t *testing.T) {
	_, ev := mustEncodeChat(t, SendRequest{
		MessageID: "msg-1",
		Sender:    Identity{UID: "IOS-ABC123", Callsign: "Viper 1"},
		Text:      "hello",
		Now:       testNow,
	})

	if ev.UID != "GeoChat.IOS-ABC123.All Chat Rooms.msg-1" {
		t.Errorf("uid = %q", ev.UID)
	}
	sender, msgID, ok := ParseCompositeUID(ev.UID)
	if !ok {
		t.Fatalf("ParseCompositeUID(%q) not ok", ev.UID)
	}
	if sender != "IOS-ABC123" || msgID != "msg-1" {
		t.Errorf("parsed (%q, %q), want (IOS-ABC123, msg-1)", sender, msgID)
	}
}

func TestParseCompositeUIDRejects(t *testing.T) {
	tests := []struct {
		name string
		uid  string
	}{
		{"plain uid", "ANDROID-XYZ789"},
		{"wrong prefix", "Chat.A.B.C"},
		{"too few segments", "GeoChat.A.B"},
		{"empty sender", "GeoChat..room.id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, ok := ParseCompositeUID(tt.uid); ok {
				t.Errorf("ParseCompositeUID(%q) ok, want not ok", tt.uid)
			}
		})
	}
}

func TestEscapingRoundTrip(t *testing.T) {
	texts := []string{
		`a < b && c > d`,
		`say "hello" & 'bye'`,
		`<detail>injected</detail>`,
		`ampersand & angle < quote "`,
	}
	for _, text := range texts {
		raw, _ := mustEncodeChat(t, SendRequest{
			Sender: Identity{UID: "IOS-ABC123", Callsign: `Viper "1" <lead>`},
			Text:   text,
			Now:    testNow,
		})
		payload := mustDecodeChat(t, raw)
		if payload.Body != text {
			t.Errorf("body round-trip = %q, want %q", payload.Body, text)
		}
		if payload.SenderCallsign != `Viper "1" <lead>` {
			t.Errorf("callsign round-trip = %q", payload.SenderCallsign)
		}
	}
}

func TestStaleDefaultsToOneHour(t *testing.T) {
	_, ev := mustEncodeChat(t, SendRequest{
		Sender: Identity{UID: "A"},
		Text:   "x",
		Now:    testNow,
	})
	if got := ev.Stale.Sub(ev.Time.Time); got != time.Hour {
		t.Errorf("stale - time = %v, want 1h", got)
	}

	_, ev = mustEncodeChat(t, SendRequest{
		Sender: Identity{UID: "A"},
		Text:   "x",
		Now:    testNow,
		TTL:    5 * time.Minute,
	})
	if got := ev.Stale.Sub(ev.Time.Time); got != 5*time.Minute {
		t.Errorf("stale - time = %v, want 5m", got)
	}
}

// Alternate dialect: chat container under the legacy element name with
// the legacy sender attribute, identity only on the link element.
const legacyDialectXML = `<?xml version="1.0" encoding="UTF-8"?>
<event version="2.0" uid="GeoChat.TRACKER-42.All Chat Rooms.abc" type="b-t-f" time="2025-06-01T12:00:00.000Z" start="2025-06-01T12:00:00.000Z" stale="2025-06-01T13:00:00.000Z" how="h-g-i-g-o">
  <point lat="10.5" lon="-33.25" hae="0" ce="999999" le="999999"/>
  <detail>
    <chat id="All Chat Rooms" chatroom="All Chat Rooms" sender="Tracker"/>
    <link uid="TRACKER-42" type="a-f-G-U-C" relation="p-p"/>
    <remarks>radio check</remarks>
  </detail>
</event>`

func TestAlternateDialectDecodes(t *testing.T) {
	payload := mustDecodeChat(t, []byte(legacyDialectXML))

	if payload.SenderUID != "TRACKER-42" {
		t.Errorf("sender uid = %q, want TRACKER-42 (from link fallback)", payload.SenderUID)
	}
	if payload.SenderCallsign != "Tracker" {
		t.Errorf("sender callsign = %q, want Tracker (from legacy attr)", payload.SenderCallsign)
	}
	if payload.Chatroom != "All Chat Rooms" {
		t.Errorf("chatroom = %q", payload.Chatroom)
	}
	if payload.Body != "radio check" {
		t.Errorf("body = %q", payload.Body)
	}

	// Primary and alternate spellings must extract identical fields.
	canonical := strings.NewReplacer("<chat ", "<__chat ", "sender=", "senderCallsign=").Replace(legacyDialectXML)
	primary := mustDecodeChat(t, []byte(canonical))
	if primary.SenderUID != payload.SenderUID || primary.Chatroom != payload.Chatroom || primary.Body != payload.Body {
		t.Errorf("primary spelling extraction differs: %+v vs %+v", primary, payload)
	}
}

func TestSenderUIDFallbackOrder(t *testing.T) {
	base := `<event version="2.0" uid="%UID%" type="b-t-f" time="2025-06-01T12:00:00.000Z" start="2025-06-01T12:00:00.000Z" stale="2025-06-01T13:00:00.000Z">
  <point lat="0" lon="0" hae="0" ce="999999" le="999999"/>
  <detail>
    <__chat id="All Chat Rooms" chatroom="All Chat Rooms" senderCallsign="X">%GRP%</__chat>
    %LINK%
    <remarks>hi</remarks>
  </detail>
</event>`

	build := func(uid, grp, link string) []byte {
		s := strings.NewReplacer("%UID%", uid, "%GRP%", grp, "%LINK%", link).Replace(base)
		return []byte(s)
	}

	tests := []struct {
		name    string
		raw     []byte
		want    string
		wantErr error
	}{
		{
			"chatgrp wins over link and uid",
			build("GeoChat.FROMUID.room.1", `<chatgrp uid0="FROMGRP" uid1="All Chat Rooms"/>`, `<link uid="FROMLINK"/>`),
			"FROMGRP", nil,
		},
		{
			"link wins when chatgrp absent",
			build("GeoChat.FROMUID.room.1", ``, `<link uid="FROMLINK"/>`),
			"FROMLINK", nil,
		},
		{
			"composite uid is last resort",
			build("GeoChat.FROMUID.room.1", ``, ``),
			"FROMUID", nil,
		},
		{
			"no source at all",
			build("opaque-uid", ``, ``),
			"", ErrNoSenderUID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Decoder
			_, payload, err := d.Decode(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Decode() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if payload.SenderUID != tt.want {
				t.Errorf("sender uid = %q, want %q", payload.SenderUID, tt.want)
			}
		})
	}
}

func TestDecodeFailureTaxonomy(t *testing.T) {
	valid := func(detail string) string {
		return `<event version="2.0" uid="GeoChat.A.room.1" type="b-t-f" time="2025-06-01T12:00:00.000Z" start="2025-06-01T12:00:00.000Z" stale="2025-06-01T13:00:00.000Z"><point lat="0" lon="0" hae="0" ce="999999" le="999999"/><detail>` + detail + `</detail></event>`
	}

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"truncated xml", `<event uid="x" type="b-t-f"`, ErrMalformedXML},
		{"no uid", `<event type="b-t-f" time="2025-06-01T12:00:00.000Z" start="2025-06-01T12:00:00.000Z" stale="2025-06-01T13:00:00.000Z"><point lat="0" lon="0" hae="0" ce="1" le="1"/></event>`, ErrMissingUID},
		{"no chat container", valid(`<remarks>hi</remarks>`), ErrMissingChatDetail},
		{"no remarks", valid(`<__chat id="r" chatroom="r" senderCallsign="X"><chatgrp uid0="A" uid1="r"/></__chat>`), ErrMissingRemarks},
		{"empty body", valid(`<__chat id="r" chatroom="r" senderCallsign="X"><chatgrp uid0="A" uid1="r"/></__chat><remarks>   </remarks>`), ErrEmptyBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Decoder
			_, _, err := d.Decode([]byte(tt.raw))
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNonChatEventIsNotAnError(t *testing.T) {
	raw, _, err := EncodePosition(PositionRequest{
		Sender:   Identity{UID: "IOS-ABC123", Callsign: "Viper 1"},
		Location: &Location{Lat: 1, Lon: 2, HAE: 3, CE: 10, LE: 10},
		Team:     "Cyan",
		Role:     "Team Lead",
		Now:      testNow,
	})
	if err != nil {
		t.Fatalf("EncodePosition() error = %v", err)
	}

	var d Decoder
	ev, payload, err := d.Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if payload != nil {
		t.Error("position event produced a chat payload")
	}
	if !ev.IsPosition() {
		t.Errorf("IsPosition() = false for type %q", ev.Type)
	}

	p := ExtractPresence(ev)
	if p.Callsign != "Viper 1" || p.Team != "Cyan" || p.Role != "Team Lead" {
		t.Errorf("presence = %+v", p)
	}
	if p.Point.Lat != 1 || p.Point.Lon != 2 {
		t.Errorf("presence point = %v", p.Point)
	}
}

func TestAttachmentClassification(t *testing.T) {
	encode := func(att *chat.ImageAttachment) []byte {
		raw, _ := mustEncodeChat(t, SendRequest{
			Sender:     Identity{UID: "A", Callsign: "Alpha"},
			Text:       "pic",
			Attachment: att,
			Now:        testNow,
		})
		return raw
	}

	t.Run("image extension", func(t *testing.T) {
		raw := encode(&chat.ImageAttachment{Filename: "recon.JPG", MIMEType: "image/jpeg", FileSize: 1024, RemoteURL: "https://example.com/recon.jpg"})
		payload := mustDecodeChat(t, raw)
		if payload.AttachmentType != chat.AttachmentImage {
			t.Fatalf("attachment type = %s, want image", payload.AttachmentType)
		}
		if payload.Attachment.RemoteURL != "https://example.com/recon.jpg" {
			t.Errorf("remote url = %q", payload.Attachment.RemoteURL)
		}
		if payload.Attachment.FileSize != 1024 {
			t.Errorf("file size = %d, want 1024", payload.Attachment.FileSize)
		}
	})

	t.Run("generic file extension", func(t *testing.T) {
		raw := encode(&chat.ImageAttachment{Filename: "плн.pdf", MIMEType: "application/pdf", LocalPath: "/tmp/плн.pdf"})
		payload := mustDecodeChat(t, raw)
		if payload.AttachmentType != chat.AttachmentFile {
			t.Fatalf("attachment type = %s, want file", payload.AttachmentType)
		}
		if payload.Attachment != nil {
			t.Error("generic file must not decode inline content")
		}
	})

	t.Run("local path placeholder", func(t *testing.T) {
		raw := encode(&chat.ImageAttachment{Filename: "a.png", LocalPath: "/var/img/a.png"})
		payload := mustDecodeChat(t, raw)
		if payload.Attachment.LocalPath != "/var/img/a.png" {
			t.Errorf("local path = %q", payload.Attachment.LocalPath)
		}
		if payload.Attachment.RemoteURL != "" || payload.Attachment.Base64Data != "" {
			t.Error("placeholder attachment must carry no retrievable source")
		}
	})
}

type fakeBlobStore struct {
	saved [][]byte
	fail  bool
}

func (f *fakeBlobStore) SaveImage(data []byte, filename string) (string, string, error) {
	if f.fail {
		return "", "", errors.New("disk full")
	}
	f.saved = append(f.saved, data)
	return "/blobs/" + filename, "/blobs/thumb_" + filename, nil
}

func TestInlineImageMaterialization(t *testing.T) {
	imgBytes := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a}
	raw, _ := mustEncodeChat(t, SendRequest{
		Sender: Identity{UID: "A", Callsign: "Alpha"},
		Text:   "pic",
		Attachment: &chat.ImageAttachment{
			Filename:   "shot.png",
			MIMEType:   "image/png",
			Base64Data: base64.StdEncoding.EncodeToString(imgBytes),
		},
		Now: testNow,
	})

	t.Run("with blob store", func(t *testing.T) {
		blobs := &fakeBlobStore{}
		d := Decoder{Blobs: blobs}
		_, payload, err := d.Decode(raw)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		att := payload.Attachment
		if att.LocalPath != "/blobs/shot.png" || att.ThumbPath != "/blobs/thumb_shot.png" {
			t.Errorf("paths = %q / %q", att.LocalPath, att.ThumbPath)
		}
		if att.Base64Data != "" {
			t.Error("inline data should be cleared after materialization")
		}
		if len(blobs.saved) != 1 || string(blobs.saved[0]) != string(imgBytes) {
			t.Errorf("blob store received %v", blobs.saved)
		}
	})

	t.Run("without blob store keeps inline data", func(t *testing.T) {
		var d Decoder
		_, payload, err := d.Decode(raw)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if payload.Attachment.Base64Data == "" {
			t.Error("inline data lost with no blob store injected")
		}
		if payload.Attachment.LocalPath != "" {
			t.Error("no local path should be recorded without a blob store")
		}
	})

	t.Run("blob store failure degrades to inline", func(t *testing.T) {
		d := Decoder{Blobs: &fakeBlobStore{fail: true}}
		_, payload, err := d.Decode(raw)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if payload.Attachment.Base64Data == "" {
			t.Error("inline data lost after blob store failure")
		}
	})
}

func TestEncodeValidation(t *testing.T) {
	tests := []struct {
		name string
		req  SendRequest
		want error
	}{
		{"no sender", SendRequest{Text: "x"}, ErrNoSenderIdentity},
		{"no text", SendRequest{Sender: Identity{UID: "A"}}, ErrEmptyMessage},
		{"empty recipient", SendRequest{Sender: Identity{UID: "A"}, Text: "x", Recipient: &Recipient{}}, ErrNoRecipient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := EncodeChat(tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("EncodeChat() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTimeAttrFormats(t *testing.T) {
	// Seconds-precision timestamps from other implementations must parse.
	raw := strings.Replace(legacyDialectXML, "2025-06-01T12:00:00.000Z", "2025-06-01T12:00:00Z", 3)
	payload := mustDecodeChat(t, []byte(raw))
	if !payload.Time.Equal(testNow) {
		t.Errorf("time = %v, want %v", payload.Time, testNow)
	}
}
