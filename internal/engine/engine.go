// Package engine wires the codec, resolver and queue into the two
// message pipelines: raw inbound XML to resolved chat messages, and
// composed outbound messages to transport frames.
package engine

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/omnitak/takcore/internal/bus"
	"github.com/omnitak/takcore/internal/chat"
	"github.com/omnitak/takcore/internal/cot"
	"github.com/omnitak/takcore/internal/queue"
	"github.com/omnitak/takcore/internal/status"
	"github.com/omnitak/takcore/internal/store"
	"go.uber.org/zap"
)

// LocationProvider supplies the current position for outbound encoding.
// It is an external collaborator; when absent or not ready, outbound
// events carry the documented zero/unknown defaults.
type LocationProvider interface {
	Current() (cot.Location, bool)
}

// Options configures an Engine.
type Options struct {
	Self     cot.Identity
	Team     string
	Role     string
	Location LocationProvider // optional
}

// Engine owns the receive and send pipelines. It is safe for concurrent
// use: the codec is stateless and the queue serializes internally.
type Engine struct {
	opts   Options
	dec    *cot.Decoder
	queue  *queue.Queue
	bus    *bus.Bus
	logger *zap.Logger

	decodeFailures atomic.Int64
	ignoredEvents  atomic.Int64
}

// New creates an engine.
func New(opts Options, dec *cot.Decoder, q *queue.Queue, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		opts:   opts,
		dec:    dec,
		queue:  q,
		bus:    b,
		logger: logger,
	}
}

// HandleRaw processes one inbound wire event. Chat events are resolved,
// recorded as received history and published on the bus; position
// events are published as presence updates without queueing (they
// supersede each other, they are not conversation history); anything
// else is counted and ignored.
//
// A decode failure is returned to the caller and counted, never fatal:
// one bad event must not take down the receive pipeline. Callers should
// distinguish it from irrelevant traffic: it means a peer speaks an
// incompatible dialect.
func (e *Engine) HandleRaw(raw []byte) (*chat.Message, error) {
	ev, payload, err := e.dec.Decode(raw)
	if err != nil {
		e.decodeFailures.Add(1)
		e.logger.Warn("inbound event failed to decode", zap.Error(err))
		e.bus.Emit(bus.KindIngestError, err.Error())
		return nil, err
	}
	if payload == nil {
		if ev.IsPosition() {
			e.bus.Emit(bus.KindPresence, cot.ExtractPresence(ev))
		} else {
			e.ignoredEvents.Add(1)
		}
		return nil, nil
	}

	msg := e.resolveInbound(payload)
	rec := &store.PersistedMessage{
		UID:        payload.EventUID,
		Type:       ev.Type,
		XMLContent: string(raw),
		Timestamp:  msg.Timestamp.UnixMilli(),
		Lat:        payload.Point.Lat,
		Lon:        payload.Point.Lon,
		Callsign:   msg.SenderCallsign,
		Status:     status.Received,
		Direction:  status.Inbound,
	}
	if err := e.queue.Save(rec); err != nil {
		e.logger.Error("failed to record inbound message", zap.String("uid", rec.UID), zap.Error(err))
		return msg, err
	}
	e.bus.Emit(bus.KindChatMessage, msg)
	return msg, nil
}

func (e *Engine) resolveInbound(p *cot.ChatPayload) *chat.Message {
	scope := chat.ClassifyScope(p.Chatroom)

	msg := &chat.Message{
		ID:             p.EventUID,
		SenderID:       p.SenderUID,
		SenderCallsign: p.SenderCallsign,
		Text:           p.Body,
		Timestamp:      p.Time,
		Status:         status.Delivered,
		Direction:      status.Inbound,
		Scope:          scope,
		AttachmentType: p.AttachmentType,
		Attachment:     p.Attachment,
	}
	if msg.SenderCallsign == "" {
		msg.SenderCallsign = p.SenderUID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.AttachmentType == "" {
		msg.AttachmentType = chat.AttachmentNone
	}

	if scope == chat.ScopeDirect {
		recipID, recipCallsign := chat.DeriveRecipient(scope, p.Chatroom, p.ChatGroupUID1)
		if recipID == "" {
			// The wire carried no usable recipient id; a direct message
			// we received was addressed to us.
			recipID = e.opts.Self.UID
		}
		msg.RecipientID = recipID
		msg.RecipientCallsign = recipCallsign
		msg.ConversationID = chat.DeriveConversationID(scope, p.SenderUID, recipID)
	} else {
		msg.ConversationID = chat.DeriveConversationID(scope, "", "")
	}
	return msg
}

// SendText composes, records and emits an outbound chat message. A nil
// recipient sends to the group. The returned message is in pending
// status until the transport reports delivery.
func (e *Engine) SendText(text string, recipient *cot.Recipient, att *chat.ImageAttachment) (*chat.Message, error) {
	raw, ev, err := cot.EncodeChat(cot.SendRequest{
		Sender:     e.opts.Self,
		Location:   e.currentLocation(),
		Recipient:  recipient,
		Text:       text,
		Attachment: att,
	})
	if err != nil {
		return nil, err
	}

	scope := chat.ScopeGroup
	msg := &chat.Message{
		ID:             ev.UID,
		SenderID:       e.opts.Self.UID,
		SenderCallsign: e.opts.Self.Callsign,
		Text:           text,
		Timestamp:      ev.Time.Time,
		Status:         status.Pending,
		Direction:      status.Outbound,
		Attachment:     att,
		AttachmentType: chat.AttachmentNone,
	}
	if att != nil {
		msg.AttachmentType = chat.AttachmentImage
	}
	if recipient != nil {
		scope = chat.ScopeDirect
		msg.RecipientID = recipient.UID
		msg.RecipientCallsign = recipient.Callsign
		msg.ConversationID = chat.DeriveConversationID(scope, e.opts.Self.UID, recipient.UID)
	} else {
		msg.ConversationID = chat.DeriveConversationID(scope, "", "")
	}
	msg.Scope = scope

	rec := &store.PersistedMessage{
		UID:        ev.UID,
		Type:       ev.Type,
		XMLContent: string(raw),
		Timestamp:  ev.Time.UnixMilli(),
		Lat:        ev.Point.Lat,
		Lon:        ev.Point.Lon,
		Callsign:   e.opts.Self.Callsign,
		Status:     status.Pending,
		Direction:  status.Outbound,
	}
	if err := e.queue.Save(rec); err != nil {
		return nil, err
	}

	e.bus.Emit(bus.KindChatOutbound, msg)
	e.bus.Emit(bus.KindTransportSend, bus.OutboundFrame{UID: ev.UID, XML: raw})
	return msg, nil
}

// SendPosition emits a PLI self-report. Position reports are
// fire-and-forget advisories that supersede each other, so they bypass
// the queue entirely.
func (e *Engine) SendPosition() ([]byte, error) {
	raw, ev, err := cot.EncodePosition(cot.PositionRequest{
		Sender:   e.opts.Self,
		Location: e.currentLocation(),
		Team:     e.opts.Team,
		Role:     e.opts.Role,
	})
	if err != nil {
		return nil, err
	}
	e.bus.Emit(bus.KindTransportSend, bus.OutboundFrame{UID: ev.UID, XML: raw})
	return raw, nil
}

// ReportDelivery records the transport's verdict on one outbound
// message.
func (e *Engine) ReportDelivery(uid string, delivered bool) error {
	to := status.Sent
	if !delivered {
		to = status.Failed
	}
	err := e.queue.UpdateStatus(uid, to)
	if err != nil && !errors.Is(err, queue.ErrUnknownUID) {
		e.logger.Warn("delivery report rejected", zap.String("uid", uid), zap.Error(err))
	}
	return err
}

// DecodeFailures returns how many inbound events failed to decode since
// startup. Diagnostic only.
func (e *Engine) DecodeFailures() int64 { return e.decodeFailures.Load() }

// IgnoredEvents returns how many well-formed non-chat, non-position
// events were skipped.
func (e *Engine) IgnoredEvents() int64 { return e.ignoredEvents.Load() }

func (e *Engine) currentLocation() *cot.Location {
	if e.opts.Location == nil {
		return nil
	}
	loc, ok := e.opts.Location.Current()
	if !ok {
		return nil
	}
	return &loc
}
