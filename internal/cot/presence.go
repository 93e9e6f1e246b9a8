package cot

import "time"

// Presence is a normalized position/presence report. A report past its
// Stale time is low-confidence, not gone: consumers should gray it out
// rather than drop it.
type Presence struct {
	UID      string
	Type     string
	Callsign string
	Team     string
	Role     string
	Point    Point
	Time     time.Time
	Stale    time.Time
}

// ExtractPresence normalizes a position event. It never fails: missing
// detail blocks simply leave fields empty, since even a bare point with
// a uid is a usable track update.
func ExtractPresence(ev *Event) *Presence {
	p := &Presence{
		UID:   ev.UID,
		Type:  ev.Type,
		Point: ev.Point,
		Time:  ev.Time.Time,
		Stale: ev.Stale.Time,
	}
	if ev.Detail == nil {
		return p
	}
	if ev.Detail.Contact != nil {
		p.Callsign = ev.Detail.Contact.Callsign
	}
	if ev.Detail.Group != nil {
		p.Team = ev.Detail.Group.Name
		p.Role = ev.Detail.Group.Role
	}
	return p
}
