package app

import "github.com/dkeye/VoiceMesh/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case MarkSlow:
		return "mark_slow"
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	}
	return "none"
}

// Policy decides what happens to a subscriber whose send buffer is full.
type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction
}

// SimplePolicy kicks on the first overflow. The frame that did not fit is
// already lost, and a client missing a signal can only recover by
// rejoining, which the kick forces while the rest of the room sees a
// presence leave.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.RoomService, core.MemberSession) BackpressureAction {
	return KickMember
}
