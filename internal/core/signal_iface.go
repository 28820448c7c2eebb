package core

import (
	"context"
	"errors"

	"github.com/dkeye/VoiceMesh/internal/domain"
)

// Frame is a raw encoded signaling payload.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

var (
	ErrSubscribe           = errors.New("signaling subscribe failed")
	ErrChannelClosed       = errors.New("signaling channel closed")
	ErrNotSubscribed       = errors.New("not subscribed")
	ErrBackpressure        = errors.New("backpressure")
	ErrDeviceUnavailable   = errors.New("capture device unavailable")
	ErrUnsupportedKind     = errors.New("unsupported media kind")
	ErrConnectionClosed    = errors.New("peer connection closed")
	ErrNoRemoteDescription = errors.New("remote description not set")
)

type PresenceKind string

const (
	PresenceJoin  PresenceKind = "join"
	PresenceLeave PresenceKind = "leave"
)

// PresenceEvent reports another participant entering or leaving the topic.
type PresenceEvent struct {
	Kind        PresenceKind         `json:"kind"`
	Participant domain.ParticipantID `json:"participant"`
}

// SignalingChannel is a room-scoped publish/subscribe topic. It relays
// signaling only, never media.
type SignalingChannel interface {
	// Subscribe joins the room topic as self. A failure here is fatal to
	// room entry; callers re-invoke it explicitly, nothing reconnects.
	Subscribe(ctx context.Context, room domain.RoomID, self domain.ParticipantID) (Subscription, error)
}

// Subscription is the handle returned by SignalingChannel.Subscribe.
// Delivery is at-least-once, FIFO per sender, unordered across senders.
// Events that arrive before a callback is registered are held until it is.
type Subscription interface {
	// Publish broadcasts msg to every other subscriber of the room.
	Publish(ctx context.Context, msg domain.SignalMessage) error
	OnMessage(func(domain.SignalMessage))
	OnPresenceChange(func(PresenceEvent))
	// Presence returns the participants currently subscribed, self included.
	Presence() []domain.ParticipantID
	Unsubscribe() error
}
