package domain

import "errors"

const MaxRoomIDLen = 64

var ErrRoomIDInvalid = errors.New("room id invalid")

type RoomID string

func (r RoomID) Validate() error {
	if len(r) == 0 || len(r) > MaxRoomIDLen {
		return ErrRoomIDInvalid
	}
	return nil
}

// Room is the relay-side view of a signaling topic.
type Room struct {
	ID RoomID
}
