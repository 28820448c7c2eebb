package domain

import (
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalValidate(t *testing.T) {
	sd := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	tests := []struct {
		name    string
		msg     SignalMessage
		wantErr bool
	}{
		{"announce", NewAnnounce("a", "Alice"), false},
		{"departed", NewDeparted("a"), false},
		{"offer", NewOffer("a", "b", sd), false},
		{"answer", NewAnswer("b", "a", sd), false},
		{"candidate", NewCandidate("a", "b", webrtc.ICECandidateInit{Candidate: "c"}), false},
		{"missing sender", SignalMessage{Kind: KindAnnounce}, true},
		{"offer without payload", SignalMessage{Kind: KindOffer, SenderID: "a", TargetID: "b"}, true},
		{"answer carrying offer", SignalMessage{Kind: KindAnswer, SenderID: "a", TargetID: "b", Payload: &SignalPayload{Offer: &sd}}, true},
		{"candidate without target", SignalMessage{Kind: KindCandidate, SenderID: "a", Payload: &SignalPayload{Candidate: &webrtc.ICECandidateInit{}}}, true},
		{"unknown kind", SignalMessage{Kind: "bye", SenderID: "a"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedSignal)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAddressedTo(t *testing.T) {
	assert.True(t, NewAnnounce("a", "").AddressedTo("b"))
	msg := NewCandidate("a", "b", webrtc.ICECandidateInit{})
	assert.True(t, msg.AddressedTo("b"))
	assert.False(t, msg.AddressedTo("c"))
}

func TestNewAnnounceDisplayName(t *testing.T) {
	assert.Nil(t, NewAnnounce("a", "").Payload)
	msg := NewAnnounce("a", "Alice")
	require.NotNil(t, msg.Payload)
	assert.Equal(t, "Alice", msg.Payload.DisplayName)
}

func TestNewParticipant(t *testing.T) {
	p, err := NewParticipant("", "")
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, string(p.ID), p.DisplayName)

	p, err = NewParticipant("a", "Alice")
	require.NoError(t, err)
	assert.Equal(t, ParticipantID("a"), p.ID)

	_, err = NewParticipant(ParticipantID(strings.Repeat("x", MaxParticipantIDLen+1)), "")
	assert.ErrorIs(t, err, ErrParticipantIDTooLong)

	_, err = NewParticipant("a", strings.Repeat("n", MaxDisplayNameLen+1))
	assert.ErrorIs(t, err, ErrDisplayNameTooLong)

	assert.ErrorIs(t, p.SetDisplayName(strings.Repeat("n", MaxDisplayNameLen+1)), ErrDisplayNameTooLong)
	assert.Equal(t, "Alice", p.DisplayName)
}

func TestRoomValidate(t *testing.T) {
	assert.NoError(t, RoomID("lobby").Validate())
	assert.ErrorIs(t, RoomID("").Validate(), ErrRoomIDInvalid)
	assert.ErrorIs(t, RoomID(strings.Repeat("r", MaxRoomIDLen+1)).Validate(), ErrRoomIDInvalid)
}

func TestNegotiationState(t *testing.T) {
	assert.Equal(t, "offer-sent", StateOfferSent.String())
	assert.Equal(t, "unknown", NegotiationState(42).String())
	for _, s := range []NegotiationState{StateDisconnected, StateFailed, StateClosed} {
		assert.True(t, s.IsTerminal(), s.String())
	}
	for _, s := range []NegotiationState{StateNew, StateOfferSent, StateOfferReceived, StateAnswered, StateConnected} {
		assert.False(t, s.IsTerminal(), s.String())
	}
}
