package domain

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

type SignalKind string

const (
	KindAnnounce  SignalKind = "announce"
	KindOffer     SignalKind = "offer"
	KindAnswer    SignalKind = "answer"
	KindCandidate SignalKind = "candidate"
	KindDeparted  SignalKind = "departed"
)

var ErrMalformedSignal = errors.New("malformed signal")

// SignalPayload carries the negotiation artifact for offer, answer and
// candidate messages. Announce may carry the sender's display name.
type SignalPayload struct {
	Offer       *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer      *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate   *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	DisplayName string                     `json:"displayName,omitempty"`
}

// SignalMessage is ephemeral and never persisted. An empty TargetID
// addresses every subscriber of the room. Session identifies one join of
// the sender; a participant rejoining under the same id gets a new one.
type SignalMessage struct {
	Kind     SignalKind     `json:"kind"`
	SenderID ParticipantID  `json:"senderId"`
	TargetID ParticipantID  `json:"targetId,omitempty"`
	Session  string         `json:"session,omitempty"`
	Payload  *SignalPayload `json:"payload,omitempty"`
}

func NewAnnounce(from ParticipantID, displayName string) SignalMessage {
	msg := SignalMessage{Kind: KindAnnounce, SenderID: from}
	if displayName != "" {
		msg.Payload = &SignalPayload{DisplayName: displayName}
	}
	return msg
}

func NewOffer(from, to ParticipantID, sd webrtc.SessionDescription) SignalMessage {
	return SignalMessage{Kind: KindOffer, SenderID: from, TargetID: to, Payload: &SignalPayload{Offer: &sd}}
}

func NewAnswer(from, to ParticipantID, sd webrtc.SessionDescription) SignalMessage {
	return SignalMessage{Kind: KindAnswer, SenderID: from, TargetID: to, Payload: &SignalPayload{Answer: &sd}}
}

func NewCandidate(from, to ParticipantID, c webrtc.ICECandidateInit) SignalMessage {
	return SignalMessage{Kind: KindCandidate, SenderID: from, TargetID: to, Payload: &SignalPayload{Candidate: &c}}
}

func NewDeparted(from ParticipantID) SignalMessage {
	return SignalMessage{Kind: KindDeparted, SenderID: from}
}

// AddressedTo reports whether the message is a broadcast or targets id.
func (m SignalMessage) AddressedTo(id ParticipantID) bool {
	return m.TargetID == "" || m.TargetID == id
}

// Validate checks that the payload required by Kind is present.
func (m SignalMessage) Validate() error {
	if m.SenderID == "" {
		return fmt.Errorf("%w: missing sender", ErrMalformedSignal)
	}
	switch m.Kind {
	case KindAnnounce, KindDeparted:
		return nil
	case KindOffer:
		if m.Payload == nil || m.Payload.Offer == nil {
			return fmt.Errorf("%w: offer without description", ErrMalformedSignal)
		}
	case KindAnswer:
		if m.Payload == nil || m.Payload.Answer == nil {
			return fmt.Errorf("%w: answer without description", ErrMalformedSignal)
		}
	case KindCandidate:
		if m.Payload == nil || m.Payload.Candidate == nil {
			return fmt.Errorf("%w: candidate without payload", ErrMalformedSignal)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedSignal, m.Kind)
	}
	if m.TargetID == "" {
		return fmt.Errorf("%w: %s without target", ErrMalformedSignal, m.Kind)
	}
	return nil
}
