package core

import (
	"context"

	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// TrackSender is the outgoing half of a transceiver. *webrtc.RTPSender
// satisfies it.
type TrackSender interface {
	Track() webrtc.TrackLocal
	ReplaceTrack(webrtc.TrackLocal) error
}

// RemoteTrack is an incoming media track. *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// PeerConnection is the transport handle owned by a single registry entry.
// Callbacks may fire on transport goroutines; handlers must not block.
type PeerConnection interface {
	// CreateOffer builds an offer and installs it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer builds an answer to the applied remote offer and
	// installs it as the local description.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	HasRemoteDescription() bool
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// AddTrack attaches a local track on a new or reusable sender.
	AddTrack(webrtc.TrackLocal) (TrackSender, error)
	Senders() []TrackSender
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(RemoteTrack))
	// Close should stop all underlying media resources.
	Close() error
}

// ConnectionFactory builds one PeerConnection per remote participant.
type ConnectionFactory interface {
	NewConnection(remote domain.ParticipantID) (PeerConnection, error)
}

// CaptureDevice acquires local capture. Permission or availability
// failures wrap ErrDeviceUnavailable.
type CaptureDevice interface {
	Acquire(ctx context.Context, kind webrtc.RTPCodecType) (*LocalTrack, error)
}
