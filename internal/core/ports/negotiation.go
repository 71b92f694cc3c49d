package ports

import (
	"context"

	"rillview/internal/core/domain"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

type PeerState string

const (
	PeerStateNew          PeerState = "new"
	PeerStateConnecting   PeerState = "connecting"
	PeerStateConnected    PeerState = "connected"
	PeerStateDisconnected PeerState = "disconnected"
	PeerStateFailed       PeerState = "failed"
	PeerStateClosed       PeerState = "closed"
)

// NegotiationEvent is emitted by a Negotiator on its Events channel.
type NegotiationEvent interface {
	negotiationEvent()
}

// TrackEvent fires once per remote track.
type TrackEvent struct {
	Track  domain.MediaTrack
	Source TrackSource
}

type ConnectionStateEvent struct {
	State PeerState
}

// LocalCandidateEvent carries a gathered candidate to trickle to the server.
type LocalCandidateEvent struct {
	Candidate domain.IceCandidate
}

func (TrackEvent) negotiationEvent()           {}
func (ConnectionStateEvent) negotiationEvent() {}
func (LocalCandidateEvent) negotiationEvent()  {}

// TrackSource yields RTP packets of one remote track. Reads fail once the
// peer connection is closed.
type TrackSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// RTCPSource is implemented by track sources that expose receiver RTCP.
type RTCPSource interface {
	ReadRTCP() ([]rtcp.Packet, interceptor.Attributes, error)
}

type KeyframeRequester interface {
	RequestKeyframe(ssrc uint32) error
}

// Negotiator owns one peer connection.
type Negotiator interface {
	KeyframeRequester
	CreateOffer(ctx context.Context, prefs domain.Preferences) (string, error)
	ApplyAnswer(ctx context.Context, sdp string) error
	AddRemoteCandidate(candidate domain.IceCandidate) error
	Events() <-chan NegotiationEvent
	TransportStats() domain.TransportStats
	Close() error
}

type NegotiatorFactory func(iceServers []domain.ICEServer) (Negotiator, error)
