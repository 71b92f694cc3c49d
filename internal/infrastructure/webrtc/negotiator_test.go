package webrtc

import (
	"context"
	"strings"
	"testing"

	"rillview/internal/core/domain"
	apperrors "rillview/pkg/errors"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPreferences() domain.Preferences {
	return domain.Preferences{
		VideoCodecs:          []string{"vp8", "h264"},
		AudioCodecs:          []string{"opus"},
		Stereo:               true,
		BandwidthCeilingKbps: 2000,
	}
}

// newAnswerer builds a publishing peer that answers a subscriber offer.
func newAnswerer(t *testing.T) *webrtc.PeerConnection {
	t.Helper()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "edge")
	require.NoError(t, err)
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "edge")
	require.NoError(t, err)

	_, err = pc.AddTrack(video)
	require.NoError(t, err)
	_, err = pc.AddTrack(audio)
	require.NoError(t, err)
	return pc
}

func TestPionNegotiator_CreateOffer(t *testing.T) {
	n := NewPionNegotiator(Config{}, nil, nil)
	defer n.Close()

	offer, err := n.CreateOffer(context.Background(), testPreferences())
	require.NoError(t, err)

	assert.Contains(t, offer, "m=audio")
	assert.Contains(t, offer, "m=video")
	assert.Contains(t, offer, "a=recvonly")
	assert.Contains(t, offer, "b=AS:2000")
	assert.Contains(t, offer, "stereo=1")
	assert.NotContains(t, strings.ToLower(offer), "vp9/90000")

	_, err = n.CreateOffer(context.Background(), testPreferences())
	assert.True(t, apperrors.IsNegotiationError(err))
}

func TestPionNegotiator_VideoOnly(t *testing.T) {
	n := NewPionNegotiator(Config{}, nil, nil)
	defer n.Close()

	offer, err := n.CreateOffer(context.Background(), domain.Preferences{VideoCodecs: []string{"vp8"}})
	require.NoError(t, err)
	assert.NotContains(t, offer, "m=audio")
	assert.Contains(t, offer, "m=video")
}

func TestPionNegotiator_RejectsUnknownCodec(t *testing.T) {
	n := NewPionNegotiator(Config{}, nil, nil)
	defer n.Close()

	_, err := n.CreateOffer(context.Background(), domain.Preferences{VideoCodecs: []string{"theora"}})
	require.Error(t, err)
	assert.True(t, apperrors.IsNegotiationError(err))
}

func TestPionNegotiator_ApplyAnswer(t *testing.T) {
	n := NewPionNegotiator(Config{}, nil, nil)
	defer n.Close()

	offer, err := n.CreateOffer(context.Background(), testPreferences())
	require.NoError(t, err)

	answerer := newAnswerer(t)
	require.NoError(t, answerer.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}))
	answer, err := answerer.CreateAnswer(nil)
	require.NoError(t, err)
	require.NoError(t, answerer.SetLocalDescription(answer))

	// candidates before the answer are buffered
	require.NoError(t, n.AddRemoteCandidate(domain.IceCandidate{Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host"}))

	require.NoError(t, n.ApplyAnswer(context.Background(), answer.SDP))

	err = n.ApplyAnswer(context.Background(), answer.SDP)
	assert.True(t, apperrors.IsNegotiationError(err))
}

func TestPionNegotiator_ApplyMalformedAnswer(t *testing.T) {
	n := NewPionNegotiator(Config{}, nil, nil)
	defer n.Close()

	_, err := n.CreateOffer(context.Background(), testPreferences())
	require.NoError(t, err)

	err = n.ApplyAnswer(context.Background(), "v=0 garbage")
	require.Error(t, err)
	assert.True(t, apperrors.IsNegotiationError(err))
}

func TestPionNegotiator_NoActiveNegotiation(t *testing.T) {
	n := NewPionNegotiator(Config{}, nil, nil)

	err := n.AddRemoteCandidate(domain.IceCandidate{Candidate: "candidate:1 1 udp 1 192.0.2.1 1 typ host"})
	require.Error(t, err)
	assert.True(t, apperrors.IsIceError(err))
	assert.ErrorIs(t, err, domain.ErrNoActiveNegotiation)

	err = n.ApplyAnswer(context.Background(), "v=0")
	assert.True(t, apperrors.IsNegotiationError(err))

	assert.Error(t, n.RequestKeyframe(1234))
	assert.Equal(t, domain.TransportStats{}, n.TransportStats())

	require.NoError(t, n.Close())
	require.NoError(t, n.Close())

	_, err = n.CreateOffer(context.Background(), testPreferences())
	assert.ErrorIs(t, err, domain.ErrNoActiveNegotiation)
}

func TestPionNegotiator_CandidateAfterClose(t *testing.T) {
	n := NewPionNegotiator(Config{}, nil, nil)
	_, err := n.CreateOffer(context.Background(), testPreferences())
	require.NoError(t, err)
	require.NoError(t, n.Close())

	err = n.AddRemoteCandidate(domain.IceCandidate{Candidate: "candidate:1 1 udp 1 192.0.2.1 1 typ host"})
	assert.True(t, apperrors.IsIceError(err))
}

func TestNewFactory(t *testing.T) {
	factory := NewFactory(Config{}, nil)
	n, err := factory([]domain.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}})
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.NoError(t, n.Close())
}
