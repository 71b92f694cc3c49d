package webrtc

import (
	"context"
	"sync"
	"time"

	"rillview/internal/core/domain"
	"rillview/internal/core/ports"
	apperrors "rillview/pkg/errors"
	"rillview/pkg/tracing"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config WebRTC configuration
type Config struct {
	PortRange struct {
		Min uint16
		Max uint16
	}
	// Minimum spacing between keyframe requests for one SSRC.
	KeyframeInterval time.Duration
}

// PionNegotiator owns one receive-only peer connection.
type PionNegotiator struct {
	config     Config
	iceServers []webrtc.ICEServer

	mu              sync.Mutex
	pc              *webrtc.PeerConnection
	prefs           domain.Preferences
	remoteSet       bool
	pending         []webrtc.ICECandidateInit
	surfaced        map[string]bool
	keyframeLimiter map[uint32]*rate.Limiter

	events    chan ports.NegotiationEvent
	done      chan struct{}
	closeOnce sync.Once

	logger *zap.SugaredLogger
}

var _ ports.Negotiator = (*PionNegotiator)(nil)

// NewFactory returns a NegotiatorFactory building one negotiator per attempt.
func NewFactory(config Config, logger *zap.SugaredLogger) ports.NegotiatorFactory {
	return func(iceServers []domain.ICEServer) (ports.Negotiator, error) {
		return NewPionNegotiator(config, iceServers, logger), nil
	}
}

func NewPionNegotiator(config Config, iceServers []domain.ICEServer, logger *zap.SugaredLogger) *PionNegotiator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if config.KeyframeInterval <= 0 {
		config.KeyframeInterval = time.Second
	}

	servers := make([]webrtc.ICEServer, 0, len(iceServers))
	for _, s := range iceServers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, server)
	}

	return &PionNegotiator{
		config:          config,
		iceServers:      servers,
		surfaced:        make(map[string]bool),
		keyframeLimiter: make(map[uint32]*rate.Limiter),
		events:          make(chan ports.NegotiationEvent, 64),
		done:            make(chan struct{}),
		logger:          logger,
	}
}

// CreateOffer builds the peer connection and returns the munged offer. It
// may be called once per negotiator.
func (n *PionNegotiator) CreateOffer(ctx context.Context, prefs domain.Preferences) (string, error) {
	ctx, span := tracing.TraceWebRTC(ctx, "create_offer")
	defer span.End()

	n.mu.Lock()
	defer n.mu.Unlock()

	select {
	case <-n.done:
		return "", apperrors.NewNegotiationError("negotiator closed", domain.ErrNoActiveNegotiation)
	default:
	}
	if n.pc != nil {
		return "", apperrors.NewNegotiationError("offer already created", nil)
	}

	pc, audio, video, err := n.createPeerConnection(prefs)
	if err != nil {
		return "", err
	}

	if audio > 0 {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			pc.Close()
			return "", apperrors.NewNegotiationError("add audio transceiver", err)
		}
	}
	if video > 0 {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			pc.Close()
			return "", apperrors.NewNegotiationError("add video transceiver", err)
		}
	}

	pc.OnTrack(n.handleTrack)
	pc.OnICECandidate(n.handleICECandidate)
	pc.OnConnectionStateChange(n.handleConnectionState)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return "", apperrors.NewNegotiationError("create offer", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return "", apperrors.NewNegotiationError("set local description", err)
	}

	munged, err := MungeOffer(pc.LocalDescription().SDP, prefs)
	if err != nil {
		pc.Close()
		tracing.RecordError(ctx, err)
		return "", err
	}

	n.pc = pc
	n.prefs = prefs
	return munged, nil
}

// createPeerConnection creates a new WebRTC connection restricted to the
// preferred codecs.
func (n *PionNegotiator) createPeerConnection(prefs domain.Preferences) (*webrtc.PeerConnection, int, int, error) {
	m := &webrtc.MediaEngine{}
	audio, video, err := registerCodecs(m, prefs.VideoCodecs, prefs.AudioCodecs)
	if err != nil {
		return nil, 0, 0, apperrors.NewNegotiationError("codec registration failed", err)
	}
	if audio+video == 0 {
		return nil, 0, 0, apperrors.NewNegotiationError("no codecs preferred", nil)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, 0, 0, apperrors.NewNegotiationError("interceptor registration failed", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if n.config.PortRange.Min > 0 && n.config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(n.config.PortRange.Min, n.config.PortRange.Max); err != nil {
			return nil, 0, 0, apperrors.NewNegotiationError("invalid port range", err)
		}
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settingEngine),
	)
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   n.iceServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	})
	if err != nil {
		return nil, 0, 0, apperrors.NewNegotiationError("failed to create peer connection", err)
	}
	return pc, audio, video, nil
}

// ApplyAnswer validates and applies the remote answer, then flushes any
// candidates that arrived before it.
func (n *PionNegotiator) ApplyAnswer(ctx context.Context, answer string) error {
	ctx, span := tracing.TraceWebRTC(ctx, "apply_answer")
	defer span.End()

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pc == nil || n.isClosed() {
		return apperrors.NewNegotiationError("cannot apply answer", domain.ErrNoActiveNegotiation)
	}
	if n.remoteSet {
		return apperrors.NewNegotiationError("answer already applied", nil)
	}
	if err := ValidateAnswer(answer, n.prefs); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}

	err := n.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer})
	if err != nil {
		tracing.RecordError(ctx, err)
		return apperrors.NewNegotiationError("set remote description", err)
	}
	n.remoteSet = true

	for _, c := range n.pending {
		if err := n.pc.AddICECandidate(c); err != nil {
			n.logger.Warnw("dropping buffered remote candidate", "candidate", c.Candidate, "error", err)
		}
	}
	n.pending = nil
	return nil
}

// AddRemoteCandidate adds a trickled candidate. Candidates that arrive before
// the answer are buffered.
func (n *PionNegotiator) AddRemoteCandidate(candidate domain.IceCandidate) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pc == nil || n.isClosed() {
		return apperrors.NewIceError("cannot add candidate", domain.ErrNoActiveNegotiation)
	}
	// an empty candidate marks end of remote gathering
	if candidate.Candidate == "" {
		return nil
	}

	init := webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	}
	if !n.remoteSet {
		n.pending = append(n.pending, init)
		return nil
	}
	if err := n.pc.AddICECandidate(init); err != nil {
		return apperrors.NewIceError("add remote candidate", err)
	}
	return nil
}

func (n *PionNegotiator) Events() <-chan ports.NegotiationEvent {
	return n.events
}

// RequestKeyframe sends a PLI for ssrc. Requests inside the keyframe interval
// are suppressed.
func (n *PionNegotiator) RequestKeyframe(ssrc uint32) error {
	n.mu.Lock()
	pc := n.pc
	limiter, ok := n.keyframeLimiter[ssrc]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(n.config.KeyframeInterval), 1)
		n.keyframeLimiter[ssrc] = limiter
	}
	n.mu.Unlock()

	if pc == nil || n.isClosed() {
		return apperrors.NewIceError("cannot request keyframe", domain.ErrNoActiveNegotiation)
	}
	if !limiter.Allow() {
		return nil
	}
	if err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
		return apperrors.NewSendError("write PLI", err)
	}
	n.logger.Debugw("requested keyframe", "ssrc", ssrc)
	return nil
}

// TransportStats reads RTT from the nominated candidate pair and received
// bytes from the transport.
func (n *PionNegotiator) TransportStats() domain.TransportStats {
	n.mu.Lock()
	pc := n.pc
	n.mu.Unlock()

	var out domain.TransportStats
	if pc == nil || n.isClosed() {
		return out
	}

	for _, s := range pc.GetStats() {
		switch st := s.(type) {
		case webrtc.ICECandidatePairStats:
			if st.Nominated && st.State == webrtc.StatsICECandidatePairStateSucceeded {
				out.RTT = time.Duration(st.CurrentRoundTripTime * float64(time.Second))
			}
		case webrtc.TransportStats:
			out.BytesReceived += st.BytesReceived
		}
	}
	return out
}

// Close tears the peer connection down. Safe to call more than once.
func (n *PionNegotiator) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.done)

		n.mu.Lock()
		pc := n.pc
		n.pending = nil
		n.mu.Unlock()

		if pc != nil {
			err = pc.Close()
		}
	})
	return err
}

func (n *PionNegotiator) isClosed() bool {
	select {
	case <-n.done:
		return true
	default:
		return false
	}
}

func (n *PionNegotiator) emit(ev ports.NegotiationEvent) {
	select {
	case n.events <- ev:
	case <-n.done:
	}
}

func (n *PionNegotiator) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	codec := track.Codec()

	n.mu.Lock()
	key := track.ID() + "/" + track.RID()
	if n.surfaced[key] {
		n.mu.Unlock()
		return
	}
	n.surfaced[key] = true

	var mid string
	if n.pc != nil {
		for _, t := range n.pc.GetTransceivers() {
			if t.Receiver() == receiver {
				mid = t.Mid()
				break
			}
		}
	}
	n.mu.Unlock()

	mt := domain.MediaTrack{
		ID:        track.ID(),
		StreamID:  track.StreamID(),
		Mid:       mid,
		Kind:      domain.TrackKind(track.Kind().String()),
		Codec:     codec.MimeType,
		ClockRate: codec.ClockRate,
		Channels:  codec.Channels,
		SSRC:      uint32(track.SSRC()),
	}

	n.logger.Infow("remote track surfaced",
		"track_id", mt.ID,
		"mid", mt.Mid,
		"kind", mt.Kind,
		"codec", mt.Codec,
		"ssrc", mt.SSRC,
	)

	n.emit(ports.TrackEvent{Track: mt, Source: &remoteTrackSource{track: track, receiver: receiver}})
}

func (n *PionNegotiator) handleICECandidate(c *webrtc.ICECandidate) {
	// nil marks the end of local gathering
	if c == nil {
		return
	}
	init := c.ToJSON()
	n.emit(ports.LocalCandidateEvent{Candidate: domain.IceCandidate{
		Candidate:     init.Candidate,
		SDPMid:        init.SDPMid,
		SDPMLineIndex: init.SDPMLineIndex,
	}})
}

func (n *PionNegotiator) handleConnectionState(state webrtc.PeerConnectionState) {
	n.logger.Infow("peer connection state changed", "connection_state", state.String())

	var ps ports.PeerState
	switch state {
	case webrtc.PeerConnectionStateNew:
		ps = ports.PeerStateNew
	case webrtc.PeerConnectionStateConnecting:
		ps = ports.PeerStateConnecting
	case webrtc.PeerConnectionStateConnected:
		ps = ports.PeerStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		ps = ports.PeerStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		ps = ports.PeerStateFailed
	case webrtc.PeerConnectionStateClosed:
		ps = ports.PeerStateClosed
	default:
		return
	}
	n.emit(ports.ConnectionStateEvent{State: ps})
}

// remoteTrackSource adapts a remote track and its receiver to the pipeline
// source interfaces.
type remoteTrackSource struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
}

func (s *remoteTrackSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return s.track.ReadRTP()
}

func (s *remoteTrackSource) ReadRTCP() ([]rtcp.Packet, interceptor.Attributes, error) {
	return s.receiver.ReadRTCP()
}
