package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"rillview/internal/core/domain"
	"rillview/internal/core/ports"
	apperrors "rillview/pkg/errors"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 3 * time.Second

type fakeTransport struct {
	created time.Time
	inbound chan ports.TransportEvent
	sentCh  chan domain.SignalingMessage

	mu     sync.Mutex
	url    string
	sent   []domain.SignalingMessage
	closed int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		created: time.Now(),
		inbound: make(chan ports.TransportEvent, 64),
		sentCh:  make(chan domain.SignalingMessage, 64),
	}
}

func (f *fakeTransport) Connect(_ context.Context, url string) error {
	f.mu.Lock()
	f.url = url
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Send(_ context.Context, msg domain.SignalingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed > 0 {
		return apperrors.NewSendError("closed", domain.ErrNotConnected)
	}
	f.sent = append(f.sent, msg)
	select {
	case f.sentCh <- msg:
	default:
	}
	return nil
}

func (f *fakeTransport) Inbound() <-chan ports.TransportEvent {
	return f.inbound
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) push(msg domain.SignalingMessage) {
	f.inbound <- ports.TransportEvent{Message: msg}
}

func (f *fakeTransport) drop() {
	f.inbound <- ports.TransportEvent{Err: apperrors.NewConnectionError("connection reset", nil)}
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) sentMessages() []domain.SignalingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SignalingMessage(nil), f.sent...)
}

// nextSent returns the next sent message of type T.
func nextSent[T domain.SignalingMessage](t *testing.T, f *fakeTransport) T {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case msg := <-f.sentCh:
			if m, ok := msg.(T); ok {
				return m
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

type fakeNegotiator struct {
	events   chan ports.NegotiationEvent
	applyErr error

	mu         sync.Mutex
	answer     string
	candidates []domain.IceCandidate
	closed     int
}

func newFakeNegotiator() *fakeNegotiator {
	return &fakeNegotiator{events: make(chan ports.NegotiationEvent, 64)}
}

func (n *fakeNegotiator) CreateOffer(context.Context, domain.Preferences) (string, error) {
	return "offer-sdp", nil
}

func (n *fakeNegotiator) ApplyAnswer(_ context.Context, sdp string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.answer = sdp
	return n.applyErr
}

func (n *fakeNegotiator) AddRemoteCandidate(c domain.IceCandidate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.candidates = append(n.candidates, c)
	return nil
}

func (n *fakeNegotiator) Events() <-chan ports.NegotiationEvent {
	return n.events
}

func (n *fakeNegotiator) TransportStats() domain.TransportStats {
	return domain.TransportStats{RTT: 20 * time.Millisecond}
}

func (n *fakeNegotiator) RequestKeyframe(uint32) error {
	return nil
}

func (n *fakeNegotiator) Close() error {
	n.mu.Lock()
	n.closed++
	n.mu.Unlock()
	return nil
}

func (n *fakeNegotiator) closeCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

func (n *fakeNegotiator) candidateCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.candidates)
}

type fakePipeline struct {
	events chan ports.PipelineEvent
	stats  func() []domain.TrackStats

	mu     sync.Mutex
	tracks []domain.MediaTrack
	closed int
}

func newFakePipeline(stats func() []domain.TrackStats) *fakePipeline {
	return &fakePipeline{events: make(chan ports.PipelineEvent, 16), stats: stats}
}

func (p *fakePipeline) AddTrack(track domain.MediaTrack, _ ports.TrackSource) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, track)
	return nil
}

func (p *fakePipeline) Events() <-chan ports.PipelineEvent {
	return p.events
}

func (p *fakePipeline) Stats() []domain.TrackStats {
	if p.stats == nil {
		return nil
	}
	return p.stats()
}

func (p *fakePipeline) Close() error {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
	return nil
}

func (p *fakePipeline) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type nopSink struct{}

func (nopSink) OnAudioFrame(domain.AudioFrame) {}
func (nopSink) OnVideoFrame(domain.VideoFrame) {}

type recordingObserver struct {
	changes chan domain.StateChange

	mu     sync.Mutex
	events []domain.ServerEvent
	stats  []domain.ConnectionStats
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{changes: make(chan domain.StateChange, 256)}
}

func (o *recordingObserver) OnStateChanged(change domain.StateChange) {
	o.changes <- change
}

func (o *recordingObserver) OnStats(stats domain.ConnectionStats) {
	o.mu.Lock()
	o.stats = append(o.stats, stats)
	o.mu.Unlock()
}

func (o *recordingObserver) OnServerEvent(event domain.ServerEvent) {
	o.mu.Lock()
	o.events = append(o.events, event)
	o.mu.Unlock()
}

func (o *recordingObserver) statsCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.stats)
}

func (o *recordingObserver) serverEvents() []domain.ServerEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.ServerEvent(nil), o.events...)
}

type mockDirector struct {
	mock.Mock
}

func (m *mockDirector) Authenticate(ctx context.Context, target domain.Target) (*domain.Credentials, error) {
	args := m.Called(ctx, target)
	creds, _ := args.Get(0).(*domain.Credentials)
	return creds, args.Error(1)
}

// harness wires a SessionService to fakes and hands each attempt's fakes
// to the test as they are created.
type harness struct {
	observer    *recordingObserver
	transports  chan *fakeTransport
	negotiators chan *fakeNegotiator
	pipelines   chan *fakePipeline
	stats       func() []domain.TrackStats
	director    ports.Director
}

func newHarness() *harness {
	return &harness{
		observer:    newRecordingObserver(),
		transports:  make(chan *fakeTransport, 16),
		negotiators: make(chan *fakeNegotiator, 16),
		pipelines:   make(chan *fakePipeline, 16),
	}
}

func testSessionConfig() SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.Target = domain.Target{AccountID: "acc123", StreamName: "feed"}
	cfg.SignalingURL = "ws://edge.test/ws?token=secret"
	cfg.Reconnect.InitialDelay = 20 * time.Millisecond
	cfg.Reconnect.MaxDelay = 100 * time.Millisecond
	cfg.Reconnect.Jitter = false
	return cfg
}

func (h *harness) service(t *testing.T, cfg SessionConfig) *SessionService {
	t.Helper()
	deps := SessionDeps{
		Transports: func() ports.SignalingTransport {
			tr := newFakeTransport()
			h.transports <- tr
			return tr
		},
		Negotiators: func([]domain.ICEServer) (ports.Negotiator, error) {
			n := newFakeNegotiator()
			h.negotiators <- n
			return n, nil
		},
		Pipelines: func(ports.Sink, ports.KeyframeRequester) ports.TrackPipeline {
			p := newFakePipeline(h.stats)
			h.pipelines <- p
			return p
		},
		Director: h.director,
		Sink:     nopSink{},
		Observer: h.observer,
	}
	svc, err := NewSessionService(cfg, deps, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = svc.Disconnect(ctx)
	})
	return svc
}

// attemptFakes returns the fakes of the next connection attempt.
func (h *harness) attemptFakes(t *testing.T) (*fakeTransport, *fakeNegotiator, *fakePipeline) {
	t.Helper()
	var (
		n  *fakeNegotiator
		p  *fakePipeline
		tr *fakeTransport
	)
	timeout := time.After(waitTimeout)
	select {
	case n = <-h.negotiators:
	case <-timeout:
		t.Fatal("no negotiator created")
	}
	select {
	case p = <-h.pipelines:
	case <-timeout:
		t.Fatal("no pipeline created")
	}
	select {
	case tr = <-h.transports:
	case <-timeout:
		t.Fatal("no transport created")
	}
	return tr, n, p
}

// waitState skips state changes until one reaches want.
func (h *harness) waitState(t *testing.T, want domain.SessionState) domain.StateChange {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case change := <-h.observer.changes:
			if change.To == want {
				return change
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
			return domain.StateChange{}
		}
	}
}

// activate drives a fresh attempt to Active.
func (h *harness) activate(t *testing.T) (*fakeTransport, *fakeNegotiator, *fakePipeline) {
	t.Helper()
	tr, n, p := h.attemptFakes(t)
	nextSent[domain.SubscribeRequest](t, tr)
	tr.push(domain.SubscribeResponse{SDP: "answer-sdp", SubscriberID: "sub-1", ClusterID: "eu-1"})
	n.events <- ports.TrackEvent{Track: videoTrack}
	n.events <- ports.ConnectionStateEvent{State: ports.PeerStateConnected}
	h.waitState(t, domain.SessionStateConnected)
	p.events <- ports.FirstFrameEvent{TrackID: videoTrack.ID, Kind: domain.TrackKindVideo}
	h.waitState(t, domain.SessionStateActive)
	return tr, n, p
}

var videoTrack = domain.MediaTrack{
	ID:        "video0",
	Mid:       "1",
	Kind:      domain.TrackKindVideo,
	Codec:     "video/VP8",
	ClockRate: 90000,
	SSRC:      2222,
}
