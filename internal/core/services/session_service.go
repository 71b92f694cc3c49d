package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"rillview/internal/core/domain"
	"rillview/internal/core/ports"
	apperrors "rillview/pkg/errors"
	"rillview/pkg/retry"
	"rillview/pkg/tracing"
	"rillview/pkg/utils"
	"rillview/pkg/validation"

	"go.uber.org/zap"
)

const (
	// Cached Director credentials are refreshed this long before expiry.
	credentialMargin = 10 * time.Second
	byeTimeout       = time.Second
)

// Server error reasons that mean the subscribe can never succeed.
var fatalReasons = []string{"not found", "unauthorized", "forbidden", "permission", "auth", "token"}

type SessionConfig struct {
	// ID is generated when empty.
	ID     string
	Target domain.Target
	// SignalingURL and ICEServers are used when no Director is configured.
	SignalingURL string
	ICEServers   []domain.ICEServer
	Preferences  domain.Preferences
	Events       []string

	Reconnect          retry.Config
	NegotiationTimeout time.Duration
	FirstFrameTimeout  time.Duration

	Health          HealthConfig
	FreezeThreshold time.Duration
}

func DefaultSessionConfig() SessionConfig {
	events := make([]string, 0, len(domain.AllEvents))
	for _, e := range domain.AllEvents {
		events = append(events, string(e))
	}
	return SessionConfig{
		Preferences: domain.Preferences{
			VideoCodecs: []string{"vp8", "h264", "vp9"},
			AudioCodecs: []string{"opus", "pcmu", "pcma"},
		},
		Events: events,
		Reconnect: retry.Config{
			Enabled:      true,
			MaxAttempts:  10,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
			Jitter:       true,
		},
		NegotiationTimeout: 30 * time.Second,
		FirstFrameTimeout:  10 * time.Second,
		Health:             DefaultHealthConfig(),
		FreezeThreshold:    2 * time.Second,
	}
}

// SessionDeps are the collaborators a session drives. Director and Observer
// are optional.
type SessionDeps struct {
	Transports  ports.TransportFactory
	Negotiators ports.NegotiatorFactory
	Pipelines   ports.PipelineFactory
	Director    ports.Director
	Sink        ports.Sink
	Observer    ports.Observer
}

type outcome int

const (
	outcomeStopped outcome = iota
	outcomeRetry
	outcomeMigrate
	outcomeFatal
)

type command struct {
	msg   domain.SignalingMessage
	apply func()
	reply chan error
}

// SessionService is the subscribe state machine. A single goroutine owns
// the transport, negotiator and pipeline of the current attempt; everything
// else reaches it over channels.
type SessionService struct {
	id       string
	cfg      SessionConfig
	deps     SessionDeps
	observer ports.Observer
	layers   *LayerSelector
	commands chan command
	logger   *zap.SugaredLogger

	mu             sync.Mutex
	state          domain.SessionState
	attempt        int
	reconnects     int
	endpoint       string
	subscriberID   string
	clusterID      string
	tokenExpiresAt time.Time
	tracks         []domain.MediaTrack
	startedAt      time.Time
	activeSince    time.Time
	latest         *domain.ConnectionStats
	running        bool
	cancel         context.CancelFunc
	done           chan struct{}
	err            error

	// owned by the run goroutine
	creds        *domain.Credentials
	forceRefresh bool
}

var _ ports.SessionController = (*SessionService)(nil)

func NewSessionService(cfg SessionConfig, deps SessionDeps, logger *zap.SugaredLogger) (*SessionService, error) {
	if err := validateSessionConfig(cfg, deps); err != nil {
		return nil, err
	}

	def := DefaultSessionConfig()
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = def.NegotiationTimeout
	}
	if cfg.FirstFrameTimeout <= 0 {
		cfg.FirstFrameTimeout = def.FirstFrameTimeout
	}
	if cfg.Events == nil {
		cfg.Events = def.Events
	}
	if cfg.Health == (HealthConfig{}) {
		cfg.Health = def.Health
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	id := cfg.ID
	if id == "" {
		id = utils.GenerateSessionID()
	}
	done := make(chan struct{})
	close(done)

	return &SessionService{
		id:       id,
		cfg:      cfg,
		deps:     deps,
		observer: observer,
		layers:   NewLayerSelector(cfg.Preferences.Layer, cfg.Preferences.BandwidthCeilingKbps),
		commands: make(chan command),
		logger:   logger.With("session_id", id, "stream_name", cfg.Target.StreamName),
		state:    domain.SessionStateIdle,
		done:     done,
	}, nil
}

func validateSessionConfig(cfg SessionConfig, deps SessionDeps) error {
	if err := validation.ValidateStreamName(cfg.Target.StreamName); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidateAccountID(cfg.Target.AccountID); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if deps.Director == nil {
		if err := validation.ValidateSignalingURL(cfg.SignalingURL); err != nil {
			return apperrors.NewInvalidInputError("signaling url: " + err.Error())
		}
	}
	if err := validation.ValidateCodecs(cfg.Preferences.VideoCodecs); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidateCodecs(cfg.Preferences.AudioCodecs); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if len(cfg.Preferences.VideoCodecs)+len(cfg.Preferences.AudioCodecs) == 0 {
		return apperrors.NewInvalidInputError("at least one codec is required")
	}
	if err := validation.ValidateBandwidthCeiling(cfg.Preferences.BandwidthCeilingKbps); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if deps.Transports == nil || deps.Negotiators == nil || deps.Pipelines == nil || deps.Sink == nil {
		return apperrors.NewInvalidInputError("transport, negotiator, pipeline and sink are required")
	}
	return nil
}

func (s *SessionService) ID() string {
	return s.id
}

// Subscribe starts the session. It returns once the state machine is
// running; progress is reported to the observer. Cancelling ctx has the
// same effect as Disconnect.
func (s *SessionService) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	if s.running || (s.state != domain.SessionStateIdle && s.state != domain.SessionStateError) {
		s.mu.Unlock()
		return domain.ErrSessionActive
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.done = done
	s.err = nil
	s.attempt = 0
	s.reconnects = 0
	s.latest = nil
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Infow("subscribing", "account_id", s.cfg.Target.AccountID)
	go s.run(runCtx, done)
	return nil
}

// Disconnect tears the session down and waits until it is Idle or ctx is
// done. It is safe to call in any state.
func (s *SessionService) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	running, cancel, done := s.running, s.cancel, s.done
	s.mu.Unlock()

	if !running {
		// a terminal failure leaves the session in Error without a goroutine
		if s.State() == domain.SessionStateError && s.transition(domain.SessionStateDisconnecting, false, nil) {
			s.transition(domain.SessionStateIdle, false, nil)
		}
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the state machine goroutine exits.
func (s *SessionService) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the terminal error of the last run, if any.
func (s *SessionService) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *SessionService) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *SessionService) Snapshot() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Session{
		ID:             s.id,
		Target:         s.cfg.Target,
		Endpoint:       s.endpoint,
		Preferences:    s.cfg.Preferences,
		State:          s.state,
		StateName:      s.state.String(),
		Attempt:        s.attempt,
		Reconnects:     s.reconnects,
		SubscriberID:   s.subscriberID,
		ClusterID:      s.clusterID,
		TokenExpiresAt: s.tokenExpiresAt,
		Tracks:         append([]domain.MediaTrack(nil), s.tracks...),
		SelectedLayer:  s.layers.Current(),
		StartedAt:      s.startedAt,
		ActiveSince:    s.activeSince,
	}
}

func (s *SessionService) LatestStats() (domain.ConnectionStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return domain.ConnectionStats{}, false
	}
	return *s.latest, true
}

// SelectLayer pins a simulcast layer. A nil layer lets the server choose.
func (s *SessionService) SelectLayer(ctx context.Context, layer *domain.Layer) error {
	var pinned *domain.Layer
	if layer != nil {
		if err := validation.ValidateLayer(layer.EncodingID, layer.SpatialLayerID, layer.TemporalLayerID); err != nil {
			return apperrors.NewInvalidInputError(err.Error())
		}
		l := *layer
		pinned = &l
	}
	return s.sendCommand(ctx, command{
		msg:   domain.SelectLayer{Layer: pinned},
		apply: func() { s.layers.Pin(pinned) },
	})
}

// Project maps a source's tracks onto this session's transceivers.
func (s *SessionService) Project(ctx context.Context, sourceID string, mappings []domain.ProjectionMapping) error {
	if len(mappings) == 0 {
		return apperrors.NewInvalidInputError("at least one mapping is required")
	}
	for _, m := range mappings {
		if m.TrackID == "" || m.Mid == "" {
			return apperrors.NewInvalidInputError("mapping needs a track id and a mid")
		}
	}
	return s.sendCommand(ctx, command{msg: domain.Project{SourceID: sourceID, Mappings: mappings}})
}

func (s *SessionService) Unproject(ctx context.Context, mids []string) error {
	if len(mids) == 0 {
		return apperrors.NewInvalidInputError("at least one mid is required")
	}
	return s.sendCommand(ctx, command{msg: domain.Unproject{Mids: mids}})
}

func (s *SessionService) sendCommand(ctx context.Context, cmd command) error {
	s.mu.Lock()
	running, done := s.running, s.done
	s.mu.Unlock()
	if !running {
		return apperrors.NewSendError("session is not running", domain.ErrNotConnected)
	}

	cmd.reply = make(chan error, 1)
	select {
	case s.commands <- cmd:
	case <-done:
		return apperrors.NewSendError("session is not running", domain.ErrNotConnected)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SessionService) run(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.cancel()
		s.mu.Unlock()
		close(done)
	}()

	backoff := retry.NewBackoff(s.cfg.Reconnect)
	resetAttempts := false
	for {
		s.mu.Lock()
		if resetAttempts {
			s.attempt = 0
			resetAttempts = false
		}
		s.attempt++
		s.tracks = nil
		s.activeSince = time.Time{}
		s.mu.Unlock()
		s.layers.Reset()

		s.transition(domain.SessionStateNegotiating, false, nil)

		a := newAttempt()
		res, err := s.runAttempt(ctx, a)

		if res == outcomeStopped {
			s.transition(domain.SessionStateDisconnecting, false, nil)
			a.close(true, s.logger)
			s.transition(domain.SessionStateIdle, false, nil)
			s.logger.Infow("session disconnected")
			return
		}
		a.close(false, s.logger)

		if a.reachedActive {
			backoff.Reset()
			resetAttempts = true
		}

		if res == outcomeRetry && backoff.Exhausted() {
			err = apperrors.NewConnectionError(
				fmt.Sprintf("giving up after %d reconnect attempts", backoff.Attempts()), err)
			res = outcomeFatal
		}
		if res == outcomeFatal {
			s.logger.Errorw("session failed", "error", err)
			s.transition(domain.SessionStateError, true, err)
			return
		}

		var delay time.Duration
		if res == outcomeMigrate {
			s.forceRefresh = true
		} else {
			delay = backoff.Next()
		}
		s.logger.Warnw("session interrupted, reconnecting",
			"error", err,
			"delay", delay,
			"reconnect", backoff.Attempts(),
		)
		s.transition(domain.SessionStateError, false, nil)

		s.mu.Lock()
		s.reconnects++
		s.mu.Unlock()

		if !s.wait(ctx, delay) {
			s.transition(domain.SessionStateDisconnecting, false, nil)
			s.transition(domain.SessionStateIdle, false, nil)
			s.logger.Infow("session disconnected")
			return
		}
	}
}

// wait sleeps through a backoff delay, refusing host commands meanwhile.
func (s *SessionService) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case cmd := <-s.commands:
			cmd.reply <- apperrors.NewSendError("session is reconnecting", domain.ErrNotConnected)
		}
	}
}

// attempt holds the resources of one connection attempt.
type attempt struct {
	transport      ports.SignalingTransport
	negotiator     ports.Negotiator
	pipeline       ports.TrackPipeline
	degraded       chan string
	monitorCancel  context.CancelFunc
	monitorDone    chan struct{}
	answered       bool
	firstFrameSeen bool
	reachedActive  bool
	closeOnce      sync.Once
}

func newAttempt() *attempt {
	return &attempt{degraded: make(chan string, 1)}
}

// close releases everything the attempt acquired, each handle exactly once.
func (a *attempt) close(bye bool, logger *zap.SugaredLogger) {
	a.closeOnce.Do(func() {
		if a.monitorCancel != nil {
			a.monitorCancel()
			<-a.monitorDone
		}
		if a.pipeline != nil {
			if err := a.pipeline.Close(); err != nil {
				logger.Debugw("pipeline close failed", "error", err)
			}
		}
		if a.negotiator != nil {
			if err := a.negotiator.Close(); err != nil {
				logger.Debugw("negotiator close failed", "error", err)
			}
		}
		if a.transport != nil {
			if bye {
				ctx, cancel := context.WithTimeout(context.Background(), byeTimeout)
				if err := a.transport.Send(ctx, domain.Disconnect{Reason: "client disconnect"}); err != nil {
					logger.Debugw("disconnect message not sent", "error", err)
				}
				cancel()
			}
			if err := a.transport.Close(); err != nil {
				logger.Debugw("transport close failed", "error", err)
			}
		}
	})
}

func (s *SessionService) runAttempt(ctx context.Context, a *attempt) (outcome, error) {
	s.mu.Lock()
	n := s.attempt
	s.mu.Unlock()

	spanCtx, span := tracing.TraceSubscribe(ctx, s.id, s.cfg.Target.StreamName, n)
	defer span.End()

	deadline := time.Now().Add(s.cfg.NegotiationTimeout)
	setupCtx, cancel := context.WithDeadline(spanCtx, deadline)
	err := s.setup(setupCtx, a)
	timedOut := errors.Is(setupCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return outcomeStopped, nil
		}
		if timedOut {
			err = apperrors.NewIceError("negotiation timed out", err)
		}
		tracing.RecordError(spanCtx, err)
		return classify(err), err
	}

	res, err := s.loop(ctx, a, deadline)
	if err != nil {
		tracing.RecordError(spanCtx, err)
	}
	return res, err
}

func classify(err error) outcome {
	if apperrors.IsRetryable(err) {
		return outcomeRetry
	}
	return outcomeFatal
}

// setup resolves credentials, connects signaling and sends the offer.
func (s *SessionService) setup(ctx context.Context, a *attempt) error {
	creds, err := s.credentials(ctx)
	if err != nil {
		return err
	}

	iceServers := creds.ICEServers
	if len(iceServers) == 0 {
		iceServers = s.cfg.ICEServers
	}
	a.negotiator, err = s.deps.Negotiators(iceServers)
	if err != nil {
		return apperrors.NewNegotiationError("create negotiator", err)
	}
	a.pipeline = s.deps.Pipelines(s.deps.Sink, a.negotiator)
	a.transport = s.deps.Transports()

	endpoint, _, _ := strings.Cut(creds.SignalingURL, "?")
	s.mu.Lock()
	s.endpoint = endpoint
	s.mu.Unlock()

	if err := a.transport.Connect(ctx, creds.SignalingURL); err != nil {
		return err
	}

	offer, err := a.negotiator.CreateOffer(ctx, s.cfg.Preferences)
	if err != nil {
		return err
	}

	return a.transport.Send(ctx, domain.SubscribeRequest{
		StreamName: s.cfg.Target.StreamName,
		AccountID:  s.cfg.Target.AccountID,
		SDP:        offer,
		Events:     s.cfg.Events,
	})
}

func (s *SessionService) credentials(ctx context.Context) (*domain.Credentials, error) {
	if s.deps.Director == nil {
		return &domain.Credentials{SignalingURL: s.cfg.SignalingURL, ICEServers: s.cfg.ICEServers}, nil
	}
	if !s.forceRefresh && s.creds.Valid(time.Now(), credentialMargin) {
		return s.creds, nil
	}

	creds, err := s.deps.Director.Authenticate(ctx, s.cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	s.creds = creds
	s.forceRefresh = false

	s.mu.Lock()
	s.tokenExpiresAt = creds.ExpiresAt
	s.mu.Unlock()
	return creds, nil
}

// loop runs the attempt until it fails or the session is stopped.
func (s *SessionService) loop(ctx context.Context, a *attempt, deadline time.Time) (outcome, error) {
	negotiation := time.NewTimer(time.Until(deadline))
	defer negotiation.Stop()
	negotiationExpired := negotiation.C

	firstFrame := time.NewTimer(s.cfg.FirstFrameTimeout)
	firstFrame.Stop()
	defer firstFrame.Stop()
	var firstFrameExpired <-chan time.Time

	inbound := a.transport.Inbound()
	for {
		select {
		case <-ctx.Done():
			return outcomeStopped, nil

		case <-negotiationExpired:
			return outcomeRetry, apperrors.NewIceError("negotiation timed out", nil)

		case <-firstFrameExpired:
			return outcomeRetry, apperrors.NewConnectionError("no media within first-frame timeout", nil)

		case ev, ok := <-inbound:
			if !ok {
				return outcomeRetry, apperrors.NewConnectionError("signaling closed", nil)
			}
			if ev.Err != nil {
				if !apperrors.IsAppError(ev.Err) {
					return outcomeRetry, apperrors.NewConnectionError("signaling failed", ev.Err)
				}
				return classify(ev.Err), ev.Err
			}
			if res, stop, err := s.handleMessage(ctx, a, ev.Message); stop {
				return res, err
			}

		case ev := <-a.negotiator.Events():
			switch e := ev.(type) {
			case ports.TrackEvent:
				s.addTrack(a, e)
			case ports.LocalCandidateEvent:
				if err := a.transport.Send(ctx, e.Candidate); err != nil {
					s.logger.Debugw("local candidate not sent", "error", err)
				}
			case ports.ConnectionStateEvent:
				switch e.State {
				case ports.PeerStateConnected:
					if s.State() == domain.SessionStateNegotiating {
						s.transition(domain.SessionStateConnected, false, nil)
						negotiation.Stop()
						negotiationExpired = nil
						if a.firstFrameSeen {
							s.activate(ctx, a)
						} else {
							firstFrame.Reset(s.cfg.FirstFrameTimeout)
							firstFrameExpired = firstFrame.C
						}
					}
				case ports.PeerStateDisconnected:
					s.logger.Warnw("peer connection interrupted")
				case ports.PeerStateFailed:
					return outcomeRetry, apperrors.NewIceError("ice connectivity failed", nil)
				case ports.PeerStateClosed:
					return outcomeRetry, apperrors.NewConnectionError("peer connection closed", nil)
				}
			}

		case ev := <-a.pipeline.Events():
			switch e := ev.(type) {
			case ports.FirstFrameEvent:
				a.firstFrameSeen = true
				if s.State() == domain.SessionStateConnected {
					firstFrame.Stop()
					firstFrameExpired = nil
					s.activate(ctx, a)
				}
			case ports.TrackEndedEvent:
				if e.Err != nil {
					s.logger.Warnw("track ended with error", "track_id", e.TrackID, "error", e.Err)
				} else {
					s.logger.Infow("track ended", "track_id", e.TrackID)
				}
			}

		case reason := <-a.degraded:
			return outcomeRetry, apperrors.NewConnectionError("quality degraded: "+reason, nil)

		case cmd := <-s.commands:
			cmd.reply <- s.execute(ctx, a, cmd)
		}
	}
}

// handleMessage processes one inbound message. stop reports that the
// attempt is over.
func (s *SessionService) handleMessage(ctx context.Context, a *attempt, msg domain.SignalingMessage) (outcome, bool, error) {
	switch m := msg.(type) {
	case domain.SubscribeResponse:
		if a.answered {
			s.logger.Warnw("ignoring duplicate subscribe response")
			return 0, false, nil
		}
		if m.SDP == "" {
			return outcomeFatal, true, apperrors.NewNegotiationError("subscribe response without sdp", nil)
		}
		if err := a.negotiator.ApplyAnswer(ctx, m.SDP); err != nil {
			if !apperrors.IsAppError(err) {
				err = apperrors.NewNegotiationError("apply answer", err)
			}
			return classify(err), true, err
		}
		a.answered = true
		s.mu.Lock()
		s.subscriberID = m.SubscriberID
		s.clusterID = m.ClusterID
		s.mu.Unlock()
		s.logger.Infow("answer applied", "subscriber_id", m.SubscriberID, "cluster_id", m.ClusterID)

	case domain.IceCandidate:
		if err := a.negotiator.AddRemoteCandidate(m); err != nil {
			s.logger.Debugw("remote candidate rejected", "error", err)
		}

	case domain.EventMessage:
		s.observer.OnServerEvent(m.Event)
		switch e := m.Event.(type) {
		case domain.Migrate:
			s.logger.Infow("server requested migration")
			return outcomeMigrate, true, apperrors.NewConnectionError("server requested migration", nil)
		case domain.LayersChanged:
			if layer, ok := s.layers.Choose(e); ok {
				s.logger.Infow("selecting layer", "layer", layer.String())
				if err := a.transport.Send(ctx, domain.SelectLayer{Layer: &layer}); err != nil {
					s.logger.Warnw("layer selection not sent", "error", err)
				}
			}
		case domain.StreamStopped:
			s.logger.Infow("publisher stopped the stream")
		}

	case domain.ErrorMessage:
		return s.serverError(m.Reason)

	case domain.Disconnect:
		return outcomeRetry, true, apperrors.NewConnectionError("server disconnected: "+m.Reason, nil)

	default:
		s.logger.Debugw("ignoring signaling message", "type", msg.MessageType())
	}
	return 0, false, nil
}

func (s *SessionService) serverError(reason string) (outcome, bool, error) {
	normalized := strings.ToLower(strings.ReplaceAll(reason, "_", " "))
	for _, marker := range fatalReasons {
		if strings.Contains(normalized, marker) {
			return outcomeFatal, true, apperrors.NewAuthError("subscribe rejected: "+reason, nil)
		}
	}
	return outcomeRetry, true, apperrors.NewConnectionError("server error: "+reason, nil)
}

func (s *SessionService) addTrack(a *attempt, ev ports.TrackEvent) {
	if err := a.pipeline.AddTrack(ev.Track, ev.Source); err != nil {
		s.logger.Warnw("track not added", "track_id", ev.Track.ID, "error", err)
		return
	}
	s.mu.Lock()
	s.tracks = append(s.tracks, ev.Track)
	s.mu.Unlock()
}

// activate moves to Active and starts health monitoring.
func (s *SessionService) activate(ctx context.Context, a *attempt) {
	a.reachedActive = true
	s.mu.Lock()
	s.activeSince = time.Now()
	reconnects := s.reconnects
	s.mu.Unlock()
	s.transition(domain.SessionStateActive, false, nil)

	collector := NewStatsCollector(s.id, s.cfg.FreezeThreshold, a.pipeline, a.negotiator)
	collector.SetReconnects(reconnects)

	degraded := a.degraded
	monitor := NewHealthMonitor(s.cfg.Health, collector, s.publishStats, func(reason string) {
		select {
		case degraded <- reason:
		default:
		}
	}, s.logger)

	monitorCtx, cancel := context.WithCancel(ctx)
	a.monitorCancel = cancel
	a.monitorDone = make(chan struct{})
	go func() {
		defer close(a.monitorDone)
		monitor.Run(monitorCtx)
	}()
}

func (s *SessionService) publishStats(stats domain.ConnectionStats) {
	s.mu.Lock()
	s.latest = &stats
	s.mu.Unlock()
	s.observer.OnStats(stats)
}

func (s *SessionService) execute(ctx context.Context, a *attempt, cmd command) error {
	state := s.State()
	if state != domain.SessionStateConnected && state != domain.SessionStateActive {
		return apperrors.NewSendError("session is "+state.String(), domain.ErrNotConnected)
	}
	if err := a.transport.Send(ctx, cmd.msg); err != nil {
		return err
	}
	if cmd.apply != nil {
		cmd.apply()
	}
	return nil
}

// transition applies one lifecycle edge and notifies the observer. Edges
// outside the lifecycle are refused.
func (s *SessionService) transition(to domain.SessionState, terminal bool, err error) bool {
	s.mu.Lock()
	from := s.state
	if !from.CanTransition(to) {
		s.mu.Unlock()
		s.logger.Errorw("refusing state transition",
			"from", from.String(),
			"to", to.String(),
			"error", domain.ErrInvalidTransition,
		)
		return false
	}
	s.state = to
	if terminal {
		s.err = err
	}
	change := domain.StateChange{
		SessionID: s.id,
		From:      from,
		To:        to,
		Attempt:   s.attempt,
		Terminal:  terminal,
		Err:       err,
		At:        time.Now(),
	}
	s.mu.Unlock()

	s.logger.Infow("session state changed",
		"from", from.String(),
		"state", to.String(),
		"attempt", change.Attempt,
		"terminal", terminal,
	)
	s.observer.OnStateChanged(change)
	return true
}

type nopObserver struct{}

func (nopObserver) OnStateChanged(domain.StateChange) {}
func (nopObserver) OnStats(domain.ConnectionStats)    {}
func (nopObserver) OnServerEvent(domain.ServerEvent)  {}
