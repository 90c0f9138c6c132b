// Package session drives one three-stage voice conversation: connection
// lifecycle, push-to-talk turn gating, stage sequencing, and the ordered event
// stream every consumer renders from.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/events"
	"github.com/rbright/parley/internal/fault"
	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/realtime"
	"github.com/rbright/parley/internal/rtc"
	"github.com/rbright/parley/internal/script"
	"github.com/rbright/parley/internal/transcript"
)

var (
	// ErrTerminal is returned by operations on a finished session.
	ErrTerminal = errors.New("session has ended; create a new session")
	// ErrBusy is returned by Start when the session is not waiting for a credential.
	ErrBusy = errors.New("session is not waiting for a credential")
	// ErrNotSimulating is returned by RetrySimulation before stage 2.
	ErrNotSimulating = errors.New("simulation has not started")
)

// StopReasonUser is the reason for a clean, user-initiated stop.
const StopReasonUser = "stopped"

// TurnCounters tracks stage-2 turns.
type TurnCounters struct {
	PartnerTurns int `json:"partnerTurns"`
	UserTurns    int `json:"userTurns"`
}

// Total is the number of completed stage-2 turns.
func (c TurnCounters) Total() int {
	return c.PartnerTurns + c.UserTurns
}

// Options configures a Session.
type Options struct {
	Logger    *slog.Logger
	Transport Transport
	Pipeline  *audio.Pipeline
	Script    script.Script
	UserName  string

	// Simulation starts the session directly in stage 2 with this context,
	// skipping intake.
	Simulation *events.TokenRequest
}

// Session is one conversation. It is safe for concurrent use; all state
// changes are serialized by one mutex and published in order.
type Session struct {
	id        string
	logger    *slog.Logger
	transport Transport
	pipeline  *audio.Pipeline
	script    script.Script
	userName  string
	bus       *events.Bus

	mu          sync.Mutex
	state       fsm.State
	stage       int
	conn        Conn
	attempt     uint64
	dialCancel  context.CancelFunc
	credentials credentialSet
	turns       TurnCounters
	awaitingEnd bool
	tokenReq    *events.TokenRequest
	log         transcript.Log
	intakeLog   []transcript.Turn
	evaluation  *events.Evaluation
	stopReason  string
}

// New creates an idle session.
func New(opts Options) (*Session, error) {
	if opts.Transport == nil {
		return nil, errors.New("session: transport is required")
	}
	if opts.Pipeline == nil {
		opts.Pipeline = audio.NewPipeline(nil, nil)
	}
	if opts.Script.Turns.Total() == 0 {
		opts.Script = script.Default()
	}

	s := &Session{
		id:          uuid.NewString(),
		logger:      opts.Logger,
		transport:   opts.Transport,
		pipeline:    opts.Pipeline,
		script:      opts.Script,
		userName:    strings.TrimSpace(opts.UserName),
		bus:         events.NewBus(opts.Logger),
		state:       fsm.StateIdle,
		stage:       1,
		credentials: credentialSet{},
	}
	if opts.Simulation != nil {
		req := *opts.Simulation
		if req.UserName == "" {
			req.UserName = s.userName
		}
		if req.Voice == "" {
			req.Voice = s.script.Partner.Voice
		}
		s.tokenReq = &req
		s.stage = 2
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() fsm.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stage returns the current stage (1, 2, or 3).
func (s *Session) Stage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Turns returns the stage-2 turn counters.
func (s *Session) Turns() TurnCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

// Evaluation returns the stage-3 result once received.
func (s *Session) Evaluation() (events.Evaluation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evaluation == nil {
		return events.Evaluation{}, false
	}
	return *s.evaluation, true
}

// Transcript returns the intake turns followed by the current stage's turns.
func (s *Session) Transcript() []transcript.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]transcript.Turn(nil), s.intakeLog...)
	return append(out, s.log.Turns()...)
}

// TokenRequest returns the stored stage-2 context, if any.
func (s *Session) TokenRequest() (events.TokenRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokenReq == nil {
		return events.TokenRequest{}, false
	}
	return *s.tokenReq, true
}

// StopReason returns the reason passed to Stop.
func (s *Session) StopReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopReason
}

// OnEvent subscribes listener to every session event.
func (s *Session) OnEvent(listener events.Listener) *events.Subscription {
	return s.bus.Subscribe(listener)
}

// OffEvent removes a subscription.
func (s *Session) OffEvent(sub *events.Subscription) {
	s.bus.Unsubscribe(sub)
}

// MicStream returns the session's shared microphone, acquiring it on first use.
func (s *Session) MicStream(ctx context.Context) (*audio.MicStream, error) {
	return s.pipeline.MicStream(ctx)
}

// Analyser returns the visualization tap for the current state, or nil.
func (s *Session) Analyser() audio.Analyser {
	return s.pipeline.Analyser(s.State())
}

// Start opens a connection with credential. The first call opens stage 1 (or
// stage 2 when the session was created with a simulation context); after
// stage2_token_needed the next call opens stage 2. Start blocks for the
// signaling round trip.
func (s *Session) Start(ctx context.Context, credential string) error {
	s.mu.Lock()
	if s.credentials.seen(credential) {
		err := fault.Newf(fault.KindAuth, "start", "credential was already consumed")
		s.failLocked(err)
		s.mu.Unlock()
		s.bus.Flush()
		return err
	}
	if s.state.Terminal() {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrTerminal, state)
	}
	if !s.awaitingCredentialLocked() {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrBusy, state)
	}
	s.credentials.consume(credential)

	stage := s.stage
	cfg, err := s.sessionConfigLocked()
	if err != nil {
		s.failLocked(err)
		s.mu.Unlock()
		s.bus.Flush()
		return err
	}

	s.attempt++
	attempt := s.attempt
	dialCtx, cancel := context.WithCancel(ctx)
	s.dialCancel = cancel
	s.mu.Unlock()

	s.debug("opening connection", "stage", stage)
	conn, err := s.dial(dialCtx, credential, cfg, attempt)
	cancel()

	s.mu.Lock()
	if s.attempt != attempt || s.state.Terminal() {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		if err == nil {
			err = context.Canceled
		}
		return fmt.Errorf("start interrupted: %w", err)
	}
	s.dialCancel = nil
	if err != nil {
		s.failLocked(err)
		s.mu.Unlock()
		s.bus.Flush()
		return err
	}

	s.conn = conn
	switch {
	case s.state == fsm.StateIdle && stage == 1:
		s.applyLocked(fsm.EventConnected, nil)
	case s.state == fsm.StateIdle:
		s.applyLocked(fsm.EventConnected, nil)
		s.applyLocked(fsm.EventBeginSimulation, s.enterSimulationLocked)
	default:
		s.enterSimulationLocked()
	}
	// The model waits for a response request before speaking first.
	if err := conn.Send(realtime.CreateResponse(nil)); err != nil {
		s.failLocked(err)
	}
	s.mu.Unlock()
	s.bus.Flush()

	conn.Deliver()
	return nil
}

func (s *Session) dial(ctx context.Context, credential string, cfg realtime.SessionConfig, attempt uint64) (Conn, error) {
	mic, err := s.pipeline.MicStream(ctx)
	if err != nil {
		return nil, err
	}
	return s.transport.Dial(ctx, rtc.Params{
		Credential: credential,
		Session:    cfg,
		Mic:        mic,
		Sink:       s.pipeline.Sink(),
		Handler:    connHandler{session: s, attempt: attempt},
	})
}

func (s *Session) awaitingCredentialLocked() bool {
	if s.conn != nil || s.dialCancel != nil {
		return false
	}
	switch s.state {
	case fsm.StateIdle:
		return true
	case fsm.StateLoadingSimulation:
		return s.stage == 2
	default:
		return false
	}
}

// enterSimulationLocked resets per-stage state on stage-2 entry.
func (s *Session) enterSimulationLocked() {
	s.turns = TurnCounters{}
	s.awaitingEnd = false
	s.log.Reset()
}

// Stop ends the session from any state. It cancels an in-flight dial,
// disables and releases the microphone, and closes the connection. Stopping
// an already stopped session does nothing.
//
// The SESSION_STOPPED event has been delivered when Stop returns, unless
// another goroutine is delivering events at that moment; that goroutine then
// delivers it before its own call returns.
func (s *Session) Stop(reason string) {
	s.mu.Lock()
	if s.state == fsm.StateSessionStopped {
		s.mu.Unlock()
		return
	}
	if strings.TrimSpace(reason) == "" {
		reason = StopReasonUser
	}
	s.stopReason = reason
	s.applyLocked(fsm.EventStop, nil)
	s.teardownLocked()
	s.mu.Unlock()
	s.bus.Flush()

	s.info("session stopped", "reason", reason)
}

// applyLocked runs event through the state machine. On success, mutate runs
// before the state event is queued so the event carries updated counters.
// Rejected transitions change nothing and queue nothing.
func (s *Session) applyLocked(event fsm.Event, mutate func()) bool {
	next, err := fsm.Transition(s.state, event)
	if err != nil {
		s.debug("transition rejected", "event", string(event), "error", err.Error())
		return false
	}
	s.state = next
	if mutate != nil {
		mutate()
	}
	if mic := s.pipeline.Current(); mic != nil && next != fsm.StatePushToTalkActive {
		mic.SetEnabled(false)
	}
	s.bus.Enqueue(events.StateChanged(next, s.turns.PartnerTurns, s.turns.UserTurns, s.stage == 2))
	s.debug("state changed", "state", string(next), "event", string(event))
	return true
}

// failLocked surfaces err and moves to SESSION_ERROR.
func (s *Session) failLocked(err error) {
	if s.state.Terminal() {
		return
	}
	code := fault.KindOf(err).Code()
	s.bus.Enqueue(events.Failure(err.Error(), code))
	s.applyLocked(fsm.EventFail, nil)
	s.teardownLocked()
	s.warn("session failed", "kind", code, "error", err.Error())
}

// teardownLocked releases every resource of a finished session.
func (s *Session) teardownLocked() {
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	s.attempt++
	s.closeConnLocked()
	s.pipeline.Release()
}

// closeConnLocked closes the live connection, keeping the microphone.
func (s *Session) closeConnLocked() {
	if s.conn == nil {
		return
	}
	if mic := s.pipeline.Current(); mic != nil {
		mic.SetEnabled(false)
	}
	if err := s.conn.Close(); err != nil {
		s.debug("close connection", "error", err.Error())
	}
	s.conn = nil
}

func (s *Session) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, append([]any{"session", s.id}, args...)...)
	}
}

func (s *Session) info(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, append([]any{"session", s.id}, args...)...)
	}
}

func (s *Session) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, append([]any{"session", s.id}, args...)...)
	}
}
