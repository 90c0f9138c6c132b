package session

import (
	"encoding/json"
	"fmt"

	"github.com/rbright/parley/internal/events"
	"github.com/rbright/parley/internal/fault"
	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/realtime"
	"github.com/rbright/parley/internal/script"
	"github.com/rbright/parley/internal/transcript"
)

// connHandler binds server callbacks to the connection attempt that produced
// them; callbacks from a superseded attempt are dropped.
type connHandler struct {
	session *Session
	attempt uint64
}

func (h connHandler) HandleMessage(msg realtime.Message) {
	h.session.handleMessage(h.attempt, msg)
}

func (h connHandler) HandleError(err error, fatal bool) {
	h.session.handleError(h.attempt, err, fatal)
}

func (s *Session) currentLocked(attempt uint64) bool {
	return attempt == s.attempt && s.conn != nil && !s.state.Terminal()
}

func (s *Session) handleMessage(attempt uint64, msg realtime.Message) {
	s.mu.Lock()
	if !s.currentLocked(attempt) {
		s.mu.Unlock()
		return
	}
	s.dispatchLocked(msg)
	s.mu.Unlock()
	s.bus.Flush()
}

func (s *Session) handleError(attempt uint64, err error, fatal bool) {
	s.mu.Lock()
	if !s.currentLocked(attempt) {
		s.mu.Unlock()
		return
	}
	if fatal {
		s.failLocked(err)
	} else {
		s.bus.Enqueue(events.Failure(err.Error(), fault.KindOf(err).Code()))
		s.warn("server event rejected", "error", err.Error())
	}
	s.mu.Unlock()
	s.bus.Flush()
}

func (s *Session) dispatchLocked(msg realtime.Message) {
	if msg.Kind == realtime.KindError {
		s.serverErrorLocked(msg.Err)
		return
	}
	if s.stage == 2 && s.awaitingEnd {
		s.beginEvaluationLocked()
		if msg.Kind == realtime.KindUserTranscript {
			s.recordUserLocked(msg.Text)
		}
		return
	}

	switch msg.Kind {
	case realtime.KindSpeakingStarted:
		s.speakingStartedLocked()
	case realtime.KindSpeakingEnded:
		s.log.CloseTurn()
		if s.state.Speaking() {
			s.applyLocked(fsm.EventSpeakingDone, nil)
		}
	case realtime.KindTranscriptDelta:
		s.transcriptDeltaLocked(msg.Text)
	case realtime.KindUserTranscript:
		s.recordUserLocked(msg.Text)
	case realtime.KindFunctionCall:
		s.functionCallLocked(msg)
	case realtime.KindTextDone:
		if s.stage == 3 {
			if raw, ok := realtime.ExtractJSON(msg.Text); ok {
				s.receiveEvaluationLocked(raw)
			}
		}
	case realtime.KindResponseDone:
		if s.stage == 3 && s.evaluation == nil {
			s.debug("evaluation response finished without a payload")
		}
	}
}

func (s *Session) speakingStartedLocked() {
	switch s.stage {
	case 1:
		s.applyLocked(fsm.EventCoachSpeaking, nil)
	case 2:
		if s.turns.PartnerTurns >= s.script.Turns.Partner {
			s.debug("partner turn budget spent; ignoring speech start")
			return
		}
		s.applyLocked(fsm.EventPartnerSpeaking, func() {
			s.turns.PartnerTurns++
		})
	}
}

func (s *Session) transcriptDeltaLocked(text string) {
	switch s.stage {
	case 1:
		s.log.AppendDelta(transcript.RoleCoach, text)
		s.bus.Enqueue(events.CoachText(text))
	case 2:
		s.log.AppendDelta(transcript.RolePartner, text)
		s.bus.Enqueue(events.PartnerText(text))
	}
}

func (s *Session) recordUserLocked(text string) {
	if transcript.Normalize(text) == "" {
		return
	}
	s.log.AddUtterance(transcript.RoleUser, text)
	s.bus.Enqueue(events.UserTranscript(text))
}

func (s *Session) functionCallLocked(msg realtime.Message) {
	switch {
	case msg.Name == script.IntakeTool && s.stage == 1:
		s.completeIntakeLocked(msg.Arguments)
	case msg.Name == script.EvaluationTool && s.stage == 3:
		s.receiveEvaluationLocked(msg.Arguments)
	default:
		s.debug("ignoring function call", "name", msg.Name, "stage", s.stage)
	}
}

func (s *Session) serverErrorLocked(serverErr *realtime.ServerError) {
	if serverErr.Auth() {
		s.failLocked(fault.Newf(fault.KindAuth, "realtime", "%s", serverErr.Message))
		return
	}
	err := fault.Newf(fault.KindProtocol, "realtime", "%s", serverErr.Message)
	s.bus.Enqueue(events.Failure(err.Error(), err.Code()))
	s.warn("server reported an error", "code", serverErr.Code, "error", serverErr.Message)
}

type intakeContext struct {
	Intake     json.RawMessage   `json:"intake,omitempty"`
	Transcript []transcript.Turn `json:"transcript"`
}

// completeIntakeLocked ends stage 1: it stores the stage-2 context, closes
// the coach connection, and asks the host for a partner credential.
func (s *Session) completeIntakeLocked(args json.RawMessage) {
	intake, err := script.ParseIntake(args)
	if err != nil {
		perr := fault.New(fault.KindProtocol, "intake", err)
		s.bus.Enqueue(events.Failure(perr.Error(), perr.Code()))
		args = nil
	}

	s.log.CloseTurn()
	turns := s.log.Turns()
	contextJSON, err := json.Marshal(intakeContext{Intake: args, Transcript: turns})
	if err != nil {
		contextJSON = nil
	}

	voice := intake.PartnerVoice
	if voice == "" {
		voice = s.script.Partner.Voice
	}
	s.tokenReq = &events.TokenRequest{
		Voice:       voice,
		UserName:    s.userName,
		Issue:       intake.Issue,
		JSONContext: contextJSON,
	}
	s.intakeLog = turns

	s.applyLocked(fsm.EventLoadSimulation, nil)
	s.stage = 2
	s.closeConnLocked()
	s.bus.Enqueue(events.Stage2TokenNeeded(*s.tokenReq))
	s.info("intake complete", "issue", intake.Issue, "voice", voice)
}

// beginEvaluationLocked ends stage 2 and requests the silent evaluation.
func (s *Session) beginEvaluationLocked() {
	s.awaitingEnd = false
	s.log.CloseTurn()
	s.applyLocked(fsm.EventLoadSimulation, nil)
	s.stage = 3

	resp, err := s.script.EvaluationResponse(s.scriptContextLocked())
	if err != nil {
		s.failLocked(fmt.Errorf("build evaluation request: %w", err))
		return
	}
	if err := s.conn.Send(realtime.CreateResponse(resp)); err != nil {
		s.failLocked(err)
		return
	}
	s.info("simulation complete; evaluating", "partner_turns", s.turns.PartnerTurns, "user_turns", s.turns.UserTurns)
}

// receiveEvaluationLocked publishes the result and completes the session.
func (s *Session) receiveEvaluationLocked(raw json.RawMessage) {
	eval, err := events.ParseEvaluation(raw)
	if err != nil {
		s.failLocked(fault.New(fault.KindProtocol, "decode evaluation", err))
		return
	}
	s.evaluation = &eval
	s.bus.Enqueue(events.EvaluationReceived(eval))
	s.applyLocked(fsm.EventEvaluated, nil)
	s.teardownLocked()
	s.info("session completed", "overall_score", eval.OverallScore, "skill_level", eval.SkillLevel)
}

// RetrySimulation abandons the current simulation and restarts stage 2 from
// its entry point. The host must supply a fresh credential in response to the
// re-emitted stage2_token_needed event.
func (s *Session) RetrySimulation() error {
	s.mu.Lock()
	if s.state.Terminal() {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrTerminal, state)
	}
	if s.stage < 2 || s.tokenReq == nil {
		s.mu.Unlock()
		return ErrNotSimulating
	}

	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	s.attempt++
	if s.conn != nil {
		if err := s.conn.Send(realtime.CancelResponse()); err != nil {
			s.debug("cancel in-flight response", "error", err.Error())
		}
	}
	s.closeConnLocked()
	s.stage = 2
	s.evaluation = nil
	s.enterSimulationLocked()
	if s.state != fsm.StateLoadingSimulation {
		s.applyLocked(fsm.EventLoadSimulation, nil)
	}
	s.bus.Enqueue(events.Stage2TokenNeeded(*s.tokenReq))
	s.mu.Unlock()
	s.bus.Flush()

	s.info("simulation retry requested")
	return nil
}

func (s *Session) sessionConfigLocked() (realtime.SessionConfig, error) {
	ctx := s.scriptContextLocked()
	if s.stage == 1 {
		return s.script.CoachSession(ctx)
	}
	voice := ""
	if s.tokenReq != nil {
		voice = s.tokenReq.Voice
	}
	return s.script.PartnerSession(ctx, voice)
}

func (s *Session) scriptContextLocked() script.Context {
	ctx := script.Context{UserName: s.userName}
	if s.tokenReq != nil {
		if s.tokenReq.UserName != "" {
			ctx.UserName = s.tokenReq.UserName
		}
		ctx.Issue = s.tokenReq.Issue
		ctx.Context = string(s.tokenReq.JSONContext)
	}
	return ctx
}
