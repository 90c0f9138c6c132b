package session

import (
	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/realtime"
)

// StartPushToTalk opens a user turn. It only acts in PUSH_TO_TALK_READY and
// is a silent no-op in every other state.
func (s *Session) StartPushToTalk() {
	s.mu.Lock()
	if s.state != fsm.StatePushToTalkReady || s.conn == nil {
		s.mu.Unlock()
		return
	}

	if mic := s.pipeline.Current(); mic != nil {
		mic.SetEnabled(true)
	}
	if err := s.conn.Send(realtime.ClearInput()); err != nil {
		s.failLocked(err)
		s.mu.Unlock()
		s.bus.Flush()
		return
	}
	s.applyLocked(fsm.EventPTTStart, nil)
	s.mu.Unlock()
	s.bus.Flush()
}

// StopPushToTalk closes the user turn and asks the model to reply. It only
// acts in PUSH_TO_TALK_ACTIVE and is a silent no-op in every other state.
//
// In stage 2 the turn that spends the budget commits the audio without
// requesting a reply; the next server message then ends the simulation.
func (s *Session) StopPushToTalk() {
	s.mu.Lock()
	if s.state != fsm.StatePushToTalkActive || s.conn == nil {
		s.mu.Unlock()
		return
	}

	if mic := s.pipeline.Current(); mic != nil {
		mic.SetEnabled(false)
	}

	requestReply := true
	countTurn := func() {}
	if s.stage == 2 {
		next := s.turns
		next.UserTurns++
		budget := s.script.Turns
		if next.UserTurns >= budget.User && next.PartnerTurns >= budget.Partner {
			requestReply = false
		}
		countTurn = func() {
			s.turns = next
			s.awaitingEnd = !requestReply
		}
	}

	if err := s.conn.Send(realtime.CommitInput()); err != nil {
		s.failLocked(err)
		s.mu.Unlock()
		s.bus.Flush()
		return
	}
	if requestReply {
		if err := s.conn.Send(realtime.CreateResponse(nil)); err != nil {
			s.failLocked(err)
			s.mu.Unlock()
			s.bus.Flush()
			return
		}
	}
	s.applyLocked(fsm.EventPTTStop, countTurn)
	s.mu.Unlock()
	s.bus.Flush()
}
