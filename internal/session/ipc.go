package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/ipc"
)

// Handle serves daemon IPC commands against this session.
func (s *Session) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return s.response(true, "status", nil)
	case ipc.CommandTalk:
		switch s.State() {
		case fsm.StatePushToTalkReady:
			s.StartPushToTalk()
			return s.response(true, "talking", nil)
		case fsm.StatePushToTalkActive:
			s.StopPushToTalk()
			return s.response(true, "turn ended", nil)
		default:
			return s.response(false, "", fmt.Errorf("cannot talk from state %s", s.State()))
		}
	case ipc.CommandPTTStart:
		before := s.State()
		s.StartPushToTalk()
		return s.response(true, noOpMessage(before, s.State(), "talking"), nil)
	case ipc.CommandPTTStop:
		before := s.State()
		s.StopPushToTalk()
		return s.response(true, noOpMessage(before, s.State(), "turn ended"), nil)
	case ipc.CommandStop:
		s.Stop(StopReasonUser)
		return s.response(true, "stopped", nil)
	case ipc.CommandRetry:
		if err := s.RetrySimulation(); err != nil {
			return s.response(false, "", err)
		}
		return s.response(true, "simulation restarting; waiting for credential", nil)
	case ipc.CommandToken:
		if strings.TrimSpace(req.Credential) == "" {
			return s.response(false, "", errors.New("token requires a credential"))
		}
		if err := s.Start(ctx, req.Credential); err != nil {
			return s.response(false, "", err)
		}
		return s.response(true, "connected", nil)
	default:
		return s.response(false, "", fmt.Errorf("unknown command: %s", req.Command))
	}
}

func (s *Session) response(ok bool, message string, err error) ipc.Response {
	s.mu.Lock()
	resp := ipc.Response{
		OK:      ok,
		State:   string(s.state),
		Stage:   s.stage,
		Message: message,
	}
	if s.stage == 2 {
		resp.PartnerTurns = s.turns.PartnerTurns
		resp.UserTurns = s.turns.UserTurns
	}
	s.mu.Unlock()
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func noOpMessage(before, after fsm.State, changed string) string {
	if before == after {
		return fmt.Sprintf("ignored in state %s", before)
	}
	return changed
}
