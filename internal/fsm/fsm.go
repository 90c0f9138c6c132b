// Package fsm defines the canonical voice-session states and their transition table.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle              State = "IDLE"
	StateSessionStarted    State = "SESSION_STARTED"
	StateBeginSimulation   State = "BEGIN_SIMULATION"
	StateCoachSpeaking     State = "COACH_SPEAKING"
	StatePartnerSpeaking   State = "PARTNER_SPEAKING"
	StatePushToTalkReady   State = "PUSH_TO_TALK_READY"
	StatePushToTalkActive  State = "PUSH_TO_TALK_ACTIVE"
	StatePushToTalkStopped State = "PUSH_TO_TALK_STOPPED"
	StateLoadingSimulation State = "LOADING_SIMULATION"
	StateSessionCompleted  State = "SESSION_COMPLETED"
	StateSessionError      State = "SESSION_ERROR"
	StateSessionStopped    State = "SESSION_STOPPED"
)

const (
	EventConnected       Event = "connected"
	EventCoachSpeaking   Event = "coach_speaking"
	EventPartnerSpeaking Event = "partner_speaking"
	EventBeginSimulation Event = "begin_simulation"
	EventSpeakingDone    Event = "speaking_done"
	EventPTTStart        Event = "ptt_start"
	EventPTTStop         Event = "ptt_stop"
	EventLoadSimulation  Event = "load_simulation"
	EventEvaluated       Event = "evaluated"
	EventFail            Event = "fail"
	EventStop            Event = "stop"
)

// All lists every defined state in declaration order.
var All = []State{
	StateIdle,
	StateSessionStarted,
	StateBeginSimulation,
	StateCoachSpeaking,
	StatePartnerSpeaking,
	StatePushToTalkReady,
	StatePushToTalkActive,
	StatePushToTalkStopped,
	StateLoadingSimulation,
	StateSessionCompleted,
	StateSessionError,
	StateSessionStopped,
}

// Terminal reports whether no further transitions (other than stop) leave s.
func (s State) Terminal() bool {
	switch s {
	case StateSessionCompleted, StateSessionError, StateSessionStopped:
		return true
	default:
		return false
	}
}

// Speaking reports whether the model owns the floor in s.
func (s State) Speaking() bool {
	return s == StateCoachSpeaking || s == StatePartnerSpeaking
}

func (s State) known() bool {
	for _, candidate := range All {
		if candidate == s {
			return true
		}
	}
	return false
}

// Transition applies event to current and returns the next state. Rejected
// transitions return current unchanged together with a non-nil error.
func Transition(current State, event Event) (State, error) {
	if !current.known() {
		return current, fmt.Errorf("unknown state %q", current)
	}

	// Stop is accepted from every state, terminal ones included.
	if event == EventStop {
		return StateSessionStopped, nil
	}
	if current.Terminal() {
		return current, invalidTransition(current, event)
	}

	switch event {
	case EventFail:
		return StateSessionError, nil
	case EventEvaluated:
		return StateSessionCompleted, nil
	case EventLoadSimulation:
		return StateLoadingSimulation, nil
	}

	switch current {
	case StateIdle:
		if event == EventConnected {
			return StateSessionStarted, nil
		}
	case StateSessionStarted:
		switch event {
		case EventCoachSpeaking:
			return StateCoachSpeaking, nil
		case EventPartnerSpeaking:
			return StatePartnerSpeaking, nil
		case EventBeginSimulation:
			return StateBeginSimulation, nil
		}
	case StateBeginSimulation, StateLoadingSimulation:
		if event == EventPartnerSpeaking {
			return StatePartnerSpeaking, nil
		}
	case StateCoachSpeaking, StatePartnerSpeaking:
		if event == EventSpeakingDone {
			return StatePushToTalkReady, nil
		}
	case StatePushToTalkReady:
		if event == EventPTTStart {
			return StatePushToTalkActive, nil
		}
	case StatePushToTalkActive:
		if event == EventPTTStop {
			return StatePushToTalkStopped, nil
		}
	case StatePushToTalkStopped:
		switch event {
		case EventCoachSpeaking:
			return StateCoachSpeaking, nil
		case EventPartnerSpeaking:
			return StatePartnerSpeaking, nil
		}
	}

	return current, invalidTransition(current, event)
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
