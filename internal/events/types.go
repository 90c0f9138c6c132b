package events

import (
	"encoding/json"

	"github.com/rbright/parley/internal/fsm"
)

// Type discriminates the Data payload of an Event.
type Type string

const (
	TypeState             Type = "state"
	TypeCoachText         Type = "coach_text"
	TypePartnerText       Type = "partner_text"
	TypeUserTranscript    Type = "user_transcript"
	TypeStage2TokenNeeded Type = "stage2_token_needed"
	TypeEvaluation        Type = "evaluation_json_received"
	TypeError             Type = "error"
)

// Event is the envelope delivered to every subscriber.
//
// Data holds exactly one of StateData, TextData, TokenRequest, Evaluation, or
// ErrorData, selected by Type.
type Event struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

// StateData reports a state-machine transition. Turn counts are only set in stage 2.
type StateData struct {
	State            fsm.State `json:"state"`
	PartnerTurnCount *int      `json:"partnerTurnCount,omitempty"`
	UserTurnCount    *int      `json:"userTurnCount,omitempty"`
}

// TextData carries one streamed transcript fragment.
type TextData struct {
	Text string `json:"text"`
}

// TokenRequest asks the host to mint a fresh credential for the simulation persona.
type TokenRequest struct {
	Voice       string          `json:"voice"`
	UserName    string          `json:"userName"`
	Issue       string          `json:"issue"`
	JSONContext json.RawMessage `json:"jsonContext,omitempty"`
}

// Evaluation is the stage-3 scoring payload. Raw keeps the payload exactly as
// received so fields unknown to this struct survive re-encoding.
type Evaluation struct {
	OverallScore float64            `json:"overall_score"`
	SkillLevel   string             `json:"skill_level"`
	Scores       map[string]float64 `json:"scores,omitempty"`
	Strengths    []string           `json:"strengths,omitempty"`
	Improvements []string           `json:"improvements,omitempty"`
	Summary      string             `json:"summary,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// MarshalJSON emits the original payload when one was captured.
func (e Evaluation) MarshalJSON() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	type plain Evaluation
	return json.Marshal(plain(e))
}

// ParseEvaluation decodes an evaluation payload and keeps the raw bytes.
func ParseEvaluation(data []byte) (Evaluation, error) {
	var eval Evaluation
	if err := json.Unmarshal(data, &eval); err != nil {
		return Evaluation{}, err
	}
	eval.Raw = append(json.RawMessage(nil), data...)
	return eval, nil
}

// ErrorData is a failure notice. Fatal errors are followed by a SESSION_ERROR state event.
type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// StateChanged builds a state event. Counts are attached when withCounts is set.
func StateChanged(state fsm.State, partnerTurns, userTurns int, withCounts bool) Event {
	data := StateData{State: state}
	if withCounts {
		p, u := partnerTurns, userTurns
		data.PartnerTurnCount = &p
		data.UserTurnCount = &u
	}
	return Event{Type: TypeState, Data: data}
}

func CoachText(text string) Event {
	return Event{Type: TypeCoachText, Data: TextData{Text: text}}
}

func PartnerText(text string) Event {
	return Event{Type: TypePartnerText, Data: TextData{Text: text}}
}

func UserTranscript(text string) Event {
	return Event{Type: TypeUserTranscript, Data: TextData{Text: text}}
}

func Stage2TokenNeeded(req TokenRequest) Event {
	return Event{Type: TypeStage2TokenNeeded, Data: req}
}

func EvaluationReceived(eval Evaluation) Event {
	return Event{Type: TypeEvaluation, Data: eval}
}

func Failure(message, code string) Event {
	return Event{Type: TypeError, Data: ErrorData{Message: message, Code: code}}
}
