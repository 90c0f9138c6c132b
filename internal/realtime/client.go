// Package realtime encodes client control events and decodes server events
// exchanged over the realtime data channel.
package realtime

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Client event types sent over the data channel.
const (
	TypeSessionUpdate  = "session.update"
	TypeInputClear     = "input_audio_buffer.clear"
	TypeInputCommit    = "input_audio_buffer.commit"
	TypeResponseCreate = "response.create"
	TypeResponseCancel = "response.cancel"
)

// ClientEvent is one outbound control message.
type ClientEvent struct {
	EventID  string          `json:"event_id,omitempty"`
	Type     string          `json:"type"`
	Session  *SessionConfig  `json:"session,omitempty"`
	Response *ResponseConfig `json:"response,omitempty"`
}

// SessionConfig is the persona and turn-taking configuration for one connection.
//
// TurnDetection is always encoded; a nil value sends an explicit null, which
// turns server-side voice activity detection off.
type SessionConfig struct {
	Voice                   string         `json:"voice,omitempty"`
	Instructions            string         `json:"instructions,omitempty"`
	Modalities              []string       `json:"modalities,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string         `json:"output_audio_format,omitempty"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection"`
	Tools                   []Tool         `json:"tools,omitempty"`
	ToolChoice              string         `json:"tool_choice,omitempty"`
}

type Transcription struct {
	Model string `json:"model"`
}

type TurnDetection struct {
	Type string `json:"type"`
}

// Tool is a function the model may call.
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ResponseConfig overrides session defaults for one response.
type ResponseConfig struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	ToolChoice   string   `json:"tool_choice,omitempty"`
}

func newEvent(eventType string) ClientEvent {
	return ClientEvent{EventID: "evt_" + uuid.NewString(), Type: eventType}
}

// SessionUpdate configures the session for push-to-talk.
func SessionUpdate(cfg SessionConfig) ClientEvent {
	cfg.TurnDetection = nil
	ev := newEvent(TypeSessionUpdate)
	ev.Session = &cfg
	return ev
}

// ClearInput marks the start of a user turn.
func ClearInput() ClientEvent { return newEvent(TypeInputClear) }

// CommitInput marks the end of a user turn.
func CommitInput() ClientEvent { return newEvent(TypeInputCommit) }

// CreateResponse asks the model to respond. cfg may be nil.
func CreateResponse(cfg *ResponseConfig) ClientEvent {
	ev := newEvent(TypeResponseCreate)
	ev.Response = cfg
	return ev
}

func CancelResponse() ClientEvent { return newEvent(TypeResponseCancel) }

// Marshal encodes ev for the data channel.
func Marshal(ev ClientEvent) ([]byte, error) {
	return json.Marshal(ev)
}
