package realtime

import (
	"encoding/json"
	"strings"

	"github.com/rbright/parley/internal/fault"
)

// Kind classifies a decoded server event.
type Kind int

const (
	KindIgnored Kind = iota
	KindSessionReady
	KindSpeakingStarted
	KindSpeakingEnded
	KindResponseCreated
	KindResponseDone
	KindTranscriptDelta
	KindUserTranscript
	KindFunctionCall
	KindTextDone
	KindInputCommitted
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindSessionReady:
		return "session_ready"
	case KindSpeakingStarted:
		return "speaking_started"
	case KindSpeakingEnded:
		return "speaking_ended"
	case KindResponseCreated:
		return "response_created"
	case KindResponseDone:
		return "response_done"
	case KindTranscriptDelta:
		return "transcript_delta"
	case KindUserTranscript:
		return "user_transcript"
	case KindFunctionCall:
		return "function_call"
	case KindTextDone:
		return "text_done"
	case KindInputCommitted:
		return "input_committed"
	case KindError:
		return "error"
	default:
		return "ignored"
	}
}

// Message is a decoded server event.
type Message struct {
	Kind Kind
	Type string

	// Text holds transcript deltas, user transcripts, and completed text.
	Text string

	// Function call fields.
	Name      string
	CallID    string
	Arguments json.RawMessage

	Err *ServerError
}

// ServerError is the body of a server error event.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Auth reports whether the server rejected the credential.
func (e *ServerError) Auth() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case "invalid_api_key", "invalid_client_secret", "session_expired", "unauthorized", "forbidden":
		return true
	}
	return e.Type == "authentication_error"
}

type wireMessage struct {
	Type       string          `json:"type"`
	Delta      string          `json:"delta"`
	Transcript string          `json:"transcript"`
	Text       string          `json:"text"`
	Name       string          `json:"name"`
	CallID     string          `json:"call_id"`
	Arguments  string          `json:"arguments"`
	Error      *ServerError    `json:"error"`
	Response   json.RawMessage `json:"response"`
}

// Parse decodes one data-channel payload. Unknown event types decode to
// KindIgnored. Malformed payloads fail with a ProtocolError.
func Parse(data []byte) (Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return Message{}, fault.New(fault.KindProtocol, "decode server event", err)
	}
	if strings.TrimSpace(wire.Type) == "" {
		return Message{}, fault.Newf(fault.KindProtocol, "decode server event", "missing event type")
	}

	msg := Message{Type: wire.Type}
	switch wire.Type {
	case "session.created", "session.updated":
		msg.Kind = KindSessionReady
	case "output_audio_buffer.started":
		msg.Kind = KindSpeakingStarted
	case "output_audio_buffer.stopped", "output_audio_buffer.cleared":
		msg.Kind = KindSpeakingEnded
	case "response.created":
		msg.Kind = KindResponseCreated
	case "response.done":
		msg.Kind = KindResponseDone
	case "response.audio_transcript.delta", "response.output_audio_transcript.delta":
		msg.Kind = KindTranscriptDelta
		msg.Text = wire.Delta
	case "conversation.item.input_audio_transcription.completed":
		msg.Kind = KindUserTranscript
		msg.Text = wire.Transcript
	case "response.function_call_arguments.done":
		msg.Kind = KindFunctionCall
		msg.Name = wire.Name
		msg.CallID = wire.CallID
		if strings.TrimSpace(wire.Arguments) != "" {
			if !json.Valid([]byte(wire.Arguments)) {
				return Message{}, fault.Newf(fault.KindProtocol, "decode function call", "arguments for %q are not valid JSON", wire.Name)
			}
			msg.Arguments = json.RawMessage(wire.Arguments)
		}
	case "response.text.done", "response.output_text.done":
		msg.Kind = KindTextDone
		msg.Text = wire.Text
	case "input_audio_buffer.committed":
		msg.Kind = KindInputCommitted
	case "error":
		msg.Kind = KindError
		msg.Err = wire.Error
		if msg.Err == nil {
			msg.Err = &ServerError{Message: "server reported an error"}
		}
	default:
		msg.Kind = KindIgnored
	}
	return msg, nil
}

// ExtractJSON returns the first JSON object embedded in text, tolerating
// surrounding prose and markdown code fences.
func ExtractJSON(text string) (json.RawMessage, bool) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		dec := json.NewDecoder(strings.NewReader(text[start:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err == nil && len(raw) > 0 && raw[0] == '{' {
			return raw, true
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}
