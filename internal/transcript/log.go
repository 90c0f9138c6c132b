// Package transcript records the spoken turns of a session.
package transcript

import "strings"

// Role identifies the speaker of a turn.
type Role string

const (
	RoleCoach   Role = "coach"
	RolePartner Role = "partner"
	RoleUser    Role = "user"
)

// Turn is one normalized utterance.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Log accumulates turns from streamed model fragments and completed user
// transcripts. It is not safe for concurrent use.
type Log struct {
	turns []Turn
	open  bool
}

// AppendDelta adds a streamed fragment to the open turn for role, starting a
// new turn when none is open or the speaker changed.
func (l *Log) AppendDelta(role Role, fragment string) {
	if fragment == "" {
		return
	}
	if l.open && len(l.turns) > 0 && l.turns[len(l.turns)-1].Role == role {
		l.turns[len(l.turns)-1].Text += fragment
		return
	}
	l.turns = append(l.turns, Turn{Role: role, Text: fragment})
	l.open = true
}

// CloseTurn ends the open streamed turn.
func (l *Log) CloseTurn() {
	l.open = false
}

// AddUtterance records a complete turn.
func (l *Log) AddUtterance(role Role, text string) {
	text = Normalize(text)
	if text == "" {
		return
	}
	l.open = false
	l.turns = append(l.turns, Turn{Role: role, Text: text})
}

// Turns returns the normalized non-empty turns.
func (l *Log) Turns() []Turn {
	out := make([]Turn, 0, len(l.turns))
	for _, turn := range l.turns {
		text := Normalize(turn.Text)
		if text == "" {
			continue
		}
		out = append(out, Turn{Role: turn.Role, Text: text})
	}
	return out
}

// Len returns the number of recorded turns.
func (l *Log) Len() int {
	return len(l.Turns())
}

// Reset clears the log.
func (l *Log) Reset() {
	l.turns = nil
	l.open = false
}

// String renders the log as "Role: text" lines.
func (l *Log) String() string {
	var b strings.Builder
	for i, turn := range l.Turns() {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(label(turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Text)
	}
	return b.String()
}

func label(role Role) string {
	switch role {
	case RoleCoach:
		return "Coach"
	case RolePartner:
		return "Partner"
	case RoleUser:
		return "User"
	default:
		return string(role)
	}
}

// Normalize collapses whitespace runs and trims the result.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
