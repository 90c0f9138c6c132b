// Package ipc carries newline-delimited JSON commands between the parley CLI
// and the running session daemon over a unix socket.
package ipc

// Commands understood by the daemon.
const (
	CommandStatus   = "status"
	CommandTalk     = "talk"
	CommandPTTStart = "ptt-start"
	CommandPTTStop  = "ptt-stop"
	CommandStop     = "stop"
	CommandRetry    = "retry"
	CommandToken    = "token"
)

type Request struct {
	Command string `json:"command"`
	// Credential is set for CommandToken.
	Credential string `json:"credential,omitempty"`
}

type Response struct {
	OK           bool   `json:"ok"`
	State        string `json:"state,omitempty"`
	Stage        int    `json:"stage,omitempty"`
	PartnerTurns int    `json:"partner_turns,omitempty"`
	UserTurns    int    `json:"user_turns,omitempty"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
}
