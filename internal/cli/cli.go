package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRun      Command = "run"
	CommandTalk     Command = "talk"
	CommandPTTStart Command = "ptt-start"
	CommandPTTStop  Command = "ptt-stop"
	CommandStop     Command = "stop"
	CommandRetry    Command = "retry"
	CommandToken    Command = "token"
	CommandStatus   Command = "status"
	CommandDevices  Command = "devices"
	CommandDoctor   Command = "doctor"
	CommandHistory  Command = "history"
	CommandVersion  Command = "version"
	CommandHelp     Command = "help"
)

// validCommands maps each command to the number of positional arguments it takes.
var validCommands = map[Command]int{
	CommandRun:      0,
	CommandTalk:     0,
	CommandPTTStart: 0,
	CommandPTTStop:  0,
	CommandStop:     0,
	CommandRetry:    0,
	CommandToken:    1,
	CommandStatus:   0,
	CommandDevices:  0,
	CommandDoctor:   0,
	CommandHistory:  0,
	CommandVersion:  0,
	CommandHelp:     0,
}

type Parsed struct {
	Command      Command
	Args         []string
	ConfigPath   string
	SimulatePath string
	Debug        bool
	ShowHelp     bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--debug":
			parsed.Debug = true
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		case "--simulate":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--simulate requires a path")
			}
			parsed.SimulatePath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			want, ok := validCommands[cmd]
			if !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			rest := args[i+1:]
			if len(rest) != want {
				if want == 0 {
					return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
				}
				return Parsed{}, fmt.Errorf("command %q takes %d argument(s)", arg, want)
			}
			parsed.Args = append([]string(nil), rest...)
			i = len(args)
		}
	}

	if parsed.SimulatePath != "" && parsed.Command != CommandRun {
		return Parsed{}, errors.New("--simulate only applies to run")
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] [--debug] <command>

Commands:
  run         Start a coaching session and serve controls until it ends
  talk        Toggle push-to-talk in the running simulation
  ptt-start   Open the microphone for one simulation turn
  ptt-stop    Close the microphone and send the turn
  stop        End the running session
  retry       Restart the simulation after a failed connection
  token CRED  Hand the running session a credential
  status      Print the running session state
  devices     List available input devices
  doctor      Run configuration and environment checks
  history     List recent sessions
  version     Print version information
  help        Show this help

Flags:
  --config PATH     Config file path (default: $XDG_CONFIG_HOME/parley/config.jsonc)
  --simulate PATH   With run: skip intake and simulate from a saved context JSON
  --debug           Log at debug level
  -h, --help        Show help
  --version         Show version
`, binaryName)
}
