package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaultsToHelp(t *testing.T) {
	parsed, err := Parse(nil)
	require.NoError(t, err)
	require.True(t, parsed.ShowHelp)
	require.Equal(t, CommandHelp, parsed.Command)
}

func TestParseCommandWithConfig(t *testing.T) {
	parsed, err := Parse([]string{"--config", "/tmp/parley.jsonc", "doctor"})
	require.NoError(t, err)
	require.Equal(t, CommandDoctor, parsed.Command)
	require.Equal(t, "/tmp/parley.jsonc", parsed.ConfigPath)
	require.False(t, parsed.ShowHelp)
	require.Empty(t, parsed.Args)
}

func TestParseTokenTakesCredential(t *testing.T) {
	parsed, err := Parse([]string{"token", "ek_123"})
	require.NoError(t, err)
	require.Equal(t, CommandToken, parsed.Command)
	require.Equal(t, []string{"ek_123"}, parsed.Args)
}

func TestParseRunWithSimulate(t *testing.T) {
	parsed, err := Parse([]string{"--debug", "--simulate", "/tmp/ctx.json", "run"})
	require.NoError(t, err)
	require.Equal(t, CommandRun, parsed.Command)
	require.Equal(t, "/tmp/ctx.json", parsed.SimulatePath)
	require.True(t, parsed.Debug)
}

func TestParseArgMatrix(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantErr  string
		wantCmd  Command
		wantHelp bool
		wantPath string
	}{
		{
			name:     "help short flag",
			args:     []string{"-h"},
			wantCmd:  CommandHelp,
			wantHelp: true,
		},
		{
			name:     "help long flag",
			args:     []string{"--help"},
			wantCmd:  CommandHelp,
			wantHelp: true,
		},
		{
			name:     "version flag",
			args:     []string{"--version"},
			wantCmd:  CommandVersion,
			wantHelp: false,
		},
		{
			name:    "config after command",
			args:    []string{"status", "--config", "/tmp/cfg"},
			wantErr: "unexpected arguments after command",
		},
		{
			name:    "missing config path",
			args:    []string{"--config"},
			wantErr: "requires a path",
		},
		{
			name:    "missing simulate path",
			args:    []string{"--simulate"},
			wantErr: "requires a path",
		},
		{
			name:    "simulate without run",
			args:    []string{"--simulate", "/tmp/ctx.json", "status"},
			wantErr: "only applies to run",
		},
		{
			name:    "unknown flag",
			args:    []string{"--bogus"},
			wantErr: "unknown flag",
		},
		{
			name:    "unknown command",
			args:    []string{"bogus"},
			wantErr: "unknown command",
		},
		{
			name:    "extra args after command",
			args:    []string{"doctor", "extra"},
			wantErr: "unexpected arguments",
		},
		{
			name:    "token without credential",
			args:    []string{"token"},
			wantErr: "takes 1 argument",
		},
		{
			name:    "token with two credentials",
			args:    []string{"token", "a", "b"},
			wantErr: "takes 1 argument",
		},
		{
			name:     "valid retry command",
			args:     []string{"retry"},
			wantCmd:  CommandRetry,
			wantHelp: false,
		},
		{
			name:     "valid stop with config",
			args:     []string{"--config", "/tmp/cfg", "stop"},
			wantCmd:  CommandStop,
			wantHelp: false,
			wantPath: "/tmp/cfg",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := Parse(tc.args)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.wantCmd, parsed.Command)
			require.Equal(t, tc.wantHelp, parsed.ShowHelp)
			require.Equal(t, tc.wantPath, parsed.ConfigPath)
		})
	}
}

func TestHelpTextIncludesCoreCommands(t *testing.T) {
	text := HelpText("parley")
	require.Contains(t, text, "run")
	require.Contains(t, text, "ptt-start")
	require.Contains(t, text, "token CRED")
	require.Contains(t, text, "history")
	require.Contains(t, text, "--config PATH")
	require.Contains(t, text, "config.jsonc")
}
