package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateDefaultsWarnAboutMissingHostSettings(t *testing.T) {
	warnings, err := Validate(Default())
	require.NoError(t, err)
	require.Len(t, warnings, 2)
	require.Contains(t, warnings[0].Message, "credential_cmd")
	require.Contains(t, warnings[1].Message, "user.name")
}

func TestValidateWarnsOnPlainHTTP(t *testing.T) {
	cfg := Default()
	cfg.Realtime.Endpoint = "http://127.0.0.1:8080/v1/realtime"
	cfg.User.Name = "Sam"
	cfg.Host.CredentialCmd = CommandConfig{Raw: "mint", Argv: []string{"mint"}}

	warnings, err := Validate(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "plain http")
}

func TestValidateRejectsInvalidCoreFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "empty endpoint", mutate: func(c *Config) { c.Realtime.Endpoint = "" }, wantErr: "realtime.endpoint"},
		{name: "relative endpoint", mutate: func(c *Config) { c.Realtime.Endpoint = "/v1/realtime" }, wantErr: "absolute URL"},
		{name: "websocket endpoint", mutate: func(c *Config) { c.Realtime.Endpoint = "wss://api.example/v1" }, wantErr: "http or https"},
		{name: "empty model", mutate: func(c *Config) { c.Realtime.Model = " " }, wantErr: "realtime.model"},
		{name: "zero timeout", mutate: func(c *Config) { c.Realtime.SignalingTimeout = 0 }, wantErr: "signaling_timeout"},
		{name: "negative restarts", mutate: func(c *Config) { c.Realtime.ICERestarts = -1 }, wantErr: "ice_restarts"},
		{name: "bad ice server", mutate: func(c *Config) { c.Realtime.ICEServers = []string{"stun.example:3478"} }, wantErr: "ice_servers"},
		{name: "unknown sink", mutate: func(c *Config) { c.Audio.Sink = "alsa" }, wantErr: "audio.sink"},
		{name: "notify without app name", mutate: func(c *Config) { c.Indicator.DesktopAppName = "" }, wantErr: "desktop_app_name"},
		{name: "credential command raw but empty argv", mutate: func(c *Config) {
			c.Host.CredentialCmd = CommandConfig{Raw: "# disabled"}
		}, wantErr: "credential_cmd"},
		{name: "shared listen address", mutate: func(c *Config) {
			c.Host.Listen = "127.0.0.1:7300"
			c.Host.Metrics = "127.0.0.1:7300"
		}, wantErr: "different addresses"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)

			_, err := Validate(cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestApplyEnvOverridesFileValues(t *testing.T) {
	t.Setenv("PARLEY_REALTIME_MODEL", "gpt-realtime-mini")
	t.Setenv("PARLEY_SIGNALING_TIMEOUT", "12s")
	t.Setenv("PARLEY_USER_NAME", " Alex ")
	t.Setenv("PARLEY_CREDENTIAL_CMD", `op read "op://Private/OpenAI/credential"`)
	t.Setenv("PARLEY_HISTORY_DB", "/var/lib/parley.db")

	base := Default()
	base.Host.Listen = "127.0.0.1:7300"

	cfg, err := ApplyEnv(base)
	require.NoError(t, err)
	require.Equal(t, "gpt-realtime-mini", cfg.Realtime.Model)
	require.Equal(t, Default().Realtime.Endpoint, cfg.Realtime.Endpoint)
	require.Equal(t, 12*time.Second, cfg.Realtime.SignalingTimeout)
	require.Equal(t, "Alex", cfg.User.Name)
	require.Equal(t, []string{"op", "read", "op://Private/OpenAI/credential"}, cfg.Host.CredentialCmd.Argv)
	require.Equal(t, "127.0.0.1:7300", cfg.Host.Listen)
	require.Equal(t, "/var/lib/parley.db", cfg.History.DBPath)
}

func TestApplyEnvRejectsInvalidValues(t *testing.T) {
	t.Setenv("PARLEY_SIGNALING_TIMEOUT", "soon")
	_, err := ApplyEnv(Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse env")
}

func TestApplyEnvRejectsInvalidCommand(t *testing.T) {
	t.Setenv("PARLEY_CREDENTIAL_CMD", `mint "oops`)
	_, err := ApplyEnv(Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "PARLEY_CREDENTIAL_CMD")
}
