package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJSONCStringListUnmarshal(t *testing.T) {
	var list jsoncStringList
	require.NoError(t, list.UnmarshalJSON([]byte(`["a","b"]`)))
	require.Equal(t, []string{"a", "b"}, []string(list))

	require.NoError(t, list.UnmarshalJSON([]byte(`"a, b, , c"`)))
	require.Equal(t, []string{"a", "b", "c"}, []string(list))

	err := list.UnmarshalJSON([]byte(`123`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "expected string array")
}

func TestJSONCDurationUnmarshal(t *testing.T) {
	var d jsoncDuration
	require.NoError(t, d.UnmarshalJSON([]byte(`"2.5s"`)))
	require.Equal(t, 2500*time.Millisecond, time.Duration(d))

	require.NoError(t, d.UnmarshalJSON([]byte(`1200`)))
	require.Equal(t, 1200*time.Millisecond, time.Duration(d))

	require.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))
	require.Error(t, d.UnmarshalJSON([]byte(`true`)))
}

func TestParseJSONCRejectsInvalidCommandArgv(t *testing.T) {
	_, err := parseJSONC(`{"host":{"credential_cmd":"unterminated ' quote"}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid host.credential_cmd")
}

func TestParseJSONCOverlaysSections(t *testing.T) {
	cfg, err := parseJSONC(`{
  // local relay for the overlay
  "realtime": {
    "model": "  gpt-realtime  ",
    "ice_servers": "stun:a.example:3478, turn:b.example:3478",
    "signaling_timeout": "3s",
    "ice_restarts": 0,
  },
  "audio": {"sink": " Discard "},
  "user": {"name": "Sam"},
  "host": {
    "credential_cmd": "mint-key --ttl 60",
    "listen": "127.0.0.1:7300",
  },
  "history": {"db_path": "/tmp/parley.db"},
  "indicator": {"sound_enable": false},
}`, Default())
	require.NoError(t, err)

	require.Equal(t, Default().Realtime.Endpoint, cfg.Realtime.Endpoint)
	require.Equal(t, "gpt-realtime", cfg.Realtime.Model)
	require.Equal(t, []string{"stun:a.example:3478", "turn:b.example:3478"}, cfg.Realtime.ICEServers)
	require.Equal(t, 3*time.Second, cfg.Realtime.SignalingTimeout)
	require.Zero(t, cfg.Realtime.ICERestarts)
	require.Equal(t, SinkDiscard, cfg.Audio.Sink)
	require.Equal(t, "default", cfg.Audio.Input)
	require.Equal(t, "Sam", cfg.User.Name)
	require.Equal(t, []string{"mint-key", "--ttl", "60"}, cfg.Host.CredentialCmd.Argv)
	require.Equal(t, "127.0.0.1:7300", cfg.Host.Listen)
	require.Empty(t, cfg.Host.Metrics)
	require.Equal(t, "/tmp/parley.db", cfg.History.DBPath)
	require.False(t, cfg.Indicator.SoundEnable)
}

func TestParseJSONCRejectsUnknownFields(t *testing.T) {
	_, err := parseJSONC(`{"speech":{"grpc":"127.0.0.1:50051"}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown field")
}

func TestParseJSONCRejectsMultipleTopLevelValues(t *testing.T) {
	_, err := parseJSONC(`{"user":{"name":"a"}}{"user":{"name":"b"}}`, Default())
	require.Error(t, err)
	require.True(
		t,
		strings.Contains(err.Error(), "multiple JSON values") || strings.Contains(err.Error(), "unknown field"),
		"unexpected error: %v",
		err,
	)
}

func TestParseJSONCTypeErrorIncludesLocation(t *testing.T) {
	_, err := parseJSONC(`{
  "realtime": {"ice_restarts": "many"}
}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "line")
	require.Contains(t, err.Error(), "column")
}

func TestParseRejectsNonObject(t *testing.T) {
	_, err := Parse("user.name = Sam\n", Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "JSONC object")

	cfg, err := Parse("  // nothing yet\n", Default())
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}
