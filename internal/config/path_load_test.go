package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolvePathPrecedence(t *testing.T) {
	home, xdg := t.TempDir(), t.TempDir()

	tests := []struct {
		name     string
		explicit string
		env      map[string]string
		want     string
	}{
		{name: "flag", explicit: "/tmp/flag.jsonc", env: map[string]string{"PARLEY_CONFIG": "/tmp/env.jsonc"}, want: "/tmp/flag.jsonc"},
		{name: "env", env: map[string]string{"PARLEY_CONFIG": "/tmp/env.jsonc", "XDG_CONFIG_HOME": xdg}, want: "/tmp/env.jsonc"},
		{name: "xdg", env: map[string]string{"XDG_CONFIG_HOME": xdg}, want: filepath.Join(xdg, "parley", "config.jsonc")},
		{name: "home", want: filepath.Join(home, ".config", "parley", "config.jsonc")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("HOME", home)
			t.Setenv("PARLEY_CONFIG", tc.env["PARLEY_CONFIG"])
			t.Setenv("XDG_CONFIG_HOME", tc.env["XDG_CONFIG_HOME"])

			got, err := ResolvePath(tc.explicit)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadMissingFileWarnsAndUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.jsonc")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.False(t, loaded.Exists)
	require.Equal(t, path, loaded.Path)
	require.Equal(t, Default(), loaded.Config)
	require.NotEmpty(t, loaded.Warnings)
	require.Contains(t, loaded.Warnings[0].Message, "not found")
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := writeConfig(t, `
{
  // session pacing
  "realtime": {"signaling_timeout": "5s"},
  "user": {"name": "Sam"},
  "host": {"credential_cmd": "mint-key"},
}
`)

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, 5*time.Second, loaded.Config.Realtime.SignalingTimeout)
	require.Equal(t, Default().Realtime.Model, loaded.Config.Realtime.Model)
	require.Equal(t, "Sam", loaded.Config.User.Name)
	require.Empty(t, loaded.Warnings)
}

func TestLoadCommentOnlyFileKeepsDefaults(t *testing.T) {
	loaded, err := Load(writeConfig(t, "// nothing configured yet\n"))
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, Default(), loaded.Config)
}

func TestLoadEnvironmentBeatsFile(t *testing.T) {
	t.Setenv("PARLEY_USER_NAME", "Alex")

	loaded, err := Load(writeConfig(t, `{"user":{"name":"Sam"}}`))
	require.NoError(t, err)
	require.Equal(t, "Alex", loaded.Config.User.Name)
}

func TestLoadErrorsNameTheFile(t *testing.T) {
	path := writeConfig(t, "{ not-json }")
	_, err := Load(path)
	require.ErrorContains(t, err, "parse config")
	require.ErrorContains(t, err, path)

	path = writeConfig(t, `{"realtime":{"ice_restarts":-1}}`)
	_, err = Load(path)
	require.ErrorContains(t, err, path)
}
