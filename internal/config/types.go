// Package config resolves, parses, validates, and defaults parley configuration.
package config

import "time"

// Config is the fully materialized runtime configuration used by parley.
type Config struct {
	Realtime  RealtimeConfig
	Audio     AudioConfig
	User      UserConfig
	Script    ScriptConfig
	Host      HostConfig
	History   HistoryConfig
	Indicator IndicatorConfig
}

// RealtimeConfig locates the realtime model endpoint and tunes signaling.
type RealtimeConfig struct {
	Endpoint         string
	Model            string
	ICEServers       []string
	SignalingTimeout time.Duration
	ICERestarts      int
}

// AudioConfig controls preferred and fallback input-source selection and
// where remote audio plays.
type AudioConfig struct {
	Input    string
	Fallback string
	Sink     string
}

// UserConfig identifies the person practicing.
type UserConfig struct {
	Name string
}

// ScriptConfig points at an optional conversation script file.
type ScriptConfig struct {
	Path string
}

// HostConfig controls how the daemon mints credentials and which local
// surfaces it serves.
type HostConfig struct {
	CredentialCmd CommandConfig
	Listen        string
	Metrics       string
}

// HistoryConfig controls the completed-session store.
type HistoryConfig struct {
	DBPath string
}

// IndicatorConfig controls audio cues and desktop notifications.
type IndicatorConfig struct {
	SoundEnable       bool
	Notify            bool
	DesktopAppName    string
	SoundStartFile    string
	SoundStopFile     string
	SoundCompleteFile string
	SoundCancelFile   string
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

// Audio sink names.
const (
	SinkPulse   = "pulse"
	SinkDiscard = "discard"
)
