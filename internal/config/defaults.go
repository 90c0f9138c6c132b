package config

import "time"

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Realtime: RealtimeConfig{
			Endpoint:         "https://api.openai.com/v1/realtime",
			Model:            "gpt-4o-realtime-preview",
			ICEServers:       []string{"stun:stun.l.google.com:19302"},
			SignalingTimeout: 8 * time.Second,
			ICERestarts:      1,
		},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
			Sink:     SinkPulse,
		},
		Indicator: IndicatorConfig{
			SoundEnable:    true,
			Notify:         true,
			DesktopAppName: "parley",
		},
	}
}
