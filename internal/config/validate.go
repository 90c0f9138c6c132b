package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	endpoint := strings.TrimSpace(cfg.Realtime.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("realtime.endpoint must not be empty")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("realtime.endpoint must be an absolute URL")
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return nil, fmt.Errorf("realtime.endpoint must use http or https")
	}
	if parsed.Scheme == "http" {
		warnings = append(warnings, Warning{Message: "realtime.endpoint uses plain http; credentials are sent unencrypted"})
	}
	if strings.TrimSpace(cfg.Realtime.Model) == "" {
		return nil, fmt.Errorf("realtime.model must not be empty")
	}
	if cfg.Realtime.SignalingTimeout <= 0 {
		return nil, fmt.Errorf("realtime.signaling_timeout must be > 0")
	}
	if cfg.Realtime.ICERestarts < 0 {
		return nil, fmt.Errorf("realtime.ice_restarts must be >= 0")
	}
	for _, server := range cfg.Realtime.ICEServers {
		if !strings.HasPrefix(server, "stun:") && !strings.HasPrefix(server, "turn:") && !strings.HasPrefix(server, "turns:") {
			return nil, fmt.Errorf("realtime.ice_servers entry %q must be a stun:, turn:, or turns: URL", server)
		}
	}

	switch cfg.Audio.Sink {
	case SinkPulse, SinkDiscard:
	default:
		return nil, fmt.Errorf("audio.sink must be one of: %s, %s", SinkPulse, SinkDiscard)
	}

	if cfg.Indicator.Notify && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.notify=true")
	}

	if cfg.Host.CredentialCmd.Raw != "" && len(cfg.Host.CredentialCmd.Argv) == 0 {
		return nil, fmt.Errorf("host.credential_cmd is configured but empty")
	}
	if len(cfg.Host.CredentialCmd.Argv) == 0 {
		warnings = append(warnings, Warning{Message: "host.credential_cmd is unset; credentials must be supplied with `parley token`"})
	}
	if strings.TrimSpace(cfg.User.Name) == "" {
		warnings = append(warnings, Warning{Message: "user.name is unset; the coach will not address you by name"})
	}
	if cfg.Host.Listen != "" && cfg.Host.Listen == cfg.Host.Metrics {
		return nil, fmt.Errorf("host.listen and host.metrics must use different addresses")
	}

	return warnings, nil
}
