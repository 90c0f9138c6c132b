package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type jsoncConfig struct {
	Realtime  *jsoncRealtime  `json:"realtime"`
	Audio     *jsoncAudio     `json:"audio"`
	User      *jsoncUser      `json:"user"`
	Script    *jsoncScript    `json:"script"`
	Host      *jsoncHost      `json:"host"`
	History   *jsoncHistory   `json:"history"`
	Indicator *jsoncIndicator `json:"indicator"`
}

type jsoncRealtime struct {
	Endpoint         *string          `json:"endpoint"`
	Model            *string          `json:"model"`
	ICEServers       *jsoncStringList `json:"ice_servers"`
	SignalingTimeout *jsoncDuration   `json:"signaling_timeout"`
	ICERestarts      *int             `json:"ice_restarts"`
}

type jsoncAudio struct {
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
	Sink     *string `json:"sink"`
}

type jsoncUser struct {
	Name *string `json:"name"`
}

type jsoncScript struct {
	Path *string `json:"path"`
}

type jsoncHost struct {
	CredentialCmd *string `json:"credential_cmd"`
	Listen        *string `json:"listen"`
	Metrics       *string `json:"metrics"`
}

type jsoncHistory struct {
	DBPath *string `json:"db_path"`
}

type jsoncIndicator struct {
	SoundEnable       *bool   `json:"sound_enable"`
	Notify            *bool   `json:"notify"`
	DesktopAppName    *string `json:"desktop_app_name"`
	SoundStartFile    *string `json:"sound_start_file"`
	SoundStopFile     *string `json:"sound_stop_file"`
	SoundCompleteFile *string `json:"sound_complete_file"`
	SoundCancelFile   *string `json:"sound_cancel_file"`
}

type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = splitList(single)
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

// jsoncDuration accepts a Go duration string or a number of milliseconds.
type jsoncDuration time.Duration

func (d *jsoncDuration) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		parsed, err := time.ParseDuration(strings.TrimSpace(text))
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", text, err)
		}
		*d = jsoncDuration(parsed)
		return nil
	}

	var millis int64
	if err := json.Unmarshal(data, &millis); err == nil {
		*d = jsoncDuration(time.Duration(millis) * time.Millisecond)
		return nil
	}

	return fmt.Errorf("expected duration string or milliseconds")
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// parseJSONC overlays the sections present in content on base. Validation is
// left to the caller so environment overrides can apply first.
func parseJSONC(content string, base Config) (Config, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	if err := payload.applyTo(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) error {
	if rt := payload.Realtime; rt != nil {
		setString(&cfg.Realtime.Endpoint, rt.Endpoint)
		setString(&cfg.Realtime.Model, rt.Model)
		if rt.ICEServers != nil {
			cfg.Realtime.ICEServers = append([]string(nil), (*rt.ICEServers)...)
		}
		if rt.SignalingTimeout != nil {
			cfg.Realtime.SignalingTimeout = time.Duration(*rt.SignalingTimeout)
		}
		if rt.ICERestarts != nil {
			cfg.Realtime.ICERestarts = *rt.ICERestarts
		}
	}

	if payload.Audio != nil {
		setString(&cfg.Audio.Input, payload.Audio.Input)
		setString(&cfg.Audio.Fallback, payload.Audio.Fallback)
		setString(&cfg.Audio.Sink, payload.Audio.Sink)
		cfg.Audio.Sink = strings.ToLower(cfg.Audio.Sink)
	}

	if payload.User != nil {
		setString(&cfg.User.Name, payload.User.Name)
	}

	if payload.Script != nil {
		setString(&cfg.Script.Path, payload.Script.Path)
	}

	if host := payload.Host; host != nil {
		if host.CredentialCmd != nil {
			command, err := newCommand("host.credential_cmd", *host.CredentialCmd)
			if err != nil {
				return err
			}
			cfg.Host.CredentialCmd = command
		}
		setString(&cfg.Host.Listen, host.Listen)
		setString(&cfg.Host.Metrics, host.Metrics)
	}

	if payload.History != nil {
		setString(&cfg.History.DBPath, payload.History.DBPath)
	}

	if ind := payload.Indicator; ind != nil {
		if ind.SoundEnable != nil {
			cfg.Indicator.SoundEnable = *ind.SoundEnable
		}
		if ind.Notify != nil {
			cfg.Indicator.Notify = *ind.Notify
		}
		setString(&cfg.Indicator.DesktopAppName, ind.DesktopAppName)
		setString(&cfg.Indicator.SoundStartFile, ind.SoundStartFile)
		setString(&cfg.Indicator.SoundStopFile, ind.SoundStopFile)
		setString(&cfg.Indicator.SoundCompleteFile, ind.SoundCompleteFile)
		setString(&cfg.Indicator.SoundCancelFile, ind.SoundCancelFile)
	}

	return nil
}

func setString(dst *string, value *string) {
	if value != nil {
		*dst = strings.TrimSpace(*value)
	}
}

func newCommand(key, raw string) (CommandConfig, error) {
	argv, err := parseArgv(raw)
	if err != nil {
		return CommandConfig{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return CommandConfig{Raw: raw, Argv: argv}, nil
}
