// Package audio owns microphone capture, remote playback sinks, and the
// read-only level taps used by visualizers.
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// ErrNoDevices is returned when Pulse reports no input sources.
var ErrNoDevices = errors.New("no audio input devices found")

// Device describes one Pulse input source.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// usable reports whether capture from d would produce sound.
func (d Device) usable() bool { return d.Available && !d.Muted }

func (d Device) problem() string {
	if d.Muted {
		return "muted"
	}
	return "unavailable"
}

// Selection is the device capture should open. Warning is set when the
// configured input was skipped in favour of the fallback.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

func newPulseClient(icon string) (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("parley"),
		pulse.ClientApplicationIconName(icon),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// ListDevices returns every Pulse input source.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := newPulseClient("audio-input-microphone")
	if err != nil {
		return nil, err
	}
	defer client.Close()

	def, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}

	var reply pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &reply); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(reply))
	for _, info := range reply {
		if info == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          info.SourceName,
			Description: info.Device,
			State:       sourceState(info.State),
			Available:   sourceAvailable(info),
			Muted:       info.Mute,
			Default:     info.SourceName == def.ID(),
		})
	}
	return devices, nil
}

// SelectDevice applies the audio.input / audio.fallback policy to the live
// device list.
func SelectDevice(ctx context.Context, input, fallback string) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return pickDevice(devices, input, fallback)
}

// pickDevice resolves input, then fallback, against devices. Terms are
// case-insensitive substrings of the id or description; "" and "default"
// mean the server default source.
func pickDevice(devices []Device, input, fallback string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, ErrNoDevices
	}

	find := func(term string) (Device, error) {
		term = strings.ToLower(strings.TrimSpace(term))
		for _, d := range devices {
			if isDefaultTerm(term) && d.Default || !isDefaultTerm(term) && deviceMatches(d, term) {
				return d, nil
			}
		}
		if isDefaultTerm(term) {
			return Device{}, errors.New("default audio source is unavailable")
		}
		return Device{}, fmt.Errorf("no device matches %q", term)
	}

	primary, err := find(input)
	if err != nil {
		return Selection{}, fmt.Errorf("audio.input: %w", err)
	}
	if primary.usable() {
		return Selection{Device: primary}, nil
	}

	replacement, err := find(fallback)
	if err != nil {
		return Selection{}, fmt.Errorf("primary input %q is %s and no usable fallback: %w", primary.ID, primary.problem(), err)
	}
	if !replacement.usable() {
		return Selection{}, fmt.Errorf("audio fallback device %q is %s", replacement.ID, replacement.problem())
	}

	return Selection{
		Device:   replacement,
		Warning:  fmt.Sprintf("audio.input %q is %s; falling back to %q", primary.ID, primary.problem(), replacement.ID),
		Fallback: replacement.ID != primary.ID,
	}, nil
}

func isDefaultTerm(term string) bool { return term == "" || term == "default" }

func deviceMatches(d Device, term string) bool {
	if term == "" {
		return false
	}
	return strings.Contains(strings.ToLower(d.ID), term) ||
		strings.Contains(strings.ToLower(d.Description), term)
}

var sourceStates = [...]string{"running", "idle", "suspended"}

func sourceState(state uint32) string {
	if int(state) < len(sourceStates) {
		return sourceStates[state]
	}
	return fmt.Sprintf("unknown(%d)", state)
}

// sourceAvailable reads the active port's availability. Sources without
// ports, or whose active port reports unknown (0), count as available.
func sourceAvailable(info *pulseproto.GetSourceInfoReply) bool {
	if info == nil {
		return false
	}
	const portUnavailable = 1
	for _, port := range info.Ports {
		if port.Name == info.ActivePortName {
			return port.Available != portUnavailable
		}
	}
	return true
}
