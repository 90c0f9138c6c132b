package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// envOverrides holds PARLEY_* variables. Unset variables leave pointers nil
// so the file value survives.
type envOverrides struct {
	Endpoint         *string        `env:"PARLEY_REALTIME_ENDPOINT"`
	Model            *string        `env:"PARLEY_REALTIME_MODEL"`
	SignalingTimeout *time.Duration `env:"PARLEY_SIGNALING_TIMEOUT"`
	UserName         *string        `env:"PARLEY_USER_NAME"`
	CredentialCmd    *string        `env:"PARLEY_CREDENTIAL_CMD"`
	Listen           *string        `env:"PARLEY_LISTEN"`
	Metrics          *string        `env:"PARLEY_METRICS"`
	HistoryDB        *string        `env:"PARLEY_HISTORY_DB"`
}

// ApplyEnv overlays PARLEY_* environment variables on cfg.
func ApplyEnv(cfg Config) (Config, error) {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	setString(&cfg.Realtime.Endpoint, overrides.Endpoint)
	setString(&cfg.Realtime.Model, overrides.Model)
	if overrides.SignalingTimeout != nil {
		cfg.Realtime.SignalingTimeout = *overrides.SignalingTimeout
	}
	setString(&cfg.User.Name, overrides.UserName)
	if overrides.CredentialCmd != nil {
		command, err := newCommand("PARLEY_CREDENTIAL_CMD", *overrides.CredentialCmd)
		if err != nil {
			return Config{}, err
		}
		cfg.Host.CredentialCmd = command
	}
	setString(&cfg.Host.Listen, overrides.Listen)
	setString(&cfg.Host.Metrics, overrides.Metrics)
	setString(&cfg.History.DBPath, overrides.HistoryDB)
	return cfg, nil
}
