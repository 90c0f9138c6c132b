package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const configFileName = "config.jsonc"

// Loaded is the outcome of Load: where the file was looked for, whether it
// existed, the effective config, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// ResolvePath picks the config file location. An explicit path wins, then
// $PARLEY_CONFIG, then $XDG_CONFIG_HOME/parley, then ~/.config/parley.
func ResolvePath(explicit string) (string, error) {
	for _, candidate := range []string{explicit, os.Getenv("PARLEY_CONFIG")} {
		if strings.TrimSpace(candidate) != "" {
			return candidate, nil
		}
	}

	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "parley", configFileName), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve config location: %w", err)
	}
	return filepath.Join(home, ".config", "parley", configFileName), nil
}

// Parse overlays JSONC content on base. Content holding only whitespace or
// comments leaves base untouched.
func Parse(content string, base Config) (Config, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, err
	}
	switch trimmed := strings.TrimSpace(normalized); {
	case trimmed == "":
		return base, nil
	case !strings.HasPrefix(trimmed, "{"):
		return Config{}, errors.New("config must be a JSONC object")
	}
	return parseJSONC(content, base)
}

// Load reads the file at ResolvePath(explicitPath), then applies PARLEY_*
// environment overrides and validates the result. A missing file is a
// warning, not an error.
func Load(explicitPath string) (Loaded, error) {
	path, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{Path: path, Config: Default()}
	switch content, err := os.ReadFile(path); {
	case errors.Is(err, os.ErrNotExist):
		loaded.Warnings = append(loaded.Warnings, Warning{
			Message: fmt.Sprintf("config file %q not found; using defaults", path),
		})
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", path, err)
	default:
		if loaded.Config, err = Parse(string(content), loaded.Config); err != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", path, err)
		}
		loaded.Exists = true
	}

	if loaded.Config, err = ApplyEnv(loaded.Config); err != nil {
		return Loaded{}, err
	}
	warnings, err := Validate(loaded.Config)
	if err != nil {
		return Loaded{}, fmt.Errorf("config %q: %w", path, err)
	}
	loaded.Warnings = append(loaded.Warnings, warnings...)
	return loaded, nil
}
