// Package doctor checks that a machine can host a parley session: config,
// script, credential command, microphone, endpoint, local listeners and
// the history database.
package doctor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/history"
	"github.com/rbright/parley/internal/ipc"
	"github.com/rbright/parley/internal/script"
)

const endpointProbeTimeout = 3 * time.Second

type Check struct {
	Name    string
	Pass    bool
	Message string
}

func pass(name, format string, args ...any) Check {
	return Check{Name: name, Pass: true, Message: fmt.Sprintf(format, args...)}
}

func fail(name, format string, args ...any) Check {
	return Check{Name: name, Message: fmt.Sprintf(format, args...)}
}

type Report struct {
	Checks []Check
}

func (r Report) OK() bool {
	for _, c := range r.Checks {
		if !c.Pass {
			return false
		}
	}
	return true
}

// String renders one "[OK] name: message" line per check.
func (r Report) String() string {
	lines := make([]string, len(r.Checks))
	for i, c := range r.Checks {
		status := "OK"
		if !c.Pass {
			status = "FAIL"
		}
		lines[i] = fmt.Sprintf("[%s] %s: %s", status, c.Name, c.Message)
	}
	return strings.Join(lines, "\n")
}

// selectDevice is swapped in tests so they do not need a Pulse server.
var selectDevice = audio.SelectDevice

// Run executes every check against loaded. Checks never abort early; the
// report lists each outcome in a fixed order.
func Run(ctx context.Context, loaded config.Loaded) Report {
	cfg := loaded.Config
	probes := []func() Check{
		func() Check { return checkConfig(loaded) },
		func() Check { return checkScript(cfg.Script) },
		func() Check { return checkCredentialCommand(cfg.Host.CredentialCmd) },
		func() Check { return checkAudioSelection(ctx, cfg.Audio) },
		func() Check { return checkEndpoint(ctx, cfg.Realtime) },
		func() Check { return checkSession(ctx) },
		func() Check { return checkListen("host.listen", cfg.Host.Listen) },
		func() Check { return checkListen("host.metrics", cfg.Host.Metrics) },
		func() Check { return checkHistory(cfg.History) },
	}

	report := Report{Checks: make([]Check, 0, len(probes))}
	for _, probe := range probes {
		report.Checks = append(report.Checks, probe())
	}
	return report
}

func checkConfig(loaded config.Loaded) Check {
	if !loaded.Exists {
		return pass("config", "%q not found; using defaults", loaded.Path)
	}
	return pass("config", "loaded %q", loaded.Path)
}

func checkScript(cfg config.ScriptConfig) Check {
	if strings.TrimSpace(cfg.Path) == "" {
		return pass("script", "using built-in script")
	}
	if _, err := script.Load(cfg.Path); err != nil {
		return fail("script", "%v", err)
	}
	return pass("script", "loaded %q", cfg.Path)
}

func checkCredentialCommand(cmd config.CommandConfig) Check {
	if len(cmd.Argv) == 0 {
		return pass("host.credential_cmd", "unset; supply credentials with `parley token`")
	}
	return checkCommand(cmd.Argv, "host.credential_cmd")
}

func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return fail(name, "command is empty")
	}
	return checkBinary(argv[0], name+" command is available")
}

func checkBinary(bin, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return fail(bin, "binary not found in PATH: %s", bin)
	}
	return pass(bin, "found at %s (%s)", path, okMsg)
}

func checkAudioSelection(ctx context.Context, cfg config.AudioConfig) Check {
	selection, err := selectDevice(ctx, cfg.Input, cfg.Fallback)
	if err != nil {
		return fail("audio.device", "%v", err)
	}
	if selection.Warning != "" {
		return pass("audio.device", "selected %q (%s)", selection.Device.ID, selection.Warning)
	}
	return pass("audio.device", "selected %q", selection.Device.ID)
}

// checkEndpoint sends an unauthenticated OPTIONS request. Any status below
// 500, including 401, counts as reachable.
func checkEndpoint(ctx context.Context, cfg config.RealtimeConfig) Check {
	const name = "realtime.endpoint"
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return fail(name, "realtime.endpoint is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, endpointProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, endpoint, nil)
	if err != nil {
		return fail(name, "invalid endpoint: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fail(name, "request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fail(name, "HTTP %d from %s", resp.StatusCode, endpoint)
	}
	return pass(name, "reachable at %s (HTTP %d)", endpoint, resp.StatusCode)
}

// checkSession reports whether the daemon socket is usable and whether a
// session already owns it.
func checkSession(ctx context.Context) Check {
	path, err := ipc.RuntimeSocketPath()
	if err != nil {
		return fail("session.socket", "%v", err)
	}
	alive, err := ipc.Client{Path: path, Timeout: 200 * time.Millisecond}.Alive(ctx)
	switch {
	case err != nil:
		return fail("session.socket", "%v", err)
	case alive:
		return pass("session.socket", "a session is running on %s", path)
	}
	return pass("session.socket", "%s is free", path)
}

// checkListen validates a host:port setting without binding it.
func checkListen(name, addr string) Check {
	if strings.TrimSpace(addr) == "" {
		return pass(name, "disabled")
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return fail(name, "invalid address %q: %v", addr, err)
	}
	return pass(name, "will listen on %s", addr)
}

func checkHistory(cfg config.HistoryConfig) Check {
	if strings.TrimSpace(cfg.DBPath) == "" {
		return pass("history", "disabled")
	}
	store, err := history.Open(cfg.DBPath)
	if err != nil {
		return fail("history", "%v", err)
	}
	_ = store.Close()
	return pass("history", "writable at %s", cfg.DBPath)
}
