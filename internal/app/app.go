package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/cli"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/doctor"
	"github.com/rbright/parley/internal/events"
	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/history"
	"github.com/rbright/parley/internal/indicator"
	"github.com/rbright/parley/internal/ipc"
	"github.com/rbright/parley/internal/logging"
	"github.com/rbright/parley/internal/metrics"
	"github.com/rbright/parley/internal/rtc"
	"github.com/rbright/parley/internal/script"
	"github.com/rbright/parley/internal/session"
	"github.com/rbright/parley/internal/version"
)

const (
	forwardTimeout = 220 * time.Millisecond
	historyLimit   = 20
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("parley"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("parley"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New(logging.Options{Debug: parsed.Debug})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandHistory:
		return r.commandHistory(ctx, cfgLoaded.Config)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandTalk:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandTalk}, forwardTimeout)
	case cli.CommandPTTStart:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandPTTStart}, forwardTimeout)
	case cli.CommandPTTStop:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandPTTStop}, forwardTimeout)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandStop}, forwardTimeout)
	case cli.CommandRetry:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandRetry}, forwardTimeout)
	case cli.CommandToken:
		req := ipc.Request{Command: ipc.CommandToken, Credential: parsed.Args[0]}
		return r.forwardOrFail(ctx, req, dialBudget(cfgLoaded.Config.Realtime))
	case cli.CommandRun:
		return r.commandRun(ctx, cfgLoaded.Config, parsed.SimulatePath, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}

	return 0
}

func (r Runner) commandHistory(ctx context.Context, cfg config.Config) int {
	if strings.TrimSpace(cfg.History.DBPath) == "" {
		fmt.Fprintln(r.Stderr, "error: history is disabled (set history.db_path)")
		return 1
	}
	store, err := history.Open(cfg.History.DBPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	records, err := store.Recent(ctx, historyLimit)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(records) == 0 {
		fmt.Fprintln(r.Stdout, "no sessions recorded")
		return 0
	}
	for _, rec := range records {
		score := "-"
		if rec.OverallScore != nil {
			score = fmt.Sprintf("%.1f", *rec.OverallScore)
		}
		fmt.Fprintf(
			r.Stdout,
			"%s %s | outcome=%s | score=%s | level=%s | issue=%q\n",
			rec.StartedAt.Local().Format(time.DateTime),
			rec.ID,
			rec.Outcome,
			score,
			rec.SkillLevel,
			rec.Issue,
		)
	}
	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: ipc.CommandStatus}, forwardTimeout)
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.State == "" {
			resp.State = "idle"
		}
		fmt.Fprintln(r.Stdout, statusLine(resp))
		return 0
	}

	fmt.Fprintln(r.Stdout, "idle")
	return 0
}

func statusLine(resp ipc.Response) string {
	line := resp.State
	if resp.Stage > 0 {
		line = fmt.Sprintf("%s stage=%d", line, resp.Stage)
	}
	if resp.Stage == 2 {
		line = fmt.Sprintf("%s partner_turns=%d user_turns=%d", line, resp.PartnerTurns, resp.UserTurns)
	}
	return line
}

func (r Runner) forwardOrFail(ctx context.Context, req ipc.Request, timeout time.Duration) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, req, timeout)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no active parley session\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func (r Runner) commandRun(ctx context.Context, cfg config.Config, simulatePath string, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	var simulation *events.TokenRequest
	if simulatePath != "" {
		simulation, err = loadSimulation(simulatePath)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
	}

	listener, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{ProbeTimeout: 180 * time.Millisecond, Retries: 8})
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintln(r.Stderr, "error: a parley session is already running")
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	deps, cleanup, err := buildDeps(cfg, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer cleanup()
	deps.Simulation = simulation

	d, err := newDaemon(cfg, logger, deps)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintf(r.Stdout, "session %s started\n", d.session.ID())

	result, err := d.Run(ctx, listener)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	logSessionResult(logger, result)
	return r.printResult(result)
}

func (r Runner) printResult(result Result) int {
	switch {
	case result.Evaluation != nil:
		out, err := json.MarshalIndent(result.Evaluation, "", "  ")
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: encode evaluation: %v\n", err)
			return 1
		}
		fmt.Fprintln(r.Stdout, string(out))
		return 0
	case result.State == fsm.StateSessionError:
		fmt.Fprintf(r.Stderr, "error: %s\n", result.LastError)
		return 1
	default:
		fmt.Fprintln(r.Stdout, outcome(result.State))
		return 0
	}
}

// buildDeps assembles the production audio, transport, and storage stack.
func buildDeps(cfg config.Config, logger *slog.Logger) (daemonDeps, func(), error) {
	sc, err := script.Load(cfg.Script.Path)
	if err != nil {
		return daemonDeps{}, nil, err
	}

	m := metrics.New("parley")
	dialer, err := rtc.NewDialer(rtc.Config{
		Endpoint:         cfg.Realtime.Endpoint,
		Model:            cfg.Realtime.Model,
		ICEServers:       cfg.Realtime.ICEServers,
		SignalingTimeout: cfg.Realtime.SignalingTimeout,
		ICERestarts:      cfg.Realtime.ICERestarts,
		Logger:           logger,
		Observer:         m,
	})
	if err != nil {
		return daemonDeps{}, nil, err
	}

	var sink audio.Sink = &audio.PulseSink{}
	if cfg.Audio.Sink == config.SinkDiscard {
		sink = &audio.DiscardSink{}
	}
	source := audio.PulseSource{Input: cfg.Audio.Input, Fallback: cfg.Audio.Fallback, Logger: logger}

	deps := daemonDeps{
		Transport: session.WebRTC(dialer),
		Pipeline:  audio.NewPipeline(source, sink),
		Script:    sc,
		Metrics:   m,
		Indicator: indicator.New(cfg.Indicator, logger),
	}
	if len(cfg.Host.CredentialCmd.Argv) > 0 {
		deps.Mint = commandMinter(cfg.Host.CredentialCmd.Argv)
	}

	cleanup := func() {}
	if path := strings.TrimSpace(cfg.History.DBPath); path != "" {
		store, err := history.Open(path)
		if err != nil {
			return daemonDeps{}, nil, err
		}
		deps.Store = store
		cleanup = func() { _ = store.Close() }
	}
	return deps, cleanup, nil
}

// loadSimulation reads a saved stage-2 context for skipping intake.
func loadSimulation(path string) (*events.TokenRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read simulation context: %w", err)
	}
	var req events.TokenRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode simulation context %s: %w", path, err)
	}
	if strings.TrimSpace(req.Issue) == "" {
		return nil, fmt.Errorf("simulation context %s: issue is required", path)
	}
	return &req, nil
}

// dialBudget bounds how long `parley token` waits for the daemon to connect.
func dialBudget(cfg config.RealtimeConfig) time.Duration {
	return cfg.SignalingTimeout*time.Duration(cfg.ICERestarts+1) + 2*time.Second
}

func logSessionResult(logger *slog.Logger, result Result) {
	if logger == nil {
		return
	}
	fields := []any{
		"session_id", result.SessionID,
		"state", result.State,
		"stage", result.Stage,
		"stop_reason", result.StopReason,
		"partner_turns", result.Turns.PartnerTurns,
		"user_turns", result.Turns.UserTurns,
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
	}
	if result.Evaluation != nil {
		fields = append(fields,
			"overall_score", result.Evaluation.OverallScore,
			"skill_level", result.Evaluation.SkillLevel,
		)
	}

	if result.State == fsm.StateSessionError {
		logger.Error("session failed", append(fields, "error", result.LastError)...)
		return
	}
	logger.Info("session complete", fields...)
}

func tryForward(ctx context.Context, socketPath string, req ipc.Request, timeout time.Duration) (ipc.Response, bool, error) {
	client := ipc.Client{Path: socketPath, Timeout: timeout}
	resp, err := client.Do(ctx, req)
	if err == nil {
		return resp, true, nil
	}
	if errors.Is(err, ipc.ErrNotRunning) {
		return ipc.Response{}, false, nil
	}
	if resp.Error != "" {
		return resp, true, errors.New(resp.Error)
	}
	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", req.Command, err)
}
