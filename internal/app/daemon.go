package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/events"
	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/history"
	"github.com/rbright/parley/internal/indicator"
	"github.com/rbright/parley/internal/ipc"
	"github.com/rbright/parley/internal/metrics"
	"github.com/rbright/parley/internal/relay"
	"github.com/rbright/parley/internal/script"
	"github.com/rbright/parley/internal/session"
)

const (
	stopReasonInterrupted = "interrupted"
	httpShutdownTimeout   = 2 * time.Second
	historySaveTimeout    = 5 * time.Second
)

// Result summarizes one finished session.
type Result struct {
	SessionID  string
	State      fsm.State
	Stage      int
	StopReason string
	Turns      session.TurnCounters
	Evaluation *events.Evaluation
	LastError  string
	StartedAt  time.Time
	FinishedAt time.Time
}

type daemonDeps struct {
	Transport  session.Transport
	Pipeline   *audio.Pipeline
	Script     script.Script
	Metrics    *metrics.Metrics
	Indicator  *indicator.Indicator
	Store      *history.Store
	Mint       minter
	Simulation *events.TokenRequest
}

// daemon owns one session and the local surfaces serving it.
type daemon struct {
	cfg       config.Config
	logger    *slog.Logger
	session   *session.Session
	script    script.Script
	metrics   *metrics.Metrics
	hub       *relay.Hub
	indicator *indicator.Indicator
	store     *history.Store
	mint      minter

	requests chan credentialRequest
	done     chan struct{}
	doneOnce sync.Once

	mu        sync.Mutex
	lastError string
}

func newDaemon(cfg config.Config, logger *slog.Logger, deps daemonDeps) (*daemon, error) {
	sess, err := session.New(session.Options{
		Logger:     logger,
		Transport:  deps.Transport,
		Pipeline:   deps.Pipeline,
		Script:     deps.Script,
		UserName:   cfg.User.Name,
		Simulation: deps.Simulation,
	})
	if err != nil {
		return nil, err
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New("parley")
	}

	d := &daemon{
		cfg:       cfg,
		logger:    logger,
		session:   sess,
		script:    deps.Script,
		metrics:   deps.Metrics,
		hub:       relay.NewHub(logger),
		indicator: deps.Indicator,
		store:     deps.Store,
		mint:      deps.Mint,
		requests:  make(chan credentialRequest, 4),
		done:      make(chan struct{}),
	}

	sess.OnEvent(d.onEvent)
	sess.OnEvent(d.metrics.Observe)
	sess.OnEvent(d.hub.Publish)
	if d.indicator != nil {
		sess.OnEvent(d.indicator.Handle)
	}
	return d, nil
}

// Run serves the session until it reaches a terminal state or ctx ends.
func (d *daemon) Run(ctx context.Context, listener net.Listener) (Result, error) {
	startedAt := time.Now()

	var relayListener, metricsListener net.Listener
	if addr := d.cfg.Host.Listen; addr != "" {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return Result{}, fmt.Errorf("listen relay %s: %w", addr, err)
		}
		relayListener = l
	}
	if addr := d.cfg.Host.Metrics; addr != "" {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			if relayListener != nil {
				_ = relayListener.Close()
			}
			return Result{}, fmt.Errorf("listen metrics %s: %w", addr, err)
		}
		metricsListener = l
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, groupCtx := errgroup.WithContext(runCtx)

	group.Go(func() error {
		return ipc.Serve(groupCtx, listener, d.session)
	})
	if relayListener != nil {
		d.logger.Info("relay listening", "addr", relayListener.Addr().String())
		group.Go(func() error {
			return serveHTTP(groupCtx, relayListener, d.hub.Handler(d.session))
		})
	}
	if metricsListener != nil {
		d.logger.Info("metrics listening", "addr", metricsListener.Addr().String())
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.metrics.Handler())
		group.Go(func() error {
			return serveHTTP(groupCtx, metricsListener, mux)
		})
	}

	if d.mint != nil {
		group.Go(func() error {
			d.mintLoop(groupCtx)
			return nil
		})
		d.requestCredential(d.initialRequest())
	} else {
		d.logger.Info("waiting for credential", "hint", "parley token <credential>")
	}

	select {
	case <-d.done:
	case <-groupCtx.Done():
	}
	if !d.session.State().Terminal() {
		d.session.Stop(stopReasonInterrupted)
	}

	cancel()
	serveErr := group.Wait()
	if d.indicator != nil {
		d.indicator.Wait()
	}
	d.hub.Close()

	result := d.result(startedAt)
	if err := d.saveHistory(context.WithoutCancel(ctx), result); err != nil {
		d.logger.Error("save session history failed", "session_id", result.SessionID, "error", err.Error())
	}
	return result, serveErr
}

func (d *daemon) onEvent(ev events.Event) {
	switch data := ev.Data.(type) {
	case events.StateData:
		if data.State.Terminal() {
			d.doneOnce.Do(func() { close(d.done) })
		}
	case events.ErrorData:
		d.mu.Lock()
		d.lastError = data.Message
		d.mu.Unlock()
	case events.TokenRequest:
		if d.mint == nil {
			d.logger.Info("simulation needs a credential", "voice", data.Voice, "hint", "parley token <credential>")
			return
		}
		d.requestCredential(credentialRequest{Stage: 2, SessionID: d.session.ID(), TokenRequest: data})
	}
}

// requestCredential queues a mint without blocking the event drainer.
func (d *daemon) requestCredential(req credentialRequest) {
	select {
	case d.requests <- req:
	default:
		d.logger.Warn("credential request dropped; queue full", "stage", req.Stage)
	}
}

func (d *daemon) initialRequest() credentialRequest {
	req := credentialRequest{Stage: d.session.Stage(), SessionID: d.session.ID()}
	if token, ok := d.session.TokenRequest(); ok {
		req.TokenRequest = token
		return req
	}
	req.Voice = d.script.Coach.Voice
	req.UserName = d.cfg.User.Name
	return req
}

func (d *daemon) mintLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.requests:
			credential, err := d.mint(ctx, req)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				d.logger.Error("mint credential failed", "stage", req.Stage, "error", err.Error(),
					"hint", "parley token <credential>")
				continue
			}
			if err := d.session.Start(ctx, credential); err != nil {
				d.logger.Warn("start with minted credential failed", "stage", req.Stage, "error", err.Error())
			}
		}
	}
}

func (d *daemon) result(startedAt time.Time) Result {
	d.mu.Lock()
	lastError := d.lastError
	d.mu.Unlock()

	result := Result{
		SessionID:  d.session.ID(),
		State:      d.session.State(),
		Stage:      d.session.Stage(),
		StopReason: d.session.StopReason(),
		Turns:      d.session.Turns(),
		LastError:  lastError,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
	if eval, ok := d.session.Evaluation(); ok {
		result.Evaluation = &eval
	}
	return result
}

func (d *daemon) saveHistory(ctx context.Context, result Result) error {
	if d.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, historySaveTimeout)
	defer cancel()

	rec := history.Record{
		ID:         result.SessionID,
		UserName:   d.cfg.User.Name,
		StartedAt:  result.StartedAt,
		EndedAt:    result.FinishedAt,
		Outcome:    outcome(result.State),
		Transcript: d.session.Transcript(),
	}
	if token, ok := d.session.TokenRequest(); ok {
		rec.Issue = token.Issue
		if token.UserName != "" {
			rec.UserName = token.UserName
		}
	}
	if eval := result.Evaluation; eval != nil {
		score := eval.OverallScore
		rec.OverallScore = &score
		rec.SkillLevel = eval.SkillLevel
		raw, err := json.Marshal(eval)
		if err != nil {
			return fmt.Errorf("encode evaluation: %w", err)
		}
		rec.Evaluation = raw
	}
	return d.store.Save(ctx, rec)
}

func outcome(state fsm.State) string {
	switch state {
	case fsm.StateSessionCompleted:
		return "completed"
	case fsm.StateSessionError:
		return "error"
	case fsm.StateSessionStopped:
		return "stopped"
	default:
		return strings.ToLower(string(state))
	}
}

func serveHTTP(ctx context.Context, listener net.Listener, handler http.Handler) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", listener.Addr(), err)
	}
	return nil
}
