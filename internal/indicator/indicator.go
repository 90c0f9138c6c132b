// Package indicator turns session events into audio cues and desktop
// notifications.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/events"
	"github.com/rbright/parley/internal/fsm"
)

const notifyTimeout = 400 * time.Millisecond

type notifyFunc func(ctx context.Context, appName string, replaceID uint32, n notification) (uint32, error)

// Indicator is a session event listener. Handle never blocks the event bus:
// cues and notifications run on their own goroutines, serialized per kind.
type Indicator struct {
	cfg    config.IndicatorConfig
	logger *slog.Logger

	play    func(cueKind) error
	notify  notifyFunc
	dismiss func(ctx context.Context, id uint32) error

	mu             sync.Mutex
	notificationID uint32
	notifyMu       sync.Mutex
	soundMu        sync.Mutex
	pending        sync.WaitGroup
}

// New creates an indicator from config.
func New(cfg config.IndicatorConfig, logger *slog.Logger) *Indicator {
	return &Indicator{
		cfg:     cfg,
		logger:  logger,
		play:    func(kind cueKind) error { return emitCue(kind, cfg) },
		notify:  desktopNotify,
		dismiss: desktopDismiss,
	}
}

// Handle reacts to one session event.
func (i *Indicator) Handle(ev events.Event) {
	switch data := ev.Data.(type) {
	case events.StateData:
		i.handleState(data.State)
	case events.TokenRequest:
		i.playCue(cueHandoff)
		i.show(handoffNotice(data))
	case events.Evaluation:
		i.show(evaluationNotice(data))
	case events.ErrorData:
		i.show(failureNotice(data))
	}
}

func (i *Indicator) handleState(state fsm.State) {
	switch state {
	case fsm.StateSessionStarted, fsm.StatePartnerSpeaking:
		i.hide()
	case fsm.StatePushToTalkActive:
		i.playCue(cueTalk)
	case fsm.StatePushToTalkStopped:
		i.playCue(cueSend)
	case fsm.StateSessionCompleted:
		i.playCue(cueComplete)
	case fsm.StateSessionStopped, fsm.StateSessionError:
		i.playCue(cueEnd)
	}
}

// Wait blocks until queued cues and notifications have finished.
func (i *Indicator) Wait() {
	i.pending.Wait()
}

// playCue serializes cue playback and emits audio asynchronously.
func (i *Indicator) playCue(kind cueKind) {
	if !i.cfg.SoundEnable {
		return
	}
	i.pending.Add(1)
	go func() {
		defer i.pending.Done()
		i.soundMu.Lock()
		defer i.soundMu.Unlock()
		if err := i.play(kind); err != nil {
			i.log("indicator audio cue failed", err)
		}
	}()
}

// show replaces the current desktop notification with n.
func (i *Indicator) show(n notification) {
	if !i.cfg.Notify || strings.TrimSpace(n.Summary) == "" {
		return
	}
	i.pending.Add(1)
	go func() {
		defer i.pending.Done()
		i.notifyMu.Lock()
		defer i.notifyMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		i.mu.Lock()
		replaceID := i.notificationID
		i.mu.Unlock()

		id, err := i.notify(ctx, i.cfg.DesktopAppName, replaceID, n)
		if err != nil {
			i.log("indicator notification failed", err)
			return
		}
		i.mu.Lock()
		i.notificationID = id
		i.mu.Unlock()
	}()
}

// hide closes the current desktop notification, if any.
func (i *Indicator) hide() {
	if !i.cfg.Notify {
		return
	}
	i.pending.Add(1)
	go func() {
		defer i.pending.Done()
		i.notifyMu.Lock()
		defer i.notifyMu.Unlock()

		i.mu.Lock()
		id := i.notificationID
		i.notificationID = 0
		i.mu.Unlock()
		if id == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := i.dismiss(ctx, id); err != nil {
			i.log("indicator dismiss failed", err)
		}
	}()
}

// log emits debug-only indicator failures to the runtime logger.
func (i *Indicator) log(message string, err error) {
	if i.logger == nil || err == nil {
		return
	}
	i.logger.Debug(message, "error", err.Error())
}
