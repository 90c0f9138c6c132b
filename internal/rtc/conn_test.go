package rtc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/rbright/parley/internal/fault"
	"github.com/rbright/parley/internal/realtime"
)

type failureLog struct {
	mu    sync.Mutex
	fatal []error
	soft  []error
}

func (l *failureLog) HandleMessage(realtime.Message) {}

func (l *failureLog) HandleError(err error, fatal bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fatal {
		l.fatal = append(l.fatal, err)
		return
	}
	l.soft = append(l.soft, err)
}

func (l *failureLog) fatalCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fatal)
}

// newOfflineConn builds a Conn over an unconnected peer connection whose ICE
// restarts are counted instead of signaled.
func newOfflineConn(t *testing.T, handler Handler) (*Conn, *countingObserver, *atomic.Int32) {
	t.Helper()
	dialer, observer := newTestDialer(t, "http://127.0.0.1:1", time.Second)
	pc, err := dialer.api.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)

	c := newConn(dialer, pc, Params{Credential: "ek_test", Handler: handler})
	t.Cleanup(func() { _ = c.Close() })

	var renegotiations atomic.Int32
	c.renegotiate = func(context.Context) error {
		renegotiations.Add(1)
		return nil
	}
	return c, observer, &renegotiations
}

func (c *Conn) settled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.restarting
}

func TestEstablishedConnRestartsOnceThenFails(t *testing.T) {
	handler := &failureLog{}
	c, observer, renegotiations := newOfflineConn(t, handler)
	c.mu.Lock()
	c.established = true
	c.mu.Unlock()
	c.Deliver()

	c.onConnectionState(webrtc.PeerConnectionStateFailed)
	require.Eventually(t, func() bool {
		return renegotiations.Load() == 1 && c.settled()
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(1), observer.restarts.Load())
	require.Zero(t, handler.fatalCount())

	c.onConnectionState(webrtc.PeerConnectionStateFailed)
	require.Eventually(t, func() bool { return handler.fatalCount() == 1 }, time.Second, 5*time.Millisecond)

	c.onConnectionState(webrtc.PeerConnectionStateFailed)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, handler.fatalCount())
	require.Equal(t, int32(1), observer.restarts.Load())
	require.Equal(t, int32(1), renegotiations.Load())

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.True(t, fault.IsKind(handler.fatal[0], fault.KindConnection))
	require.Empty(t, handler.soft)
}

func TestNegotiatingConnRestartsBeforeFailingDial(t *testing.T) {
	c, observer, renegotiations := newOfflineConn(t, nopHandler{})

	c.onConnectionState(webrtc.PeerConnectionStateFailed)
	require.Eventually(t, func() bool {
		return renegotiations.Load() == 1 && c.settled()
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(1), observer.restarts.Load())
	select {
	case err := <-c.dialFailed:
		t.Fatalf("dial failed before the restart budget was spent: %v", err)
	default:
	}

	c.onConnectionState(webrtc.PeerConnectionStateFailed)
	select {
	case err := <-c.dialFailed:
		require.True(t, fault.IsKind(err, fault.KindConnection), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("dial was not failed after the restart budget was spent")
	}
	require.Equal(t, int32(1), renegotiations.Load())
}

func TestFailedRestartEndsDial(t *testing.T) {
	c, _, _ := newOfflineConn(t, nopHandler{})
	c.renegotiate = func(context.Context) error {
		return fault.Newf(fault.KindConnection, "exchange sdp", "endpoint unreachable")
	}

	c.onConnectionState(webrtc.PeerConnectionStateFailed)
	select {
	case err := <-c.dialFailed:
		require.Contains(t, err.Error(), "ice restart")
	case <-time.After(time.Second):
		t.Fatal("failed restart did not end the dial")
	}
}
