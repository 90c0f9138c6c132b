package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/events"
	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/realtime"
	"github.com/rbright/parley/internal/rtc"
	"github.com/rbright/parley/internal/script"
)

type fakeConn struct {
	params    rtc.Params
	delivered atomic.Bool
	closed    atomic.Int32

	mu   sync.Mutex
	sent []realtime.ClientEvent
}

func (c *fakeConn) Send(ev realtime.ClientEvent) error {
	if c.closed.Load() > 0 {
		return errors.New("connection closed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, ev)
	return nil
}

func (c *fakeConn) Deliver() { c.delivered.Store(true) }

func (c *fakeConn) Close() error {
	c.closed.Add(1)
	return nil
}

func (c *fakeConn) sentTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, ev := range c.sent {
		out = append(out, ev.Type)
	}
	return out
}

func (c *fakeConn) lastSent() realtime.ClientEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[len(c.sent)-1]
}

// say feeds one raw server event through the connection handler.
func (c *fakeConn) say(t *testing.T, payload string) {
	t.Helper()
	msg, err := realtime.Parse([]byte(payload))
	require.NoError(t, err)
	c.params.Handler.HandleMessage(msg)
}

type fakeTransport struct {
	mu      sync.Mutex
	conns   []*fakeConn
	err     error
	entered chan struct{}
	block   bool
}

func (f *fakeTransport) Dial(ctx context.Context, params rtc.Params) (Conn, error) {
	f.mu.Lock()
	err, block, entered := f.err, f.block, f.entered
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	conn := &fakeConn{params: params}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()
	return conn, nil
}

func (f *fakeTransport) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[len(f.conns)-1]
}

func (f *fakeTransport) dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

type fakeCapture struct {
	chunks chan []byte
	once   sync.Once
}

func (f *fakeCapture) Chunks() <-chan []byte { return f.chunks }
func (f *fakeCapture) Device() audio.Device  { return audio.Device{ID: "fake"} }
func (f *fakeCapture) Stop() error {
	f.once.Do(func() { close(f.chunks) })
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) listen(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *recorder) types() []events.Type {
	var out []events.Type
	for _, ev := range r.all() {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) states() []fsm.State {
	var out []fsm.State
	for _, ev := range r.all() {
		if ev.Type == events.TypeState {
			out = append(out, ev.Data.(events.StateData).State)
		}
	}
	return out
}

func (r *recorder) stateData() []events.StateData {
	var out []events.StateData
	for _, ev := range r.all() {
		if ev.Type == events.TypeState {
			out = append(out, ev.Data.(events.StateData))
		}
	}
	return out
}

func (r *recorder) last(kind events.Type) events.Event {
	all := r.all()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Type == kind {
			return all[i]
		}
	}
	return events.Event{}
}

type harness struct {
	session   *Session
	transport *fakeTransport
	events    *recorder
	opens     *atomic.Int32
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()

	transport := &fakeTransport{}
	opens := &atomic.Int32{}
	pipeline := audio.NewPipeline(audio.MicSourceFunc(func(context.Context) (audio.CaptureStream, error) {
		opens.Add(1)
		return &fakeCapture{chunks: make(chan []byte, 4)}, nil
	}), nil)

	opts := Options{
		Transport: transport,
		Pipeline:  pipeline,
		Script:    script.Default(),
		UserName:  "Sam",
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	s, err := New(opts)
	require.NoError(t, err)
	rec := &recorder{}
	s.OnEvent(rec.listen)
	t.Cleanup(func() { s.Stop("test cleanup") })

	return &harness{session: s, transport: transport, events: rec, opens: opens}
}

func (h *harness) start(t *testing.T, credential string) *fakeConn {
	t.Helper()
	require.NoError(t, h.session.Start(context.Background(), credential))
	return h.transport.last()
}

// toReady drives a fresh stage-1 session to PUSH_TO_TALK_READY.
func (h *harness) toReady(t *testing.T) *fakeConn {
	t.Helper()
	conn := h.start(t, "ek_stage1")
	conn.say(t, `{"type":"output_audio_buffer.started"}`)
	conn.say(t, `{"type":"output_audio_buffer.stopped"}`)
	require.Equal(t, fsm.StatePushToTalkReady, h.session.State())
	return conn
}

// toLoading drives a fresh session through intake to LOADING_SIMULATION.
func (h *harness) toLoading(t *testing.T) *fakeConn {
	t.Helper()
	conn := h.toReady(t)
	conn.say(t, `{"type":"response.function_call_arguments.done","name":"complete_intake","call_id":"c1","arguments":"{\"issue\":\"asking for a raise\",\"partner_voice\":\"coral\"}"}`)
	require.Equal(t, fsm.StateLoadingSimulation, h.session.State())
	return conn
}

// userTurn runs one push-to-talk cycle.
func (h *harness) userTurn(t *testing.T) {
	t.Helper()
	h.session.StartPushToTalk()
	require.Equal(t, fsm.StatePushToTalkActive, h.session.State())
	h.session.StopPushToTalk()
	require.Equal(t, fsm.StatePushToTalkStopped, h.session.State())
}

// partnerTurn runs one partner speaking cycle.
func (h *harness) partnerTurn(t *testing.T, conn *fakeConn) {
	t.Helper()
	conn.say(t, `{"type":"output_audio_buffer.started"}`)
	conn.say(t, `{"type":"response.audio_transcript.delta","delta":"No."}`)
	conn.say(t, `{"type":"output_audio_buffer.stopped"}`)
	require.Equal(t, fsm.StatePushToTalkReady, h.session.State())
}

// toEvaluating drives a session through both stages to the stage-3 wait.
func (h *harness) toEvaluating(t *testing.T) *fakeConn {
	t.Helper()
	h.toLoading(t)
	conn := h.start(t, "ek_stage2")
	h.partnerTurn(t, conn)
	h.userTurn(t)
	h.partnerTurn(t, conn)
	h.userTurn(t)
	conn.say(t, `{"type":"input_audio_buffer.committed"}`)
	require.Equal(t, 3, h.session.Stage())
	return conn
}

func (h *harness) micEnabled() bool {
	mic := h.session.pipeline.Current()
	return mic != nil && mic.Enabled()
}
