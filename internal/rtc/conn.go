package rtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/fault"
	"github.com/rbright/parley/internal/realtime"
)

const inboxSize = 256

type inbound struct {
	msg   realtime.Message
	err   error
	fatal bool
}

// Conn is one live peer connection with its data channel and audio tracks.
//
// Server events are queued from the moment the data channel opens and handed
// to the Handler, in arrival order, once Deliver is called.
type Conn struct {
	dialer     *Dialer
	pc         *webrtc.PeerConnection
	dc         *webrtc.DataChannel
	credential string
	mic        *audio.MicStream
	track      *trackWriter
	sink       audio.Sink
	handler    Handler
	logger     *slog.Logger

	opened       chan struct{}
	openOnce     sync.Once
	dialFailed   chan error
	dialFailOnce sync.Once

	// renegotiate runs the ICE-restart offer/answer round trip.
	renegotiate func(context.Context) error

	inbox     chan inbound
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	lossOnce  sync.Once

	mu          sync.Mutex
	closed      bool
	established bool
	restarts    int
	restarting  bool
}

func newConn(d *Dialer, pc *webrtc.PeerConnection, p Params) *Conn {
	c := &Conn{
		dialer:     d,
		pc:         pc,
		credential: p.Credential,
		mic:        p.Mic,
		sink:       p.Sink,
		handler:    p.Handler,
		logger:     d.cfg.Logger,
		opened:     make(chan struct{}),
		dialFailed: make(chan error, 1),
		inbox:      make(chan inbound, inboxSize),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	c.renegotiate = func(ctx context.Context) error {
		return c.negotiate(ctx, &webrtc.OfferOptions{ICERestart: true})
	}
	go c.loop()
	return c
}

func (c *Conn) setupAudio() error {
	track, err := webrtc.NewTrackLocalStaticSample(pcmuCapability, "audio", "parley")
	if err != nil {
		return fault.New(fault.KindConnection, "create local audio track", err)
	}
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return fault.New(fault.KindConnection, "add local audio track", err)
	}
	go drainRTCP(sender)

	c.track = &trackWriter{track: track}
	if c.mic != nil {
		c.mic.Attach(c.track)
	}

	c.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio || c.sink == nil || c.isClosed() {
			return
		}
		if err := c.sink.Attach(remoteStream{track: remote}); err != nil {
			c.warn("attach remote audio", err)
		}
	})
	return nil
}

func (c *Conn) setupDataChannel(session realtime.SessionConfig) error {
	dc, err := c.pc.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		return fault.New(fault.KindConnection, "create data channel", err)
	}
	c.dc = dc

	dc.OnOpen(func() {
		if err := c.send(realtime.SessionUpdate(session)); err != nil {
			c.failDial(err)
			return
		}
		c.openOnce.Do(func() { close(c.opened) })
	})
	dc.OnMessage(func(raw webrtc.DataChannelMessage) {
		if c.isClosed() {
			return
		}
		msg, err := realtime.Parse(raw.Data)
		if err != nil {
			c.enqueue(inbound{err: err})
			return
		}
		if msg.Kind == realtime.KindIgnored {
			return
		}
		c.enqueue(inbound{msg: msg})
	})
	dc.OnClose(func() {
		c.reportLoss(fault.Newf(fault.KindConnection, "data channel", "closed by remote"))
	})
	return nil
}

func (c *Conn) onConnectionState(state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateFailed:
		go c.restartOrFail()
	case webrtc.PeerConnectionStateClosed:
		c.reportLoss(fault.Newf(fault.KindConnection, "peer connection", "closed by remote"))
	}
}

// restartOrFail attempts one ICE restart within the configured budget, both
// during the initial dial and on an established connection. Once the budget
// is spent the next failure is fatal.
func (c *Conn) restartOrFail() {
	c.mu.Lock()
	if c.closed || c.restarting {
		c.mu.Unlock()
		return
	}
	if c.restarts >= c.dialer.cfg.ICERestarts {
		c.mu.Unlock()
		c.fail(fault.Newf(fault.KindConnection, "ice", "connection failed after %d restart(s)", c.restarts))
		return
	}
	c.restarts++
	c.restarting = true
	c.mu.Unlock()

	c.dialer.cfg.Observer.ICERestarted()
	if c.logger != nil {
		c.logger.Warn("ice connection failed; restarting", "attempt", c.restarts)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.dialer.cfg.SignalingTimeout)
	defer cancel()
	err := c.renegotiate(ctx)

	c.mu.Lock()
	c.restarting = false
	c.mu.Unlock()

	if err != nil {
		c.fail(fault.New(fault.KindConnection, "ice restart", err))
	}
}

// fail ends a pending dial, or reports the loss of an established connection.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	established := c.established
	c.mu.Unlock()
	if established {
		c.reportLoss(err)
		return
	}
	c.failDial(err)
}

// negotiate runs one offer/answer round trip.
func (c *Conn) negotiate(ctx context.Context, opts *webrtc.OfferOptions) error {
	offer, err := c.pc.CreateOffer(opts)
	if err != nil {
		return fault.New(fault.KindConnection, "create offer", err)
	}
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fault.New(fault.KindConnection, "set local description", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return contextFault(ctx, "gather ice candidates")
	}

	local := c.pc.LocalDescription()
	if local == nil {
		return fault.Newf(fault.KindConnection, "create offer", "no local description")
	}
	answer, err := c.dialer.exchangeSDP(ctx, c.credential, local.SDP)
	if err != nil {
		return err
	}

	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return fault.New(fault.KindConnection, "apply sdp answer", err)
	}
	return nil
}

// Deliver starts handing queued and future server events to the Handler.
func (c *Conn) Deliver() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// Send writes one client event to the data channel.
func (c *Conn) Send(ev realtime.ClientEvent) error {
	if c.isClosed() {
		return fault.Newf(fault.KindConnection, "send "+ev.Type, "connection closed")
	}
	return c.send(ev)
}

func (c *Conn) send(ev realtime.ClientEvent) error {
	raw, err := realtime.Marshal(ev)
	if err != nil {
		return fault.New(fault.KindProtocol, "encode "+ev.Type, err)
	}
	if err := c.dc.SendText(string(raw)); err != nil {
		return fault.New(fault.KindConnection, "send "+ev.Type, err)
	}
	return nil
}

// Close tears the connection down. It is idempotent and safe in any state.
// The microphone is detached, not stopped.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)

	if c.mic != nil && c.track != nil {
		c.mic.Detach(c.track)
	}
	if c.sink != nil {
		c.sink.Detach()
	}

	var errs []error
	if c.dc != nil {
		if err := c.dc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close data channel: %w", err))
		}
	}
	if err := c.pc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close peer connection: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) failDial(err error) {
	c.dialFailOnce.Do(func() {
		c.dialFailed <- err
	})
}

// reportLoss queues one fatal failure for an established connection.
func (c *Conn) reportLoss(err error) {
	c.mu.Lock()
	live := c.established && !c.closed
	c.mu.Unlock()
	if !live {
		return
	}
	c.lossOnce.Do(func() {
		c.enqueue(inbound{err: err, fatal: true})
	})
}

func (c *Conn) enqueue(in inbound) {
	select {
	case c.inbox <- in:
	case <-c.done:
	}
}

func (c *Conn) loop() {
	select {
	case <-c.ready:
	case <-c.done:
		return
	}
	for {
		select {
		case in := <-c.inbox:
			if c.isClosed() {
				return
			}
			if in.err != nil {
				c.handler.HandleError(in.err, in.fatal)
				continue
			}
			c.handler.HandleMessage(in.msg)
		case <-c.done:
			return
		}
	}
}

func (c *Conn) warn(msg string, err error) {
	if c.logger != nil {
		c.logger.Warn(msg, "error", err.Error())
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// trackWriter encodes microphone frames onto the outbound PCMU track.
type trackWriter struct {
	track *webrtc.TrackLocalStaticSample
}

func (w *trackWriter) WriteFrame(pcm []byte) error {
	samples := len(pcm) / 2
	return w.track.WriteSample(media.Sample{
		Data:     audio.EncodeMuLaw(pcm),
		Duration: time.Duration(samples) * time.Second / audio.SampleRate,
	})
}

// remoteStream decodes inbound PCMU packets for an audio sink.
type remoteStream struct {
	track *webrtc.TrackRemote
}

func (r remoteStream) ReadFrame() ([]byte, error) {
	for {
		packet, _, err := r.track.ReadRTP()
		if err != nil {
			return nil, err
		}
		if len(packet.Payload) == 0 {
			continue
		}
		return audio.DecodeMuLaw(packet.Payload), nil
	}
}
