// Package rtc negotiates one WebRTC peer connection and data channel per
// ephemeral credential against the realtime endpoint.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/fault"
	"github.com/rbright/parley/internal/realtime"
)

// DataChannelLabel is the channel the realtime endpoint exchanges events on.
const DataChannelLabel = "oai-events"

const (
	defaultSignalingTimeout = 8 * time.Second
	maxErrorBody            = 512
)

// Handler receives decoded server events and failures for one connection.
// Calls for one connection never overlap.
type Handler interface {
	HandleMessage(realtime.Message)
	// HandleError reports a malformed message (fatal=false) or a connection
	// loss that survived the ICE restart budget (fatal=true).
	HandleError(err error, fatal bool)
}

// Observer receives connection metrics.
type Observer interface {
	SignalingCompleted(d time.Duration, err error)
	ICERestarted()
}

type noopObserver struct{}

func (noopObserver) SignalingCompleted(time.Duration, error) {}
func (noopObserver) ICERestarted()                           {}

// Config holds endpoint and negotiation bounds shared by every dial.
type Config struct {
	Endpoint         string
	Model            string
	ICEServers       []string
	SignalingTimeout time.Duration
	ICERestarts      int
	HTTPClient       *http.Client
	Logger           *slog.Logger
	Observer         Observer
}

// Params are the per-connection inputs.
type Params struct {
	Credential string
	Session    realtime.SessionConfig
	Mic        *audio.MicStream
	Sink       audio.Sink
	Handler    Handler
}

// Dialer opens peer connections.
type Dialer struct {
	cfg Config
	api *webrtc.API
}

// NewDialer builds a dialer restricted to the PCMU audio codec.
func NewDialer(cfg Config) (*Dialer, error) {
	if cfg.SignalingTimeout <= 0 {
		cfg.SignalingTimeout = defaultSignalingTimeout
	}
	if cfg.ICERestarts < 0 {
		cfg.ICERestarts = 0
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("realtime endpoint is required")
	}

	media := &webrtc.MediaEngine{}
	if err := media.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: pcmuCapability,
		PayloadType:        0,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register PCMU codec: %w", err)
	}

	return &Dialer{cfg: cfg, api: webrtc.NewAPI(webrtc.WithMediaEngine(media))}, nil
}

var pcmuCapability = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypePCMU,
	ClockRate: audio.SampleRate,
	Channels:  1,
}

// Dial negotiates a connection and returns once the data channel is open and
// the session configuration has been sent. The whole exchange is bounded by
// the signaling timeout; cancelling ctx aborts it.
func (d *Dialer) Dial(ctx context.Context, p Params) (*Conn, error) {
	if strings.TrimSpace(p.Credential) == "" {
		return nil, fault.Newf(fault.KindAuth, "dial", "credential is empty")
	}
	if p.Handler == nil {
		return nil, errors.New("rtc: handler is required")
	}

	started := time.Now()
	conn, err := d.dial(ctx, p)
	d.cfg.Observer.SignalingCompleted(time.Since(started), err)
	return conn, err
}

func (d *Dialer) dial(ctx context.Context, p Params) (*Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SignalingTimeout)
	defer cancel()

	pc, err := d.api.NewPeerConnection(webrtc.Configuration{ICEServers: d.iceServers()})
	if err != nil {
		return nil, fault.New(fault.KindConnection, "create peer connection", err)
	}

	c := newConn(d, pc, p)

	if err := c.setupAudio(); err != nil {
		_ = c.Close()
		return nil, err
	}
	if err := c.setupDataChannel(p.Session); err != nil {
		_ = c.Close()
		return nil, err
	}
	pc.OnConnectionStateChange(c.onConnectionState)

	if err := c.negotiate(ctx, nil); err != nil {
		_ = c.Close()
		return nil, err
	}

	select {
	case <-c.opened:
	case err := <-c.dialFailed:
		_ = c.Close()
		return nil, err
	case <-ctx.Done():
		_ = c.Close()
		return nil, contextFault(ctx, "open data channel")
	}

	c.mu.Lock()
	c.established = true
	c.mu.Unlock()
	select {
	case err := <-c.dialFailed:
		c.reportLoss(err)
	default:
	}
	return c, nil
}

func (d *Dialer) iceServers() []webrtc.ICEServer {
	if len(d.cfg.ICEServers) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: append([]string(nil), d.cfg.ICEServers...)}}
}

// exchangeSDP posts the local offer and returns the remote answer.
func (d *Dialer) exchangeSDP(ctx context.Context, credential string, offer string) (string, error) {
	target, err := d.endpointURL()
	if err != nil {
		return "", fault.New(fault.KindConnection, "build endpoint url", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(offer))
	if err != nil {
		return "", fault.New(fault.KindConnection, "build sdp request", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := d.cfg.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", contextFault(ctx, "exchange sdp")
		}
		return "", fault.New(fault.KindConnection, "exchange sdp", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fault.New(fault.KindConnection, "read sdp answer", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fault.Newf(fault.KindAuth, "exchange sdp", "endpoint rejected credential (%d): %s", resp.StatusCode, snippet(body))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", fault.Newf(fault.KindConnection, "exchange sdp", "endpoint rejected offer (%d): %s", resp.StatusCode, snippet(body))
	}

	answer := string(body)
	if !strings.HasPrefix(strings.TrimSpace(answer), "v=") {
		return "", fault.Newf(fault.KindConnection, "exchange sdp", "endpoint returned a non-SDP answer")
	}
	return answer, nil
}

func (d *Dialer) endpointURL() (string, error) {
	u, err := url.Parse(d.cfg.Endpoint)
	if err != nil {
		return "", err
	}
	if d.cfg.Model != "" {
		q := u.Query()
		q.Set("model", d.cfg.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func snippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	if text == "" {
		return "empty response"
	}
	return text
}

func contextFault(ctx context.Context, op string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fault.New(fault.KindTimeout, op, ctx.Err())
	}
	return ctx.Err()
}
