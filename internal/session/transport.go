package session

import (
	"context"

	"github.com/rbright/parley/internal/realtime"
	"github.com/rbright/parley/internal/rtc"
)

// Transport opens one connection per credential.
type Transport interface {
	Dial(ctx context.Context, params rtc.Params) (Conn, error)
}

// Conn is the session-facing subset of a live connection.
type Conn interface {
	Send(realtime.ClientEvent) error
	// Deliver starts handing server events to the connection's Handler.
	Deliver()
	Close() error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, params rtc.Params) (Conn, error)

func (f TransportFunc) Dial(ctx context.Context, params rtc.Params) (Conn, error) {
	return f(ctx, params)
}

// WebRTC adapts an rtc.Dialer to Transport.
func WebRTC(dialer *rtc.Dialer) Transport {
	return TransportFunc(func(ctx context.Context, params rtc.Params) (Conn, error) {
		conn, err := dialer.Dial(ctx, params)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}
