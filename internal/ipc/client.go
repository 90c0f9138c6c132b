package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"
)

const defaultClientTimeout = 500 * time.Millisecond

// Client talks to the daemon listening on Path. Every call is one
// connection carrying one request and one response.
type Client struct {
	Path    string
	Timeout time.Duration
}

// Send performs one raw roundtrip. A refused response is not an error here.
func (c Client) Send(ctx context.Context, req Request) (Response, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}

	conn, err := (&net.Dialer{Timeout: timeout}).DialContext(ctx, "unix", c.Path)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return Response{}, fmt.Errorf("set deadline: %w", err)
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return Response{}, fmt.Errorf("decode response: %w", err)
		}
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

// Do sends req and turns an unreachable daemon into ErrNotRunning and a
// refused command into an error carrying the daemon's reason.
func (c Client) Do(ctx context.Context, req Request) (Response, error) {
	resp, err := c.Send(ctx, req)
	switch {
	case unreachable(err):
		return Response{}, ErrNotRunning
	case err != nil:
		return Response{}, err
	case !resp.OK:
		return resp, fmt.Errorf("%s: %s", req.Command, resp.Error)
	}
	return resp, nil
}

// Alive reports whether a daemon answers a status query on Path. Errors
// other than a missing or refusing socket are returned so callers do not
// mistake a wedged daemon for a dead one.
func (c Client) Alive(ctx context.Context) (bool, error) {
	_, err := c.Send(ctx, Request{Command: CommandStatus})
	switch {
	case err == nil:
		return true, nil
	case unreachable(err):
		return false, nil
	}
	return false, fmt.Errorf("probe socket: %w", err)
}

func unreachable(err error) bool {
	return err != nil && (errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED))
}
