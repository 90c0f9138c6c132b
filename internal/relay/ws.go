package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rbright/parley/internal/ipc"
)

const writeTimeout = 5 * time.Second

// Commander executes control commands sent by renderers.
type Commander interface {
	Handle(ctx context.Context, req ipc.Request) ipc.Response
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler serves the event stream at GET /ws. When commander is non-nil,
// text frames holding an ipc.Request are executed and answered with the
// ipc.Response on the same connection.
func (h *Hub) Handler(commander Commander) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			if h.logger != nil {
				h.logger.Debug("relay upgrade failed", "error", err.Error())
			}
			return
		}
		defer func() { _ = conn.Close() }()

		client := &wsClient{conn: conn}
		ch := h.Subscribe()
		defer h.Unsubscribe(ch)

		done := make(chan struct{})
		go func() {
			defer close(done)
			client.readLoop(r.Context(), commander)
		}()

		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := client.write(msg); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})
	return mux
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// readLoop consumes inbound frames until the peer disconnects.
func (c *wsClient) readLoop(ctx context.Context, commander Commander) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if commander == nil {
			continue
		}

		var req ipc.Request
		resp := ipc.Response{}
		if err := json.Unmarshal(data, &req); err != nil {
			resp.Error = "invalid request: " + err.Error()
		} else {
			resp = commander.Handle(ctx, req)
		}
		payload, err := json.Marshal(struct {
			Type string `json:"type"`
			ipc.Response
		}{Type: "response", Response: resp})
		if err != nil {
			continue
		}
		if err := c.write(payload); err != nil {
			return
		}
	}
}
