// Package relay bridges browser WebSocket clients to the command service.
// Every text frame is forwarded as a command and answered with its response;
// arm events are broadcast to all clients.
package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gwillem/armctl/pkg/command"
	"github.com/gwillem/armctl/pkg/events"
)

var logger = log.WithFields(log.Fields{
	"pkg": "relay",
})

// DefaultAddr is where the relay listens.
const DefaultAddr = ":8000"

// Path is the WebSocket endpoint.
const Path = "/ws"

// Forwarder delivers an encoded command to the command service.
type Forwarder interface {
	SendRaw(ctx context.Context, raw []byte) (command.Response, error)
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(v)
}

// Relay is an http.Handler serving the WebSocket endpoint.
type Relay struct {
	fwd      Forwarder
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New returns a relay forwarding to fwd.
func New(fwd Forwarder) *Relay {
	return &Relay{
		fwd: fwd,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*client]struct{}),
	}
}

// Handler returns a mux with the relay mounted at Path.
func (r *Relay) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, r)
	return mux
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		logger.Warnf("upgrade: %v", err)
		return
	}
	c := &client{conn: ws}
	l := logger.WithField("client", req.RemoteAddr)

	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.mu.Unlock()
	l.Info("client connected")

	defer func() {
		r.mu.Lock()
		delete(r.clients, c)
		r.mu.Unlock()
		ws.Close()
		l.Info("client disconnected")
	}()

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.Debugf("read: %v", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		l.Debugf("command %s", data)
		resp, err := r.fwd.SendRaw(req.Context(), data)
		if err != nil {
			l.Warnf("forward: %v", err)
			resp = command.Failure(errors.Wrap(err, "command service unavailable"))
		}
		if err := c.writeJSON(resp); err != nil {
			l.Debugf("write: %v", err)
			return
		}
	}
}

// Broadcast sends v to every connected client. Clients that cannot be written
// to are dropped.
func (r *Relay) Broadcast(v interface{}) {
	r.mu.Lock()
	targets := make([]*client, 0, len(r.clients))
	for c := range r.clients {
		targets = append(targets, c)
	}
	r.mu.Unlock()

	for _, c := range targets {
		if err := c.writeJSON(v); err != nil {
			logger.Debugf("broadcast: %v", err)
			c.conn.Close()
		}
	}
}

// Run broadcasts events until the channel closes.
func (r *Relay) Run(ch <-chan events.Event) {
	for e := range ch {
		r.Broadcast(e)
	}
}

// Clients returns the number of connected clients.
func (r *Relay) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *Relay) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		c.conn.Close()
	}
}

// ListenAndServe serves the relay on addr until ctx ends.
func ListenAndServe(ctx context.Context, addr string, r *Relay) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("websocket relay listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrapf(err, "serve %s", addr)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.closeAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown relay")
		}
		return nil
	}
}
