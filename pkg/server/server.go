// Package server exposes the command queue over TCP. A connection carries a
// stream of JSON command objects; every command gets one JSON response.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gwillem/armctl/pkg/command"
)

var logger = log.WithFields(log.Fields{
	"pkg": "server",
})

// DefaultAddr is where the command service listens.
const DefaultAddr = "localhost:9000"

// DefaultReplyTimeout bounds how long a connection waits for its command.
const DefaultReplyTimeout = 30 * time.Second

// Doer executes a command and waits for its response.
type Doer interface {
	Do(ctx context.Context, c command.Command) command.Response
}

// Server accepts command connections.
type Server struct {
	doer         Doer
	replyTimeout time.Duration

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// New returns a server handing decoded commands to doer.
func New(doer Doer, replyTimeout time.Duration) *Server {
	if replyTimeout <= 0 {
		replyTimeout = DefaultReplyTimeout
	}
	return &Server{
		doer:         doer,
		replyTimeout: replyTimeout,
		conns:        make(map[net.Conn]struct{}),
	}
}

// Listen opens addr and serves it in the background until ctx ends.
func (s *Server) Listen(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	go func() {
		if err := s.Serve(ctx, ln); err != nil {
			logger.Warnf("serve: %v", err)
		}
	}()
	return ln.Addr(), nil
}

// Serve accepts connections on ln until ctx ends or Close is called.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	logger.WithField("addr", ln.Addr().String()).Info("command service listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, "accept")
		}

		s.mu.Lock()
		if s.ln == nil {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// Close stops accepting, drops open connections and waits for handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	var err error
	if s.ln != nil {
		err = s.ln.Close()
		s.ln = nil
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	l := logger.WithField("client", conn.RemoteAddr().String())
	l.Debug("connected")
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		l.Debug("disconnected")
	}()

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if err == io.EOF || errors.Is(err, net.ErrClosed) {
				return
			}
			// The stream cannot be resynchronised after a syntax error.
			l.Warnf("invalid JSON: %v", err)
			_ = enc.Encode(command.Failure(errors.Errorf("invalid JSON: %v", err)))
			return
		}

		resp := s.Handle(ctx, raw)
		if err := enc.Encode(resp); err != nil {
			l.Warnf("write response: %v", err)
			return
		}
	}
}

// Handle decodes and executes a single raw command.
func (s *Server) Handle(ctx context.Context, raw []byte) command.Response {
	c, err := command.Decode(raw)
	if err != nil {
		return command.Failure(err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.replyTimeout)
	defer cancel()
	return s.doer.Do(ctx, c)
}
