package remoting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohammed-shakir/hotkey-sync/internal/core/observability"
	"github.com/mohammed-shakir/hotkey-sync/internal/logger"
	"github.com/mohammed-shakir/hotkey-sync/internal/remoting/protocol"
)

// Handler processes one inbound command. It runs on the connection's read
// goroutine, so commands from one connection are handled in order.
type Handler interface {
	Handle(ctx context.Context, c *Conn, cmd protocol.Command)
}

type HandlerFunc func(ctx context.Context, c *Conn, cmd protocol.Command)

func (f HandlerFunc) Handle(ctx context.Context, c *Conn, cmd protocol.Command) { f(ctx, c, cmd) }

type ServerOptions struct {
	Logger        *slog.Logger
	MaxFrameBytes int
	WriteTimeout  time.Duration
}

type Server struct {
	log      *slog.Logger
	maxFrame int
	wtimeout time.Duration
	handlers map[protocol.CommandType]Handler
	channels *ChannelManager

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup

	ready atomic.Bool
}

func NewServer(opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Server{
		log:      opts.Logger,
		maxFrame: opts.MaxFrameBytes,
		wtimeout: opts.WriteTimeout,
		handlers: map[protocol.CommandType]Handler{},
		channels: NewChannelManager(opts.Logger),
	}
}

// Handle registers h for t. Call before Serve.
func (s *Server) Handle(t protocol.CommandType, h Handler) {
	s.handlers[t] = h
}

func (s *Server) Channels() *ChannelManager { return s.channels }

// Addr is the bound listener address, nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Readiness reports whether the listener is accepting, with the number of
// open connections and push-subscribed applications.
func (s *Server) Readiness() (ready bool, detail map[string]int) {
	conns, apps := s.channels.Counts()
	return s.ready.Load(), map[string]int{"connections": conns, "push_apps": apps}
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is done, then closes every connection and
// waits for their goroutines.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.ready.Store(true)
	s.log.Info("tcp listen", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var err error
	for {
		nc, aerr := ln.Accept()
		if aerr != nil {
			if ctx.Err() == nil && !errors.Is(aerr, net.ErrClosed) {
				err = fmt.Errorf("accept: %w", aerr)
			}
			break
		}
		c := newConn(nc, s.maxFrame, s.wtimeout)
		s.channels.Add(c)
		s.wg.Add(1)
		go s.serveConn(ctx, c)
	}

	s.ready.Store(false)
	for _, c := range s.channels.All() {
		_ = c.Close()
	}
	s.wg.Wait()
	s.log.Info("tcp server stopped")
	return err
}

func (s *Server) serveConn(ctx context.Context, c *Conn) {
	defer s.wg.Done()
	observability.ConnOpened()
	ctx = logger.WithConnID(ctx, c.ID())
	s.log.DebugContext(ctx, "connection opened", "remote", c.RemoteAddr())

	defer func() {
		if rec := recover(); rec != nil {
			s.log.ErrorContext(ctx, "connection handler panicked", "panic", rec)
		}
		s.channels.Remove(c)
		_ = c.Close()
		observability.ConnClosed()
		s.log.DebugContext(ctx, "connection closed", "remote", c.RemoteAddr())
	}()

	err := c.readLoop(func(cmd protocol.Command) {
		h, ok := s.handlers[cmd.Type]
		if !ok {
			s.log.WarnContext(ctx, "no handler for command", "type", cmd.Type.String())
			return
		}
		h.Handle(ctx, c, cmd)
	})
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), c.Closed():
	case errors.Is(err, protocol.ErrFrameTooLarge):
		observability.IncFrameError("too_large")
		s.log.WarnContext(ctx, "closing connection", "remote", c.RemoteAddr(), "err", err)
	case errors.Is(err, protocol.ErrShortFrame), errors.Is(err, protocol.ErrUnknownCommand):
		observability.IncFrameError("malformed")
		s.log.WarnContext(ctx, "closing connection", "remote", c.RemoteAddr(), "err", err)
	default:
		s.log.DebugContext(ctx, "connection read ended", "remote", c.RemoteAddr(), "err", err)
	}
}
