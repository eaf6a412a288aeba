// Package remoting carries protocol commands over TCP: a server with a
// per-type dispatcher and push-channel registry, and a client with
// request/response correlation.
package remoting

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohammed-shakir/hotkey-sync/internal/logger"
	"github.com/mohammed-shakir/hotkey-sync/internal/remoting/protocol"
)

var (
	ErrClosed    = errors.New("remoting: connection closed")
	ErrTimeout   = errors.New("remoting: request timed out")
	ErrNoServers = errors.New("remoting: no server addresses")
)

// Conn is one framed connection. Writes are serialized; reads happen on
// the single goroutine running readLoop.
type Conn struct {
	id       string
	nc       net.Conn
	dec      *protocol.Decoder
	maxFrame int
	wtimeout time.Duration

	wmu       sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(nc net.Conn, maxFrame int, writeTimeout time.Duration) *Conn {
	if maxFrame <= 0 {
		maxFrame = protocol.DefaultMaxFrameBytes
	}
	return &Conn{
		id:       logger.NewID(),
		nc:       nc,
		dec:      protocol.NewDecoder(nc, maxFrame),
		maxFrame: maxFrame,
		wtimeout: writeTimeout,
		done:     make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) RemoteAddr() string { return c.nc.RemoteAddr().String() }

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Closed() bool { return c.closed.Load() }

func (c *Conn) Send(cmd protocol.Command) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.wtimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.wtimeout))
	}
	if err := protocol.Encode(c.nc, cmd, c.maxFrame); err != nil {
		if !errors.Is(err, protocol.ErrFrameTooLarge) {
			_ = c.Close()
		}
		return fmt.Errorf("send %s to %s: %w", cmd.Type, c.RemoteAddr(), err)
	}
	return nil
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.nc.Close()
		close(c.done)
	})
	return err
}

// readLoop decodes frames until the connection fails and hands each to
// handle. Any decode error ends the loop.
func (c *Conn) readLoop(handle func(protocol.Command)) error {
	for {
		cmd, err := c.dec.Decode()
		if err != nil {
			return err
		}
		handle(cmd)
	}
}
