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

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/hotkey-sync/internal/remoting/protocol"
)

type ClientOptions struct {
	// Servers is the address list; RouteKey picks one of them.
	Servers  []string
	RouteKey string

	ReportConns    int
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	MaxFrameBytes  int

	// OnPush receives every inbound command that is not a reply to a
	// pending request.
	OnPush func(protocol.Command)
	// OnPushConnect runs after the push connection is (re)established.
	OnPushConnect func(c *Conn)

	Logger *slog.Logger
}

// Client keeps a small pool of report connections and one push
// connection to the server chosen for its route key. Connections are
// dialed lazily and redialed after failure.
type Client struct {
	opts ClientOptions
	addr string
	log  *slog.Logger

	nextID atomic.Uint64
	rr     atomic.Uint64

	pmu     sync.Mutex
	pending map[uint64]chan protocol.Command

	mu     sync.Mutex
	pool   []*Conn
	push   *Conn
	closed bool

	wg sync.WaitGroup

	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewClient(opts ClientOptions) (*Client, error) {
	if len(opts.Servers) == 0 {
		return nil, ErrNoServers
	}
	if opts.ReportConns <= 0 {
		opts.ReportConns = 2
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 3 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	d := &net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}
	return &Client{
		opts:    opts,
		addr:    PickServer(opts.Servers, opts.RouteKey),
		log:     opts.Logger,
		pending: map[uint64]chan protocol.Command{},
		pool:    make([]*Conn, opts.ReportConns),
		dial:    d.DialContext,
	}, nil
}

// PickServer maps key onto one address so all instances of an application
// report to the same server.
func PickServer(servers []string, key string) string {
	if len(servers) == 0 {
		return ""
	}
	return servers[xxhash.Sum64String(key)%uint64(len(servers))]
}

func (c *Client) Addr() string { return c.addr }

func (c *Client) connect(ctx context.Context) (*Conn, error) {
	nc, err := c.dial(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.addr, err)
	}
	conn := newConn(nc, c.opts.MaxFrameBytes, c.opts.WriteTimeout)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := conn.readLoop(c.dispatch)
		if err != nil && !errors.Is(err, io.EOF) && !conn.Closed() {
			c.log.Warn("server connection lost", "addr", c.addr, "err", err)
		}
		_ = conn.Close()
	}()
	return conn, nil
}

func (c *Client) reportConn(ctx context.Context) (*Conn, error) {
	i := int(c.rr.Add(1) % uint64(len(c.pool)))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if cur := c.pool[i]; cur != nil && !cur.Closed() {
		return cur, nil
	}
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	c.pool[i] = conn
	return conn, nil
}

func (c *Client) pushConn(ctx context.Context) (*Conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.push != nil && !c.push.Closed() {
		conn := c.push
		c.mu.Unlock()
		return conn, nil
	}
	conn, err := c.connect(ctx)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.push = conn
	c.mu.Unlock()

	if c.opts.OnPushConnect != nil {
		c.opts.OnPushConnect(conn)
	}
	return conn, nil
}

// EnsurePush dials the push connection if it is not open.
func (c *Client) EnsurePush(ctx context.Context) error {
	_, err := c.pushConn(ctx)
	return err
}

// Send writes a one-way command on a report connection.
func (c *Client) Send(ctx context.Context, t protocol.CommandType, payload []byte) error {
	conn, err := c.reportConn(ctx)
	if err != nil {
		return err
	}
	return conn.Send(protocol.NewCommand(t, 0, payload))
}

// SendPush writes a one-way command on the push connection.
func (c *Client) SendPush(ctx context.Context, t protocol.CommandType, payload []byte) error {
	conn, err := c.pushConn(ctx)
	if err != nil {
		return err
	}
	return conn.Send(protocol.NewCommand(t, 0, payload))
}

// Request sends a command on a report connection and waits for the reply
// with the same id, the timeout, ctx or loss of the connection.
func (c *Client) Request(ctx context.Context, t protocol.CommandType, payload []byte, timeout time.Duration) (protocol.Command, error) {
	conn, err := c.reportConn(ctx)
	if err != nil {
		return protocol.Command{}, err
	}
	return c.request(ctx, conn, t, payload, timeout)
}

// Ping round-trips an ADMIN_PING over the push connection. A failed ping
// closes it so the next use redials.
func (c *Client) Ping(ctx context.Context, timeout time.Duration) error {
	conn, err := c.pushConn(ctx)
	if err != nil {
		return err
	}
	if _, err := c.request(ctx, conn, protocol.AdminPing, nil, timeout); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

func (c *Client) request(ctx context.Context, conn *Conn, t protocol.CommandType, payload []byte, timeout time.Duration) (protocol.Command, error) {
	id := c.nextID.Add(1)
	ch := make(chan protocol.Command, 1)

	c.pmu.Lock()
	c.pending[id] = ch
	c.pmu.Unlock()
	defer func() {
		c.pmu.Lock()
		delete(c.pending, id)
		c.pmu.Unlock()
	}()

	if err := conn.Send(protocol.NewCommand(t, id, payload)); err != nil {
		return protocol.Command{}, err
	}

	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case rep := <-ch:
		return rep, nil
	case <-timer.C:
		return protocol.Command{}, fmt.Errorf("%s id=%d after %s: %w", t, id, timeout, ErrTimeout)
	case <-conn.Done():
		return protocol.Command{}, fmt.Errorf("%s id=%d: %w", t, id, ErrClosed)
	case <-ctx.Done():
		return protocol.Command{}, ctx.Err()
	}
}

// dispatch completes a pending request or falls through to OnPush, so an
// unmatched reply is never silently dropped.
func (c *Client) dispatch(cmd protocol.Command) {
	if cmd.RequestID != 0 {
		c.pmu.Lock()
		ch, ok := c.pending[cmd.RequestID]
		if ok {
			delete(c.pending, cmd.RequestID)
		}
		c.pmu.Unlock()
		if ok {
			ch <- cmd
			return
		}
	}
	if c.opts.OnPush != nil {
		c.opts.OnPush(cmd)
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conns := make([]*Conn, 0, len(c.pool)+1)
	for _, conn := range c.pool {
		if conn != nil {
			conns = append(conns, conn)
		}
	}
	if c.push != nil {
		conns = append(conns, c.push)
	}
	c.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	c.wg.Wait()
	return nil
}
