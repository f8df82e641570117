package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"strconv"
	"sync"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luma/nearwire/internal/telemetry"
	"github.com/luma/nearwire/protocol"
)

const defaultWriteQueueSize = 127

var ErrConnClosed = errors.New("Connection is closed")

// Handler receives decoded messages. It runs on the connection's read loop,
// so the next message is not decoded until it returns.
type Handler interface {
	ServeMessage(ctx context.Context, conn *TCPConn, msg protocol.Message)
}

type HandlerFunc func(ctx context.Context, conn *TCPConn, msg protocol.Message)

func (f HandlerFunc) ServeMessage(ctx context.Context, conn *TCPConn, msg protocol.Message) {
	f(ctx, conn, msg)
}

type TCP struct {
	cancel context.CancelFunc
	group  *errgroup.Group

	addr string

	numListeners int
	listeners    []*TCPListener

	codec          *Codec
	handler        Handler
	writeQueueSize int

	log *zap.Logger
}

func NewTCP(options Options) *TCP {
	numListeners := options.NumListeners
	if numListeners < 1 {
		numListeners = runtime.NumCPU()
	}

	writeQueueSize := options.WriteQueueSize
	if writeQueueSize < 1 {
		writeQueueSize = defaultWriteQueueSize
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &TCP{
		addr:           net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		numListeners:   numListeners,
		listeners:      make([]*TCPListener, 0, numListeners),
		codec:          options.Codec,
		handler:        options.Handler,
		writeQueueSize: writeQueueSize,
		log:            log,
	}
}

// Start binds every listener before returning, then serves them in the
// background until Close or ctx is done.
func (t *TCP) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	t.cancel = cancel
	t.group, ctx = errgroup.WithContext(ctx)

	t.log.Info("Starting tcp listeners", zap.Int("count", t.numListeners))

	addr := t.addr
	for i := 0; i < t.numListeners; i++ {
		ln, err := reuseport.Listen("tcp", addr)
		if err != nil {
			cancel()
			return multierr.Append(
				fmt.Errorf("Failed to listen on %s: %w", addr, err),
				t.closeListeners(),
			)
		}

		// Later listeners must share the port the first one picked.
		addr = ln.Addr().String()

		listener := newTCPListener(
			ctx,
			ln,
			t,
			t.log.Named("listener").With(zap.Int("listener", i)),
		)
		t.listeners = append(t.listeners, listener)

		t.group.Go(listener.Serve)
	}

	return nil
}

// Addr is the address the listeners are bound to.
func (t *TCP) Addr() net.Addr {
	if len(t.listeners) == 0 {
		return nil
	}

	return t.listeners[0].ln.Addr()
}

// Close stops accepting, closes every connection and waits for all loops to
// exit.
func (t *TCP) Close() error {
	t.log.Info("Stopping TCP server")

	if t.cancel == nil {
		return nil
	}

	t.cancel()

	err := t.closeListeners()
	if gerr := t.group.Wait(); gerr != nil {
		err = multierr.Append(err, gerr)
	}

	t.log.Info("Listeners stopped")
	return err
}

func (t *TCP) closeListeners() (err error) {
	for _, listener := range t.listeners {
		err = multierr.Append(err, listener.Close())
	}

	return err
}

type TCPListener struct {
	ctx context.Context
	ln  net.Listener
	srv *TCP
	log *zap.Logger

	loopWaiter sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	activeConns map[*TCPConn]struct{}
}

func newTCPListener(ctx context.Context, ln net.Listener, srv *TCP, log *zap.Logger) *TCPListener {
	return &TCPListener{
		ctx:         ctx,
		ln:          ln,
		srv:         srv,
		log:         log,
		activeConns: make(map[*TCPConn]struct{}),
	}
}

// Close closes the listening socket and every active connection.
func (t *TCPListener) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}

	t.closed = true
	conns := make([]*TCPConn, 0, len(t.activeConns))
	for conn := range t.activeConns {
		conns = append(conns, conn)
	}
	t.mu.Unlock()

	err := t.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	for _, conn := range conns {
		err = multierr.Append(err, conn.Close())
	}

	return err
}

// Serve accepts connections until the listener is closed.
func (t *TCPListener) Serve() error {
	defer func() {
		t.log.Info("Waiting for read/write loops to stop")
		t.loopWaiter.Wait()
		t.log.Info("Listener stopped")
	}()

	go func() {
		<-t.ctx.Done()

		if err := t.Close(); err != nil {
			t.log.Warn("TCP listener did not close cleanly", zap.Error(err))
		}
	}()

	for {
		conn, err := t.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || t.ctx.Err() != nil {
				// Closed while waiting for new connections.
				return nil
			}

			return fmt.Errorf("Failed to accept connection: %w", err)
		}

		tcpConn := newTCPConn(t.ctx, conn, t.srv, t.log.Named("conn"))
		if !t.addConn(tcpConn) {
			conn.Close()
			return nil
		}

		t.loopWaiter.Add(1)
		go func() {
			defer t.loopWaiter.Done()
			defer t.removeConn(tcpConn)

			tcpConn.Start()

			if err := tcpConn.Close(); err != nil {
				t.log.Debug("Connection did not close cleanly", zap.Error(err))
			}
		}()
	}
}

func (t *TCPListener) addConn(conn *TCPConn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}

	t.activeConns[conn] = struct{}{}
	return true
}

func (t *TCPListener) removeConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.activeConns, conn)
}

// TCPConn is one accepted connection: a read loop decoding messages into the
// handler and a write loop encoding replies queued with Send.
type TCPConn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup
	closeOnce  sync.Once
	closeErr   error

	conn    net.Conn
	codec   *Codec
	handler Handler

	writeQueue chan protocol.Message

	log *zap.Logger
}

func newTCPConn(parentCtx context.Context, conn net.Conn, srv *TCP, log *zap.Logger) *TCPConn {
	ctx, cancel := context.WithCancel(parentCtx)

	return &TCPConn{
		ctx:        ctx,
		cancel:     cancel,
		conn:       conn,
		codec:      srv.codec,
		handler:    srv.handler,
		writeQueue: make(chan protocol.Message, srv.writeQueueSize),
		log:        log.With(zap.String("remote", conn.RemoteAddr().String())),
	}
}

func (t *TCPConn) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// Close stops both loops and closes the socket. It is safe to call more than
// once.
func (t *TCPConn) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()

		// Unblocks a read loop waiting on the socket.
		t.closeErr = t.conn.Close()
		if errors.Is(t.closeErr, net.ErrClosed) {
			t.closeErr = nil
		}

		t.loopWaiter.Wait()
	})

	return t.closeErr
}

// Start runs the read and write loops and returns once both have exited.
func (t *TCPConn) Start() {
	telemetry.ActiveConnections.Inc()
	defer telemetry.ActiveConnections.Dec()

	t.loopWaiter.Add(2)

	go func() {
		defer t.loopWaiter.Done()
		defer t.cancel()
		t.ReadLoop()
	}()

	go func() {
		defer t.loopWaiter.Done()
		defer t.cancel()
		t.WriteLoop()
	}()

	t.loopWaiter.Wait()
}

func (t *TCPConn) ReadLoop() {
	log := t.log.Named("readLoop")

	dec := t.codec.NewDecoder(t.conn)
	defer dec.Release()

	for {
		msg, err := dec.Decode()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				log.Debug("Peer closed the connection")
			case t.ctx.Err() != nil:
				log.Debug("Context cancelled, exiting...")
			default:
				// The decoder cannot resync after a bad message.
				log.Warn("Failed to decode message, closing connection", zap.Error(err))
			}

			return
		}

		t.handler.ServeMessage(t.ctx, t, msg)
	}
}

func (t *TCPConn) WriteLoop() {
	log := t.log.Named("writeLoop")

	enc := t.codec.NewEncoder(t.conn)
	defer enc.Release()

	for {
		select {
		case <-t.ctx.Done():
			return

		case msg := <-t.writeQueue:
			if err := enc.Encode(msg); err != nil {
				log.Error("Failed to write message",
					zap.Uint8("type", msg.DirectType()),
					zap.Error(err))
				return
			}
		}
	}
}

// Send queues msg for the write loop. It blocks while the queue is full.
func (t *TCPConn) Send(ctx context.Context, msg protocol.Message) error {
	select {
	case <-t.ctx.Done():
		return ErrConnClosed
	default:
	}

	select {
	case t.writeQueue <- msg:
		return nil

	case <-t.ctx.Done():
		return ErrConnClosed

	case <-ctx.Done():
		return ctx.Err()
	}
}
