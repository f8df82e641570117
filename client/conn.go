package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/luma/nearwire/internal/telemetry"
	"github.com/luma/nearwire/marshal"
	"github.com/luma/nearwire/protocol"
	"github.com/luma/nearwire/transport"
)

const defaultWriteQueueSize = 127

var ErrClosed = errors.New("Connection is closed")

type Options struct {
	Codec *transport.Codec

	// OnMessage receives messages sent back by the peer. Without it they are
	// dropped.
	OnMessage func(ctx context.Context, msg protocol.Message)

	WriteQueueSize int

	Log *zap.Logger
}

type request struct {
	msg  protocol.Message
	done chan error
}

// Conn is an outbound connection. All sends go through one write loop so
// the passes of two messages never interleave on the socket.
type Conn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup
	closeOnce  sync.Once
	closeErr   error

	conn      net.Conn
	codec     *transport.Codec
	onMessage func(ctx context.Context, msg protocol.Message)

	writeQueue chan *request

	log *zap.Logger
}

// Dial connects to addr. The connection lives until Close is called or ctx
// is done.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("Failed to dial %s: %w", addr, err)
	}

	return New(ctx, conn, opts), nil
}

// New starts the read and write loops on an established connection.
func New(parentCtx context.Context, conn net.Conn, opts Options) *Conn {
	ctx, cancel := context.WithCancel(parentCtx)

	writeQueueSize := opts.WriteQueueSize
	if writeQueueSize < 1 {
		writeQueueSize = defaultWriteQueueSize
	}

	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	c := &Conn{
		ctx:        ctx,
		cancel:     cancel,
		conn:       conn,
		codec:      opts.Codec,
		onMessage:  opts.OnMessage,
		writeQueue: make(chan *request, writeQueueSize),
		log:        log.With(zap.String("remote", conn.RemoteAddr().String())),
	}

	telemetry.ActiveConnections.Inc()

	c.loopWaiter.Add(2)
	go func() {
		defer c.loopWaiter.Done()
		defer c.cancel()
		c.readLoop()
	}()

	go func() {
		defer c.loopWaiter.Done()
		defer c.cancel()
		c.writeLoop()
	}()

	// Closes the socket when the parent context ends, not only on Close.
	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()

	return c
}

// Done is closed once the connection stops.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()

		c.closeErr = c.conn.Close()
		if errors.Is(c.closeErr, net.ErrClosed) {
			c.closeErr = nil
		}

		c.loopWaiter.Wait()
		telemetry.ActiveConnections.Dec()
	})

	return c.closeErr
}

// Send writes msg and waits until it has been handed to the socket.
func (c *Conn) Send(ctx context.Context, msg protocol.Message) error {
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}

	req := &request{msg: msg, done: make(chan error, 1)}

	select {
	case c.writeQueue <- req:
	case <-c.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-c.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) writeLoop() {
	log := c.log.Named("writeLoop")

	enc := c.codec.NewEncoder(c.conn)
	defer enc.Release()

	for {
		select {
		case <-c.ctx.Done():
			return

		case req := <-c.writeQueue:
			err := enc.Encode(req.msg)
			req.done <- err

			if err == nil {
				continue
			}

			// Nothing reached the socket if the marshal phase failed.
			if errors.Is(err, marshal.ErrMarshal) {
				log.Warn("Failed to marshal message", zap.Error(err))
				continue
			}

			log.Error("Failed to write message, closing connection", zap.Error(err))
			return
		}
	}
}

func (c *Conn) readLoop() {
	log := c.log.Named("readLoop")

	dec := c.codec.NewDecoder(c.conn)
	defer dec.Release()

	for {
		msg, err := dec.Decode()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				log.Debug("Server closed the connection")
			case c.ctx.Err() != nil:
				log.Debug("Context cancelled, exiting...")
			default:
				log.Warn("Failed to read server message", zap.Error(err))
			}

			return
		}

		if c.onMessage == nil {
			log.Debug("Dropping message", zap.Uint8("type", msg.DirectType()))
			continue
		}

		c.onMessage(c.ctx, msg)
	}
}
