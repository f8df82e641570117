package transport

import (
	"go.uber.org/zap"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on. Zero picks a free port, see TCP.Addr.
	Port int

	// NumListeners is the number of SO_REUSEPORT listeners sharing the
	// address. Defaults to the number of CPUs.
	NumListeners int

	// Codec decodes inbound messages and encodes replies.
	Codec *Codec

	// Handler receives every decoded message.
	Handler Handler

	// WriteQueueSize bounds the replies waiting for a connection's write
	// loop.
	WriteQueueSize int

	Log *zap.Logger
}
