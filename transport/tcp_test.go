package transport_test

import (
	"context"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zaptest"

	"github.com/luma/nearwire/atomicupdate"
	"github.com/luma/nearwire/protocol"
	"github.com/luma/nearwire/transport"
)

var _ = Describe("transport", func() {
	Describe("TCP", func() {
		It("listens on the resolved address", func() {
			tcp := makeTCPServer(2, transport.HandlerFunc(func(context.Context, *transport.TCPConn, protocol.Message) {}))

			defer func() {
				Expect(tcp.Close()).To(Succeed())
			}()

			conn, err := net.Dial("tcp", tcp.Addr().String())
			Expect(err).To(Succeed())
			conn.Close()
		})

		It("decodes messages and sends replies", func() {
			received := make(chan protocol.Message, 1)

			tcp := makeTCPServer(1, transport.HandlerFunc(func(ctx context.Context, conn *transport.TCPConn, msg protocol.Message) {
				defer GinkgoRecover()

				received <- msg
				resp := msg.(*atomicupdate.Response[string, string])
				Expect(conn.Send(ctx, resp.Clone())).To(Succeed())
			}))

			defer func() {
				Expect(tcp.Close()).To(Succeed())
			}()

			conn, err := net.Dial("tcp", tcp.Addr().String())
			Expect(err).To(Succeed())
			defer conn.Close()

			codec := makeCodec(3)
			Expect(codec.NewEncoder(conn).Encode(makeResponse(11, "k"))).To(Succeed())

			var msg protocol.Message
			Eventually(received, 5*time.Second).Should(Receive(&msg))
			Expect(msg.(*atomicupdate.Response[string, string]).MessageID).To(Equal(int64(11)))

			Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
			echo, err := codec.NewDecoder(conn).Decode()
			Expect(err).To(Succeed())
			Expect(echo.(*atomicupdate.Response[string, string]).FailedKeys()).To(Equal([]string{"k"}))
		})

		It("closes the connection on a malformed message", func() {
			tcp := makeTCPServer(1, transport.HandlerFunc(func(context.Context, *transport.TCPConn, protocol.Message) {}))

			defer func() {
				Expect(tcp.Close()).To(Succeed())
			}()

			conn, err := net.Dial("tcp", tcp.Addr().String())
			Expect(err).To(Succeed())
			defer conn.Close()

			_, err = conn.Write([]byte{200, 1, 2, 3})
			Expect(err).To(Succeed())

			waitForClose(conn)
		})

		It("closes open connections on Close", func() {
			tcp := makeTCPServer(1, transport.HandlerFunc(func(context.Context, *transport.TCPConn, protocol.Message) {}))

			conn, err := net.Dial("tcp", tcp.Addr().String())
			Expect(err).To(Succeed())
			defer conn.Close()

			// Make sure the connection has been accepted.
			Expect(makeCodec(64).NewEncoder(conn).Encode(makeResponse(1, "a"))).To(Succeed())
			time.Sleep(50 * time.Millisecond)

			Expect(tcp.Close()).To(Succeed())
			waitForClose(conn)
		})
	})
})

// waitForClose waits for the server to close conn.
func waitForClose(conn net.Conn) {
	Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())

	one := make([]byte, 1)
	for {
		_, err := conn.Read(one)
		if err == nil {
			continue
		}

		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			Fail("The client was never closed by the server")
		}

		return
	}
}

func makeTCPServer(listeners int, handler transport.Handler) *transport.TCP {
	tcp := transport.NewTCP(transport.Options{
		Host:         "127.0.0.1",
		Port:         0,
		NumListeners: listeners,
		Codec:        makeCodec(16),
		Handler:      handler,
		Log:          zaptest.NewLogger(GinkgoT()),
	})

	Expect(tcp.Start(context.Background())).To(Succeed())
	return tcp
}
