// Package relay implements the relay server's connection layer: the TCP
// acceptor, framed connections, the client registry with liveness
// monitoring, and the message dispatch engine.
package relay

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/cory-johannsen/multiworld/internal/protocol"
)

// Conn wraps a TCP connection with the framed message codec. Writes are
// serialized by a per-connection mutex so concurrent relay and resend
// operations cannot interleave their byte streams.
type Conn struct {
	raw    net.Conn
	codec  *protocol.Codec
	reader *bufio.Reader
	mu     sync.Mutex

	writeTimeout time.Duration
}

// NewConn wraps a raw TCP connection.
//
// Precondition: raw must be a valid, open network connection; codec non-nil.
// Postcondition: Returns a Conn ready for reading and writing.
func NewConn(raw net.Conn, codec *protocol.Codec, writeTimeout time.Duration) *Conn {
	return &Conn{
		raw:          raw,
		codec:        codec,
		reader:       bufio.NewReaderSize(raw, 4096),
		writeTimeout: writeTimeout,
	}
}

// ReadMessage blocks until the next frame is decoded. A decode error is
// fatal for the connection; the caller must tear the client down.
func (c *Conn) ReadMessage() (protocol.Message, error) {
	return c.codec.Decode(c.reader)
}

// Send encodes and writes one message. A write timeout counts as a
// connection failure.
func (c *Conn) Send(msg protocol.Message) error {
	frame, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}
	return c.write(frame)
}

// SendBatch encodes several messages and delivers them with a single write,
// preserving their order on the wire.
func (c *Conn) SendBatch(msgs []protocol.Message) error {
	buf, err := c.codec.EncodeBatch(msgs)
	if err != nil {
		return err
	}
	return c.write(buf)
}

func (c *Conn) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := c.raw.Write(frame)
	return err
}

// Close closes the underlying TCP connection.
//
// Postcondition: The connection is closed and no longer usable.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// RemoteAddr returns the remote network address of the client.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}
