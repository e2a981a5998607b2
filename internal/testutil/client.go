// Package testutil provides a framed-protocol test client for integration
// testing the relay server.
package testutil

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/cory-johannsen/multiworld/internal/protocol"
)

// Client is a framed-protocol test client speaking the relay wire format.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	codec  *protocol.Codec
	t      *testing.T
}

// Dial connects to the relay server at addr and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected Client or fails the test.
func Dial(t *testing.T, addr string) *Client {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	client := &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
		codec:  protocol.NewCodec(),
		t:      t,
	}

	t.Logf("relay client connected to %s [%s]", addr, time.Since(start))
	return client
}

// Send encodes and writes one message.
//
// Postcondition: The frame is written, or the test fails.
func (c *Client) Send(msg protocol.Message) {
	c.t.Helper()
	frame, err := c.codec.Encode(msg)
	if err != nil {
		c.t.Fatalf("encoding %s: %v", msg.Kind(), err)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write(frame); err != nil {
		c.t.Fatalf("sending %s: %v", msg.Kind(), err)
	}
}

// ReadMessage decodes the next frame within the timeout.
//
// Postcondition: Returns the decoded message, or fails the test.
func (c *Client) ReadMessage(timeout time.Duration) protocol.Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	msg, err := c.codec.Decode(c.reader)
	if err != nil {
		c.t.Fatalf("reading message: %v", err)
	}
	return msg
}

// ExpectKind reads messages until one of the wanted kind arrives, skipping
// heartbeats and other interleaved traffic, and returns it.
//
// Postcondition: Returns a message of the wanted kind, or fails on timeout.
func (c *Client) ExpectKind(kind protocol.Kind, timeout time.Duration) protocol.Message {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("timed out waiting for %s", kind)
		}
		msg := c.ReadMessage(remaining)
		if msg.Kind() == kind {
			return msg
		}
		c.t.Logf("skipping %s while waiting for %s", msg.Kind(), kind)
	}
}

// Handshake runs the connect exchange and returns the assigned UID.
//
// Postcondition: The client is identified, or the test fails.
func (c *Client) Handshake() uint64 {
	c.t.Helper()
	c.Send(&protocol.ConnectMessage{})
	msg := c.ExpectKind(protocol.KindConnect, 5*time.Second)
	reply, ok := msg.(*protocol.ConnectMessage)
	if !ok || reply.SenderUID == 0 {
		c.t.Fatalf("bad connect reply: %#v", msg)
	}
	return reply.SenderUID
}

// Close closes the underlying connection.
func (c *Client) Close() {
	c.conn.Close()
}
