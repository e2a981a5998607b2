package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Frame layout: a 4-byte big-endian length covering everything after the
// length field, a 2-byte big-endian kind, then the JSON-encoded payload.
const (
	headerLen = 6
	kindLen   = 2

	// DefaultMaxFrame bounds a single decoded frame. Gameplay payloads are
	// small; bulk ejects of a full item pool stay well under this.
	DefaultMaxFrame = 1 << 20
)

// Codec encodes and decodes framed messages. It is stateless and safe for
// concurrent use.
type Codec struct {
	maxFrame uint32
}

// NewCodec returns a codec with the default frame limit.
func NewCodec() *Codec {
	return &Codec{maxFrame: DefaultMaxFrame}
}

// NewCodecWithLimit returns a codec with a custom frame limit.
//
// Precondition: maxFrame must be at least kindLen + 2 (smallest JSON body).
func NewCodecWithLimit(maxFrame uint32) *Codec {
	return &Codec{maxFrame: maxFrame}
}

// Encode serializes a message into a single wire frame.
//
// Postcondition: Returns the full frame bytes, or an error if the payload
// cannot be marshalled or exceeds the frame limit.
func (c *Codec) Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s payload: %w", m.Kind(), err)
	}

	inner := uint32(kindLen + len(body))
	if inner > c.maxFrame {
		return nil, fmt.Errorf("%s frame of %d bytes exceeds limit %d", m.Kind(), inner, c.maxFrame)
	}

	frame := make([]byte, headerLen+len(body))
	binary.BigEndian.PutUint32(frame[0:4], inner)
	binary.BigEndian.PutUint16(frame[4:6], uint16(m.Kind()))
	copy(frame[headerLen:], body)
	return frame, nil
}

// EncodeBatch serializes several messages into one contiguous buffer so the
// caller can deliver them with a single write.
func (c *Codec) EncodeBatch(msgs []Message) ([]byte, error) {
	var out []byte
	for _, m := range msgs {
		frame, err := c.Encode(m)
		if err != nil {
			return nil, err
		}
		out = append(out, frame...)
	}
	return out, nil
}

// Decode reads exactly one frame from r and returns the decoded message.
// An unknown kind or oversized frame is an error; callers treat any decode
// error as fatal for the connection.
func (c *Codec) Decode(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	inner := binary.BigEndian.Uint32(lenBuf[:])
	if inner < kindLen {
		return nil, fmt.Errorf("frame length %d shorter than header", inner)
	}
	if inner > c.maxFrame {
		return nil, fmt.Errorf("frame length %d exceeds limit %d", inner, c.maxFrame)
	}

	payload := make([]byte, inner)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}

	kind := Kind(binary.BigEndian.Uint16(payload[0:kindLen]))
	msg, err := newMessage(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload[kindLen:], msg); err != nil {
		return nil, fmt.Errorf("unmarshalling %s payload: %w", kind, err)
	}
	return msg, nil
}
