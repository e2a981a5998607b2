package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func decodeOne(t *testing.T, c *Codec, frame []byte) (Message, error) {
	t.Helper()
	return c.Decode(bufio.NewReader(bytes.NewReader(frame)))
}

func TestCodec_RoundTrip(t *testing.T) {
	c := NewCodec()

	msgs := []Message{
		&ConnectMessage{SenderUID: 42, ServerName: "test"},
		&ReadyMessage{Room: "alpha", Nickname: "Alice", Mode: ModeMultiworld},
		&ItemSyncReadyMessage{Room: "beta", Nickname: "Bob", Hash: -17},
		&DataSendMessage{Label: MultiworldItemLabel, Content: "Mothwing_Cloak", To: ToAllPlayers, TTL: 3},
		&DatasReceiveMessage{From: 1, Datas: []LabeledData{{Label: "l", Content: "c"}}},
		&ResultMessage{
			Placements: PlacementSet{"grp": {{Item: "MW(1)_Sword", Location: "Chest_5"}}},
			SessionID:  "abc",
			PlayerID:   1,
			Nicknames:  []string{"Alice", "Bob"},
		},
		&PingMessage{},
	}

	for _, msg := range msgs {
		frame, err := c.Encode(msg)
		require.NoError(t, err)

		got, err := decodeOne(t, c, frame)
		require.NoError(t, err)
		assert.Equal(t, msg, got)
	}
}

func TestCodec_UnknownKindFatal(t *testing.T) {
	c := NewCodec()

	var frame bytes.Buffer
	require.NoError(t, binary.Write(&frame, binary.BigEndian, uint32(4)))
	require.NoError(t, binary.Write(&frame, binary.BigEndian, uint16(9999)))
	frame.WriteString("{}")

	_, err := decodeOne(t, c, frame.Bytes())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown message kind")
}

func TestCodec_FrameTooLarge(t *testing.T) {
	c := NewCodecWithLimit(64)

	var frame bytes.Buffer
	require.NoError(t, binary.Write(&frame, binary.BigEndian, uint32(1024)))
	require.NoError(t, binary.Write(&frame, binary.BigEndian, uint16(KindPing)))

	_, err := decodeOne(t, c, frame.Bytes())
	require.Error(t, err)
}

func TestCodec_EncodeBatchPreservesOrder(t *testing.T) {
	c := NewCodec()

	buf, err := c.EncodeBatch([]Message{
		&DataReceiveMessage{Label: "a", Content: "1", From: "Alice"},
		&DataReceiveMessage{Label: "b", Content: "2", From: "Alice"},
		&PingMessage{},
	})
	require.NoError(t, err)

	reader := bufio.NewReader(bytes.NewReader(buf))
	first, err := c.Decode(reader)
	require.NoError(t, err)
	second, err := c.Decode(reader)
	require.NoError(t, err)
	third, err := c.Decode(reader)
	require.NoError(t, err)

	assert.Equal(t, "a", first.(*DataReceiveMessage).Label)
	assert.Equal(t, "b", second.(*DataReceiveMessage).Label)
	assert.Equal(t, KindPing, third.Kind())
}

func TestCodec_RoundTrip_Rapid(t *testing.T) {
	c := NewCodec()
	rapid.Check(t, func(t *rapid.T) {
		msg := &DataSendMessage{
			Label:   rapid.StringMatching(`[a-z-]{1,20}`).Draw(t, "label"),
			Content: rapid.String().Draw(t, "content"),
			To:      rapid.IntRange(-2, 10).Draw(t, "to"),
			TTL:     rapid.IntRange(0, 100).Draw(t, "ttl"),
		}
		frame, err := c.Encode(msg)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := c.Decode(bufio.NewReader(bytes.NewReader(frame)))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if *got.(*DataSendMessage) != *msg {
			t.Fatalf("round trip mismatch: %#v != %#v", got, msg)
		}
	})
}

func TestConfirmKeys_MatchAcknowledgements(t *testing.T) {
	data := DataReceiveMessage{Label: "l", Content: "c", From: "Alice"}
	assert.Equal(t, data.ConfirmKey(),
		DataReceiveConfirmMessage{Label: "l", Content: "c", From: "Alice"}.ConfirmKey())

	datas := DatasReceiveMessage{From: 2, Datas: []LabeledData{{}, {}}}
	assert.Equal(t, datas.ConfirmKey(),
		DatasReceiveConfirmMessage{From: 2, Count: 2}.ConfirmKey())

	cfg := AnnouncePlayerConfigMessage{PlayerID: 3, Config: "x"}
	assert.Equal(t, cfg.ConfirmKey(), ConfirmPlayerConfigMessage{PlayerID: 3}.ConfirmKey())

	// A different sender must never settle someone else's entry.
	other := DataReceiveConfirmMessage{Label: "l", Content: "c", From: "Bob"}
	assert.NotEqual(t, data.ConfirmKey(), other.ConfirmKey())
}
