package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/multiworld/internal/protocol"
)

// fakeConn records sent messages and can be made to fail writes.
type fakeConn struct {
	mu      sync.Mutex
	sent    []protocol.Message
	batches [][]protocol.Message
	fail    bool
}

func (f *fakeConn) Send(msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("write failed")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeConn) SendBatch(msgs []protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("write failed")
	}
	f.batches = append(f.batches, msgs)
	return nil
}

func (f *fakeConn) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeConn) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeConn) batchAt(i int) []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches[i]
}

func newTestSession(t *testing.T, slots int) *Session {
	t.Helper()
	return New("sess-1", slots, false, 3, zap.NewNop())
}

func TestSession_SendDataToTracksUntilConfirmed(t *testing.T) {
	s := newTestSession(t, 2)
	conn := &fakeConn{}
	s.AddPlayer(1, 10, "Bob", conn)

	s.SendDataTo("item", "Sword", 1, "Alice", 0)
	assert.Equal(t, 1, conn.sentCount(), "immediate best-effort send")
	assert.Equal(t, 1, s.Outstanding(1))

	key := protocol.DataReceiveMessage{Label: "item", Content: "Sword", From: "Alice"}.ConfirmKey()
	assert.True(t, s.Confirm(1, key))
	assert.Equal(t, 0, s.Outstanding(1))

	// After the ack the sweep has nothing to resend.
	require.Empty(t, s.Sweep(time.Now()))
	assert.Equal(t, 0, conn.batchCount())
}

func TestSession_SweepExhaustsBudget(t *testing.T) {
	s := newTestSession(t, 2)
	conn := &fakeConn{}
	s.AddPlayer(1, 10, "Bob", conn)

	s.SendDataTo("item", "Sword", 1, "Alice", 0)

	// Default budget is 3: three sweeps resend, the third drops the entry.
	for i := 0; i < 3; i++ {
		require.Empty(t, s.Sweep(time.Now()))
	}
	assert.Equal(t, 3, conn.batchCount())
	assert.Equal(t, 0, s.Outstanding(1))

	require.Empty(t, s.Sweep(time.Now()))
	assert.Equal(t, 3, conn.batchCount(), "nothing left to resend")
}

func TestSession_SendToUnboundSlotStillTracked(t *testing.T) {
	s := newTestSession(t, 2)

	// Slot 1 exists but has no connection; the entry waits for a rebind.
	s.SendDataTo("item", "Sword", 1, "Alice", 0)
	assert.Equal(t, 1, s.Outstanding(1))

	// Sweeps skip unbound slots, so the budget survives until a reconnect.
	require.Empty(t, s.Sweep(time.Now()))
	assert.Equal(t, 1, s.Outstanding(1))
}

func TestSession_SendDataToAllIndependentEntries(t *testing.T) {
	s := newTestSession(t, 3)
	connB := &fakeConn{}
	connC := &fakeConn{}
	s.AddPlayer(0, 10, "Alice", &fakeConn{})
	s.AddPlayer(1, 11, "Bob", connB)
	s.AddPlayer(2, 12, "Carol", connC)

	s.SendDataToAll("item", "Sword", 0, "Alice", 0)
	assert.Equal(t, 0, s.Outstanding(0), "sender excluded from fan-out")
	assert.Equal(t, 1, s.Outstanding(1))
	assert.Equal(t, 1, s.Outstanding(2))

	// One recipient acking does not settle the other's entry.
	key := protocol.DataReceiveMessage{Label: "item", Content: "Sword", From: "Alice"}.ConfirmKey()
	require.True(t, s.Confirm(1, key))
	assert.Equal(t, 0, s.Outstanding(1))
	assert.Equal(t, 1, s.Outstanding(2))
}

func TestSession_SendDatasTo(t *testing.T) {
	s := newTestSession(t, 2)
	conn := &fakeConn{}
	s.AddPlayer(1, 10, "Bob", conn)

	datas := []protocol.LabeledData{{Label: "a", Content: "1"}, {Label: "b", Content: "2"}}
	s.SendDatasTo(1, datas, 0)
	assert.Equal(t, 1, s.Outstanding(1), "a batch is one confirmable unit")

	key := protocol.DatasReceiveConfirmMessage{From: 0, Count: 2}.ConfirmKey()
	assert.True(t, s.Confirm(1, key))
	assert.Equal(t, 0, s.Outstanding(1))
}

func TestSession_EqualCountBatchesResendIndependently(t *testing.T) {
	s := newTestSession(t, 2)
	conn := &fakeConn{}
	s.AddPlayer(1, 10, "Bob", conn)

	// Two batches from the same sender with the same entry count share a
	// confirm key; each must still be tracked and resent on its own.
	s.SendDatasTo(1, []protocol.LabeledData{{Label: "item", Content: "Sword"}}, 0)
	s.SendDatasTo(1, []protocol.LabeledData{{Label: "item", Content: "Bow"}}, 0)
	require.Equal(t, 2, s.Outstanding(1))

	require.Empty(t, s.Sweep(time.Now()))
	require.Equal(t, 1, conn.batchCount())
	batch := conn.batchAt(0)
	require.Len(t, batch, 2)
	assert.Equal(t, "Sword", batch[0].(protocol.DatasReceiveMessage).Datas[0].Content)
	assert.Equal(t, "Bow", batch[1].(protocol.DatasReceiveMessage).Datas[0].Content)

	// One ack settles the oldest batch; the other keeps being resent.
	key := protocol.DatasReceiveConfirmMessage{From: 0, Count: 1}.ConfirmKey()
	require.True(t, s.Confirm(1, key))
	assert.Equal(t, 1, s.Outstanding(1))

	require.Empty(t, s.Sweep(time.Now()))
	batch = conn.batchAt(1)
	require.Len(t, batch, 1)
	assert.Equal(t, "Bow", batch[0].(protocol.DatasReceiveMessage).Datas[0].Content)
}

func TestSession_AnnounceConfigFansOut(t *testing.T) {
	s := newTestSession(t, 3)
	s.AddPlayer(0, 10, "Alice", &fakeConn{})
	s.AddPlayer(1, 11, "Bob", &fakeConn{})

	s.AnnounceConfig(0, `{"mods":[]}`)
	assert.Equal(t, 0, s.Outstanding(0))
	assert.Equal(t, 1, s.Outstanding(1))
	assert.Equal(t, 1, s.Outstanding(2), "unbound slots receive the config on rebind")

	key := protocol.ConfirmPlayerConfigMessage{PlayerID: 0}.ConfirmKey()
	assert.True(t, s.Confirm(1, key))
	assert.Equal(t, 0, s.Outstanding(1))
}

func TestSession_SweepReportsWriteFailures(t *testing.T) {
	s := newTestSession(t, 2)
	conn := &fakeConn{fail: true}
	s.AddPlayer(1, 10, "Bob", conn)

	s.SendDataTo("item", "Sword", 1, "Alice", 2)

	failures := s.Sweep(time.Now())
	require.Len(t, failures, 1)
	assert.Equal(t, "sess-1", failures[0].SessionID)
	assert.Equal(t, 1, failures[0].Slot)
	assert.Equal(t, uint64(10), failures[0].UID)

	// The entry is not dropped on a failed write even at zero budget, so a
	// reconnect still gets one more attempt.
	assert.Equal(t, 1, s.Outstanding(1))
}

func TestSession_RebindReplacesConnection(t *testing.T) {
	s := newTestSession(t, 2)
	old := &fakeConn{}
	s.AddPlayer(1, 10, "Bob", old)
	s.SendDataTo("item", "Sword", 1, "Alice", 5)

	fresh := &fakeConn{}
	s.AddPlayer(1, 20, "Bob", fresh)

	require.Empty(t, s.Sweep(time.Now()))
	assert.Equal(t, 1, fresh.batchCount(), "resends go to the new connection")
	assert.Equal(t, 0, old.batchCount())
}

func TestSession_ReplayOnRebind(t *testing.T) {
	s := newTestSession(t, 2)

	// Queued while the slot was vacant.
	s.SendDataTo("item", "Sword", 1, "Alice", 5)
	s.SendDataTo("item", "Shield", 1, "Alice", 5)

	conn := &fakeConn{}
	s.AddPlayer(1, 10, "Bob", conn)
	s.Replay(1)

	require.Equal(t, 1, conn.batchCount())
	assert.Equal(t, 2, s.Outstanding(1), "replay spends no delivery budget")
}

func TestSession_ReplayEmptyBacklogSendsNothing(t *testing.T) {
	s := newTestSession(t, 2)
	conn := &fakeConn{}
	s.AddPlayer(1, 10, "Bob", conn)

	s.Replay(1)
	assert.Equal(t, 0, conn.batchCount())
}

func TestSession_BoundPlayersAndPlayerString(t *testing.T) {
	s := newTestSession(t, 3)
	s.AddPlayer(1, 11, "Bob", &fakeConn{})
	s.AddPlayer(0, 10, "Alice", &fakeConn{})

	assert.Equal(t, map[int]string{0: "Alice", 1: "Bob"}, s.BoundPlayers())
	assert.Equal(t, "0: Alice, 1: Bob", s.PlayerString())

	s.RemovePlayer(0)
	assert.Equal(t, "1: Bob", s.PlayerString())
}

func TestSession_IdleClock(t *testing.T) {
	s := newTestSession(t, 1)
	now := time.Now()

	// A fresh session with nobody bound is already idle.
	assert.True(t, s.IdleFor(now.Add(time.Hour), time.Hour))

	s.AddPlayer(0, 10, "Alice", &fakeConn{})
	assert.False(t, s.IdleFor(now.Add(time.Hour), time.Hour))

	s.RemovePlayer(0)
	assert.False(t, s.IdleFor(time.Now(), time.Hour))
	assert.True(t, s.IdleFor(time.Now().Add(2*time.Hour), time.Hour))
}

func TestSession_ObserverNotified(t *testing.T) {
	s := newTestSession(t, 1)

	var mu sync.Mutex
	var last map[int]string
	s.Observe(func(id string, players map[int]string) {
		mu.Lock()
		last = players
		mu.Unlock()
	})

	s.AddPlayer(0, 10, "Alice", &fakeConn{})
	mu.Lock()
	assert.Equal(t, map[int]string{0: "Alice"}, last)
	mu.Unlock()

	s.RemovePlayer(0)
	mu.Lock()
	assert.Empty(t, last)
	mu.Unlock()
}

func TestSession_SaveCount(t *testing.T) {
	s := newTestSession(t, 1)
	s.AddPlayer(0, 10, "Alice", &fakeConn{})

	s.Save(0)
	s.Save(0)
	assert.Equal(t, 2, s.SaveCount(0))
	assert.Equal(t, 0, s.SaveCount(5))
}

func TestRegistry_SweepRetiresIdleSessions(t *testing.T) {
	r := NewRegistry(3, time.Hour, zap.NewNop())
	r.Create("old", 1, false)
	fresh := r.Create("fresh", 1, false)
	fresh.AddPlayer(0, 10, "Alice", &fakeConn{})

	require.Empty(t, r.Sweep(time.Now().Add(2*time.Hour)))

	_, ok := r.Get("old")
	assert.False(t, ok, "idle session retired")
	_, ok = r.Get("fresh")
	assert.True(t, ok)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry(3, time.Hour, zap.NewNop())

	s, created := r.GetOrCreate("abc", true)
	assert.True(t, created)
	assert.True(t, s.IsItemSync())

	again, created := r.GetOrCreate("abc", false)
	assert.False(t, created)
	assert.Same(t, s, again)
}

func TestRegistry_ListOrderedByID(t *testing.T) {
	r := NewRegistry(3, time.Hour, zap.NewNop())
	r.Create("bbb", 1, false)
	r.Create("aaa", 1, true)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "aaa", list[0].ID)
	assert.True(t, list[0].ItemSync)
	assert.Equal(t, "bbb", list[1].ID)
}
