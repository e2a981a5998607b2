package session

import (
	"github.com/cory-johannsen/multiworld/internal/protocol"
)

// deliveryEntry is one unacknowledged confirmable message with its remaining
// delivery-attempt budget.
type deliveryEntry struct {
	msg protocol.Confirmable
	ttl int
}

// deliveryTable tracks the confirmable messages sent to one player slot that
// have not been acknowledged yet. Every send is tracked as its own entry,
// even when its confirm key collides with an earlier one (distinct batches
// from the same sender can share a key); an acknowledgement settles the
// oldest entry with the matching key. Resends preserve insertion order. The
// table is not safe for concurrent use; the owning Session serializes access.
type deliveryTable struct {
	entries []*deliveryEntry
	index   map[string][]*deliveryEntry
}

func newDeliveryTable() *deliveryTable {
	return &deliveryTable{index: make(map[string][]*deliveryEntry)}
}

// add enqueues a confirmable message with the given budget. Entries sharing
// a confirm key queue up behind each other in send order.
func (t *deliveryTable) add(msg protocol.Confirmable, ttl int) {
	e := &deliveryEntry{msg: msg, ttl: ttl}
	t.entries = append(t.entries, e)
	key := msg.ConfirmKey()
	t.index[key] = append(t.index[key], e)
}

// confirm removes the oldest entry matching key, regardless of its remaining
// budget. One acknowledgement settles one delivery.
func (t *deliveryTable) confirm(key string) (protocol.Confirmable, bool) {
	bucket, ok := t.index[key]
	if !ok || len(bucket) == 0 {
		return nil, false
	}
	e := bucket[0]
	if len(bucket) == 1 {
		delete(t.index, key)
	} else {
		t.index[key] = bucket[1:]
	}
	for i, cur := range t.entries {
		if cur == e {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			break
		}
	}
	return e.msg, true
}

// dropFromIndex unlinks an expired entry from its key bucket.
func (t *deliveryTable) dropFromIndex(e *deliveryEntry) {
	key := e.msg.ConfirmKey()
	bucket := t.index[key]
	for i, cur := range bucket {
		if cur == e {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(t.index, key)
	} else {
		t.index[key] = bucket
	}
}

// snapshot returns all outstanding messages in insertion order without
// touching their budgets. Used to replay a slot's backlog on rebind.
func (t *deliveryTable) snapshot() []protocol.Message {
	msgs := make([]protocol.Message, 0, len(t.entries))
	for _, e := range t.entries {
		msgs = append(msgs, e.msg)
	}
	return msgs
}

// beginSweep decrements every entry's budget and returns all outstanding
// messages in insertion order for a batched resend.
func (t *deliveryTable) beginSweep() []protocol.Message {
	msgs := make([]protocol.Message, 0, len(t.entries))
	for _, e := range t.entries {
		e.ttl--
		msgs = append(msgs, e.msg)
	}
	return msgs
}

// expire drops every entry whose budget has reached zero or below. Called
// only after the sweep's batch was written successfully; the drop is silent
// best-effort semantics, not an error.
func (t *deliveryTable) expire() int {
	kept := t.entries[:0]
	dropped := 0
	for _, e := range t.entries {
		if e.ttl <= 0 {
			t.dropFromIndex(e)
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	t.entries = kept
	return dropped
}

func (t *deliveryTable) len() int { return len(t.entries) }
