// Package session provides the per-game session abstraction: player-slot
// bookkeeping, gameplay data routing, and the reliable-delivery subsystem
// (acknowledgement tracking plus timed resend).
package session

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/multiworld/internal/protocol"
)

// Conn is the outbound half of a client connection. SendBatch must deliver
// all frames in one write so a resend sweep cannot interleave with other
// traffic on the same socket.
type Conn interface {
	Send(msg protocol.Message) error
	SendBatch(msgs []protocol.Message) error
}

// MembershipObserver is notified whenever the set of bound players changes.
type MembershipObserver func(sessionID string, players map[int]string)

// Player is one slot of a session. A slot keeps its nickname and outstanding
// message accounting even while no client is bound to it.
type Player struct {
	UID      uint64
	Nickname string

	conn        Conn
	saves       int
	lastSave    time.Time
	outstanding *deliveryTable
}

// Session is one active game instance. All methods are safe for concurrent use.
type Session struct {
	mu         sync.Mutex
	id         string
	itemSync   bool
	defaultTTL int
	players    map[int]*Player
	idleSince  time.Time
	observers  []MembershipObserver
	logger     *zap.Logger
}

// New creates a session with the given number of pre-allocated player slots
// (0..slots-1). Further slots are created lazily when players join.
//
// Precondition: id must be non-empty; defaultTTL >= 1; logger non-nil.
func New(id string, slots int, itemSync bool, defaultTTL int, logger *zap.Logger) *Session {
	s := &Session{
		id:         id,
		itemSync:   itemSync,
		defaultTTL: defaultTTL,
		players:    make(map[int]*Player, slots),
		idleSince:  time.Now(),
		logger:     logger.With(zap.String("session", id)),
	}
	for i := 0; i < slots; i++ {
		s.players[i] = &Player{outstanding: newDeliveryTable()}
	}
	return s
}

// ID returns the session identifier (randoId).
func (s *Session) ID() string { return s.id }

// IsItemSync reports whether this is an item-sync session.
func (s *Session) IsItemSync() bool { return s.itemSync }

// Observe registers a membership-changed observer.
func (s *Session) Observe(fn MembershipObserver) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// slot returns the player record for id, creating it on first use.
// Caller holds s.mu.
func (s *Session) slot(id int) *Player {
	p, ok := s.players[id]
	if !ok {
		p = &Player{outstanding: newDeliveryTable()}
		s.players[id] = p
	}
	return p
}

// AddPlayer binds a client connection to a player slot. Binding clears the
// session's idle state. Rebinding an occupied slot replaces the connection.
//
// Postcondition: Observers are notified with the updated bound-player set.
func (s *Session) AddPlayer(slotID int, uid uint64, nickname string, conn Conn) {
	s.mu.Lock()
	p := s.slot(slotID)
	p.UID = uid
	p.Nickname = nickname
	p.conn = conn
	s.idleSince = time.Time{}
	bound := s.boundLocked()
	obs := append([]MembershipObserver(nil), s.observers...)
	s.mu.Unlock()

	s.logger.Info("player joined session",
		zap.Int("player", slotID),
		zap.Uint64("uid", uid),
		zap.String("nickname", nickname),
	)
	for _, fn := range obs {
		fn(s.id, bound)
	}
}

// RemovePlayer releases a slot's connection without destroying the slot, so
// accounting continues for the other slots. When the last bound player
// leaves, the session starts its idle clock.
func (s *Session) RemovePlayer(slotID int) {
	s.mu.Lock()
	p, ok := s.players[slotID]
	if !ok || p.conn == nil {
		s.mu.Unlock()
		return
	}
	p.conn = nil
	bound := s.boundLocked()
	if len(bound) == 0 {
		s.idleSince = time.Now()
	}
	obs := append([]MembershipObserver(nil), s.observers...)
	s.mu.Unlock()

	s.logger.Info("player left session", zap.Int("player", slotID))
	for _, fn := range obs {
		fn(s.id, bound)
	}
}

// Replay resends the slot's outstanding backlog immediately, without
// spending delivery budget. Called after a client binds so messages queued
// while the slot was vacant arrive ahead of the next sweep.
func (s *Session) Replay(slotID int) {
	s.mu.Lock()
	p, ok := s.players[slotID]
	if !ok || p.conn == nil || p.outstanding.len() == 0 {
		s.mu.Unlock()
		return
	}
	msgs := p.outstanding.snapshot()
	conn := p.conn
	s.mu.Unlock()

	if err := conn.SendBatch(msgs); err == nil {
		s.logger.Info("replayed outstanding backlog",
			zap.Int("player", slotID),
			zap.Int("count", len(msgs)),
		)
	}
}

// boundLocked returns slot → nickname for every bound player. Caller holds s.mu.
func (s *Session) boundLocked() map[int]string {
	out := make(map[int]string)
	for id, p := range s.players {
		if p.conn != nil {
			out[id] = p.Nickname
		}
	}
	return out
}

// BoundPlayers returns slot → nickname for every bound player.
func (s *Session) BoundPlayers() map[int]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundLocked()
}

// PlayerString renders the bound players as "0: Alice, 1: Bob" for the
// operator surface. Empty when nobody is bound.
func (s *Session) PlayerString() string {
	bound := s.BoundPlayers()
	ids := make([]int, 0, len(bound))
	for id := range bound {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%d: %s", id, bound[id]))
	}
	return strings.Join(parts, ", ")
}

// ttlOrDefault maps a non-positive requested budget to the configured default.
func (s *Session) ttlOrDefault(ttl int) int {
	if ttl <= 0 {
		return s.defaultTTL
	}
	return ttl
}

// SendDataTo relays a gameplay payload to one player with the confirm/resend
// discipline. Unknown slots are ignored; the race with a departing player is
// benign. The immediate send is best-effort, the resend sweep backs it up.
func (s *Session) SendDataTo(label, content string, to int, from string, ttl int) {
	msg := protocol.DataReceiveMessage{Label: label, Content: content, From: from}

	s.mu.Lock()
	p, ok := s.players[to]
	if !ok {
		s.mu.Unlock()
		return
	}
	p.outstanding.add(msg, s.ttlOrDefault(ttl))
	conn := p.conn
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Send(&msg)
	}
}

// SendDataToAll fans one logical payload out as independently tracked
// per-recipient entries, so one recipient's drop does not affect the others.
func (s *Session) SendDataToAll(label, content string, fromSlot int, from string, ttl int) {
	s.mu.Lock()
	targets := make([]int, 0, len(s.players))
	for id := range s.players {
		if id != fromSlot {
			targets = append(targets, id)
		}
	}
	s.mu.Unlock()

	sort.Ints(targets)
	for _, id := range targets {
		s.SendDataTo(label, content, id, from, ttl)
	}
}

// SendDatasTo relays a batch of payloads from one sender as a single
// confirmable unit.
func (s *Session) SendDatasTo(to int, datas []protocol.LabeledData, fromSlot int) {
	msg := protocol.DatasReceiveMessage{From: fromSlot, Datas: datas}

	s.mu.Lock()
	p, ok := s.players[to]
	if !ok {
		s.mu.Unlock()
		return
	}
	p.outstanding.add(msg, s.defaultTTL)
	conn := p.conn
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Send(&msg)
	}
}

// AnnounceConfig relays a side-channel per-player configuration broadcast to
// every other slot with the same confirm/ack discipline as data messages.
func (s *Session) AnnounceConfig(fromSlot int, cfg string) {
	msg := protocol.AnnouncePlayerConfigMessage{PlayerID: fromSlot, Config: cfg}

	s.mu.Lock()
	type target struct {
		id   int
		conn Conn
	}
	var targets []target
	for id, p := range s.players {
		if id == fromSlot {
			continue
		}
		p.outstanding.add(msg, s.defaultTTL)
		targets = append(targets, target{id: id, conn: p.conn})
	}
	s.mu.Unlock()

	for _, t := range targets {
		if t.conn != nil {
			_ = t.conn.Send(&msg)
		}
	}
}

// Confirm applies an acknowledgement from the given slot, removing exactly
// the acknowledged entry.
//
// Postcondition: Returns true if an outstanding entry matched the key.
func (s *Session) Confirm(slotID int, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[slotID]
	if !ok {
		return false
	}
	_, ok = p.outstanding.confirm(key)
	return ok
}

// Save records a save marker for the slot.
func (s *Session) Save(slotID int) {
	s.mu.Lock()
	p, ok := s.players[slotID]
	if ok {
		p.saves++
		p.lastSave = time.Now()
	}
	s.mu.Unlock()
	if ok {
		s.logger.Debug("player saved", zap.Int("player", slotID))
	}
}

// SaveCount returns how many save markers the slot has recorded.
func (s *Session) SaveCount(slotID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[slotID]
	if !ok {
		return 0
	}
	return p.saves
}

// Outstanding returns the number of unacknowledged entries for the slot.
func (s *Session) Outstanding(slotID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[slotID]
	if !ok {
		return 0
	}
	return p.outstanding.len()
}

// SweepFailure reports a slot whose resend batch could not be written.
type SweepFailure struct {
	SessionID string
	Slot      int
	UID       uint64
	Err       error
}

// Sweep performs one resend pass: for every bound player with outstanding
// entries, decrement all budgets, resend the whole set as one batched write,
// then silently drop exhausted entries. Entries are dropped only when the
// batch was written; a failed write is reported so the owner can tear the
// connection down.
//
// The batch is snapshotted under the lock and written after releasing it, so
// an ack that lands in between settles the entry while its copy still goes
// out in the batch. The client sees the same thing as an ack crossing a
// resend in transit; the entry itself is gone and is never resent again.
func (s *Session) Sweep(now time.Time) []SweepFailure {
	s.mu.Lock()
	type pass struct {
		slot int
		uid  uint64
		conn Conn
		msgs []protocol.Message
	}
	var passes []pass
	slots := make([]int, 0, len(s.players))
	for id := range s.players {
		slots = append(slots, id)
	}
	sort.Ints(slots)
	for _, id := range slots {
		p := s.players[id]
		if p.conn == nil || p.outstanding.len() == 0 {
			continue
		}
		passes = append(passes, pass{slot: id, uid: p.UID, conn: p.conn, msgs: p.outstanding.beginSweep()})
	}
	s.mu.Unlock()

	var failures []SweepFailure
	for _, pa := range passes {
		if err := pa.conn.SendBatch(pa.msgs); err != nil {
			failures = append(failures, SweepFailure{SessionID: s.id, Slot: pa.slot, UID: pa.uid, Err: err})
			continue
		}
		s.mu.Lock()
		if p, ok := s.players[pa.slot]; ok {
			if dropped := p.outstanding.expire(); dropped > 0 {
				s.logger.Debug("dropped exhausted messages",
					zap.Int("player", pa.slot),
					zap.Int("count", dropped),
				)
			}
		}
		s.mu.Unlock()
	}
	return failures
}

// IdleFor reports whether no player has been bound for at least timeout.
func (s *Session) IdleFor(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.idleSince.IsZero() && now.Sub(s.idleSince) >= timeout
}
