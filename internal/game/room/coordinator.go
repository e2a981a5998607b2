// Package room coordinates ready-up negotiation: room membership, mode and
// settings-hash agreement, and roster snapshots for broadcast.
package room

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/multiworld/internal/protocol"
)

// DenyError reports a negotiation conflict. The reason is sent verbatim to
// the offending client; the client remains unreadied and may retry.
type DenyError struct {
	Reason string
}

// Error implements error.
func (e *DenyError) Error() string { return e.Reason }

// Member is one readied client of a room.
type Member struct {
	// UID is the client's connection identity.
	UID uint64
	// ReadyID is the per-ready-cycle correlation token. It is refreshed on
	// every successful ready so generation results can be matched to the
	// originating member even across connection churn.
	ReadyID string
	// Nickname is the display name given at ready time.
	Nickname string
}

// Roster is a broadcast snapshot of a room's readied members, in ready order.
type Roster struct {
	Count int
	Names []string
	UIDs  []uint64
}

// state is the per-room bookkeeping. Members keeps insertion order.
type state struct {
	mode    protocol.GameMode
	hash    int
	hasHash bool
	members []*Member
}

func (st *state) member(uid uint64) (*Member, bool) {
	for _, m := range st.members {
		if m.UID == uid {
			return m, true
		}
	}
	return nil, false
}

func (st *state) roster() Roster {
	r := Roster{Count: len(st.members)}
	for _, m := range st.members {
		r.Names = append(r.Names, m.Nickname)
		r.UIDs = append(r.UIDs, m.UID)
	}
	return r
}

// DisplayName renders a room name for log and deny messages. The empty
// string is the default room.
func DisplayName(name string) string {
	if name == "" {
		return "default room"
	}
	return fmt.Sprintf("room %q", name)
}

// Coordinator tracks all ready rooms. All methods are safe for concurrent use.
type Coordinator struct {
	mu     sync.Mutex
	rooms  map[string]*state
	logger *zap.Logger
}

// NewCoordinator creates an empty room Coordinator.
//
// Precondition: logger must be non-nil.
func NewCoordinator(logger *zap.Logger) *Coordinator {
	return &Coordinator{
		rooms:  make(map[string]*state),
		logger: logger,
	}
}

// Ready readies a client into a room for the given mode. The first ready
// into a room fixes the room's mode; a conflicting mode is denied.
//
// Postcondition: On success the member has a fresh ready id and the returned
// roster reflects the updated room. On conflict returns a *DenyError and the
// room is unchanged.
func (c *Coordinator) Ready(roomName string, uid uint64, nickname string, mode protocol.GameMode) (Roster, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.rooms[roomName]
	if !ok {
		st = &state{mode: mode}
		c.rooms[roomName] = st
		c.logger.Info("room created",
			zap.String("room", DisplayName(roomName)),
			zap.Stringer("mode", mode),
		)
	} else if st.mode != mode {
		return Roster{}, &DenyError{Reason: fmt.Sprintf(
			"Room originally created for %s.\nPlease choose a different room name", st.mode)}
	}

	c.admit(roomName, st, uid, nickname)
	return st.roster(), nil
}

// ReadyItemSync readies a client into an item-sync room carrying its settings
// hash. The first hash recorded for the room wins; a mismatch is denied.
func (c *Coordinator) ReadyItemSync(roomName string, uid uint64, nickname string, hash int) (Roster, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.rooms[roomName]
	switch {
	case !ok:
		st = &state{mode: protocol.ModeItemSync, hash: hash, hasHash: true}
		c.rooms[roomName] = st
		c.logger.Info("room created",
			zap.String("room", DisplayName(roomName)),
			zap.Stringer("mode", protocol.ModeItemSync),
		)
	case st.mode != protocol.ModeItemSync:
		return Roster{}, &DenyError{Reason: fmt.Sprintf(
			"Room originally created for %s.\nPlease choose a different room name", st.mode)}
	case !st.hasHash:
		st.hash = hash
		st.hasHash = true
	case st.hash != hash:
		return Roster{}, &DenyError{Reason: "Hash mismatch with the rest of the room.\nPlease verify your settings"}
	}

	c.admit(roomName, st, uid, nickname)
	return st.roster(), nil
}

// admit records the member with a fresh ready id. Caller holds c.mu.
func (c *Coordinator) admit(roomName string, st *state, uid uint64, nickname string) {
	readyID := uuid.NewString()
	if m, ok := st.member(uid); ok {
		m.ReadyID = readyID
		m.Nickname = nickname
	} else {
		st.members = append(st.members, &Member{UID: uid, ReadyID: readyID, Nickname: nickname})
	}
	c.logger.Info("client readied",
		zap.String("nickname", nickname),
		zap.Uint64("uid", uid),
		zap.String("room", DisplayName(roomName)),
		zap.Int("readied", len(st.members)),
	)
}

// Unready removes a client from a room. When the last member leaves, the
// room's mode and hash state is cleared.
//
// Postcondition: Returns the post-removal roster, whether the client was a
// member, and whether the room is now empty (and gone).
func (c *Coordinator) Unready(roomName string, uid uint64) (Roster, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.rooms[roomName]
	if !ok {
		return Roster{}, false, false
	}
	idx := -1
	for i, m := range st.members {
		if m.UID == uid {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Roster{}, false, false
	}

	st.members = append(st.members[:idx], st.members[idx+1:]...)
	c.logger.Info("client unreadied",
		zap.Uint64("uid", uid),
		zap.String("room", DisplayName(roomName)),
		zap.Int("readied", len(st.members)),
	)

	if len(st.members) == 0 {
		delete(c.rooms, roomName)
		return Roster{}, true, true
	}
	return st.roster(), true, false
}

// Disband removes the whole room and its mode/hash state. Used once a game
// has been started and results distributed.
func (c *Coordinator) Disband(roomName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomName)
}

// Members returns a copy of the room's members in ready order.
func (c *Coordinator) Members(roomName string) []Member {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.rooms[roomName]
	if !ok {
		return nil
	}
	out := make([]Member, 0, len(st.members))
	for _, m := range st.members {
		out = append(out, *m)
	}
	return out
}

// IsReadied reports whether the client is currently readied in the room.
func (c *Coordinator) IsReadied(roomName string, uid uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.rooms[roomName]
	if !ok {
		return false
	}
	_, ok = st.member(uid)
	return ok
}

// ReadyID returns the client's current ready id in the room.
func (c *Coordinator) ReadyID(roomName string, uid uint64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.rooms[roomName]
	if !ok {
		return "", false
	}
	m, ok := st.member(uid)
	if !ok {
		return "", false
	}
	return m.ReadyID, true
}

// MemberCount returns the number of readied members in the room.
func (c *Coordinator) MemberCount(roomName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.rooms[roomName]
	if !ok {
		return 0
	}
	return len(st.members)
}

// Mode returns the room's agreed mode, if the room exists.
func (c *Coordinator) Mode(roomName string) (protocol.GameMode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.rooms[roomName]
	if !ok {
		return 0, false
	}
	return st.mode, true
}

// Hash returns the room's agreed item-sync settings hash, if recorded.
func (c *Coordinator) Hash(roomName string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.rooms[roomName]
	if !ok || !st.hasHash {
		return 0, false
	}
	return st.hash, true
}

// Snapshot returns every room with its member nicknames, for the operator
// surface.
func (c *Coordinator) Snapshot() map[string][]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string][]string, len(c.rooms))
	for name, st := range c.rooms {
		names := make([]string, 0, len(st.members))
		for _, m := range st.members {
			names = append(names, m.Nickname)
		}
		out[name] = names
	}
	return out
}
