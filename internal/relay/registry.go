package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// SessionRef points a client at its active game session slot.
type SessionRef struct {
	ID       string
	PlayerID int
}

// Client is one connected peer. UID is immutable once assigned; the mutable
// fields are guarded by the client's own mutex so handlers and the
// background sweeps can touch them safely.
type Client struct {
	// UID is the server-assigned identity, 0 until the connect handshake.
	UID uint64
	// Conn is the framed connection, immutable after creation.
	Conn *Conn

	mu       sync.Mutex
	nickname string
	room     string
	hasRoom  bool
	session  *SessionRef
	lastSeen time.Time

	closed atomic.Bool
}

// Nickname returns the display name given at ready or join time.
func (c *Client) Nickname() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nickname
}

// SetNickname records the client's display name.
func (c *Client) SetNickname(name string) {
	c.mu.Lock()
	c.nickname = name
	c.mu.Unlock()
}

// Room returns the client's current room name and whether one is set. The
// empty string is a valid room (the default room).
func (c *Client) Room() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room, c.hasRoom
}

// SetRoom records the client's current room.
func (c *Client) SetRoom(room string) {
	c.mu.Lock()
	c.room = room
	c.hasRoom = true
	c.mu.Unlock()
}

// ClearRoom removes the client's room association.
func (c *Client) ClearRoom() {
	c.mu.Lock()
	c.room = ""
	c.hasRoom = false
	c.mu.Unlock()
}

// Session returns the client's active session slot, if any.
func (c *Client) Session() *SessionRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// SetSession binds the client to a session slot.
func (c *Client) SetSession(ref *SessionRef) {
	c.mu.Lock()
	c.session = ref
	c.mu.Unlock()
}

// ClearSession removes the client's session binding.
func (c *Client) ClearSession() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
}

// Touch refreshes the client's liveness timestamp.
func (c *Client) Touch(now time.Time) {
	c.mu.Lock()
	c.lastSeen = now
	c.mu.Unlock()
}

// LastSeen returns the client's liveness timestamp.
func (c *Client) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// markClosed flips the client into the closed state exactly once. Teardown
// uses it to stay idempotent.
func (c *Client) markClosed() bool {
	return c.closed.CompareAndSwap(false, true)
}

// Registry tracks every connection: unidentified peers awaiting the connect
// handshake and identified clients keyed by UID. UIDs are assigned
// monotonically and never reused for the process lifetime. All methods are
// safe for concurrent use.
type Registry struct {
	mu           sync.Mutex
	nextUID      uint64
	unidentified map[*Client]struct{}
	clients      map[uint64]*Client
	logger       *zap.Logger
}

// NewRegistry creates an empty client Registry.
//
// Precondition: logger must be non-nil.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		nextUID:      1,
		unidentified: make(map[*Client]struct{}),
		clients:      make(map[uint64]*Client),
		logger:       logger,
	}
}

// Accept registers a freshly accepted connection as unidentified.
//
// Postcondition: Returns the new Client with a current liveness timestamp.
func (r *Registry) Accept(conn *Conn) *Client {
	c := &Client{Conn: conn, lastSeen: time.Now()}
	r.mu.Lock()
	r.unidentified[c] = struct{}{}
	r.mu.Unlock()
	return c
}

// Identify promotes an unidentified client, assigning the next UID.
//
// Postcondition: Returns (uid, true) on promotion, or (0, false) if the
// client was not awaiting identification (e.g. a duplicate connect).
func (r *Registry) Identify(c *Client) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.unidentified[c]; !ok {
		return 0, false
	}
	delete(r.unidentified, c)

	uid := r.nextUID
	r.nextUID++
	c.UID = uid
	r.clients[uid] = c

	r.logger.Info("assigned uid", zap.Uint64("uid", uid))
	return uid, true
}

// Remove unregisters a client from whichever set holds it.
//
// Postcondition: Returns true if the client was present.
func (r *Registry) Remove(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.unidentified[c]; ok {
		delete(r.unidentified, c)
		return true
	}
	if cur, ok := r.clients[c.UID]; ok && cur == c {
		delete(r.clients, c.UID)
		return true
	}
	return false
}

// Get returns the identified client with the given UID.
func (r *Registry) Get(uid uint64) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[uid]
	return c, ok
}

// All returns every identified client.
func (r *Registry) All() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Everyone returns every connection, identified or not. Used at shutdown.
func (r *Registry) Everyone() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.clients)+len(r.unidentified))
	for _, c := range r.clients {
		out = append(out, c)
	}
	for c := range r.unidentified {
		out = append(out, c)
	}
	return out
}

// Stale returns the identified clients not heard from since the cutoff.
func (r *Registry) Stale(now time.Time, cutoff time.Duration) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Client
	for _, c := range r.clients {
		if now.Sub(c.LastSeen()) > cutoff {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of identified clients.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
