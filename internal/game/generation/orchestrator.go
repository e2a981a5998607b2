// Package generation orchestrates game generation: the two-phase multiworld
// handshake (request pools, collect submissions, randomize, distribute) and
// the settings/spoiler plumbing around it.
package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/multiworld/internal/protocol"
)

// ErrAlreadyGenerating guards a room against concurrent generation cycles.
var ErrAlreadyGenerating = errors.New("room is already generating")

// Settings is the parsed generation-settings blob agreed by a room.
type Settings struct {
	// Seed is the operator-chosen base seed, combined with each player's
	// submitted seed for the final shuffle.
	Seed int64 `json:"seed" yaml:"seed"`
	// Algorithm selects the placement algorithm. Empty means "shuffle".
	Algorithm string `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`
}

// ParseSettings decodes and validates a settings blob.
//
// Postcondition: Returns valid settings or a descriptive error.
func ParseSettings(blob string) (Settings, error) {
	var s Settings
	if err := json.Unmarshal([]byte(blob), &s); err != nil {
		return Settings{}, fmt.Errorf("decoding generation settings: %w", err)
	}
	switch s.Algorithm {
	case "", "shuffle":
	default:
		return Settings{}, fmt.Errorf("unknown placement algorithm %q", s.Algorithm)
	}
	return s, nil
}

// PlayerItemsPool is one member's submitted candidate pool, consumed by the
// randomizer and discarded after distribution.
type PlayerItemsPool struct {
	// PlayerID is the final slot index, assigned by the randomizer.
	PlayerID int
	// ReadyID correlates the pool with the submitting member's ready cycle.
	ReadyID string
	// Nickname is the submitting member's display name.
	Nickname string
	// Seed is the member's locally chosen seed.
	Seed int64
	// Items is the candidate placement set.
	Items protocol.PlacementSet
}

// Output is everything the randomizer produces for one generation.
type Output struct {
	// Pools are the finalized per-player placements, PlayerID 0..n-1.
	Pools []PlayerItemsPool
	// Hash identifies the generation; all players display it for comparison.
	Hash string
	// Spoiler is the full human-readable placement record.
	Spoiler protocol.SpoilerLog
	// PlayerItems lists, per player, where each of that player's own items
	// ended up, as display text.
	PlayerItems []map[string]string
}

// Randomizer turns submitted pools plus settings into final placements.
// Implementations must be pure: deterministic in their inputs, with no
// hidden server-side state.
type Randomizer interface {
	Randomize(pools []PlayerItemsPool, settings Settings) (*Output, error)
}

// pending is an open submission table for one generating room.
type pending struct {
	settings  Settings
	pools     map[uint64]PlayerItemsPool
	order     []uint64
	collected bool
}

// Orchestrator tracks rooms that are mid-generation. All methods are safe
// for concurrent use.
type Orchestrator struct {
	mu     sync.Mutex
	rooms  map[string]*pending
	logger *zap.Logger
}

// NewOrchestrator creates an empty Orchestrator.
//
// Precondition: logger must be non-nil.
func NewOrchestrator(logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		rooms:  make(map[string]*pending),
		logger: logger,
	}
}

// Begin opens a submission table for the room after parsing its settings.
//
// Postcondition: Returns ErrAlreadyGenerating if a cycle is open, or a
// settings error; otherwise the room accepts submissions.
func (o *Orchestrator) Begin(roomName, settingsBlob string) error {
	settings, err := ParseSettings(settingsBlob)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.rooms[roomName]; ok {
		return ErrAlreadyGenerating
	}
	o.rooms[roomName] = &pending{
		settings: settings,
		pools:    make(map[uint64]PlayerItemsPool),
	}
	o.logger.Info("generation started", zap.String("room", roomName))
	return nil
}

// Generating reports whether the room has an open submission table.
func (o *Orchestrator) Generating(roomName string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.rooms[roomName]
	return ok
}

// Submit records one member's candidate pool. Duplicate submissions from the
// same UID are ignored, as are submissions for rooms that are not
// generating.
//
// Postcondition: complete is true for exactly the submission that brings the
// count up to readyCount; ok is false when the submission was ignored.
func (o *Orchestrator) Submit(roomName string, uid uint64, pool PlayerItemsPool, readyCount int) (complete, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, found := o.rooms[roomName]
	if !found || p.collected {
		return false, false
	}
	if _, dup := p.pools[uid]; dup {
		return false, false
	}

	p.pools[uid] = pool
	p.order = append(p.order, uid)
	o.logger.Info("recorded generated pool",
		zap.String("room", roomName),
		zap.String("nickname", pool.Nickname),
		zap.Int("submitted", len(p.pools)),
		zap.Int("ready", readyCount),
	)

	if readyCount > 0 && len(p.pools) >= readyCount {
		p.collected = true
		return true, true
	}
	return false, true
}

// Discard drops a departed member's submission mid-collection. The remaining
// submissions may now satisfy the (reduced) ready count; the caller must run
// the completion when complete is true.
func (o *Orchestrator) Discard(roomName string, uid uint64, readyCount int) (complete bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, found := o.rooms[roomName]
	if !found || p.collected {
		return false
	}
	if _, ok := p.pools[uid]; ok {
		delete(p.pools, uid)
		for i, cur := range p.order {
			if cur == uid {
				p.order = append(p.order[:i], p.order[i+1:]...)
				break
			}
		}
	}
	if readyCount > 0 && len(p.pools) >= readyCount {
		p.collected = true
		return true
	}
	return false
}

// Take removes the room's submission table and returns the pools in
// submission order along with the parsed settings.
func (o *Orchestrator) Take(roomName string) ([]PlayerItemsPool, Settings, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, found := o.rooms[roomName]
	if !found {
		return nil, Settings{}, false
	}
	delete(o.rooms, roomName)

	pools := make([]PlayerItemsPool, 0, len(p.pools))
	for _, uid := range p.order {
		pools = append(pools, p.pools[uid])
	}
	return pools, p.settings, true
}

// Abort clears the room's generation state, e.g. when the room empties out
// mid-collection.
func (o *Orchestrator) Abort(roomName string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.rooms[roomName]; ok {
		delete(o.rooms, roomName)
		o.logger.Info("generation aborted", zap.String("room", roomName))
	}
}
