package generation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/cory-johannsen/multiworld/internal/protocol"
)

// ShuffleRandomizer is the reference placement algorithm: every submitted
// item is shuffled across every submitted location, seeded from the settings
// seed combined with each player's seed. Output is fully determined by the
// inputs.
type ShuffleRandomizer struct{}

// NewShuffleRandomizer creates a ShuffleRandomizer.
func NewShuffleRandomizer() *ShuffleRandomizer {
	return &ShuffleRandomizer{}
}

type worldSlot struct {
	world    int
	group    string
	location string
}

type ownedItem struct {
	owner int
	name  string
}

// Randomize implements Randomizer.
//
// Precondition: pools must be non-empty and contain at least one item.
// Postcondition: Every submitted item appears exactly once across the final
// placements; the same inputs always produce the same output.
func (r *ShuffleRandomizer) Randomize(pools []PlayerItemsPool, settings Settings) (*Output, error) {
	if len(pools) == 0 {
		return nil, fmt.Errorf("no submitted pools")
	}

	// Flatten pools into parallel slot/item lists. Group iteration is
	// sorted so the flattening is deterministic.
	var slots []worldSlot
	var items []ownedItem
	for i, p := range pools {
		groups := make([]string, 0, len(p.Items))
		for g := range p.Items {
			groups = append(groups, g)
		}
		sort.Strings(groups)
		for _, g := range groups {
			for _, pl := range p.Items[g] {
				slots = append(slots, worldSlot{world: i, group: g, location: pl.Location})
				items = append(items, ownedItem{owner: i, name: pl.Item})
			}
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("submitted pools contain no items")
	}

	// Golden-ratio mixing keeps equal player seeds from cancelling out.
	seed := settings.Seed
	for i, p := range pools {
		seed ^= p.Seed + int64(uint64(i+1)*0x9e3779b97f4a7c15)
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(items), func(a, b int) {
		items[a], items[b] = items[b], items[a]
	})

	placements := make([]protocol.PlacementSet, len(pools))
	playerItems := make([]map[string]string, len(pools))
	for i := range pools {
		placements[i] = protocol.PlacementSet{}
		playerItems[i] = make(map[string]string)
	}

	lines := make([]string, 0, len(slots))
	for idx, slot := range slots {
		it := items[idx]
		qualified := fmt.Sprintf("MW(%d)_%s", it.owner+1, it.name)
		placements[slot.world][slot.group] = append(placements[slot.world][slot.group],
			protocol.Placement{Item: qualified, Location: slot.location})
		playerItems[it.owner][it.name] = fmt.Sprintf("%s's %s", pools[slot.world].Nickname, slot.location)
		lines = append(lines, fmt.Sprintf("%s@%s <- %s", slot.location, pools[slot.world].Nickname, qualified))
	}

	digest := sha256.Sum256([]byte(strings.Join(lines, "\n")))

	outPools := make([]PlayerItemsPool, len(pools))
	for i, p := range pools {
		outPools[i] = PlayerItemsPool{
			PlayerID: i,
			ReadyID:  p.ReadyID,
			Nickname: p.Nickname,
			Seed:     p.Seed,
			Items:    placements[i],
		}
	}

	return &Output{
		Pools:       outPools,
		Hash:        hex.EncodeToString(digest[:8]),
		Spoiler:     protocol.SpoilerLog{FullOrderedItems: strings.Join(lines, "\n") + "\n"},
		PlayerItems: playerItems,
	}, nil
}
