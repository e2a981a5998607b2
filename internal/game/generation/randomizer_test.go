package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/multiworld/internal/protocol"
)

func twoPools() []PlayerItemsPool {
	return []PlayerItemsPool{
		{
			ReadyID:  "r1",
			Nickname: "Alice",
			Seed:     100,
			Items: protocol.PlacementSet{
				"main": {
					{Item: "Sword", Location: "Chest_A"},
					{Item: "Shield", Location: "Chest_B"},
				},
			},
		},
		{
			ReadyID:  "r2",
			Nickname: "Bob",
			Seed:     200,
			Items: protocol.PlacementSet{
				"main": {
					{Item: "Bow", Location: "Cave_A"},
					{Item: "Arrow", Location: "Cave_B"},
				},
			},
		},
	}
}

func TestShuffleRandomizer_Deterministic(t *testing.T) {
	r := NewShuffleRandomizer()

	first, err := r.Randomize(twoPools(), Settings{Seed: 7})
	require.NoError(t, err)
	second, err := r.Randomize(twoPools(), Settings{Seed: 7})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestShuffleRandomizer_SeedChangesHash(t *testing.T) {
	r := NewShuffleRandomizer()

	first, err := r.Randomize(twoPools(), Settings{Seed: 7})
	require.NoError(t, err)
	second, err := r.Randomize(twoPools(), Settings{Seed: 8})
	require.NoError(t, err)

	assert.NotEqual(t, first.Hash, second.Hash)
}

func TestShuffleRandomizer_OutputShape(t *testing.T) {
	r := NewShuffleRandomizer()

	out, err := r.Randomize(twoPools(), Settings{Seed: 7})
	require.NoError(t, err)

	require.Len(t, out.Pools, 2)
	assert.Equal(t, 0, out.Pools[0].PlayerID)
	assert.Equal(t, 1, out.Pools[1].PlayerID)
	assert.Equal(t, "r1", out.Pools[0].ReadyID, "ready ids must survive randomization")
	assert.NotEmpty(t, out.Hash)
	assert.NotEmpty(t, out.Spoiler.FullOrderedItems)

	// Every world keeps its own location set.
	locations := func(ps protocol.PlacementSet) []string {
		var out []string
		for _, placements := range ps {
			for _, p := range placements {
				out = append(out, p.Location)
			}
		}
		return out
	}
	assert.ElementsMatch(t, []string{"Chest_A", "Chest_B"}, locations(out.Pools[0].Items))
	assert.ElementsMatch(t, []string{"Cave_A", "Cave_B"}, locations(out.Pools[1].Items))

	// Every owner knows where each of its items landed.
	require.Len(t, out.PlayerItems, 2)
	assert.Len(t, out.PlayerItems[0], 2)
	assert.Len(t, out.PlayerItems[1], 2)
}

func TestShuffleRandomizer_EmptyInputsRejected(t *testing.T) {
	r := NewShuffleRandomizer()

	_, err := r.Randomize(nil, Settings{})
	require.Error(t, err)

	_, err = r.Randomize([]PlayerItemsPool{{Nickname: "Alice", Items: protocol.PlacementSet{}}}, Settings{})
	require.Error(t, err)
}

func TestShuffleRandomizer_ConservesItems_Rapid(t *testing.T) {
	r := NewShuffleRandomizer()
	rapid.Check(t, func(t *rapid.T) {
		players := rapid.IntRange(1, 4).Draw(t, "players")
		pools := make([]PlayerItemsPool, players)
		want := make(map[string]int)
		for i := range pools {
			count := rapid.IntRange(1, 5).Draw(t, "count")
			var placements []protocol.Placement
			for j := 0; j < count; j++ {
				item := rapid.StringMatching(`item_[a-z]{3}`).Draw(t, "item")
				placements = append(placements, protocol.Placement{
					Item:     item,
					Location: rapid.StringMatching(`loc_[a-z]{3}`).Draw(t, "loc"),
				})
				want[item]++
			}
			pools[i] = PlayerItemsPool{
				ReadyID:  rapid.StringMatching(`[a-f0-9]{8}`).Draw(t, "ready"),
				Nickname: rapid.StringMatching(`[A-Z][a-z]{2}`).Draw(t, "nick"),
				Seed:     rapid.Int64().Draw(t, "seed"),
				Items:    protocol.PlacementSet{"main": placements},
			}
		}

		out, err := r.Randomize(pools, Settings{Seed: rapid.Int64().Draw(t, "base")})
		if err != nil {
			t.Fatalf("randomize: %v", err)
		}

		// Strip the MW(n)_ ownership prefix and count what was placed.
		got := make(map[string]int)
		for _, p := range out.Pools {
			for _, placements := range p.Items {
				for _, pl := range placements {
					idx := 0
					for i := 0; i < len(pl.Item); i++ {
						if pl.Item[i] == '_' {
							idx = i + 1
							break
						}
					}
					got[pl.Item[idx:]]++
				}
			}
		}
		for item, n := range want {
			if got[item] != n {
				t.Fatalf("item %q placed %d times, submitted %d", item, got[item], n)
			}
		}
	})
}
