package integration

import (
	"context"
	"testing"
	"time"

	"github.com/duelfield/duel-server-go/internal/cards"
	"github.com/duelfield/duel-server-go/internal/events"
	"github.com/duelfield/duel-server-go/internal/game"
	"github.com/duelfield/duel-server-go/internal/game/timing"
	"github.com/duelfield/duel-server-go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogYAML = `
cards:
  - id: dragon
    name: Dragon
    type: monster
    atk: 2500
    def: 2000
    level: 7
  - id: bolt
    name: Bolt
    type: spell
    spell_speed: 1
    ability:
      effects:
        - kind: damage
          amount: 800
  - id: snare
    name: Snare
    type: trap
    spell_speed: 2
    ability:
      effects:
        - kind: destroy
  - id: seal
    name: Seal
    type: trap
    spell_speed: 3
    ability:
      effects:
        - kind: negate
`

type duel struct {
	engine *game.Engine
	sink   *events.MemorySink
	ctx    context.Context
}

func newDuel(t *testing.T) *duel {
	t.Helper()
	catalog := cards.NewCatalog()
	_, err := catalog.LoadBytes([]byte(catalogYAML))
	require.NoError(t, err)

	sink := events.NewMemorySink()
	engine := game.NewEngine(store.NewMemoryStore(), catalog, sink, nil)
	return &duel{engine: engine, sink: sink, ctx: context.Background()}
}

func (d *duel) create(t *testing.T, matchID string) *game.MatchState {
	t.Helper()
	deck := []string{"bolt", "snare", "seal", "dragon", "dragon", "dragon", "bolt", "bolt"}
	state, err := d.engine.CreateMatch(d.ctx, matchID, [2]game.PlayerSetup{
		{PlayerID: "alice", Deck: deck},
		{PlayerID: "bob", Deck: deck},
	}, timing.Config{})
	require.NoError(t, err)
	return state
}

// handCard finds a card of the given definition in a player's hand.
func handCard(t *testing.T, s *game.MatchState, playerID, defID string) *game.CardInstance {
	t.Helper()
	for _, c := range s.Player(playerID).Hand {
		if c.DefID == defID {
			return c
		}
	}
	t.Fatalf("no %s in %s's hand", defID, playerID)
	return nil
}

func TestThreeLinkChainWithNegation(t *testing.T) {
	d := newDuel(t)
	state := d.create(t, "m1")

	// Alice opens with a burn spell.
	bolt := handCard(t, state, "alice", "bolt")
	state, err := d.engine.AddChainLink(d.ctx, "m1", "alice", bolt.ID, nil)
	require.NoError(t, err)

	// Bob chains a speed-2 trap; alice counters it with a speed-3 trap.
	snare := handCard(t, state, "bob", "snare")
	state, err = d.engine.AddChainLink(d.ctx, "m1", "bob", snare.ID, []string{bolt.ID})
	require.NoError(t, err)

	seal := handCard(t, state, "alice", "seal")
	state, err = d.engine.AddChainLink(d.ctx, "m1", "alice", seal.ID, []string{snare.ID})
	require.NoError(t, err)
	require.Len(t, state.CurrentChain, 3)

	// A speed-3 counter cannot itself chain onto the speed-1 link; it
	// needed the speed-2 trap in between.
	legality, err := d.engine.CanActivate(d.ctx, "m1", "bob", 2)
	require.NoError(t, err)
	assert.False(t, legality.Allowed)

	// Two passes resolve the chain: seal negates snare, snare's destroy
	// never runs, then bolt burns bob for 800.
	_, _, err = d.engine.Pass(d.ctx, "m1", "bob")
	require.NoError(t, err)
	outcome, state, err := d.engine.Pass(d.ctx, "m1", "alice")
	require.NoError(t, err)

	assert.True(t, outcome.ChainResolved)
	assert.Empty(t, state.CurrentChain)
	assert.Equal(t, game.StartingLifePoints-800, state.Player("bob").LifePoints)

	// All three chain sources ended in a graveyard.
	for _, id := range []string{bolt.ID, snare.ID, seal.ID} {
		card, _ := state.FindCard(id)
		require.NotNil(t, card)
		assert.Equal(t, game.ZoneGraveyard, card.Zone, card.Name)
	}

	// The audit stream saw the negation.
	var sawNegated bool
	for _, e := range d.sink.ByMatch("m1") {
		if e.Type == events.TypeLinkNegated {
			sawNegated = true
		}
	}
	assert.True(t, sawNegated)
}

func TestEventStreamCoversWholeMatch(t *testing.T) {
	d := newDuel(t)
	d.create(t, "m1")

	_, err := d.engine.Forfeit(d.ctx, "m1", "bob")
	require.NoError(t, err)

	evts := d.sink.ByMatch("m1")
	require.NotEmpty(t, evts)
	assert.Equal(t, events.TypeMatchCreated, evts[0].Type)
	assert.Equal(t, events.TypeMatchEnded, evts[len(evts)-1].Type)
}

func TestConcurrentPassesOneLoses(t *testing.T) {
	// Both players race to pass; the versioned store serializes them
	// and exactly one of the two same-player duplicates is rejected.
	d := newDuel(t)
	d.create(t, "m1")

	_, err := d.engine.OpenWindow(d.ctx, "m1", game.WindowSummon, "alice", nil)
	require.NoError(t, err)

	type res struct{ err error }
	results := make(chan res, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, _, err := d.engine.Pass(d.ctx, "m1", "bob")
			results <- res{err}
		}()
	}

	var failures int
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			failures++
		}
	}
	// The first pass flips priority to alice, so the duplicate fails
	// the priority check (or, rarely, both succeed-then-conflict).
	assert.Equal(t, 1, failures)

	state, err := d.engine.GetMatch(d.ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, state.Window)
	assert.Equal(t, 1, state.Window.PassCount)
	assert.Equal(t, "alice", state.Window.ActivePlayerID)
}

func TestMatchTimerInitializedOnceViaEngine(t *testing.T) {
	d := newDuel(t)
	d.create(t, "m1")

	cfg := timing.Config{PerActionMs: 1000, TotalMatchMs: 60_000, AutoPassOnTimeout: true}
	state, err := d.engine.InitializeMatchTimer(d.ctx, "m1", cfg)
	require.NoError(t, err)
	require.NotNil(t, state.MatchTimerStart)
	assert.WithinDuration(t, time.Now(), *state.MatchTimerStart, 5*time.Second)

	_, err = d.engine.InitializeMatchTimer(d.ctx, "m1", cfg)
	require.Error(t, err)
}
