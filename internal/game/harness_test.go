package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/duelfield/duel-server-go/internal/cards"
	"github.com/duelfield/duel-server-go/internal/events"
	"github.com/duelfield/duel-server-go/internal/game/effects"
	"github.com/duelfield/duel-server-go/internal/game/timing"
)

// fakeStore is an in-package MatchStore double. Records round-trip
// through JSON so loaded states are isolated, matching the behavior of
// the real stores.
type fakeStore struct {
	mu      sync.Mutex
	records map[string][]byte
	version map[string]int64

	// failSwaps makes the next n CompareAndSwap calls conflict.
	failSwaps int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[string][]byte),
		version: make(map[string]int64),
	}
}

func (f *fakeStore) Create(_ context.Context, state *MatchState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[state.MatchID]; ok {
		return fmt.Errorf("match %s already exists", state.MatchID)
	}
	f.records[state.MatchID] = payload
	f.version[state.MatchID] = 1
	return nil
}

func (f *fakeStore) Load(_ context.Context, matchID string) (*MatchState, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.records[matchID]
	if !ok {
		return nil, 0, ErrMatchNotFound
	}
	var state MatchState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, 0, err
	}
	return &state, f.version[matchID], nil
}

func (f *fakeStore) CompareAndSwap(_ context.Context, matchID string, version int64, state *MatchState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[matchID]; !ok {
		return ErrMatchNotFound
	}
	if f.failSwaps > 0 {
		f.failSwaps--
		return ErrVersionConflict
	}
	if f.version[matchID] != version {
		return ErrVersionConflict
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	f.records[matchID] = payload
	f.version[matchID]++
	return nil
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testCatalog registers the card definitions the scenario tests use.
func testCatalog() *cards.Catalog {
	catalog := cards.NewCatalog()
	catalog.Put(cards.Definition{ID: "dragon", Name: "Dragon", Type: cards.TypeMonster, ATK: 2500, DEF: 2000})
	catalog.Put(cards.Definition{ID: "golem", Name: "Golem", Type: cards.TypeMonster, ATK: 800, DEF: 2400})
	catalog.Put(cards.Definition{ID: "raider", Name: "Raider", Type: cards.TypeMonster, ATK: 1700, DEF: 1000})
	catalog.Put(cards.Definition{
		ID: "martyr", Name: "Martyr", Type: cards.TypeMonster, ATK: 1200, DEF: 900,
		OnDestroy: map[string]any{"effects": []any{map[string]any{"kind": "draw", "amount": 1}}},
	})
	catalog.Put(cards.Definition{
		ID: "bolt", Name: "Bolt", Type: cards.TypeSpell, SpellSpeed: 1,
		Ability: map[string]any{"effects": []any{map[string]any{"kind": "damage", "amount": 800}}},
	})
	catalog.Put(cards.Definition{
		ID: "shatter", Name: "Shatter", Type: cards.TypeSpell, SpellSpeed: 2,
		Ability: map[string]any{"effects": []any{map[string]any{"kind": "destroy"}}},
	})
	catalog.Put(cards.Definition{
		ID: "seal", Name: "Seal", Type: cards.TypeTrap, SpellSpeed: 3,
		Ability: map[string]any{"effects": []any{map[string]any{"kind": "negate"}}},
	})
	catalog.Put(cards.Definition{
		ID: "snare", Name: "Snare", Type: cards.TypeTrap, SpellSpeed: 2,
		Ability: map[string]any{"effects": []any{map[string]any{"kind": "destroy"}}},
	})
	return catalog
}

type testEnv struct {
	engine  *Engine
	store   *fakeStore
	sink    *events.MemorySink
	clock   *fakeClock
	catalog *cards.Catalog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newFakeClock()
	store := newFakeStore()
	sink := events.NewMemorySink()
	catalog := testCatalog()
	engine := NewEngine(store, catalog, sink, nil, WithClock(clock.Now))
	return &testEnv{engine: engine, store: store, sink: sink, clock: clock, catalog: catalog}
}

// newMatch builds a bare two-player state, committed to the store.
func (env *testEnv) newMatch(t *testing.T, matchID string) *MatchState {
	t.Helper()
	state := &MatchState{
		MatchID:      matchID,
		Turn:         1,
		TurnPlayerID: "alice",
		Players: [2]*PlayerState{
			{PlayerID: "alice", LifePoints: StartingLifePoints},
			{PlayerID: "bob", LifePoints: StartingLifePoints},
		},
		PriorityHistory: NewPriorityHistory(),
	}
	if err := env.store.Create(context.Background(), state); err != nil {
		t.Fatalf("create match: %v", err)
	}
	return state
}

// commit writes state back to the store at its current version.
func (env *testEnv) commit(t *testing.T, state *MatchState) {
	t.Helper()
	_, version, err := env.store.Load(context.Background(), state.MatchID)
	if err != nil {
		t.Fatalf("load for commit: %v", err)
	}
	if err := env.store.CompareAndSwap(context.Background(), state.MatchID, version, state); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

// load fetches the latest committed state.
func (env *testEnv) load(t *testing.T, matchID string) *MatchState {
	t.Helper()
	state, _, err := env.store.Load(context.Background(), matchID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return state
}

var cardSeq int

// putCard instantiates a catalog definition into the given zone.
func putCard(t *testing.T, catalog *cards.Catalog, s *MatchState, playerID, defID string, zone Zone) *CardInstance {
	t.Helper()
	def, ok := catalog.Get(defID)
	if !ok {
		t.Fatalf("unknown test card %s", defID)
	}
	cardSeq++
	card := &CardInstance{
		ID:               fmt.Sprintf("%s-%d", defID, cardSeq),
		DefID:            def.ID,
		Name:             def.Name,
		Type:             def.Type,
		ATK:              def.ATK,
		DEF:              def.DEF,
		Zone:             zone,
		OwnerID:          playerID,
		CannotBeTargeted: def.Untargetable,
	}
	p := s.Player(playerID)
	switch zone {
	case ZoneHand:
		p.Hand = append(p.Hand, card)
	case ZoneBoard:
		card.FaceUp = true
		card.Position = PositionAttack
		p.Board = append(p.Board, card)
	case ZoneSpellTrap:
		p.SpellTrap = append(p.SpellTrap, card)
	case ZoneDeck:
		p.Deck = append(p.Deck, card)
	case ZoneGraveyard:
		card.FaceUp = true
		p.Graveyard = append(p.Graveyard, card)
	default:
		t.Fatalf("putCard does not support zone %s", zone)
	}
	return card
}

// parsedAbility runs a raw ability map through the real parser.
func parsedAbility(t *testing.T, raw map[string]any) *effects.Ability {
	t.Helper()
	ability, err := effects.NewParser(nil).ParseAbility(raw)
	if err != nil {
		t.Fatalf("parse ability: %v", err)
	}
	return ability
}

// fullDeck returns a deck list long enough to survive the opening hand.
func fullDeck() []string {
	deck := make([]string, 0, 12)
	for i := 0; i < 4; i++ {
		deck = append(deck, "dragon", "bolt", "shatter")
	}
	return deck
}

// timingOff disables all clocks.
func timingOff() timing.Config { return timing.Config{} }

// timingOn enables a one-minute action clock.
func timingOn() timing.Config {
	return timing.Config{
		PerActionMs:       60_000,
		TotalMatchMs:      3_600_000,
		AutoPassOnTimeout: true,
		WarningAtMs:       10_000,
	}
}
