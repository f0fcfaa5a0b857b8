package game

import (
	"fmt"

	"github.com/duelfield/duel-server-go/internal/cards"
	"github.com/duelfield/duel-server-go/internal/events"
	"github.com/duelfield/duel-server-go/internal/game/effects"
)

// stateMutator adapts a live MatchState to the effect executor's
// Mutator interface. Every method reads current zone contents at call
// time, which is what lets destruction cascades and multi-link
// resolutions observe each other's mutations.
type stateMutator struct {
	state   *MatchState
	catalog CardCatalog
}

var _ effects.Mutator = (*stateMutator)(nil)

func (m *stateMutator) OncePerTurnUsed(cardID string) bool {
	return m.state.optUsed(cardID)
}

func (m *stateMutator) MarkOncePerTurn(cardID string) {
	m.state.markOPT(cardID)
}

func (m *stateMutator) CardProtected(cardID string) bool {
	card, _ := m.state.FindCard(cardID)
	return card != nil && card.CannotBeTargeted
}

func (m *stateMutator) ControllerOf(cardID string) (string, bool) {
	card, owner := m.state.FindCard(cardID)
	if card == nil {
		return "", false
	}
	return owner.PlayerID, true
}

func (m *stateMutator) Opponent(playerID string) string {
	return m.state.Opponent(playerID)
}

func (m *stateMutator) Draw(playerID string, count int) error {
	p := m.state.Player(playerID)
	if p == nil {
		return fmt.Errorf("unknown player %s", playerID)
	}
	for i := 0; i < count; i++ {
		if len(p.Deck) == 0 {
			// Deck-out loses the match.
			m.state.endMatch(m.state.Opponent(playerID), "deck_out")
			return fmt.Errorf("player %s has no cards left to draw", playerID)
		}
		card := p.Deck[0]
		p.Deck = p.Deck[1:]
		card.Zone = ZoneHand
		p.Hand = append(p.Hand, card)
	}
	return nil
}

func (m *stateMutator) DealDamage(playerID string, amount int) error {
	p := m.state.Player(playerID)
	if p == nil {
		return fmt.Errorf("unknown player %s", playerID)
	}
	p.LifePoints -= amount
	m.state.emit(events.TypeDamageApplied, playerID, "", map[string]string{
		"amount": fmt.Sprintf("%d", amount),
		"source": "effect",
	})
	if p.LifePoints <= 0 {
		p.LifePoints = 0
		m.state.endMatch(m.state.Opponent(playerID), "life_points")
	}
	return nil
}

func (m *stateMutator) GainLife(playerID string, amount int) error {
	p := m.state.Player(playerID)
	if p == nil {
		return fmt.Errorf("unknown player %s", playerID)
	}
	p.LifePoints += amount
	return nil
}

func (m *stateMutator) ModifyATK(cardID string, delta int) error {
	card, _ := m.state.findOnBoard(cardID)
	if card == nil {
		return fmt.Errorf("card %s is not on the board", cardID)
	}
	card.ATK += delta
	if card.ATK < 0 {
		card.ATK = 0
	}
	return nil
}

func (m *stateMutator) ModifyDEF(cardID string, delta int) error {
	card, _ := m.state.findOnBoard(cardID)
	if card == nil {
		return fmt.Errorf("card %s is not on the board", cardID)
	}
	card.DEF += delta
	if card.DEF < 0 {
		card.DEF = 0
	}
	return nil
}

func (m *stateMutator) Destroy(cardID string) (effects.DestroyedCard, error) {
	card, owner := m.state.FindCard(cardID)
	if card == nil {
		return effects.DestroyedCard{}, fmt.Errorf("card %s does not exist", cardID)
	}
	if card.Zone != ZoneBoard && card.Zone != ZoneSpellTrap && card.Zone != ZoneField {
		return effects.DestroyedCard{}, fmt.Errorf("card %s is not on the field", cardID)
	}

	m.state.moveToGraveyard(card)
	m.state.emit(events.TypeCardDestroyed, owner.PlayerID, card.ID, map[string]string{"name": card.Name})

	destroyed := effects.DestroyedCard{CardID: card.ID, OwnerID: card.OwnerID}
	if m.catalog != nil {
		if def, ok := m.catalog.Get(card.DefID); ok && def.OnDestroy != nil {
			destroyed.OnDestroy = def.OnDestroy
		}
	}
	return destroyed, nil
}

func (m *stateMutator) SpecialSummon(playerID, cardID string) error {
	p := m.state.Player(playerID)
	if p == nil {
		return fmt.Errorf("unknown player %s", playerID)
	}
	card, holder := m.state.FindCard(cardID)
	if card == nil {
		return fmt.Errorf("card %s does not exist", cardID)
	}
	if card.Zone != ZoneHand && card.Zone != ZoneGraveyard {
		return fmt.Errorf("card %s cannot be summoned from %s", cardID, card.Zone)
	}
	if card.Type != cards.TypeMonster {
		return fmt.Errorf("card %s is not a monster", cardID)
	}
	if len(p.Board) >= BoardSize {
		return fmt.Errorf("player %s has no free monster zone", playerID)
	}

	holder.removeFromZone(card)
	card.Zone = ZoneBoard
	card.FaceUp = true
	card.Position = PositionAttack
	card.TurnPlaced = m.state.Turn
	p.Board = append(p.Board, card)
	return nil
}

func (m *stateMutator) Search(playerID, cardDefID string) error {
	p := m.state.Player(playerID)
	if p == nil {
		return fmt.Errorf("unknown player %s", playerID)
	}
	for i, card := range p.Deck {
		if card.DefID == cardDefID {
			p.Deck = append(p.Deck[:i], p.Deck[i+1:]...)
			card.Zone = ZoneHand
			p.Hand = append(p.Hand, card)
			return nil
		}
	}
	return fmt.Errorf("no copy of %s left in deck", cardDefID)
}

// NegateChainLink flags the pending chain link whose source card is
// cardID. Only links that have not yet resolved can be negated.
func (m *stateMutator) NegateChainLink(cardID string) error {
	for i := range m.state.CurrentChain {
		link := &m.state.CurrentChain[i]
		if link.CardID == cardID {
			if link.Negated {
				return fmt.Errorf("chain link for %s is already negated", cardID)
			}
			link.Negated = true
			return nil
		}
	}
	return fmt.Errorf("no pending chain link for card %s", cardID)
}

func (m *stateMutator) Discard(playerID string, count int) error {
	p := m.state.Player(playerID)
	if p == nil {
		return fmt.Errorf("unknown player %s", playerID)
	}
	for i := 0; i < count && len(p.Hand) > 0; i++ {
		card := p.Hand[0]
		m.state.moveToGraveyard(card)
	}
	return nil
}

func (m *stateMutator) Mill(playerID string, count int) error {
	p := m.state.Player(playerID)
	if p == nil {
		return fmt.Errorf("unknown player %s", playerID)
	}
	for i := 0; i < count && len(p.Deck) > 0; i++ {
		card := p.Deck[0]
		m.state.moveToGraveyard(card)
	}
	return nil
}

func (m *stateMutator) ReturnToHand(cardID string) error {
	card, _ := m.state.FindCard(cardID)
	if card == nil {
		return fmt.Errorf("card %s does not exist", cardID)
	}
	if card.Zone != ZoneBoard && card.Zone != ZoneSpellTrap && card.Zone != ZoneField {
		return fmt.Errorf("card %s is not on the field", cardID)
	}
	_, holder := m.state.FindCard(cardID)
	holder.removeFromZone(card)
	owner := m.state.Player(card.OwnerID)
	if owner == nil {
		owner = holder
	}
	card.Zone = ZoneHand
	card.FaceUp = false
	owner.Hand = append(owner.Hand, card)
	return nil
}

func (m *stateMutator) SendToGraveyard(cardID string) error {
	card, _ := m.state.FindCard(cardID)
	if card == nil {
		return fmt.Errorf("card %s does not exist", cardID)
	}
	if card.Zone == ZoneGraveyard {
		return fmt.Errorf("card %s is already in the graveyard", cardID)
	}
	m.state.moveToGraveyard(card)
	return nil
}

func (m *stateMutator) Banish(cardID string) error {
	card, holder := m.state.FindCard(cardID)
	if card == nil {
		return fmt.Errorf("card %s does not exist", cardID)
	}
	holder.removeFromZone(card)
	owner := m.state.Player(card.OwnerID)
	if owner == nil {
		owner = holder
	}
	card.Zone = ZoneBanished
	card.FaceUp = true
	owner.Banished = append(owner.Banished, card)
	return nil
}
