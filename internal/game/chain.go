package game

import (
	"fmt"

	"github.com/duelfield/duel-server-go/internal/cards"
	"github.com/duelfield/duel-server-go/internal/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// addLink appends a chain link after validating spell-speed legality.
// A new link's speed must be at least the speed of the link beneath it,
// and once any speed-3 link exists only speed 3 may follow. On success
// priority passes to the non-acting player.
func (e *Engine) addLink(s *MatchState, link ChainLink) error {
	if s.Over {
		return violationf(CodeMatchOver, "match %s is over", s.MatchID)
	}
	if !s.HasPlayer(link.PlayerID) {
		return validationf(CodeInvalidEffect, "player %s is not in match %s", link.PlayerID, s.MatchID)
	}
	if link.SpellSpeed < 1 || link.SpellSpeed > 3 {
		return validationf(CodeInvalidEffect, "spell speed must be 1-3, got %d", link.SpellSpeed)
	}

	if top := s.topLink(); top != nil {
		required := top.SpellSpeed
		if s.chainHasSpeed3() {
			required = 3
		}
		if link.SpellSpeed < required {
			return violationf(CodeSpellSpeedIncompatible,
				"chain requires spell speed %d or higher, got %d", required, link.SpellSpeed)
		}
	}

	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	s.CurrentChain = append(s.CurrentChain, link)

	// The chain always lives inside a window; opening while one is
	// already open is a no-op, so this preserves any in-flight window.
	windowType := WindowEffectActivation
	if card, _ := s.FindCard(link.CardID); card != nil {
		switch card.Type {
		case cards.TypeSpell:
			windowType = WindowSpellActivation
		case cards.TypeTrap:
			windowType = WindowTrapActivation
		}
	}
	e.openWindow(s, windowType, link.PlayerID, nil)

	now := e.clock()
	s.Window.ChainOpen = true
	s.Window.PassCount = 0
	s.Window.ActivePlayerID = s.Opponent(link.PlayerID)
	e.refreshWindowExpiry(s, now)

	s.recordPriority(link.PlayerID, "chain_link_added", link.CardID, now)
	s.emit(events.TypeChainLinkAdded, link.PlayerID, link.CardID, map[string]string{
		"link_index":  fmt.Sprintf("%d", len(s.CurrentChain)),
		"spell_speed": fmt.Sprintf("%d", link.SpellSpeed),
	})

	e.logger.Debug("chain link added",
		zap.String("match_id", s.MatchID),
		zap.String("player_id", link.PlayerID),
		zap.String("card_id", link.CardID),
		zap.Int("spell_speed", link.SpellSpeed),
		zap.Int("chain_length", len(s.CurrentChain)),
	)
	return nil
}

// resolveChain processes the chain strictly last-in-first-out. A
// negated link skips execution but its spell or trap source still goes
// to the graveyard. Live links execute against the state as it stands
// when their turn comes, so earlier resolutions in the same pass are
// visible to later ones.
func (e *Engine) resolveChain(s *MatchState) error {
	if len(s.CurrentChain) == 0 {
		return violationf(CodeNoChain, "no chain to resolve in match %s", s.MatchID)
	}

	for i := len(s.CurrentChain) - 1; i >= 0; i-- {
		if s.Over {
			break
		}
		link := s.CurrentChain[i]

		if link.Negated {
			e.discardChainSource(s, link)
			s.emit(events.TypeLinkNegated, link.PlayerID, link.CardID, map[string]string{
				"link_index": fmt.Sprintf("%d", i+1),
			})
			e.logger.Debug("negated chain link skipped",
				zap.String("match_id", s.MatchID),
				zap.String("card_id", link.CardID),
			)
			continue
		}

		mut := &stateMutator{state: s, catalog: e.catalog}
		result := e.executor.Execute(mut, link.Effect, link.PlayerID, link.CardID, link.Targets)
		if link.Effect == nil {
			s.emit(events.TypeEffectSkipped, link.PlayerID, link.CardID, nil)
		}

		e.discardChainSource(s, link)

		detail := map[string]string{
			"link_index": fmt.Sprintf("%d", i+1),
			"success":    fmt.Sprintf("%v", result.Success),
		}
		if result.Message != "" {
			detail["message"] = result.Message
		}
		s.emit(events.TypeLinkResolved, link.PlayerID, link.CardID, detail)

		if !result.Success {
			e.logger.Info("chain link resolved with failures",
				zap.String("match_id", s.MatchID),
				zap.String("card_id", link.CardID),
				zap.String("message", result.Message),
				zap.Bool("partial", result.Partial()),
			)
		}
	}

	s.CurrentChain = nil
	if s.Window != nil {
		s.Window.ChainOpen = false
	}
	s.emit(events.TypeChainResolved, "", "", nil)
	return nil
}

// discardChainSource sends a resolved or negated link's source card to
// the graveyard when it is a spell or trap still on the field. Monsters
// whose effects activated stay where they are.
func (e *Engine) discardChainSource(s *MatchState, link ChainLink) {
	card, _ := s.FindCard(link.CardID)
	if card == nil {
		return
	}
	if card.Type != cards.TypeSpell && card.Type != cards.TypeTrap {
		return
	}
	if card.Zone != ZoneSpellTrap && card.Zone != ZoneField {
		return // already moved during resolution
	}
	s.moveToGraveyard(card)
}
