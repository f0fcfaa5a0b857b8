package game

import (
	"strconv"

	"github.com/duelfield/duel-server-go/internal/events"
	"github.com/duelfield/duel-server-go/internal/game/effects"
	"go.uber.org/zap"
)

// declareAttack snapshots the defender's board and opens the attack
// declaration window. The snapshot is what the replay check later
// compares against.
func (e *Engine) declareAttack(s *MatchState, playerID, attackerID, targetID string) error {
	if s.Over {
		return violationf(CodeMatchOver, "match %s is over", s.MatchID)
	}
	if !s.HasPlayer(playerID) {
		return validationf(CodeInvalidTarget, "player %s is not in match %s", playerID, s.MatchID)
	}
	if s.TurnPlayerID != playerID {
		return violationf(CodeNotTurnPlayer, "it is not %s's turn", playerID)
	}
	if s.Window != nil {
		return violationf(CodeActivationIllegal, "cannot declare an attack while a response window is open")
	}
	if s.PendingAction != nil {
		return violationf(CodeActivationIllegal, "another action is already pending")
	}

	attacker, attackerOwner := s.findOnBoard(attackerID)
	if attacker == nil || attackerOwner.PlayerID != playerID {
		return validationf(CodeInvalidTarget, "%s does not control monster %s", playerID, attackerID)
	}
	if attacker.Position != PositionAttack {
		return violationf(CodeActivationIllegal, "monster %s is not in attack position", attackerID)
	}
	if attacker.AttackedThisTurn {
		return violationf(CodeActivationIllegal, "monster %s already attacked this turn", attackerID)
	}

	defender := s.Player(s.Opponent(playerID))
	if targetID == "" {
		if len(defender.Board) > 0 && !e.hasPassiveGrant(attacker.DefID, effects.KindDirectAttack) {
			return violationf(CodeActivationIllegal,
				"direct attack requires an empty defending board")
		}
	} else {
		target, targetOwner := s.findOnBoard(targetID)
		if target == nil || targetOwner.PlayerID != defender.PlayerID {
			return validationf(CodeInvalidTarget, "%s is not a defending monster", targetID)
		}
	}

	s.PendingAction = &PendingAction{
		Type:                 PendingActionAttack,
		PlayerID:             playerID,
		CardID:               attackerID,
		TargetID:             targetID,
		OriginalMonsterCount: len(defender.Board),
	}

	e.openWindow(s, WindowAttackDeclaration, playerID, nil)
	s.recordPriority(playerID, "attack_declared", attackerID, e.clock())
	s.emit(events.TypeAttackDeclared, playerID, attackerID, map[string]string{
		"target_id": targetID,
	})
	return nil
}

// executeDamageStep applies battle damage for the pending attack once
// the damage calculation window has closed. Destruction goes through
// the effect executor so on-destroy triggers cascade.
func (e *Engine) executeDamageStep(s *MatchState) {
	action := s.PendingAction
	s.PendingAction = nil
	if action == nil || action.Type != PendingActionAttack || s.Over {
		return
	}

	attacker, _ := s.findOnBoard(action.CardID)
	if attacker == nil {
		return // removed during the last response window
	}
	attacker.AttackedThisTurn = true

	mut := &stateMutator{state: s, catalog: e.catalog}
	defenderID := s.Opponent(action.PlayerID)

	if action.TargetID == "" {
		e.applyBattleDamage(s, defenderID, attacker.ATK)
		return
	}

	target, _ := s.findOnBoard(action.TargetID)
	if target == nil {
		// Target vanished after the replay check; the attack fizzles.
		e.logger.Debug("attack target gone at damage step",
			zap.String("match_id", s.MatchID),
			zap.String("target_id", action.TargetID),
		)
		return
	}

	if target.Position == PositionDefense {
		switch {
		case attacker.ATK > target.DEF:
			e.destroyInBattle(mut, target.ID)
		case attacker.ATK < target.DEF:
			e.applyBattleDamage(s, action.PlayerID, target.DEF-attacker.ATK)
		}
		return
	}

	switch {
	case attacker.ATK > target.ATK:
		diff := attacker.ATK - target.ATK
		e.destroyInBattle(mut, target.ID)
		e.applyBattleDamage(s, defenderID, diff)
	case attacker.ATK < target.ATK:
		diff := target.ATK - attacker.ATK
		e.destroyInBattle(mut, attacker.ID)
		e.applyBattleDamage(s, action.PlayerID, diff)
	default:
		// Mutual destruction, no damage.
		e.destroyInBattle(mut, target.ID)
		e.destroyInBattle(mut, attacker.ID)
	}
}

func (e *Engine) destroyInBattle(mut *stateMutator, cardID string) {
	if err := e.executor.Destroy(mut, cardID); err != nil {
		e.logger.Warn("battle destruction failed",
			zap.String("card_id", cardID),
			zap.Error(err),
		)
	}
}

func (e *Engine) applyBattleDamage(s *MatchState, playerID string, amount int) {
	if amount <= 0 {
		return
	}
	p := s.Player(playerID)
	if p == nil {
		return
	}
	p.LifePoints -= amount
	s.emit(events.TypeDamageApplied, playerID, "", map[string]string{
		"amount": strconv.Itoa(amount),
		"source": "battle",
	})
	if p.LifePoints <= 0 {
		p.LifePoints = 0
		s.endMatch(s.Opponent(playerID), "life_points")
	}
}

// hasPassiveGrant reports whether a card's printed ability includes a
// passive grant of the given kind.
func (e *Engine) hasPassiveGrant(defID string, kind effects.Kind) bool {
	if e.catalog == nil {
		return false
	}
	def, ok := e.catalog.Get(defID)
	if !ok {
		return false
	}
	ability, err := e.parser.ParseAbility(def.Ability)
	if err != nil || ability == nil {
		return false
	}
	for _, effect := range ability.Effects {
		if effect.Kind == kind {
			return true
		}
	}
	return false
}
