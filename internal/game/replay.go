package game

import (
	"strconv"

	"github.com/duelfield/duel-server-go/internal/events"
	"go.uber.org/zap"
)

// checkReplayCondition compares the defender's current monster count to
// the snapshot taken at attack declaration. Any change, in either
// direction, lets the attacker redirect: monsters leaving remove legal
// targets, monsters arriving add them. If the attacker itself is gone
// the attack is cancelled outright and no replay is offered.
func (e *Engine) checkReplayCondition(s *MatchState) bool {
	action := s.PendingAction
	if action == nil || action.Type != PendingActionAttack {
		return false
	}

	attacker, _ := s.findOnBoard(action.CardID)
	if attacker == nil {
		e.logger.Debug("attacker left the field, attack cancelled",
			zap.String("match_id", s.MatchID),
			zap.String("card_id", action.CardID),
		)
		s.PendingAction = nil
		return false
	}

	defender := s.Player(s.Opponent(action.PlayerID))
	current := len(defender.Board)
	if current == action.OriginalMonsterCount {
		return false
	}

	targets := make([]string, 0, current)
	for _, monster := range defender.Board {
		targets = append(targets, monster.ID)
	}

	s.PendingReplay = &ReplayState{
		AttackerID:           action.CardID,
		AttackerOwnerID:      action.PlayerID,
		OriginalTargetID:     action.TargetID,
		OriginalMonsterCount: action.OriginalMonsterCount,
		CurrentMonsterCount:  current,
		AvailableTargets:     targets,
		CanAttackDirectly:    current == 0,
	}
	s.emit(events.TypeReplayTriggered, action.PlayerID, action.CardID, map[string]string{
		"original_count": strconv.Itoa(action.OriginalMonsterCount),
		"current_count":  strconv.Itoa(current),
	})
	return true
}

// respondToReplay consumes a pending replay with the attacker's choice.
// new_target must name an available target, direct_attack requires an
// empty defending board, and cancel clears the attack.
func (e *Engine) respondToReplay(s *MatchState, playerID string, choice ReplayChoice) error {
	if s.Over {
		return violationf(CodeMatchOver, "match %s is over", s.MatchID)
	}
	replay := s.PendingReplay
	if replay == nil {
		return violationf(CodeNoReplayPending, "no battle replay is pending")
	}
	if replay.AttackerOwnerID != playerID {
		return violationf(CodeNotPriorityPlayer,
			"replay choice belongs to %s, not %s", replay.AttackerOwnerID, playerID)
	}

	switch choice.Type {
	case ReplayChoiceNewTarget:
		if choice.NewTargetID == "" {
			return violationf(CodeInvalidReplayChoice, "new_target requires a target id")
		}
		found := false
		for _, id := range replay.AvailableTargets {
			if id == choice.NewTargetID {
				found = true
				break
			}
		}
		if !found {
			return violationf(CodeInvalidReplayChoice,
				"%s is not an available replay target", choice.NewTargetID)
		}
		s.PendingAction = &PendingAction{
			Type:                 PendingActionAttack,
			PlayerID:             replay.AttackerOwnerID,
			CardID:               replay.AttackerID,
			TargetID:             choice.NewTargetID,
			OriginalMonsterCount: replay.CurrentMonsterCount,
		}
	case ReplayChoiceDirectAttack:
		if !replay.CanAttackDirectly {
			return violationf(CodeInvalidReplayChoice,
				"direct attack is only allowed against an empty board")
		}
		s.PendingAction = &PendingAction{
			Type:                 PendingActionAttack,
			PlayerID:             replay.AttackerOwnerID,
			CardID:               replay.AttackerID,
			OriginalMonsterCount: replay.CurrentMonsterCount,
		}
	case ReplayChoiceCancel:
		s.PendingAction = nil
	default:
		return violationf(CodeInvalidReplayChoice, "unknown replay choice %q", choice.Type)
	}

	s.PendingReplay = nil
	s.recordPriority(playerID, "replay_choice", string(choice.Type), e.clock())
	s.emit(events.TypeReplayResolved, playerID, replay.AttackerID, map[string]string{
		"choice": string(choice.Type),
	})

	// A redirected or direct attack proceeds to damage; the opponent
	// gets one more window to respond first.
	if choice.Type != ReplayChoiceCancel {
		e.openWindow(s, WindowDamageCalculation, playerID, nil)
	}
	return nil
}
