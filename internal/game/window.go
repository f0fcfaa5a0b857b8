package game

import (
	"strconv"
	"time"

	"github.com/duelfield/duel-server-go/internal/events"
	"go.uber.org/zap"
)

// Legality is the answer to a pure activation-legality query.
type Legality struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allowed() Legality            { return Legality{Allowed: true} }
func denied(reason string) Legality { return Legality{Allowed: false, Reason: reason} }

// PassOutcome reports what happened as a consequence of a pass.
type PassOutcome struct {
	ChainResolved bool
	WindowClosed  bool
	ReplayPending bool
	DamageStep    bool
	TurnEnded     bool
}

// openWindow transitions CLOSED→OPEN. The non-triggering player gets
// priority first. Opening while a window is already open is a no-op so
// an in-flight window is never clobbered.
func (e *Engine) openWindow(s *MatchState, typ WindowType, triggerPlayerID string, overrideMs *int64) {
	if s.Window != nil {
		return
	}

	now := e.clock()
	window := &ResponseWindowState{
		Type:            typ,
		TriggerPlayerID: triggerPlayerID,
		ActivePlayerID:  s.Opponent(triggerPlayerID),
		CanRespond:      true,
		CreatedAt:       now,
	}

	switch {
	case overrideMs != nil && *overrideMs > 0:
		t := now.Add(time.Duration(*overrideMs) * time.Millisecond)
		window.ExpiresAt = &t
	case s.MatchTimerStart != nil:
		window.ExpiresAt = s.TimeoutConfig.ActionExpiry(now)
	}

	s.Window = window
	s.emit(events.TypeWindowOpened, triggerPlayerID, "", map[string]string{"window_type": string(typ)})
	e.logger.Debug("response window opened",
		zap.String("match_id", s.MatchID),
		zap.String("type", string(typ)),
		zap.String("active_player", window.ActivePlayerID),
	)
}

// closeWindow clears the window and the current-priority pointer.
// Always legal.
func (e *Engine) closeWindow(s *MatchState) {
	if s.Window == nil {
		return
	}
	typ := s.Window.Type
	s.Window = nil
	s.emit(events.TypeWindowClosed, "", "", map[string]string{"window_type": string(typ)})
}

// pass records that the active player declines to respond. The second
// consecutive pass resolves any chain and closes the window, driving
// battle-step transitions for attack windows.
func (e *Engine) pass(s *MatchState, playerID string) (PassOutcome, error) {
	var outcome PassOutcome

	if s.Over {
		return outcome, violationf(CodeMatchOver, "match %s is over", s.MatchID)
	}
	if s.Window == nil {
		return outcome, violationf(CodeNoWindow, "no response window is open")
	}
	if s.Window.ActivePlayerID != playerID {
		return outcome, violationf(CodeNotPriorityPlayer,
			"priority belongs to %s, not %s", s.Window.ActivePlayerID, playerID)
	}

	now := e.clock()
	s.Window.PassCount++
	s.recordPriority(playerID, "pass", "", now)
	s.emit(events.TypePriorityPassed, playerID, "", map[string]string{
		"pass_count": strconv.Itoa(s.Window.PassCount),
	})

	if s.Window.PassCount < 2 {
		s.Window.ActivePlayerID = s.Opponent(playerID)
		e.refreshWindowExpiry(s, now)
		return outcome, nil
	}

	// Two consecutive passes: resolve, then close or transition.
	if len(s.CurrentChain) > 0 {
		if err := e.resolveChain(s); err != nil {
			return outcome, err
		}
		outcome.ChainResolved = true
	}
	if s.Over {
		outcome.WindowClosed = true
		return outcome, nil
	}

	windowType := s.Window.Type
	e.closeWindow(s)
	outcome.WindowClosed = true

	switch windowType {
	case WindowAttackDeclaration:
		// The chain may have changed the battlefield; before damage,
		// ask whether the attack must be replayed.
		if e.checkReplayCondition(s) {
			outcome.ReplayPending = true
			return outcome, nil
		}
		if s.PendingAction == nil {
			// Attacker was removed; the attack is cancelled outright.
			return outcome, nil
		}
		e.openWindow(s, WindowDamageCalculation, s.PendingAction.PlayerID, nil)
		outcome.WindowClosed = false
	case WindowDamageCalculation:
		// Damage execution stays with the caller; combat resolution and
		// the window machinery must not depend on each other.
		outcome.DamageStep = true
	case WindowEndPhase:
		outcome.TurnEnded = true
	}

	return outcome, nil
}

// refreshWindowExpiry restarts the per-action clock for whichever
// player just received priority.
func (e *Engine) refreshWindowExpiry(s *MatchState, now time.Time) {
	if s.Window == nil || s.MatchTimerStart == nil {
		return
	}
	if expiry := s.TimeoutConfig.ActionExpiry(now); expiry != nil {
		s.Window.ExpiresAt = expiry
	}
}

// respond marks that the active player intends to chain. Any response
// resets the pass count and flips priority, implicitly inviting a
// counter-response.
func (e *Engine) respond(s *MatchState, playerID string) error {
	if s.Over {
		return violationf(CodeMatchOver, "match %s is over", s.MatchID)
	}
	if s.Window == nil {
		return violationf(CodeNoWindow, "no response window is open")
	}
	if s.Window.ActivePlayerID != playerID {
		return violationf(CodeNotPriorityPlayer,
			"priority belongs to %s, not %s", s.Window.ActivePlayerID, playerID)
	}

	now := e.clock()
	s.Window.ChainOpen = true
	s.Window.PassCount = 0
	s.Window.ActivePlayerID = s.Opponent(playerID)
	e.refreshWindowExpiry(s, now)
	s.recordPriority(playerID, "respond", "", now)
	s.emit(events.TypeResponse, playerID, "", nil)
	return nil
}

// CanActivate is the pure activation-legality query for a player and a
// spell speed against the current window and chain. It never mutates
// state.
func CanActivate(s *MatchState, playerID string, spellSpeed int) Legality {
	if s.Over {
		return denied("match is over")
	}
	if !s.HasPlayer(playerID) {
		return denied("player is not in this match")
	}
	if spellSpeed < 1 || spellSpeed > 3 {
		return denied("spell speed must be between 1 and 3")
	}

	// Outside any window there is no chain to respond to; any speed may
	// start one.
	if s.Window == nil {
		return allowed()
	}

	if s.Window.ActivePlayerID != playerID {
		return denied("player does not hold priority")
	}

	top := s.topLink()

	if s.chainHasSpeed3() && spellSpeed != 3 {
		return denied("only spell speed 3 may be chained after a speed 3 link")
	}
	if top != nil && spellSpeed < top.SpellSpeed {
		return denied("spell speed is lower than the top of the chain")
	}
	if spellSpeed == 3 && top != nil && top.SpellSpeed < 2 {
		return denied("spell speed 3 may only respond to spell speed 2 or higher")
	}
	if spellSpeed == 1 && (s.Window.Type != WindowOpen || s.Window.ChainOpen || top != nil) {
		return denied("spell speed 1 may only be activated in an open window with no chain")
	}

	return allowed()
}
