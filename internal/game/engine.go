package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/duelfield/duel-server-go/internal/cards"
	"github.com/duelfield/duel-server-go/internal/events"
	"github.com/duelfield/duel-server-go/internal/game/effects"
	"github.com/duelfield/duel-server-go/internal/game/timing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// casMaxRetries bounds optimistic-concurrency retries per operation.
const casMaxRetries = 3

// MatchStore is the persistent keyed store for match state. Load
// returns an isolated copy plus its version; CompareAndSwap commits a
// mutated copy atomically, failing with ErrVersionConflict when another
// writer got there first.
type MatchStore interface {
	Create(ctx context.Context, state *MatchState) error
	Load(ctx context.Context, matchID string) (*MatchState, int64, error)
	CompareAndSwap(ctx context.Context, matchID string, version int64, state *MatchState) error
}

// CardCatalog looks up printed card definitions.
type CardCatalog interface {
	Get(id string) (cards.Definition, bool)
}

// Engine drives all match state transitions: chain building, priority
// passing, battle steps, replays and timeouts. Every entry point reads
// the latest committed state, mutates a copy and commits it atomically;
// events reach the sink only after the commit succeeds.
type Engine struct {
	store    MatchStore
	catalog  CardCatalog
	sink     events.Sink
	logger   *zap.Logger
	parser   *effects.Parser
	executor *effects.Executor
	clock    func() time.Time

	// active tracks match ids known to this process so periodic
	// timeout sweeps have something to iterate.
	active sync.Map
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func NewEngine(store MatchStore, catalog CardCatalog, sink events.Sink, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := effects.NewParser(logger.Named("parser"))
	e := &Engine{
		store:    store,
		catalog:  catalog,
		sink:     sink,
		logger:   logger,
		parser:   parser,
		executor: effects.NewExecutor(parser, logger.Named("executor")),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// update runs fn against a fresh copy of the match state and commits
// the result, retrying on version conflicts. Queued events are
// delivered only after a successful commit.
func (e *Engine) update(ctx context.Context, matchID string, fn func(*MatchState) error) (*MatchState, error) {
	var lastErr error
	for attempt := 0; attempt < casMaxRetries; attempt++ {
		state, version, err := e.store.Load(ctx, matchID)
		if err != nil {
			if errors.Is(err, ErrMatchNotFound) {
				return nil, validationf(CodeMatchNotFound, "match %s does not exist", matchID)
			}
			return nil, err
		}

		if err := fn(state); err != nil {
			return nil, err
		}

		if err := e.store.CompareAndSwap(ctx, matchID, version, state); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}

		if e.sink != nil {
			for _, ev := range state.drainEvents() {
				e.sink.Append(ev)
			}
		}
		if state.Over {
			e.active.Delete(matchID)
		} else {
			e.active.Store(matchID, struct{}{})
		}
		return state, nil
	}
	return nil, fmt.Errorf("match %s: too many concurrent writers: %w", matchID, lastErr)
}

// PlayerSetup describes one participant at match creation.
type PlayerSetup struct {
	PlayerID string   `json:"player_id"`
	Deck     []string `json:"deck"` // card definition ids, top of deck first
}

// CreateMatch builds the initial aggregate: shuffled-in decks, opening
// hands, life points and the timeout policy. The match timer starts
// immediately when the config enables any clock.
func (e *Engine) CreateMatch(ctx context.Context, matchID string, setups [2]PlayerSetup, cfg timing.Config) (*MatchState, error) {
	if matchID == "" {
		matchID = uuid.NewString()
	}
	if setups[0].PlayerID == "" || setups[1].PlayerID == "" {
		return nil, validationf(CodeInvalidTarget, "both players must be named")
	}
	if setups[0].PlayerID == setups[1].PlayerID {
		return nil, validationf(CodeInvalidTarget, "players must be distinct")
	}

	state := &MatchState{
		MatchID:         matchID,
		Turn:            1,
		TurnPlayerID:    setups[0].PlayerID,
		TimeoutConfig:   cfg,
		PriorityHistory: NewPriorityHistory(),
	}

	for i, setup := range setups {
		player := &PlayerState{
			PlayerID:   setup.PlayerID,
			LifePoints: StartingLifePoints,
		}
		for _, defID := range setup.Deck {
			def, ok := e.catalog.Get(defID)
			if !ok {
				return nil, validationf(CodeInvalidTarget, "unknown card %s in %s's deck", defID, setup.PlayerID)
			}
			player.Deck = append(player.Deck, &CardInstance{
				ID:               uuid.NewString(),
				DefID:            def.ID,
				Name:             def.Name,
				Type:             def.Type,
				ATK:              def.ATK,
				DEF:              def.DEF,
				Zone:             ZoneDeck,
				OwnerID:          setup.PlayerID,
				CannotBeTargeted: def.Untargetable,
			})
		}
		state.Players[i] = player
	}

	for _, player := range state.Players {
		for i := 0; i < StartingHandSize && len(player.Deck) > 0; i++ {
			card := player.Deck[0]
			player.Deck = player.Deck[1:]
			card.Zone = ZoneHand
			player.Hand = append(player.Hand, card)
		}
	}

	if cfg.Enabled() || cfg.TotalMatchMs > 0 {
		now := e.clock()
		state.MatchTimerStart = &now
	}

	if err := e.store.Create(ctx, state); err != nil {
		return nil, err
	}
	e.active.Store(matchID, struct{}{})

	if e.sink != nil {
		e.sink.Append(events.New(matchID, events.TypeMatchCreated, "", "", map[string]string{
			"player_1": setups[0].PlayerID,
			"player_2": setups[1].PlayerID,
		}))
	}
	e.logger.Info("match created",
		zap.String("match_id", matchID),
		zap.String("player_1", setups[0].PlayerID),
		zap.String("player_2", setups[1].PlayerID),
	)
	return state, nil
}

// GetMatch returns the latest committed state.
func (e *Engine) GetMatch(ctx context.Context, matchID string) (*MatchState, error) {
	state, _, err := e.store.Load(ctx, matchID)
	if err != nil {
		if errors.Is(err, ErrMatchNotFound) {
			return nil, validationf(CodeMatchNotFound, "match %s does not exist", matchID)
		}
		return nil, err
	}
	return state, nil
}

// InitializeMatchTimer stamps the match timer and timeout config, once.
func (e *Engine) InitializeMatchTimer(ctx context.Context, matchID string, cfg timing.Config) (*MatchState, error) {
	return e.update(ctx, matchID, func(s *MatchState) error {
		if s.MatchTimerStart != nil {
			return violationf(CodeActivationIllegal, "match timer for %s is already running", matchID)
		}
		now := e.clock()
		s.MatchTimerStart = &now
		s.TimeoutConfig = cfg
		return nil
	})
}

// CanActivate answers the pure legality question for activating a card
// at the given spell speed. No state changes.
func (e *Engine) CanActivate(ctx context.Context, matchID, playerID string, spellSpeed int) (Legality, error) {
	state, err := e.GetMatch(ctx, matchID)
	if err != nil {
		return Legality{}, err
	}
	return CanActivate(state, playerID, spellSpeed), nil
}

// AddChainLink activates a card: legality is checked against the
// current window and chain, the printed ability is parsed, and the link
// is appended with priority passing to the opponent.
func (e *Engine) AddChainLink(ctx context.Context, matchID, playerID, cardID string, targets []string) (*MatchState, error) {
	return e.update(ctx, matchID, func(s *MatchState) error {
		card, holder := s.FindCard(cardID)
		if card == nil {
			return validationf(CodeInvalidTarget, "card %s does not exist in match %s", cardID, matchID)
		}
		if holder.PlayerID != playerID {
			return violationf(CodeActivationIllegal, "%s does not control card %s", playerID, cardID)
		}

		def, ok := e.catalog.Get(card.DefID)
		if !ok {
			return validationf(CodeInvalidEffect, "card %s has no definition", card.DefID)
		}
		speed := def.EffectiveSpellSpeed()

		if legality := CanActivate(s, playerID, speed); !legality.Allowed {
			return violationf(CodeActivationIllegal, "%s", legality.Reason)
		}

		ability, err := e.parser.ParseAbility(def.Ability)
		if err != nil {
			return validationf(CodeInvalidEffect, "card %s: %v", card.DefID, err)
		}

		e.placeForActivation(s, card, holder)

		return e.addLink(s, ChainLink{
			CardID:     cardID,
			PlayerID:   playerID,
			SpellSpeed: speed,
			Effect:     ability,
			Targets:    targets,
		})
	})
}

// placeForActivation moves a spell or trap being activated from the
// hand into the spell/trap zone and turns set cards face up.
func (e *Engine) placeForActivation(s *MatchState, card *CardInstance, holder *PlayerState) {
	if card.Type != cards.TypeSpell && card.Type != cards.TypeTrap {
		return
	}
	if card.Zone == ZoneHand && len(holder.SpellTrap) < BoardSize {
		holder.removeFromZone(card)
		card.Zone = ZoneSpellTrap
		card.TurnPlaced = s.Turn
		holder.SpellTrap = append(holder.SpellTrap, card)
	}
	card.FaceUp = true
}

// ResolveChain resolves the current chain immediately. Most callers
// never need this: two consecutive passes resolve the chain as part of
// the priority protocol.
func (e *Engine) ResolveChain(ctx context.Context, matchID string) (*MatchState, error) {
	return e.update(ctx, matchID, func(s *MatchState) error {
		return e.resolveChain(s)
	})
}

// Pass declines to respond as the current priority holder.
func (e *Engine) Pass(ctx context.Context, matchID, playerID string) (PassOutcome, *MatchState, error) {
	var outcome PassOutcome
	state, err := e.update(ctx, matchID, func(s *MatchState) error {
		var passErr error
		outcome, passErr = e.pass(s, playerID)
		if passErr != nil {
			return passErr
		}
		if outcome.DamageStep {
			e.executeDamageStep(s)
		}
		if outcome.TurnEnded {
			e.finalizeTurn(s)
		}
		return nil
	})
	return outcome, state, err
}

// Respond declares the intent to chain; the actual link arrives via
// AddChainLink. Resets the pass count and flips priority.
func (e *Engine) Respond(ctx context.Context, matchID, playerID string) (*MatchState, error) {
	return e.update(ctx, matchID, func(s *MatchState) error {
		return e.respond(s, playerID)
	})
}

// OpenWindow opens a response window of the given type, a no-op when
// one is already open.
func (e *Engine) OpenWindow(ctx context.Context, matchID string, typ WindowType, triggerPlayerID string, timeoutOverrideMs *int64) (*MatchState, error) {
	return e.update(ctx, matchID, func(s *MatchState) error {
		if s.Over {
			return violationf(CodeMatchOver, "match %s is over", matchID)
		}
		if !s.HasPlayer(triggerPlayerID) {
			return validationf(CodeInvalidTarget, "player %s is not in match %s", triggerPlayerID, matchID)
		}
		e.openWindow(s, typ, triggerPlayerID, timeoutOverrideMs)
		return nil
	})
}

// DeclareAttack declares an attack, snapshotting the defender's board
// for later replay detection and opening the attack declaration window.
func (e *Engine) DeclareAttack(ctx context.Context, matchID, playerID, attackerID, targetID string) (*MatchState, error) {
	return e.update(ctx, matchID, func(s *MatchState) error {
		return e.declareAttack(s, playerID, attackerID, targetID)
	})
}

// RespondToReplay consumes a pending battle replay with the attacker's
// choice of new target, direct attack or cancellation.
func (e *Engine) RespondToReplay(ctx context.Context, matchID, playerID string, choice ReplayChoice) (*MatchState, error) {
	return e.update(ctx, matchID, func(s *MatchState) error {
		return e.respondToReplay(s, playerID, choice)
	})
}

// CheckTimeoutStatus evaluates the per-action and per-match clocks
// against the current time. Read-only; auto-passing is SweepTimeouts'
// job.
func (e *Engine) CheckTimeoutStatus(ctx context.Context, matchID string) (timing.Status, error) {
	state, err := e.GetMatch(ctx, matchID)
	if err != nil {
		return timing.Status{}, err
	}
	var expiresAt *time.Time
	if state.Window != nil {
		expiresAt = state.Window.ExpiresAt
	}
	return timing.CheckStatus(e.clock(), expiresAt, state.MatchTimerStart, state.TimeoutConfig), nil
}

// SweepTimeouts applies any timeout that has come due: it auto-passes a
// stalled priority holder, records the occurrence, forfeits repeat
// offenders and ends the match when its total clock is exhausted. An
// external scheduler is expected to call this periodically.
func (e *Engine) SweepTimeouts(ctx context.Context, matchID string) (*MatchState, error) {
	// Cheap read-only probe first so idle sweeps don't churn versions.
	state, err := e.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if state.Over {
		return state, nil
	}
	var expiresAt *time.Time
	if state.Window != nil {
		expiresAt = state.Window.ExpiresAt
	}
	probe := timing.CheckStatus(e.clock(), expiresAt, state.MatchTimerStart, state.TimeoutConfig)
	if !probe.ActionTimedOut && !probe.MatchTimedOut {
		return state, nil
	}

	return e.update(ctx, matchID, func(s *MatchState) error {
		if s.Over {
			return nil
		}
		now := e.clock()
		var windowExpiry *time.Time
		if s.Window != nil {
			windowExpiry = s.Window.ExpiresAt
		}
		status := timing.CheckStatus(now, windowExpiry, s.MatchTimerStart, s.TimeoutConfig)

		if status.MatchTimedOut {
			s.endMatch(e.leaderByLifePoints(s), "match_time_exhausted")
			return nil
		}

		if !status.ActionTimedOut || s.Window == nil {
			return nil
		}

		timedOut := s.Window.ActivePlayerID
		s.TimeoutRecords = append(s.TimeoutRecords, timing.Record{
			PlayerID:  timedOut,
			Action:    "window_" + string(s.Window.Type),
			Timestamp: now,
		})
		s.emit(events.TypeTimeout, timedOut, "", map[string]string{
			"window_type": string(s.Window.Type),
		})

		if timing.ExceededThreshold(s.TimeoutRecords, timedOut, timing.DefaultTimeoutThreshold) {
			s.endMatch(s.Opponent(timedOut), "timeout_forfeit")
			return nil
		}

		if !s.TimeoutConfig.AutoPassOnTimeout {
			return nil
		}

		// Auto-pass on the stalled player's behalf: identical to the
		// player passing themselves.
		outcome, err := e.pass(s, timedOut)
		if err != nil {
			return err
		}
		s.emit(events.TypeAutoPass, timedOut, "", nil)
		if outcome.DamageStep {
			e.executeDamageStep(s)
		}
		if outcome.TurnEnded {
			e.finalizeTurn(s)
		}
		return nil
	})
}

// SweepAllTimeouts runs the timeout sweep over every match this
// process has touched. Intended for a periodic scheduler task.
func (e *Engine) SweepAllTimeouts(ctx context.Context) {
	e.active.Range(func(key, _ any) bool {
		matchID := key.(string)
		state, err := e.SweepTimeouts(ctx, matchID)
		if err != nil {
			if IsValidationError(err) {
				e.active.Delete(matchID)
				return true
			}
			e.logger.Warn("timeout sweep failed",
				zap.String("match_id", matchID),
				zap.Error(err),
			)
			return true
		}
		if state != nil && state.Over {
			e.active.Delete(matchID)
		}
		return true
	})
}

// GetPlayerTimeoutCount returns how many timeouts a player has accrued.
func (e *Engine) GetPlayerTimeoutCount(ctx context.Context, matchID, playerID string) (int, error) {
	state, err := e.GetMatch(ctx, matchID)
	if err != nil {
		return 0, err
	}
	return timing.CountForPlayer(state.TimeoutRecords, playerID), nil
}

// HasExceededTimeoutThreshold reports whether a player is forfeit-eligible.
func (e *Engine) HasExceededTimeoutThreshold(ctx context.Context, matchID, playerID string, threshold int) (bool, error) {
	state, err := e.GetMatch(ctx, matchID)
	if err != nil {
		return false, err
	}
	return timing.ExceededThreshold(state.TimeoutRecords, playerID, threshold), nil
}

// Summon places a monster from the turn player's hand onto their board
// and opens the summon response window.
func (e *Engine) Summon(ctx context.Context, matchID, playerID, cardID string, position Position) (*MatchState, error) {
	return e.update(ctx, matchID, func(s *MatchState) error {
		if s.Over {
			return violationf(CodeMatchOver, "match %s is over", matchID)
		}
		if s.TurnPlayerID != playerID {
			return violationf(CodeNotTurnPlayer, "it is not %s's turn", playerID)
		}
		if s.Window != nil {
			return violationf(CodeActivationIllegal, "cannot summon while a response window is open")
		}

		p := s.Player(playerID)
		var card *CardInstance
		for _, c := range p.Hand {
			if c.ID == cardID {
				card = c
				break
			}
		}
		if card == nil {
			return validationf(CodeInvalidTarget, "card %s is not in %s's hand", cardID, playerID)
		}
		if card.Type != cards.TypeMonster {
			return violationf(CodeActivationIllegal, "card %s is not a monster", cardID)
		}
		if len(p.Board) >= BoardSize {
			return violationf(CodeActivationIllegal, "player %s has no free monster zone", playerID)
		}
		if position != PositionAttack && position != PositionDefense {
			position = PositionAttack
		}

		p.removeFromZone(card)
		card.Zone = ZoneBoard
		card.FaceUp = true
		card.Position = position
		card.TurnPlaced = s.Turn
		p.Board = append(p.Board, card)

		e.openWindow(s, WindowSummon, playerID, nil)
		s.recordPriority(playerID, "summon", cardID, e.clock())
		s.emit(events.TypeSummon, playerID, cardID, map[string]string{
			"position": string(position),
		})
		return nil
	})
}

// EndTurn opens the end-of-turn window; once both players pass it, the
// turn finalizes.
func (e *Engine) EndTurn(ctx context.Context, matchID, playerID string) (*MatchState, error) {
	return e.update(ctx, matchID, func(s *MatchState) error {
		if s.Over {
			return violationf(CodeMatchOver, "match %s is over", matchID)
		}
		if s.TurnPlayerID != playerID {
			return violationf(CodeNotTurnPlayer, "it is not %s's turn", playerID)
		}
		if s.Window != nil {
			return violationf(CodeActivationIllegal, "a response window is still open")
		}
		e.openWindow(s, WindowEndPhase, playerID, nil)
		return nil
	})
}

// Forfeit concedes the match.
func (e *Engine) Forfeit(ctx context.Context, matchID, playerID string) (*MatchState, error) {
	return e.update(ctx, matchID, func(s *MatchState) error {
		if s.Over {
			return violationf(CodeMatchOver, "match %s is already over", matchID)
		}
		if !s.HasPlayer(playerID) {
			return validationf(CodeInvalidTarget, "player %s is not in match %s", playerID, matchID)
		}
		s.endMatch(s.Opponent(playerID), "forfeit")
		return nil
	})
}

// finalizeTurn rotates the turn to the opponent: battle flags clear,
// stale pending state clears and the incoming turn player draws.
func (e *Engine) finalizeTurn(s *MatchState) {
	for _, p := range s.Players {
		for _, monster := range p.Board {
			monster.AttackedThisTurn = false
		}
	}
	s.PendingAction = nil
	s.PendingReplay = nil

	previous := s.TurnPlayerID
	s.Turn++
	s.TurnPlayerID = s.Opponent(previous)
	s.emit(events.TypeTurnEnded, previous, "", map[string]string{
		"turn": fmt.Sprintf("%d", s.Turn),
	})

	mut := &stateMutator{state: s, catalog: e.catalog}
	if err := mut.Draw(s.TurnPlayerID, 1); err != nil {
		e.logger.Info("turn draw failed",
			zap.String("match_id", s.MatchID),
			zap.String("player_id", s.TurnPlayerID),
			zap.Error(err),
		)
	}
}

// leaderByLifePoints picks the winner when the match clock runs out;
// empty on a tie.
func (e *Engine) leaderByLifePoints(s *MatchState) string {
	a, b := s.Players[0], s.Players[1]
	switch {
	case a.LifePoints > b.LifePoints:
		return a.PlayerID
	case b.LifePoints > a.LifePoints:
		return b.PlayerID
	default:
		return ""
	}
}
