package effects

import (
	"fmt"

	"go.uber.org/zap"
)

// maxCascadeDepth bounds recursive on-destroy trigger execution.
const maxCascadeDepth = 10

// DestroyedCard describes a card removed by a destroy effect, carrying
// its raw on-destroy ability so the executor can cascade it.
type DestroyedCard struct {
	CardID    string
	OwnerID   string
	OnDestroy any
}

// Mutator is the surface the executor needs to apply effects to match
// state. The engine implements it on the live aggregate, so every call
// observes the latest state, including mutations made by earlier steps
// of the same resolution.
type Mutator interface {
	OncePerTurnUsed(cardID string) bool
	MarkOncePerTurn(cardID string)
	CardProtected(cardID string) bool
	ControllerOf(cardID string) (string, bool)
	Opponent(playerID string) string

	Draw(playerID string, count int) error
	DealDamage(playerID string, amount int) error
	GainLife(playerID string, amount int) error
	ModifyATK(cardID string, delta int) error
	ModifyDEF(cardID string, delta int) error
	Destroy(cardID string) (DestroyedCard, error)
	SpecialSummon(playerID, cardID string) error
	Search(playerID, cardDefID string) error
	NegateChainLink(cardID string) error
	Discard(playerID string, count int) error
	Mill(playerID string, count int) error
	ReturnToHand(cardID string) error
	SendToGraveyard(cardID string) error
	Banish(cardID string) error
}

// Executor applies parsed abilities to match state. It enforces
// once-per-turn restrictions and target protection, dispatches each
// effect kind to its handler, and cascades on-destroy triggers.
type Executor struct {
	parser   *Parser
	logger   *zap.Logger
	handlers map[Kind]handlerFunc
}

// handlerFunc applies a non-targeted effect for the activating player.
type handlerFunc func(m Mutator, effect Effect, playerID string, targets []string) error

func NewExecutor(parser *Parser, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{parser: parser, logger: logger}
	e.handlers = map[Kind]handlerFunc{
		KindDraw:    e.handleDraw,
		KindDamage:  e.handleDamage,
		KindGainLP:  e.handleGainLP,
		KindSummon:  e.handleSummon,
		KindSearch:  e.handleSearch,
		KindDiscard: e.handleDiscard,
		KindMill:    e.handleMill,
	}
	return e
}

// Execute applies one parsed ability on behalf of playerID, activated
// from sourceCardID against the supplied targets. A nil ability is a
// tolerated no-op. Failures surface in the Result, never as panics or
// aborted remaining steps.
func (e *Executor) Execute(m Mutator, ability *Ability, playerID, sourceCardID string, targets []string) Result {
	return e.execute(m, ability, playerID, sourceCardID, targets, 0)
}

func (e *Executor) execute(m Mutator, ability *Ability, playerID, sourceCardID string, targets []string, depth int) Result {
	if ability == nil {
		e.logger.Debug("skipping unparsed ability",
			zap.String("card_id", sourceCardID),
			zap.String("player_id", playerID),
		)
		return Result{Success: true, Message: "no executable effect"}
	}
	if len(ability.Effects) == 0 {
		return Result{Success: false, Message: "ability has no effects"}
	}
	if depth >= maxCascadeDepth {
		e.logger.Warn("destruction cascade depth exceeded",
			zap.String("card_id", sourceCardID),
			zap.Int("depth", depth),
		)
		return Result{Success: false, Message: "cascade depth limit reached"}
	}

	if ability.OncePerTurn {
		if m.OncePerTurnUsed(sourceCardID) {
			return Result{Success: false, Message: fmt.Sprintf("once-per-turn effect of %s already used this turn", sourceCardID)}
		}
		m.MarkOncePerTurn(sourceCardID)
	}

	result := Result{Success: true}
	for _, effect := range ability.Effects {
		steps := e.applyEffect(m, effect, playerID, targets, depth)
		result.Steps = append(result.Steps, steps...)
		for _, s := range steps {
			if !s.Success {
				result.Success = false
			}
		}
	}

	if !result.Success {
		if result.Partial() {
			result.Message = "some effects failed"
		} else {
			result.Message = "all effects failed"
		}
	}
	return result
}

// applyEffect runs a single effect. Targeted effects apply to each
// target sequentially and independently; one failed target never stops
// the rest.
func (e *Executor) applyEffect(m Mutator, effect Effect, playerID string, targets []string, depth int) []EffectResult {
	if effect.Passive() {
		return []EffectResult{{Kind: effect.Kind, Success: true, Message: "passive grant"}}
	}

	if effect.Targeted() {
		if len(targets) == 0 && effect.CardID != "" {
			// A fixed target printed on the effect itself; on-destroy
			// triggers rely on this since they run without supplied
			// targets.
			targets = []string{effect.CardID}
		}
		if len(targets) == 0 {
			return []EffectResult{{Kind: effect.Kind, Success: false, Message: "effect requires at least one target"}}
		}
		results := make([]EffectResult, 0, len(targets))
		for _, target := range targets {
			results = append(results, e.applyToTarget(m, effect, playerID, target, depth))
		}
		return results
	}

	handler, ok := e.handlers[effect.Kind]
	if !ok {
		return []EffectResult{{Kind: effect.Kind, Success: false, Message: fmt.Sprintf("no handler for effect kind %q", effect.Kind)}}
	}
	if err := handler(m, effect, playerID, targets); err != nil {
		return []EffectResult{{Kind: effect.Kind, Success: false, Message: err.Error()}}
	}
	return []EffectResult{{Kind: effect.Kind, Success: true}}
}

func (e *Executor) applyToTarget(m Mutator, effect Effect, playerID, targetID string, depth int) EffectResult {
	step := EffectResult{Kind: effect.Kind, TargetID: targetID}

	if _, ok := m.ControllerOf(targetID); !ok && effect.Kind != KindNegate {
		step.Message = fmt.Sprintf("target %s no longer exists", targetID)
		return step
	}
	if m.CardProtected(targetID) {
		step.Message = fmt.Sprintf("target %s cannot be targeted", targetID)
		return step
	}

	var err error
	switch effect.Kind {
	case KindDestroy:
		err = e.destroyWithCascade(m, targetID, depth)
	case KindModifyATK:
		err = m.ModifyATK(targetID, effect.Amount)
	case KindModifyDEF:
		err = m.ModifyDEF(targetID, effect.Amount)
	case KindToHand:
		err = m.ReturnToHand(targetID)
	case KindToGraveyard:
		err = m.SendToGraveyard(targetID)
	case KindBanish:
		err = m.Banish(targetID)
	case KindNegate:
		err = m.NegateChainLink(targetID)
	default:
		err = fmt.Errorf("effect kind %q is not targetable", effect.Kind)
	}

	if err != nil {
		step.Message = err.Error()
		return step
	}
	step.Success = true
	return step
}

// Destroy removes a card through the mutator and runs any on-destroy
// trigger it carries. Battle damage uses this so combat destruction
// cascades exactly like effect destruction.
func (e *Executor) Destroy(m Mutator, cardID string) error {
	return e.destroyWithCascade(m, cardID, 0)
}

// destroyWithCascade destroys a card and, when the card carries an
// on-destroy trigger, parses and executes that trigger against the
// now-current state. Each cascade level re-reads through the mutator,
// so a chain of destructions never acts on stale references.
func (e *Executor) destroyWithCascade(m Mutator, cardID string, depth int) error {
	destroyed, err := m.Destroy(cardID)
	if err != nil {
		return err
	}
	if destroyed.OnDestroy == nil {
		return nil
	}

	trigger, parseErr := e.parser.ParseAbility(destroyed.OnDestroy)
	if parseErr != nil {
		e.logger.Warn("malformed on-destroy trigger",
			zap.String("card_id", destroyed.CardID),
			zap.Error(parseErr),
		)
		return nil
	}
	if trigger == nil {
		return nil
	}

	cascade := e.execute(m, trigger, destroyed.OwnerID, destroyed.CardID, nil, depth+1)
	if !cascade.Success {
		e.logger.Info("on-destroy trigger partially failed",
			zap.String("card_id", destroyed.CardID),
			zap.String("message", cascade.Message),
		)
	}
	return nil
}

func (e *Executor) handleDraw(m Mutator, effect Effect, playerID string, _ []string) error {
	if effect.Amount < 1 {
		return fmt.Errorf("draw amount must be positive, got %d", effect.Amount)
	}
	return m.Draw(playerID, effect.Amount)
}

func (e *Executor) handleDamage(m Mutator, effect Effect, playerID string, _ []string) error {
	if effect.Amount < 1 {
		return fmt.Errorf("damage amount must be positive, got %d", effect.Amount)
	}
	return m.DealDamage(m.Opponent(playerID), effect.Amount)
}

func (e *Executor) handleGainLP(m Mutator, effect Effect, playerID string, _ []string) error {
	if effect.Amount < 1 {
		return fmt.Errorf("life gain amount must be positive, got %d", effect.Amount)
	}
	return m.GainLife(playerID, effect.Amount)
}

func (e *Executor) handleSummon(m Mutator, effect Effect, playerID string, targets []string) error {
	cardID := effect.CardID
	if cardID == "" && len(targets) > 0 {
		cardID = targets[0]
	}
	if cardID == "" {
		return fmt.Errorf("summon requires a card")
	}
	return m.SpecialSummon(playerID, cardID)
}

func (e *Executor) handleSearch(m Mutator, effect Effect, playerID string, _ []string) error {
	if effect.CardID == "" {
		return fmt.Errorf("search requires a card id")
	}
	return m.Search(playerID, effect.CardID)
}

func (e *Executor) handleDiscard(m Mutator, effect Effect, playerID string, _ []string) error {
	if effect.Amount < 1 {
		return fmt.Errorf("discard amount must be positive, got %d", effect.Amount)
	}
	return m.Discard(m.Opponent(playerID), effect.Amount)
}

func (e *Executor) handleMill(m Mutator, effect Effect, playerID string, _ []string) error {
	if effect.Amount < 1 {
		return fmt.Errorf("mill amount must be positive, got %d", effect.Amount)
	}
	return m.Mill(m.Opponent(playerID), effect.Amount)
}
