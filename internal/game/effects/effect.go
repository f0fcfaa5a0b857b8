package effects

// Kind tags a single effect in a parsed ability. Dispatch over kinds is
// exhaustive: unknown tags are rejected at parse time, never at
// execution time.
type Kind string

const (
	KindDraw        Kind = "draw"
	KindDestroy     Kind = "destroy"
	KindDamage      Kind = "damage"
	KindGainLP      Kind = "gain_lp"
	KindModifyATK   Kind = "modify_atk"
	KindModifyDEF   Kind = "modify_def"
	KindSummon      Kind = "summon"
	KindSearch      Kind = "search"
	KindNegate      Kind = "negate"
	KindDiscard     Kind = "discard"
	KindMill        Kind = "mill"
	KindToHand      Kind = "to_hand"
	KindToGraveyard Kind = "to_graveyard"
	KindBanish      Kind = "banish"

	// Passive grants. They change what other rules permit rather than
	// mutating state, so executing them is a deliberate no-op.
	KindDirectAttack Kind = "direct_attack"
	KindMultiAttack  Kind = "multi_attack"
)

var knownKinds = map[Kind]struct{}{
	KindDraw:         {},
	KindDestroy:      {},
	KindDamage:       {},
	KindGainLP:       {},
	KindModifyATK:    {},
	KindModifyDEF:    {},
	KindSummon:       {},
	KindSearch:       {},
	KindNegate:       {},
	KindDiscard:      {},
	KindMill:         {},
	KindToHand:       {},
	KindToGraveyard:  {},
	KindBanish:       {},
	KindDirectAttack: {},
	KindMultiAttack:  {},
}

// targetedKinds apply to each supplied target independently.
var targetedKinds = map[Kind]struct{}{
	KindDestroy:     {},
	KindModifyATK:   {},
	KindModifyDEF:   {},
	KindToHand:      {},
	KindToGraveyard: {},
	KindBanish:      {},
	KindNegate:      {},
}

// passiveKinds execute as no-ops; the grant they describe is consulted
// elsewhere (battle rules).
var passiveKinds = map[Kind]struct{}{
	KindDirectAttack: {},
	KindMultiAttack:  {},
}

// Effect is one step of a parsed ability.
type Effect struct {
	Kind   Kind   `json:"kind"`
	Amount int    `json:"amount,omitempty"`
	CardID string `json:"card_id,omitempty"`
}

// Targeted reports whether the effect applies to supplied targets.
func (e Effect) Targeted() bool {
	_, ok := targetedKinds[e.Kind]
	return ok
}

// Passive reports whether the effect is a declarative grant with no
// state mutation.
func (e Effect) Passive() bool {
	_, ok := passiveKinds[e.Kind]
	return ok
}

// Ability is the canonical structured form of a card ability: an ordered
// list of effects plus activation restrictions.
type Ability struct {
	OncePerTurn bool     `json:"once_per_turn,omitempty"`
	Effects     []Effect `json:"effects"`
}

// EffectResult reports the outcome of one effect (or one target of a
// multi-target effect). Failures are values, not errors: a failed step
// never aborts the remaining steps.
type EffectResult struct {
	Kind     Kind   `json:"kind"`
	TargetID string `json:"target_id,omitempty"`
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
}

// Result is the outcome of executing a whole ability.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Steps   []EffectResult `json:"steps,omitempty"`
}

// Partial reports whether some but not all steps succeeded.
func (r Result) Partial() bool {
	if len(r.Steps) == 0 {
		return false
	}
	succeeded := 0
	for _, s := range r.Steps {
		if s.Success {
			succeeded++
		}
	}
	return succeeded > 0 && succeeded < len(r.Steps)
}
